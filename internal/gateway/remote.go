package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/votevoice/pkg/provider/stt"
	"github.com/MrWong99/votevoice/pkg/provider/tts"
)

// sendFunc writes one frame to the device.
type sendFunc func(ctx context.Context, m Message) error

// ── Synthesizer ──────────────────────────────────────────────────────────────

// RemoteSynthesizer speaks through the device's speech engine. Each Speak
// sends a speak frame with a fresh utterance ID; the utterance completes when
// the device acknowledges that ID.
type RemoteSynthesizer struct {
	send sendFunc

	mu      sync.Mutex
	current *utterance
}

var _ tts.Provider = (*RemoteSynthesizer)(nil)

// NewRemoteSynthesizer returns a synthesiser writing frames with send.
func NewRemoteSynthesizer(send sendFunc) *RemoteSynthesizer {
	return &RemoteSynthesizer{send: send}
}

type utterance struct {
	id   string
	done chan error
	once sync.Once
}

func (u *utterance) ID() string         { return u.id }
func (u *utterance) Done() <-chan error { return u.done }

func (u *utterance) finish(err error) {
	u.once.Do(func() { u.done <- err })
}

// Speak sends text to the device.
func (s *RemoteSynthesizer) Speak(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Utterance, error) {
	u := &utterance{id: uuid.NewString(), done: make(chan error, 1)}
	s.mu.Lock()
	prev := s.current
	s.current = u
	s.mu.Unlock()
	if prev != nil {
		prev.finish(tts.ErrStopped)
	}

	err := s.send(ctx, Message{Type: TypeSpeak, Utterance: u.id, Text: text, Language: voice.Language})
	if err != nil {
		s.release(u)
		return nil, fmt.Errorf("gateway: speak: %w", err)
	}
	return u, nil
}

// Stop tells the device to stop speaking. The interrupted utterance completes
// with tts.ErrStopped.
func (s *RemoteSynthesizer) Stop() error {
	s.mu.Lock()
	u := s.current
	s.current = nil
	s.mu.Unlock()
	if u == nil {
		return nil
	}
	u.finish(tts.ErrStopped)
	if err := s.send(context.Background(), Message{Type: TypeStopSpeaking}); err != nil {
		return fmt.Errorf("gateway: stop speaking: %w", err)
	}
	return nil
}

// Complete delivers the device's completion signal for utterance id. It
// reports false for a stale or unknown id.
func (s *RemoteSynthesizer) Complete(id string, err error) bool {
	s.mu.Lock()
	u := s.current
	if u == nil || u.id != id {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.mu.Unlock()
	u.finish(err)
	return true
}

func (s *RemoteSynthesizer) release(u *utterance) {
	s.mu.Lock()
	if s.current == u {
		s.current = nil
	}
	s.mu.Unlock()
}

// ── Recognizer ───────────────────────────────────────────────────────────────

// turnBuffer bounds the events queued for one listening turn.
const turnBuffer = 16

// RemoteRecognizer listens through the device's recogniser. StartStream sends
// a listen frame and the device streams its recogniser events back, which
// the connection hands to Deliver.
type RemoteRecognizer struct {
	send sendFunc

	mu      sync.Mutex
	current *turn
}

var _ stt.Provider = (*RemoteRecognizer)(nil)

// NewRemoteRecognizer returns a recogniser writing frames with send.
func NewRemoteRecognizer(send sendFunc) *RemoteRecognizer {
	return &RemoteRecognizer{send: send}
}

type turn struct {
	r      *RemoteRecognizer
	events chan stt.Event
	done   chan struct{}
	once   sync.Once
}

func (t *turn) Events() <-chan stt.Event { return t.events }

// Close ends the turn and tells the device to stop listening.
func (t *turn) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		if t.r.detach(t) {
			err = t.r.send(context.Background(), Message{Type: TypeStopListening})
		}
	})
	return err
}

func (t *turn) emit(ev stt.Event) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.events <- ev:
		return true
	default:
		slog.Warn("gateway: recognizer event dropped", "kind", ev.Kind.String())
		return false
	}
}

// StartStream opens a listening turn on the device.
func (r *RemoteRecognizer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	t := &turn{r: r, events: make(chan stt.Event, turnBuffer), done: make(chan struct{})}
	r.mu.Lock()
	prev := r.current
	r.current = t
	r.mu.Unlock()
	if prev != nil {
		prev.once.Do(func() { close(prev.done) })
	}

	maxAlt := cfg.MaxAlternatives
	if maxAlt <= 0 {
		maxAlt = 1
	}
	err := r.send(ctx, Message{
		Type:            TypeListen,
		Language:        cfg.Language,
		InterimResults:  cfg.InterimResults,
		MaxAlternatives: maxAlt,
	})
	if err != nil {
		r.detach(t)
		return nil, fmt.Errorf("gateway: listen: %w: %w", stt.ErrUnavailable, err)
	}
	return t, nil
}

// Deliver forwards a device recogniser event to the open turn. It reports
// false when no turn is open.
func (r *RemoteRecognizer) Deliver(ev stt.Event) bool {
	r.mu.Lock()
	t := r.current
	r.mu.Unlock()
	if t == nil {
		return false
	}
	return t.emit(ev)
}

// detach clears t as the current turn and reports whether it was current.
func (r *RemoteRecognizer) detach(t *turn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != t {
		return false
	}
	r.current = nil
	return true
}
