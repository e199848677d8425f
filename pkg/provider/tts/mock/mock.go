// Package mock provides a test double for the tts.Provider interface.
//
// By default every utterance completes immediately, which lets a dialogue run
// straight through to its next listening turn. Set Hold to keep utterances
// pending until the test calls Complete.
//
// Example:
//
//	p := &mock.Provider{}
//	u, _ := p.Speak(ctx, "Welcome", tts.VoiceProfile{})
//	<-u.Done() // nil
//	p.Texts()  // ["Welcome"]
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/votevoice/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Text is the prompt text.
	Text string
	// Voice is the VoiceProfile passed to Speak.
	Voice tts.VoiceProfile
	// ID is the utterance ID that was returned.
	ID string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SpeakErr, if non-nil, is returned as the error from Speak.
	SpeakErr error

	// DoneErr is delivered on every completed utterance's Done channel.
	DoneErr error

	// Hold keeps utterances pending until Complete is called.
	Hold bool

	// --- Call records ---

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	pending map[string]*Utterance
	seq     int
}

// Speak records the call and returns an utterance that is already complete
// unless Hold is set.
func (p *Provider) Speak(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Utterance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("utt-%d", p.seq)
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Ctx: ctx, Text: text, Voice: voice, ID: id})
	if p.SpeakErr != nil {
		return nil, p.SpeakErr
	}
	u := &Utterance{id: id, done: make(chan error, 1)}
	if !p.Hold {
		u.done <- p.DoneErr
		return u, nil
	}
	if p.pending == nil {
		p.pending = make(map[string]*Utterance)
	}
	p.pending[id] = u
	return u, nil
}

// Stop records the call. Pending utterances are dropped without a signal.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCallCount++
	p.pending = nil
	return nil
}

// Complete finishes the pending utterance id with err. It reports false if no
// such utterance is pending.
func (p *Provider) Complete(id string, err error) bool {
	p.mu.Lock()
	u, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	u.done <- err
	return true
}

// Texts returns the text of every Speak call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SpeakCalls))
	for i, c := range p.SpeakCalls {
		out[i] = c.Text
	}
	return out
}

// LastID returns the ID of the most recent utterance, or "". Thread-safe.
func (p *Provider) LastID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.SpeakCalls) == 0 {
		return ""
	}
	return p.SpeakCalls[len(p.SpeakCalls)-1].ID
}

// Stops returns StopCallCount. Thread-safe.
func (p *Provider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StopCallCount
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = nil
	p.StopCallCount = 0
	p.pending = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Utterance is the mock tts.Utterance.
type Utterance struct {
	id   string
	done chan error
}

// ID returns the utterance ID.
func (u *Utterance) ID() string { return u.id }

// Done returns the completion channel.
func (u *Utterance) Done() <-chan error { return u.done }
