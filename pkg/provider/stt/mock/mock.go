// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script what the recogniser "hears" on successive listening
// turns and to verify how many turns were opened. Use Session to inspect how
// often a single turn was closed.
//
// Example:
//
//	p := &mock.Provider{Turns: [][]stt.Event{
//	    {mock.Final("vice president")},
//	    {{Kind: stt.EventEnd}},
//	}}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/votevoice/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Turns queues the events for successive listening turns. Each StartStream
	// call pops the first entry and returns a Session pre-loaded with it. When
	// Turns is empty the returned Session stays silent until events are pushed
	// with Session.Emit.
	Turns [][]stt.Event

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every Session handed out, in order.
	Sessions []*Session
}

// StartStream records the call and returns the next scripted Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	var events []stt.Event
	if len(p.Turns) > 0 {
		events = p.Turns[0]
		p.Turns = p.Turns[1:]
	}
	s := NewSession(events...)
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// StartCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Last returns the most recent Session, or nil. Thread-safe.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. It is buffered so scripted
	// events can be queued before the consumer starts reading.
	EventsCh chan stt.Event

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with the given events already queued.
func NewSession(events ...stt.Event) *Session {
	ch := make(chan stt.Event, len(events)+16)
	for _, ev := range events {
		ch <- ev
	}
	return &Session{EventsCh: ch}
}

// Events returns EventsCh.
func (s *Session) Events() <-chan stt.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Emit queues ev without blocking. It reports false if the buffer is full.
func (s *Session) Emit(ev stt.Event) bool {
	select {
	case s.EventsCh <- ev:
		return true
	default:
		return false
	}
}

// Close records the call and returns CloseErr. The events channel is left
// open so late scripted events do not panic.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// Final returns a final result event carrying text.
func Final(text string) stt.Event {
	return stt.Event{Kind: stt.EventResult, Transcript: stt.Transcript{Text: text, IsFinal: true, Confidence: 0.9}}
}

// Partial returns an interim result event carrying text.
func Partial(text string) stt.Event {
	return stt.Event{Kind: stt.EventResult, Transcript: stt.Transcript{Text: text}}
}

// End returns an end-of-listening event.
func End() stt.Event {
	return stt.Event{Kind: stt.EventEnd}
}

// Error returns an error event carrying err.
func Error(err error) stt.Event {
	return stt.Event{Kind: stt.EventError, Err: err}
}
