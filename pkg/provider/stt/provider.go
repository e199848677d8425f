// Package stt defines the Provider interface for speech recognition backends.
//
// A recognition provider wraps a speech-to-text engine (in production the
// device's own OS recogniser, reached through the gateway) and exposes a uniform
// listening interface. The central abstraction is SessionHandle: one handle
// represents one listening turn. Once opened it emits an ordered stream of
// Event values (start, interim and final results, end, error) and is closed by
// the caller when the turn is over.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is reported when the user has refused microphone
	// access. Callers must not retry the listening turn.
	ErrPermissionDenied = errors.New("stt: microphone permission denied")

	// ErrUnavailable is reported when no recogniser exists on the device or the
	// service cannot be reached at all.
	ErrUnavailable = errors.New("stt: recognizer unavailable")

	// ErrNoSpeech is reported when the recogniser stopped listening without
	// detecting any speech.
	ErrNoSpeech = errors.New("stt: no speech detected")
)

// StreamConfig describes the recognition options for a new listening turn.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider pick the device default.
	Language string

	// InterimResults requests low-latency partial results in addition to the
	// final one. Partials are informational only.
	InterimResults bool

	// MaxAlternatives caps the number of alternative transcriptions the engine
	// computes. Only the best alternative is forwarded. Zero means 1.
	MaxAlternatives int
}

// EventKind enumerates the recogniser signals.
type EventKind int

const (
	// EventStart fires when the recogniser begins capturing audio.
	EventStart EventKind = iota

	// EventResult carries a Transcript, interim or final.
	EventResult

	// EventEnd fires when the recogniser stops on its own, typically after its
	// end-of-speech detection triggers.
	EventEnd

	// EventError fires when recognition failed. Err carries the reason and may
	// wrap one of the package sentinel errors.
	EventError
)

// String returns a lowercase name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Transcript is a recognition result.
type Transcript struct {
	// Text is the transcribed speech.
	Text string

	// IsFinal reports whether the engine has committed to this result.
	IsFinal bool

	// Confidence is the engine's confidence (0.0–1.0), zero when unreported.
	Confidence float64
}

// Event is one signal from an open listening turn.
type Event struct {
	Kind       EventKind
	Transcript Transcript
	Err        error
}

// SessionHandle represents one open listening turn.
//
// Callers must call Close when the turn is over. After Close the handle emits
// no further events; the Events channel may or may not be closed, so callers
// must stop reading from it instead of waiting for it to drain.
type SessionHandle interface {
	// Events returns the ordered event stream of this turn. A closed channel
	// is equivalent to EventEnd.
	Events() <-chan Event

	// Close stops listening and releases the turn. Closing a handle that has
	// already ended or been closed is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartStream opens a new listening turn. It fails with an error wrapping
	// ErrPermissionDenied or ErrUnavailable when recognition cannot start.
	// The caller owns the returned handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
