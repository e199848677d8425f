// Package tts defines the Provider interface for speech synthesis backends.
//
// A synthesis provider speaks one prompt at a time (in production the device's
// OS speech engine, reached through the gateway). Speak starts speaking and
// returns an Utterance whose Done channel delivers the outcome: nil when the
// prompt finished, or the synthesis error. Stop interrupts whatever is playing.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrStopped is delivered on Done when an utterance was interrupted by Stop.
// Implementations may also drop interrupted utterances without delivering
// anything; callers must not wait on an utterance after calling Stop.
var ErrStopped = errors.New("tts: utterance stopped")

// Utterance is one prompt handed to the synthesiser.
type Utterance interface {
	// ID returns the identifier assigned to this utterance. Completion signals
	// that carry a different ID belong to a stale utterance.
	ID() string

	// Done returns a channel that receives exactly one value when the
	// utterance finishes: nil on success, otherwise the synthesis error.
	Done() <-chan error
}

// Provider is the abstraction over any synthesis backend.
type Provider interface {
	// Speak begins speaking text with the given voice. It returns once the
	// request has been accepted, not when speech completes. A non-nil error
	// means nothing will be spoken.
	Speak(ctx context.Context, text string, voice VoiceProfile) (Utterance, error)

	// Stop interrupts the current utterance. It may be called at any time and
	// is a no-op when nothing is playing.
	Stop() error
}
