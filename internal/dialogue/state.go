package dialogue

import "time"

// State is the turn-level state of a dialogue session.
type State int

const (
	// StateIdle means no prompt is playing and nobody is listening.
	StateIdle State = iota

	// StateSpeaking means a prompt is being synthesised.
	StateSpeaking

	// StateListening means the recogniser is capturing audio.
	StateListening

	// StateProcessing means a final transcript is being classified and
	// dispatched, including any business action it triggers.
	StateProcessing

	// StateFallback is terminal: voice has been abandoned for this screen and
	// the user must continue with the on-screen controls.
	StateFallback

	// StateClosed is terminal: all audio has been stopped.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeaking:
		return "SPEAKING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateFallback:
		return "FALLBACK"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions lists the allowed successor states. Listening is only
// reachable from Speaking, after the synthesiser reported completion.
var validTransitions = map[State][]State{
	StateIdle:       {StateSpeaking, StateFallback, StateClosed},
	StateSpeaking:   {StateListening, StateIdle, StateClosed},
	StateListening:  {StateProcessing, StateIdle, StateFallback, StateClosed},
	StateProcessing: {StateSpeaking, StateIdle, StateFallback, StateClosed},
	StateFallback:   {StateClosed},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// StateChange represents a state transition event.
type StateChange struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string

	// Session is the session snapshot taken right after the transition.
	Session Snapshot
}

// StateListener observes state changes. Listeners run on the session's event
// loop and must return quickly.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to [StateListener].
type StateListenerFunc func(StateChange)

// OnStateChange calls f(event).
func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

// Notifier surfaces visual notices next to the spoken ones.
type Notifier interface {
	// Notice shows text to the user. Blocking notices must be acknowledged
	// before the user can continue.
	Notice(text string, blocking bool)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(text string, blocking bool)

// Notice calls f(text, blocking).
func (f NotifierFunc) Notice(text string, blocking bool) { f(text, blocking) }
