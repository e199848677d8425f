package dialogue

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the live voice interaction for one screen instance. The event
// loop of its [Controller] is the only writer; readers use Snapshot.
type Session struct {
	mu sync.RWMutex

	id     string
	screen string

	state               State
	currentStepID       string
	isListening         bool
	isSpeaking          bool
	pendingConfirmation string
	hasPending          bool
	retryCount          int
}

func newSession(screen string) *Session {
	return &Session{id: uuid.NewString(), screen: screen, currentStepID: "idle"}
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	ID            string
	Screen        string
	State         State
	CurrentStepID string
	IsListening   bool
	IsSpeaking    bool

	// PendingConfirmation is the captured value awaiting yes/no; it is only
	// meaningful when HasPending is true.
	PendingConfirmation string
	HasPending          bool

	RetryCount int
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the session fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:                  s.id,
		Screen:              s.screen,
		State:               s.state,
		CurrentStepID:       s.currentStepID,
		IsListening:         s.isListening,
		IsSpeaking:          s.isSpeaking,
		PendingConfirmation: s.pendingConfirmation,
		HasPending:          s.hasPending,
		RetryCount:          s.retryCount,
	}
}

func (s *Session) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setSpeaking(v bool) {
	s.mu.Lock()
	s.isSpeaking = v
	s.mu.Unlock()
}

func (s *Session) setListening(v bool) {
	s.mu.Lock()
	s.isListening = v
	s.mu.Unlock()
}

func (s *Session) setStep(id, pending string, hasPending bool) {
	s.mu.Lock()
	s.currentStepID = id
	s.pendingConfirmation = pending
	s.hasPending = hasPending
	s.mu.Unlock()
}

func (s *Session) incRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	return s.retryCount
}

func (s *Session) resetRetry() {
	s.mu.Lock()
	s.retryCount = 0
	s.mu.Unlock()
}
