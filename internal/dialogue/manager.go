package dialogue

import (
	"context"
	"log/slog"
	"sync"
)

// Manager keeps at most one [Controller] running. Starting a new one stops
// the previous one and waits for its audio to be released, so a late event
// from a screen the user has left can never drive the new screen.
//
// All methods are safe for concurrent use.
type Manager struct {
	startMu sync.Mutex

	mu      sync.Mutex
	current *Controller
}

// NewManager creates an empty Manager.
func NewManager() *Manager { return &Manager{} }

// Start stops the current controller, if any, and runs c in the background.
// done, when non-nil, is called with the outcome once c has finished.
func (m *Manager) Start(ctx context.Context, c *Controller, done func(Outcome)) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if prev := m.Current(); prev != nil {
		prev.Stop()
		<-prev.Done()
		slog.Debug("dialogue: previous session stopped", "session", prev.Session().ID())
	}

	m.mu.Lock()
	m.current = c
	m.mu.Unlock()

	go func() {
		out := c.Run(ctx)
		m.mu.Lock()
		if m.current == c {
			m.current = nil
		}
		m.mu.Unlock()
		if done != nil {
			done(out)
		}
	}()
}

// Current returns the running controller, or nil.
func (m *Manager) Current() *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop stops the running controller and waits for it to exit.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if c := m.Current(); c != nil {
		c.Stop()
		<-c.Done()
	}
}

// Provide forwards a non-voice input to the running controller.
func (m *Manager) Provide(ctx context.Context, field, value string) error {
	c := m.Current()
	if c == nil {
		return ErrSessionClosed
	}
	return c.Provide(ctx, field, value)
}
