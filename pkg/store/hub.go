package store

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing changes.
const subscriberBuffer = 64

// Hub fans change notifications out to collection subscribers. Backends feed
// it after each committed write (or from a database notification channel).
// The zero value is not usable; call [NewHub].
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Change]struct{}
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Change]struct{})}
}

// Publish delivers c to every subscriber of c.Collection without blocking.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[c.Collection] {
		select {
		case ch <- c:
		default:
			slog.Warn("store: subscriber too slow, change dropped",
				"collection", c.Collection,
				"id", c.Doc.ID,
			)
		}
	}
}

// Subscribe streams snapshot first and then every published change of
// collection. It returns ErrClosed after Close.
//
// The subscription is registered before snapshot is called so that no change
// committed in between is lost; such a change may be reported twice.
func (h *Hub) Subscribe(ctx context.Context, collection string, snapshot func(context.Context) ([]Document, error)) (<-chan Change, error) {
	live := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[chan Change]struct{})
	}
	h.subs[collection][live] = struct{}{}
	h.mu.Unlock()

	docs, err := snapshot(ctx)
	if err != nil {
		h.remove(collection, live)
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer h.remove(collection, live)
		for _, d := range docs {
			select {
			case out <- Change{Kind: Added, Collection: collection, Doc: d}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case c, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (h *Hub) remove(collection string, ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[collection]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
	}
}

// Close ends every subscription. Further Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for coll, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
		delete(h.subs, coll)
	}
}
