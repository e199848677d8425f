package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/votevoice/pkg/store"
)

// listenRetry is the pause before the listener reconnects.
const listenRetry = time.Second

// listen feeds the hub from NotifyChannel until ctx is cancelled,
// reconnecting after connection failures.
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("postgres store: change listener interrupted", "err", err)
		select {
		case <-time.After(listenRetry):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	slog.Debug("postgres store: listening for changes", "channel", NotifyChannel)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c, err := s.resolve(ctx, []byte(n.Payload))
		if err != nil {
			slog.Warn("postgres store: dropped change notice", "payload", n.Payload, "err", err)
			continue
		}
		s.hub.Publish(c)
	}
}

// resolve turns a notification payload into a Change, re-reading the
// document for additions and modifications.
func (s *Store) resolve(ctx context.Context, payload []byte) (store.Change, error) {
	var n notice
	if err := json.Unmarshal(payload, &n); err != nil {
		return store.Change{}, err
	}
	c := store.Change{Collection: n.Collection, Doc: store.Document{ID: n.ID}}
	switch n.Kind {
	case store.Removed.String():
		c.Kind = store.Removed
		return c, nil
	case store.Added.String():
		c.Kind = store.Added
	case store.Modified.String():
		c.Kind = store.Modified
	default:
		return store.Change{}, fmt.Errorf("unknown kind %q", n.Kind)
	}
	// A document deleted before it is read yields ErrNotFound; its removal
	// notice follows.
	d, err := s.Get(ctx, n.Collection, n.ID)
	if err != nil {
		return store.Change{}, err
	}
	c.Doc = d
	return c, nil
}
