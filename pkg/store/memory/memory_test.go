package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/votevoice/pkg/store"
	"github.com/MrWong99/votevoice/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Set(ctx, "users", "u1", store.Fields{"name": "Jane"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d, _ := s.Get(ctx, "users", "u1")
	d.Fields["name"] = "changed"

	d2, _ := s.Get(ctx, "users", "u1")
	if got := d2.Fields.Text("name"); got != "Jane" {
		t.Errorf("stored value mutated through Get: %q", got)
	}
}

func TestStore_Closed(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()
	if err := s.Ping(ctx); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Ping = %v, want ErrClosed", err)
	}
	if _, err := s.Add(ctx, "users", store.Fields{}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Add = %v, want ErrClosed", err)
	}
	if _, err := s.Subscribe(ctx, "users"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Subscribe = %v, want ErrClosed", err)
	}
}
