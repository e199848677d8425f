package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/votevoice/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

type reload struct{ old, new *config.Config }

func startWatcher(t *testing.T, content string) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "votevoice.yaml")
	writeFile(t, path, content)

	changes := make(chan reload, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- reload{old, new}
	}, config.WithSettle(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path, w, changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	_, w, _ := startWatcher(t, "dialogue:\n  max_retries: 3\n")
	if got := w.Current().Dialogue.MaxRetries; got != 3 {
		t.Errorf("max_retries = %d, want 3", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "votevoice.yaml")
	writeFile(t, path, "dialogue:\n  max_retries: 42\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("NewWatcher accepted an invalid file")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path, w, changes := startWatcher(t, "dialogue:\n  max_retries: 3\n")
	writeFile(t, path, "dialogue:\n  max_retries: 4\n")

	select {
	case r := <-changes:
		if r.old.Dialogue.MaxRetries != 3 || r.new.Dialogue.MaxRetries != 4 {
			t.Errorf("reload old=%d new=%d", r.old.Dialogue.MaxRetries, r.new.Dialogue.MaxRetries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	if got := w.Current().Dialogue.MaxRetries; got != 4 {
		t.Errorf("Current max_retries = %d, want 4", got)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	path, w, changes := startWatcher(t, "dialogue:\n  max_retries: 3\n")
	writeFile(t, path, "dialogue:\n  max_retries: 99\n")
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, "dialogue:\n  max_retries: 5\n")

	select {
	case r := <-changes:
		if r.old.Dialogue.MaxRetries != 3 || r.new.Dialogue.MaxRetries != 5 {
			t.Errorf("reload old=%d new=%d", r.old.Dialogue.MaxRetries, r.new.Dialogue.MaxRetries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after valid write")
	}
	if got := w.Current().Dialogue.MaxRetries; got != 5 {
		t.Errorf("Current max_retries = %d, want 5", got)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	path, _, changes := startWatcher(t, "dialogue:\n  max_retries: 3\n")
	writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), "dialogue:\n  max_retries: 4\n")

	select {
	case r := <-changes:
		t.Errorf("unexpected reload to %d", r.new.Dialogue.MaxRetries)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_WithEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "votevoice.yaml")
	writeFile(t, path, "store:\n  backend: postgres\n")
	env := func(k string) (string, bool) {
		if k == config.EnvStoreDSN {
			return "postgres://vote@db/vote", true
		}
		return "", false
	}

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher accepted a postgres backend without a DSN")
	}
	w, err := config.NewWatcher(path, nil, config.WithEnv(env))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Store.DSN; got != "postgres://vote@db/vote" {
		t.Errorf("dsn = %q", got)
	}
}
