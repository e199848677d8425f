package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/votevoice/internal/admin"
	"github.com/MrWong99/votevoice/internal/app"
	"github.com/MrWong99/votevoice/internal/config"
	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/pkg/store/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.AdminToken = "s3cret"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Blob.Dir = t.TempDir()
	cfg.Blob.BaseURL = "http://vote.test/files"
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetricsHandler(http.NotFoundHandler())}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_Routes(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	h := a.Handler()

	tests := []struct {
		path   string
		header []string
		want   int
	}{
		{"/healthz", nil, http.StatusOK},
		{"/readyz", nil, http.StatusOK},
		{"/v1/admin/candidates", nil, http.StatusUnauthorized},
		{"/v1/admin/candidates", []string{admin.TokenHeader, "s3cret"}, http.StatusOK},
		{"/files/evidence/missing.mp4", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path, tt.header...)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
		if rec.Header().Get("X-Correlation-ID") == "" {
			t.Errorf("GET %s has no correlation ID", tt.path)
		}
	}

	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(get(t, h, "/readyz").Body).Decode(&ready); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if ready.Checks["store"] != "ok" || ready.Checks["store_circuit"] != "ok" {
		t.Errorf("readyz checks = %v", ready.Checks)
	}
}

func TestNew_ServesUploads(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	url, err := a.Election().Upload(context.Background(), election.UploadEvidence, "clip.txt", "text/plain", []byte("evidence!"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "http://vote.test/files/evidence/") {
		t.Fatalf("url = %q", url)
	}
	rec := get(t, a.Handler(), strings.TrimPrefix(url, "http://vote.test"))
	if rec.Code != http.StatusOK || rec.Body.String() != "evidence!" {
		t.Errorf("GET upload = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNew_InjectedStore(t *testing.T) {
	t.Parallel()

	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.BackendPostgres, DSN: "postgres://unreachable/db"}

	a := newApp(t, cfg, app.WithStore(st), app.WithRegistry(config.NewRegistry()))
	if _, err := a.Election().CreateAccount(context.Background(), election.NewAccount{
		FullName: "Jane Doe", Email: "jane@example.com", RegNumber: "CS1", Department: "Computing", Password: "secret123",
	}); err != nil {
		t.Fatalf("CreateAccount through injected store: %v", err)
	}
	docs, err := st.List(context.Background(), election.Users)
	if err != nil || len(docs) != 1 {
		t.Errorf("users in injected store = %d, %v", len(docs), err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), app.WithRegistry(config.NewRegistry()))
	if !errors.Is(err, config.ErrUnknownBackend) {
		t.Errorf("New = %v, want ErrUnknownBackend", err)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	env := func(k string) (string, bool) {
		if k == config.EnvAdminEmail {
			return "chair@uni.ac.ke", true
		}
		return "", false
	}
	cfg := testConfig(t)
	if err := config.ApplyEnv(cfg, env); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	var level slog.LevelVar
	a := newApp(t, cfg, app.WithLogLevel(&level), app.WithEnv(env))

	next := testConfig(t)
	next.Blob = cfg.Blob
	next.Dialogue.MaxRetries = 4
	next.Dialogue.Language = "sw-KE"
	next.Server.LogLevel = config.LogDebug
	a.Reload(cfg, next)

	if got := a.Gateway().Config(); got.MaxRetries != 4 || got.Language != "sw-KE" {
		t.Errorf("gateway config = %+v", got)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if next.Election.AdminEmail != "chair@uni.ac.ke" {
		t.Errorf("env override not re-applied: %q", next.Election.AdminEmail)
	}

	bad := testConfig(t)
	bad.Dialogue.MaxRetries = 4
	bad.Dialogue.MaxAlternatives = 0
	a.Reload(next, bad)
	if got := a.Gateway().Config(); got.MaxRetries != 4 || got.MaxAlternatives != 1 {
		t.Errorf("invalid reload applied: %+v", got)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"connections":0`) {
		t.Errorf("healthz = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BackgroundFailure(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	boom := errors.New("watcher died")
	err := a.Run(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}
