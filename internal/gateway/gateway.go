// Package gateway connects devices to the dialogue engine over a WebSocket.
//
// The device owns the microphone and the speech engine; the server owns the
// conversation. Each connection gets a [RemoteSynthesizer] and a
// [RemoteRecognizer] that relay speak and listen requests to the device, a
// [dialogue.Manager] that keeps one voice session per focused screen, and
// the identity of the signed-in user.
//
// Frames are JSON [Message] values. A typical turn looks like:
//
//	device → {"type":"focus","screen":"home"}
//	server → {"type":"speak","utterance":"u1","text":"Welcome, Jane. ..."}
//	device → {"type":"tts_done","utterance":"u1"}
//	server → {"type":"listen","language":"en-US","max_alternatives":1}
//	device → {"type":"stt_result","transcript":"view results","final":true}
//	server → {"type":"speak","utterance":"u2","text":"Opening Results..."}
//	device → {"type":"tts_done","utterance":"u2"}
//	server → {"type":"navigate","target":"results"}
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/intent"
	"github.com/MrWong99/votevoice/internal/observe"
)

// Defaults for [Config].
const (
	DefaultLanguage       = "en-US"
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxUploadBytes = 10 << 20
)

// Config holds the per-session voice settings. A new Config applies to
// sessions started after [Server.SetConfig].
type Config struct {
	Language        string
	InterimResults  bool
	MaxAlternatives int
	MaxRetries      int

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration

	// MaxUploadBytes caps the decoded size of an upload frame.
	MaxUploadBytes int64
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = 1
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return c
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics recorder passed to every session.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from the given
// host patterns, e.g. "localhost:*".
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server is the http.Handler for the device WebSocket endpoint.
type Server struct {
	svc       *election.Service
	cfg       atomic.Pointer[Config]
	metrics   *observe.Metrics
	suggester *intent.Suggester
	origins   []string
	active    atomic.Int64

	base   context.Context
	cancel context.CancelFunc
}

// NewServer returns a gateway backed by svc.
func NewServer(svc *election.Service, cfg Config, opts ...Option) *Server {
	s := &Server{svc: svc, suggester: intent.NewSuggester()}
	s.base, s.cancel = context.WithCancel(context.Background())
	s.SetConfig(cfg)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetConfig replaces the voice settings for sessions started from now on.
func (s *Server) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg.Store(&cfg)
}

// Config returns the current voice settings.
func (s *Server) Config() Config { return *s.cfg.Load() }

// Active returns the number of open device connections.
func (s *Server) Active() int64 { return s.active.Load() }

// Close ends every open connection.
func (s *Server) Close() {
	s.cancel()
}

// ServeHTTP upgrades the request and serves the connection until the device
// disconnects or the server is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("gateway: websocket upgrade failed", "err", err)
		return
	}
	cfg := s.Config()
	// base64 inflates uploads by a third; leave room for the envelope.
	ws.SetReadLimit(cfg.MaxUploadBytes*4/3 + 64<<10)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	c := newConn(s, ws, uuid.NewString())
	s.active.Add(1)
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer func() {
		s.active.Add(-1)
		s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	}()
	slog.Info("gateway: device connected", "conn", c.id, "remote", r.RemoteAddr)

	err = c.serve(ctx)
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		slog.Info("gateway: device disconnected", "conn", c.id)
	case ctx.Err() != nil:
		slog.Info("gateway: connection closed by server", "conn", c.id)
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		slog.Warn("gateway: connection failed", "conn", c.id, "err", err)
		ws.Close(websocket.StatusInternalError, "connection error")
	}
}
