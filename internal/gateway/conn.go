package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/votevoice/internal/dialogue"
	"github.com/MrWong99/votevoice/internal/screens"
	"github.com/MrWong99/votevoice/pkg/provider/stt"
	"github.com/MrWong99/votevoice/pkg/provider/tts"
)

// conn is one device connection.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	id  string

	writeMu sync.Mutex

	synth   *RemoteSynthesizer
	rec     *RemoteRecognizer
	manager *dialogue.Manager

	mu       sync.Mutex
	userID   string
	userName string
}

func newConn(srv *Server, ws *websocket.Conn, id string) *conn {
	c := &conn{srv: srv, ws: ws, id: id, manager: dialogue.NewManager()}
	c.synth = NewRemoteSynthesizer(c.send)
	c.rec = NewRemoteRecognizer(c.send)
	return c
}

// send writes one frame. Writes are serialised; each is bounded by the
// configured write timeout and survives cancellation of ctx's parent
// session.
func (c *conn) send(ctx context.Context, m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.srv.Config().WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, m)
}

func (c *conn) sendError(ctx context.Context, text string) {
	if err := c.send(ctx, Message{Type: TypeError, Text: text}); err != nil {
		slog.Debug("gateway: send error frame", "conn", c.id, "err", err)
	}
}

func (c *conn) user() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userName
}

func (c *conn) setUser(id, name string) {
	c.mu.Lock()
	c.userID, c.userName = id, name
	c.mu.Unlock()
}

// serve reads frames until the connection fails or ctx is done. The running
// session is stopped before serve returns.
func (c *conn) serve(ctx context.Context) error {
	defer c.manager.Stop()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.sendError(ctx, "binary frames are not supported")
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.sendError(ctx, "malformed frame")
			continue
		}
		c.dispatch(ctx, m)
	}
}

func (c *conn) dispatch(ctx context.Context, m Message) {
	switch m.Type {
	case TypeFocus:
		c.focus(ctx, m.Screen)
	case TypeBlur:
		c.manager.Stop()

	case TypeTTSDone:
		c.synth.Complete(m.Utterance, nil)
	case TypeTTSError:
		c.synth.Complete(m.Utterance, fmt.Errorf("gateway: device synthesis failed: %s", m.Reason))

	case TypeSTTStart:
		c.rec.Deliver(stt.Event{Kind: stt.EventStart})
	case TypeSTTResult:
		c.rec.Deliver(stt.Event{Kind: stt.EventResult, Transcript: stt.Transcript{
			Text:       m.Transcript,
			IsFinal:    m.Final,
			Confidence: m.Confidence,
		}})
	case TypeSTTEnd:
		c.rec.Deliver(stt.Event{Kind: stt.EventEnd})
	case TypeSTTError:
		c.rec.Deliver(stt.Event{Kind: stt.EventError, Err: recognizerError(m.Reason)})

	case TypeInput:
		c.provide(ctx, m.Field, m.Value)
	case TypeUpload:
		c.upload(ctx, m)

	default:
		c.sendError(ctx, fmt.Sprintf("unknown frame type %q", m.Type))
	}
}

// focus starts the voice session of screen, replacing any running one.
func (c *conn) focus(ctx context.Context, screen string) {
	userID, userName := c.user()
	script, err := screens.Build(ctx, screen, screens.Env{
		Election:  c.srv.svc,
		UserID:    userID,
		UserName:  userName,
		Suggester: c.srv.suggester,
	})
	switch {
	case errors.Is(err, screens.ErrUnknownScreen):
		// Screens without a voice flow just silence the previous one.
		c.manager.Stop()
		return
	case errors.Is(err, screens.ErrSignInRequired):
		c.manager.Stop()
		c.navigate(ctx, screens.Landing)
		return
	case err != nil:
		slog.Warn("gateway: building screen failed", "conn", c.id, "screen", screen, "err", err)
		c.manager.Stop()
		c.sendError(ctx, "Voice control is not available on this screen right now.")
		return
	}

	cfg := c.srv.Config()
	ctl := dialogue.New(c.synth, c.rec, script, dialogue.Config{
		Screen:     screen,
		MaxRetries: cfg.MaxRetries,
		Stream: stt.StreamConfig{
			Language:        cfg.Language,
			InterimResults:  cfg.InterimResults,
			MaxAlternatives: cfg.MaxAlternatives,
		},
		Voice: tts.VoiceProfile{Language: cfg.Language},
	},
		dialogue.WithMetrics(c.srv.metrics),
		dialogue.WithListener(dialogue.StateListenerFunc(func(ev dialogue.StateChange) {
			c.state(ctx, ev.Session)
		})),
		dialogue.WithNotifier(dialogue.NotifierFunc(func(text string, blocking bool) {
			if err := c.send(ctx, Message{Type: TypeNotice, Text: text, Blocking: blocking}); err != nil {
				slog.Debug("gateway: send notice", "conn", c.id, "err", err)
			}
		})),
	)
	c.manager.Start(ctx, ctl, func(out dialogue.Outcome) { c.ended(ctx, screen, out) })
}

func (c *conn) state(ctx context.Context, s dialogue.Snapshot) {
	err := c.send(ctx, Message{
		Type:      TypeState,
		Screen:    s.Screen,
		Step:      s.CurrentStepID,
		State:     s.State.String(),
		Listening: s.IsListening,
		Speaking:  s.IsSpeaking,
		Retry:     s.RetryCount,
	})
	if err != nil {
		slog.Debug("gateway: send state", "conn", c.id, "err", err)
	}
}

// ended applies a session outcome: sign-in and sign-out, then navigation.
func (c *conn) ended(ctx context.Context, screen string, out dialogue.Outcome) {
	if out.UserID != "" {
		name := ""
		if acct, err := c.srv.svc.Account(ctx, out.UserID); err == nil {
			name = acct.FullName
		} else {
			slog.Warn("gateway: loading account failed", "conn", c.id, "err", err)
		}
		c.setUser(out.UserID, name)
		slog.Info("gateway: user signed in", "conn", c.id, "user", out.UserID)
	}

	target := out.Target
	if target == screens.Logout {
		c.setUser("", "")
		slog.Info("gateway: user signed out", "conn", c.id)
		target = screens.Landing
	}

	err := c.send(ctx, Message{
		Type:    TypeEnded,
		Screen:  screen,
		Outcome: out.Kind.String(),
		Target:  target,
		Reason:  out.Reason,
	})
	if err != nil {
		slog.Debug("gateway: send ended", "conn", c.id, "err", err)
	}
	if target != "" && (out.Kind == dialogue.OutcomeNavigate || out.Kind == dialogue.OutcomeCanceled) {
		c.navigate(ctx, target)
	}
}

func (c *conn) navigate(ctx context.Context, target string) {
	if err := c.send(ctx, Message{Type: TypeNavigate, Target: target}); err != nil {
		slog.Debug("gateway: send navigate", "conn", c.id, "err", err)
	}
}

func (c *conn) provide(ctx context.Context, field, value string) {
	if field == "" {
		c.sendError(ctx, "input without field")
		return
	}
	if err := c.manager.Provide(ctx, field, value); err != nil {
		slog.Debug("gateway: input without session", "conn", c.id, "field", field, "err", err)
		c.sendError(ctx, "No voice session is active.")
	}
}

func (c *conn) upload(ctx context.Context, m Message) {
	kind, ok := screens.UploadKind(m.Field)
	if !ok {
		c.sendError(ctx, fmt.Sprintf("unknown upload field %q", m.Field))
		return
	}
	if int64(len(m.Data)) > c.srv.Config().MaxUploadBytes {
		c.sendError(ctx, "The file is too large.")
		return
	}
	url, err := c.srv.svc.Upload(ctx, kind, m.Name, m.ContentType, m.Data)
	if err != nil {
		slog.Warn("gateway: upload failed", "conn", c.id, "field", m.Field, "err", err)
		c.sendError(ctx, "The upload failed. Please try again.")
		return
	}
	if err := c.send(ctx, Message{Type: TypeUploaded, Field: m.Field, URL: url}); err != nil {
		slog.Debug("gateway: send uploaded", "conn", c.id, "err", err)
	}
	c.provide(ctx, m.Field, url)
}
