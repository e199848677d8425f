// Command votevoice-console is a terminal device for the votevoice server.
// It prints every prompt, acknowledges it at once in place of a speaker,
// and sends each typed line as the final transcript of the open turn.
//
//	> vote              spoken answer
//	>                   silence (ends the turn without a result)
//	> :input password secret123
//	> :screen home      focus a screen
//	> :blur             leave the current screen
//	> :quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	flag "github.com/spf13/pflag"

	"github.com/MrWong99/votevoice/internal/gateway"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("votevoice-console", flag.ContinueOnError)
	url := fs.StringP("url", "u", "ws://localhost:8080/v1/voice", "voice WebSocket URL")
	screen := fs.StringP("screen", "s", "landing", "screen focused after connecting")
	follow := fs.Bool("follow", true, "focus the target of every navigate frame")
	verbose := fs.BoolP("verbose", "v", false, "print state frames")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ws, _, err := websocket.Dial(dctx, *url, nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "votevoice-console: dial %s: %v\n", *url, err)
		return 1
	}
	defer ws.CloseNow()
	ws.SetReadLimit(1 << 20)

	d := &device{ws: ws, follow: *follow, verbose: *verbose}
	if err := d.send(ctx, gateway.Message{Type: gateway.TypeFocus, Screen: *screen}); err != nil {
		fmt.Fprintf(os.Stderr, "votevoice-console: %v\n", err)
		return 1
	}

	readErr := make(chan error, 1)
	go func() { readErr <- d.read(ctx) }()
	go d.prompt(ctx, stop)

	select {
	case <-ctx.Done():
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
		return 0
	case err := <-readErr:
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
			return 0
		}
		fmt.Fprintf(os.Stderr, "votevoice-console: connection lost: %v\n", err)
		return 1
	}
}

type device struct {
	ws      *websocket.Conn
	follow  bool
	verbose bool
}

func (d *device) send(ctx context.Context, m gateway.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, d.ws, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// read prints server frames until the connection fails.
func (d *device) read(ctx context.Context) error {
	for {
		var m gateway.Message
		if err := wsjson.Read(ctx, d.ws, &m); err != nil {
			return err
		}
		switch m.Type {
		case gateway.TypeSpeak:
			fmt.Printf("\n  %s\n", m.Text)
			if err := d.send(ctx, gateway.Message{Type: gateway.TypeTTSDone, Utterance: m.Utterance}); err != nil {
				return err
			}
		case gateway.TypeListen:
			fmt.Print("> ")
		case gateway.TypeStopListening, gateway.TypeStopSpeaking:
		case gateway.TypeState:
			if d.verbose {
				fmt.Printf("  [%s/%s %s retry=%d]\n", m.Screen, m.Step, m.State, m.Retry)
			}
		case gateway.TypeNotice:
			fmt.Printf("  ! %s\n", m.Text)
		case gateway.TypeNavigate:
			fmt.Printf("  -> %s\n", m.Target)
			if d.follow {
				if err := d.send(ctx, gateway.Message{Type: gateway.TypeFocus, Screen: m.Target}); err != nil {
					return err
				}
			}
		case gateway.TypeEnded:
			fmt.Printf("  [session %s ended: %s %s]\n", m.Screen, m.Outcome, m.Reason)
		case gateway.TypeUploaded:
			fmt.Printf("  [%s uploaded to %s]\n", m.Field, m.URL)
		case gateway.TypeError:
			fmt.Printf("  error: %s\n", m.Text)
		default:
			fmt.Printf("  [%s]\n", m.Type)
		}
	}
}

// prompt turns stdin lines into frames until EOF or :quit.
func (d *device) prompt(ctx context.Context, quit context.CancelFunc) {
	defer quit()
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		m, ok := parseLine(in.Text())
		if !ok {
			return
		}
		if m.Type == "" {
			fmt.Println("  usage: :input <field> <value> | :screen <name> | :blur | :quit")
			continue
		}
		if err := d.send(ctx, m); err != nil {
			fmt.Fprintf(os.Stderr, "votevoice-console: %v\n", err)
			return
		}
	}
}

// parseLine maps one typed line to a frame. ok is false for :quit. A frame
// with an empty type is a usage error.
func parseLine(line string) (m gateway.Message, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		if line == "" {
			return gateway.Message{Type: gateway.TypeSTTEnd}, true
		}
		return gateway.Message{Type: gateway.TypeSTTResult, Transcript: line, Final: true, Confidence: 1}, true
	}
	cmd, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "quit", "q":
		return gateway.Message{}, false
	case "blur":
		return gateway.Message{Type: gateway.TypeBlur}, true
	case "screen":
		if rest == "" {
			return gateway.Message{}, true
		}
		return gateway.Message{Type: gateway.TypeFocus, Screen: rest}, true
	case "input":
		field, value, found := strings.Cut(rest, " ")
		if !found || field == "" {
			return gateway.Message{}, true
		}
		return gateway.Message{Type: gateway.TypeInput, Field: field, Value: strings.TrimSpace(value)}, true
	}
	return gateway.Message{}, true
}
