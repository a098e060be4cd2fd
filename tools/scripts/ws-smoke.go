// Package main provides a CI-friendly smoke test for the WhatsOTP event stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - snapshot delivered first, before any other event
//   - every received envelope is structurally valid
//
// With -follow it keeps printing events until interrupted, which makes it a
// handy terminal dashboard while pairing a session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "whatsotp.events.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		timeout = flag.Duration("timeout", 7*time.Second, "Timeout waiting for the initial snapshot")
		follow  = flag.Bool("follow", false, "Keep printing events until interrupted")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn := mustConnect(root, *wsURL, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	inbox := make(chan v1.Envelope, 64)
	errCh := make(chan error, 1)
	go readLoop(conn, inbox, errCh)

	snap := mustReadSnapshot(root, inbox, errCh, *timeout)

	var p v1.SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &p); err != nil {
		fatalf("unmarshal snapshot payload: %v", err)
	}
	if strings.TrimSpace(p.State) == "" {
		fatalf("snapshot missing state")
	}

	fmt.Printf("OK: snapshot state=%s has_credential=%t\n", p.State, p.HasCredential)

	if !*follow {
		return
	}

	for {
		select {
		case <-root.Done():
			return
		case err := <-errCh:
			if err != nil {
				fatalf("connection error: %v", err)
			}
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			fmt.Printf("%s %s %s\n", env.TS.Format(time.RFC3339), env.Type, string(env.Payload))
		}
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	if resp != nil {
		got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
		if got != "" && got != defaultSubprotocol {
			fatalf("subprotocol mismatch: got=%q want=%q", got, defaultSubprotocol)
		}
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func readLoop(conn *websocket.Conn, inbox chan<- v1.Envelope, errCh chan<- error) {
	defer close(inbox)

	for {
		mt, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}

		if mt != websocket.MessageText {
			select {
			case errCh <- fmt.Errorf("unsupported message type: %v", mt):
			default:
			}
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			select {
			case errCh <- fmt.Errorf("bad json: %w", err):
			default:
			}
			return
		}
		if err := env.Validate(); err != nil {
			select {
			case errCh <- fmt.Errorf("bad envelope: %w", err):
			default:
			}
			return
		}

		inbox <- env
	}
}

func mustReadSnapshot(parent context.Context, inbox <-chan v1.Envelope, errCh <-chan error, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for snapshot: %v", ctx.Err())
	case err := <-errCh:
		fatalf("connection error while waiting for snapshot: %v", err)
	case env, ok := <-inbox:
		if !ok {
			fatalf("connection closed while waiting for snapshot")
		}
		if env.Type != v1.TypeSnapshot {
			fatalf("first envelope must be snapshot, got %q", env.Type)
		}
		return env
	}
	panic("unreachable")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
