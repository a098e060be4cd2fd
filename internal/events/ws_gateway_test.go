package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
)

func newOriginGateway(required bool, allowed []string) *Gateway {
	return NewGateway(discardLogger(), NewHub(discardLogger(), nil, 8), GatewayConfig{
		OriginRequired: required,
		AllowedOrigins: allowed,
	})
}

func readEnvelope(ctx context.Context, t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type=%v want text", typ)
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("invalid envelope on the wire: %v", err)
	}
	return env
}

func TestGatewayPushesSnapshotThenEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger(), func() v1.SnapshotPayload {
		return v1.SnapshotPayload{State: "online", HasCredential: true}
	}, 8)
	gw := NewGateway(discardLogger(), hub, GatewayConfig{})

	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{"whatsotp.events.v1"},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if got := conn.Subprotocol(); got != "whatsotp.events.v1" {
		t.Fatalf("subprotocol=%q want=%q", got, "whatsotp.events.v1")
	}

	env := readEnvelope(ctx, t, conn)
	if env.Type != v1.TypeSnapshot {
		t.Fatalf("first envelope type=%q want=%q", env.Type, v1.TypeSnapshot)
	}
	var snap v1.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.State != "online" || !snap.HasCredential {
		t.Fatalf("snapshot payload=%+v", snap)
	}

	// Reading the snapshot proves the subscription was registered, so this
	// publish cannot race the subscribe.
	hub.Publish(NewEnvelope(v1.TypeState, v1.StatePayload{State: "reconnecting", Reason: "conflict", Attempt: 2}))

	env = readEnvelope(ctx, t, conn)
	if env.Type != v1.TypeState {
		t.Fatalf("second envelope type=%q want=%q", env.Type, v1.TypeState)
	}
	var st v1.StatePayload
	if err := json.Unmarshal(env.Payload, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if st.State != "reconnecting" || st.Reason != "conflict" || st.Attempt != 2 {
		t.Fatalf("state payload=%+v", st)
	}
}

func TestGatewayUnsubscribesOnDisconnect(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger(), func() v1.SnapshotPayload {
		return v1.SnapshotPayload{State: "connecting"}
	}, 8)
	gw := NewGateway(discardLogger(), hub, GatewayConfig{})

	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	readEnvelope(ctx, t, conn)
	if n := hub.Count(); n != 1 {
		t.Fatalf("subscribers after connect: got=%d want=1", n)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber not removed after disconnect: count=%d", hub.Count())
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		required bool
		allowed  []string
		origin   string
		wantErr  bool
	}{
		{name: "no origin not required", origin: ""},
		{name: "no origin required", required: true, origin: "", wantErr: true},
		{name: "exact match", allowed: []string{"https://dash.example.com"}, origin: "https://dash.example.com"},
		{name: "host match different scheme", allowed: []string{"https://dash.example.com"}, origin: "http://dash.example.com"},
		{name: "host match different port", allowed: []string{"http://localhost:3000"}, origin: "http://localhost:5173"},
		{name: "wildcard honored", allowed: []string{"*"}, origin: "https://anything.example.com"},
		{name: "not in allowlist", allowed: []string{"https://dash.example.com"}, origin: "https://evil.example.com", wantErr: true},
		{name: "origin with empty allowlist", origin: "https://dash.example.com", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := newOriginGateway(tc.required, tc.allowed)
			r, err := http.NewRequest(http.MethodGet, "/ws", nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			got := g.enforceOrigin(r)
			if tc.wantErr && got == nil {
				t.Fatalf("expected rejection")
			}
			if !tc.wantErr && got != nil {
				t.Fatalf("unexpected rejection: %v", got)
			}
		})
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"https://dash.example.com", "http://localhost:3000", "*", "", "https://dash.example.com:8443"})

	want := map[string]struct{}{"dash.example.com": {}, "localhost": {}}
	if len(got) != len(want) {
		t.Fatalf("patterns=%v want hosts=%v", got, want)
	}
	for _, h := range got {
		if _, ok := want[h]; !ok {
			t.Fatalf("unexpected pattern %q in %v", h, got)
		}
	}
}
