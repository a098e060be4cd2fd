package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
	"github.com/omdev04/WhatsOTP/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	events chan transport.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events: make(chan transport.Event, 8),
		closed: make(chan struct{}),
	}
}

func (h *fakeHandle) Events() <-chan transport.Event { return h.events }

func (h *fakeHandle) SendText(_ context.Context, _, _ string) error { return nil }

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		close(h.events)
	})
	return nil
}

func (h *fakeHandle) emit(t *testing.T, ev transport.Event) {
	t.Helper()
	select {
	case h.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked: %+v", ev)
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	dialErr error

	handles chan *fakeHandle
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{handles: make(chan *fakeHandle, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, _ transport.CredentialSet) (transport.Handle, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	h := newFakeHandle()
	d.handles <- h
	return h, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// next waits for the supervisor's next dial and returns its handle.
func (d *fakeDialer) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-d.handles:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
		return nil
	}
}

type memCreds struct {
	mu   sync.Mutex
	data []byte
}

func (c *memCreds) Load() (transport.CredentialSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 {
		return nil, nil
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, nil
}

func (c *memCreds) Save(cs transport.CredentialSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append([]byte(nil), cs...)
	return nil
}

func (c *memCreds) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}

func (c *memCreds) has() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data) > 0
}

type capturePub struct {
	mu   sync.Mutex
	envs []v1.Envelope
}

func (p *capturePub) Publish(env v1.Envelope) {
	p.mu.Lock()
	p.envs = append(p.envs, env)
	p.mu.Unlock()
}

func (p *capturePub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.envs))
	for i, e := range p.envs {
		out[i] = e.Type
	}
	return out
}

func testConfig() Config {
	return Config{
		MaxAttempts:   2,
		RetryInterval: 5 * time.Millisecond,
		ErrorDelayCap: 40 * time.Millisecond,
		ResetDelay:    5 * time.Millisecond,
	}
}

func waitState(t *testing.T, s *Supervisor, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %v, last=%v", want, s.Snapshot().State)
	return Snapshot{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func startSupervisor(t *testing.T, dialer transport.Dialer, creds transport.CredentialStore, pub Publisher) *Supervisor {
	t.Helper()

	s := New(discardLogger(), testConfig(), dialer, creds, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("supervisor did not stop")
		}
	})

	return s
}

func TestPairingThenOnline(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{}
	pub := &capturePub{}

	s := startSupervisor(t, dialer, creds, pub)

	h := dialer.next(t)
	h.emit(t, transport.Event{Kind: transport.EventCredentialIssued, Credential: "pair-me"})

	snap := waitState(t, s, StateAwaitingScan)
	if snap.Credential != "pair-me" {
		t.Fatalf("awaiting scan credential=%q want=%q", snap.Credential, "pair-me")
	}

	h.emit(t, transport.Event{Kind: transport.EventOpened})

	snap = waitState(t, s, StateOnline)
	if snap.Credential != "" {
		t.Fatalf("credential not cleared after open: %q", snap.Credential)
	}
	if snap.Attempt != 0 {
		t.Fatalf("attempt counter not reset after open: %d", snap.Attempt)
	}

	if _, err := s.Online(); err != nil {
		t.Fatalf("Online() after open: %v", err)
	}

	// The credential envelope must precede the awaiting_scan state event.
	credIdx, scanIdx := -1, -1
	pub.mu.Lock()
	for i, env := range pub.envs {
		switch env.Type {
		case v1.TypeCredential:
			if credIdx == -1 {
				credIdx = i
			}
		case v1.TypeState:
			var p v1.StatePayload
			if err := json.Unmarshal(env.Payload, &p); err == nil && p.State == "awaiting_scan" && scanIdx == -1 {
				scanIdx = i
			}
		}
	}
	pub.mu.Unlock()
	if credIdx == -1 || scanIdx == -1 || scanIdx < credIdx {
		t.Fatalf("credential/state publish order wrong: %v", pub.types())
	}
}

func TestStartAttemptWhileConnectingIsNoOp(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{}

	s := startSupervisor(t, dialer, creds, nil)

	h := dialer.next(t)
	waitState(t, s, StateConnecting)

	s.StartAttempt()
	s.StartAttempt()

	// Commands are processed in order, so once the open is observed both
	// StartAttempt calls have already been handled.
	h.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)

	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("duplicate StartAttempt dialed again: got=%d want=1", n)
	}
}

func TestConflictBacksOffThenRecovers(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{data: []byte("persisted")}

	s := startSupervisor(t, dialer, creds, nil)

	h1 := dialer.next(t)
	h1.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)

	h1.emit(t, transport.Event{Kind: transport.EventClosed, Status: transport.StatusConflict, Reason: "conflict"})

	h2 := dialer.next(t)
	if creds.has() == false {
		t.Fatalf("credentials discarded on a first conflict")
	}

	h2.emit(t, transport.Event{Kind: transport.EventOpened})
	snap := waitState(t, s, StateOnline)
	if snap.Attempt != 0 {
		t.Fatalf("attempt counter not reset after recovery: %d", snap.Attempt)
	}

	if _, err := s.Online(); err != nil {
		t.Fatalf("Online() after recovery: %v", err)
	}
}

func TestRepeatedConflictDiscardsCredentials(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{data: []byte("persisted")}

	s := startSupervisor(t, dialer, creds, nil)

	// Conflicts that keep winning never let the session open, so the
	// attempt counter is never reset. Budget is 2: the third consecutive
	// conflict crosses it.
	for i := 0; i < 3; i++ {
		h := dialer.next(t)
		h.emit(t, transport.Event{Kind: transport.EventClosed, Status: transport.StatusConflict, Reason: "conflict"})
	}

	waitFor(t, "credential discard", func() bool { return !creds.has() })

	// The rescan retry still fires: the service must come back unpaired.
	h := dialer.next(t)
	h.emit(t, transport.Event{Kind: transport.EventCredentialIssued, Credential: "rescan"})
	waitState(t, s, StateAwaitingScan)
}

func TestUnauthorizedDiscardsCredentialsImmediately(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{data: []byte("persisted")}

	s := startSupervisor(t, dialer, creds, nil)

	h := dialer.next(t)
	h.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)

	h.emit(t, transport.Event{Kind: transport.EventClosed, Status: transport.StatusUnauthorized, Reason: "logged out"})

	waitFor(t, "credential discard", func() bool { return !creds.has() })
	dialer.next(t)
}

func TestTimeoutRetriesWithoutDiscard(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{data: []byte("persisted")}

	s := startSupervisor(t, dialer, creds, nil)

	h := dialer.next(t)
	h.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)

	h.emit(t, transport.Event{Kind: transport.EventClosed, Status: transport.StatusTimeout, Reason: "timed out"})

	h2 := dialer.next(t)
	if !creds.has() {
		t.Fatalf("credentials discarded on timeout")
	}
	h2.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)
}

func TestDialErrorExhaustsBudget(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.dialErr = errors.New("boom")
	creds := &memCreds{}

	s := startSupervisor(t, dialer, creds, nil)

	waitState(t, s, StateFailed)
	waitFor(t, "exhausted attempts", func() bool {
		return s.Snapshot().Reason == "exhausted"
	})

	// Budget 2 means three dials total. No further timer is armed.
	waitFor(t, "three dials", func() bool { return dialer.dialCount() == 3 })
	time.Sleep(60 * time.Millisecond)
	if n := dialer.dialCount(); n != 3 {
		t.Fatalf("dials after exhaustion: got=%d want=3", n)
	}

	if _, err := s.Online(); !errors.Is(err, ErrNotOnline) {
		t.Fatalf("Online() during failed state: err=%v", err)
	}
}

func TestForceResetDiscardsAndReconnects(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{data: []byte("persisted")}

	s := startSupervisor(t, dialer, creds, nil)

	h := dialer.next(t)
	h.emit(t, transport.Event{Kind: transport.EventOpened})
	waitState(t, s, StateOnline)

	s.ForceReset()

	waitFor(t, "credential discard", func() bool { return !creds.has() })
	dialer.next(t)

	if _, err := s.Online(); !errors.Is(err, ErrNotOnline) {
		t.Fatalf("Online() right after reset: err=%v", err)
	}
}

func TestSnapshotReportsPersistedCredential(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	creds := &memCreds{}

	s := startSupervisor(t, dialer, creds, nil)
	dialer.next(t)

	if s.Snapshot().HasCredential {
		t.Fatalf("HasCredential true with empty store")
	}

	if err := creds.Save([]byte("persisted")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !s.Snapshot().HasCredential {
		t.Fatalf("HasCredential false with populated store")
	}
}
