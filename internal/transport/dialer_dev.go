package transport

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DevDialer simulates the external messaging network for local development.
//
// Behavior:
//   - Dial with no credential set issues a fake scanning credential, then
//     after PairDelay pretends the credential was scanned: it persists a
//     credential set and opens the session.
//   - Dial with an existing credential set opens the session directly.
//   - SendText logs the message instead of delivering it.
type DevDialer struct {
	log   *slog.Logger
	creds CredentialStore

	// PairDelay is how long an unpaired session waits before the simulated
	// scan completes. Zero means 2s.
	PairDelay time.Duration
}

// NewDevDialer builds a DevDialer persisting into creds.
func NewDevDialer(log *slog.Logger, creds CredentialStore) *DevDialer {
	return &DevDialer{log: log, creds: creds}
}

// Dial implements Dialer.
func (d *DevDialer) Dial(ctx context.Context, cs CredentialSet) (Handle, error) {
	h := &devHandle{
		log:    d.log,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}

	delay := d.PairDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	go h.establish(ctx, d.creds, cs, delay)
	return h, nil
}

type devHandle struct {
	log    *slog.Logger
	events chan Event

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	open bool
}

func (h *devHandle) establish(ctx context.Context, store CredentialStore, cs CredentialSet, pairDelay time.Duration) {
	defer close(h.events)

	if len(cs) == 0 {
		credential := devCredential()
		if !h.emit(ctx, Event{Kind: EventCredentialIssued, Credential: credential}) {
			return
		}

		select {
		case <-time.After(pairDelay):
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}

		if err := store.Save(CredentialSet(credential)); err != nil {
			h.log.Error("transport.dev.save_credentials.fail", "err", err)
			h.emit(ctx, Event{Kind: EventClosed, Status: StatusUnknown, Reason: "credential save failed"})
			return
		}
	}

	h.mu.Lock()
	h.open = true
	h.mu.Unlock()

	if !h.emit(ctx, Event{Kind: EventOpened}) {
		return
	}

	select {
	case <-ctx.Done():
	case <-h.done:
	}
}

func (h *devHandle) emit(ctx context.Context, ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *devHandle) Events() <-chan Event { return h.events }

func (h *devHandle) SendText(_ context.Context, address, text string) error {
	h.mu.Lock()
	open := h.open
	h.mu.Unlock()
	if !open {
		return errors.New("dev transport: session not open")
	}

	h.log.Info("transport.dev.send_text", "address", address, "chars", len(text))
	return nil
}

func (h *devHandle) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func devCredential() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return "dev-pairing:" + base32.StdEncoding.EncodeToString(b[:])
}
