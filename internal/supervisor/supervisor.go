// Package supervisor owns the lifecycle of the external messaging session.
//
// A single run-loop goroutine drives the state machine: all transport events,
// retry scheduling, and teardown execute one-at-a-time, so ConnectionState and
// RetryPolicy need no locks of their own. Readers observe the supervisor only
// through its published Snapshot.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
	"github.com/omdev04/WhatsOTP/internal/events"
	"github.com/omdev04/WhatsOTP/internal/transport"
)

// Publisher receives supervisor state-change events for fan-out.
type Publisher interface {
	Publish(env v1.Envelope)
}

// Config tunes retry behavior and delays.
type Config struct {
	// MaxAttempts is the retry budget before the abandon-and-rescan
	// remediation kicks in.
	MaxAttempts int

	// RetryInterval is the base delay for all retry schedules.
	RetryInterval time.Duration

	// ErrorDelayCap bounds the steep backoff used for dial failures.
	ErrorDelayCap time.Duration

	// ResetDelay is the pause between a user-initiated reset and the next
	// attempt.
	ResetDelay time.Duration
}

// DefaultConfig mirrors the deployed service defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		RetryInterval: 5 * time.Second,
		ErrorDelayCap: 60 * time.Second,
		ResetDelay:    1 * time.Second,
	}
}

type cmdKind uint8

const (
	cmdStart cmdKind = iota + 1
	cmdReset
	cmdRetryFire
	cmdEvent
)

type command struct {
	kind cmdKind
	gen  uint64
	ev   transport.Event
}

// Supervisor maintains exactly one live or forming transport handle and
// reacts to every terminal signal with the remediation the failure class
// calls for.
type Supervisor struct {
	log    *slog.Logger
	cfg    Config
	dialer transport.Dialer
	creds  transport.CredentialStore
	pub    Publisher

	cmds   chan command
	closed chan struct{}

	// Owned by the run loop.
	state          State
	reason         string
	lastCredential string
	retry          RetryPolicy
	inFlight       bool
	handle         transport.Handle
	gen            uint64
	timer          *time.Timer

	// Published view for concurrent readers.
	mu     sync.RWMutex
	snap   Snapshot
	online transport.Handle
}

// New constructs a Supervisor. pub may be nil (events are then dropped).
func New(log *slog.Logger, cfg Config, dialer transport.Dialer, creds transport.CredentialStore, pub Publisher) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.ErrorDelayCap <= 0 {
		cfg.ErrorDelayCap = 60 * time.Second
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = 1 * time.Second
	}

	return &Supervisor{
		log:    log,
		cfg:    cfg,
		dialer: dialer,
		creds:  creds,
		pub:    pub,
		cmds:   make(chan command, 32),
		closed: make(chan struct{}),
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Base:        cfg.RetryInterval,
			Cap:         cfg.ErrorDelayCap,
		},
		snap: Snapshot{State: StateIdle},
	}
}

// Run drives the state machine until ctx is cancelled. It starts the first
// attempt immediately.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.closed)

	s.startAttempt(ctx)

	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			s.teardownHandle()
			s.setState(StateClosing, "")
			return

		case c := <-s.cmds:
			switch c.kind {
			case cmdStart, cmdRetryFire:
				s.startAttempt(ctx)
			case cmdReset:
				s.forceReset()
			case cmdEvent:
				s.onTransportEvent(ctx, c.gen, c.ev)
			}
		}
	}
}

// StartAttempt requests a new session attempt. No-op when an attempt is
// already in flight.
func (s *Supervisor) StartAttempt() { s.send(command{kind: cmdStart}) }

// ForceReset cancels any scheduled retry, discards persisted credentials,
// and reconnects after a short fixed delay. Used for user-initiated
// reconnect/logout.
func (s *Supervisor) ForceReset() { s.send(command{kind: cmdReset}) }

// Snapshot returns the current published view.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	creds, err := s.creds.Load()
	snap.HasCredential = err == nil && len(creds) > 0
	return snap
}

// Online returns the live transport handle, or ErrNotOnline.
func (s *Supervisor) Online() (transport.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.State != StateOnline || s.online == nil {
		return nil, ErrNotOnline
	}
	return s.online, nil
}

func (s *Supervisor) send(c command) {
	select {
	case s.cmds <- c:
	case <-s.closed:
	}
}

// ---- run-loop internals ----

func (s *Supervisor) startAttempt(ctx context.Context) {
	if s.inFlight {
		s.log.Info("supervisor.attempt.skip", "reason", "already_in_flight")
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.stopTimer()
	s.teardownHandle()

	s.inFlight = true
	s.setState(StateConnecting, "")
	s.publishState("connecting", "")
	s.log.Info("supervisor.attempt.start", "attempt", s.retry.Attempts+1)

	creds, err := s.creds.Load()
	if err != nil {
		s.log.Warn("supervisor.credentials.load.fail", "err", err)
		creds = nil
	}

	h, err := s.dialer.Dial(ctx, creds)
	if err != nil {
		s.onDialError(err)
		return
	}

	s.gen++
	s.handle = h
	go s.forward(s.gen, h)
}

// onDialError handles errors thrown by session construction itself:
// steep exponential backoff, hard stop past the budget.
func (s *Supervisor) onDialError(err error) {
	s.inFlight = false
	s.retry.Increment()

	if s.retry.Exceeded() {
		s.setState(StateFailed, "exhausted")
		s.publishState("failed", "exhausted")
		s.log.Error("supervisor.attempt.exhausted",
			"attempts", s.retry.Attempts, "max", s.retry.MaxAttempts, "err", err)
		// Operator intervention required; no timer is armed.
		return
	}

	delay := s.retry.ErrorDelay()
	s.setState(StateFailed, "init-error")
	s.publishState("reconnecting", "init-error")
	s.log.Warn("supervisor.attempt.fail",
		"attempt", s.retry.Attempts, "retry_in", delay, "err", err)
	s.scheduleRetry(delay)
}

func (s *Supervisor) onTransportEvent(ctx context.Context, gen uint64, ev transport.Event) {
	if gen != s.gen {
		// Delayed signal from a torn-down handle; it must not be
		// misattributed to the current attempt.
		s.log.Debug("supervisor.event.stale", "gen", gen, "current", s.gen)
		return
	}

	switch ev.Kind {
	case transport.EventCredentialIssued:
		s.lastCredential = ev.Credential
		s.retry.Reset()
		s.setState(StateAwaitingScan, "")
		s.publishCredential(ev.Credential)
		s.log.Info("supervisor.credential.issued")

	case transport.EventOpened:
		s.inFlight = false
		s.retry.Reset()
		s.lastCredential = ""
		s.setOnline(s.handle)
		s.setState(StateOnline, "")
		s.publishState("online", "")
		s.log.Info("supervisor.session.open")

	case transport.EventClosed:
		s.onClosed(ctx, ev)
	}
}

func (s *Supervisor) onClosed(_ context.Context, ev transport.Event) {
	s.inFlight = false
	s.setOnline(nil)

	class := transport.Classify(ev.Status, ev.Reason)
	s.log.Info("supervisor.session.closed",
		"status", int(ev.Status), "reason", ev.Reason, "class", class.String(), "attempt", s.retry.Attempts)

	switch class {
	case transport.CloseConflict:
		s.retry.Increment()
		if s.retry.Exceeded() {
			// A conflict that keeps winning means our credential set now
			// belongs to another session: abandon it and require a rescan.
			s.discardCredentials()
			s.setState(StateFailed, "logged-out")
			s.publishState("failed", "logged-out")
			s.retry.Reset()
			s.scheduleRetry(s.retry.FixedDelay())
			return
		}
		delay := s.retry.ConflictDelay()
		s.setState(StateConnecting, class.String())
		s.publishState("reconnecting", class.String())
		s.scheduleRetry(delay)

	case transport.CloseUnauthorized:
		// Retrying with a known-bad credential set would loop forever
		// without ever prompting re-authentication.
		s.discardCredentials()
		s.setState(StateFailed, "logged-out")
		s.publishState("failed", "logged-out")
		s.scheduleRetry(s.retry.FixedDelay())

	case transport.CloseTimeout:
		s.setState(StateConnecting, class.String())
		s.publishState("reconnecting", class.String())
		s.scheduleRetry(s.retry.FixedDelay())

	default:
		reason := ev.Reason
		if reason == "" {
			reason = class.String()
		}
		s.setState(StateConnecting, reason)
		s.publishState("reconnecting", reason)
		s.scheduleRetry(s.retry.FixedDelay())
	}
}

func (s *Supervisor) forceReset() {
	s.stopTimer()
	s.setState(StateClosing, "")
	s.publishState("closing", "")

	s.teardownHandle()
	s.discardCredentials()
	s.lastCredential = ""
	s.retry.Reset()
	s.inFlight = false

	s.setState(StateIdle, "")
	s.publishState("idle", "")
	s.scheduleRetry(s.cfg.ResetDelay)
}

// teardownHandle detaches the old attempt's event stream before closing the
// socket: gen is bumped first so anything the dying handle still emits is
// dropped as stale.
func (s *Supervisor) teardownHandle() {
	if s.handle == nil {
		return
	}
	s.gen++
	if err := s.handle.Close(); err != nil {
		s.log.Warn("supervisor.handle.close.fail", "err", err)
	}
	s.handle = nil
	s.setOnline(nil)
}

func (s *Supervisor) discardCredentials() {
	if err := s.creds.Discard(); err != nil {
		s.log.Error("supervisor.credentials.discard.fail", "err", err)
	}
}

func (s *Supervisor) scheduleRetry(d time.Duration) {
	s.stopTimer()
	s.timer = time.AfterFunc(d, func() {
		s.send(command{kind: cmdRetryFire})
	})
	s.log.Info("supervisor.retry.scheduled", "delay", d, "attempt", s.retry.Attempts)
}

func (s *Supervisor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) forward(gen uint64, h transport.Handle) {
	for ev := range h.Events() {
		select {
		case s.cmds <- command{kind: cmdEvent, gen: gen, ev: ev}:
		case <-s.closed:
			return
		}
	}
}

// setState updates the loop-owned state and the published snapshot.
// Broadcasting is a separate concern: call sites publish the matching state
// event (including the transitional "reconnecting" announcements).
func (s *Supervisor) setState(state State, reason string) {
	s.state = state
	s.reason = reason

	s.mu.Lock()
	s.snap = Snapshot{
		State:      state,
		Reason:     reason,
		Credential: s.lastCredential,
		Attempt:    s.retry.Attempts,
	}
	s.mu.Unlock()
}

func (s *Supervisor) setOnline(h transport.Handle) {
	s.mu.Lock()
	s.online = h
	s.mu.Unlock()
}

func (s *Supervisor) publishState(state, reason string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(events.NewEnvelope(v1.TypeState, v1.StatePayload{
		State:   state,
		Reason:  reason,
		Attempt: s.retry.Attempts,
	}))
}

func (s *Supervisor) publishCredential(credential string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(events.NewEnvelope(v1.TypeCredential, v1.CredentialPayload{
		Credential: credential,
	}))
	s.publishState(StateAwaitingScan.String(), "")
}
