package supervisor

// State is the connection lifecycle state owned by the Supervisor.
// Exactly one instance exists per process; it is mutated only by the
// supervisor run loop and read through Snapshot.
type State uint8

const (
	// StateIdle means no session exists and none is being established.
	StateIdle State = iota
	// StateConnecting means a session attempt is in flight.
	StateConnecting
	// StateAwaitingScan means the attempt issued a scanning credential that
	// must be presented out-of-band before the session can open.
	StateAwaitingScan
	// StateOnline means the session is established and usable for delivery.
	StateOnline
	// StateClosing means a user-initiated teardown is in progress.
	StateClosing
	// StateFailed means the last attempt ended in a terminal condition;
	// Snapshot.Reason carries the classification.
	StateFailed
)

// String returns the wire-stable lowercase name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateOnline:
		return "online"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the point-in-time view of the supervisor published to readers.
type Snapshot struct {
	State State

	// Reason is set for failed/reconnecting conditions ("logged-out", ...).
	Reason string

	// Credential is the last-issued scanning credential while AwaitingScan.
	Credential string

	// HasCredential reports whether a persisted credential set exists.
	HasCredential bool

	// Attempt is the current retry attempt count.
	Attempt int
}
