package sync

import "time"

// State is the lifecycle state of one repository's sync engine.
type State int

const (
	// StateIdle means nothing is pending; both sides were last known equal.
	StateIdle State = iota
	// StatePulling means a pull --rebase is in flight.
	StatePulling
	// StateDebouncing means local changes were seen and the quiet-period
	// timer is running.
	StateDebouncing
	// StateCommitting means local changes are being committed.
	StateCommitting
	// StatePushing means the local branch is being pushed.
	StatePushing
	// StateConflict means the repository needs out-of-band resolution;
	// automatic sync is halted until a clean pull succeeds.
	StateConflict
	// StateBackoff means the last operation failed transiently and a retry
	// is scheduled.
	StateBackoff
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateDebouncing:
		return "debouncing"
	case StateCommitting:
		return "committing"
	case StatePushing:
		return "pushing"
	case StateConflict:
		return "conflict"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// SyncState is the mutable per-repository state. It is owned exclusively by
// the engine goroutine; nothing else reads or writes it.
type SyncState struct {
	State            State
	LastRemoteHead   string
	PendingLocal     bool
	DebounceDeadline time.Time
	Failures         int
	LastErr          string
}

// Event is a change notification consumed by a sync engine. Events are
// ephemeral; they are processed one at a time and never persisted.
type Event interface {
	eventName() string
}

// RemoteChanged signals that the remote branch tip moved.
type RemoteChanged struct {
	Head string
}

// LocalChanged signals that a file in the working tree changed.
type LocalChanged struct {
	Path string
	Time time.Time
}

// debounceElapsed is posted by the debounce timer when the quiet period ends.
type debounceElapsed struct{}

// backoffElapsed is posted by the backoff timer when a retry is due.
type backoffElapsed struct{}

func (RemoteChanged) eventName() string   { return "remote-changed" }
func (LocalChanged) eventName() string    { return "local-changed" }
func (debounceElapsed) eventName() string { return "debounce-elapsed" }
func (backoffElapsed) eventName() string  { return "backoff-elapsed" }

// retryOp identifies which operation a BACKOFF retry resumes.
type retryOp int

const (
	retryNone retryOp = iota
	// retryClone re-attempts the initial clone.
	retryClone
	// retryPull re-attempts an incoming pull.
	retryPull
	// retryCommitPush re-runs the commit/push pipeline. CommitAll is a no-op
	// when the commit already landed, so resuming from the top is safe.
	retryCommitPush
)
