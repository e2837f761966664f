package git

import "strings"

// OutcomeKind enumerates every way a git operation can end. The adapter maps
// all failure modes onto these kinds; nothing else crosses the boundary into
// the sync engine.
type OutcomeKind int

const (
	// Success means the operation completed and changed something.
	Success OutcomeKind = iota
	// NoOpUpToDate means the operation had nothing to do.
	NoOpUpToDate
	// RemoteDiverged means a push was rejected because the remote branch tip
	// is no longer an ancestor of the local tip.
	RemoteDiverged
	// Conflict means a rebase stopped on conflicting hunks.
	Conflict
	// AuthFailure means the remote refused our credentials.
	AuthFailure
	// NetworkFailure means the remote was unreachable or the failure was not
	// recognized; both are treated as transient.
	NetworkFailure
	// DirtyWorkingTree means a pull refused to start over uncommitted local
	// changes.
	DirtyWorkingTree
)

// String returns the kind name used in logs.
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NoOpUpToDate:
		return "no-op"
	case RemoteDiverged:
		return "remote-diverged"
	case Conflict:
		return "conflict"
	case AuthFailure:
		return "auth-failure"
	case NetworkFailure:
		return "network-failure"
	case DirtyWorkingTree:
		return "dirty-working-tree"
	default:
		return "unknown"
	}
}

// Outcome is the structured result of one git operation.
type Outcome struct {
	Kind   OutcomeKind
	Detail string // first line of git output for non-success outcomes
}

// OK reports whether the operation left the repository in the desired state.
func (o Outcome) OK() bool {
	return o.Kind == Success || o.Kind == NoOpUpToDate
}

var authMarkers = []string{
	"authentication failed",
	"invalid username or password",
	"permission denied (publickey)",
	"could not read username",
	"could not read password",
	"terminal prompts disabled",
	"403 forbidden",
	"401 unauthorized",
	"access denied",
}

var networkMarkers = []string{
	"could not resolve host",
	"connection refused",
	"connection timed out",
	"connection reset",
	"network is unreachable",
	"operation timed out",
	"the remote end hung up",
	"early eof",
	"unable to access",
	"gnutls recv error",
	"ssl_error",
	"failed to connect",
	"signal: killed", // command timeout
}

// classifyFailure maps raw git output onto an outcome. Auth markers are
// checked before network markers because git wraps HTTP auth errors in
// "unable to access" lines. Anything unrecognized is treated as transient.
func classifyFailure(output string) Outcome {
	if containsAny(output, authMarkers...) {
		return Outcome{Kind: AuthFailure, Detail: firstLine(output)}
	}
	if containsAny(output, networkMarkers...) {
		return Outcome{Kind: NetworkFailure, Detail: firstLine(output)}
	}
	return Outcome{Kind: NetworkFailure, Detail: firstLine(output)}
}

// containsAny reports whether output contains any marker, case-insensitively.
func containsAny(output string, markers ...string) bool {
	lower := strings.ToLower(output)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty line of git output, trimmed, for use
// as an outcome detail.
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
