// Package sync contains the per-repository synchronization engine: a state
// machine that arbitrates remote-change and local-change events over a single
// event queue, so no two git operations for the same working tree ever
// overlap.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/git"
	"github.com/schaermu/gitsyncd/internal/watcher"
)

// eventQueueSize bounds the per-engine queue. Watcher bursts beyond it are
// dropped, which the debounce window makes harmless.
const eventQueueSize = 64

// commitMessage is used for every automatic commit.
const commitMessage = "gitsyncd: auto sync"

// Engine synchronizes one repository pair. All state transitions happen on
// the single goroutine running Run; every external party only posts events.
type Engine struct {
	repo    config.Repository
	vcs     git.Client
	ignores *watcher.IgnoreWindows
	logger  *slog.Logger

	events   chan Event
	debounce *Debouncer
	backoff  *backoffPolicy

	// st is owned by the Run goroutine. lastHead mirrors st.LastRemoteHead
	// for the poller, which runs outside the loop.
	st       SyncState
	retry    retryOp
	lastHead atomic.Value

	mu     stdsync.Mutex
	runCtx context.Context
}

// NewEngine creates an engine for one repository. The ignore registry must be
// the same instance given to the repository's watcher.
func NewEngine(repo config.Repository, vcs git.Client, ignores *watcher.IgnoreWindows, logger *slog.Logger) *Engine {
	e := &Engine{
		repo:    repo,
		vcs:     vcs,
		ignores: ignores,
		logger:  logger.With("repo", repo.Name()),
		events:  make(chan Event, eventQueueSize),
		backoff: newBackoffPolicy(defaultBackoffBase, defaultBackoffCap),
	}
	e.debounce = NewDebouncer(repo.Debounce, func() {
		e.postInternal(debounceElapsed{})
	})
	e.lastHead.Store("")
	return e
}

// Repo returns the engine's immutable repository descriptor.
func (e *Engine) Repo() config.Repository {
	return e.repo
}

// LastKnownHead returns the last remote commit the engine knows it has
// integrated. Safe to call from the poller goroutine.
func (e *Engine) LastKnownHead() string {
	h, _ := e.lastHead.Load().(string)
	return h
}

// Notify posts an event to the engine without blocking. A full queue drops
// the event: local changes re-debounce and the poller re-emits, so nothing
// external is lost for good.
func (e *Engine) Notify(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("event queue full, dropping event", "event", ev.eventName())
	}
}

// postInternal posts timer events, which must not be dropped: a lost
// debounce or backoff signal would wedge the engine in its current state.
func (e *Engine) postInternal(ev Event) {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// Run processes events until the context is cancelled. It always starts in
// IDLE after re-baselining against the working tree, so a restart (or a crash
// recovery) resumes idempotently without a durable journal.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()
	defer e.debounce.Stop()

	e.st = SyncState{State: StateIdle}
	e.retry = retryNone

	// In-flight git operations are never aborted by shutdown; a half-applied
	// rebase or push would leave the tree in an indeterminate state. The
	// adapter's own command timeout still applies.
	opCtx := context.WithoutCancel(ctx)

	e.bootstrap(opCtx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "state", e.st.State.String())
			return ctx.Err()
		case ev := <-e.events:
			e.handle(opCtx, ev)
		}
	}
}

// handle dispatches one event against the current state.
func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case LocalChanged:
		e.onLocalChanged(ev)
	case RemoteChanged:
		e.onRemoteChanged(ctx, ev)
	case debounceElapsed:
		e.onDebounceElapsed(ctx)
	case backoffElapsed:
		e.onBackoffElapsed(ctx)
	}
}

func (e *Engine) onLocalChanged(ev LocalChanged) {
	e.logger.Debug("local change observed", "path", ev.Path, "state", e.st.State.String())
	e.st.PendingLocal = true

	switch e.st.State {
	case StateDebouncing:
		e.extendDebounce()
	case StateIdle:
		e.setState(StateDebouncing)
		e.extendDebounce()
	default:
		// CONFLICT halts auto-sync; BACKOFF already has a retry scheduled.
		// The pending flag carries the change into the next idle window.
	}
}

func (e *Engine) onRemoteChanged(ctx context.Context, ev RemoteChanged) {
	switch e.st.State {
	case StateIdle:
		if e.st.PendingLocal {
			// An in-progress human edit must not be overwritten by an
			// incoming pull; the poller re-emits once we are idle again.
			e.logger.Info("deferring remote change, local edits pending", "head", ev.Head)
			e.setState(StateDebouncing)
			e.extendDebounce()
			return
		}
		e.pull(ctx, ev.Head)
	case StateDebouncing:
		e.logger.Debug("deferring remote change during debounce", "head", ev.Head)
	case StateConflict:
		e.tryConflictRecovery(ctx, ev.Head)
	case StateBackoff:
		// A retry is already scheduled.
	default:
	}
}

func (e *Engine) onDebounceElapsed(ctx context.Context) {
	if e.st.State != StateDebouncing {
		return
	}
	e.st.DebounceDeadline = time.Time{}
	e.commitAndPush(ctx, false)
}

func (e *Engine) onBackoffElapsed(ctx context.Context) {
	if e.st.State != StateBackoff {
		return
	}
	op := e.retry
	e.retry = retryNone
	e.logger.Info("retrying after backoff", "failures", e.st.Failures)

	switch op {
	case retryClone:
		e.bootstrap(ctx)
	case retryPull:
		e.pull(ctx, "")
	case retryCommitPush:
		// The commit may already have landed before the failure; push even
		// when the tree is clean so that commit is not stranded locally.
		e.commitAndPush(ctx, true)
	default:
		e.toIdle()
	}
}

// bootstrap ensures the checkout exists and baselines the last known head
// from it.
func (e *Engine) bootstrap(ctx context.Context) {
	release := e.ignores.Hold()
	oc := e.vcs.EnsureClone(ctx)
	release()
	e.logOutcome("clone", oc)

	if !oc.OK() {
		e.enterBackoff(retryClone, oc)
		return
	}

	if head, err := e.vcs.Head(ctx); err == nil {
		e.setLastHead(head)
	} else {
		e.logger.Warn("failed to read local head", "error", err)
	}
	e.recordSuccess()
	e.toIdle()
}

// pull integrates remote commits. newHead may be empty when the caller does
// not know the remote tip (backoff retries); the local HEAD after the pull is
// used instead.
func (e *Engine) pull(ctx context.Context, newHead string) {
	e.setState(StatePulling)

	release := e.ignores.Hold()
	oc := e.vcs.PullRebase(ctx)
	release()
	e.logOutcome("pull", oc)

	switch oc.Kind {
	case git.Success, git.NoOpUpToDate:
		e.recordSuccess()
		e.updateHead(ctx, newHead)
		e.toIdle()
	case git.DirtyWorkingTree:
		// Local edits take priority; the pending remote change comes back on
		// the next poll tick once they are committed and pushed.
		e.logger.Info("working tree dirty, deferring pull until local changes are committed")
		e.st.PendingLocal = true
		e.setState(StateDebouncing)
		e.extendDebounce()
	case git.Conflict:
		e.enterConflict(oc)
	default:
		e.enterBackoff(retryPull, oc)
	}
}

// commitAndPush runs the commit/pull-before-push/push pipeline after a
// debounce window closes. pushIfClean forces the push even when the commit is
// a no-op, which backoff retries need after the commit succeeded but the push
// did not.
func (e *Engine) commitAndPush(ctx context.Context, pushIfClean bool) {
	e.setState(StateCommitting)

	oc := e.vcs.CommitAll(ctx, commitMessage)
	e.logOutcome("commit", oc)

	switch oc.Kind {
	case git.NoOpUpToDate:
		e.st.PendingLocal = false
		if !pushIfClean {
			// Spurious wakeup, e.g. a touch with no content change.
			e.recordSuccess()
			e.toIdle()
			return
		}
	case git.Success:
		e.st.PendingLocal = false
	default:
		e.enterBackoff(retryCommitPush, oc)
		return
	}

	if e.repo.PullBeforePush {
		e.setState(StatePulling)
		release := e.ignores.Hold()
		poc := e.vcs.PullRebase(ctx)
		release()
		e.logOutcome("pull", poc)

		switch poc.Kind {
		case git.Success, git.NoOpUpToDate:
		case git.Conflict:
			e.enterConflict(poc)
			return
		default:
			e.enterBackoff(retryCommitPush, poc)
			return
		}
	}

	e.pushWithRetry(ctx)
}

// pushWithRetry pushes the local branch. A rejected push gets exactly one
// pull-rebase-then-retry cycle; a second consecutive rejection escalates to
// CONFLICT.
func (e *Engine) pushWithRetry(ctx context.Context) {
	e.setState(StatePushing)

	for attempt := 0; ; attempt++ {
		oc := e.vcs.Push(ctx)
		e.logOutcome("push", oc)

		switch oc.Kind {
		case git.Success, git.NoOpUpToDate:
			e.recordSuccess()
			e.updateHead(ctx, "")
			e.toIdle()
			return
		case git.RemoteDiverged:
			if attempt >= 1 {
				e.enterConflict(oc)
				return
			}
			e.logger.Info("push rejected, rebasing onto remote tip for one retry")
			e.setState(StatePulling)
			release := e.ignores.Hold()
			poc := e.vcs.PullRebase(ctx)
			release()
			e.logOutcome("pull", poc)

			if poc.Kind == git.Conflict {
				e.enterConflict(poc)
				return
			}
			if !poc.OK() {
				e.enterBackoff(retryCommitPush, poc)
				return
			}
			e.setState(StatePushing)
		default:
			e.enterBackoff(retryCommitPush, oc)
			return
		}
	}
}

// tryConflictRecovery probes whether the conflict was resolved out of band.
// Only a clean pull releases the engine back to IDLE.
func (e *Engine) tryConflictRecovery(ctx context.Context, newHead string) {
	release := e.ignores.Hold()
	oc := e.vcs.PullRebase(ctx)
	release()

	if oc.OK() {
		e.logger.Info("conflict cleared, resuming automatic sync")
		e.recordSuccess()
		e.updateHead(ctx, newHead)
		e.toIdle()
		return
	}
	e.logger.Debug("conflict persists", "outcome", oc.Kind.String(), "detail", oc.Detail)
}

// SyncOnce performs a single reconcile pass outside the event loop: commit
// any local edits, integrate the remote, push what was committed. Used by the
// one-shot command.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if oc := e.vcs.EnsureClone(ctx); !oc.OK() {
		return fmt.Errorf("clone failed: %s: %s", oc.Kind, oc.Detail)
	}

	// Commit first so pull --rebase does not refuse over a dirty tree.
	coc := e.vcs.CommitAll(ctx, commitMessage)
	e.logOutcome("commit", coc)
	if !coc.OK() {
		return fmt.Errorf("commit failed: %s: %s", coc.Kind, coc.Detail)
	}

	poc := e.vcs.PullRebase(ctx)
	e.logOutcome("pull", poc)
	if !poc.OK() {
		return fmt.Errorf("pull failed: %s: %s", poc.Kind, poc.Detail)
	}

	if coc.Kind == git.Success {
		uoc := e.vcs.Push(ctx)
		e.logOutcome("push", uoc)
		if !uoc.OK() {
			return fmt.Errorf("push failed: %s: %s", uoc.Kind, uoc.Detail)
		}
	}
	return nil
}

// --- state helpers, only ever called from the Run goroutine ---

func (e *Engine) setState(s State) {
	if e.st.State == s {
		return
	}
	e.logger.Info("state transition", "from", e.st.State.String(), "to", s.String())
	e.st.State = s
}

func (e *Engine) toIdle() {
	e.setState(StateIdle)
	e.st.DebounceDeadline = time.Time{}
	if e.st.PendingLocal {
		// Changes arrived while we were busy; open a fresh debounce window.
		e.setState(StateDebouncing)
		e.extendDebounce()
	}
}

func (e *Engine) extendDebounce() {
	e.debounce.Extend()
	e.st.DebounceDeadline = e.debounce.Deadline()
}

func (e *Engine) enterBackoff(op retryOp, oc git.Outcome) {
	e.st.Failures++
	e.st.LastErr = oc.Detail
	e.retry = op
	delay := e.backoff.next()
	e.setState(StateBackoff)
	e.logger.Warn("operation failed, backing off",
		"outcome", oc.Kind.String(),
		"detail", oc.Detail,
		"failures", e.st.Failures,
		"delay", delay.String())
	time.AfterFunc(delay, func() {
		e.postInternal(backoffElapsed{})
	})
}

func (e *Engine) enterConflict(oc git.Outcome) {
	e.st.LastErr = oc.Detail
	e.setState(StateConflict)
	e.logger.Error("repository needs manual resolution, automatic sync halted",
		"outcome", oc.Kind.String(),
		"detail", oc.Detail)
}

func (e *Engine) recordSuccess() {
	e.st.Failures = 0
	e.st.LastErr = ""
	e.backoff.reset()
}

// updateHead records the remote commit we are now level with. With an empty
// hint the local HEAD is used, which is correct right after a successful pull
// or push.
func (e *Engine) updateHead(ctx context.Context, hint string) {
	if hint != "" {
		e.setLastHead(hint)
		return
	}
	if head, err := e.vcs.Head(ctx); err == nil {
		e.setLastHead(head)
	} else {
		e.logger.Warn("failed to read local head", "error", err)
	}
}

func (e *Engine) setLastHead(head string) {
	e.st.LastRemoteHead = head
	e.lastHead.Store(head)
}

func (e *Engine) logOutcome(op string, oc git.Outcome) {
	if oc.OK() {
		e.logger.Info("git operation finished", "op", op, "outcome", oc.Kind.String())
		return
	}
	e.logger.Warn("git operation failed", "op", op, "outcome", oc.Kind.String(), "detail", oc.Detail)
}
