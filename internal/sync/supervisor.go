package sync

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	stdsync "sync"
	"time"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/git"
	"github.com/schaermu/gitsyncd/internal/github"
	"github.com/schaermu/gitsyncd/internal/watcher"
)

// Supervisor fans the configured repository pairs out to independent engines.
// Engines share nothing; a fault in one is contained, logged, and answered
// with a restart in IDLE while its siblings keep running.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      stdsync.Mutex
	engines []*Engine
}

// NewSupervisor creates a supervisor for the given configuration.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// Run starts every repository's engine, watcher, and poller, then blocks
// until the context is cancelled and all of them have drained. In-flight git
// operations complete before their engine exits.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg stdsync.WaitGroup

	repos := s.cfg.Repositories()
	for _, repo := range repos {
		s.startRepository(ctx, &wg, repo)
	}
	s.logger.Info("supervisor started", "repos", len(repos))

	wg.Wait()
	s.logger.Info("supervisor stopped")
	return ctx.Err()
}

// startRepository wires one repository pair: shell git client, shared ignore
// registry, engine, recursive watcher, and remote poller.
func (s *Supervisor) startRepository(ctx context.Context, wg *stdsync.WaitGroup, repo config.Repository) {
	vcs := git.NewShellClient(repo)
	ignores := watcher.NewIgnoreWindows(0)
	engine := NewEngine(repo, vcs, ignores, s.logger)

	s.mu.Lock()
	s.engines = append(s.engines, engine)
	s.mu.Unlock()

	var source HeadSource
	if gh, ok := NewGitHubHeadSource(github.NewClient(repo.Token, ""), repo.Remote, repo.Branch); ok {
		source = gh
	} else {
		source = NewLsRemoteHeadSource(vcs)
	}
	poller := NewPoller(repo.PollInterval, source, engine, s.logger)

	changes := make(chan watcher.Event, eventQueueSize)
	w := watcher.New(repo.LocalPath, ignores, changes, s.logger.With("repo", repo.Name()))

	wg.Add(4)

	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			s.runEngine(ctx, engine)
			if ctx.Err() == nil {
				// Restart after a fault, but never in a hot loop.
				time.Sleep(time.Second)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("watcher stopped", "repo", repo.Name(), "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		_ = poller.Run(ctx)
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-changes:
				engine.Notify(LocalChanged{Path: ev.Path, Time: ev.Time})
			}
		}
	}()
}

// runEngine runs one engine and converts a panic into a logged fault, so a
// broken adapter can never take down sibling repositories or the process.
func (s *Supervisor) runEngine(ctx context.Context, engine *Engine) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine fault, restarting in idle",
				"repo", engine.Repo().Name(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	_ = engine.Run(ctx)
}

// DispatchRemoteChange routes a webhook-delivered push to the engines
// tracking that repository and ref. Returns false when no engine matched.
func (s *Supervisor) DispatchRemoteChange(fullName, ref, head string) bool {
	branch := strings.TrimPrefix(ref, "refs/heads/")

	s.mu.Lock()
	engines := make([]*Engine, len(s.engines))
	copy(engines, s.engines)
	s.mu.Unlock()

	matched := false
	for _, e := range engines {
		repo := e.Repo()
		owner, name, ok := github.SplitRemote(repo.Remote)
		if !ok {
			continue
		}
		if !strings.EqualFold(owner+"/"+name, fullName) || repo.Branch != branch {
			continue
		}
		e.Notify(RemoteChanged{Head: head})
		matched = true
	}
	return matched
}

// SyncAll performs one reconcile pass per repository and returns the first
// failure. Used by the one-shot command; failures in one repository do not
// stop the others.
func (s *Supervisor) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, repo := range s.cfg.Repositories() {
		engine := NewEngine(repo, git.NewShellClient(repo), watcher.NewIgnoreWindows(0), s.logger)
		if err := engine.SyncOnce(ctx); err != nil {
			s.logger.Error("sync failed", "repo", repo.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
