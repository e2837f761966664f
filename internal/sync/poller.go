package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/gitsyncd/internal/git"
	"github.com/schaermu/gitsyncd/internal/github"
)

// HeadSource provides the current remote branch tip. An empty head with a nil
// error means the branch does not exist on the remote yet.
type HeadSource interface {
	Head(ctx context.Context) (string, error)
}

// Poller compares the remote tip against the engine's last known head on a
// fixed interval and posts RemoteChanged only on a genuine difference, so an
// unchanged remote keeps idle engines quiescent.
type Poller struct {
	interval time.Duration
	source   HeadSource
	engine   *Engine
	logger   *slog.Logger
}

// NewPoller creates a poller feeding the given engine.
func NewPoller(interval time.Duration, source HeadSource, engine *Engine, logger *slog.Logger) *Poller {
	return &Poller{
		interval: interval,
		source:   source,
		engine:   engine,
		logger:   logger.With("repo", engine.Repo().Name()),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	head, err := p.source.Head(ctx)
	if err != nil {
		// Transient; the next tick tries again.
		p.logger.Warn("failed to fetch remote head", "error", err)
		return
	}
	if head == "" {
		return
	}

	last := p.engine.LastKnownHead()
	if head == last {
		p.logger.Debug("remote head unchanged", "head", head)
		return
	}

	p.logger.Info("remote head changed", "head", head, "last_known", last)
	p.engine.Notify(RemoteChanged{Head: head})
}

// GitHubHeadSource fetches the branch tip through the GitHub commits API,
// which is cheaper than a git fetch and matches how the remote actually
// advances.
type GitHubHeadSource struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

// NewGitHubHeadSource creates an API head source. ok is false when the remote
// is not hosted on github.com, in which case the caller should fall back to
// ls-remote.
func NewGitHubHeadSource(client *github.Client, remote, branch string) (*GitHubHeadSource, bool) {
	owner, repo, ok := github.SplitRemote(remote)
	if !ok {
		return nil, false
	}
	return &GitHubHeadSource{client: client, owner: owner, repo: repo, branch: branch}, true
}

func (s *GitHubHeadSource) Head(ctx context.Context) (string, error) {
	return s.client.LatestCommitSHA(ctx, s.owner, s.repo, s.branch)
}

// LsRemoteHeadSource fetches the branch tip via the VCS adapter's read-only
// ls-remote, for remotes outside github.com.
type LsRemoteHeadSource struct {
	vcs git.Client
}

// NewLsRemoteHeadSource creates an adapter-backed head source.
func NewLsRemoteHeadSource(vcs git.Client) *LsRemoteHeadSource {
	return &LsRemoteHeadSource{vcs: vcs}
}

func (s *LsRemoteHeadSource) Head(ctx context.Context) (string, error) {
	head, oc := s.vcs.FetchRemoteHead(ctx)
	if !oc.OK() {
		return "", fmt.Errorf("ls-remote failed: %s: %s", oc.Kind, oc.Detail)
	}
	return head, nil
}
