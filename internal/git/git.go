package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/gitsyncd/internal/config"
)

// commandTimeout bounds every git invocation so a hung remote cannot wedge an
// engine forever.
const commandTimeout = 120 * time.Second

// Client provides the git operations the sync engine drives. Every mutating
// operation reports its result as an Outcome; errors never escape as plain
// Go errors so the engine's control flow stays outcome-driven.
type Client interface {
	// EnsureClone clones the repository if the local path is not one yet.
	EnsureClone(ctx context.Context) Outcome
	// FetchRemoteHead returns the remote branch tip. Read-only.
	FetchRemoteHead(ctx context.Context) (string, Outcome)
	// PullRebase integrates remote commits via pull --rebase.
	PullRebase(ctx context.Context) Outcome
	// CommitAll stages and commits every change in the working tree.
	CommitAll(ctx context.Context, message string) Outcome
	// Push pushes the tracked branch to origin.
	Push(ctx context.Context) Outcome
	// Head returns the local HEAD commit.
	Head(ctx context.Context) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	repo config.Repository
}

// NewShellClient creates a git client for one repository pair
func NewShellClient(repo config.Repository) *ShellClient {
	return &ShellClient{repo: repo}
}

// RemoteURL builds the clone/fetch URL from the configured remote identifier.
// Short "owner/repo" identifiers become GitHub HTTPS URLs.
func (c *ShellClient) RemoteURL() string {
	remote := strings.TrimSpace(c.repo.Remote)
	switch {
	case strings.Contains(remote, "://"),
		strings.HasPrefix(remote, "git@"),
		filepath.IsAbs(remote):
		return remote
	default:
		return fmt.Sprintf("https://github.com/%s.git", remote)
	}
}

// EnsureClone clones the repository when the local path is not a git repo yet.
// Returns NoOpUpToDate when a checkout already exists.
func (c *ShellClient) EnsureClone(ctx context.Context) Outcome {
	if IsRepo(c.repo.LocalPath) {
		return Outcome{Kind: NoOpUpToDate}
	}

	if err := os.MkdirAll(filepath.Dir(c.repo.LocalPath), 0o755); err != nil {
		return Outcome{Kind: NetworkFailure, Detail: err.Error()}
	}

	out, err := c.runGit(ctx, "", "clone", "--depth", "1", "-b", c.repo.Branch, c.RemoteURL(), c.repo.LocalPath)
	if err == nil {
		return Outcome{Kind: Success}
	}

	// The configured branch may not exist yet; fall back to the remote's
	// default branch.
	if containsAny(out, "not found in upstream", "remote branch", "couldn't find remote ref") {
		if out2, err2 := c.runGit(ctx, "", "clone", "--depth", "1", c.RemoteURL(), c.repo.LocalPath); err2 == nil {
			return Outcome{Kind: Success}
		} else {
			out = out2
		}
	}

	return classifyFailure(out)
}

// FetchRemoteHead asks origin for the tip of the tracked branch without
// touching the working tree. An empty head with a Success outcome means the
// branch does not exist on the remote yet.
func (c *ShellClient) FetchRemoteHead(ctx context.Context) (string, Outcome) {
	out, err := c.runGit(ctx, c.repo.LocalPath, "ls-remote", "origin", "refs/heads/"+c.repo.Branch)
	if err != nil {
		return "", classifyFailure(out)
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", Outcome{Kind: Success}
	}
	return fields[0], Outcome{Kind: Success}
}

// PullRebase runs pull --rebase. A dirty working tree is reported as its own
// outcome, never stashed over. A rebase that starts and stops on conflicting
// hunks is aborted so the tree stays usable, then reported as Conflict.
func (c *ShellClient) PullRebase(ctx context.Context) Outcome {
	out, err := c.runGit(ctx, c.repo.LocalPath, "pull", "--rebase", "origin", c.repo.Branch)
	if err == nil {
		if containsAny(out, "already up to date", "already up-to-date") {
			return Outcome{Kind: NoOpUpToDate}
		}
		return Outcome{Kind: Success}
	}

	if containsAny(out,
		"cannot pull with rebase",
		"you have unstaged changes",
		"your local changes to the following files would be overwritten",
		"please commit or stash them") {
		return Outcome{Kind: DirtyWorkingTree, Detail: firstLine(out)}
	}

	if containsAny(out, "conflict", "could not apply", "needs merge") {
		// Leave the tree usable for out-of-band resolution.
		_, _ = c.runGit(ctx, c.repo.LocalPath, "rebase", "--abort")
		return Outcome{Kind: Conflict, Detail: firstLine(out)}
	}

	return classifyFailure(out)
}

// CommitAll stages everything and commits with the configured author
// identity. Returns NoOpUpToDate when the working tree matches HEAD, so
// spurious debounce firings never produce empty commits.
func (c *ShellClient) CommitAll(ctx context.Context, message string) Outcome {
	status, err := c.runGit(ctx, c.repo.LocalPath, "status", "--porcelain")
	if err != nil {
		return classifyFailure(status)
	}
	if strings.TrimSpace(status) == "" {
		return Outcome{Kind: NoOpUpToDate}
	}

	if out, err := c.runGit(ctx, c.repo.LocalPath, "add", "-A"); err != nil {
		return classifyFailure(out)
	}

	out, err := c.runGit(ctx, c.repo.LocalPath, "commit", "-m", message)
	if err != nil {
		if containsAny(out, "nothing to commit", "nothing added to commit") {
			return Outcome{Kind: NoOpUpToDate}
		}
		return classifyFailure(out)
	}
	return Outcome{Kind: Success}
}

// Push pushes the tracked branch. A non-fast-forward rejection is reported as
// RemoteDiverged so the engine can run its pull-then-retry cycle.
func (c *ShellClient) Push(ctx context.Context) Outcome {
	out, err := c.runGit(ctx, c.repo.LocalPath, "push", "origin", c.repo.Branch)
	if err == nil {
		if containsAny(out, "everything up-to-date") {
			return Outcome{Kind: NoOpUpToDate}
		}
		return Outcome{Kind: Success}
	}

	if containsAny(out, "non-fast-forward", "fetch first", "updates were rejected") {
		return Outcome{Kind: RemoteDiverged, Detail: firstLine(out)}
	}

	return classifyFailure(out)
}

// Head returns the local HEAD commit hash.
func (c *ShellClient) Head(ctx context.Context) (string, error) {
	out, err := c.runGit(ctx, c.repo.LocalPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %s", firstLine(out))
	}
	return strings.TrimSpace(out), nil
}

// IsRepo reports whether path contains a git checkout.
func IsRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// runGit executes one git command and returns its combined output. dir may be
// empty for commands that do not run inside a checkout.
func (c *ShellClient) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	c.configureEnv(cmd)

	output, err := cmd.CombinedOutput()
	return string(output), err
}

// configureEnv sets up authentication and identity for git operations
func (c *ShellClient) configureEnv(cmd *exec.Cmd) {
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME="+c.repo.AuthorName,
		"GIT_AUTHOR_EMAIL="+c.repo.AuthorEmail,
		"GIT_COMMITTER_NAME="+c.repo.AuthorName,
		"GIT_COMMITTER_EMAIL="+c.repo.AuthorEmail,
	)

	// HTTPS token auth goes through a credential helper reading an
	// environment variable, so the token never appears in the remote URL or
	// process listing.
	if c.repo.Token != "" && strings.HasPrefix(c.RemoteURL(), "https://") {
		cmd.Env = append(cmd.Env, "GITSYNCD_GIT_TOKEN="+c.repo.Token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$GITSYNCD_GIT_TOKEN"; }; f`,
		)
	}
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}
