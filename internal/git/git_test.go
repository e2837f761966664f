package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/gitsyncd/internal/config"
)

// gitCmd runs a raw git command for test setup.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}

// initRemote creates a bare "remote" seeded with one commit on main and
// returns its path.
func initRemote(t *testing.T) string {
	t.Helper()
	work := filepath.Join(t.TempDir(), "seed")
	gitCmd(t, "", "init", "-b", "main", work)
	if err := os.WriteFile(filepath.Join(work, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, work, "add", "-A")
	gitCmd(t, work, "commit", "-m", "initial")

	remote := filepath.Join(t.TempDir(), "remote.git")
	gitCmd(t, "", "clone", "--bare", work, remote)
	return remote
}

func testRepo(remote, localPath string) config.Repository {
	return config.Repository{
		Remote:      remote,
		LocalPath:   localPath,
		Branch:      "main",
		AuthorName:  "gitsyncd",
		AuthorEmail: "gitsyncd@local",
	}
}

func TestEnsureCloneAndCommitPush(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); oc.Kind != Success {
		t.Fatalf("first clone: expected success, got %s (%s)", oc.Kind, oc.Detail)
	}
	if !IsRepo(local) {
		t.Fatal("expected checkout to be a git repo")
	}
	if oc := client.EnsureClone(ctx); oc.Kind != NoOpUpToDate {
		t.Fatalf("second clone: expected no-op, got %s", oc.Kind)
	}

	// Clean tree commits nothing.
	if oc := client.CommitAll(ctx, "test"); oc.Kind != NoOpUpToDate {
		t.Fatalf("clean commit: expected no-op, got %s (%s)", oc.Kind, oc.Detail)
	}

	if err := os.WriteFile(filepath.Join(local, "note.txt"), []byte("local edit\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if oc := client.CommitAll(ctx, "test"); oc.Kind != Success {
		t.Fatalf("commit: expected success, got %s (%s)", oc.Kind, oc.Detail)
	}
	if oc := client.Push(ctx); oc.Kind != Success {
		t.Fatalf("push: expected success, got %s (%s)", oc.Kind, oc.Detail)
	}

	head, err := client.Head(ctx)
	if err != nil || head == "" {
		t.Fatalf("head: %v (%q)", err, head)
	}
	remoteHead, oc := client.FetchRemoteHead(ctx)
	if oc.Kind != Success {
		t.Fatalf("ls-remote: expected success, got %s (%s)", oc.Kind, oc.Detail)
	}
	if remoteHead != head {
		t.Errorf("remote head %s != local head %s after push", remoteHead, head)
	}
}

func TestPullRebaseUpToDate(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone: %s (%s)", oc.Kind, oc.Detail)
	}
	if oc := client.PullRebase(ctx); oc.Kind != NoOpUpToDate {
		t.Fatalf("expected no-op pull, got %s (%s)", oc.Kind, oc.Detail)
	}
}

// advanceRemote pushes a new commit to the remote through a second checkout.
func advanceRemote(t *testing.T, remote, file, content string) {
	t.Helper()
	ctx := context.Background()
	other := filepath.Join(t.TempDir(), "other")
	client := NewShellClient(testRepo(remote, other))
	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone other: %s (%s)", oc.Kind, oc.Detail)
	}
	if err := os.WriteFile(filepath.Join(other, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if oc := client.CommitAll(ctx, "remote edit"); oc.Kind != Success {
		t.Fatalf("commit other: %s (%s)", oc.Kind, oc.Detail)
	}
	if oc := client.Push(ctx); oc.Kind != Success {
		t.Fatalf("push other: %s (%s)", oc.Kind, oc.Detail)
	}
}

func TestPullRebaseIntegratesRemoteCommits(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone: %s (%s)", oc.Kind, oc.Detail)
	}
	advanceRemote(t, remote, "upstream.txt", "from remote\n")

	if oc := client.PullRebase(ctx); oc.Kind != Success {
		t.Fatalf("pull: expected success, got %s (%s)", oc.Kind, oc.Detail)
	}
	if _, err := os.Stat(filepath.Join(local, "upstream.txt")); err != nil {
		t.Errorf("expected pulled file to exist: %v", err)
	}
}

func TestPullRebaseReportsDirtyTree(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone: %s (%s)", oc.Kind, oc.Detail)
	}
	advanceRemote(t, remote, "README.md", "rewritten upstream\n")

	// Uncommitted local edit to the same file the remote rewrote.
	if err := os.WriteFile(filepath.Join(local, "README.md"), []byte("local edit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	oc := client.PullRebase(ctx)
	if oc.Kind != DirtyWorkingTree {
		t.Fatalf("expected dirty-working-tree, got %s (%s)", oc.Kind, oc.Detail)
	}

	// The local edit must survive untouched.
	data, err := os.ReadFile(filepath.Join(local, "README.md"))
	if err != nil || string(data) != "local edit\n" {
		t.Errorf("local edit was not preserved: %v %q", err, data)
	}
}

func TestPullRebaseReportsConflict(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone: %s (%s)", oc.Kind, oc.Detail)
	}
	advanceRemote(t, remote, "README.md", "remote version\n")

	// Conflicting committed local change.
	if err := os.WriteFile(filepath.Join(local, "README.md"), []byte("local version\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if oc := client.CommitAll(ctx, "local edit"); oc.Kind != Success {
		t.Fatalf("commit: %s (%s)", oc.Kind, oc.Detail)
	}

	oc := client.PullRebase(ctx)
	if oc.Kind != Conflict {
		t.Fatalf("expected conflict, got %s (%s)", oc.Kind, oc.Detail)
	}

	// The rebase must have been aborted so the tree stays usable.
	if _, err := os.Stat(filepath.Join(local, ".git", "rebase-merge")); !os.IsNotExist(err) {
		t.Error("expected rebase to be aborted")
	}
}

func TestPushReportsDivergedRemote(t *testing.T) {
	ctx := context.Background()
	remote := initRemote(t)
	local := filepath.Join(t.TempDir(), "checkout")
	client := NewShellClient(testRepo(remote, local))

	if oc := client.EnsureClone(ctx); !oc.OK() {
		t.Fatalf("clone: %s (%s)", oc.Kind, oc.Detail)
	}
	advanceRemote(t, remote, "upstream.txt", "from remote\n")

	if err := os.WriteFile(filepath.Join(local, "note.txt"), []byte("local\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if oc := client.CommitAll(ctx, "local edit"); oc.Kind != Success {
		t.Fatalf("commit: %s (%s)", oc.Kind, oc.Detail)
	}

	oc := client.Push(ctx)
	if oc.Kind != RemoteDiverged {
		t.Fatalf("expected remote-diverged, got %s (%s)", oc.Kind, oc.Detail)
	}
}

func TestRemoteURL(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"owner/repo", "https://github.com/owner/repo.git"},
		{"https://github.com/owner/repo.git", "https://github.com/owner/repo.git"},
		{"git@github.com:owner/repo.git", "git@github.com:owner/repo.git"},
		{"ssh://git@example.com/owner/repo.git", "ssh://git@example.com/owner/repo.git"},
		{"/srv/git/repo.git", "/srv/git/repo.git"},
	}

	for _, tt := range tests {
		c := NewShellClient(config.Repository{Remote: tt.remote})
		if got := c.RemoteURL(); got != tt.want {
			t.Errorf("RemoteURL(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestInsertGitFlags(t *testing.T) {
	args := insertGitFlags([]string{"git", "push", "origin", "main"}, "-c", "x=y")
	want := []string{"git", "-c", "x=y", "push", "origin", "main"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("got %v, want %v", args, want)
	}
}

func TestTokenNeverInRemoteURL(t *testing.T) {
	c := NewShellClient(config.Repository{Remote: "owner/repo", Token: "sekret"})
	if strings.Contains(c.RemoteURL(), "sekret") {
		t.Error("token must not appear in the remote URL")
	}
}
