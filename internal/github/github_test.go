package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestCommitSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/commits/main" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sha": "abc123def456"}`))
	}))
	defer srv.Close()

	client := NewClient("test-token", srv.URL)
	sha, err := client.LatestCommitSHA(context.Background(), "owner", "repo", "main")
	if err != nil {
		t.Fatalf("LatestCommitSHA() error: %v", err)
	}
	if sha != "abc123def456" {
		t.Errorf("sha = %q", sha)
	}
}

func TestLatestCommitSHAWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sha": "abc"}`))
	}))
	defer srv.Close()

	if _, err := NewClient("", srv.URL).LatestCommitSHA(context.Background(), "o", "r", "main"); err != nil {
		t.Fatal(err)
	}
}

func TestLatestCommitSHAErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
			},
		},
		{
			name: "missing sha",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			if _, err := NewClient("", srv.URL).LatestCommitSHA(context.Background(), "o", "r", "main"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSplitRemote(t *testing.T) {
	tests := []struct {
		remote string
		owner  string
		repo   string
		ok     bool
	}{
		{"owner/repo", "owner", "repo", true},
		{"owner/repo.git", "owner", "repo", true},
		{"https://github.com/owner/repo", "owner", "repo", true},
		{"https://github.com/owner/repo.git", "owner", "repo", true},
		{"git@github.com:owner/repo.git", "owner", "repo", true},
		{"ssh://git@github.com/owner/repo.git", "owner", "repo", true},
		{"https://gitlab.com/owner/repo.git", "", "", false},
		{"git@gitlab.com:owner/repo.git", "", "", false},
		{"/srv/git/repo.git", "", "", false},
		{"justaname", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		owner, repo, ok := SplitRemote(tt.remote)
		if owner != tt.owner || repo != tt.repo || ok != tt.ok {
			t.Errorf("SplitRemote(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.remote, owner, repo, ok, tt.owner, tt.repo, tt.ok)
		}
	}
}
