// Package github provides the small slice of the GitHub REST API the remote
// poller needs: the tip commit of a branch.
package github

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.github.com"

var (
	httpsRemote = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/.]+)`)
	sshRemote   = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)`)
)

// Client queries the GitHub commits API.
type Client struct {
	http *resty.Client
}

// NewClient creates a GitHub API client. token may be empty for public
// repositories. baseURL overrides the API endpoint, mainly for tests.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/vnd.github.v3+json")
	if token != "" {
		cli.SetAuthToken(token)
	}

	return &Client{http: cli}
}

// LatestCommitSHA returns the tip commit of branch in owner/repo.
func (c *Client) LatestCommitSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	var result struct {
		SHA string `json:"sha"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		SetPathParams(map[string]string{
			"owner":  owner,
			"repo":   repo,
			"branch": branch,
		}).
		Get("/repos/{owner}/{repo}/commits/{branch}")
	if err != nil {
		return "", fmt.Errorf("failed to fetch commit for %s/%s@%s: %w", owner, repo, branch, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("github api returned %s for %s/%s@%s", resp.Status(), owner, repo, branch)
	}
	if result.SHA == "" {
		return "", fmt.Errorf("github api response for %s/%s@%s had no sha", owner, repo, branch)
	}

	return result.SHA, nil
}

// SplitRemote normalizes a remote identifier into owner and repo. It accepts
// bare "owner/repo", HTTPS GitHub URLs, and SSH GitHub URLs. ok is false for
// remotes not hosted on github.com.
func SplitRemote(remote string) (owner, repo string, ok bool) {
	remote = strings.TrimSpace(remote)

	if m := httpsRemote.FindStringSubmatch(remote); m != nil {
		return m[1], m[2], true
	}
	if strings.HasPrefix(remote, "git@") || strings.HasPrefix(remote, "ssh://") {
		if m := sshRemote.FindStringSubmatch(remote); m != nil {
			return m[1], strings.TrimSuffix(m[2], ".git"), true
		}
		return "", "", false
	}
	if strings.Contains(remote, "://") {
		return "", "", false
	}

	parts := strings.SplitN(remote, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
