package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file or a repo entry leaves a field unset.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultDebounce     = 30 * time.Second
	DefaultBranch       = "main"
	DefaultAuthorName   = "gitsyncd"
	DefaultAuthorEmail  = "gitsyncd@local"
)

// Config represents the complete gitsyncd configuration
type Config struct {
	// Global defaults, overridable per repository
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	DebounceSeconds     int    `yaml:"debounce_seconds"`
	GitUserName         string `yaml:"git_user_name"`
	GitUserEmail        string `yaml:"git_user_email"`
	GitHubToken         string `yaml:"github_token"`
	PullBeforePush      *bool  `yaml:"pull_before_push"`

	Repos []RepoEntry `yaml:"repos"`
	Serve ServeConfig `yaml:"serve"`
}

// RepoEntry is one repository pair as written in the config file.
// Zero-valued fields fall back to the global defaults.
type RepoEntry struct {
	Remote              string `yaml:"repo"`
	LocalPath           string `yaml:"local_path"`
	Branch              string `yaml:"branch"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	DebounceSeconds     int    `yaml:"debounce_seconds"`
	Token               string `yaml:"token"`
}

// ServeConfig configures the optional webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Repository is the immutable, fully resolved descriptor handed to a sync
// engine. All defaults and overrides are already applied; instances are never
// mutated after Load.
type Repository struct {
	Remote         string
	LocalPath      string
	Branch         string
	PollInterval   time.Duration
	Debounce       time.Duration
	AuthorName     string
	AuthorEmail    string
	Token          string
	PullBeforePush bool
}

// envOverrides are environment variables that take precedence over the file.
type envOverrides struct {
	GitHubToken string `env:"GITSYNCD_GITHUB_TOKEN"`
	LegacyToken string `env:"GITHUB_TOKEN"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Environment token overrides the file token
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if ov.GitHubToken != "" {
		cfg.GitHubToken = ov.GitHubToken
	} else if ov.LegacyToken != "" {
		cfg.GitHubToken = ov.LegacyToken
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.GitUserName = os.ExpandEnv(c.GitUserName)
	c.GitUserEmail = os.ExpandEnv(c.GitUserEmail)
	c.GitHubToken = os.ExpandEnv(c.GitHubToken)
	for i := range c.Repos {
		c.Repos[i].Remote = os.ExpandEnv(c.Repos[i].Remote)
		c.Repos[i].LocalPath = os.ExpandEnv(c.Repos[i].LocalPath)
		c.Repos[i].Token = os.ExpandEnv(c.Repos[i].Token)
	}
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = int(DefaultPollInterval / time.Second)
	}
	if c.DebounceSeconds == 0 {
		c.DebounceSeconds = int(DefaultDebounce / time.Second)
	}
	if c.GitUserName == "" {
		c.GitUserName = DefaultAuthorName
	}
	if c.GitUserEmail == "" {
		c.GitUserEmail = DefaultAuthorEmail
	}
	if c.PullBeforePush == nil {
		t := true
		c.PullBeforePush = &t
	}
	for i := range c.Repos {
		if c.Repos[i].Branch == "" {
			c.Repos[i].Branch = DefaultBranch
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Repos) == 0 {
		return fmt.Errorf("repos must contain at least one entry")
	}

	// Zero means "use the default", applied before validation runs.
	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must not be negative")
	}
	if c.DebounceSeconds < 0 {
		return fmt.Errorf("debounce_seconds must not be negative")
	}

	seen := make(map[string]bool, len(c.Repos))
	for i, r := range c.Repos {
		if r.Remote == "" {
			return fmt.Errorf("repos[%d]: repo is required", i)
		}
		if r.LocalPath == "" {
			return fmt.Errorf("repos[%d]: local_path is required", i)
		}
		if !filepath.IsAbs(r.LocalPath) {
			return fmt.Errorf("repos[%d]: local_path must be an absolute path: %s", i, r.LocalPath)
		}
		if seen[r.LocalPath] {
			return fmt.Errorf("repos[%d]: local_path %s is used by more than one entry", i, r.LocalPath)
		}
		seen[r.LocalPath] = true
		if r.PollIntervalSeconds < 0 {
			return fmt.Errorf("repos[%d]: poll_interval_seconds must not be negative", i)
		}
		if r.DebounceSeconds < 0 {
			return fmt.Errorf("repos[%d]: debounce_seconds must not be negative", i)
		}
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// Repositories returns the fully resolved repository descriptors, one per
// configured entry, with global defaults applied.
func (c *Config) Repositories() []Repository {
	repos := make([]Repository, 0, len(c.Repos))
	for _, r := range c.Repos {
		repo := Repository{
			Remote:         r.Remote,
			LocalPath:      r.LocalPath,
			Branch:         r.Branch,
			PollInterval:   time.Duration(c.PollIntervalSeconds) * time.Second,
			Debounce:       time.Duration(c.DebounceSeconds) * time.Second,
			AuthorName:     c.GitUserName,
			AuthorEmail:    c.GitUserEmail,
			Token:          c.GitHubToken,
			PullBeforePush: c.PullBeforePush == nil || *c.PullBeforePush,
		}
		if r.PollIntervalSeconds > 0 {
			repo.PollInterval = time.Duration(r.PollIntervalSeconds) * time.Second
		}
		if r.DebounceSeconds > 0 {
			repo.Debounce = time.Duration(r.DebounceSeconds) * time.Second
		}
		if r.Token != "" {
			repo.Token = r.Token
		}
		repos = append(repos, repo)
	}
	return repos
}

// Name returns a short identifier for the repository, used in logs.
func (r Repository) Name() string {
	return filepath.Base(r.LocalPath)
}
