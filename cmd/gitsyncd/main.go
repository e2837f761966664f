package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/gitsyncd/internal/config"
	"github.com/schaermu/gitsyncd/internal/sync"
	"github.com/schaermu/gitsyncd/internal/webhook"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitsyncd",
	Short: "Keep Git repositories and local directories in sync, both ways",
	Long: `gitsyncd watches local directory trees and polls their GitHub remotes.
Remote commits are pulled in; local edits are debounced into a single commit
and pushed out. One isolated sync engine runs per configured repository.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon for all configured repositories",
	Long: `Run starts one sync engine per configured repository and blocks until the
process receives SIGINT or SIGTERM. Each engine polls its remote, watches its
working tree, and commits and pushes local changes after a quiet period.

When serve is enabled in the configuration, a webhook endpoint additionally
converts GitHub push events into immediate remote checks.`,
	RunE: runDaemon,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time reconcile pass for every repository",
	Long: `Sync commits any pending local changes, integrates the remote with a
rebase pull, pushes what was committed, and exits. Useful from a systemd
timer or before taking a host offline.`,
	RunE: runSyncOnce,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gitsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	supervisor := sync.NewSupervisor(cfg, logger)

	if cfg.Serve.Enabled {
		server, err := webhook.NewServer(cfg.Serve, supervisor, logger)
		if err != nil {
			return fmt.Errorf("failed to create webhook server: %w", err)
		}
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("webhook server stopped", "error", err)
			}
		}()
	}

	logger.Info("starting sync daemon", "repos", len(cfg.Repos))
	return ignoreCanceled(supervisor.Run(ctx))
}

// ignoreCanceled swallows context cancellation, which is how a clean shutdown
// surfaces from the supervisor.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSyncOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	supervisor := sync.NewSupervisor(cfg, logger)

	logger.Info("starting one-time sync", "repos", len(cfg.Repos))
	if err := supervisor.SyncAll(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		if env := os.Getenv("GITSYNCD_CONFIG"); env != "" {
			configPath = env
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user home directory: %w", err)
			}
			configPath = fmt.Sprintf("%s/.config/gitsyncd/config.yaml", home)
		}
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repos", len(cfg.Repos),
		"poll_interval_seconds", cfg.PollIntervalSeconds,
		"debounce_seconds", cfg.DebounceSeconds)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
