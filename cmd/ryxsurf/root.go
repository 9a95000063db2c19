package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/logger"
)

// Version variables injected at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	dataDir     string
	logLevel    string
	askPassword bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:           "ryxsurf",
		Short:         "Keyboard-driven browser with workspaces, sessions and an encrypted vault",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.GetConfigPath(), "path to config.toml")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "override the data directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the log level (debug, info, warn, error, none)")
	root.PersistentFlags().BoolVarP(&g.askPassword, "ask-password", "p", false, "prompt for the master password")
	root.SetVersionTemplate(fmt.Sprintf("ryxsurf version %s\n", Version))

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newTabsCmd(g))
	root.AddCommand(newVaultCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with signal handling.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides on top of the
// environment.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
		cfg.LogPath = filepath.Join(g.dataDir, "ryxsurf.log")
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.askPassword && cfg.MasterPassword() == "" {
		if err := ensureMasterPassword(cfg); err != nil {
			return nil, fmt.Errorf("failed to unlock data: %w", err)
		}
	}
	return cfg, nil
}

// initLogger starts the global logger and returns its closer.
func initLogger(cfg *config.Config) (func(), error) {
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return func() {
		if err := logger.Global().Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", err)
		}
	}, nil
}
