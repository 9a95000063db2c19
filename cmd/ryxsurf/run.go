package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/ryxsurf/internal/browser"
	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/metrics"
	"github.com/codefionn/ryxsurf/internal/tui"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	headless    bool
	noUI        bool
	metricsAddr string
	openURLs    []string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [url...]",
		Short: "Start the browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.openURLs = args
			return runBrowser(cmd.Context(), g, o)
		},
	}
	cmd.Flags().BoolVar(&o.headless, "headless", false, "run the rendering engine without a window")
	cmd.Flags().BoolVar(&o.noUI, "no-ui", false, "run without the terminal UI until interrupted")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func runBrowser(ctx context.Context, g *globalOptions, o *runOptions) (err error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if o.headless {
		cfg.Headless = true
	}

	closeLogger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
	}()

	logger.Info("ryxsurf %s starting", Version)
	logger.Debug("Configuration loaded: data_dir=%s, engine=%s, log_level=%s", cfg.DataDir, cfg.Engine, cfg.LogLevel)

	m := metrics.New()
	b, err := browser.New(browser.Options{
		Config:     cfg,
		ConfigPath: g.configPath,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	notifier := tui.NewNotifier()
	b.OnRefresh(notifier.Notify)

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := b.Shutdown(sctx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", shutdownErr))
		}
	}()

	if err := b.Start(ctx); err != nil {
		return err
	}

	for _, url := range o.openURLs {
		if _, err := b.NewTab(ctx, url); err != nil {
			logger.Warn("Failed to open %s: %v", url, err)
		}
	}

	if o.metricsAddr != "" {
		stopMetrics := serveMetrics(o.metricsAddr, m)
		defer stopMetrics()
	}

	if o.noUI {
		logger.Info("Running without UI; waiting for interrupt")
		<-ctx.Done()
		return nil
	}
	return tui.Run(ctx, b, notifier)
}

// serveMetrics exposes m on addr until the returned func is called.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown: %v", err)
		}
	}
}
