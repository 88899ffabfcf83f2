// Package app bootstraps the process: logging, configuration, the server
// lifecycle and signal handling.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"deapi-mcp/internal/config"
	"deapi-mcp/internal/server"
	"deapi-mcp/pkg/logging"
)

// Options holds the command-line settings that influence startup. Host and
// Port override the configuration when set.
type Options struct {
	ConfigPath string
	Debug      bool
	Host       string
	Port       int
}

// Application ties the loaded configuration to a runnable server.
type Application struct {
	cfg *config.Config
	srv *server.Server
}

// NewApplication performs the bootstrap sequence: initialize logging, load
// the configuration, apply flag overrides and assemble the server.
func NewApplication(opts Options, version string) (*Application, error) {
	level := logging.LevelInfo
	if opts.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stdout)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv, err := server.New(cfg, version)
	if err != nil {
		return nil, err
	}

	return &Application{cfg: cfg, srv: srv}, nil
}

// Run starts the server and blocks until the context is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logging.Info("Bootstrap", "deapi-mcp listening on %s", a.cfg.Server.ListenAddress())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Bootstrap", "Shutdown requested")
		return a.srv.Stop(context.Background())
	})
	return g.Wait()
}
