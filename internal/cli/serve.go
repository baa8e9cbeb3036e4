package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/taptik/internal/app"
	"github.com/Tyrowin/taptik/internal/config"
	"github.com/Tyrowin/taptik/internal/logging"
	"github.com/Tyrowin/taptik/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Long: `Run the taptik server until SIGINT or SIGTERM.

Settings come from --config and TAPTIK_* environment variables. The message
secret (secret_key or SECRET_KEY) is required; the server refuses to start
without it.

Example:
  SECRET_KEY=change-me taptik serve
  taptik serve --config /etc/taptik.yaml`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func loadConfig(opts *RootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func runServe(parent context.Context, opts *RootOptions) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a, err := app.New(cfg, st, log, nil)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}()

	server.StartHub(a.Hub, log)
	httpServer := server.CreateServer(cfg.Server.Addr, a.Handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, log) }()

	select {
	case err := <-errCh:
		if err != nil {
			_ = a.Hub.Shutdown(cfg.ShutdownGracePeriod)
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownErr := server.ShutdownServer(httpServer, cfg.ShutdownGracePeriod, log)
	hubErr := a.Hub.Shutdown(cfg.ShutdownGracePeriod)
	return errors.Join(shutdownErr, hubErr)
}
