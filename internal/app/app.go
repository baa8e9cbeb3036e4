// Package app assembles the real-time core from configuration: store, hub,
// call relay, notification ledger, producers and the HTTP routes.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Tyrowin/taptik/internal/auth"
	"github.com/Tyrowin/taptik/internal/calls"
	"github.com/Tyrowin/taptik/internal/cipher"
	"github.com/Tyrowin/taptik/internal/config"
	"github.com/Tyrowin/taptik/internal/friends"
	"github.com/Tyrowin/taptik/internal/messages"
	"github.com/Tyrowin/taptik/internal/notify"
	"github.com/Tyrowin/taptik/internal/server"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/Tyrowin/taptik/internal/store/memory"
	"github.com/Tyrowin/taptik/internal/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App is a wired server. Run the hub with server.StartHub before serving
// Handler.
type App struct {
	Config   config.Config
	Store    store.Store
	Hub      *server.Hub
	Relay    *calls.Relay
	Ledger   *notify.Ledger
	Messages *messages.Service
	Friends  *friends.Service
	Handler  http.Handler
}

// OpenStore returns the postgres store for a configured DSN, migrated to the
// latest schema, or an in-memory store otherwise.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("no database_dsn configured, using in-memory store")
		return memory.New(), nil
	}

	pg, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

// New wires every component over st. reg receives the metrics; nil uses a
// fresh registry.
func New(cfg config.Config, st store.Store, log *zap.Logger, reg *prometheus.Registry) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := cipher.New(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := server.NewMetrics(reg)

	hub := server.NewHub(log,
		server.WithSettings(server.SettingsFrom(cfg)),
		server.WithMetrics(metrics))

	relay := calls.NewRelay(hub, log,
		calls.WithRingTimeout(cfg.Calls.RingTimeout),
		calls.WithObserver(metrics.ObserveCall))
	hub.SetSignalHandler(relay)
	hub.OnDisconnect(relay.Disconnected)

	ledger := notify.NewLedger(st, hub, log, notify.WithRetention(cfg.Notifications.Retention))
	msgs := messages.NewService(st, st, c, hub, ledger, log)
	fr := friends.NewService(st, st, hub, ledger, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set, trusting userId from requests")
	}

	handlers := &server.Handlers{
		Hub:       hub,
		Resolver:  auth.NewResolver(cfg.Auth.JWTSecret),
		Origins:   server.NewOriginPolicy(cfg.Server.AllowedOrigins, log),
		Messages:  msgs,
		Friends:   fr,
		Ledger:    ledger,
		Directory: st,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:       log.With(zap.String("component", "http")),
	}

	return &App{
		Config:   cfg,
		Store:    st,
		Hub:      hub,
		Relay:    relay,
		Ledger:   ledger,
		Messages: msgs,
		Friends:  fr,
		Handler:  server.SetupRoutes(handlers),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
