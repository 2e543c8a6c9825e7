// Package app assembles the reminder engine, its stores and the HTTP surface
// from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/api"
	"github.com/dukerupert/dosekeeper/internal/config"
	"github.com/dukerupert/dosekeeper/internal/lifecycle"
	"github.com/dukerupert/dosekeeper/internal/merge"
	"github.com/dukerupert/dosekeeper/internal/notify"
	"github.com/dukerupert/dosekeeper/internal/push"
	"github.com/dukerupert/dosekeeper/internal/recurrence"
	"github.com/dukerupert/dosekeeper/internal/server"
	"github.com/dukerupert/dosekeeper/internal/session"
	"github.com/dukerupert/dosekeeper/internal/source"
	"github.com/dukerupert/dosekeeper/internal/store"
	"github.com/dukerupert/dosekeeper/internal/vault"
	ws "github.com/dukerupert/dosekeeper/internal/websocket"
)

type App struct {
	Engine *lifecycle.Engine
	Guard  *session.Guard
	Hub    *ws.Hub
	Server *server.Server

	pushSink *notify.PushSink
	logger   *slog.Logger
}

// New wires every component over db and restores persisted session state.
// A stored credential that no longer decodes is discarded, not fatal.
func New(cfg *config.Config, db *sql.DB, clk clock.Clock, logger *slog.Logger) (*App, error) {
	kv := store.NewKVStore(db)

	decoder, err := session.NewDecoder(cfg.Session.VerifyKey, cfg.Session.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	client := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
	creds := store.NewCredentialStore(kv, vault.NewSealer(cfg.Vault.Passphrase))
	guard := session.NewGuard(decoder, client, creds, clk, session.Options{
		RefreshTimeout:  cfg.Session.RefreshTimeout,
		RefreshCooldown: cfg.Session.RefreshCooldown,
	}, logger.With("component", "session"))
	if err := guard.Restore(); err != nil {
		logger.Warn("restore credential", "error", err)
	}

	linked := source.NewGatedAdapter(guard, client,
		store.NewReminderCache(kv, store.NamespaceLinkedCache),
		logger.With("component", "linked_source"))

	var standalone source.StandaloneBackend
	if cfg.StandaloneRemote() {
		standalone = client
	}
	open := source.NewOpenAdapter(standalone,
		store.NewReminderCache(kv, store.NamespaceStandalone),
		clk, logger.With("component", "standalone_source"))

	merger := merge.NewEngine(store.NewOverrideStore(kv), logger.With("component", "merge"))
	if err := merger.Load(); err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	dispatcher := notify.NewDispatcher(clk, logger.With("component", "notify"))
	dispatcher.Subscribe(notify.NewHubSink(hub, clk))

	a := &App{Guard: guard, Hub: hub, logger: logger}

	srvCfg := server.Config{
		Session:        guard,
		Hub:            hub,
		OriginPatterns: cfg.WSOrigins,
		Clock:          clk,
	}

	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
		TTL:             cfg.Push.TTL,
	})
	if pushSvc.Enabled() {
		pushStore := store.NewPushStore(db)
		a.pushSink = notify.NewPushSink(pushSvc, pushStore, cfg.Push.Queue, logger.With("component", "push"))
		dispatcher.Subscribe(a.pushSink)
		srvCfg.Push = pushStore
		srvCfg.VAPIDPublicKey = pushSvc.VAPIDPublicKey()
	}

	a.Engine = lifecycle.New(linked, open, merger, dispatcher, guard, kv, clk, lifecycle.Options{
		TickInterval: cfg.Engine.TickInterval,
		Classify: recurrence.Options{
			DueTolerance:  cfg.Engine.DueTolerance,
			OverdueWindow: cfg.Engine.OverdueWindow,
		},
	}, logger.With("component", "lifecycle"))

	srvCfg.Engine = a.Engine
	a.Server = server.New(srvCfg, logger)

	logger.Info("engine assembled",
		"linked", cfg.LinkedEnabled(),
		"standalone_remote", cfg.StandaloneRemote(),
		"push", pushSvc.Enabled(),
		"session", guard.Status().String(),
	)
	return a, nil
}

// Start begins the tick loop and push delivery.
func (a *App) Start(ctx context.Context) {
	if a.pushSink != nil {
		a.pushSink.Start(ctx)
	}
	a.Engine.Start(ctx)
}

// Stop halts background work and waits for it to finish.
func (a *App) Stop() {
	a.Engine.Stop()
	if a.pushSink != nil {
		a.pushSink.Stop()
	}
}

func (a *App) Handler() http.Handler {
	return a.Server.Router()
}
