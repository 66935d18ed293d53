// Package app wires the relay service together and manages component
// lifecycle: storage, webhook ingress, and background maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/feedrelay/feedrelay/internal/broadcast"
	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
	"github.com/feedrelay/feedrelay/internal/relay"
	"github.com/feedrelay/feedrelay/internal/secrets"
	"github.com/feedrelay/feedrelay/internal/server"
)

// App holds the assembled application components.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	store     database.Store
	clients   *platform.ClientCache
	verifier  *secrets.Verifier
	box       *secrets.Box
	scheduler gocron.Scheduler
	httpSrv   *http.Server
}

// New assembles the application from configuration. The database is opened
// and migrated here; everything else is pure wiring.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := database.NewStore(db, logger)

	box, err := secrets.NewBox([]byte(cfg.Webhook.EncryptionKey))
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to build token box: %w", err)
	}
	verifier := secrets.NewVerifier([]byte(cfg.Webhook.SecretKey), cfg.Webhook.GlobalSecret)

	clients := platform.NewClientCache()
	engine := relay.NewEngine(store, broadcast.New(logger), logger)
	srv := server.New(store, clients, engine, verifier, box, logger)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger.With("component", "app"),
		db:       db,
		store:    store,
		clients:  clients,
		verifier: verifier,
		box:      box,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      srv.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		scheduler: scheduler,
	}, nil
}

// Run starts the HTTP server and the maintenance scheduler, blocking until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Webhook.SyncOnStart {
		if err := a.SyncWebhooks(ctx); err != nil {
			return err
		}
	}

	if err := a.scheduleMaintenance(); err != nil {
		return err
	}
	a.scheduler.Start()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfoContext(gCtx, "Starting HTTP server", "addr", a.cfg.Server.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown failed: %w", err))
		}
		if err := a.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown failed: %w", err))
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	database.CloseDB(a.db)
	return err
}

func (a *App) scheduleMaintenance() error {
	_, err := a.scheduler.NewJob(
		gocron.DurationJob(a.cfg.Scheduler.MaintenanceInterval),
		gocron.NewTask(func(ctx context.Context) {
			runCtx, cancel := context.WithTimeout(ctx, a.cfg.Scheduler.MaintenanceTimeout)
			defer cancel()
			if err := a.store.RunSQLMaintenance(runCtx); err != nil {
				a.logger.Error("Database maintenance failed", "error", err)
			}
		}),
		gocron.WithName("db_maintenance"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}
	return nil
}

// SyncWebhooks points every enabled bot's webhook at this server. A bot
// whose registration fails is logged and skipped so one bad token cannot
// block startup.
func (a *App) SyncWebhooks(ctx context.Context) error {
	bots, err := a.store.ListEnabledBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bots for webhook sync: %w", err)
	}

	base := strings.TrimRight(a.cfg.Webhook.BaseURL, "/")
	synced := 0
	for i := range bots {
		b := &bots[i]
		client, err := a.clientFor(b)
		if err != nil {
			a.logger.ErrorContext(ctx, "Skipping webhook sync for bot", "bot_uuid", b.UUID, "error", err)
			continue
		}
		url := base + "/webhook/" + b.UUID
		if err := client.SetWebhook(ctx, url, a.verifier.Derive(b.UUID)); err != nil {
			a.logger.ErrorContext(ctx, "Failed to set webhook", "bot_uuid", b.UUID, "error", err)
			continue
		}
		synced++
	}

	a.logger.InfoContext(ctx, "Webhook sync complete", "bots", len(bots), "synced", synced)
	return nil
}

// DropWebhooks removes the webhook registration of every enabled bot. Used
// by the teardown entry point before decommissioning a deployment.
func (a *App) DropWebhooks(ctx context.Context) error {
	bots, err := a.store.ListEnabledBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bots for webhook teardown: %w", err)
	}

	dropped := 0
	for i := range bots {
		b := &bots[i]
		client, err := a.clientFor(b)
		if err != nil {
			a.logger.ErrorContext(ctx, "Skipping webhook teardown for bot", "bot_uuid", b.UUID, "error", err)
			continue
		}
		if err := client.DeleteWebhook(ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to delete webhook", "bot_uuid", b.UUID, "error", err)
			continue
		}
		dropped++
	}

	a.logger.InfoContext(ctx, "Webhook teardown complete", "bots", len(bots), "dropped", dropped)
	return nil
}

// Close releases resources without running the server. Run closes them
// itself; Close is for the webhook maintenance entry points.
func (a *App) Close() {
	_ = a.scheduler.Shutdown()
	database.CloseDB(a.db)
}

func (a *App) clientFor(b *database.Bot) (platform.Client, error) {
	token, err := a.box.Open(b.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to open token: %w", err)
	}
	return a.clients.Get(token)
}
