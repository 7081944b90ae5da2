package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/observability"
)

// SessionPruner removes expired sessions. The janitor calls it on every tick.
type SessionPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Closer drains background work such as queued code deliveries.
type Closer interface {
	Close(ctx context.Context) error
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Sessions      SessionPruner
	Delivery      Closer
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	sessions SessionPruner,
	delivery Closer,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Sessions:      sessions,
		Delivery:      delivery,
	}
}

// Run serves HTTP and runs the session janitor until ctx is cancelled or the
// server fails, then shuts everything down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	if a.Config.SessionSecretEphemeral {
		a.Logger.Warn("SESSION_SECRET not set; using an ephemeral secret, sessions will not survive a restart")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.runJanitor(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) runJanitor(ctx context.Context) {
	interval := a.Config.SessionCleanupInterval
	if a.Sessions == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Sessions.PruneExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.Logger.Error("session prune failed", "error", err)
				}
				continue
			}
			if n > 0 {
				a.Logger.Info("expired sessions pruned", "count", n)
			}
		}
	}
}

func (a *App) shutdown() error {
	timeout := a.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("failed to shutdown http server", "error", err)
		errs = append(errs, err)
	}
	if a.Delivery != nil {
		if err := a.Delivery.Close(ctx); err != nil {
			a.Logger.Error("failed to drain code deliveries", "error", err)
			errs = append(errs, err)
		}
	}
	if a.Observability != nil {
		if err := a.Observability.Shutdown(ctx); err != nil {
			a.Logger.Error("failed to shutdown observability", "error", err)
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Error("failed to close database connection", "error", err)
			}
		}
	}
	return errors.Join(errs...)
}
