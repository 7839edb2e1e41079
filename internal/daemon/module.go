package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/itsamit108/chat-app/internal/bus"
	"github.com/itsamit108/chat-app/internal/config"
	"github.com/itsamit108/chat-app/internal/coordinator"
	"github.com/itsamit108/chat-app/internal/httpapi"
	"github.com/itsamit108/chat-app/internal/hub"
	"github.com/itsamit108/chat-app/internal/lock"
	"github.com/itsamit108/chat-app/internal/logging"
	"github.com/itsamit108/chat-app/internal/status"
	"github.com/itsamit108/chat-app/internal/store"
)

// Module returns the fx module for the relay daemon, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideStats,
			provideHub,
			provideCoordinator,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideStats(b *bus.Bus) *status.Collector {
	return status.NewCollector(b)
}

func provideHub(cfg *config.Config, logger *zap.Logger) *hub.Hub {
	return hub.New(logger, cfg.SendQueueSize)
}

func provideCoordinator(cfg *config.Config, logger *zap.Logger, b *bus.Bus, db *store.DB, h *hub.Hub) *coordinator.Coordinator {
	return coordinator.New(logger, b, db, h, cfg)
}

func provideAPI(logger *zap.Logger, db *store.DB, coord *coordinator.Coordinator, stats *status.Collector, h *hub.Hub) *httpapi.API {
	return httpapi.New(logger, db, coord, coord, stats, h)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, h *hub.Hub, coord *coordinator.Coordinator, stats *status.Collector, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The hub only forwards frames; the coordinator interprets them.
			h.RegisterHandler(coord)
			coord.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			h.Shutdown()
			coord.Stop()
			stats.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
