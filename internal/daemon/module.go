package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/syncbox/internal/api"
	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/config"
	"github.com/matheus3301/syncbox/internal/device"
	"github.com/matheus3301/syncbox/internal/lock"
	"github.com/matheus3301/syncbox/internal/logging"
	"github.com/matheus3301/syncbox/internal/profile"
	"github.com/matheus3301/syncbox/internal/remote"
	"github.com/matheus3301/syncbox/internal/status"
	"github.com/matheus3301/syncbox/internal/store"
	syncengine "github.com/matheus3301/syncbox/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Synced outbox rows older than this are pruned at daemon start.
const pruneHorizon = 7 * 24 * time.Hour

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSessions,
			provideDeviceID,
			provideRemote,
			provideEngine,
			provideSettingsService,
			provideDevicesService,
			provideWatcher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return &config.Config{}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSessions(p Params) auth.SessionSource {
	return &auth.FileSource{Path: profile.TokenPath(p.ProfileName)}
}

// DeviceID is the resolved stable install id, distinct in the fx graph.
type DeviceID string

func provideDeviceID(p Params, logger *zap.Logger) (DeviceID, error) {
	id, err := device.ResolveID(profile.DeviceIDPath(p.ProfileName))
	if err != nil {
		return "", err
	}
	logger.Info("device identity resolved", zap.String("device_id", id))
	return DeviceID(id), nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) *remote.Client {
	if cfg.RemoteURL == "" {
		logger.Warn("remote_url not configured, sync rounds will fail until it is set")
	}
	return remote.New(cfg.RemoteURL, cfg.RequestTimeout())
}

func provideEngine(db *store.DB, client *remote.Client, sessions auth.SessionSource, id DeviceID, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *syncengine.Engine {
	return syncengine.NewEngine(db, client, sessions, string(id), device.Describe(), b, machine, cfg.SyncInterval(), logger)
}

func provideSettingsService(db *store.DB, engine *syncengine.Engine, sessions auth.SessionSource, b *bus.Bus, logger *zap.Logger) *api.SettingsService {
	return api.NewSettingsService(db, engine, sessions, b, logger)
}

func provideDevicesService(db *store.DB, sessions auth.SessionSource, b *bus.Bus, logger *zap.Logger) *api.DevicesService {
	return api.NewDevicesService(db, sessions, b, logger)
}

func provideWatcher(db *store.DB, b *bus.Bus, sessions auth.SessionSource, settings *api.SettingsService, devices *api.DevicesService, logger *zap.Logger) *Watcher {
	return NewWatcher(db, b, sessions, settings, devices, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, engine *syncengine.Engine, sessions auth.SessionSource, id DeviceID, machine *status.Machine, watcher *Watcher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if n, err := db.PruneSynced(time.Now().Add(-pruneHorizon)); err != nil {
				logger.Warn("outbox prune failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned synced outbox rows", zap.Int64("rows", n))
			}

			sess, err := sessions.Session()
			switch {
			case err == nil:
				if _, err := db.RegisterDevice(sess.UserID, string(id), device.Describe()); err != nil {
					logger.Error("device registration failed", zap.Error(err))
				}
				_ = machine.Transition(status.Idle)
			case errors.Is(err, auth.ErrNoSession):
				logger.Info("no auth session found, waiting for login")
				_ = machine.Transition(status.AuthRequired)
			default:
				logger.Error("failed to resolve auth session", zap.Error(err))
				_ = machine.Transition(status.AuthRequired)
			}

			watcher.Start(context.Background())
			engine.StartBackground(context.Background())
			logger.Info("background sync armed")
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.StopBackground()
			watcher.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
