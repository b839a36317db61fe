package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/syncbox/internal/api"
	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

// Watcher subscribes to sync and device events and logs outbox health
// after each round. Retry-count growth is otherwise invisible; this is
// the diagnostics surface for it.
type Watcher struct {
	db       *store.DB
	bus      *bus.Bus
	sessions auth.SessionSource
	settings *api.SettingsService
	devices  *api.DevicesService
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewWatcher creates a diagnostics watcher.
func NewWatcher(db *store.DB, b *bus.Bus, sessions auth.SessionSource, settings *api.SettingsService, devices *api.DevicesService, logger *zap.Logger) *Watcher {
	return &Watcher{
		db:       db,
		bus:      b,
		sessions: sessions,
		settings: settings,
		devices:  devices,
		logger:   logger,
	}
}

// Start subscribes to bus events. Stop cancels the subscription.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	chSync, unsubSync := w.bus.Subscribe("sync.", 64)
	chDev, unsubDev := w.bus.Subscribe("devices.", 16)

	go func() {
		defer unsubSync()
		defer unsubDev()
		for {
			select {
			case evt := <-chSync:
				w.handleSync(evt)
			case <-chDev:
				w.handleDevices()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) handleSync(evt bus.Event) {
	if evt.Kind != "sync.completed" {
		return
	}

	sess, err := w.sessions.Session()
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			w.logger.Warn("diagnostics: session lookup failed", zap.Error(err))
		}
		return
	}
	stats, err := w.db.Stats(sess.UserID)
	if err != nil {
		w.logger.Warn("diagnostics: outbox stats failed", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Int("pending", stats.Pending),
		zap.Int("synced", stats.Synced),
		zap.Int("max_retry", stats.MaxRetry),
	}
	if err := w.settings.LastSyncError(); err != nil {
		w.logger.Warn("sync round finished with errors", append(fields, zap.Error(err))...)
		return
	}
	w.logger.Info("sync round complete", fields...)
}

func (w *Watcher) handleDevices() {
	devices, err := w.devices.GetDevices()
	if err != nil {
		w.logger.Warn("diagnostics: device list failed", zap.Error(err))
		return
	}
	w.logger.Info("device registry changed", zap.Int("devices", len(devices)))
}
