// Package sync reconciles local state with the remote settings service.
// Each round pushes the outbox first, then applies the remote snapshot,
// so a fresh local edit is attempted outward before inbound state lands.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/status"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

// RemoteClient is the wire boundary the engine pushes to and pulls from.
type RemoteClient interface {
	PushSettings(ctx context.Context, token string, items []store.SyncItem) error
	DeleteSetting(ctx context.Context, token, category, key string) error
	PullSettings(ctx context.Context, token string) (map[string]map[string]any, error)
	PushDevices(ctx context.Context, token string, devices []store.Device) error
	PullDevices(ctx context.Context, token string) ([]store.Device, error)
}

// Engine drains the outbox to the remote and applies remote snapshots
// locally. At most one round runs at a time: a tick that fires while a
// round is in flight is skipped outright, never queued.
type Engine struct {
	db         *store.DB
	remote     RemoteClient
	sessions   auth.SessionSource
	deviceID   string
	deviceInfo store.DeviceInfo
	bus        *bus.Bus
	machine    *status.Machine
	logger     *zap.Logger
	interval   time.Duration

	syncing atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	lastErr error
}

// NewEngine creates a sync engine. machine may be nil (tests).
func NewEngine(db *store.DB, remote RemoteClient, sessions auth.SessionSource, deviceID string, info store.DeviceInfo, b *bus.Bus, machine *status.Machine, interval time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		db:         db,
		remote:     remote,
		sessions:   sessions,
		deviceID:   deviceID,
		deviceInfo: info,
		bus:        b,
		machine:    machine,
		logger:     logger,
		interval:   interval,
	}
}

// IsSyncing reports whether a round is currently in flight.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// LastError returns the error recorded by the most recent completed round,
// or nil. Failures never propagate out of the engine any other way.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// StartBackground arms the periodic sync timer. Starting an already-armed
// timer is a no-op.
func (e *Engine) StartBackground(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.loop(ctx)
}

// StopBackground disarms the timer. An in-flight round is not aborted; it
// finishes on its own. Stopping an unarmed timer is a no-op.
func (e *Engine) StopBackground() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ForceSync performs one full round immediately, under the same busy-flag
// guard as timed ticks. Returns the round's recorded error, or nil if the
// round was skipped or clean.
func (e *Engine) ForceSync(ctx context.Context) error {
	e.Tick(ctx)
	return e.LastError()
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one push-then-pull round: settings push, settings pull,
// device push, device pull, strictly in that order. If a round is already
// in flight the tick is dropped.
func (e *Engine) Tick(ctx context.Context) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.publish("sync.skipped", "busy")
		return
	}
	defer e.syncing.Store(false)

	sess, err := e.sessions.Session()
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			// Not ready yet: skip the round without touching retry state.
			e.publish("sync.skipped", "no session")
			return
		}
		e.logger.Error("failed to resolve auth session", zap.Error(err))
		e.setLastErr(err)
		return
	}

	e.publish("sync.started", nil)
	if e.machine != nil {
		// A session appearing after boot unparks the machine.
		if e.machine.Current() == status.AuthRequired {
			_ = e.machine.Transition(status.Idle)
		}
		_ = e.machine.Transition(status.Syncing)
	}

	// First round with a session: make sure this installation has a
	// device record before anything is pushed.
	if _, err := e.db.GetDevice(e.deviceID); errors.Is(err, store.ErrNotFound) {
		if _, rerr := e.db.RegisterDevice(sess.UserID, e.deviceID, e.deviceInfo); rerr != nil {
			e.logger.Error("failed to register device", zap.Error(rerr))
		}
	}

	var roundErr error
	record := func(err error) {
		if err != nil && roundErr == nil {
			roundErr = err
		}
	}

	record(e.pushSettings(ctx, sess))
	record(e.pullSettings(ctx, sess))
	record(e.pushDevices(ctx, sess))
	record(e.pullDevices(ctx, sess))

	if roundErr == nil {
		// A clean round proves this installation is alive.
		if err := e.db.TouchDevice(e.deviceID); err != nil {
			e.logger.Warn("failed to touch device", zap.Error(err))
		}
	}

	e.setLastErr(roundErr)
	if e.machine != nil {
		if roundErr != nil {
			_ = e.machine.Transition(status.Degraded)
		} else {
			_ = e.machine.Transition(status.Idle)
		}
	}
	e.publish("sync.completed", nil)
}

// pushSettings drains the pending outbox: one batched request for all
// upserts, one request per delete. Failed items get a retry increment and
// stay pending for the next tick — no retry cap, no backoff, the retry
// cadence is exactly the tick interval.
func (e *Engine) pushSettings(ctx context.Context, sess *auth.Session) error {
	pending, err := e.db.PendingOutbox(sess.UserID)
	if err != nil {
		e.logger.Error("failed to read outbox", zap.Error(err))
		return fmt.Errorf("read outbox: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var upserts, deletes []store.SyncItem
	for _, it := range pending {
		if it.Operation == store.OpDelete {
			deletes = append(deletes, it)
		} else {
			// create and update are both upserts on the wire.
			upserts = append(upserts, it)
		}
	}

	var pushErr error
	if len(upserts) > 0 {
		if err := e.remote.PushSettings(ctx, sess.Token, upserts); err != nil {
			e.logger.Warn("settings push failed", zap.Error(err), zap.Int("items", len(upserts)))
			for _, it := range upserts {
				if rerr := e.db.IncrementRetry(it.ID); rerr != nil {
					e.logger.Error("failed to increment retry", zap.Error(rerr), zap.Int64("item", it.ID))
				}
			}
			e.publish("sync.push_failed", err.Error())
			pushErr = fmt.Errorf("push settings: %w", err)
		} else {
			for _, it := range upserts {
				if merr := e.db.MarkSynced(it.ID); merr != nil {
					e.logger.Error("failed to mark synced", zap.Error(merr), zap.Int64("item", it.ID))
				}
			}
		}
	}

	for _, it := range deletes {
		if err := e.remote.DeleteSetting(ctx, sess.Token, it.Category, it.Key); err != nil {
			e.logger.Warn("settings delete failed", zap.Error(err),
				zap.String("category", it.Category), zap.String("key", it.Key))
			if rerr := e.db.IncrementRetry(it.ID); rerr != nil {
				e.logger.Error("failed to increment retry", zap.Error(rerr), zap.Int64("item", it.ID))
			}
			e.publish("sync.push_failed", err.Error())
			if pushErr == nil {
				pushErr = fmt.Errorf("push delete %s/%s: %w", it.Category, it.Key, err)
			}
			continue
		}
		if merr := e.db.MarkSynced(it.ID); merr != nil {
			e.logger.Error("failed to mark synced", zap.Error(merr), zap.Int64("item", it.ID))
		}
	}

	return pushErr
}

// pullSettings applies the full remote snapshot through the store's
// remote-apply path, which never enqueues outbox items.
func (e *Engine) pullSettings(ctx context.Context, sess *auth.Session) error {
	snapshot, err := e.remote.PullSettings(ctx, sess.Token)
	if err != nil {
		e.logger.Warn("settings pull failed", zap.Error(err))
		e.publish("sync.pull_failed", err.Error())
		return fmt.Errorf("pull settings: %w", err)
	}
	if err := e.db.ApplyRemoteSnapshot(sess.UserID, snapshot); err != nil {
		e.logger.Error("failed to apply remote snapshot", zap.Error(err))
		return fmt.Errorf("apply snapshot: %w", err)
	}
	return nil
}

func (e *Engine) pushDevices(ctx context.Context, sess *auth.Session) error {
	devices, err := e.db.ListDevices(sess.UserID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}
	if err := e.remote.PushDevices(ctx, sess.Token, devices); err != nil {
		e.logger.Warn("device push failed", zap.Error(err))
		e.publish("sync.push_failed", err.Error())
		return fmt.Errorf("push devices: %w", err)
	}
	return nil
}

func (e *Engine) pullDevices(ctx context.Context, sess *auth.Session) error {
	devices, err := e.remote.PullDevices(ctx, sess.Token)
	if err != nil {
		e.logger.Warn("device pull failed", zap.Error(err))
		e.publish("sync.pull_failed", err.Error())
		return fmt.Errorf("pull devices: %w", err)
	}
	if err := e.db.ApplyRemoteDevices(sess.UserID, devices, e.deviceID); err != nil {
		return fmt.Errorf("apply remote devices: %w", err)
	}
	if len(devices) > 0 {
		e.publish("devices.changed", nil)
	}
	return nil
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
