// Package api exposes the in-process service surface consumed by UI
// layers. Reads and writes complete against the local store immediately;
// network visibility is eventual and owned by the sync engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/store"
	syncengine "github.com/matheus3301/syncbox/internal/sync"
	"go.uber.org/zap"
)

// SettingsService is the consumer surface for typed settings.
type SettingsService struct {
	db       *store.DB
	engine   *syncengine.Engine
	sessions auth.SessionSource
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewSettingsService creates a settings service. engine may be nil when no
// sync is wired (offline ctl usage).
func NewSettingsService(db *store.DB, engine *syncengine.Engine, sessions auth.SessionSource, b *bus.Bus, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{db: db, engine: engine, sessions: sessions, bus: b, logger: logger}
}

// Category returns a handle scoped to one settings category, matching how
// UI screens consume settings.
func (s *SettingsService) Category(name string) *CategorySettings {
	return &CategorySettings{svc: s, category: name}
}

// Refresh forces an immediate sync round so callers see fresh remote state.
func (s *SettingsService) Refresh(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.ForceSync(ctx)
}

// ForceSync is the user-triggered "sync now" action.
func (s *SettingsService) ForceSync(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.ForceSync(ctx)
}

// IsSyncing reports whether a sync round is in flight.
func (s *SettingsService) IsSyncing() bool {
	return s.engine != nil && s.engine.IsSyncing()
}

// LastSyncError returns the most recent sync round's error, or nil.
func (s *SettingsService) LastSyncError() error {
	if s.engine == nil {
		return nil
	}
	return s.engine.LastError()
}

// All returns every setting for the current user, grouped by category.
func (s *SettingsService) All() (map[string]map[string]any, error) {
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, err
	}
	return s.db.AllSettings(sess.UserID)
}

// CategorySettings is a per-category settings handle.
type CategorySettings struct {
	svc      *SettingsService
	category string
}

// Get returns the decoded value for key, or def when the key is absent.
// Storage failures are logged and also fall back to def: settings reads
// never block or break a UI screen.
func (c *CategorySettings) Get(key string, def any) any {
	sess, err := c.svc.sessions.Session()
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			c.svc.logger.Warn("settings read without session", zap.Error(err))
		}
		return def
	}
	v, err := c.svc.db.GetSetting(sess.UserID, c.category, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.svc.logger.Warn("failed to read setting",
				zap.String("category", c.category), zap.String("key", key), zap.Error(err))
		}
		return def
	}
	return v
}

// Update writes a setting locally and queues it for push.
func (c *CategorySettings) Update(key string, value any) error {
	sess, err := c.svc.sessions.Session()
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	if err := c.svc.db.SetSetting(sess.UserID, c.category, key, value); err != nil {
		return err
	}
	c.publish("settings.updated", sess.UserID, key)
	return nil
}

// Delete removes a setting locally and queues the delete for push.
func (c *CategorySettings) Delete(key string) error {
	sess, err := c.svc.sessions.Session()
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	if err := c.svc.db.DeleteSetting(sess.UserID, c.category, key); err != nil {
		return err
	}
	c.publish("settings.deleted", sess.UserID, key)
	return nil
}

// All returns every decoded value in this category.
func (c *CategorySettings) All() (map[string]any, error) {
	sess, err := c.svc.sessions.Session()
	if err != nil {
		return nil, err
	}
	return c.svc.db.SettingsByCategory(sess.UserID, c.category)
}

func (c *CategorySettings) publish(kind, userID, key string) {
	if c.svc.bus == nil {
		return
	}
	c.svc.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   bus.SettingRef{UserID: userID, Category: c.category, Key: key},
	})
}
