package api

import (
	"fmt"
	"time"

	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/store"
	"go.uber.org/zap"
)

// DevicesService is the consumer surface for the device registry.
type DevicesService struct {
	db       *store.DB
	sessions auth.SessionSource
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewDevicesService creates a devices service.
func NewDevicesService(db *store.DB, sessions auth.SessionSource, b *bus.Bus, logger *zap.Logger) *DevicesService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevicesService{db: db, sessions: sessions, bus: b, logger: logger}
}

// GetDevices returns the current user's devices, most recently active first.
func (s *DevicesService) GetDevices() ([]store.Device, error) {
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, err
	}
	return s.db.ListDevices(sess.UserID)
}

// LogoutAllDevices removes every device record except this installation's.
func (s *DevicesService) LogoutAllDevices() error {
	sess, err := s.sessions.Session()
	if err != nil {
		return fmt.Errorf("logout devices: %w", err)
	}
	n, err := s.db.LogoutOtherDevices(sess.UserID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("logged out other devices", zap.Int64("removed", n))
		s.publish()
	}
	return nil
}

// UpdateDeviceLastActive bumps last_active on a single record.
func (s *DevicesService) UpdateDeviceLastActive(id string) error {
	return s.db.TouchDevice(id)
}

func (s *DevicesService) publish() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: "devices.changed", Timestamp: time.Now()})
}
