package bluetooth

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
)

// Config holds configuration for the BlueZ manager
type Config struct {
	// Adapter restricts lookup to one adapter such as "hci0". Empty
	// selects the first adapter BlueZ reports.
	Adapter string

	// PermissionThreshold is the first platform version that requires
	// the connect permission.
	PermissionThreshold Version

	// PlatformVersion is the detected BlueZ version. Nil means unknown,
	// which is treated as gated.
	PlatformVersion *Version

	Permission  PermissionChecker
	CallTimeout time.Duration
	Logger      *logger.Logger

	// Connect returns the system bus. Defaults to dbus.SystemBus.
	Connect func() (*dbus.Conn, error)
}

// Manager implements Platform on top of BlueZ. It keeps no adapter state;
// every call looks the adapter up again.
type Manager struct {
	config Config
	logger *logger.Logger
}

// NewManager creates a new BlueZ manager
func NewManager(config Config) (*Manager, error) {
	if config.Permission == nil {
		return nil, fmt.Errorf("permission checker is required")
	}
	if config.Connect == nil {
		config.Connect = dbus.SystemBus
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	return &Manager{
		config: config,
		logger: config.Logger.WithName("bluez"),
	}, nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.config.CallTimeout)
}

// DefaultAdapter looks up the adapter on the system bus. A host without
// bluetoothd running, or without a matching adapter, yields nil.
func (m *Manager) DefaultAdapter(ctx context.Context) (Adapter, error) {
	conn, err := m.config.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	objects, err := listAdapters(ctx, conn)
	if err != nil {
		if isServiceAbsent(err) {
			m.logger.Debug("BlueZ is not running")
			return nil, nil
		}
		return nil, classifyCallError("list adapters", err)
	}

	p, ok := selectAdapter(objects, m.config.Adapter)
	if !ok {
		m.logger.Debug("No matching adapter", logger.String("adapter", m.config.Adapter))
		return nil, nil
	}

	return &timedAdapter{
		inner:   &bluezAdapter{conn: conn, path: p},
		timeout: m.withTimeout,
	}, nil
}

// RequiresConnectPermission reports whether the detected version is at
// or above the threshold.
func (m *Manager) RequiresConnectPermission() bool {
	if m.config.PlatformVersion == nil {
		return true
	}
	return m.config.PlatformVersion.AtLeast(m.config.PermissionThreshold)
}

// CheckConnectPermission consults the configured checker.
func (m *Manager) CheckConnectPermission(ctx context.Context) (bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.config.Permission.Granted(ctx)
}

// PlatformVersion returns the detected version, or "" if unknown.
func (m *Manager) PlatformVersion() string {
	if m.config.PlatformVersion == nil {
		return ""
	}
	return m.config.PlatformVersion.String()
}

// IsAvailable returns whether an adapter can currently be found
func (m *Manager) IsAvailable(ctx context.Context) bool {
	adapter, err := m.DefaultAdapter(ctx)
	if err != nil {
		m.logger.Debug("Adapter lookup failed", logger.ErrorField(err))
		return false
	}
	return adapter != nil
}

// timedAdapter bounds each adapter call by the manager's call timeout.
type timedAdapter struct {
	inner   Adapter
	timeout func(context.Context) (context.Context, context.CancelFunc)
}

func (a *timedAdapter) ID() string { return a.inner.ID() }

func (a *timedAdapter) Name(ctx context.Context) (*string, error) {
	ctx, cancel := a.timeout(ctx)
	defer cancel()
	return a.inner.Name(ctx)
}

func (a *timedAdapter) SetName(ctx context.Context, name string) (bool, error) {
	ctx, cancel := a.timeout(ctx)
	defer cancel()
	return a.inner.SetName(ctx, name)
}
