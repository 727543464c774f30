// Package bluetooth is the boundary to the host Bluetooth stack. On Linux
// that is BlueZ, reached over the D-Bus system bus.
package bluetooth

import (
	"context"
	"errors"
)

// Platform is what the bridge needs from the operating system.
type Platform interface {
	// DefaultAdapter returns the local adapter, or nil when the host has
	// no Bluetooth capability.
	DefaultAdapter(ctx context.Context) (Adapter, error)

	// RequiresConnectPermission reports whether the running platform
	// version gates adapter access behind a runtime permission.
	RequiresConnectPermission() bool

	// CheckConnectPermission reports whether that permission is granted
	// right now.
	CheckConnectPermission(ctx context.Context) (bool, error)
}

// Adapter is a handle on the local Bluetooth radio.
type Adapter interface {
	// ID is a short identifier such as "hci0".
	ID() string

	// Name returns the adapter's friendly name, nil if it reports none.
	Name(ctx context.Context) (*string, error)

	// SetName renames the adapter. The bool is false when the stack
	// rejected the name; err is reserved for transport and access
	// failures.
	SetName(ctx context.Context, name string) (bool, error)
}

// PermissionChecker answers the granted/not granted question.
type PermissionChecker interface {
	Granted(ctx context.Context) (bool, error)
}

var (
	// ErrAccessDenied is returned when the bus refused the request.
	ErrAccessDenied = errors.New("bluetooth: access denied")

	// ErrAdapterGone is returned when the adapter vanished between
	// lookup and use.
	ErrAdapterGone = errors.New("bluetooth: adapter no longer present")
)
