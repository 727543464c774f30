package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService       = "org.bluez"
	bluezAdapterIface  = "org.bluez.Adapter1"
	bluezErrorPrefix   = "org.bluez.Error."
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	dbusErrServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	dbusErrNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
	dbusErrAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	dbusErrUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	dbusErrUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// selectAdapter picks the adapter object path. When want is set
// ("hci1"), only that adapter qualifies; otherwise the lowest path wins
// so the choice is stable across calls.
func selectAdapter(objects managedObjects, want string) (dbus.ObjectPath, bool) {
	var candidates []string
	for p, ifaces := range objects {
		if _, ok := ifaces[bluezAdapterIface]; !ok {
			continue
		}
		if want != "" && path.Base(string(p)) != want {
			continue
		}
		candidates = append(candidates, string(p))
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return dbus.ObjectPath(candidates[0]), true
}

// dbusErrorName extracts the D-Bus error name, if err is a D-Bus error.
func dbusErrorName(err error) (string, bool) {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name, true
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name, true
	}
	return "", false
}

// isServiceAbsent reports whether bluetoothd is simply not running, which
// we treat the same as a host without an adapter.
func isServiceAbsent(err error) bool {
	name, ok := dbusErrorName(err)
	return ok && (name == dbusErrServiceUnknown || name == dbusErrNameHasNoOwner)
}

// classifyCallError maps a failed bus call onto the package errors.
func classifyCallError(op string, err error) error {
	name, ok := dbusErrorName(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch name {
	case dbusErrAccessDenied:
		return fmt.Errorf("%s: %w", op, ErrAccessDenied)
	case dbusErrUnknownObject, dbusErrUnknownMethod:
		return fmt.Errorf("%s: %w", op, ErrAdapterGone)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isRejection reports whether BlueZ itself refused the request, as
// opposed to the bus failing to deliver it.
func isRejection(err error) bool {
	name, ok := dbusErrorName(err)
	return ok && strings.HasPrefix(name, bluezErrorPrefix)
}

// aliasFromVariant converts the Alias property into an optional name.
func aliasFromVariant(v dbus.Variant) (*string, error) {
	if v.Value() == nil {
		return nil, nil
	}
	s, ok := v.Value().(string)
	if !ok {
		return nil, fmt.Errorf("unexpected Alias type %s", v.Signature())
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// bluezAdapter is an org.bluez.Adapter1 object on the system bus.
type bluezAdapter struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

func (a *bluezAdapter) ID() string {
	return path.Base(string(a.path))
}

func (a *bluezAdapter) object() dbus.BusObject {
	return a.conn.Object(bluezService, a.path)
}

func (a *bluezAdapter) Name(ctx context.Context) (*string, error) {
	var v dbus.Variant
	err := a.object().CallWithContext(ctx, propertiesIface+".Get", 0, bluezAdapterIface, "Alias").Store(&v)
	if err != nil {
		return nil, classifyCallError("read adapter alias", err)
	}
	return aliasFromVariant(v)
}

func (a *bluezAdapter) SetName(ctx context.Context, name string) (bool, error) {
	call := a.object().CallWithContext(ctx, propertiesIface+".Set", 0,
		bluezAdapterIface, "Alias", dbus.MakeVariant(name))
	if call.Err != nil {
		if isRejection(call.Err) {
			return false, nil
		}
		return false, classifyCallError("set adapter alias", call.Err)
	}
	return true, nil
}

// listAdapters fetches every object BlueZ exports.
func listAdapters(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	objects := make(managedObjects)
	err := conn.Object(bluezService, "/").
		CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, err
	}
	return objects, nil
}
