package bluetooth

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/godbus/dbus/v5"
)

// Permission modes accepted by NewPermissionChecker.
const (
	PermissionModeGroup  = "group"
	PermissionModePolkit = "polkit"
	PermissionModeNone   = "none"
)

// PermissionConfig selects and parameterizes a PermissionChecker.
type PermissionConfig struct {
	Mode   string
	Group  string
	Action string
}

// NewPermissionChecker builds the checker named by cfg.Mode.
func NewPermissionChecker(cfg PermissionConfig) (PermissionChecker, error) {
	switch cfg.Mode {
	case PermissionModeGroup, "":
		return NewGroupChecker(cfg.Group), nil
	case PermissionModePolkit:
		if cfg.Action == "" {
			return nil, fmt.Errorf("polkit permission mode needs an action id")
		}
		return NewPolkitChecker(cfg.Action, nil), nil
	case PermissionModeNone:
		return AllowAll{}, nil
	default:
		return nil, fmt.Errorf("unknown permission mode: %s", cfg.Mode)
	}
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) Granted(context.Context) (bool, error) { return true, nil }

// GroupChecker grants access to root and to members of a Unix group,
// which is how the stock BlueZ D-Bus policy decides who may talk to
// org.bluez.
type GroupChecker struct {
	group string

	geteuid     func() int
	getgroups   func() ([]int, error)
	lookupGroup func(name string) (*user.Group, error)
}

// NewGroupChecker checks membership of group ("bluetooth" when empty).
func NewGroupChecker(group string) *GroupChecker {
	if group == "" {
		group = "bluetooth"
	}
	return &GroupChecker{
		group:       group,
		geteuid:     os.Geteuid,
		getgroups:   os.Getgroups,
		lookupGroup: user.LookupGroup,
	}
}

func (c *GroupChecker) Granted(ctx context.Context) (bool, error) {
	if c.geteuid() == 0 {
		return true, nil
	}

	g, err := c.lookupGroup(c.group)
	if err != nil {
		if _, ok := err.(user.UnknownGroupError); ok {
			return false, nil
		}
		return false, fmt.Errorf("lookup group %s: %w", c.group, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return false, fmt.Errorf("group %s has non-numeric gid %q", c.group, g.Gid)
	}

	groups, err := c.getgroups()
	if err != nil {
		return false, fmt.Errorf("list supplementary groups: %w", err)
	}
	for _, id := range groups {
		if id == gid {
			return true, nil
		}
	}
	return false, nil
}

const (
	polkitService   = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitCheckAuth = "org.freedesktop.PolicyKit1.Authority.CheckAuthorization"
)

// polkitSubject is the (sa{sv}) subject argument.
type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// polkitResult is the (bba{ss}) authorization result.
type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// PolkitChecker asks polkit whether this process may perform an action.
// No interactive authentication is requested.
type PolkitChecker struct {
	action  string
	connect func() (*dbus.Conn, error)
}

// NewPolkitChecker checks action. connect defaults to dbus.SystemBus.
func NewPolkitChecker(action string, connect func() (*dbus.Conn, error)) *PolkitChecker {
	if connect == nil {
		connect = dbus.SystemBus
	}
	return &PolkitChecker{action: action, connect: connect}
}

func (c *PolkitChecker) Granted(ctx context.Context) (bool, error) {
	conn, err := c.connect()
	if err != nil {
		return false, fmt.Errorf("connect to system bus: %w", err)
	}

	names := conn.Names()
	if len(names) == 0 {
		return false, fmt.Errorf("system bus connection has no unique name")
	}

	subject := polkitSubject{
		Kind:    "system-bus-name",
		Details: map[string]dbus.Variant{"name": dbus.MakeVariant(names[0])},
	}

	var result polkitResult
	err = conn.Object(polkitService, polkitPath).CallWithContext(ctx, polkitCheckAuth, 0,
		subject, c.action, map[string]string{}, uint32(0), "").Store(&result)
	if err != nil {
		return false, classifyCallError("polkit check "+c.action, err)
	}
	return result.IsAuthorized, nil
}
