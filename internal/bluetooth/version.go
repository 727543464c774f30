package bluetooth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Version is a BlueZ release number such as 5.66.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// ParseVersion accepts "5.66", "bluetoothctl: 5.66" or "5.66-1ubuntu1".
// Only the last whitespace-separated word is considered.
func ParseVersion(s string) (Version, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return Version{}, fmt.Errorf("empty version string")
	}
	raw := fields[len(fields)-1]

	if i := strings.IndexAny(raw, "-+~"); i >= 0 {
		raw = raw[:i]
	}

	parts := strings.SplitN(raw, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var minor int
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
	}

	return Version{Major: major, Minor: minor}, nil
}

// versionCommands are tried in order until one succeeds.
var versionCommands = [][]string{
	{"bluetoothctl", "--version"},
	{"bluetoothd", "--version"},
}

// commandRunner runs a command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DetectVersion asks the installed BlueZ tools for their version.
func DetectVersion(ctx context.Context) (Version, error) {
	return detectVersion(ctx, execRunner)
}

func detectVersion(ctx context.Context, run commandRunner) (Version, error) {
	var lastErr error
	for _, argv := range versionCommands {
		out, err := run(ctx, argv[0], argv[1:]...)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := ParseVersion(string(out))
		if err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return Version{}, fmt.Errorf("BlueZ version not detectable: %w", lastErr)
}
