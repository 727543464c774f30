package bluetooth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "5.66", want: Version{5, 66}},
		{in: "5.66\n", want: Version{5, 66}},
		{in: "bluetoothctl: 5.72", want: Version{5, 72}},
		{in: "5.64-0ubuntu1", want: Version{5, 64}},
		{in: "5", want: Version{5, 0}},
		{in: "5.50.1", want: Version{5, 50}},
		{in: "", wantErr: true},
		{in: "five", wantErr: true},
		{in: "5.x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	threshold := Version{5, 50}

	assert.True(t, Version{5, 50}.AtLeast(threshold))
	assert.True(t, Version{5, 66}.AtLeast(threshold))
	assert.True(t, Version{6, 0}.AtLeast(threshold))
	assert.False(t, Version{5, 49}.AtLeast(threshold))
	assert.False(t, Version{4, 101}.AtLeast(threshold))
	assert.Equal(t, "5.50", threshold.String())
}

func TestDetectVersionFallsBack(t *testing.T) {
	var tried []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		tried = append(tried, name)
		if name == "bluetoothctl" {
			return nil, errors.New("not found")
		}
		return []byte("5.66\n"), nil
	}

	v, err := detectVersion(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, Version{5, 66}, v)
	assert.Equal(t, []string{"bluetoothctl", "bluetoothd"}, tried)
}

func TestDetectVersionFails(t *testing.T) {
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("garbage"), nil
	}

	_, err := detectVersion(context.Background(), run)
	assert.ErrorContains(t, err, "not detectable")
}
