package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/go-bluetooth-bridge/internal/bluetooth"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
)

type fakeAdapter struct {
	mu      sync.Mutex
	name    *string
	reject  bool
	setErr  error
	nameErr error
	panics  bool
	renames []string
}

func (a *fakeAdapter) ID() string { return "hci0" }

func (a *fakeAdapter) Name(ctx context.Context) (*string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panics {
		panic("name read blew up")
	}
	if a.nameErr != nil {
		return nil, a.nameErr
	}
	return a.name, nil
}

func (a *fakeAdapter) SetName(ctx context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panics {
		panic("rename blew up")
	}
	a.renames = append(a.renames, name)
	if a.setErr != nil {
		return false, a.setErr
	}
	if a.reject {
		return false, nil
	}
	a.name = &name
	return true, nil
}

func (a *fakeAdapter) renameCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.renames)
}

type fakePlatform struct {
	mu         sync.Mutex
	adapter    *fakeAdapter
	adapterErr error
	gated      bool
	granted    bool
	permErr    error
	permChecks int
}

func (p *fakePlatform) DefaultAdapter(ctx context.Context) (bluetooth.Adapter, error) {
	if p.adapterErr != nil {
		return nil, p.adapterErr
	}
	if p.adapter == nil {
		return nil, nil
	}
	return p.adapter, nil
}

func (p *fakePlatform) RequiresConnectPermission() bool { return p.gated }

func (p *fakePlatform) CheckConnectPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permChecks++
	return p.granted, p.permErr
}

func strPtr(s string) *string { return &s }

func setCall(name interface{}) models.MethodCall {
	return models.MethodCall{
		Method:    string(models.MethodSetBluetoothName),
		Arguments: map[string]interface{}{"name": name},
	}
}

func getCall() models.MethodCall {
	return models.MethodCall{Method: string(models.MethodGetBluetoothName)}
}

func TestUnknownMethodsAreNotImplemented(t *testing.T) {
	h := New(&fakePlatform{adapter: &fakeAdapter{name: strPtr("Pixel")}}, Options{})

	for _, method := range []string{"", "setbluetoothname", "GetBluetoothName", "enableBluetooth", "getBluetoothName "} {
		t.Run(method, func(t *testing.T) {
			r := h.Handle(context.Background(), models.MethodCall{Method: method})
			assert.True(t, r.NotImplemented)
			assert.Nil(t, r.Value)
		})
	}
}

func TestNoAdapter(t *testing.T) {
	for _, gated := range []bool{false, true} {
		p := &fakePlatform{gated: gated, granted: true}
		h := New(p, Options{})

		for _, name := range []interface{}{"Desk-A", "", nil, 42} {
			r := h.Handle(context.Background(), setCall(name))
			assert.False(t, r.NotImplemented)
			assert.Equal(t, false, r.Value)
		}

		r := h.Handle(context.Background(), getCall())
		assert.False(t, r.NotImplemented)
		assert.Nil(t, r.Value)
		assert.Zero(t, p.permChecks, "permission is checked only once an adapter exists")
	}
}

func TestBelowThresholdSkipsPermission(t *testing.T) {
	adapter := &fakeAdapter{name: strPtr("Pixel")}
	p := &fakePlatform{adapter: adapter, gated: false, granted: false}
	h := New(p, Options{})

	r := h.Handle(context.Background(), getCall())
	assert.Equal(t, "Pixel", r.Value)

	r = h.Handle(context.Background(), setCall("Desk-A"))
	assert.Equal(t, true, r.Value)

	assert.Zero(t, p.permChecks)
	assert.Equal(t, []string{"Desk-A"}, adapter.renames)
}

func TestGatedPermissionDenied(t *testing.T) {
	adapter := &fakeAdapter{name: strPtr("Pixel")}
	p := &fakePlatform{adapter: adapter, gated: true, granted: false}
	h := New(p, Options{})

	r := h.Handle(context.Background(), setCall("Desk-A"))
	assert.Equal(t, false, r.Value)

	r = h.Handle(context.Background(), getCall())
	assert.Nil(t, r.Value)

	assert.Equal(t, 2, p.permChecks)
	assert.Zero(t, adapter.renameCount(), "denied calls never reach the adapter")
}

func TestGatedPermissionGranted(t *testing.T) {
	adapter := &fakeAdapter{name: strPtr("Pixel")}
	p := &fakePlatform{adapter: adapter, gated: true, granted: true}
	h := New(p, Options{})

	r := h.Handle(context.Background(), setCall("X"))
	assert.Equal(t, true, r.Value)

	r = h.Handle(context.Background(), getCall())
	assert.Equal(t, "X", r.Value)
	assert.Equal(t, 2, p.permChecks)
}

func TestRenameOutcomeIsFlattenedByDefault(t *testing.T) {
	adapter := &fakeAdapter{name: strPtr("Pixel"), reject: true}
	var events int
	h := New(&fakePlatform{adapter: adapter, gated: true, granted: true}, Options{
		OnNameSet: func(string, string) { events++ },
	})

	r := h.Handle(context.Background(), setCall("X"))
	assert.Equal(t, true, r.Value)
	assert.Zero(t, events, "a rejected rename is not announced")

	r = h.Handle(context.Background(), getCall())
	assert.Equal(t, "Pixel", r.Value)
}

func TestReportRenameResult(t *testing.T) {
	adapter := &fakeAdapter{reject: true}
	h := New(&fakePlatform{adapter: adapter}, Options{ReportRenameResult: true})

	r := h.Handle(context.Background(), setCall("X"))
	assert.Equal(t, false, r.Value)

	adapter.reject = false
	r = h.Handle(context.Background(), setCall("X"))
	assert.Equal(t, true, r.Value)
}

func TestGetReturnsNullName(t *testing.T) {
	h := New(&fakePlatform{adapter: &fakeAdapter{}, gated: true, granted: true}, Options{})

	r := h.Handle(context.Background(), getCall())
	assert.False(t, r.NotImplemented)
	assert.Nil(t, r.Value)
}

func TestNameArgumentMustBeString(t *testing.T) {
	adapter := &fakeAdapter{}
	h := New(&fakePlatform{adapter: adapter}, Options{})

	for _, call := range []models.MethodCall{
		setCall(nil),
		setCall(12.5),
		setCall([]interface{}{"a"}),
		{Method: string(models.MethodSetBluetoothName)},
	} {
		r := h.Handle(context.Background(), call)
		assert.Equal(t, false, r.Value)
	}
	assert.Zero(t, adapter.renameCount())

	r := h.Handle(context.Background(), setCall(""))
	assert.Equal(t, true, r.Value, "empty names are passed through to the platform")
}

func TestOnNameSet(t *testing.T) {
	var gotAdapter, gotName string
	h := New(&fakePlatform{adapter: &fakeAdapter{}}, Options{
		OnNameSet: func(adapter, name string) {
			gotAdapter, gotName = adapter, name
		},
	})

	h.Handle(context.Background(), setCall("Desk-A"))
	assert.Equal(t, "hci0", gotAdapter)
	assert.Equal(t, "Desk-A", gotName)
}

func TestPlatformFailuresAreAbsorbed(t *testing.T) {
	boom := errors.New("org.freedesktop.DBus.Error.AccessDenied")

	tests := []struct {
		name     string
		platform *fakePlatform
	}{
		{"adapter lookup error", &fakePlatform{adapterErr: boom}},
		{"permission check error", &fakePlatform{adapter: &fakeAdapter{}, gated: true, permErr: boom}},
		{"access denied", &fakePlatform{adapter: &fakeAdapter{setErr: bluetooth.ErrAccessDenied, nameErr: bluetooth.ErrAccessDenied}}},
		{"adapter vanished", &fakePlatform{adapter: &fakeAdapter{setErr: bluetooth.ErrAdapterGone, nameErr: bluetooth.ErrAdapterGone}}},
		{"panic", &fakePlatform{adapter: &fakeAdapter{panics: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.platform, Options{})

			var r models.Result
			require.NotPanics(t, func() { r = h.Handle(context.Background(), setCall("X")) })
			assert.Equal(t, models.Success(false), r)

			require.NotPanics(t, func() { r = h.Handle(context.Background(), getCall()) })
			assert.Equal(t, models.Success(nil), r)
		})
	}
}

func TestEndToEndScenario(t *testing.T) {
	h := New(&fakePlatform{adapter: &fakeAdapter{name: strPtr("Pixel")}, gated: false}, Options{})
	ctx := context.Background()

	assert.Equal(t, "Pixel", h.Handle(ctx, getCall()).Value)
	assert.Equal(t, true, h.Handle(ctx, setCall("Desk-A")).Value)
	assert.Equal(t, "Desk-A", h.Handle(ctx, getCall()).Value)
}

func TestConcurrentCalls(t *testing.T) {
	adapter := &fakeAdapter{name: strPtr("Pixel")}
	p := &fakePlatform{adapter: adapter, gated: true, granted: true}
	h := New(p, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, true, h.Handle(context.Background(), setCall("Desk")).Value)
		}()
		go func() {
			defer wg.Done()
			assert.NotNil(t, h.Handle(context.Background(), getCall()).Value)
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, adapter.renameCount())
}
