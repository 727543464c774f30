// Package bridge maps named remote calls onto the local Bluetooth adapter.
//
// Every failure cause (no adapter, permission denied, platform error) is
// collapsed into one generic result before it crosses the bridge: false
// for setBluetoothName, null for getBluetoothName. Only an unknown method
// is distinguishable, as NotImplemented. Causes are logged locally.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/go-bluetooth-bridge/internal/bluetooth"
	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
	"github.com/codefionn/go-bluetooth-bridge/internal/tracer"
)

var (
	errNoAdapter        = errors.New("no bluetooth adapter present")
	errPermissionDenied = errors.New("connect permission not granted")
	errNameArgument     = errors.New(`argument "name" missing or not a string`)
	errRenameRejected   = errors.New("adapter rejected the name")
)

// Options tune the handler.
type Options struct {
	// ReportRenameResult makes setBluetoothName return false when the
	// adapter rejects the new name. By default the call reports true as
	// soon as the rename was issued without a platform error.
	ReportRenameResult bool

	// OnNameSet is invoked after the adapter accepted a new name.
	OnNameSet func(adapter, name string)

	Logger *logger.Logger
}

// Handler dispatches bridge calls. It holds no mutable state, so one
// Handler serves any number of concurrent calls.
type Handler struct {
	platform bluetooth.Platform
	opts     Options
	logger   *logger.Logger
}

// New creates a Handler on top of platform.
func New(platform bluetooth.Platform, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		platform: platform,
		opts:     opts,
		logger:   log.WithName("bridge"),
	}
}

// Handle runs one call and returns its result. It never panics and never
// returns an error: failures are already flattened into the result.
func (h *Handler) Handle(ctx context.Context, call models.MethodCall) models.Result {
	ctx, span := tracer.StartSpan(ctx, "bridge."+call.Method)
	defer span.End()
	span.SetAttributes(tracer.StringAttr("bridge.method", call.Method))

	var (
		result models.Result
		cause  error
	)
	switch models.Method(call.Method) {
	case models.MethodSetBluetoothName:
		result, cause = h.guard(false, func() (models.Result, error) {
			return h.setBluetoothName(ctx, call)
		})
	case models.MethodGetBluetoothName:
		result, cause = h.guard(nil, func() (models.Result, error) {
			return h.getBluetoothName(ctx)
		})
	default:
		h.logger.Debug("Method not implemented", logger.String("method", call.Method))
		span.SetAttributes(tracer.BoolAttr("bridge.not_implemented", true))
		return models.NotImplemented()
	}

	if cause != nil {
		tracer.RecordError(span, cause)
		h.logFailure(call.Method, cause)
	} else {
		tracer.SetOK(span)
		h.logger.Debug("Call handled", logger.String("method", call.Method))
	}
	return result
}

// guard converts a panic inside a platform call into the generic
// failure value.
func (h *Handler) guard(failure interface{}, fn func() (models.Result, error)) (result models.Result, cause error) {
	defer func() {
		if r := recover(); r != nil {
			result = models.Success(failure)
			cause = fmt.Errorf("platform panic: %v", r)
		}
	}()
	return fn()
}

func (h *Handler) logFailure(method string, cause error) {
	fields := []logger.Field{logger.String("method", method), logger.ErrorField(cause)}
	switch {
	case errors.Is(cause, errNoAdapter), errors.Is(cause, errPermissionDenied),
		errors.Is(cause, errNameArgument), errors.Is(cause, errRenameRejected):
		h.logger.Debug("Call failed", fields...)
	default:
		h.logger.Warn("Call failed", fields...)
	}
}

// acquire resolves the adapter and, on gated platform versions, checks
// the connect permission. Everything is evaluated against live state.
func (h *Handler) acquire(ctx context.Context) (bluetooth.Adapter, error) {
	adapter, err := h.platform.DefaultAdapter(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve adapter: %w", err)
	}
	if adapter == nil {
		return nil, errNoAdapter
	}

	if h.platform.RequiresConnectPermission() {
		granted, err := h.platform.CheckConnectPermission(ctx)
		if err != nil {
			return nil, fmt.Errorf("check permission: %w", err)
		}
		if !granted {
			return nil, errPermissionDenied
		}
	}

	return adapter, nil
}

func (h *Handler) setBluetoothName(ctx context.Context, call models.MethodCall) (models.Result, error) {
	name, ok := call.StringArgument("name")
	if !ok {
		return models.Success(false), errNameArgument
	}

	adapter, err := h.acquire(ctx)
	if err != nil {
		return models.Success(false), err
	}

	accepted, err := adapter.SetName(ctx, name)
	if err != nil {
		return models.Success(false), fmt.Errorf("rename %s: %w", adapter.ID(), err)
	}

	if !accepted {
		if h.opts.ReportRenameResult {
			return models.Success(false), errRenameRejected
		}
		h.logger.Debug("Adapter rejected name, reporting success",
			logger.String("adapter", adapter.ID()),
			logger.String("name", name),
		)
		return models.Success(true), nil
	}

	if h.opts.OnNameSet != nil {
		h.opts.OnNameSet(adapter.ID(), name)
	}
	return models.Success(true), nil
}

func (h *Handler) getBluetoothName(ctx context.Context) (models.Result, error) {
	adapter, err := h.acquire(ctx)
	if err != nil {
		return models.Success(nil), err
	}

	name, err := adapter.Name(ctx)
	if err != nil {
		return models.Success(nil), fmt.Errorf("read name of %s: %w", adapter.ID(), err)
	}
	h.logger.Trace("Adapter name read",
		logger.String("adapter", adapter.ID()),
		logger.OptionalString("name", name),
	)
	if name == nil {
		return models.Success(nil), nil
	}
	return models.Success(*name), nil
}
