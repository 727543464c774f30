package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/go-bluetooth-bridge/internal/bluetooth"
	"github.com/codefionn/go-bluetooth-bridge/internal/config"
	"github.com/codefionn/go-bluetooth-bridge/internal/logger"
	"github.com/codefionn/go-bluetooth-bridge/internal/server"
	"github.com/codefionn/go-bluetooth-bridge/internal/tracer"
)

var (
	version = "dev"
	commit  = "unknown"
)

const versionProbeTimeout = 3 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootCmd := &cobra.Command{
		Use:     "bluetooth-bridge",
		Short:   "Bluetooth name bridge - read and set the local adapter name over WebSocket",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(ctx, cmd)
		},
		SilenceUsage: true,
	}

	config.RegisterFlags(rootCmd)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

func runServer(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	shutdownTracing, err := tracer.Setup(ctx, tracer.Config{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("Failed to flush traces", logger.ErrorField(err))
		}
	}()

	manager, err := newPlatform(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, log, manager)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}

// newPlatform wires the BlueZ manager. The platform version is probed once
// here; it cannot change while bluetoothd keeps running.
func newPlatform(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bluetooth.Manager, error) {
	threshold, err := cfg.PermissionThreshold()
	if err != nil {
		return nil, fmt.Errorf("invalid permission threshold: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	var platformVersion *bluetooth.Version
	if v, err := bluetooth.DetectVersion(probeCtx); err != nil {
		log.Warn("Could not detect BlueZ version, connect permission will be checked",
			logger.ErrorField(err),
		)
	} else {
		platformVersion = &v
		log.Info("Detected BlueZ",
			logger.String("version", v.String()),
			logger.String("permission_threshold", threshold.String()),
			logger.Bool("permission_gated", v.AtLeast(threshold)),
		)
	}

	checker, err := bluetooth.NewPermissionChecker(bluetooth.PermissionConfig{
		Mode:   cfg.Bluetooth.Permission.Mode,
		Group:  cfg.Bluetooth.Permission.Group,
		Action: cfg.Bluetooth.Permission.Action,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create permission checker: %w", err)
	}

	manager, err := bluetooth.NewManager(bluetooth.Config{
		Adapter:             cfg.Bluetooth.Adapter,
		PermissionThreshold: threshold,
		PlatformVersion:     platformVersion,
		Permission:          checker,
		CallTimeout:         cfg.Bluetooth.CallTimeout,
		Logger:              log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Bluetooth manager: %w", err)
	}

	if !manager.IsAvailable(ctx) {
		log.Warn("No Bluetooth adapter available yet; calls will report failure until one appears")
	}

	return manager, nil
}

func setupLogger(levelStr, formatStr string) (*logger.Logger, error) {
	level, err := logger.ParseLogLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := logger.ParseLogFormat(formatStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	return logger.New(logger.Config{
		Level:     level,
		Format:    format,
		UseColors: format == logger.ConsoleFormat,
	}), nil
}
