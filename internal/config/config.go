package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/codefionn/go-bluetooth-bridge/internal/bluetooth"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Bluetooth BluetoothConfig `mapstructure:"bluetooth"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ListenAddresses []string `mapstructure:"listen_addresses"`
}

type BridgeConfig struct {
	Channel string `mapstructure:"channel"`
}

type BluetoothConfig struct {
	// Adapter pins the adapter, e.g. "hci0". Empty means first found.
	Adapter              string           `mapstructure:"adapter"`
	PermissionMinVersion string           `mapstructure:"permission_min_version"`
	Permission           PermissionConfig `mapstructure:"permission"`
	ReportRenameResult   bool             `mapstructure:"report_rename_result"`
	CallTimeout          time.Duration    `mapstructure:"call_timeout"`
}

type PermissionConfig struct {
	Mode   string `mapstructure:"mode"`
	Group  string `mapstructure:"group"`
	Action string `mapstructure:"action"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PermissionThreshold parses Bluetooth.PermissionMinVersion.
func (c *Config) PermissionThreshold() (bluetooth.Version, error) {
	return bluetooth.ParseVersion(c.Bluetooth.PermissionMinVersion)
}

func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// .env entries never override variables already in the environment.
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// A broken .env in the working directory is not fatal.
		_ = gotenv.Load(".env")
	}

	setDefaults(v)

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".bluetooth_bridge"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5581)
	v.SetDefault("bridge.channel", models.DefaultChannel)
	v.SetDefault("bluetooth.adapter", "")
	v.SetDefault("bluetooth.permission_min_version", "5.50")
	v.SetDefault("bluetooth.permission.mode", bluetooth.PermissionModeGroup)
	v.SetDefault("bluetooth.permission.group", "bluetooth")
	v.SetDefault("bluetooth.permission.action", "")
	v.SetDefault("bluetooth.report_rename_result", false)
	v.SetDefault("bluetooth.call_timeout", 5*time.Second)
	v.SetDefault("mdns.enabled", true)
	v.SetDefault("mdns.instance", getDefaultHostname())
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"port":                   "server.port",
		"listen":                 "server.listen_addresses",
		"channel":                "bridge.channel",
		"adapter":                "bluetooth.adapter",
		"permission-min-version": "bluetooth.permission_min_version",
		"permission-mode":        "bluetooth.permission.mode",
		"permission-group":       "bluetooth.permission.group",
		"permission-action":      "bluetooth.permission.action",
		"report-rename-result":   "bluetooth.report_rename_result",
		"call-timeout":           "bluetooth.call_timeout",
		"mdns-enabled":           "mdns.enabled",
		"mdns-instance":          "mdns.instance",
		"tracing":                "tracing.enabled",
		"tracing-exporter":       "tracing.exporter",
		"log-level":              "log.level",
		"log-format":             "log.format",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if strings.TrimSpace(cfg.Bridge.Channel) == "" {
		return fmt.Errorf("bridge channel must not be empty")
	}

	if _, err := cfg.PermissionThreshold(); err != nil {
		return fmt.Errorf("invalid permission_min_version: %w", err)
	}

	switch cfg.Bluetooth.Permission.Mode {
	case bluetooth.PermissionModeGroup, bluetooth.PermissionModeNone:
	case bluetooth.PermissionModePolkit:
		if cfg.Bluetooth.Permission.Action == "" {
			return fmt.Errorf("permission mode polkit requires bluetooth.permission.action")
		}
	default:
		return fmt.Errorf("invalid permission mode: %q", cfg.Bluetooth.Permission.Mode)
	}

	if cfg.Bluetooth.CallTimeout < 0 {
		return fmt.Errorf("invalid call timeout: %s", cfg.Bluetooth.CallTimeout)
	}

	switch cfg.Tracing.Exporter {
	case "stdout", "noop", "":
	default:
		return fmt.Errorf("invalid tracing exporter: %q", cfg.Tracing.Exporter)
	}

	return nil
}

func getDefaultHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "bluetooth-bridge"
	}
	return hostname
}

// RegisterFlags declares every flag Load knows how to bind.
func RegisterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "config file (default is $HOME/.bluetooth_bridge/config.yaml)")
	f.String("env-file", "", "env file to load environment variables from (e.g., .env)")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "console", "log format (console, json)")

	f.IntP("port", "p", 5581, "bridge server port")
	f.StringSliceP("listen", "l", []string{}, "listen addresses (default: all interfaces)")
	f.String("channel", models.DefaultChannel, "bridge channel identifier")
	f.String("adapter", "", "Bluetooth adapter to use, e.g. hci0 (default: first adapter)")
	f.String("permission-min-version", "5.50", "first BlueZ version that requires the connect permission")
	f.String("permission-mode", bluetooth.PermissionModeGroup, "connect permission check (group, polkit, none)")
	f.String("permission-group", "bluetooth", "group that grants the connect permission in group mode")
	f.String("permission-action", "", "polkit action id checked in polkit mode")
	f.Bool("report-rename-result", false, "report false when the adapter rejects a new name")
	f.Duration("call-timeout", 5*time.Second, "timeout for a single D-Bus call")
	f.Bool("mdns-enabled", true, "advertise the bridge via DNS-SD")
	f.String("mdns-instance", "", "DNS-SD instance name (default: system hostname)")
	f.Bool("tracing", false, "enable OpenTelemetry tracing")
	f.String("tracing-exporter", "stdout", "span exporter (stdout, noop)")
}
