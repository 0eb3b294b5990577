// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration. Maps to the
// `nbstack:` root key in YAML.
type GlobalConfig struct {
	Devices     []DeviceConfig    `mapstructure:"devices"`
	Reassembly  ReassemblyConfig  `mapstructure:"reassembly"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	PcapCapture PcapCaptureConfig `mapstructure:"pcap_capture"`
}

// ─── Devices ───

// DeviceConfig describes one network device to bring up.
type DeviceConfig struct {
	Name             string `mapstructure:"name"`
	MTU              int    `mapstructure:"mtu"`
	HWAddr           string `mapstructure:"hw_addr"`
	LocalIP          string `mapstructure:"local_ip"`
	Mask             string `mapstructure:"mask"`
	Gateway          string `mapstructure:"gateway"`
	RXMax            int    `mapstructure:"rx_max"`
	ProcessingWeight int    `mapstructure:"processing_weight"`
}

// PcapCaptureConfig configures the pcap-file driver backing a device.
type PcapCaptureConfig struct {
	Sources []string `mapstructure:"sources"`
	Output  string   `mapstructure:"output"`
	Snaplen int      `mapstructure:"snaplen"`
}

// ─── Reassembly ───

// ReassemblyConfig controls IPv4 fragment reassembly.
type ReassemblyConfig struct {
	Timeout      string `mapstructure:"timeout"`
	MaxFragments int    `mapstructure:"max_fragments"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `nbstack: ...`.
type configRoot struct {
	NBStack GlobalConfig `mapstructure:"nbstack"`
}

// Load loads configuration from path. The YAML file uses `nbstack:` as
// root key; env vars use NBSTACK_ prefix (e.g. NBSTACK_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.NBStack

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("nbstack.log.level", "info")
	v.SetDefault("nbstack.log.format", "json")
	v.SetDefault("nbstack.log.outputs.file.enabled", false)
	v.SetDefault("nbstack.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("nbstack.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("nbstack.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("nbstack.log.outputs.file.rotation.compress", true)

	v.SetDefault("nbstack.metrics.enabled", true)
	v.SetDefault("nbstack.metrics.listen", ":9101")
	v.SetDefault("nbstack.metrics.path", "/metrics")

	v.SetDefault("nbstack.reassembly.timeout", "30s")
	v.SetDefault("nbstack.reassembly.max_fragments", 10000)

	v.SetDefault("nbstack.pcap_capture.snaplen", 65535)
}

// ValidateAndApplyDefaults validates configuration and applies
// per-device defaults (MTU 1500, rx_max 64, and a processing weight of
// MTU*rx_max). Every device must name itself; no name is derived.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if d.MTU <= 0 {
			d.MTU = 1500
		}
		if net.ParseIP(d.LocalIP) == nil {
			return fmt.Errorf("devices[%d] (%s): invalid local_ip %q", i, d.Name, d.LocalIP)
		}
		if net.ParseIP(d.Mask) == nil {
			return fmt.Errorf("devices[%d] (%s): invalid mask %q", i, d.Name, d.Mask)
		}
		if d.Gateway != "" && net.ParseIP(d.Gateway) == nil {
			return fmt.Errorf("devices[%d] (%s): invalid gateway %q", i, d.Name, d.Gateway)
		}
		if _, err := net.ParseMAC(d.HWAddr); err != nil {
			return fmt.Errorf("devices[%d] (%s): invalid hw_addr %q: %w", i, d.Name, d.HWAddr, err)
		}
		if d.RXMax <= 0 {
			d.RXMax = 64
		}
		if d.ProcessingWeight <= 0 {
			d.ProcessingWeight = d.MTU * d.RXMax
		}
	}

	return nil
}
