// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/log"
)

// Config is the top-level configuration of a capture session.
// Maps to the `tapcheck:` root key in YAML.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Interface InterfaceConfig `mapstructure:"interface"`
	Source    SourceConfig    `mapstructure:"source"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"` // trace / debug / info / warn / error
	Pattern string           `mapstructure:"pattern"`
	Time    string           `mapstructure:"time"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations. Console is always on.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
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

// LoggerConfig converts the section to the logger's own configuration.
func (c LogConfig) LoggerConfig() *log.LoggerConfig {
	lc := &log.LoggerConfig{
		Level:     c.Level,
		Pattern:   c.Pattern,
		Time:      c.Time,
		Appenders: []log.AppenderConfig{{Type: log.AppenderConsole}},
	}
	if c.Outputs.File.Enabled {
		lc.Appenders = append(lc.Appenders, log.AppenderConfig{
			Type: log.AppenderFile,
			File: log.FileAppenderOpt{
				Filename:   c.Outputs.File.Path,
				MaxSize:    c.Outputs.File.Rotation.MaxSizeMB,
				MaxBackups: c.Outputs.File.Rotation.MaxBackups,
				MaxAge:     c.Outputs.File.Rotation.MaxAgeDays,
				Compress:   c.Outputs.File.Rotation.Compress,
			},
		})
	}
	return lc
}

// ─── Metrics ───

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Reader ───

// ReaderConfig tunes the packet reader.
type ReaderConfig struct {
	Name      string        `mapstructure:"name"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`   // idle limit for a run
	Unmatched string        `mapstructure:"unmatched"` // fail / log / skip
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Reader ──
	if cfg.Reader.Name == "" {
		cfg.Reader.Name = "tapcheck"
	}
	if cfg.Reader.QueueSize <= 0 {
		cfg.Reader.QueueSize = 256
	}
	if cfg.Reader.Timeout < 0 {
		return fmt.Errorf("%w: reader.timeout must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Reader.Timeout == 0 {
		cfg.Reader.Timeout = 5 * time.Second
	}
	switch strings.ToLower(cfg.Reader.Unmatched) {
	case "":
		cfg.Reader.Unmatched = "fail"
	case "fail", "log", "skip":
		cfg.Reader.Unmatched = strings.ToLower(cfg.Reader.Unmatched)
	default:
		return fmt.Errorf("%w: reader.unmatched must be fail/log/skip, got %q", core.ErrConfigInvalid, cfg.Reader.Unmatched)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	if err := cfg.Interface.Validate(); err != nil {
		return err
	}
	return cfg.Source.Validate(&cfg.Interface)
}

func parseAddr(key, s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", core.ErrConfigInvalid, key, err)
	}
	return a, nil
}

func parseMAC(key, s string) (packet.MAC, error) {
	if s == "" {
		return packet.MAC{}, nil
	}
	m, err := packet.ParseMAC(s)
	if err != nil {
		return packet.MAC{}, fmt.Errorf("%w: %s: %w", core.ErrConfigInvalid, key, err)
	}
	return m, nil
}
