package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// configRoot is the top-level wrapper matching the YAML structure `tapcheck: ...`.
type configRoot struct {
	Tapcheck Config `mapstructure:"tapcheck"`
}

// Load loads configuration from file. An empty path yields defaults plus
// environment overrides.
// The YAML file uses `tapcheck:` as root key; env vars use the TAPCHECK_ prefix
// (e.g. TAPCHECK_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `tapcheck.` key prefix maps to TAPCHECK_ through the key replacer
	// (key "tapcheck.log.level" → env "TAPCHECK_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Tapcheck

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "tapcheck." prefix to match the YAML root wrapper, and every
// key that should be overridable from the environment needs one.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("tapcheck.log.level", "info")
	v.SetDefault("tapcheck.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("tapcheck.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("tapcheck.log.outputs.file.enabled", false)
	v.SetDefault("tapcheck.log.outputs.file.path", "/var/log/tapcheck/tapcheck.log")
	v.SetDefault("tapcheck.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tapcheck.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tapcheck.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tapcheck.log.outputs.file.rotation.compress", true)

	// Interface defaults
	v.SetDefault("tapcheck.interface.type", "tap")
	v.SetDefault("tapcheck.interface.name", "")
	v.SetDefault("tapcheck.interface.path", "")
	v.SetDefault("tapcheck.interface.link_type", "")
	v.SetDefault("tapcheck.interface.local_ip", "")
	v.SetDefault("tapcheck.interface.remote_ip", "")
	v.SetDefault("tapcheck.interface.destination_ip", "")
	v.SetDefault("tapcheck.interface.mac", "")
	v.SetDefault("tapcheck.interface.peer_mac", "")

	// Source defaults
	v.SetDefault("tapcheck.source.type", "device")
	v.SetDefault("tapcheck.source.strategy", "direct")
	v.SetDefault("tapcheck.source.buffer_size", 65536)
	v.SetDefault("tapcheck.source.pcap_file", "")
	v.SetDefault("tapcheck.source.record", "")
	v.SetDefault("tapcheck.source.afpacket.device", "")
	v.SetDefault("tapcheck.source.afpacket.buffer_size_mb", 2)
	v.SetDefault("tapcheck.source.afpacket.poll_timeout", "50ms")

	// Reader defaults
	v.SetDefault("tapcheck.reader.name", "tapcheck")
	v.SetDefault("tapcheck.reader.queue_size", 256)
	v.SetDefault("tapcheck.reader.timeout", "5s")
	v.SetDefault("tapcheck.reader.unmatched", "fail")

	// Metrics defaults
	v.SetDefault("tapcheck.metrics.enabled", false)
	v.SetDefault("tapcheck.metrics.listen", ":9091")
	v.SetDefault("tapcheck.metrics.path", "/metrics")
}
