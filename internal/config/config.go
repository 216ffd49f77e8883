package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Discovery modes select which backends run a sweep.
const (
	DiscoveryModeSSDP   = "ssdp"
	DiscoveryModeMDNS   = "mdns"
	DiscoveryModeStatic = "static"
	DiscoveryModeAll    = "all"
)

// Config holds the server configuration.
type Config struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	DiscoveryMode       string   `yaml:"discovery_mode"`
	DiscoveryTimeoutMs  int      `yaml:"discovery_timeout_ms"`
	SSDPDiscoveryPasses int      `yaml:"ssdp_discovery_passes"`
	SSDPPassIntervalMs  int      `yaml:"ssdp_pass_interval_ms"`
	ResolveTimeoutMs    int      `yaml:"resolve_timeout_ms"`
	RescanSchedule      string   `yaml:"rescan_schedule"`
	StaticDeviceIPs     []string `yaml:"static_device_ips"`

	SonosTimeoutMs int `yaml:"sonos_timeout_ms"`
	SonosPort      int `yaml:"sonos_port"`

	// SweepLogRetention caps the number of sweep records kept in SQLite.
	SweepLogRetention int  `yaml:"sweep_log_retention"`
	MetricsEnabled    bool `yaml:"metrics_enabled"`
	DemoMode          bool `yaml:"demo_mode"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                "9000",
		SQLiteDBPath:        "./data/sonos-fleet.db",
		DiscoveryMode:       DiscoveryModeSSDP,
		DiscoveryTimeoutMs:  10000,
		SSDPDiscoveryPasses: 3,
		SSDPPassIntervalMs:  2000,
		ResolveTimeoutMs:    15000,
		RescanSchedule:      "@every 1m",
		StaticDeviceIPs:     []string{},
		SonosTimeoutMs:      5000,
		SonosPort:           1400,
		SweepLogRetention:   500,
		MetricsEnabled:      true,
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envString("PORT", cfg.Port)
	// SQLITE_DB_PATH may be set to empty to disable the sweep log
	if val, ok := os.LookupEnv("SQLITE_DB_PATH"); ok {
		cfg.SQLiteDBPath = strings.TrimSpace(val)
	}
	cfg.DiscoveryMode = strings.ToLower(envString("DISCOVERY_MODE", cfg.DiscoveryMode))
	cfg.DiscoveryTimeoutMs = envInt("DISCOVERY_TIMEOUT_MS", cfg.DiscoveryTimeoutMs)
	cfg.SSDPDiscoveryPasses = envInt("SSDP_DISCOVERY_PASSES", cfg.SSDPDiscoveryPasses)
	cfg.SSDPPassIntervalMs = envInt("SSDP_PASS_INTERVAL_MS", cfg.SSDPPassIntervalMs)
	cfg.ResolveTimeoutMs = envInt("RESOLVE_TIMEOUT_MS", cfg.ResolveTimeoutMs)
	if val, ok := os.LookupEnv("RESCAN_SCHEDULE"); ok {
		cfg.RescanSchedule = strings.TrimSpace(val)
	}
	if ips := envCSV("STATIC_DEVICE_IPS"); len(ips) > 0 {
		cfg.StaticDeviceIPs = ips
	}
	cfg.SonosTimeoutMs = envInt("SONOS_TIMEOUT_MS", cfg.SonosTimeoutMs)
	cfg.SonosPort = envInt("SONOS_PORT", cfg.SonosPort)
	cfg.SweepLogRetention = envInt("SWEEP_LOG_RETENTION", cfg.SweepLogRetention)
	cfg.MetricsEnabled = envBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.DemoMode = envBool("DEMO_MODE", cfg.DemoMode)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.DiscoveryMode {
	case DiscoveryModeSSDP, DiscoveryModeMDNS, DiscoveryModeStatic, DiscoveryModeAll:
	default:
		return fmt.Errorf("DISCOVERY_MODE must be one of ssdp, mdns, static, all (got %q)", c.DiscoveryMode)
	}
	if c.DiscoveryMode == DiscoveryModeStatic && len(c.StaticDeviceIPs) == 0 {
		return fmt.Errorf("DISCOVERY_MODE=static requires STATIC_DEVICE_IPS")
	}
	if c.DiscoveryTimeoutMs <= 0 {
		return fmt.Errorf("DISCOVERY_TIMEOUT_MS must be positive")
	}
	if c.ResolveTimeoutMs <= 0 {
		return fmt.Errorf("RESOLVE_TIMEOUT_MS must be positive")
	}
	if c.SonosPort <= 0 || c.SonosPort > 65535 {
		return fmt.Errorf("SONOS_PORT out of range: %d", c.SonosPort)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
