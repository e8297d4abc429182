// Package config loads Dendrite's settings from defaults, an optional
// TOML file, environment variables, and CLI flags (in that precedence
// order, lowest to highest), backed by Viper.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	Bind string `mapstructure:"bind" json:"bind"`

	Scan ScanConfig `mapstructure:"scan" json:"scan"`

	CacheDir    string `mapstructure:"cache_dir" json:"cache_dir"`
	HCDFPath    string `mapstructure:"hcdf_path" json:"hcdf_path"`
	FirmwareURI string `mapstructure:"firmware_manifest_uri" json:"firmware_manifest_uri,omitempty"`

	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	DevMode bool `mapstructure:"dev_mode" json:"dev_mode"`
}

// ScanConfig configures the discovery scanner.
type ScanConfig struct {
	Subnet               string           `mapstructure:"subnet" json:"subnet"`
	PrefixLen            int              `mapstructure:"prefix_len" json:"prefix_len"`
	MCUmgrPort           uint16           `mapstructure:"mcumgr_port" json:"mcumgr_port"`
	IntervalSeconds      int              `mapstructure:"interval_seconds" json:"interval_seconds"`
	HeartbeatIntervalSec int              `mapstructure:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
	HeartbeatEnabled     bool             `mapstructure:"heartbeat_enabled" json:"heartbeat_enabled"`
	UseLLDP              bool             `mapstructure:"use_lldp" json:"use_lldp"`
	UseARP               bool             `mapstructure:"use_arp" json:"use_arp"`
	Parent               *ParentConfig    `mapstructure:"parent" json:"parent,omitempty"`
	Overrides            []DeviceOverride `mapstructure:"overrides" json:"overrides,omitempty"`
}

// ParentConfig describes the fixed parent board devices attach to.
type ParentConfig struct {
	Name  string  `mapstructure:"name" json:"name"`
	Board string  `mapstructure:"board" json:"board"`
	Ports uint8   `mapstructure:"ports" json:"ports"`
	IP    *string `mapstructure:"ip" json:"ip,omitempty"`
}

// DeviceOverride lets operators pin a name/port/model for a known hwid.
type DeviceOverride struct {
	HWID      string  `mapstructure:"hwid" json:"hwid"`
	Name      *string `mapstructure:"name" json:"name,omitempty"`
	Port      *uint8  `mapstructure:"port" json:"port,omitempty"`
	ModelPath *string `mapstructure:"model_path" json:"model_path,omitempty"`
}

// AuthConfig configures the optional bearer-token session check.
type AuthConfig struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled"`
	SessionFilePath string `mapstructure:"session_file_path" json:"session_file_path,omitempty"`
}

// maxCandidateHosts bounds subnet sweep candidate lists (Open Question a).
const maxCandidateHosts = 4096

// Load builds a *viper.Viper with defaults applied, reads the optional
// TOML file at path (if it exists), layers environment variables under
// the DENDRITE_ prefix, and unmarshals into a Config.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("dendrite")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind", "0.0.0.0:8080")
	v.SetDefault("scan.subnet", "192.168.1.0")
	v.SetDefault("scan.prefix_len", 24)
	v.SetDefault("scan.mcumgr_port", 1337)
	v.SetDefault("scan.interval_seconds", 60)
	v.SetDefault("scan.heartbeat_interval_seconds", 2)
	v.SetDefault("scan.heartbeat_enabled", false)
	v.SetDefault("scan.use_lldp", true)
	v.SetDefault("scan.use_arp", true)
	v.SetDefault("cache_dir", "./dendrite-cache")
	v.SetDefault("hcdf_path", "./dendrite.hcdf")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("dev_mode", false)
}

// Validate rejects configurations that violate the scan subnet's bounds
// (Open Question a/boundary behavior 11): a /0 network, or a prefix so
// short the candidate host list would blow past maxCandidateHosts.
func (c *Config) Validate() error {
	ip := net.ParseIP(c.Scan.Subnet)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("scan.subnet %q is not a valid IPv4 address", c.Scan.Subnet)
	}
	if c.Scan.PrefixLen <= 0 || c.Scan.PrefixLen > 32 {
		return fmt.Errorf("scan.prefix_len %d out of range", c.Scan.PrefixLen)
	}
	hostBits := 32 - c.Scan.PrefixLen
	if hostBits >= 32 {
		return fmt.Errorf("scan subnet /0 is not permitted")
	}
	if hostBits > 31 {
		return fmt.Errorf("scan subnet /0 is not permitted")
	}
	if (uint64(1) << uint(hostBits)) > maxCandidateHosts {
		return fmt.Errorf("scan.prefix_len %d yields too many candidate hosts (max %d)", c.Scan.PrefixLen, maxCandidateHosts)
	}
	return nil
}

// ScanInterval returns the deep-scan period as a time.Duration.
func (s ScanConfig) ScanInterval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat period as a time.Duration.
func (s ScanConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSec) * time.Second
}

// MaxCandidateHosts exposes the sweep cap to the discovery package.
func MaxCandidateHosts() int { return maxCandidateHosts }
