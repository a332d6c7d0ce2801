package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ClusterRule groups every hostname under Domains into the cluster ID
type ClusterRule struct {
	ID      string   `json:"id" mapstructure:"id"`
	Domains []string `json:"domains" mapstructure:"domains"`
}

// Config holds all runtime configuration parameters
type Config struct {
	SeedURLs         []string      `json:"seed_urls" mapstructure:"seed_urls"`
	MaxDepth         int           `json:"max_depth" mapstructure:"max_depth"`
	MaxHostsPerRoot  int           `json:"max_hosts_per_root" mapstructure:"max_hosts_per_root"`
	MaxOutboundLinks int           `json:"max_outbound_links" mapstructure:"max_outbound_links"`
	RequestTimeoutMs int           `json:"request_timeout_ms" mapstructure:"request_timeout_ms"`
	RequestDelayMs   int           `json:"request_delay_ms" mapstructure:"request_delay_ms"`
	UserAgent        string        `json:"user_agent" mapstructure:"user_agent"`
	Interactive      bool          `json:"interactive" mapstructure:"interactive"`
	DBPath           string        `json:"db_path" mapstructure:"db_path"`
	MetricsPath      string        `json:"metrics_path" mapstructure:"metrics_path"`
	ExportPath       string        `json:"export_path" mapstructure:"export_path"`
	Clusters         []ClusterRule `json:"clusters" mapstructure:"clusters"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("max_depth", 1)
	v.SetDefault("max_hosts_per_root", 3)
	v.SetDefault("max_outbound_links", 10)
	v.SetDefault("request_timeout_ms", 5000)
	v.SetDefault("request_delay_ms", 0)
	v.SetDefault("user_agent", "traffic-weaver")
	v.SetDefault("interactive", false)
	v.SetDefault("db_path", "weaver.db")
	v.SetDefault("metrics_path", "metrics.json")
	v.SetDefault("export_path", "")
}

// LoadConfig reads and validates configuration from a JSON file.
// WEAVER_* environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("WEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return LoadWithViper(v)
}

// LoadWithViper builds the configuration from an already populated viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for missing values; max_depth 0 is valid (seeds only)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.MaxHostsPerRoot == 0 {
		cfg.MaxHostsPerRoot = 3
	}
	if cfg.MaxOutboundLinks == 0 {
		cfg.MaxOutboundLinks = 10
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 5000
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "weaver.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if len(cfg.SeedURLs) == 0 {
		return fmt.Errorf("seed_urls is required")
	}
	for _, seed := range cfg.SeedURLs {
		if !strings.HasPrefix(seed, "http://") && !strings.HasPrefix(seed, "https://") {
			return fmt.Errorf("seed url %q must be http or https", seed)
		}
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if cfg.MaxHostsPerRoot < 1 {
		return fmt.Errorf("max_hosts_per_root must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RequestDelayMs < 0 {
		return fmt.Errorf("request_delay_ms must be >= 0")
	}

	seen := make(map[string]bool)
	for _, rule := range cfg.Clusters {
		if strings.TrimSpace(rule.ID) == "" {
			return fmt.Errorf("cluster rule needs an id")
		}
		if seen[rule.ID] {
			return fmt.Errorf("cluster id %q is used twice", rule.ID)
		}
		seen[rule.ID] = true
		if len(rule.Domains) == 0 {
			return fmt.Errorf("cluster %q needs at least one domain", rule.ID)
		}
	}
	return nil
}
