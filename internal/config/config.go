// Package config provides configuration management for iocpipe.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all iocpipe configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig holds enrichment run settings.
type PipelineConfig struct {
	Concurrency  int  `yaml:"concurrency"`
	BatchSize    int  `yaml:"batch_size"`
	Limit        int  `yaml:"limit"`
	SkipWhois    bool `yaml:"skip_whois"`
	SkipExternal bool `yaml:"skip_external"`
}

// CacheConfig holds lookup cache settings. Backend is memory or
// redis.
type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`

	BundleTTL     time.Duration `yaml:"bundle_ttl"`
	DNSTTL        time.Duration `yaml:"dns_ttl"`
	GeoTTL        time.Duration `yaml:"geo_ttl"`
	WhoisTTL      time.Duration `yaml:"whois_ttl"`
	ReputationTTL time.Duration `yaml:"reputation_ttl"`
}

// StoreConfig holds document store settings. Type is memory, sqlite,
// or mysql.
type StoreConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// ProvidersConfig holds enrichment provider settings.
type ProvidersConfig struct {
	DNS       DNSConfig       `yaml:"dns"`
	Whois     WhoisConfig     `yaml:"whois"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
	AbuseIPDB AbuseIPDBConfig `yaml:"abuseipdb"`
	OTX       OTXConfig       `yaml:"otx"`
}

// DNSConfig holds forward/reverse DNS settings.
type DNSConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// WhoisConfig holds WHOIS client settings.
type WhoisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Server  string        `yaml:"server"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeoIPConfig holds the MaxMind database location.
type GeoIPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	MMDBPath string `yaml:"mmdb_path"`
}

// AbuseIPDBConfig holds AbuseIPDB settings.
type AbuseIPDBConfig struct {
	Enabled      bool          `yaml:"enabled"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    int           `yaml:"rate_limit"`
	MaxAgeInDays int           `yaml:"max_age_in_days"`
}

// OTXConfig holds AlienVault OTX settings.
type OTXConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"`
}

// ScoringConfig holds risk bucket thresholds.
type ScoringConfig struct {
	HighThreshold   int `yaml:"high_threshold"`
	MediumThreshold int `yaml:"medium_threshold"`
}

// JournalConfig holds the enrichment journal location.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			Concurrency: 8,
			BatchSize:   100,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      10,
			BundleTTL:     24 * time.Hour,
			DNSTTL:        6 * time.Hour,
			GeoTTL:        7 * 24 * time.Hour,
			WhoisTTL:      7 * 24 * time.Hour,
			ReputationTTL: 12 * time.Hour,
		},
		Store: StoreConfig{
			Type: "sqlite",
			DSN:  "iocpipe.db",
		},
		Providers: ProvidersConfig{
			DNS: DNSConfig{
				Enabled: true,
				Timeout: 5 * time.Second,
			},
			Whois: WhoisConfig{
				Enabled: true,
				Timeout: 10 * time.Second,
			},
			GeoIP: GeoIPConfig{
				Enabled:  false,
				MMDBPath: "GeoLite2-City.mmdb",
			},
			AbuseIPDB: AbuseIPDBConfig{
				Enabled:      false,
				APIKeyEnv:    "ABUSEIPDB_API_KEY",
				Timeout:      12 * time.Second,
				RateLimit:    60,
				MaxAgeInDays: 90,
			},
			OTX: OTXConfig{
				Enabled:   false,
				APIKeyEnv: "OTX_API_KEY",
				Timeout:   12 * time.Second,
				RateLimit: 60,
			},
		},
		Scoring: ScoringConfig{
			HighThreshold:   70,
			MediumThreshold: 40,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/enrichment.jsonl",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}
	switch c.Store.Type {
	case "", "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
	if c.Scoring.HighThreshold < c.Scoring.MediumThreshold {
		return fmt.Errorf("high threshold %d below medium threshold %d",
			c.Scoring.HighThreshold, c.Scoring.MediumThreshold)
	}
	if c.Pipeline.Concurrency < 0 || c.Pipeline.BatchSize < 0 {
		return fmt.Errorf("pipeline concurrency and batch size must not be negative")
	}
	return nil
}

// EnabledProviders returns a list of enabled enrichment providers.
func (c *Config) EnabledProviders() []string {
	var providers []string
	if c.Providers.DNS.Enabled {
		providers = append(providers, "dns")
	}
	if c.Providers.Whois.Enabled {
		providers = append(providers, "whois")
	}
	if c.Providers.GeoIP.Enabled {
		providers = append(providers, "geoip")
	}
	if c.Providers.AbuseIPDB.Enabled {
		providers = append(providers, "abuseipdb")
	}
	if c.Providers.OTX.Enabled {
		providers = append(providers, "otx")
	}
	return providers
}
