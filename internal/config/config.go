// Package config loads tagstore settings from TOML files and TAGSTORE_*
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/nainya/tagstore/internal/tracing"
)

// Config is the full tagstore configuration.
type Config struct {
	Scene    SceneConfig    `mapstructure:"scene"`
	Catalogs CatalogsConfig `mapstructure:"catalogs"`
	Search   SearchConfig   `mapstructure:"search"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

// SceneConfig selects the scene the tools operate on.
type SceneConfig struct {
	// Path is a SQLite scene file, or a YAML document when it ends in .yaml/.yml.
	Path      string `mapstructure:"path"`
	Exclusive bool   `mapstructure:"exclusive"`
}

// CatalogsConfig extends and narrows the tag registry.
type CatalogsConfig struct {
	// Files are YAML catalog overlays merged over the standard registry in order.
	Files []string `mapstructure:"files"`
	// Departments restricts searches and resolution. Empty means all.
	Departments []string `mapstructure:"departments"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	Terms           []string `mapstructure:"terms"`
	UserDefinedOnly bool     `mapstructure:"user_defined_only"`
	Exact           bool     `mapstructure:"exact"`
	CacheTTLSeconds int      `mapstructure:"cache_ttl_seconds"`
}

// ResolveConfig holds the ambiguity policy.
type ResolveConfig struct {
	// Policy is "fail", "first" or "prompt".
	Policy string `mapstructure:"policy"`
}

// MetadataConfig holds provenance settings.
type MetadataConfig struct {
	// User overrides the login name recorded in provenance.
	User      string `mapstructure:"user"`
	Attribute string `mapstructure:"attribute"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GrpcAddr    string `mapstructure:"grpc_addr"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scene.path", "scene.db")
	v.SetDefault("scene.exclusive", true)

	v.SetDefault("catalogs.files", []string{})
	v.SetDefault("catalogs.departments", []string{})

	v.SetDefault("search.terms", []string{})
	v.SetDefault("search.user_defined_only", true)
	v.SetDefault("search.exact", true)
	v.SetDefault("search.cache_ttl_seconds", 30)

	v.SetDefault("resolve.policy", "fail")

	v.SetDefault("metadata.user", "")
	v.SetDefault("metadata.attribute", "tagsMetaData")

	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)
	v.SetDefault("logging.with_caller", false)

	d := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", d.Enabled)
	v.SetDefault("tracing.exporter", d.Exporter)
	v.SetDefault("tracing.file_path", d.FilePath)
	v.SetDefault("tracing.sample_rate", d.SampleRate)
	v.SetDefault("tracing.service_name", d.ServiceName)
}

// New returns a viper instance with defaults and environment binding but no
// config file.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TAGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("toml")
	SetDefaults(v)
	return v
}

// Load reads configuration into v. An explicit path must exist; otherwise the
// first of ./tagstore.toml and ~/.config/tagstore/config.toml is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Resolve.Policy {
	case "", "fail", "first", "prompt":
	default:
		return errors.WithHint(errors.Newf("invalid resolve.policy %q", c.Resolve.Policy),
			"use one of fail, first, prompt")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.Newf("invalid logging.level %q", c.Logging.Level)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return errors.Newf("invalid server.metrics_port %d", c.Server.MetricsPort)
	}
	if c.Search.CacheTTLSeconds < 0 {
		return errors.Newf("invalid search.cache_ttl_seconds %d", c.Search.CacheTTLSeconds)
	}
	if c.Metadata.Attribute == "" {
		return errors.New("metadata.attribute must not be empty")
	}
	return nil
}

func findConfig() string {
	candidates := []string{"tagstore.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "tagstore", "config.toml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
