package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	USGS      USGSConfig      `yaml:"usgs" mapstructure:"usgs"`
	CalGW     CalGWConfig     `yaml:"calgw" mapstructure:"calgw"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Potential PotentialConfig `yaml:"potential" mapstructure:"potential"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	Pool PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// USGSConfig configures the 3DEP elevation service.
type USGSConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Resolution int    `yaml:"resolution" mapstructure:"resolution"`
}

// CalGWConfig configures the California groundwater data sources.
type CalGWConfig struct {
	CurrentLevelsURL    string `yaml:"current_levels_url" mapstructure:"current_levels_url"`
	PercentileStatsURL  string `yaml:"percentile_stats_url" mapstructure:"percentile_stats_url"`
	SeasonalChangeURL   string `yaml:"seasonal_change_url" mapstructure:"seasonal_change_url"`
	LongTermTrendsURL   string `yaml:"long_term_trends_url" mapstructure:"long_term_trends_url"`
	CKANBaseURL         string `yaml:"ckan_base_url" mapstructure:"ckan_base_url"`
	StationsResource    string `yaml:"stations_resource" mapstructure:"stations_resource"`
	MeasurementResource string `yaml:"measurement_resource" mapstructure:"measurement_resource"`
}

// FetchConfig configures outbound HTTP behavior.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// PotentialConfig holds defaults for the potential computation.
type PotentialConfig struct {
	Unit        string `yaml:"unit" mapstructure:"unit"`
	LatColumn   string `yaml:"lat_column" mapstructure:"lat_column"`
	LonColumn   string `yaml:"lon_column" mapstructure:"lon_column"`
	SiteColumn  string `yaml:"site_column" mapstructure:"site_column"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable for the given mode.
// Shared limits are checked for every mode; mode-specific requirements
// are checked on top.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Potential.Concurrency < 1 || c.Potential.Concurrency > 32 {
		problems = append(problems, "potential.concurrency must be between 1 and 32")
	}
	if c.USGS.Resolution < 1 || c.USGS.Resolution > 2000 {
		problems = append(problems, "usgs.resolution must be between 1 and 2000")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "store":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "fetch":
		// No storage requirements; shared checks only.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GWCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "groundwater.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("usgs.base_url", "https://elevation.nationalmap.gov/arcgis/rest/services/3DEPElevation/ImageServer")
	v.SetDefault("usgs.resolution", 500)
	v.SetDefault("calgw.ckan_base_url", "https://data.cnra.ca.gov/api/3/action")
	v.SetDefault("fetch.user_agent", "groundwater-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("potential.unit", "ft")
	v.SetDefault("potential.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
