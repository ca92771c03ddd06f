package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dealwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	API        APIConfig        `mapstructure:"api"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs evaluation and expiry sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// IngestConfig covers the price observation feed client.
type IngestConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	BatchLimit     int           `mapstructure:"batch_limit"`
}

// CatalogConfig captures game catalog connectivity.
type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DispatchConfig routes triggered alerts to the notification service.
type DispatchConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	QueueSize      int           `mapstructure:"queue_size"`
	EnqueueWait    time.Duration `mapstructure:"enqueue_wait"`
	Workers        int           `mapstructure:"workers"`
}

// AlertsConfig defines alert lifecycle policy.
type AlertsConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// ScoringConfig supplies the rating inputs the deal score derivation needs.
type ScoringConfig struct {
	HomeRegion        string             `mapstructure:"home_region"`
	DefaultStoreTrust float64            `mapstructure:"default_store_trust"`
	StoreTrust        map[string]float64 `mapstructure:"store_trust"`
	DefaultEdition    float64            `mapstructure:"default_edition_value"`
	EditionValue      map[string]float64 `mapstructure:"edition_value"`
	HistoryWindow     time.Duration      `mapstructure:"history_window"`
}

// PredictionConfig overrides forecast history sufficiency policy.
type PredictionConfig struct {
	MinObservations int           `mapstructure:"min_observations"`
	MinSpan         time.Duration `mapstructure:"min_span"`
}

// APIConfig governs the HTTP API surface.
type APIConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	ListenAddr       string   `mapstructure:"listen_addr"`
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dealwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.sweep_interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6465616c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ingest.request_timeout", "10s")
	v.SetDefault("ingest.user_agent", "dealwatch/1.0")
	v.SetDefault("ingest.batch_limit", 1000)

	v.SetDefault("catalog.request_timeout", "10s")

	v.SetDefault("dispatch.request_timeout", "10s")
	v.SetDefault("dispatch.rate_per_second", 20.0)
	v.SetDefault("dispatch.burst", 10)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.enqueue_wait", "2s")
	v.SetDefault("dispatch.workers", 4)

	// 90 days.
	v.SetDefault("alerts.max_age", "2160h")

	v.SetDefault("scoring.home_region", "US")
	v.SetDefault("scoring.default_store_trust", 70.0)
	v.SetDefault("scoring.default_edition_value", 80.0)
	v.SetDefault("scoring.history_window", "2160h")

	v.SetDefault("prediction.min_observations", 3)
	// 14 days.
	v.SetDefault("prediction.min_span", "336h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.cors_allow_origins", []string{"*"})

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler.sweep_interval must be greater than zero")
	}
	if c.Alerts.MaxAge <= 0 {
		return fmt.Errorf("alerts.max_age must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scoring.DefaultStoreTrust < 0 || c.Scoring.DefaultStoreTrust > 100 {
		return fmt.Errorf("scoring.default_store_trust must be within [0,100]")
	}
	for store, trust := range c.Scoring.StoreTrust {
		if trust < 0 || trust > 100 {
			return fmt.Errorf("scoring.store_trust.%s must be within [0,100]", store)
		}
	}
	if c.Scoring.DefaultEdition < 0 || c.Scoring.DefaultEdition > 100 {
		return fmt.Errorf("scoring.default_edition_value must be within [0,100]")
	}
	for edition, value := range c.Scoring.EditionValue {
		if value < 0 || value > 100 {
			return fmt.Errorf("scoring.edition_value.%s must be within [0,100]", edition)
		}
	}
	if c.Prediction.MinObservations < 2 {
		return fmt.Errorf("prediction.min_observations must be at least 2")
	}
	if c.Prediction.MinSpan <= 0 {
		return fmt.Errorf("prediction.min_span must be greater than zero")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr must be set when the api is enabled")
	}
	return nil
}

// StoreTrustFor resolves the trust rating for a store id.
func (c *Config) StoreTrustFor(storeID string) float64 {
	if trust, ok := c.Scoring.StoreTrust[storeID]; ok {
		return trust
	}
	return c.Scoring.DefaultStoreTrust
}

// EditionValueFor resolves the value rating for an edition name.
func (c *Config) EditionValueFor(edition string) float64 {
	if edition == "" {
		return c.Scoring.DefaultEdition
	}
	if value, ok := c.Scoring.EditionValue[strings.ToLower(edition)]; ok {
		return value
	}
	return c.Scoring.DefaultEdition
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
