package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	MediatorURL      string `mapstructure:"MEDIATOR_URL"`
	MediatorUser     string `mapstructure:"MEDIATOR_USER"`
	MediatorPassword string `mapstructure:"MEDIATOR_PASSWORD"`
	MediatorClientID string `mapstructure:"MEDIATOR_CLIENT_ID"`
	MPIChannel       string `mapstructure:"MPI_CHANNEL"`
	SHRChannel       string `mapstructure:"SHR_CHANNEL"`

	HTTPTimeout        time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	BatchSize          int           `mapstructure:"BATCH_SIZE"`
	QueueTTL           time.Duration `mapstructure:"QUEUE_TTL"`
	ResolveConcurrency int           `mapstructure:"RESOLVE_CONCURRENCY"`
	DeadLetterDir      string        `mapstructure:"DEAD_LETTER_DIR"`
	SourceTag          string        `mapstructure:"SOURCE_TAG"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8060")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MPI_CHANNEL", "/CR/fhir")
	v.SetDefault("SHR_CHANNEL", "/SHR/fhir")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("BATCH_SIZE", 200)
	v.SetDefault("QUEUE_TTL", "24h")
	v.SetDefault("RESOLVE_CONCURRENCY", 10)
	v.SetDefault("DEAD_LETTER_DIR", "deadletter")
	v.SetDefault("SOURCE_TAG", "hie-sync")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MEDIATOR_URL")
	v.BindEnv("MEDIATOR_USER")
	v.BindEnv("MEDIATOR_PASSWORD")
	v.BindEnv("MEDIATOR_CLIENT_ID")
	v.BindEnv("MPI_CHANNEL")
	v.BindEnv("SHR_CHANNEL")
	v.BindEnv("HTTP_TIMEOUT")
	v.BindEnv("POLL_INTERVAL")
	v.BindEnv("SWEEP_INTERVAL")
	v.BindEnv("BATCH_SIZE")
	v.BindEnv("QUEUE_TTL")
	v.BindEnv("RESOLVE_CONCURRENCY")
	v.BindEnv("DEAD_LETTER_DIR")
	v.BindEnv("SOURCE_TAG")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run with. The source
// database and mediator endpoint are hard requirements; everything else has
// a usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.MediatorURL == "" {
		return fmt.Errorf("MEDIATOR_URL is required")
	}
	if c.MediatorUser == "" || c.MediatorPassword == "" {
		return fmt.Errorf("MEDIATOR_USER and MEDIATOR_PASSWORD are required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.QueueTTL <= 0 {
		return fmt.Errorf("QUEUE_TTL must be positive, got %s", c.QueueTTL)
	}
	if c.ResolveConcurrency <= 0 {
		return fmt.Errorf("RESOLVE_CONCURRENCY must be positive, got %d", c.ResolveConcurrency)
	}
	return nil
}
