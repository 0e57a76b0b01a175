package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/commercebridge/taxcore/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig
	Cache      CacheConfig
	Repository RepositoryConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

type CacheConfig struct {
	Enabled              bool
	ExpirationMinutes    int
	CleanupIntervalHours int
}

// RepositoryConfig selects the persistence backend. The in-memory backend
// serves local development without a database.
type RepositoryConfig struct {
	Backend string `validate:"omitempty,oneof=postgres inmemory"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/taxcore")

	// Set up environment variables support
	v.SetEnvPrefix("TAXCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 10)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.expirationminutes", 30)
	v.SetDefault("cache.cleanupintervalhours", 1)
	v.SetDefault("repository.backend", "postgres")

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c Configuration) Validate() error {
	return validator.New().Struct(c)
}

// GetDSN returns the postgres connection string
func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetDefaultConfig returns a default configuration for local development and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelInfo},
		Cache: CacheConfig{
			Enabled:              true,
			ExpirationMinutes:    30,
			CleanupIntervalHours: 1,
		},
		Repository: RepositoryConfig{Backend: "inmemory"},
	}
}
