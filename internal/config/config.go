package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS,required"`
	Environment   string `env:"ENVIRONMENT,required"`
	LogLevel      string `env:"LOG_LEVEL"`
	Database      DatabaseConfig
	Migration     MigrationConfig
	SII           SIIConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST,required"`
	Port     int    `env:"DB_PORT,required"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD,required"`
	Name     string `env:"DB_NAME,required"`
	Params   string `env:"DB_PARAMS,required"`
}

type MigrationConfig struct {
	Dir string `env:"MIGRATION_DIR"`
}

// SIIConfig describes the remote tax-authority integration. The endpoint
// shapes and the session bootstrap sequence change between SII releases, so
// all of it is configuration rather than code.
type SIIConfig struct {
	BaseURL        string `env:"SII_BASE_URL"`
	AuthURL        string `env:"SII_AUTH_URL"`
	TokenCookie    string `env:"SII_TOKEN_COOKIE"`
	BootstrapSteps string `env:"SII_BOOTSTRAP_STEPS"`
	TimeoutSeconds int    `env:"SII_TIMEOUT_SECONDS"`
	LegacyPKCS12   bool   `env:"SII_P12_LEGACY"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SII_BASE_URL", "https://www4.sii.cl")
	viper.SetDefault("SII_AUTH_URL", "https://zeusr.sii.cl/cgi_AUT2000/CAutInicio.cgi")
	viper.SetDefault("SII_TOKEN_COOKIE", "CSESSIONID")
	viper.SetDefault("SII_TIMEOUT_SECONDS", 60)

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		SII: SIIConfig{
			BaseURL:        viper.GetString("SII_BASE_URL"),
			AuthURL:        viper.GetString("SII_AUTH_URL"),
			TokenCookie:    viper.GetString("SII_TOKEN_COOKIE"),
			BootstrapSteps: viper.GetString("SII_BOOTSTRAP_STEPS"),
			TimeoutSeconds: viper.GetInt("SII_TIMEOUT_SECONDS"),
			LegacyPKCS12:   viper.GetBool("SII_P12_LEGACY"),
		},
	}

	return config, nil
}

// Timeout returns the SII request timeout as a duration.
func (s SIIConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
