package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SCRIBE"
	defaultHTTPAddress   = "0.0.0.0:5000"
	defaultDatabasePath  = "scribe.db"
	defaultLogLevel      = "info"
	defaultCORSOrigin    = "http://localhost:3000"
	defaultTokenTTLMin   = 720
	defaultQuietWindowMS = 1000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	DatabasePath  string
	CORSOrigin    string
	TokenTTL      time.Duration
	QuietWindow   time.Duration
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cors.origin", defaultCORSOrigin)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("editor.quiet_window_ms", defaultQuietWindowMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		DatabasePath:  configViper.GetString("database.path"),
		CORSOrigin:    configViper.GetString("cors.origin"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		QuietWindow:   time.Duration(configViper.GetInt("editor.quiet_window_ms")) * time.Millisecond,
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.QuietWindow <= 0 {
		return fmt.Errorf("editor.quiet_window_ms must be positive")
	}
	return nil
}
