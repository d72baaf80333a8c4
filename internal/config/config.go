package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of both the backend and the sync client.
type Config struct {
	Env    string       `yaml:"env"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Port         string `yaml:"port"`
	DatabaseURL  string `yaml:"database_url"`
	JWTSecret    string `yaml:"jwt_secret"`
	AllowOrigins string `yaml:"allow_origins"`
	Migrate      bool   `yaml:"migrate"`
}

// ClientConfig configures the sync core.
type ClientConfig struct {
	APIBaseURL        string        `yaml:"api_base_url"`
	WSURL             string        `yaml:"ws_url"`
	Token             string        `yaml:"token"`
	PageSize          int           `yaml:"page_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	TypingQuietPeriod time.Duration `yaml:"typing_quiet_period"`
	RemoteTypingTTL   time.Duration `yaml:"remote_typing_ttl"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:         "8080",
			AllowOrigins: "http://localhost:3000",
			Migrate:      true,
		},
		Client: ClientConfig{
			APIBaseURL:        "http://localhost:8080/api/v1",
			WSURL:             "ws://localhost:8080/api/v1/ws",
			PageSize:          50,
			RequestTimeout:    10 * time.Second,
			TypingQuietPeriod: 2 * time.Second,
			RemoteTypingTTL:   5 * time.Second,
			ReconnectMaxDelay: 30 * time.Second,
		},
	}
}

// Load reads the optional YAML file at path, then .env, then the environment.
// Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	// A missing .env is fine
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "APP_ENV")
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.DatabaseURL, "DATABASE_URL")
	setString(&c.Server.JWTSecret, "JWT_SECRET")
	setString(&c.Server.AllowOrigins, "ALLOW_ORIGINS")
	setString(&c.Client.APIBaseURL, "API_BASE_URL")
	setString(&c.Client.WSURL, "WS_URL")
	setString(&c.Client.Token, "API_TOKEN")

	if v := os.Getenv("DB_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DB_MIGRATE: %w", err)
		}
		c.Server.Migrate = b
	}
	if v := os.Getenv("PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PAGE_SIZE: %w", err)
		}
		c.Client.PageSize = n
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT":     &c.Client.RequestTimeout,
		"TYPING_QUIET_PERIOD": &c.Client.TypingQuietPeriod,
		"REMOTE_TYPING_TTL":   &c.Client.RemoteTypingTTL,
		"RECONNECT_MAX_DELAY": &c.Client.ReconnectMaxDelay,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Validate checks values that would otherwise fail far from where they are set.
func (c *Config) Validate() error {
	if c.Client.PageSize < 1 || c.Client.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", c.Client.PageSize)
	}
	if c.Client.TypingQuietPeriod <= 0 {
		return errors.New("typing_quiet_period must be positive")
	}
	if c.Client.RemoteTypingTTL <= 0 {
		return errors.New("remote_typing_ttl must be positive")
	}
	return nil
}

// IsDevelopment reports whether the development environment is selected.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
