// Package config provides hierarchical configuration loading for crmbridge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the crmbridge service.
type Config struct {
	Server   Server   `yaml:"server"`
	CRM      CRM      `yaml:"crm"`
	Auth     Auth     `yaml:"auth"`
	Rate     Rate     `yaml:"rate"`
	Inbound  Inbound  `yaml:"inbound"`
	Usage    Usage    `yaml:"usage"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Cache    Cache    `yaml:"cache"`
	Cron     Cron     `yaml:"cron"`
	Logging  Logging  `yaml:"logging"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	AppURL     string `yaml:"app_url"` // public base URL, used for OAuth redirects
}

// CRM holds upstream CRM API configuration.
type CRM struct {
	BaseURL      string        `yaml:"base_url"`
	APIVersion   string        `yaml:"api_version"` // fixed Version header on every call
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	LocationID   string        `yaml:"location_id"` // default tenant for single-location deployments
	PITToken     string        `yaml:"pit_token"`   // static fallback token for cron/internal callers
	Timeout      time.Duration `yaml:"timeout"`     // per-call HTTP timeout
	TokenFile    string        `yaml:"token_file"`  // path of the durable credential file; empty = user config dir
}

// Auth holds session authentication configuration.
type Auth struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	CookieName    string        `yaml:"cookie_name"`
	SessionExpiry time.Duration `yaml:"session_expiry"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
}

// Rate holds the outbound CRM rate limiter configuration.
type Rate struct {
	Capacity        int           `yaml:"capacity"`
	RefillPerSecond float64       `yaml:"refill_per_second"`
	DailyCap        int           `yaml:"daily_cap"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

// Inbound holds per-IP rate limiting for the public HTTP surface.
type Inbound struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Usage holds API usage metering configuration.
type Usage struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Postgres holds the optional usage-rollup store configuration.
// An empty DSN disables persistence and keeps counters in memory only.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// NATS holds the optional event publisher configuration.
// An empty URL disables event publishing.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Cache holds the in-process contact lookup cache configuration.
type Cache struct {
	MaxSizeMB  int64         `yaml:"max_size_mb"`
	ContactTTL time.Duration `yaml:"contact_ttl"`
}

// Cron holds scheduled prediction cycle configuration.
type Cron struct {
	Secret        string `yaml:"secret"`
	PredictionAPI string `yaml:"prediction_api"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			AppURL:     "http://localhost:8080",
		},
		CRM: CRM{
			BaseURL:    "https://services.leadconnectorhq.com",
			APIVersion: "2021-07-28",
			AuthURL:    "https://marketplace.leadconnectorhq.com/oauth/chooselocation",
			TokenURL:   "https://services.leadconnectorhq.com/oauth/token",
			Timeout:    30 * time.Second,
		},
		Auth: Auth{
			CookieName:    "0ndata-session",
			SessionExpiry: 24 * time.Hour,
			BcryptCost:    12,
		},
		Rate: Rate{
			Capacity:        100,
			RefillPerSecond: 10,
			DailyCap:        200_000,
			InitialBackoff:  time.Second,
			MaxBackoff:      8 * time.Second,
		},
		Inbound: Inbound{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Usage: Usage{
			Enabled:       true,
			FlushInterval: 5 * time.Minute,
		},
		Postgres: Postgres{
			MaxConns: 5,
		},
		NATS: NATS{
			SubjectPrefix: "crm",
		},
		Cache: Cache{
			MaxSizeMB:  16,
			ContactTTL: time.Minute,
		},
		Cron: Cron{
			PredictionAPI: "https://www.jaxxai.com",
		},
		Logging: Logging{
			Level:   "info",
			Service: "crmbridge",
		},
	}
}
