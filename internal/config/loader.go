package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "crmbridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CRMBRIDGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CRMBRIDGE_CORS_ORIGIN")
	setString(&cfg.Server.AppURL, "APP_URL")

	setString(&cfg.CRM.BaseURL, "CRM_BASE_URL")
	setString(&cfg.CRM.APIVersion, "CRM_API_VERSION")
	setString(&cfg.CRM.AuthURL, "CRM_AUTH_URL")
	setString(&cfg.CRM.TokenURL, "CRM_TOKEN_URL")
	setString(&cfg.CRM.ClientID, "CRM_CLIENT_ID")
	setString(&cfg.CRM.ClientSecret, "CRM_CLIENT_SECRET")
	setString(&cfg.CRM.RedirectURI, "CRM_REDIRECT_URI")
	setString(&cfg.CRM.LocationID, "CRM_LOCATION_ID")
	setString(&cfg.CRM.PITToken, "CRM_PIT_TOKEN")
	setDuration(&cfg.CRM.Timeout, "CRM_TIMEOUT")
	setString(&cfg.CRM.TokenFile, "CRM_TOKEN_FILE")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.CookieName, "CRMBRIDGE_COOKIE_NAME")
	setDuration(&cfg.Auth.SessionExpiry, "CRMBRIDGE_SESSION_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "CRMBRIDGE_BCRYPT_COST")

	setInt(&cfg.Rate.Capacity, "CRMBRIDGE_RATE_CAPACITY")
	setFloat64(&cfg.Rate.RefillPerSecond, "CRMBRIDGE_RATE_REFILL")
	setInt(&cfg.Rate.DailyCap, "CRMBRIDGE_RATE_DAILY_CAP")
	setDuration(&cfg.Rate.InitialBackoff, "CRMBRIDGE_RATE_INITIAL_BACKOFF")
	setDuration(&cfg.Rate.MaxBackoff, "CRMBRIDGE_RATE_MAX_BACKOFF")

	setFloat64(&cfg.Inbound.RequestsPerSecond, "CRMBRIDGE_INBOUND_RPS")
	setInt(&cfg.Inbound.Burst, "CRMBRIDGE_INBOUND_BURST")

	setBool(&cfg.Usage.Enabled, "USAGE_TRACKING_ENABLED")
	setDuration(&cfg.Usage.FlushInterval, "USAGE_FLUSH_INTERVAL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CRMBRIDGE_PG_MAX_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "CRMBRIDGE_NATS_PREFIX")

	setInt64(&cfg.Cache.MaxSizeMB, "CRMBRIDGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.ContactTTL, "CRMBRIDGE_CACHE_CONTACT_TTL")

	setString(&cfg.Cron.Secret, "CRON_SECRET")
	setString(&cfg.Cron.PredictionAPI, "JAX_API_URL")

	setString(&cfg.Logging.Level, "CRMBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CRMBRIDGE_LOG_SERVICE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.CRM.BaseURL == "" {
		return errors.New("crm.base_url is required")
	}
	if cfg.CRM.APIVersion == "" {
		return errors.New("crm.api_version is required")
	}
	if cfg.Rate.Capacity < 1 {
		return errors.New("rate.capacity must be >= 1")
	}
	if cfg.Rate.RefillPerSecond <= 0 {
		return errors.New("rate.refill_per_second must be > 0")
	}
	if cfg.Rate.DailyCap < 1 {
		return errors.New("rate.daily_cap must be >= 1")
	}
	if cfg.Auth.BcryptCost < 10 || cfg.Auth.BcryptCost > 18 {
		return errors.New("auth.bcrypt_cost must be between 10 and 18")
	}
	if cfg.Inbound.Burst < 1 {
		return errors.New("inbound.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
