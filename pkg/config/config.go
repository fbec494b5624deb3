package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/predict"
	"github.com/platinummonkey/quotagate/pkg/sso"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

const (
	AppName    = "Dangerous Objects AI API"
	AppVersion = "2.0.0"

	// defaultJWTSecret is only accepted outside production
	defaultJWTSecret = "your-secret-key-change-in-production"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	MoMo          payment.Config      `yaml:"momo"`
	Plans         PlansConfig         `yaml:"plans"`
	Predict       predict.Config      `yaml:"predict"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// AppURL is the frontend base URL that OAuth codes and payment results are sent to
	AppURL      string   `yaml:"app_url"`
	CORSOrigins []string `yaml:"cors_origins"`
	Debug       bool     `yaml:"debug"`
}

// DatabaseConfig holds ledger database settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// Ledger converts the settings to a ledger.Config
func (d DatabaseConfig) Ledger() ledger.Config {
	return ledger.Config{
		URL:             d.URL,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds token and Google login settings
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	BcryptCost         int           `yaml:"bcrypt_cost"`
	GoogleClientID     string        `yaml:"google_client_id"`
	GoogleClientSecret string        `yaml:"google_client_secret"`
	GoogleRedirectURL  string        `yaml:"google_redirect_url"`
	// GoogleIssuerURL switches Google login to OIDC discovery when set
	GoogleIssuerURL string `yaml:"google_issuer_url"`
}

// SSO returns the Google identity provider settings
func (a AuthConfig) SSO() sso.Config {
	cfg := sso.GoogleConfig(a.GoogleClientID, a.GoogleClientSecret, a.GoogleRedirectURL)
	cfg.IssuerURL = a.GoogleIssuerURL
	return cfg
}

// PlansConfig holds plan quotas and prices
type PlansConfig struct {
	FreeQuota int          `yaml:"free_quota"`
	PlusQuota int          `yaml:"plus_quota"`
	ProQuota  int          `yaml:"pro_quota"`
	PlusPrice ledger.Money `yaml:"plus_price"`
	ProPrice  ledger.Money `yaml:"pro_price"`
}

// Catalogue builds the plan catalogue
func (p PlansConfig) Catalogue() (subscription.Catalogue, error) {
	return subscription.NewCatalogue(
		subscription.PlanSpec{Plan: ledger.PlanFree, Quota: p.FreeQuota},
		subscription.PlanSpec{Plan: ledger.PlanPlus, Quota: p.PlusQuota, Price: p.PlusPrice},
		subscription.PlanSpec{Plan: ledger.PlanPro, Quota: p.ProQuota, Price: p.ProPrice},
	)
}

// RateLimitConfig limits login, register and top-up requests
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// ReconcileConfig controls the stale top-up report
type ReconcileConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled     bool    `yaml:"otel_enabled"`
	OTelEndpoint    string  `yaml:"otel_endpoint"`
	OTelServiceName string  `yaml:"otel_service_name"`
	OTelInsecure    bool    `yaml:"otel_insecure"`
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: AppVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AppURL:          "http://localhost:8000/fe",
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			URL:             "sqlite://./app.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:         defaultJWTSecret,
			TokenTTL:          7 * 24 * time.Hour,
			BcryptCost:        12,
			GoogleRedirectURL: "http://localhost:8000/api/auth/google/callback",
		},
		MoMo: payment.Config{
			PartnerCode: "MOMO",
			AccessKey:   "F8BBA842ECF85",
			SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
			Endpoint:    "https://test-payment.momo.vn/v2/gateway/api/create",
			RedirectURL: "http://localhost:8000/api/payment/success",
			IPNURL:      "http://localhost:8000/api/payment/momo/ipn",
			MinTopup:    payment.DefaultMinTopup,
			Timeout:     payment.DefaultTimeout,
		},
		Plans: PlansConfig{
			FreeQuota: 100,
			PlusQuota: 5000,
			ProQuota:  999999,
			PlusPrice: 99000,
			ProPrice:  299000,
		},
		Predict: predict.Config{
			URL:       "http://localhost:8501/v1/models/dangerous-objects:predict",
			Classes:   predict.DefaultClasses,
			Timeout:   predict.DefaultTimeout,
			CacheSize: predict.DefaultCacheSize,
			CacheTTL:  predict.DefaultCacheTTL,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 10,
			Window:   time.Minute,
		},
		Reconcile: ReconcileConfig{
			Enabled:    true,
			Schedule:   "@every 15m",
			StaleAfter: time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:        "info",
			MetricsEnabled:  true,
			OTelEndpoint:    "localhost:4317",
			OTelServiceName: "quotagate",
			OTelInsecure:    true,
			OTelSampleRatio: 1,
		},
	}
}

// LoadConfig builds the configuration from, in increasing precedence, the
// defaults, the YAML file named by QUOTAGATE_CONFIG_FILE and the environment.
// A .env file in the working directory is loaded into the environment first.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("QUOTAGATE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path; keys it omits keep their values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("QUOTAGATE_HOST", s.Host)
	s.Port = getEnv("QUOTAGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("QUOTAGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("QUOTAGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("QUOTAGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("QUOTAGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("QUOTAGATE_HEALTH_PORT", s.HealthPort)
	s.AppURL = strings.TrimRight(getEnv("QUOTAGATE_APP_URL", s.AppURL), "/")
	s.CORSOrigins = getEnvList("QUOTAGATE_CORS_ORIGINS", s.CORSOrigins)
	s.Debug = getEnvBool("QUOTAGATE_DEBUG", s.Debug)

	d := &c.Database
	d.URL = getEnv("QUOTAGATE_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("QUOTAGATE_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("QUOTAGATE_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("QUOTAGATE_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("QUOTAGATE_DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)

	c.Redis.URL = getEnv("QUOTAGATE_REDIS_URL", c.Redis.URL)

	a := &c.Auth
	a.JWTSecret = getEnv("QUOTAGATE_JWT_SECRET", a.JWTSecret)
	a.TokenTTL = getEnvDuration("QUOTAGATE_TOKEN_TTL", a.TokenTTL)
	a.BcryptCost = getEnvInt("QUOTAGATE_BCRYPT_COST", a.BcryptCost)
	a.GoogleClientID = getEnv("QUOTAGATE_GOOGLE_CLIENT_ID", a.GoogleClientID)
	a.GoogleClientSecret = getEnv("QUOTAGATE_GOOGLE_CLIENT_SECRET", a.GoogleClientSecret)
	a.GoogleRedirectURL = getEnv("QUOTAGATE_GOOGLE_REDIRECT_URL", a.GoogleRedirectURL)
	a.GoogleIssuerURL = getEnv("QUOTAGATE_GOOGLE_ISSUER_URL", a.GoogleIssuerURL)

	m := &c.MoMo
	m.PartnerCode = getEnv("QUOTAGATE_MOMO_PARTNER_CODE", m.PartnerCode)
	m.AccessKey = getEnv("QUOTAGATE_MOMO_ACCESS_KEY", m.AccessKey)
	m.SecretKey = getEnv("QUOTAGATE_MOMO_SECRET_KEY", m.SecretKey)
	m.Endpoint = getEnv("QUOTAGATE_MOMO_ENDPOINT", m.Endpoint)
	m.RedirectURL = getEnv("QUOTAGATE_MOMO_REDIRECT_URL", m.RedirectURL)
	m.IPNURL = getEnv("QUOTAGATE_MOMO_IPN_URL", m.IPNURL)
	m.MinTopup = ledger.Money(getEnvInt64("QUOTAGATE_MOMO_MIN_TOPUP", int64(m.MinTopup)))
	m.Timeout = getEnvDuration("QUOTAGATE_MOMO_TIMEOUT", m.Timeout)

	p := &c.Plans
	p.FreeQuota = getEnvInt("QUOTAGATE_PLAN_FREE_MONTHLY_QUOTA", p.FreeQuota)
	p.PlusQuota = getEnvInt("QUOTAGATE_PLAN_PLUS_MONTHLY_QUOTA", p.PlusQuota)
	p.ProQuota = getEnvInt("QUOTAGATE_PLAN_PRO_MONTHLY_QUOTA", p.ProQuota)
	p.PlusPrice = ledger.Money(getEnvInt64("QUOTAGATE_PLAN_PLUS_PRICE", int64(p.PlusPrice)))
	p.ProPrice = ledger.Money(getEnvInt64("QUOTAGATE_PLAN_PRO_PRICE", int64(p.ProPrice)))

	pr := &c.Predict
	pr.URL = getEnv("QUOTAGATE_PREDICT_URL", pr.URL)
	pr.Classes = getEnvList("QUOTAGATE_PREDICT_CLASSES", pr.Classes)
	pr.Timeout = getEnvDuration("QUOTAGATE_PREDICT_TIMEOUT", pr.Timeout)
	pr.CacheSize = getEnvInt("QUOTAGATE_PREDICT_CACHE_SIZE", pr.CacheSize)
	pr.CacheTTL = getEnvDuration("QUOTAGATE_PREDICT_CACHE_TTL", pr.CacheTTL)

	r := &c.RateLimit
	r.Enabled = getEnvBool("QUOTAGATE_RATE_LIMIT_ENABLED", r.Enabled)
	r.Requests = getEnvInt("QUOTAGATE_RATE_LIMIT_REQUESTS", r.Requests)
	r.Window = getEnvDuration("QUOTAGATE_RATE_LIMIT_WINDOW", r.Window)

	rc := &c.Reconcile
	rc.Enabled = getEnvBool("QUOTAGATE_RECONCILE_ENABLED", rc.Enabled)
	rc.Schedule = getEnv("QUOTAGATE_RECONCILE_SCHEDULE", rc.Schedule)
	rc.StaleAfter = getEnvDuration("QUOTAGATE_RECONCILE_STALE_AFTER", rc.StaleAfter)

	o := &c.Observability
	o.LogLevel = getEnv("QUOTAGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("QUOTAGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("QUOTAGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("QUOTAGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("QUOTAGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelInsecure = getEnvBool("QUOTAGATE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("QUOTAGATE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, _, err := ledger.ParseURL(c.Database.URL); err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.JWTSecret == defaultJWTSecret && !c.Server.Debug {
		return fmt.Errorf("JWT secret must be changed outside debug mode")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.GoogleClientID != "" || c.Auth.GoogleClientSecret != "" {
		if err := c.Auth.SSO().Validate(); err != nil {
			return fmt.Errorf("invalid Google login settings: %w", err)
		}
	}

	if c.MoMo.PartnerCode == "" || c.MoMo.AccessKey == "" || c.MoMo.SecretKey == "" {
		return fmt.Errorf("MoMo partner code, access key and secret key are required")
	}
	if c.MoMo.Endpoint == "" {
		return fmt.Errorf("MoMo endpoint is required")
	}
	if c.MoMo.MinTopup <= 0 {
		return fmt.Errorf("MoMo minimum top-up must be positive")
	}

	if _, err := c.Plans.Catalogue(); err != nil {
		return fmt.Errorf("invalid plans: %w", err)
	}

	if c.Predict.URL == "" {
		return fmt.Errorf("predict URL is required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.Schedule == "" {
			return fmt.Errorf("reconcile schedule is required when reconciliation is enabled")
		}
		if c.Reconcile.StaleAfter <= 0 {
			return fmt.Errorf("reconcile stale-after must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
