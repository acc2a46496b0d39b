package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service config.
const ConfigPath = "services/library/config.yaml"

const (
	minJWTSecretBytes         = 32
	defaultFineDailyRateCents = 200
	maxPeriodDays             = 365
)

// Event publisher backends.
const (
	EventsNone  = "none"
	EventsAMQP  = "amqp"
	EventsRedis = "redis"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	DatabaseURL   string `yaml:"databaseURL"`
	JWTSecret     string `yaml:"jwtSecret"`
	SessionTTL    string `yaml:"sessionTTL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	EventsBackend string `yaml:"eventsBackend"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`
	EventsStream  string `yaml:"eventsStream"`

	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioPublicEndpoint string `yaml:"minioPublicEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCIDRs"`

	DefaultLoanDays  int `yaml:"defaultLoanDays"`
	DefaultRenewDays int `yaml:"defaultRenewDays"`
	MaxRenewals      int `yaml:"maxRenewals"`
	// FineDailyRateCents defaults to 200 when unset; 0 waives fines.
	FineDailyRateCents *int64 `yaml:"fineDailyRateCents"`
	StatsCacheTTL      string `yaml:"statsCacheTTL"`

	AllowUserIDHeader          bool `yaml:"allowUserIdHeader"`
	LoginRateLimitPerMinute    int  `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int  `yaml:"registerRateLimitPerMinute"`
}

// Load reads config from path (defaults to CONFIG_PATH, then ConfigPath).
// A .env file in the working directory is applied before env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.EventsBackend, "EVENTS_BACKEND")
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	setString(&cfg.EventsStream, "EVENTS_STREAM")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioPublicEndpoint, "MINIO_PUBLIC_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.DefaultLoanDays, "DEFAULT_LOAN_DAYS")
	setInt(&cfg.DefaultRenewDays, "DEFAULT_RENEW_DAYS")
	setInt(&cfg.MaxRenewals, "MAX_RENEWALS")
	if v := os.Getenv("FINE_DAILY_RATE_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FineDailyRateCents = &n
		}
	}
	setString(&cfg.StatsCacheTTL, "STATS_CACHE_TTL")
	setBool(&cfg.AllowUserIDHeader, "ALLOW_USER_ID_HEADER")
	setInt(&cfg.LoginRateLimitPerMinute, "LOGIN_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RegisterRateLimitPerMinute, "REGISTER_RATE_LIMIT_PER_MINUTE")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DefaultLoanDays == 0 {
		cfg.DefaultLoanDays = 14
	}
	if cfg.DefaultRenewDays == 0 {
		cfg.DefaultRenewDays = 7
	}
	if cfg.FineDailyRateCents == nil {
		rate := int64(defaultFineDailyRateCents)
		cfg.FineDailyRateCents = &rate
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.RegisterRateLimitPerMinute == 0 {
		cfg.RegisterRateLimitPerMinute = 5
	}
	cfg.EventsBackend = strings.ToLower(strings.TrimSpace(cfg.EventsBackend))
	if cfg.EventsBackend == "" {
		switch {
		case cfg.AMQPURL != "":
			cfg.EventsBackend = EventsAMQP
		case cfg.EventsStream != "" && cfg.RedisAddr != "":
			cfg.EventsBackend = EventsRedis
		default:
			cfg.EventsBackend = EventsNone
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes (set JWT_SECRET)", minJWTSecretBytes)
	}
	if cfg.DefaultLoanDays < 0 || cfg.DefaultRenewDays < 0 {
		return errors.New("config: defaultLoanDays and defaultRenewDays must be positive")
	}
	if cfg.DefaultLoanDays > maxPeriodDays || cfg.DefaultRenewDays > maxPeriodDays {
		return fmt.Errorf("config: defaultLoanDays and defaultRenewDays must not exceed %d", maxPeriodDays)
	}
	if cfg.MaxRenewals < 0 {
		return errors.New("config: maxRenewals must be >= 0")
	}
	if cfg.FineDailyRateCents != nil && *cfg.FineDailyRateCents < 0 {
		return errors.New("config: fineDailyRateCents must be >= 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	switch cfg.EventsBackend {
	case EventsNone:
	case EventsAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp events backend")
		}
	case EventsRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis events backend")
		}
	default:
		return fmt.Errorf("config: unknown eventsBackend %q", cfg.EventsBackend)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required with minioEndpoint")
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("sessionTTL", ttlStr)
}

// ParseStatsCacheTTL parses optional stats cache TTL duration string.
func ParseStatsCacheTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("statsCacheTTL", ttlStr)
}

func parseOptionalDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
