package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Env            string
	Timezone       string
	AllowedOrigins []string
	StoreDriver    string

	MongoURI      string
	MongoDatabase string

	JWTSecret string
	JWTExpiry string

	Redis     RedisConfig
	Tracking  TrackingConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
	Archive   ArchiveConfig
	Maps      MapsConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type RedisConfig struct {
	Enabled            bool
	URL                string
	Host               string
	Port               string
	Password           string
	DB                 int
	PoolSize           int
	MinIdleConns       int
	MaxRetries         int
	RetryDelay         time.Duration
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	PoolTimeout        time.Duration
	IdleTimeout        time.Duration
	IdleCheckFrequency time.Duration
}

// TrackingConfig bounds the position ingestion path and the dashboard feed.
type TrackingConfig struct {
	MinInterval     time.Duration
	Burst           int
	LimiterIdleTTL  time.Duration
	HistoryPageSize int64
	UpcomingLimit   int
	LivePositionTTL time.Duration
	DriverNameTTL   time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	Backend string // memory | redis
}

type NotifyConfig struct {
	Provider       string // log | smtp | sendgrid
	FromEmail      string
	FromName       string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SendGridAPIKey string
	DashboardURL   string
}

type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	PublicDomain    string
}

type MapsConfig struct {
	Provider   string // haversine | google
	APIKey     string
	RoadFactor float64
	Timeout    time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	Interval     time.Duration
}

type LogConfig struct {
	Level      string
	Format     string // text | json
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using process environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:           v.GetString("PORT"),
		Env:            v.GetString("APP_ENV"),
		Timezone:       v.GetString("APP_TIMEZONE"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		StoreDriver:    strings.ToLower(v.GetString("STORE_DRIVER")),
		MongoURI:       v.GetString("MONGO_URI"),
		MongoDatabase:  v.GetString("MONGO_DATABASE"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTExpiry:      v.GetString("JWT_EXPIRY"),
		Redis: RedisConfig{
			Enabled:            v.GetBool("REDIS_ENABLED"),
			URL:                v.GetString("REDIS_URL"),
			Host:               v.GetString("REDIS_HOST"),
			Port:               v.GetString("REDIS_PORT"),
			Password:           v.GetString("REDIS_PASSWORD"),
			DB:                 v.GetInt("REDIS_DB"),
			PoolSize:           v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns:       v.GetInt("REDIS_MIN_IDLE_CONNS"),
			MaxRetries:         v.GetInt("REDIS_MAX_RETRIES"),
			RetryDelay:         v.GetDuration("REDIS_RETRY_DELAY"),
			DialTimeout:        v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:        v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout:       v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolTimeout:        v.GetDuration("REDIS_POOL_TIMEOUT"),
			IdleTimeout:        v.GetDuration("REDIS_IDLE_TIMEOUT"),
			IdleCheckFrequency: v.GetDuration("REDIS_IDLE_CHECK_FREQUENCY"),
		},
		Tracking: TrackingConfig{
			MinInterval:     v.GetDuration("TRACKING_MIN_INTERVAL"),
			Burst:           v.GetInt("TRACKING_BURST"),
			LimiterIdleTTL:  v.GetDuration("TRACKING_LIMITER_IDLE_TTL"),
			HistoryPageSize: v.GetInt64("TRACKING_HISTORY_PAGE_SIZE"),
			UpcomingLimit:   v.GetInt("TRACKING_UPCOMING_LIMIT"),
			LivePositionTTL: v.GetDuration("TRACKING_LIVE_POSITION_TTL"),
			DriverNameTTL:   v.GetDuration("TRACKING_DRIVER_NAME_TTL"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
			Backend: strings.ToLower(v.GetString("RATE_LIMIT_BACKEND")),
		},
		Notify: NotifyConfig{
			Provider:       strings.ToLower(v.GetString("NOTIFY_PROVIDER")),
			FromEmail:      v.GetString("NOTIFY_FROM_EMAIL"),
			FromName:       v.GetString("NOTIFY_FROM_NAME"),
			SMTPHost:       v.GetString("SMTP_HOST"),
			SMTPPort:       v.GetInt("SMTP_PORT"),
			SMTPUsername:   v.GetString("SMTP_USERNAME"),
			SMTPPassword:   v.GetString("SMTP_PASSWORD"),
			SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
			DashboardURL:   v.GetString("DASHBOARD_URL"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("ARCHIVE_ENABLED"),
			Bucket:          v.GetString("ARCHIVE_BUCKET"),
			Region:          v.GetString("ARCHIVE_REGION"),
			Endpoint:        v.GetString("ARCHIVE_ENDPOINT"),
			Prefix:          v.GetString("ARCHIVE_PREFIX"),
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			PublicDomain:    v.GetString("ARCHIVE_PUBLIC_DOMAIN"),
		},
		Maps: MapsConfig{
			Provider:   strings.ToLower(v.GetString("MAPS_PROVIDER")),
			APIKey:     v.GetString("MAPS_API_KEY"),
			RoadFactor: v.GetFloat64("MAPS_ROAD_FACTOR"),
			Timeout:    v.GetDuration("MAPS_TIMEOUT"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("OTEL_ENABLED"),
			ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:     v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			Interval:     v.GetDuration("OTEL_METRIC_INTERVAL"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Format:     strings.ToLower(v.GetString("LOG_FORMAT")),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
			Compress:   v.GetBool("LOG_COMPRESS"),
		},
	}

	if cfg.StoreDriver == "mongo" && cfg.MongoURI == "" {
		logrus.Fatal("MONGO_URI environment variable is not set")
	}
	if cfg.JWTSecret == "" {
		logrus.Warn("JWT_SECRET is not set, tokens will be signed with an empty key")
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_TIMEZONE", "Europe/Paris")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("STORE_DRIVER", "mongo")
	v.SetDefault("MONGO_DATABASE", "atypik")
	v.SetDefault("JWT_EXPIRY", "24h")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_RETRY_DELAY", "500ms")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")
	v.SetDefault("REDIS_POOL_TIMEOUT", "4s")
	v.SetDefault("REDIS_IDLE_TIMEOUT", "5m")
	v.SetDefault("REDIS_IDLE_CHECK_FREQUENCY", "1m")

	v.SetDefault("TRACKING_MIN_INTERVAL", "2s")
	v.SetDefault("TRACKING_BURST", 2)
	v.SetDefault("TRACKING_LIMITER_IDLE_TTL", "10m")
	v.SetDefault("TRACKING_HISTORY_PAGE_SIZE", 500)
	v.SetDefault("TRACKING_UPCOMING_LIMIT", 5)
	v.SetDefault("TRACKING_LIVE_POSITION_TTL", "2h")
	v.SetDefault("TRACKING_DRIVER_NAME_TTL", "30m")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_BACKEND", "memory")

	v.SetDefault("NOTIFY_PROVIDER", "log")
	v.SetDefault("NOTIFY_FROM_EMAIL", "no-reply@atypik.local")
	v.SetDefault("NOTIFY_FROM_NAME", "Atypik")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("DASHBOARD_URL", "http://localhost:3000/dashboard")

	v.SetDefault("ARCHIVE_ENABLED", false)
	v.SetDefault("ARCHIVE_REGION", "eu-west-3")
	v.SetDefault("ARCHIVE_PREFIX", "traces/")

	v.SetDefault("MAPS_PROVIDER", "haversine")
	v.SetDefault("MAPS_ROAD_FACTOR", 1.3)
	v.SetDefault("MAPS_TIMEOUT", "5s")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "atypik-backend")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_METRIC_INTERVAL", "30s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_MAX_SIZE_MB", 10)
	v.SetDefault("LOG_MAX_BACKUPS", 7)
	v.SetDefault("LOG_MAX_AGE_DAYS", 7)
	v.SetDefault("LOG_COMPRESS", true)
}

// Location resolves the configured timezone used for calendar-day comparisons.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		logrus.WithError(err).Warnf("unknown timezone %q, falling back to UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

// RedisAddr is the host:port pair used when no URL is configured.
func (c RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
