package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Mail transports understood by the notification dispatcher.
const (
	MailTransportLog      = "log"
	MailTransportSendgrid = "sendgrid"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Signup   SignupConfig
	Populate PopulateConfig
	Mail     MailConfig
	Exports  ExportsConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	PretermExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// SignupConfig holds the knobs shared by signup guards and the populate engine.
type SignupConfig struct {
	RandomWindowClosedFor time.Duration
	SelfSignoffPeriod     time.Duration
	MaxAttendances        int
	OverbookingFactor     float64
}

// PopulateConfig controls when global populate runs are triggered.
type PopulateConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	AfterImport      bool
}

// MailConfig configures notification delivery.
type MailConfig struct {
	Transport      string
	SendgridAPIKey string
	FromAddress    string
	FromName       string
	SubjectPrefix  string
	Workers        int
	MaxRetries     int
	RetryDelay     time.Duration
	RateLimit      int
	RateWindow     time.Duration
}

// ExportsConfig configures attendee list exports.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

// CacheConfig governs the public course overview cache.
type CacheConfig struct {
	Enabled   bool
	CourseTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		PretermExpiration: parseDuration(v.GetString("PRETERM_TOKEN_EXPIRATION"), 14*24*time.Hour),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxAttendances := v.GetInt("MAX_ATTENDANCES")
	if maxAttendances <= 0 {
		maxAttendances = 3
	}
	overbooking := v.GetFloat64("OVERBOOKING_FACTOR")
	if overbooking < 1 {
		overbooking = 1
	}
	cfg.Signup = SignupConfig{
		RandomWindowClosedFor: parseDuration(v.GetString("RANDOM_WINDOW_CLOSED_FOR"), 2*time.Hour),
		SelfSignoffPeriod:     parseDuration(v.GetString("SELF_SIGNOFF_PERIOD"), 72*time.Hour),
		MaxAttendances:        maxAttendances,
		OverbookingFactor:     overbooking,
	}

	cfg.Populate = PopulateConfig{
		SchedulerEnabled: v.GetBool("ENABLE_POPULATE_SCHEDULER"),
		Interval:         parseDuration(v.GetString("POPULATE_INTERVAL"), 15*time.Minute),
		AfterImport:      v.GetBool("POPULATE_AFTER_IMPORT"),
	}

	cfg.Mail = MailConfig{
		Transport:      strings.ToLower(v.GetString("MAIL_TRANSPORT")),
		SendgridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromAddress:    v.GetString("MAIL_FROM_ADDRESS"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		SubjectPrefix:  v.GetString("MAIL_SUBJECT_PREFIX"),
		Workers:        v.GetInt("MAIL_WORKERS"),
		MaxRetries:     v.GetInt("MAIL_MAX_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("MAIL_RETRY_DELAY"), 30*time.Second),
		RateLimit:      v.GetInt("MAIL_RATE_LIMIT"),
		RateWindow:     parseDuration(v.GetString("MAIL_RATE_WINDOW"), time.Hour),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 30*time.Minute),
		Retention:       parseDuration(v.GetString("EXPORTS_RETENTION"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("ENABLE_COURSE_CACHE"),
		CourseTTL: parseDuration(v.GetString("COURSE_CACHE_TTL"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "course_signup")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("PRETERM_TOKEN_EXPIRATION", "336h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("CORS_MAX_AGE", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RANDOM_WINDOW_CLOSED_FOR", "2h")
	v.SetDefault("SELF_SIGNOFF_PERIOD", "72h")
	v.SetDefault("MAX_ATTENDANCES", 3)
	v.SetDefault("OVERBOOKING_FACTOR", 1.5)

	v.SetDefault("ENABLE_POPULATE_SCHEDULER", true)
	v.SetDefault("POPULATE_INTERVAL", "15m")
	v.SetDefault("POPULATE_AFTER_IMPORT", true)

	v.SetDefault("MAIL_TRANSPORT", MailTransportLog)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_ADDRESS", "sprachenzentrum@example.org")
	v.SetDefault("MAIL_FROM_NAME", "Language Center")
	v.SetDefault("MAIL_SUBJECT_PREFIX", "[Language Center] ")
	v.SetDefault("MAIL_WORKERS", 2)
	v.SetDefault("MAIL_MAX_RETRIES", 5)
	v.SetDefault("MAIL_RETRY_DELAY", "30s")
	v.SetDefault("MAIL_RATE_LIMIT", 20)
	v.SetDefault("MAIL_RATE_WINDOW", "1h")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "30m")
	v.SetDefault("EXPORTS_RETENTION", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ENABLE_COURSE_CACHE", false)
	v.SetDefault("COURSE_CACHE_TTL", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
