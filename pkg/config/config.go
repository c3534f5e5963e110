package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
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
	Uploads  UploadsConfig
	Exports  ExportsConfig
	Grader   GraderConfig
	Pipeline PipelineConfig
	Session  SessionConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// UploadsConfig controls submission archive ingestion.
type UploadsConfig struct {
	StorageDir       string
	MaxArchiveBytes  int64
	MaxFileBytes     int64
	AllowedRosterExt []string
}

// ExportsConfig controls rendered export storage and download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// GraderConfig points at the external language-model grading service.
type GraderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	PointScale  float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// PipelineConfig tunes the submission-processing pipeline.
type PipelineConfig struct {
	FolderConcurrency  int
	ExtractConcurrency int
	MinTextLength      int
	OnlineTextRatio    float64
	SkipEmpty          bool
	PreviewLength      int
	WorkerRetries      int
}

// SessionConfig governs best-effort wizard state caching.
type SessionConfig struct {
	Enabled bool
	TTL     time.Duration
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
		if !errors.As(err, &notFound) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxArchive := v.GetInt64("UPLOADS_MAX_ARCHIVE_SIZE")
	if maxArchive <= 0 {
		maxArchive = 200 * 1024 * 1024
	}
	maxFile := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxFile <= 0 {
		maxFile = 25 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxArchiveBytes:  maxArchive,
		MaxFileBytes:     maxFile,
		AllowedRosterExt: splitAndTrim(v.GetString("UPLOADS_ROSTER_EXTENSIONS")),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Grader = GraderConfig{
		BaseURL:     v.GetString("GRADER_BASE_URL"),
		APIKey:      v.GetString("GRADER_API_KEY"),
		Model:       v.GetString("GRADER_MODEL"),
		Temperature: v.GetFloat64("GRADER_TEMPERATURE"),
		PointScale:  v.GetFloat64("GRADER_POINT_SCALE"),
		Timeout:     parseDuration(v.GetString("GRADER_TIMEOUT"), 60*time.Second),
		MaxRetries:  v.GetInt("GRADER_MAX_RETRIES"),
		RetryDelay:  parseDuration(v.GetString("GRADER_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Pipeline = PipelineConfig{
		FolderConcurrency:  v.GetInt("PIPELINE_FOLDER_CONCURRENCY"),
		ExtractConcurrency: v.GetInt("PIPELINE_EXTRACT_CONCURRENCY"),
		MinTextLength:      v.GetInt("PIPELINE_MIN_TEXT_LENGTH"),
		OnlineTextRatio:    v.GetFloat64("PIPELINE_ONLINE_TEXT_RATIO"),
		SkipEmpty:          v.GetBool("PIPELINE_SKIP_EMPTY"),
		PreviewLength:      v.GetInt("PIPELINE_PREVIEW_LENGTH"),
		WorkerRetries:      v.GetInt("PIPELINE_WORKER_RETRIES"),
	}

	cfg.Session = SessionConfig{
		Enabled: v.GetBool("SESSION_CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("SESSION_CACHE_TTL"), 7*24*time.Hour),
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
	v.SetDefault("DB_NAME", "gradekit")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_ARCHIVE_SIZE", 200*1024*1024)
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 25*1024*1024)
	v.SetDefault("UPLOADS_ROSTER_EXTENSIONS", ".csv,.xlsx,.xls,.ods,.xml")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("GRADER_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("GRADER_API_KEY", "")
	v.SetDefault("GRADER_MODEL", "gpt-4o-mini")
	v.SetDefault("GRADER_TEMPERATURE", 0.2)
	v.SetDefault("GRADER_POINT_SCALE", 100)
	v.SetDefault("GRADER_TIMEOUT", "60s")
	v.SetDefault("GRADER_MAX_RETRIES", 2)
	v.SetDefault("GRADER_RETRY_DELAY", "2s")

	v.SetDefault("PIPELINE_FOLDER_CONCURRENCY", 4)
	v.SetDefault("PIPELINE_EXTRACT_CONCURRENCY", 4)
	v.SetDefault("PIPELINE_MIN_TEXT_LENGTH", 30)
	v.SetDefault("PIPELINE_ONLINE_TEXT_RATIO", 2.0)
	v.SetDefault("PIPELINE_SKIP_EMPTY", true)
	v.SetDefault("PIPELINE_PREVIEW_LENGTH", 200)
	v.SetDefault("PIPELINE_WORKER_RETRIES", 1)

	v.SetDefault("SESSION_CACHE_ENABLED", true)
	v.SetDefault("SESSION_CACHE_TTL", "168h")
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
