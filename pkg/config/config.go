package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Grid data source kinds.
const (
	SourceMemory   = "memory"
	SourcePostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Grid     GridConfig
	Exports  ExportsConfig
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

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GridConfig selects the grid data source and tunes fetching.
type GridConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	FetchWorkers    int
	FetchBuffer     int
	Source          string
	DemoRows        int

	SQLTable     string
	SQLColumns   []string
	SQLKeyColumn string
	SQLUnaccent  bool

	CacheEnabled bool
	CacheTTL     time.Duration
}

// ExportsConfig configures file exports and the export job pipeline.
type ExportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	ChunkPageSize     int
	DefaultTitle      string
	PersistJobs       bool
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Grid = GridConfig{
		DefaultPageSize: v.GetInt("GRID_DEFAULT_PAGE_SIZE"),
		MaxPageSize:     v.GetInt("GRID_MAX_PAGE_SIZE"),
		FetchWorkers:    v.GetInt("GRID_FETCH_WORKERS"),
		FetchBuffer:     v.GetInt("GRID_FETCH_BUFFER"),
		Source:          strings.ToLower(strings.TrimSpace(v.GetString("GRID_SOURCE"))),
		DemoRows:        v.GetInt("GRID_DEMO_ROWS"),
		SQLTable:        v.GetString("GRID_SQL_TABLE"),
		SQLColumns:      splitAndTrim(v.GetString("GRID_SQL_COLUMNS")),
		SQLKeyColumn:    strings.TrimSpace(v.GetString("GRID_SQL_KEY_COLUMN")),
		SQLUnaccent:     v.GetBool("GRID_SQL_UNACCENT"),
		CacheEnabled:    v.GetBool("GRID_CACHE_ENABLED"),
		CacheTTL:        parseDuration(v.GetString("GRID_CACHE_TTL"), time.Minute),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
		ChunkPageSize:     v.GetInt("EXPORTS_CHUNK_PAGE_SIZE"),
		DefaultTitle:      v.GetString("EXPORTS_DEFAULT_TITLE"),
		PersistJobs:       v.GetBool("EXPORTS_PERSIST_JOBS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Grid.Source {
	case SourceMemory:
	case SourcePostgres:
		if c.Grid.SQLTable == "" || len(c.Grid.SQLColumns) == 0 {
			return fmt.Errorf("GRID_SQL_TABLE and GRID_SQL_COLUMNS are required when GRID_SOURCE=postgres")
		}
		if c.Grid.SQLKeyColumn != "" && !slices.Contains(c.Grid.SQLColumns, c.Grid.SQLKeyColumn) {
			return fmt.Errorf("GRID_SQL_KEY_COLUMN %q must be one of GRID_SQL_COLUMNS", c.Grid.SQLKeyColumn)
		}
	default:
		return fmt.Errorf("unknown GRID_SOURCE %q", c.Grid.Source)
	}
	if c.Grid.DefaultPageSize < 1 || c.Grid.MaxPageSize < c.Grid.DefaultPageSize {
		return fmt.Errorf("invalid grid page sizes: default %d, max %d", c.Grid.DefaultPageSize, c.Grid.MaxPageSize)
	}
	if c.Exports.WorkerRetries < 1 {
		return fmt.Errorf("EXPORTS_WORKER_RETRIES must be at least 1")
	}
	if c.Exports.PersistJobs && c.Grid.Source != SourcePostgres {
		return fmt.Errorf("EXPORTS_PERSIST_JOBS requires GRID_SOURCE=postgres")
	}
	if c.Env == EnvProduction && c.Exports.SignedURLSecret == defaultExportSecret {
		return fmt.Errorf("EXPORTS_SIGNED_URL_SECRET must be set in production")
	}
	return nil
}

const defaultExportSecret = "dev_exports_secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gridkit")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GRID_DEFAULT_PAGE_SIZE", 50)
	v.SetDefault("GRID_MAX_PAGE_SIZE", 500)
	v.SetDefault("GRID_FETCH_WORKERS", 2)
	v.SetDefault("GRID_FETCH_BUFFER", 64)
	v.SetDefault("GRID_SOURCE", SourceMemory)
	v.SetDefault("GRID_DEMO_ROWS", 500)
	v.SetDefault("GRID_SQL_TABLE", "")
	v.SetDefault("GRID_SQL_COLUMNS", "")
	v.SetDefault("GRID_SQL_KEY_COLUMN", "")
	v.SetDefault("GRID_SQL_UNACCENT", false)
	v.SetDefault("GRID_CACHE_ENABLED", false)
	v.SetDefault("GRID_CACHE_TTL", "1m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", defaultExportSecret)
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)
	v.SetDefault("EXPORTS_CHUNK_PAGE_SIZE", 1000)
	v.SetDefault("EXPORTS_DEFAULT_TITLE", "Report")
	v.SetDefault("EXPORTS_PERSIST_JOBS", false)
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
