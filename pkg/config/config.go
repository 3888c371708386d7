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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Matching    MatchingConfig
	TrnTokens   TrnTokenConfig
	Identifiers IdentifierConfig
	Events      EventsConfig
	Exports     ExportsConfig
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

// RedisConfig locates the event stream server. URL, when set, wins over the
// discrete fields.
type RedisConfig struct {
	URL      string
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

// MatchingConfig tunes candidate retrieval.
type MatchingConfig struct {
	CandidateLimit   int
	NameSynonymsFile string
}

// TrnTokenConfig controls issuance and digesting of one-time TRN tokens.
type TrnTokenConfig struct {
	DigestKey string
	TTL       time.Duration
}

// IdentifierConfig sets the operational alert threshold for TRN ranges.
type IdentifierConfig struct {
	LowWatermark int64
}

// EventsConfig governs the outbox publisher.
type EventsConfig struct {
	Enabled       bool
	Stream        string
	Workers       int
	Retries       int
	SweepInterval time.Duration
	SweepBatch    int
}

// ExportsConfig toggles the support worklist export endpoint.
type ExportsConfig struct {
	Enabled bool
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
		URL:      v.GetString("REDIS_URL"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	limit := v.GetInt("MATCH_CANDIDATE_LIMIT")
	if limit <= 0 {
		limit = 10
	}
	cfg.Matching = MatchingConfig{
		CandidateLimit:   limit,
		NameSynonymsFile: v.GetString("MATCH_NAME_SYNONYMS_FILE"),
	}

	cfg.TrnTokens = TrnTokenConfig{
		DigestKey: v.GetString("TRN_TOKEN_DIGEST_KEY"),
		TTL:       parseDuration(v.GetString("TRN_TOKEN_TTL"), 30*24*time.Hour),
	}

	cfg.Identifiers = IdentifierConfig{
		LowWatermark: v.GetInt64("TRN_RANGE_LOW_WATERMARK"),
	}

	cfg.Events = EventsConfig{
		Enabled:       v.GetBool("ENABLE_EVENT_PUBLISHER"),
		Stream:        v.GetString("EVENTS_STREAM"),
		Workers:       v.GetInt("EVENTS_WORKERS"),
		Retries:       v.GetInt("EVENTS_RETRIES"),
		SweepInterval: parseDuration(v.GetString("EVENTS_SWEEP_INTERVAL"), 30*time.Second),
		SweepBatch:    v.GetInt("EVENTS_SWEEP_BATCH"),
	}

	cfg.Exports = ExportsConfig{
		Enabled: v.GetBool("ENABLE_TASK_EXPORTS"),
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
	v.SetDefault("DB_NAME", "trn_registry")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MATCH_CANDIDATE_LIMIT", 10)
	v.SetDefault("MATCH_NAME_SYNONYMS_FILE", "")

	v.SetDefault("TRN_TOKEN_DIGEST_KEY", "dev_trn_token_key")
	v.SetDefault("TRN_TOKEN_TTL", "720h")
	v.SetDefault("TRN_RANGE_LOW_WATERMARK", 1000)

	v.SetDefault("ENABLE_EVENT_PUBLISHER", false)
	v.SetDefault("EVENTS_STREAM", "trs:person-events")
	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_RETRIES", 5)
	v.SetDefault("EVENTS_SWEEP_INTERVAL", "30s")
	v.SetDefault("EVENTS_SWEEP_BATCH", 100)

	v.SetDefault("ENABLE_TASK_EXPORTS", true)
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
