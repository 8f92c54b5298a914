package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Groq       GroqConfig
	R2         R2Config
	Zitadel    ZitadelConfig
	Gateway    GatewayConfig
	Store      StoreConfig
	Generation GenerationConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerMin int
	RestorePerMin  int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether every credential needed by the R2 client is set.
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// StoreConfig selects the scene store backend: redis, postgres or sqlite.
type StoreConfig struct {
	Driver string
	DSN    string
}

// GenerationConfig tunes the generation pipeline. Durations are in frames.
type GenerationConfig struct {
	OperationTimeout  time.Duration
	SessionTimeout    time.Duration
	LockTTL           time.Duration
	BatchConcurrency  int
	ContextSceneLimit int
	PlanCacheTTL      time.Duration
	LedgerTTL         time.Duration
	StreamRetention   time.Duration
	DefaultDuration   int
	FPS               int
	Dispatch          string // asynq or inline
}

func Load() (*Config, error) {
	// .env is a development convenience only
	if !strings.EqualFold(os.Getenv("SERVER_ENV"), "production") {
		_ = godotenv.Load()
	}

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("STORE_DSN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generate_per_min", "RATELIMIT_GENERATE_PER_MIN")
	_ = viper.BindEnv("ratelimit.restore_per_min", "RATELIMIT_RESTORE_PER_MIN")
	_ = viper.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("groq.model", "GROQ_MODEL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.dsn", "STORE_DSN")
	_ = viper.BindEnv("generation.operation_timeout", "GENERATION_OPERATION_TIMEOUT")
	_ = viper.BindEnv("generation.session_timeout", "GENERATION_SESSION_TIMEOUT")
	_ = viper.BindEnv("generation.lock_ttl", "GENERATION_LOCK_TTL")
	_ = viper.BindEnv("generation.batch_concurrency", "GENERATION_BATCH_CONCURRENCY")
	_ = viper.BindEnv("generation.context_scene_limit", "GENERATION_CONTEXT_SCENE_LIMIT")
	_ = viper.BindEnv("generation.plan_cache_ttl", "GENERATION_PLAN_CACHE_TTL")
	_ = viper.BindEnv("generation.ledger_ttl", "GENERATION_LEDGER_TTL")
	_ = viper.BindEnv("generation.stream_retention", "GENERATION_STREAM_RETENTION")
	_ = viper.BindEnv("generation.dispatch", "GENERATION_DISPATCH")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_min", 20)
	viper.SetDefault("ratelimit.restore_per_min", 30)

	// Groq defaults
	viper.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Scene store defaults
	viper.SetDefault("store.driver", "redis")
	viper.SetDefault("store.dsn", "")

	// Generation defaults
	viper.SetDefault("generation.operation_timeout", "45s")
	viper.SetDefault("generation.session_timeout", "5m")
	viper.SetDefault("generation.lock_ttl", "6m")
	viper.SetDefault("generation.batch_concurrency", 4)
	viper.SetDefault("generation.context_scene_limit", 20)
	viper.SetDefault("generation.plan_cache_ttl", "10m")
	viper.SetDefault("generation.ledger_ttl", "168h")
	viper.SetDefault("generation.stream_retention", "10m")
	viper.SetDefault("generation.default_duration", 150)
	viper.SetDefault("generation.fps", 30)
	viper.SetDefault("generation.dispatch", "asynq")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerMin: viper.GetInt("ratelimit.generate_per_min"),
			RestorePerMin:  viper.GetInt("ratelimit.restore_per_min"),
		},
		Groq: GroqConfig{
			APIKey:  viper.GetString("groq.api_key"),
			BaseURL: viper.GetString("groq.base_url"),
			Model:   viper.GetString("groq.model"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Store: StoreConfig{
			Driver: viper.GetString("store.driver"),
			DSN:    viper.GetString("store.dsn"),
		},
		Generation: GenerationConfig{
			OperationTimeout:  viper.GetDuration("generation.operation_timeout"),
			SessionTimeout:    viper.GetDuration("generation.session_timeout"),
			LockTTL:           viper.GetDuration("generation.lock_ttl"),
			BatchConcurrency:  viper.GetInt("generation.batch_concurrency"),
			ContextSceneLimit: viper.GetInt("generation.context_scene_limit"),
			PlanCacheTTL:      viper.GetDuration("generation.plan_cache_ttl"),
			LedgerTTL:         viper.GetDuration("generation.ledger_ttl"),
			StreamRetention:   viper.GetDuration("generation.stream_retention"),
			DefaultDuration:   viper.GetInt("generation.default_duration"),
			FPS:               viper.GetInt("generation.fps"),
			Dispatch:          viper.GetString("generation.dispatch"),
		},
	}

	return cfg, nil
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func NewLogger(cfg ServerConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Env, "production") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
