package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const DefaultJWTSecret = "tomoboard_secret_key"

type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	JWTSecret   string
	CORSOrigins []string

	StorageType      string
	LocalStoragePath string
	DataSourceName   string
	DatabaseURL      string
	S3BucketName     string

	CanvasSaveDelay  time.Duration
	PersistTimeout   time.Duration
	EphemeralRate    float64
	EphemeralBurst   int
	ChatHistoryLimit int

	JaegerEndpoint    string
	MaxHTTPBufferSize int64
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		ListenAddr:       get("LISTEN_ADDR", ":3002"),
		LogLevel:         get("LOG_LEVEL", "info"),
		LogFormat:        get("LOG_FORMAT", "text"),
		JWTSecret:        get("JWT_SECRET", DefaultJWTSecret),
		CORSOrigins:      splitList(get("CORS_ORIGINS", "http://localhost:3000")),
		StorageType:      get("STORAGE_TYPE", "memory"),
		LocalStoragePath: get("LOCAL_STORAGE_PATH", "./data"),
		DataSourceName:   get("DATA_SOURCE_NAME", "tomoboard.db"),
		DatabaseURL:      get("DATABASE_URL", ""),
		S3BucketName:     get("S3_BUCKET_NAME", ""),
		JaegerEndpoint:   get("JAEGER_ENDPOINT", ""),
	}

	var err error
	if cfg.CanvasSaveDelay, err = parseDuration("CANVAS_SAVE_DELAY", get("CANVAS_SAVE_DELAY", "2s")); err != nil {
		return nil, err
	}
	if cfg.PersistTimeout, err = parseDuration("PERSIST_TIMEOUT", get("PERSIST_TIMEOUT", "10s")); err != nil {
		return nil, err
	}
	if cfg.EphemeralRate, err = strconv.ParseFloat(get("EPHEMERAL_RATE", "60"), 64); err != nil || cfg.EphemeralRate <= 0 {
		return nil, fmt.Errorf("invalid EPHEMERAL_RATE %q", getenv("EPHEMERAL_RATE"))
	}
	if cfg.EphemeralBurst, err = parsePositiveInt("EPHEMERAL_BURST", get("EPHEMERAL_BURST", "120")); err != nil {
		return nil, err
	}
	if cfg.ChatHistoryLimit, err = parsePositiveInt("CHAT_HISTORY_LIMIT", get("CHAT_HISTORY_LIMIT", "50")); err != nil {
		return nil, err
	}
	size, err := parsePositiveInt("MAX_HTTP_BUFFER_SIZE", get("MAX_HTTP_BUFFER_SIZE", "5000000"))
	if err != nil {
		return nil, err
	}
	cfg.MaxHTTPBufferSize = int64(size)

	return cfg, nil
}

func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return d, nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
