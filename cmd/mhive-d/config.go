package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/rmax-ai/mhive/pkg/source"
)

const (
	defaultAddr          = "127.0.0.1:8090"
	defaultSessionWindow = 7 * 24 * time.Hour
	defaultPruneInterval = time.Hour
)

type Config struct {
	Addr      string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json logfmt"`

	Source source.Config

	SessionBackend string        `validate:"oneof=memory sqlite redis badger"`
	SessionPath    string        `validate:"required_if=SessionBackend sqlite,required_if=SessionBackend badger"`
	RedisURL       string        `validate:"required_if=SessionBackend redis"`
	SessionWindow  time.Duration `validate:"gt=0"`
	PruneInterval  time.Duration `validate:"gte=0"`

	InitialNodes  int `validate:"gte=1"`
	ExpandNodes   int `validate:"gte=1"`
	BreadcrumbMax int `validate:"gte=1"`

	Watch      bool
	AdminToken string
	TLSCert    string `validate:"required_with=TLSKey"`
	TLSKey     string `validate:"required_with=TLSCert"`
}

// LoadConfig resolves settings from a .env file, MHIVE_* environment
// variables and flags, in increasing order of precedence.
func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	envFile := envOrDefault("MHIVE_ENV_FILE", ".env")
	if err := godotenv.Load(resolvePath(envFile, cwd)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	sessionWindow, err := durationFromEnv("MHIVE_SESSION_WINDOW", defaultSessionWindow)
	if err != nil {
		return Config{}, err
	}
	pruneInterval, err := durationFromEnv("MHIVE_PRUNE_INTERVAL", defaultPruneInterval)
	if err != nil {
		return Config{}, err
	}
	sourceTimeout, err := durationFromEnv("MHIVE_SOURCE_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	initialNodes, err := intFromEnv("MHIVE_INITIAL_NODES", 20)
	if err != nil {
		return Config{}, err
	}
	expandNodes, err := intFromEnv("MHIVE_EXPAND_NODES", 10)
	if err != nil {
		return Config{}, err
	}
	breadcrumbMax, err := intFromEnv("MHIVE_BREADCRUMB_MAX", 10)
	if err != nil {
		return Config{}, err
	}
	retries, err := intFromEnv("MHIVE_SOURCE_RETRIES", 2)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := floatFromEnv("MHIVE_SOURCE_RATE_LIMIT", 0)
	if err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("mhive-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addrFromEnv(defaultAddr), "HTTP listen address")
	flagLogLevel := flagSet.String("log-level", envOrDefault("MHIVE_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", envOrDefault("MHIVE_LOG_FORMAT", "text"), "log format: text|json|logfmt")

	flagSourceKind := flagSet.String("source", envOrDefault("MHIVE_SOURCE", "fs"), "snapshot source: http|fs|gcs|s3|drive")
	flagSourceURL := flagSet.String("source-url", os.Getenv("MHIVE_SOURCE_URL"), "base URL for the http source")
	flagSourceDir := flagSet.String("source-dir", envOrDefault("MHIVE_SOURCE_DIR", "data"), "directory for the fs source")
	flagBucket := flagSet.String("bucket", os.Getenv("MHIVE_BUCKET"), "bucket for the gcs and s3 sources")
	flagPrefix := flagSet.String("prefix", os.Getenv("MHIVE_PREFIX"), "object prefix for the gcs and s3 sources")
	flagCredentials := flagSet.String("credentials", os.Getenv("MHIVE_CREDENTIALS_FILE"), "service account file for gcs and drive")
	flagRegion := flagSet.String("region", os.Getenv("MHIVE_S3_REGION"), "s3 region")
	flagEndpoint := flagSet.String("endpoint", os.Getenv("MHIVE_S3_ENDPOINT"), "s3-compatible endpoint")
	flagFolder := flagSet.String("drive-folder", os.Getenv("MHIVE_DRIVE_FOLDER"), "drive folder id holding the snapshot")
	flagSourceTimeout := flagSet.Duration("source-timeout", sourceTimeout, "per-request timeout for the http source")
	flagRetries := flagSet.Int("source-retries", retries, "retries for the http source")
	flagRateLimit := flagSet.Float64("source-rate-limit", rateLimit, "remote requests per second, 0 for unlimited")

	flagBackend := flagSet.String("session-backend", envOrDefault("MHIVE_SESSION_BACKEND", "memory"), "session store: memory|sqlite|redis|badger")
	flagSessionPath := flagSet.String("session-path", envOrDefault("MHIVE_SESSION_PATH", ""), "sqlite file or badger directory")
	flagRedisURL := flagSet.String("redis-url", os.Getenv("MHIVE_REDIS_URL"), "redis URL for the redis session store")
	flagWindow := flagSet.Duration("session-window", sessionWindow, "how long a saved session stays fresh")
	flagPrune := flagSet.Duration("prune-interval", pruneInterval, "how often idle sessions are evicted from memory and stale sqlite sessions pruned, 0 to disable")

	flagInitial := flagSet.Int("initial-nodes", initialNodes, "incidents shown on start, reset and filter change")
	flagExpand := flagSet.Int("expand-nodes", expandNodes, "neighbours revealed per selection")
	flagBreadcrumb := flagSet.Int("breadcrumb-max", breadcrumbMax, "breadcrumb trail length")

	flagWatch := flagSet.Bool("watch", envBool("MHIVE_WATCH"), "reload when files under the fs source change")
	flagAdminToken := flagSet.String("admin-token", os.Getenv("MHIVE_ADMIN_TOKEN"), "bearer token for admin endpoints")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("MHIVE_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("MHIVE_TLS_KEY"), "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	backend := strings.ToLower(strings.TrimSpace(*flagBackend))
	sessionPath := strings.TrimSpace(*flagSessionPath)
	if sessionPath == "" {
		switch backend {
		case "sqlite":
			sessionPath = "mhive-sessions.db"
		case "badger":
			sessionPath = "mhive-sessions.badger"
		}
	}
	if sessionPath != "" {
		sessionPath = resolvePath(sessionPath, cwd)
	}

	config := Config{
		Addr:      strings.TrimSpace(*flagAddr),
		LogLevel:  strings.ToLower(strings.TrimSpace(*flagLogLevel)),
		LogFormat: strings.ToLower(strings.TrimSpace(*flagLogFormat)),
		Source: source.Config{
			Kind:            strings.ToLower(strings.TrimSpace(*flagSourceKind)),
			BaseURL:         strings.TrimSpace(*flagSourceURL),
			Timeout:         *flagSourceTimeout,
			Retries:         *flagRetries,
			Dir:             resolvePath(*flagSourceDir, cwd),
			Bucket:          strings.TrimSpace(*flagBucket),
			Prefix:          strings.TrimSpace(*flagPrefix),
			CredentialsFile: resolvePath(*flagCredentials, cwd),
			Region:          strings.TrimSpace(*flagRegion),
			Endpoint:        strings.TrimSpace(*flagEndpoint),
			AccessKey:       os.Getenv("MHIVE_S3_ACCESS_KEY"),
			SecretKey:       os.Getenv("MHIVE_S3_SECRET_KEY"),
			FolderID:        strings.TrimSpace(*flagFolder),
			APIKey:          os.Getenv("MHIVE_DRIVE_API_KEY"),
			RateLimit:       *flagRateLimit,
		},
		SessionBackend: backend,
		SessionPath:    sessionPath,
		RedisURL:       strings.TrimSpace(*flagRedisURL),
		SessionWindow:  *flagWindow,
		PruneInterval:  *flagPrune,
		InitialNodes:   *flagInitial,
		ExpandNodes:    *flagExpand,
		BreadcrumbMax:  *flagBreadcrumb,
		Watch:          *flagWatch,
		AdminToken:     *flagAdminToken,
		TLSCert:        resolvePath(*flagTLSCert, cwd),
		TLSKey:         resolvePath(*flagTLSKey, cwd),
	}

	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateSource(config.Source); err != nil {
		return Config{}, err
	}
	if config.Watch && config.Source.Kind != "fs" {
		return Config{}, errors.New("watch requires the fs source")
	}

	return config, nil
}

func validateSource(cfg source.Config) error {
	switch cfg.Kind {
	case "http":
		if cfg.BaseURL == "" {
			return errors.New("source=http requires source-url")
		}
	case "fs":
		if cfg.Dir == "" {
			return errors.New("source=fs requires source-dir")
		}
	case "gcs", "s3":
		if cfg.Bucket == "" {
			return fmt.Errorf("source=%s requires bucket", cfg.Kind)
		}
	case "drive":
		if cfg.FolderID == "" {
			return errors.New("source=drive requires drive-folder")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("MHIVE_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("MHIVE_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
