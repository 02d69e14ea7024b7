package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusworks/envlift/internal/environment"
)

type Config struct {
	Addr        string
	DatabaseURL string

	// Environment is the process's own environment. It is read once at
	// startup and injected; nothing mutates it per-request.
	Environment environment.Environment

	JWTSecret       string
	AllowDebugToken bool
	DebugToken      string

	BucketDev     string
	BucketStage   string
	BucketProd    string
	ArchiveBucket string
	ArchivePrefix string

	WeaviateURL string

	KafkaBrokers []string
	KafkaTopic   string

	CopyConcurrency int
	ScanInterval    time.Duration
	ScanBatchSize   int
}

const (
	defaultAddr            = ":8074"
	defaultKafkaTopic      = "envlift.audit"
	defaultCopyConcurrency = 4
	defaultScanInterval    = time.Hour
	defaultScanBatchSize   = 200
)

func Load() (Config, error) {
	env, err := environment.Parse(getEnv("ENVLIFT_ENV", string(environment.Dev)))
	if err != nil {
		return Config{}, fmt.Errorf("ENVLIFT_ENV: %w", err)
	}
	cfg := Config{
		Addr:            getEnv("ENVLIFT_ADDR", defaultAddr),
		Environment:     env,
		DatabaseURL:     firstNonEmpty(os.Getenv("ENVLIFT_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		JWTSecret:       os.Getenv("ENVLIFT_JWT_SECRET"),
		AllowDebugToken: getBool("ENVLIFT_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("ENVLIFT_DEBUG_TOKEN"),
		BucketDev:       os.Getenv("ENVLIFT_BUCKET_DEV"),
		BucketStage:     os.Getenv("ENVLIFT_BUCKET_STAGE"),
		BucketProd:      os.Getenv("ENVLIFT_BUCKET_PROD"),
		ArchiveBucket:   os.Getenv("ENVLIFT_ARCHIVE_BUCKET"),
		ArchivePrefix:   getEnv("ENVLIFT_ARCHIVE_PREFIX", "envlift"),
		WeaviateURL:     os.Getenv("ENVLIFT_WEAVIATE_URL"),
		KafkaBrokers:    getList("ENVLIFT_KAFKA_BROKERS"),
		KafkaTopic:      getEnv("ENVLIFT_KAFKA_TOPIC", defaultKafkaTopic),
		CopyConcurrency: getInt("ENVLIFT_COPY_CONCURRENCY", defaultCopyConcurrency),
		ScanInterval:    getDuration("ENVLIFT_SCAN_INTERVAL", defaultScanInterval),
		ScanBatchSize:   getInt("ENVLIFT_SCAN_BATCH", defaultScanBatchSize),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or ENVLIFT_DATABASE_URL required")
	}
	if cfg.JWTSecret == "" && !cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("ENVLIFT_JWT_SECRET required when ENVLIFT_ALLOW_DEBUG_TOKEN unset")
	}
	return cfg, nil
}

// HasBuckets reports whether all three per-environment payload buckets are
// configured. Partial bucket config is a deployment mistake.
func (c Config) HasBuckets() (bool, error) {
	set := 0
	for _, b := range []string{c.BucketDev, c.BucketStage, c.BucketProd} {
		if b != "" {
			set++
		}
	}
	switch set {
	case 0:
		return false, nil
	case 3:
		return true, nil
	default:
		return false, fmt.Errorf("ENVLIFT_BUCKET_DEV, ENVLIFT_BUCKET_STAGE and ENVLIFT_BUCKET_PROD must all be set together")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
