// Package config loads the proxy's configuration from environment
// variables, in the teacher's getEnv/getEnvInt/getEnvDuration idiom.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/proxy"
)

type Config struct {
	ListenAddr string

	Cache      CacheConfig
	Origin     OriginConfig
	Queue      proxy.QueueConfig
	Resilience ResilienceConfig

	AllowedMethods     []string
	ConnectIdleTimeout time.Duration

	MetricsEnabled bool
	LokiURL        string
}

type CacheConfig struct {
	ShardCount       int
	ShardBudgetBytes int64
	DefaultTTL       time.Duration
}

type OriginConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type ResilienceConfig struct {
	Enabled     bool
	MaxRetries  int
	BreakerOpen bool
}

const (
	defaultListen              = ":8888"
	defaultShardCount          = 8
	defaultShardBudgetBytes    = 8 << 20 // 8MiB per shard
	defaultCacheTTL            = time.Hour
	defaultOriginConnect       = 5 * time.Second
	defaultOriginRead          = 10 * time.Second
	defaultConnectIdleTimeout  = 5 * time.Second
	defaultQueueMax            = 1000
	defaultQueueMaxConcurrent  = 200
	defaultQueueEnqueueTimeout = 2 * time.Second
	defaultQueueWaitHeader     = false
	defaultAllowedMethods      = "GET,POST,CONNECT"
	defaultMaxRetries          = 2
)

// Load reads environment variables and returns the resulting Config; values
// are not range-checked. Every value has a usable default, so Load never
// fails — it is not connected to
// any origin yet, it only describes how to connect to one later.
func Load() (*Config, error) {
	return &Config{
		ListenAddr: getEnv("PROXY_LISTEN", defaultListen),
		Cache: CacheConfig{
			ShardCount:       getEnvInt("CACHE_SHARDS", defaultShardCount),
			ShardBudgetBytes: getEnvInt64("CACHE_SHARD_BYTES", defaultShardBudgetBytes),
			DefaultTTL:       getEnvDuration("CACHE_DEFAULT_TTL", defaultCacheTTL),
		},
		Origin: OriginConfig{
			ConnectTimeout: getEnvDuration("ORIGIN_CONNECT_TIMEOUT", defaultOriginConnect),
			ReadTimeout:    getEnvDuration("ORIGIN_READ_TIMEOUT", defaultOriginRead),
		},
		Queue: proxy.QueueConfig{
			MaxQueue:        getEnvInt("QUEUE_MAX", defaultQueueMax),
			MaxConcurrent:   getEnvInt("QUEUE_MAX_CONCURRENT", defaultQueueMaxConcurrent),
			EnqueueTimeout:  getEnvDuration("QUEUE_ENQUEUE_TIMEOUT", defaultQueueEnqueueTimeout),
			QueueWaitHeader: getEnvBool("QUEUE_WAIT_HEADER", defaultQueueWaitHeader),
		},
		Resilience: ResilienceConfig{
			Enabled:     getEnvBool("ORIGIN_RESILIENCE_ENABLED", true),
			MaxRetries:  getEnvInt("ORIGIN_MAX_RETRIES", defaultMaxRetries),
			BreakerOpen: getEnvBool("ORIGIN_CIRCUIT_BREAKER_ENABLED", true),
		},
		AllowedMethods:     parseMethods(getEnv("PROXY_ALLOWED_METHODS", defaultAllowedMethods)),
		ConnectIdleTimeout: getEnvDuration("CONNECT_IDLE_TIMEOUT", defaultConnectIdleTimeout),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		LokiURL:            getEnv("LOKI_URL", ""),
	}, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// parseMethods converts a comma-separated method list to a deduplicated,
// upper-cased slice.
func parseMethods(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		m := strings.ToUpper(strings.TrimSpace(p))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
