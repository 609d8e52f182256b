// Command server runs the forward proxy: godotenv loads local overrides,
// config.Load reads the environment, and the rest of main wires the cache,
// dispatcher, and handler together before handing off to net/http.
package main

import (
	"log"
	"net/http"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/config"
	"github.com/yyxff/httpproxy-cache/internal/dispatcher"
	imetrics "github.com/yyxff/httpproxy-cache/internal/metrics"
	"github.com/yyxff/httpproxy-cache/internal/proxy"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env file (%v), using system environment variables", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	clock := cache.SystemClock{}
	shardedCache := cache.New(cfg.Cache.ShardCount, cfg.Cache.ShardBudgetBytes, clock)

	d := dispatcher.New(shardedCache, clock, cfg.Origin.ConnectTimeout, cfg.Origin.ReadTimeout, cfg.Cache.DefaultTTL)
	if cfg.Resilience.Enabled {
		resilience := &dispatcher.ResilienceConfig{
			RetryPolicy: dispatcher.DefaultRetryPolicy(cfg.Resilience.MaxRetries),
		}
		if cfg.Resilience.BreakerOpen {
			resilience.CircuitBreaker = dispatcher.DefaultCircuitBreaker()
		}
		d.Resilience = resilience
	}

	handler := proxy.New(d)
	handler.SetAllowedMethods(cfg.AllowedMethods)
	handler.ConnectIdle = cfg.ConnectIdleTimeout

	var root http.Handler = handler
	root = proxy.WithQueue(root, cfg.Queue)

	mux := http.NewServeMux()
	mux.Handle("/", withServerHeaders(root))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	go reportCacheStats(shardedCache, 10*time.Second)
	go reapExpired(shardedCache, clock, time.Minute)

	log.Printf("listening on %s, cache shards=%d shard_budget=%dB default_ttl=%s",
		cfg.ListenAddr, cfg.Cache.ShardCount, cfg.Cache.ShardBudgetBytes, cfg.Cache.DefaultTTL)

	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatal(err)
	}
}

func withServerHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "httpproxy-cache/0.1")
		next.ServeHTTP(w, r)
	})
}

// reportCacheStats mirrors each shard's cumulative counters into Prometheus
// gauges on a fixed interval, keeping the cache package itself free of any
// metrics dependency.
func reportCacheStats(c *cache.ShardedCache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for i, bytesUsed := range c.ShardBytesUsed() {
			stats := c.ShardStats()[i]
			imetrics.CacheShardGaugesSet(i, bytesUsed, stats.Entries)
		}
		total := c.Stats()
		imetrics.CacheLookupsSet(total.Hits, total.Misses)
		imetrics.CacheEvictionsSet(total.Evictions)
	}
}

func reapExpired(c *cache.ShardedCache, clock cache.Clock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		c.ReapExpired(clock.Now())
	}
}
