// Package config handles environment-based configuration loading and the
// optional runtime tuning file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Paths
	DataDir      string
	AccountsFile string
	ProxiesFile  string
	RuntimeFile  string
	GeoIPDB      string

	// Dispatch
	GateCapacity    int // 0 = derive from CPU count
	GateAcquireMax  time.Duration
	DispatchRetries int

	// Request log
	RequestLogDir           string
	RequestLogQueueSize     int
	RequestLogFlushBatch    int
	RequestLogFlushInterval time.Duration
	RequestLogDBMaxMB       int
	RequestLogDBRetainCount int

	// Catalog
	ResponseCacheEntries int
	ResponseCacheTTL     time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Every variable has a default; the core boots with an empty environment.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Paths ---
	cfg.DataDir = envStr("ROOST_DATA_DIR", ".")
	cfg.AccountsFile = envStr("ROOST_ACCOUNTS_FILE", "data.json")
	cfg.ProxiesFile = envStr("ROOST_PROXIES_FILE", "proxies.txt")
	cfg.RuntimeFile = envStr("ROOST_RUNTIME_FILE", "roost.yaml")
	cfg.GeoIPDB = strings.TrimSpace(envStr("ROOST_GEOIP_DB", ""))

	// --- Dispatch ---
	cfg.GateCapacity = envInt("ROOST_GATE_CAPACITY", 0, &errs)
	cfg.GateAcquireMax = envDuration("ROOST_GATE_ACQUIRE_MAX", 10*time.Second, &errs)
	cfg.DispatchRetries = envInt("ROOST_DISPATCH_RETRIES", 10, &errs)

	// --- Request log ---
	cfg.RequestLogDir = envStr("ROOST_REQUEST_LOG_DIR", "requestlog")
	cfg.RequestLogQueueSize = envInt("ROOST_REQUEST_LOG_QUEUE_SIZE", 8192, &errs)
	cfg.RequestLogFlushBatch = envInt("ROOST_REQUEST_LOG_FLUSH_BATCH", 2048, &errs)
	cfg.RequestLogFlushInterval = envDuration("ROOST_REQUEST_LOG_FLUSH_INTERVAL", time.Minute, &errs)
	cfg.RequestLogDBMaxMB = envInt("ROOST_REQUEST_LOG_DB_MAX_MB", 256, &errs)
	cfg.RequestLogDBRetainCount = envInt("ROOST_REQUEST_LOG_DB_RETAIN_COUNT", 5, &errs)

	// --- Catalog ---
	cfg.ResponseCacheEntries = envInt("ROOST_RESPONSE_CACHE_ENTRIES", 4096, &errs)
	cfg.ResponseCacheTTL = envDuration("ROOST_RESPONSE_CACHE_TTL", 30*time.Second, &errs)

	if cfg.DispatchRetries <= 0 {
		errs = append(errs, "ROOST_DISPATCH_RETRIES must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
