package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds the orchestrator tunables that may be overridden by an
// optional YAML file. Zero-value fields keep their defaults, so a partial
// file only overrides what it names.
type RuntimeConfig struct {
	// Health tracker.
	RequestsPerWindow  int           `yaml:"requests_per_window"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	CooldownDuration   time.Duration `yaml:"cooldown_duration"`
	ErrorHistorySize   int           `yaml:"error_history_size"`
	ResponseTimeWindow int           `yaml:"response_time_window"`

	// Circuit breaker.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerOpenDuration     time.Duration `yaml:"breaker_open_duration"`

	// Proxy pool.
	ProxySpacing time.Duration `yaml:"proxy_spacing"`

	// Timeout classes (milliseconds granularity is preserved from the
	// upstream contract; values here are durations).
	LoginTimeout   time.Duration `yaml:"login_timeout"`
	SearchTimeout  time.Duration `yaml:"search_timeout"`
	ProfileTimeout time.Duration `yaml:"profile_timeout"`
	TweetTimeout   time.Duration `yaml:"tweet_timeout"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// DefaultRuntimeConfig returns the built-in tunables.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		RequestsPerWindow:       200,
		RateLimitWindow:         15 * time.Minute,
		CooldownDuration:        2 * time.Minute,
		ErrorHistorySize:        25,
		ResponseTimeWindow:      50,
		BreakerFailureThreshold: 15,
		BreakerOpenDuration:     60 * time.Second,
		ProxySpacing:            time.Second,
		LoginTimeout:            45 * time.Second,
		SearchTimeout:           60 * time.Second,
		ProfileTimeout:          30 * time.Second,
		TweetTimeout:            35 * time.Second,
		DefaultTimeout:          30 * time.Second,
	}
}

// LoadRuntimeConfig reads the YAML tuning file at path, applying it on top
// of the defaults. A missing file is not an error; the defaults are used.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("runtime config: read %s: %w", path, err)
	}

	overlay := &RuntimeConfig{}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, fmt.Errorf("runtime config: parse %s: %w", path, err)
	}
	cfg.apply(overlay)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("runtime config: %s: %w", path, err)
	}
	return cfg, nil
}

// apply copies every non-zero overlay field onto cfg.
func (c *RuntimeConfig) apply(o *RuntimeConfig) {
	if o.RequestsPerWindow > 0 {
		c.RequestsPerWindow = o.RequestsPerWindow
	}
	if o.RateLimitWindow > 0 {
		c.RateLimitWindow = o.RateLimitWindow
	}
	if o.CooldownDuration > 0 {
		c.CooldownDuration = o.CooldownDuration
	}
	if o.ErrorHistorySize > 0 {
		c.ErrorHistorySize = o.ErrorHistorySize
	}
	if o.ResponseTimeWindow > 0 {
		c.ResponseTimeWindow = o.ResponseTimeWindow
	}
	if o.BreakerFailureThreshold > 0 {
		c.BreakerFailureThreshold = o.BreakerFailureThreshold
	}
	if o.BreakerOpenDuration > 0 {
		c.BreakerOpenDuration = o.BreakerOpenDuration
	}
	if o.ProxySpacing > 0 {
		c.ProxySpacing = o.ProxySpacing
	}
	if o.LoginTimeout > 0 {
		c.LoginTimeout = o.LoginTimeout
	}
	if o.SearchTimeout > 0 {
		c.SearchTimeout = o.SearchTimeout
	}
	if o.ProfileTimeout > 0 {
		c.ProfileTimeout = o.ProfileTimeout
	}
	if o.TweetTimeout > 0 {
		c.TweetTimeout = o.TweetTimeout
	}
	if o.DefaultTimeout > 0 {
		c.DefaultTimeout = o.DefaultTimeout
	}
}

func (c *RuntimeConfig) validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests_per_window must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("breaker_failure_threshold must be positive")
	}
	return nil
}
