package cache

import "time"

// Config holds configuration for the in-process caches.
type Config struct {
	// Enabled toggles caching globally. When false, callers bypass the cache
	// and hit the store on every read.
	Enabled bool `mapstructure:"enabled" default:"true"`
	// DefaultTTLSeconds is the default entry lifetime. Zero means entries
	// never expire.
	DefaultTTLSeconds int `mapstructure:"default_ttl_s" default:"60"`
	// SweepIntervalSeconds is how often the background janitor removes
	// expired entries. Zero disables the janitor.
	SweepIntervalSeconds int `mapstructure:"sweep_interval_s" default:"60"`
}

// DefaultTTL returns the default entry lifetime as a duration.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}
