package engine

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultStoreName is the in-memory store created when none is configured.
	DefaultStoreName = "inMemEmbeddedCache"

	// DefaultCacheSize is the byte budget of the default store.
	DefaultCacheSize int64 = 20 << 20

	defaultReportInterval = 20 * time.Second
	defaultMaxPending     = 1000
)

// ErrMissingAPIKey is returned by Validate when no API key is configured.
var ErrMissingAPIKey = errors.New("engine: api key is required")

// InMemoryConfig configures an in-memory cache store.
type InMemoryConfig struct {
	CacheSize int64 `yaml:"cache_size"`
}

// StoreConfig names a cache store.
type StoreConfig struct {
	Name     string         `yaml:"name"`
	InMemory InMemoryConfig `yaml:"in_memory"`
}

// QueryCacheConfig selects the store used for full responses to anonymous
// queries. A zero MaxAge disables response caching.
type QueryCacheConfig struct {
	PublicFullQueryStore string        `yaml:"public_full_query_store"`
	MaxAge               time.Duration `yaml:"max_age"`
}

// ReportConfig configures trace reporting. An empty Endpoint keeps traces
// local (metrics only).
type ReportConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Interval   time.Duration `yaml:"interval"`
	MaxPending int           `yaml:"max_pending"`
}

// Config configures the engine.
type Config struct {
	APIKey     string           `yaml:"api_key"`
	Stores     []StoreConfig    `yaml:"stores"`
	QueryCache QueryCacheConfig `yaml:"query_cache"`
	Report     ReportConfig     `yaml:"report"`
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if len(c.Stores) == 0 {
		c.Stores = []StoreConfig{{
			Name:     DefaultStoreName,
			InMemory: InMemoryConfig{CacheSize: DefaultCacheSize},
		}}
	}
	for i := range c.Stores {
		if c.Stores[i].InMemory.CacheSize == 0 {
			c.Stores[i].InMemory.CacheSize = DefaultCacheSize
		}
	}
	if c.QueryCache.PublicFullQueryStore == "" {
		c.QueryCache.PublicFullQueryStore = c.Stores[0].Name
	}
	if c.Report.Interval <= 0 {
		c.Report.Interval = defaultReportInterval
	}
	if c.Report.MaxPending <= 0 {
		c.Report.MaxPending = defaultMaxPending
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Name == "" {
			return errors.New("engine: store name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("engine: duplicate store %q", s.Name)
		}
		seen[s.Name] = true
		if s.InMemory.CacheSize < 0 {
			return fmt.Errorf("engine: store %q has a negative cache size", s.Name)
		}
	}
	if !seen[c.QueryCache.PublicFullQueryStore] {
		return fmt.Errorf("engine: public full query store %q is not configured", c.QueryCache.PublicFullQueryStore)
	}
	if c.QueryCache.MaxAge < 0 {
		return errors.New("engine: query cache max age must not be negative")
	}
	return nil
}
