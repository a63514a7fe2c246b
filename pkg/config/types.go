package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent engram configuration stored as
// config.toml in the .engram/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int              `toml:"version"`
	API         APIConfig        `toml:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	GraphStore  GraphStoreConfig `toml:"graph_store"`
	Embedding   EmbeddingConfig  `toml:"embedding"`
	Extractor   ExtractorConfig  `toml:"extractor"`
	Cache       CacheConfig      `toml:"cache"`
	Events      EventsConfig     `toml:"events"`
	Retrieval   RetrievalConfig  `toml:"retrieval"`
	Quality     QualityConfig    `toml:"quality"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`

	// LogJSON switches the server logger to the JSON encoder.
	LogJSON bool `toml:"log_json,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Host     string `toml:"host,omitempty"`
	Port     int    `toml:"port,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// GraphStoreConfig holds graph store settings.
type GraphStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ExtractorConfig holds entity/relationship extractor settings.
type ExtractorConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	Provider string `toml:"provider,omitempty"`
	TTLSecs  int    `toml:"ttl_secs,omitempty"`
}

// EventsConfig holds event stream settings.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// RetrievalConfig holds hybrid ranking settings.
type RetrievalConfig struct {
	Alpha            float64 `toml:"alpha,omitempty"`
	Beta             float64 `toml:"beta,omitempty"`
	Gamma            float64 `toml:"gamma,omitempty"`
	Delta            float64 `toml:"delta,omitempty"`
	FreshnessTauDays float64 `toml:"freshness_tau_days,omitempty"`
	DefaultK         int     `toml:"default_k,omitempty"`
	MinConfidence    int     `toml:"min_confidence,omitempty"`
	MaxHops          int     `toml:"max_hops,omitempty"`
}

// QualityConfig holds conflict detection and audit settings.
type QualityConfig struct {
	ConflictSimilarity float64    `toml:"conflict_similarity,omitempty"`
	SweepIntervalSecs  int        `toml:"sweep_interval_secs,omitempty"`
	ExclusiveTagPairs  [][]string `toml:"exclusive_tag_pairs,omitempty"`
	WeightConfidence   float64    `toml:"weight_confidence,omitempty"`
	WeightCoverage     float64    `toml:"weight_coverage,omitempty"`
	WeightFreshness    float64    `toml:"weight_freshness,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"api.log_json": {
		get: func(c *Config) string { return strconv.FormatBool(c.API.LogJSON) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("api.log_json must be a boolean: %w", err)
			}
			c.API.LogJSON = b
			return nil
		},
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"vector_store.host": {
		get: func(c *Config) string { return c.VectorStore.Host },
		set: func(c *Config, v string) error { c.VectorStore.Host = v; return nil },
	},
	"vector_store.port": {
		get: func(c *Config) string { return strconv.Itoa(c.VectorStore.Port) },
		set: func(c *Config, v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("vector_store.port must be an integer: %w", err)
			}
			c.VectorStore.Port = port
			return nil
		},
	},
	"graph_store.provider": {
		get: func(c *Config) string { return c.GraphStore.Provider },
		set: func(c *Config, v string) error { c.GraphStore.Provider = v; return nil },
	},
	"graph_store.target": {
		get: func(c *Config) string { return c.GraphStore.Target },
		set: func(c *Config, v string) error { c.GraphStore.Target = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10) },
		set: func(c *Config, v string) error {
			dims, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("embedding.dimensions must be a positive integer: %w", err)
			}
			c.Embedding.Dimensions = uint(dims)
			return nil
		},
	},
	"extractor.provider": {
		get: func(c *Config) string { return c.Extractor.Provider },
		set: func(c *Config, v string) error { c.Extractor.Provider = v; return nil },
	},
	"extractor.target": {
		get: func(c *Config) string { return c.Extractor.Target },
		set: func(c *Config, v string) error { c.Extractor.Target = v; return nil },
	},
	"extractor.model": {
		get: func(c *Config) string { return c.Extractor.Model },
		set: func(c *Config, v string) error { c.Extractor.Model = v; return nil },
	},
	"cache.provider": {
		get: func(c *Config) string { return c.Cache.Provider },
		set: func(c *Config, v string) error { c.Cache.Provider = v; return nil },
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = strings.Split(v, ",")
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"quality.conflict_similarity": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Quality.ConflictSimilarity, 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("quality.conflict_similarity must be a float: %w", err)
			}
			c.Quality.ConflictSimilarity = f
			return nil
		},
	},
}
