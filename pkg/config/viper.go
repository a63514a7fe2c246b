package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found in the resolved config directory), and binds environment
// variables with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by the command)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_VECTOR_STORE_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	dir, err := Dir(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_API_LISTEN, ENGRAM_EMBEDDING_MODEL, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// API
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.log_json", d.API.LogJSON)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.host", d.VectorStore.Host)
	v.SetDefault("vector_store.port", d.VectorStore.Port)

	// Graph store
	v.SetDefault("graph_store.provider", d.GraphStore.Provider)
	v.SetDefault("graph_store.target", d.GraphStore.Target)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Extractor
	v.SetDefault("extractor.provider", d.Extractor.Provider)
	v.SetDefault("extractor.target", d.Extractor.Target)
	v.SetDefault("extractor.model", d.Extractor.Model)

	// Cache
	v.SetDefault("cache.provider", d.Cache.Provider)
	v.SetDefault("cache.ttl_secs", d.Cache.TTLSecs)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Retrieval
	v.SetDefault("retrieval.alpha", d.Retrieval.Alpha)
	v.SetDefault("retrieval.beta", d.Retrieval.Beta)
	v.SetDefault("retrieval.gamma", d.Retrieval.Gamma)
	v.SetDefault("retrieval.delta", d.Retrieval.Delta)
	v.SetDefault("retrieval.freshness_tau_days", d.Retrieval.FreshnessTauDays)
	v.SetDefault("retrieval.default_k", d.Retrieval.DefaultK)
	v.SetDefault("retrieval.min_confidence", d.Retrieval.MinConfidence)
	v.SetDefault("retrieval.max_hops", d.Retrieval.MaxHops)

	// Quality
	v.SetDefault("quality.conflict_similarity", d.Quality.ConflictSimilarity)
	v.SetDefault("quality.sweep_interval_secs", d.Quality.SweepIntervalSecs)
	v.SetDefault("quality.weight_confidence", d.Quality.WeightConfidence)
	v.SetDefault("quality.weight_coverage", d.Quality.WeightCoverage)
	v.SetDefault("quality.weight_freshness", d.Quality.WeightFreshness)
}
