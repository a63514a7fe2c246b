package config

const (
	defaultAPIListen = ":8080"

	defaultVectorProvider = "sqlite"
	defaultGraphProvider  = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultExtractorProvider = "heuristic"

	defaultCacheProvider = "ristretto"
	defaultCacheTTLSecs  = 300

	defaultEventsProvider = "nop"

	defaultConflictSimilarity = 0.85
	defaultSweepIntervalSecs  = 60
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		GraphStore: GraphStoreConfig{
			Provider: defaultGraphProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Extractor: ExtractorConfig{
			Provider: defaultExtractorProvider,
			Target:   defaultEmbeddingTarget,
		},
		Cache: CacheConfig{
			Provider: defaultCacheProvider,
			TTLSecs:  defaultCacheTTLSecs,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
		},
		Retrieval: RetrievalConfig{
			Alpha:            0.55,
			Beta:             0.25,
			Gamma:            0.15,
			Delta:            0.05,
			FreshnessTauDays: 30,
			DefaultK:         5,
			MinConfidence:    7,
			MaxHops:          2,
		},
		Quality: QualityConfig{
			ConflictSimilarity: defaultConflictSimilarity,
			SweepIntervalSecs:  defaultSweepIntervalSecs,
			WeightConfidence:   0.5,
			WeightCoverage:     0.3,
			WeightFreshness:    0.2,
		},
	}
}
