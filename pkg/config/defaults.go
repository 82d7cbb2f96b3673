package config

const (
	defaultStorageDriver = "sqlite"
	defaultSQLitePath    = "engram.db"

	defaultAPIListen = ":8081"

	defaultVectorProvider = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultDedupThreshold      = 0.92
	defaultDedupCandidateLimit = 64

	defaultRecallPageSize = 10

	defaultDispatchProvider  = "pool"
	defaultDispatchWorkers   = 3
	defaultDispatchQueueSize = 256
	defaultDispatchTopic     = "engram-jobs"
	defaultDispatchGroupID   = "engram-workers"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver:     defaultStorageDriver,
			SQLitePath: defaultSQLitePath,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Dedup: DedupConfig{
			Threshold:      defaultDedupThreshold,
			CandidateLimit: defaultDedupCandidateLimit,
		},
		Recall: RecallConfig{
			PageSize: defaultRecallPageSize,
		},
		Dispatch: DispatchConfig{
			Provider:  defaultDispatchProvider,
			Workers:   defaultDispatchWorkers,
			QueueSize: defaultDispatchQueueSize,
			Topic:     defaultDispatchTopic,
			GroupID:   defaultDispatchGroupID,
		},
	}
}
