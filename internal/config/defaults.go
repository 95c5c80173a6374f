package config

// Default completion settings. Groq serves an OpenAI-compatible API.
const (
	DefaultCompletionBaseURL = "https://api.groq.com/openai/v1"
	DefaultCompletionModel   = "llama-3.3-70b-versatile"
	DefaultMaxUploadBytes    = 10 << 20
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/legalyze/data/db/legalyze.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/legalyze/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/legalyze/data/indices/chunks.bin"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "/usr/local/var/legalyze/data/uploads"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderMock
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderOpenAI:
			cfg.Embedding.Model = "text-embedding-3-small"
		case ProviderHuggingFace:
			cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
		case ProviderOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		}
	}
	if cfg.Embedding.ModelPath == "" && cfg.Embedding.Provider == ProviderONNX {
		cfg.Embedding.ModelPath = "/usr/local/var/legalyze/data/models/bge-small-en-v1.5.onnx"
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 500
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.ContextTokenBudget == 0 {
		cfg.Retrieval.ContextTokenBudget = 3000
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 10
	}
	if cfg.Retrieval.MaxLimit == 0 {
		cfg.Retrieval.MaxLimit = 100
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.4
		cfg.Retrieval.SemanticWeight = 0.6
	}
	if cfg.Completion.BaseURL == "" {
		cfg.Completion.BaseURL = DefaultCompletionBaseURL
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = DefaultCompletionModel
	}
	if cfg.Completion.AnalysisModel == "" {
		cfg.Completion.AnalysisModel = cfg.Completion.Model
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.2
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 1024
	}
	if cfg.Completion.MaxRetries == 0 {
		cfg.Completion.MaxRetries = 3
	}
	if cfg.Completion.TimeoutSeconds == 0 {
		cfg.Completion.TimeoutSeconds = 60
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if cfg.Upload.Extensions == nil {
		cfg.Upload.Extensions = []string{".pdf", ".docx"}
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".docx", ".odt", ".rtf", ".txt", ".md", ".xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
