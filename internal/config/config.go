// Package config provides configuration loading and structs for the Legalyze server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Completion CompletionConfig `yaml:"completion"`
	Upload     UploadConfig     `yaml:"upload"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds contract inbox settings. Each watched directory may contain one
// subdirectory per category (legal/, business/, ...).
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig holds the database driver and on-disk paths.
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	DatabasePath    string `yaml:"database_path"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	UploadDir       string `yaml:"upload_dir"`
}

// Embedding providers.
const (
	ProviderMock        = "mock"
	ProviderONNX        = "onnx"
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"
)

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	ModelPath         string  `yaml:"model_path"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// RetrievalConfig holds retrieval and search settings.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	ContextTokenBudget int     `yaml:"context_token_budget"`
	DefaultLimit       int     `yaml:"default_limit"`
	MaxLimit           int     `yaml:"max_limit"`
	KeywordWeight      float64 `yaml:"keyword_weight"`
	SemanticWeight     float64 `yaml:"semantic_weight"`
}

// CompletionConfig holds settings for the OpenAI-compatible chat completion endpoint.
type CompletionConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	AnalysisModel  string  `yaml:"analysis_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxBytes   int64    `yaml:"max_bytes"`
	Extensions []string `yaml:"extensions"`
}

// Load reads .env files, parses the config file at path, applies defaults, expands paths,
// overlays environment variables and validates the result.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv loads each existing .env file. Variables already set in the environment win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// ApplyEnv overlays environment variables onto cfg. LEGALYZE_* variables override individual
// settings; GROQ_API_KEY, OPENAI_API_KEY and HF_TOKEN fill in missing API keys.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "LEGALYZE_HOST")
	setInt(&cfg.Server.Port, "LEGALYZE_PORT")
	setString(&cfg.Storage.Driver, "LEGALYZE_STORAGE_DRIVER")
	setString(&cfg.Storage.PostgresDSN, "LEGALYZE_POSTGRES_DSN")
	setString(&cfg.Embedding.Provider, "LEGALYZE_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.Model, "LEGALYZE_EMBEDDING_MODEL")
	setString(&cfg.Completion.BaseURL, "LEGALYZE_COMPLETION_BASE_URL")
	setString(&cfg.Completion.Model, "LEGALYZE_COMPLETION_MODEL")
	if v, ok := os.LookupEnv("LEGALYZE_DEBUG"); ok {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}

	if cfg.Completion.APIKey == "" {
		cfg.Completion.APIKey = firstEnv("LEGALYZE_COMPLETION_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case ProviderHuggingFace:
			cfg.Embedding.APIKey = firstEnv("LEGALYZE_EMBEDDING_API_KEY", "HF_TOKEN")
		case ProviderOpenAI:
			cfg.Embedding.APIKey = firstEnv("LEGALYZE_EMBEDDING_API_KEY", "OPENAI_API_KEY")
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", c.Storage.Driver))
	}
	switch c.Embedding.Provider {
	case ProviderMock, ProviderONNX, ProviderOpenAI, ProviderHuggingFace, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider: %s", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunking.chunk_size must be positive"))
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.SemanticWeight < 0 {
		errs = append(errs, errors.New("retrieval weights must not be negative"))
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		errs = append(errs, fmt.Errorf("completion.temperature out of range: %v", c.Completion.Temperature))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// Save writes the config to path. Used for persisting watch directory add/remove.
// API keys are not written back.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Embedding.APIKey = ""
	out.Completion.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
