// Package config loads and validates DriveRAG configuration.
//
// Resolution order: built-in defaults, then config.yaml in the data
// directory, then DRIVERAG_* environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file looked up in the data directory.
const ConfigFileName = "config.yaml"

// Config is the complete DriveRAG configuration.
type Config struct {
	Version  int            `yaml:"version"`
	DataDir  string         `yaml:"data_dir"`
	Drive    DriveConfig    `yaml:"drive"`
	Cache    CacheConfig    `yaml:"cache"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Search   SearchConfig   `yaml:"search"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DriveConfig configures the remote Google Drive source.
type DriveConfig struct {
	// FolderID is the Drive folder to ingest.
	FolderID string `yaml:"folder_id"`
	// CredentialsFile is the path to the OAuth client credentials JSON.
	CredentialsFile string `yaml:"credentials_file"`
	// TokenFile is the path to the cached OAuth token JSON.
	TokenFile string `yaml:"token_file"`
}

// CacheConfig configures the local document cache.
type CacheConfig struct {
	// Dir is the cache directory. Defaults to <data_dir>/cache.
	Dir string `yaml:"dir"`
	// TTL is how long cached bytes stay fresh.
	TTL time.Duration `yaml:"ttl"`
}

// ChunkingConfig configures text splitting.
type ChunkingConfig struct {
	// ChunkSize is the maximum tokens per chunk.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the tokens re-included from the previous chunk.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// MinChunkTokens is the smallest standalone chunk; shorter tails merge backward.
	MinChunkTokens int `yaml:"min_chunk_tokens"`
}

// SearchConfig configures hybrid search and context assembly.
type SearchConfig struct {
	// SemanticWeight is the weight for vector similarity (0.0-1.0).
	// Lexical overlap gets 1 - SemanticWeight.
	SemanticWeight float64 `yaml:"semantic_weight"`
	// TopK is the default number of results returned.
	TopK int `yaml:"top_k"`
	// MaxContextTokens is the token budget for assembled context.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// OllamaConfig configures the embedding and generation service.
type OllamaConfig struct {
	Host            string        `yaml:"host"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	GenerationModel string        `yaml:"generation_model"`
	Dimensions      int           `yaml:"dimensions"`
	BatchSize       int           `yaml:"batch_size"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SyncConfig configures the ingestion pipeline.
type SyncConfig struct {
	// Workers is the size of the per-file worker pool.
	Workers int `yaml:"workers"`
	// MaxRetries bounds retry attempts for fetch and embed calls.
	MaxRetries int `yaml:"max_retries"`
	// FileTimeout bounds a single file's fetch-to-index pipeline.
	FileTimeout time.Duration `yaml:"file_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration defaults.
// Chunking and search defaults mirror the values the retrieval
// quality was tuned against (chunk 500/overlap 50, weight 0.7).
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".driverag")

	return &Config{
		Version: 1,
		DataDir: dataDir,
		Drive: DriveConfig{
			CredentialsFile: filepath.Join(dataDir, "credentials.json"),
			TokenFile:       filepath.Join(dataDir, "token.json"),
		},
		Cache: CacheConfig{
			Dir: filepath.Join(dataDir, "cache"),
			TTL: 24 * time.Hour,
		},
		Chunking: ChunkingConfig{
			ChunkSize:      500,
			ChunkOverlap:   50,
			MinChunkTokens: 20,
		},
		Search: SearchConfig{
			SemanticWeight:   0.7,
			TopK:             5,
			MaxContextTokens: 2000,
		},
		Ollama: OllamaConfig{
			Host:            "http://localhost:11434",
			EmbeddingModel:  "bge-small-en-v1.5",
			GenerationModel: "mistral:7b-instruct",
			BatchSize:       32,
			Timeout:         60 * time.Second,
		},
		Sync: SyncConfig{
			Workers:     4,
			MaxRetries:  3,
			FileTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from dataDir/config.yaml, applying defaults for
// missing fields and environment overrides on top. A missing file is not an
// error; defaults are used.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Cache.Dir = filepath.Join(dataDir, "cache")
	}

	path := filepath.Join(cfg.DataDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies DRIVERAG_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIVERAG_FOLDER_ID"); v != "" {
		c.Drive.FolderID = v
	}
	if v := os.Getenv("DRIVERAG_CREDENTIALS_FILE"); v != "" {
		c.Drive.CredentialsFile = v
	}
	if v := os.Getenv("DRIVERAG_OLLAMA_HOST"); v != "" {
		c.Ollama.Host = v
	}
	if v := os.Getenv("DRIVERAG_EMBEDDING_MODEL"); v != "" {
		c.Ollama.EmbeddingModel = v
	}
	if v := os.Getenv("DRIVERAG_GENERATION_MODEL"); v != "" {
		c.Ollama.GenerationModel = v
	}
	if v := os.Getenv("DRIVERAG_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("DRIVERAG_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("DRIVERAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIVERAG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.Workers = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be in [0,1], got %v", c.Search.SemanticWeight)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.MaxContextTokens <= 0 {
		return fmt.Errorf("max_context_tokens must be positive, got %d", c.Search.MaxContextTokens)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.Sync.MaxRetries)
	}
	return nil
}

// Save writes the configuration to dataDir/config.yaml.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(c.DataDir, ConfigFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}
