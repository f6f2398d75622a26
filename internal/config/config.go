// Package config loads raglite configuration from an optional YAML file and
// the RAG_* environment variables. Environment variables take precedence over
// the file; flags (applied by the CLI) take precedence over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// Environment variable names recognized by raglite.
const (
	EnvDBFile         = "RAG_DB_FILE"
	EnvIndexFile      = "RAG_INDEX_FILE"
	EnvEmbeddingModel = "RAG_EMBEDDING_MODEL"
	EnvChunkSize      = "RAG_CHUNK_SIZE"
	EnvChunkOverlap   = "RAG_CHUNK_OVERLAP"
	EnvBatchSize      = "RAG_BATCH_SIZE"
	EnvTopK           = "RAG_TOP_K"
	EnvRerankEnabled  = "RAG_RERANK_ENABLED"
	EnvModelCachePath = "RAG_MODEL_CACHE_PATH"
	EnvCLIMode        = "RAG_CLI_MODE"
)

// Config is the complete raglite configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Search    SearchConfig    `yaml:"search" json:"search"`

	// CLIMode disables the idle connection sweeper for one-shot commands.
	CLIMode bool `yaml:"cli_mode" json:"cli_mode"`
}

// PathsConfig overrides the canonical dataset layout.
type PathsConfig struct {
	// DBFile and IndexFile override the canonical layout (legacy datasets).
	// Leave empty to use <root>/.raglite/.
	DBFile    string `yaml:"db_file" json:"db_file"`
	IndexFile string `yaml:"index_file" json:"index_file"`
}

// EmbeddingConfig configures the embedding model.
type EmbeddingConfig struct {
	// Model is the registry name of the embedding model.
	Model string `yaml:"model" json:"model"`
	// BatchSize caps the number of chunks per embedder call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// ModelCachePath is the directory for downloaded model artifacts.
	ModelCachePath string `yaml:"model_cache_path" json:"model_cache_path"`
}

// ChunkingConfig configures the token-aware chunker. Zero values mean
// "use the per-model default" (250/50 for 384-d, 400/80 for 768-d).
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// SearchConfig configures query defaults.
type SearchConfig struct {
	TopK          int  `yaml:"top_k" json:"top_k"`
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Embedding: EmbeddingConfig{
			BatchSize:      32,
			ModelCachePath: defaultModelCachePath(),
		},
		Search: SearchConfig{
			TopK: 10,
		},
	}
}

func defaultModelCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".raglite", "models")
	}
	return filepath.Join(home, ".raglite", "models")
}

// Load reads the config file at path (if it exists) and applies environment
// overrides. An empty path skips the file and loads defaults + environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing config file is fine; defaults apply.
		case err != nil:
			return cfg, rlerrors.New(rlerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("read config %s: %v", path, err), err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, rlerrors.New(rlerrors.ErrCodeConfigInvalid,
					fmt.Sprintf("parse config %s: %v", path, err), err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from RAG_* environment variables. Numeric parse
// failures propagate as config errors rather than silent fallbacks.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBFile); v != "" {
		c.Paths.DBFile = v
	}
	if v := os.Getenv(EnvIndexFile); v != "" {
		c.Paths.IndexFile = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvModelCachePath); v != "" {
		c.Embedding.ModelCachePath = v
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{EnvChunkSize, &c.Chunking.ChunkSize},
		{EnvChunkOverlap, &c.Chunking.ChunkOverlap},
		{EnvBatchSize, &c.Embedding.BatchSize},
		{EnvTopK, &c.Search.TopK},
	}
	for _, iv := range intVars {
		v := os.Getenv(iv.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return rlerrors.New(rlerrors.ErrCodeEnvInvalid,
				fmt.Sprintf("%s=%q is not a valid integer", iv.name, v), err)
		}
		if n < 0 {
			return rlerrors.Newf(rlerrors.ErrCodeEnvInvalid,
				"%s=%d must not be negative", iv.name, n)
		}
		*iv.dst = n
	}

	boolVars := []struct {
		name string
		dst  *bool
	}{
		{EnvRerankEnabled, &c.Search.RerankEnabled},
		{EnvCLIMode, &c.CLIMode},
	}
	for _, bv := range boolVars {
		v := os.Getenv(bv.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return rlerrors.New(rlerrors.ErrCodeEnvInvalid,
				fmt.Sprintf("%s=%q is not a valid boolean", bv.name, v), err)
		}
		*bv.dst = b
	}

	return nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 256 {
		return rlerrors.Newf(rlerrors.ErrCodeInvalidRange,
			"embedding batch size %d out of range [1,256]", c.Embedding.BatchSize)
	}
	if c.Chunking.ChunkSize < 0 || c.Chunking.ChunkOverlap < 0 {
		return rlerrors.Newf(rlerrors.ErrCodeInvalidRange, "chunk size and overlap must not be negative")
	}
	if c.Chunking.ChunkSize > 0 && c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return rlerrors.Newf(rlerrors.ErrCodeInvalidRange,
			"chunk overlap %d must be smaller than chunk size %d",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Search.TopK < 0 {
		return rlerrors.Newf(rlerrors.ErrCodeInvalidRange, "top_k must not be negative")
	}
	return nil
}
