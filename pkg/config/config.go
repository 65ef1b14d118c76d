package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.limitless/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// rag:
//   chunk_size: 512
//   chunk_overlap: 50
//   top_k: 5
//   min_similarity: 0.3
//   history_window: 20
// embedding:
//   provider: openai
//   model: text-embedding-3-small
// generation:
//   provider: openai
//   model: gpt-4o-mini
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - chunk_overlap must be non-negative and strictly less than chunk_size.

type AppConfig struct {
	Server     ServerConfig   `yaml:"server"`
	RAG        RAGConfig      `yaml:"rag"`
	Embedding  ProviderConfig `yaml:"embedding"`
	Generation ProviderConfig `yaml:"generation"`
	Data       DataConfig     `yaml:"data"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// RAGConfig holds retrieval parameters. The similarity threshold and top-k
// are supplied by callers of the vector index, not hard-coded in it.
type RAGConfig struct {
	ChunkSize     *int     `yaml:"chunk_size"`     // tokens per chunk
	ChunkOverlap  *int     `yaml:"chunk_overlap"`  // overlapping tokens between chunks
	TopK          *int     `yaml:"top_k"`          // retrieved chunks per query
	MinSimilarity *float64 `yaml:"min_similarity"` // cosine similarity cutoff
	CrossCaseMin  *float64 `yaml:"cross_case_min"` // threshold for similar-case discovery
	HistoryWindow *int     `yaml:"history_window"` // turns kept per (case, session)
	ContextTurns  *int     `yaml:"context_turns"`  // turns included in prompts
}

// ProviderConfig selects an external model provider for embeddings or
// generation. APIKey falls back to the provider's usual environment variable.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type DataConfig struct {
	DatabasePath    *string `yaml:"database_path"`
	VectorStorePath *string `yaml:"vector_store_path"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8090

	DefaultChunkSize     = 512
	DefaultChunkOverlap  = 50
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.3
	DefaultCrossCaseMin  = 0.5
	DefaultHistoryWindow = 20
	DefaultContextTurns  = 8

	DefaultEmbeddingProvider  = "openai"
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultGenerationProvider = "openai"
	DefaultGenerationModel    = "gpt-4o-mini"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".limitless")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.limitless/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}
	// Defaults are applied via accessor helpers.

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	size, overlap := cfg.ChunkSize(), cfg.ChunkOverlap()
	if size < 1 {
		return nil, "", fmt.Errorf("invalid rag.chunk_size %d in %s", size, configFile)
	}
	if overlap < 0 || overlap >= size {
		return nil, "", fmt.Errorf("invalid rag.chunk_overlap %d for chunk_size %d in %s", overlap, size, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		RAG: RAGConfig{
			ChunkSize:     ptr(DefaultChunkSize),
			ChunkOverlap:  ptr(DefaultChunkOverlap),
			TopK:          ptr(DefaultTopK),
			MinSimilarity: ptr(float64(DefaultMinSimilarity)),
			HistoryWindow: ptr(DefaultHistoryWindow),
		},
		Embedding:  ProviderConfig{Provider: DefaultEmbeddingProvider, Model: DefaultEmbeddingModel},
		Generation: ProviderConfig{Provider: DefaultGenerationProvider, Model: DefaultGenerationModel},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions; the file may hold API keys.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) ChunkSize() int {
	if c == nil || c.RAG.ChunkSize == nil {
		return DefaultChunkSize
	}
	return *c.RAG.ChunkSize
}

func (c *AppConfig) ChunkOverlap() int {
	if c == nil || c.RAG.ChunkOverlap == nil {
		return DefaultChunkOverlap
	}
	return *c.RAG.ChunkOverlap
}

func (c *AppConfig) TopK() int {
	if c == nil || c.RAG.TopK == nil {
		return DefaultTopK
	}
	return *c.RAG.TopK
}

func (c *AppConfig) MinSimilarity() float64 {
	if c == nil || c.RAG.MinSimilarity == nil {
		return DefaultMinSimilarity
	}
	return *c.RAG.MinSimilarity
}

func (c *AppConfig) CrossCaseMin() float64 {
	if c == nil || c.RAG.CrossCaseMin == nil {
		return DefaultCrossCaseMin
	}
	return *c.RAG.CrossCaseMin
}

func (c *AppConfig) HistoryWindow() int {
	if c == nil || c.RAG.HistoryWindow == nil {
		return DefaultHistoryWindow
	}
	return *c.RAG.HistoryWindow
}

func (c *AppConfig) ContextTurns() int {
	if c == nil || c.RAG.ContextTurns == nil {
		return DefaultContextTurns
	}
	return *c.RAG.ContextTurns
}

// DatabasePath returns the sqlite file path, defaulting under ~/.limitless.
func (c *AppConfig) DatabasePath() string {
	if c != nil && c.Data.DatabasePath != nil && *c.Data.DatabasePath != "" {
		return *c.Data.DatabasePath
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		return "./data/limitless.db"
	}
	return filepath.Join(dir, "limitless.db")
}

// VectorStorePath returns the chromem persistence dir, defaulting under
// ~/.limitless.
func (c *AppConfig) VectorStorePath() string {
	if c != nil && c.Data.VectorStorePath != nil && *c.Data.VectorStorePath != "" {
		return *c.Data.VectorStorePath
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		return "./data/case_vectors"
	}
	return filepath.Join(dir, "case_vectors")
}

func ptr[T any](v T) *T { return &v }
