// Package medcfg provides unified configuration for the medical assistant.
// This is the single source of truth for settings shared between the
// indexing pass, the server, and the CLI tools.
package medcfg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the unified assistant configuration
type Config struct {
	Milvus    MilvusConfig    `yaml:"milvus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	PubMed    PubMedConfig    `yaml:"pubmed"`
	Hybrid    HybridConfig    `yaml:"hybrid"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Database  DatabaseConfig  `yaml:"database"`
	Limits    LimitsConfig    `yaml:"limits"`
}

type MilvusConfig struct {
	Address    string             `yaml:"address"`
	Collection string             `yaml:"collection"`
	Index      MilvusIndexConfig  `yaml:"index"`
	Search     MilvusSearchConfig `yaml:"search"`
}

type MilvusIndexConfig struct {
	Type           string `yaml:"type"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
}

type MilvusSearchConfig struct {
	Ef int `yaml:"ef"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type PubMedConfig struct {
	BaseURL     string `yaml:"base_url"`
	Email       string `yaml:"email"`
	MaxResults  int    `yaml:"max_results"`
	RecencyDays int    `yaml:"recency_days"`
}

type HybridConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RRF            RRFConfig     `yaml:"rrf"`
	Weights        HybridWeights `yaml:"weights"`
	CandidateDepth int           `yaml:"candidate_depth"`
}

type RRFConfig struct {
	K int `yaml:"k"`
}

type HybridWeights struct {
	Vector  float64 `yaml:"vector"`
	Lexical float64 `yaml:"lexical"`
}

type ChunkingConfig struct {
	SizeWords    int `yaml:"size_words"`
	OverlapWords int `yaml:"overlap_words"`
	MinWords     int `yaml:"min_words"`
}

type DatabaseConfig struct {
	SQLite    string `yaml:"sqlite"`
	BM25Index string `yaml:"bm25_index"`
}

type LimitsConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Milvus: MilvusConfig{
			Address:    "localhost:19530",
			Collection: "medical_knowledge",
			Index: MilvusIndexConfig{
				Type:           "HNSW",
				Metric:         "COSINE",
				M:              16,
				EfConstruction: 256,
			},
			Search: MilvusSearchConfig{
				Ef: 128,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://127.0.0.1:11434/v1",
			Model:     "all-minilm:l6-v2",
			Dimension: 384,
			BatchSize: 50,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			APIKeyEnv:   "GROQ_API_KEY",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.1,
			MaxTokens:   2000,
		},
		PubMed: PubMedConfig{
			BaseURL:     "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			MaxResults:  10,
			RecencyDays: 730,
		},
		Hybrid: HybridConfig{
			Enabled: true,
			RRF: RRFConfig{
				K: 60,
			},
			Weights: HybridWeights{
				Vector:  0.5,
				Lexical: 0.5,
			},
			CandidateDepth: 10,
		},
		Chunking: ChunkingConfig{
			SizeWords:    500,
			OverlapWords: 50,
			MinWords:     20,
		},
		Database: DatabaseConfig{
			SQLite:    "medassist.db",
			BM25Index: "bm25_index.json",
		},
		Limits: LimitsConfig{
			PerMinute: 60,
			PerHour:   500,
			PerDay:    5000,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default() // Start with defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromDir looks for medassist.yaml in the given directory or parent directories
func LoadFromDir(dir string) (*Config, error) {
	current := dir
	for {
		path := filepath.Join(current, "medassist.yaml")
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break // Reached root
		}
		current = parent
	}

	return nil, fmt.Errorf("medassist.yaml not found in %s or parent directories", dir)
}

// LoadOrDefault tries to load from medassist.yaml, falls back to defaults
func LoadOrDefault(dir string) *Config {
	cfg, err := LoadFromDir(dir)
	if err != nil {
		return Default()
	}
	return cfg
}

// Hash returns a SHA256 hash of the configuration for change detection
func (c *Config) Hash() string {
	data, _ := yaml.Marshal(c)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// EmbeddingIdentity returns a string identifying the embedding configuration.
// Use this to detect mismatches between index and query embeddings.
func (c *Config) EmbeddingIdentity() string {
	return fmt.Sprintf("%s:%s:%d", c.Embedding.BaseURL, c.Embedding.Model, c.Embedding.Dimension)
}
