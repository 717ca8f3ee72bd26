package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the course knowledge base.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Courses   CoursesConfig   `yaml:"courses"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChunkingConfig holds segmentation and chunk assembly configuration.
type ChunkingConfig struct {
	MinLen        int         `yaml:"min_len"`
	MaxLen        int         `yaml:"max_len"`
	Overlap       int         `yaml:"overlap"`
	QAMinLen      int         `yaml:"qa_min_len"`
	QAMaxLen      int         `yaml:"qa_max_len"`
	QAOverlap     int         `yaml:"qa_overlap"`
	StructuredMax int         `yaml:"structured_max"` // table and code blocks
	QA            FeatureGate `yaml:"qa"`
	LLM           FeatureGate `yaml:"llm"`
	LLMMaxInput   int         `yaml:"llm_max_input"`
}

// FeatureGate switches a feature globally with per-course and per-doc-type lists.
type FeatureGate struct {
	Enabled          bool     `yaml:"enabled"`
	Courses          []string `yaml:"courses"`
	DisabledCourses  []string `yaml:"disabled_courses"`
	DocTypes         []string `yaml:"doc_types"`
	DisabledDocTypes []string `yaml:"disabled_doc_types"`
}

// RetrieveConfig holds hybrid retrieval configuration.
type RetrieveConfig struct {
	TopK          int     `yaml:"top_k"`
	CandidateCap  int     `yaml:"candidate_cap"`
	BM25Enabled   bool    `yaml:"bm25_enabled"`
	WeightVector  float64 `yaml:"weight_vector"`
	WeightBM25    float64 `yaml:"weight_bm25"`
	RerankEnabled bool    `yaml:"rerank_enabled"`
	K1            float64 `yaml:"k1"`
	B             float64 `yaml:"b"`
	CacheSize     int     `yaml:"cache_size"` // 0 disables the search cache
	CacheTTL      string  `yaml:"cache_ttl"`
}

// KnowledgeConfig holds knowledge point extraction configuration.
type KnowledgeConfig struct {
	Limit       int `yaml:"limit"`
	LLMMaxInput int `yaml:"llm_max_input"`
	MaxChunks   int `yaml:"max_chunks"`
	ExcerptLen  int `yaml:"excerpt_len"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "hash", "openai", "ollama"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
}

// ChatConfig holds chat-completion configuration used by LLM chunking and knowledge points.
type ChatConfig struct {
	Provider    string  `yaml:"provider"` // "none", "openai"
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

// RerankConfig holds reranking service configuration.
type RerankConfig struct {
	Provider  string `yaml:"provider"` // "none", "simple", "http"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// CoursesConfig tells the store how to turn course ids into folder titles.
type CoursesConfig struct {
	Database string            `yaml:"database"` // sqlite file with a courses(id, title) table
	Titles   map[string]string `yaml:"titles"`
}

// IngestConfig holds bulk directory ingest patterns.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: filepath.Join("data", "knowledge-base", "indexes"),
		Chunking: ChunkingConfig{
			MinLen:        80,
			MaxLen:        600,
			Overlap:       60,
			QAMinLen:      200,
			QAMaxLen:      400,
			QAOverlap:     40,
			StructuredMax: 1000,
			QA:            FeatureGate{Enabled: true},
			LLM:           FeatureGate{Enabled: true},
			LLMMaxInput:   6000,
		},
		Retrieve: RetrieveConfig{
			TopK:          5,
			CandidateCap:  20,
			BM25Enabled:   true,
			WeightVector:  0.6,
			WeightBM25:    0.4,
			RerankEnabled: true,
			K1:            1.5,
			B:             0.75,
			CacheSize:     128,
			CacheTTL:      "5m",
		},
		Knowledge: KnowledgeConfig{
			Limit:       12,
			LLMMaxInput: 6000,
			MaxChunks:   8,
			ExcerptLen:  300,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 256,
		},
		Chat: ChatConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
		},
		Rerank: RerankConfig{
			Provider:  "none",
			APIKeyEnv: "RERANK_API_KEY",
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.md", "**/*.markdown", "**/*.txt", "**/*.pdf", "**/*.docx"},
			Excludes: []string{"**/.git/**", "**/node_modules/**", "**/.coursekb/**"},
		},
		Logging: LoggingConfig{
			Mode:  "dev",
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for coursekb.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "coursekb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".coursekb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ResolveDataDir returns DataDir, anchored at root when it is relative.
func (c *Config) ResolveDataDir(root string) string {
	if c.DataDir == "" || filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// Allows reports whether the gated feature applies to a course and document type.
// Order: global switch, disabled courses, enabled courses, disabled types, enabled types.
func (g FeatureGate) Allows(courseID, docType string) bool {
	if !g.Enabled {
		return false
	}
	if contains(g.DisabledCourses, courseID, false) {
		return false
	}
	if len(g.Courses) > 0 && contains(g.Courses, courseID, false) {
		return true
	}
	docType = strings.ToLower(strings.TrimSpace(docType))
	if contains(g.DisabledDocTypes, docType, true) {
		return false
	}
	if len(g.DocTypes) > 0 {
		return contains(g.DocTypes, docType, true)
	}
	return true
}

func contains(list []string, value string, fold bool) bool {
	for _, item := range list {
		item = strings.TrimSpace(item)
		if fold {
			item = strings.ToLower(item)
		}
		if item != "" && item == value {
			return true
		}
	}
	return false
}
