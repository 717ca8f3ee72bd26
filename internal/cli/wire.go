package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"coursekb/config"
	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/chunker"
	"coursekb/internal/adapter/course"
	"coursekb/internal/adapter/embedding"
	"coursekb/internal/adapter/extractor"
	"coursekb/internal/adapter/lexical"
	"coursekb/internal/adapter/llm"
	"coursekb/internal/adapter/retriever"
	"coursekb/internal/adapter/segment"
	"coursekb/internal/adapter/store"
	"coursekb/internal/port"
	"coursekb/internal/usecase"
)

// openKnowledgeBase wires the knowledge base from configuration. The
// returned cleanup closes every container it opened.
func openKnowledgeBase() (*usecase.KnowledgeBase, func(), error) {
	cfg := GetConfig()
	tokenizer := analyzer.NewTokenizer()

	embedder, err := newEmbedder(cfg.Embedding, tokenizer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	resolver, titles, closeResolver, err := newResolver(cfg.Courses, GetRootDir())
	if err != nil {
		return nil, nil, err
	}

	chat, err := newChatModel(cfg.Chat)
	if err != nil {
		closeResolver()
		return nil, nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	reranker, err := newReranker(cfg.Rerank, tokenizer)
	if err != nil {
		closeResolver()
		return nil, nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	st := store.NewIndexStore(cfg.ResolveDataDir(GetRootDir()), resolver, embedder, store.Options{
		Tokenizer: tokenizer,
		BM25:      lexical.Params{K1: cfg.Retrieve.K1, B: cfg.Retrieve.B},
	}, log.With("component", "store"))

	opts := chunker.Options{
		Normal: chunker.Limits{
			MinLen:        cfg.Chunking.MinLen,
			MaxLen:        cfg.Chunking.MaxLen,
			Overlap:       cfg.Chunking.Overlap,
			StructuredMax: cfg.Chunking.StructuredMax,
		},
		QA: chunker.Limits{
			MinLen:        cfg.Chunking.QAMinLen,
			MaxLen:        cfg.Chunking.QAMaxLen,
			Overlap:       cfg.Chunking.QAOverlap,
			StructuredMax: cfg.Chunking.StructuredMax,
		},
		LLMGate: cfg.Chunking.LLM,
	}
	var llmChunker *chunker.LLMChunker
	if chat != nil {
		llmChunker = chunker.NewLLMChunker(chat, cfg.Chunking.LLMMaxInput)
	}
	pipeline := chunker.NewPipeline(segment.New(cfg.Chunking.QA), llmChunker, opts, log.With("component", "chunker"))

	hybrid := retriever.NewHybridRetriever(retriever.Config{
		CandidateCap:  cfg.Retrieve.CandidateCap,
		BM25Enabled:   cfg.Retrieve.BM25Enabled,
		WeightVector:  cfg.Retrieve.WeightVector,
		WeightBM25:    cfg.Retrieve.WeightBM25,
		RerankEnabled: cfg.Retrieve.RerankEnabled,
	}, reranker, log.With("component", "retriever"))

	var queryCache *cache.QueryCache
	if cfg.Retrieve.CacheSize > 0 {
		ttl, err := time.ParseDuration(cfg.Retrieve.CacheTTL)
		if err != nil && cfg.Retrieve.CacheTTL != "" {
			log.Warn("invalid cache_ttl, using default", "value", cfg.Retrieve.CacheTTL, "error", err)
		}
		queryCache = cache.NewQueryCache(cfg.Retrieve.CacheSize, ttl)
	}

	knowledge := usecase.NewKnowledgeExtractor(st, chat, tokenizer, usecase.KnowledgeOptions{
		MaxInput:   cfg.Knowledge.LLMMaxInput,
		MaxChunks:  cfg.Knowledge.MaxChunks,
		ExcerptLen: cfg.Knowledge.ExcerptLen,
	}, log.With("component", "knowledge"))

	kb := usecase.NewKnowledgeBase(st, pipeline, hybrid, queryCache,
		extractor.New(log.With("component", "extractor")), knowledge, cfg.Retrieve.TopK, log)
	if titles != nil {
		kb.WithTitleWriter(titles)
	}

	cleanup := func() {
		if err := kb.Close(); err != nil {
			log.Warn("failed to close index store", "error", err)
		}
		closeResolver()
	}
	return kb, cleanup, nil
}

func newEmbedder(ec config.EmbeddingConfig, tokenizer *analyzer.Tokenizer) (port.Embedder, error) {
	switch ec.Provider {
	case "", "hash":
		return embedding.NewHashEmbedder(ec.Dimension, tokenizer), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(ec.APIKeyEnv, ec.Model, ec.BaseURL, ec.Dimension)
	case "ollama":
		return embedding.NewOllamaEmbedder(ec.Model, ec.BaseURL, ec.Dimension)
	default:
		if ec.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(ec.APIKeyEnv, ec.Model, ec.BaseURL, ec.Dimension)
		}
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
}

// newChatModel returns a nil model when chat is disabled.
func newChatModel(cc config.ChatConfig) (port.LLM, error) {
	if cc.Provider == "" || cc.Provider == "none" {
		return nil, nil
	}
	client, err := llm.NewChatClient(cc.Provider, cc.Model, cc.BaseURL, cc.APIKeyEnv, cc.Temperature)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newReranker(rc config.RerankConfig, tokenizer *analyzer.Tokenizer) (port.Reranker, error) {
	switch rc.Provider {
	case "", "none":
		return nil, nil
	case "simple":
		return retriever.NewSimpleReranker(tokenizer), nil
	case "http", "cohere":
		return retriever.NewHTTPReranker(rc.APIKeyEnv, rc.Model, rc.BaseURL, "cohere")
	case "dashscope":
		return retriever.NewHTTPReranker(rc.APIKeyEnv, rc.Model, rc.BaseURL, "dashscope")
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", rc.Provider)
	}
}

// newResolver chains the course database ahead of configured titles. The
// SQL resolver is nil when no database is configured.
func newResolver(cc config.CoursesConfig, root string) (port.TitleResolver, *course.SQLResolver, func(), error) {
	chain := course.Chain{}
	cleanup := func() {}
	var sqlResolver *course.SQLResolver

	if cc.Database != "" {
		path := cc.Database
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		var err error
		sqlResolver, err = course.OpenSQLResolver(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open course database: %w", err)
		}
		chain = append(chain, sqlResolver)
		cleanup = func() {
			if err := sqlResolver.Close(); err != nil {
				log.Warn("failed to close course database", "error", err)
			}
		}
	}
	if len(cc.Titles) > 0 {
		chain = append(chain, course.StaticResolver(cc.Titles))
	}
	return chain, sqlResolver, cleanup, nil
}

func requireCourse() error {
	if courseID == "" {
		return fmt.Errorf("--course is required")
	}
	return nil
}

// llmOverride turns the --llm flag into a per-call override: nil when the
// flag was not given.
func llmOverride(cmd *cobra.Command) *bool {
	if !cmd.Flags().Changed("llm") {
		return nil
	}
	v, _ := cmd.Flags().GetBool("llm")
	return &v
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
