package port

import "context"

// LLM represents a chat-completion model.
type LLM interface {
	// Generate returns the model's reply to a single user prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// Reranker scores query-document pairs for relevance.
type Reranker interface {
	// Rerank scores documents against the query and returns at most topN
	// results sorted by relevance (highest first). Index refers to the
	// position in docs.
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]RerankedResult, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}

// RerankedResult represents a reranked document.
type RerankedResult struct {
	Index int     // Original index in the input slice
	Score float64 // Relevance score (higher is better)
}
