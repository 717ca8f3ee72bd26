package port

import (
	"context"

	"coursekb/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex stores chunk embeddings of one course and answers nearest
// neighbour queries.
type VectorIndex interface {
	// Upsert embeds and stores the chunks, replacing entries with the same id.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// Delete removes entries by chunk id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// SimilaritySearch returns up to k entries closest to the query. A
	// non-empty docTypes restricts candidates by source document type.
	SimilaritySearch(ctx context.Context, query string, k int, docTypes []string) ([]VectorHit, error)

	// Count returns the number of stored entries.
	Count() int
}

// VectorHit is one similarity search result. Distance is 1 - cosine
// similarity, so lower is closer.
type VectorHit struct {
	ChunkID  string
	Distance float64
	Metadata map[string]string
}
