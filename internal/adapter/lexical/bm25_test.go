package lexical

import (
	"math"
	"testing"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ChunkID: "chunk1", SourceDocType: "pdf", Content: "This is a test document about authentication and login"},
		{ChunkID: "chunk2", SourceDocType: "md", Content: "Database connection pooling and query optimization"},
		{ChunkID: "chunk3", SourceDocType: "md", Content: "User authentication with JWT tokens and OAuth"},
		{ChunkID: "chunk4", SourceDocType: "txt", Content: "梯度下降用于优化损失函数"},
	}
}

func TestBM25Scoring(t *testing.T) {
	tokenizer := analyzer.NewTokenizer()
	idx := Build(testChunks(), tokenizer, DefaultParams())

	hits := idx.Top(idx.Tokenize("authentication"), 10, nil)
	if len(hits) != 2 {
		t.Fatalf("expected 2 results, got %d", len(hits))
	}
	for _, h := range hits {
		if h.ChunkID != "chunk1" && h.ChunkID != "chunk3" {
			t.Errorf("unexpected chunk in results: %s", h.ChunkID)
		}
	}
	// the shorter chunk gets the higher score for the same term frequency
	if hits[0].ChunkID != "chunk3" {
		t.Errorf("expected chunk3 first, got %s", hits[0].ChunkID)
	}
}

func TestBM25IDF(t *testing.T) {
	idx := Build(testChunks(), analyzer.NewTokenizer(), DefaultParams())

	// "and" appears in 3 of 4 chunks
	want := math.Log((4-3+0.5)/(3+0.5) + 1)
	if got := idx.idf("and"); math.Abs(got-want) > 1e-9 {
		t.Errorf("idf(and) = %f, want %f", got, want)
	}
}

func TestBM25CJKQuery(t *testing.T) {
	idx := Build(testChunks(), analyzer.NewTokenizer(), DefaultParams())

	hits := idx.Top(idx.Tokenize("损失函数"), 5, nil)
	if len(hits) != 1 || hits[0].ChunkID != "chunk4" {
		t.Errorf("expected chunk4 only, got %v", hits)
	}
}

func TestBM25DocTypeFilter(t *testing.T) {
	idx := Build(testChunks(), analyzer.NewTokenizer(), DefaultParams())

	hits := idx.Top(idx.Tokenize("authentication"), 10, []string{"PDF"})
	if len(hits) != 1 || hits[0].ChunkID != "chunk1" {
		t.Errorf("expected chunk1 only, got %v", hits)
	}
}

func TestBM25NoMatch(t *testing.T) {
	idx := Build(testChunks(), analyzer.NewTokenizer(), DefaultParams())

	if hits := idx.Top(idx.Tokenize("kubernetes"), 5, nil); len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hits)
	}
	if hits := idx.Top(nil, 5, nil); len(hits) != 0 {
		t.Errorf("expected no hits for an empty query, got %v", hits)
	}
}

func TestBM25Empty(t *testing.T) {
	idx := Build(nil, analyzer.NewTokenizer(), DefaultParams())

	if idx.Len() != 0 {
		t.Errorf("expected empty index")
	}
	if hits := idx.Top([]string{"x"}, 5, nil); len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hits)
	}
}

func TestBM25TopK(t *testing.T) {
	idx := Build(testChunks(), analyzer.NewTokenizer(), DefaultParams())

	hits := idx.Top(idx.Tokenize("and"), 2, nil)
	if len(hits) != 2 {
		t.Errorf("expected k=2 results, got %d", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("results not sorted: %v", hits)
	}
}
