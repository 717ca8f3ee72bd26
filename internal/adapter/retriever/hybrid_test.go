package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/lexical"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

type fakeVectors struct {
	hits []port.VectorHit
	err  error
}

func (f *fakeVectors) Upsert(ctx context.Context, chunks []domain.Chunk) error { return nil }

func (f *fakeVectors) Delete(ctx context.Context, ids []string) error { return nil }

func (f *fakeVectors) Count() int { return len(f.hits) }

func (f *fakeVectors) SimilaritySearch(ctx context.Context, query string, k int, docTypes []string) ([]port.VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

type fakeCorpus struct {
	chunks  []domain.Chunk
	vectors *fakeVectors
}

func (c *fakeCorpus) ChunkCount() int { return len(c.chunks) }

func (c *fakeCorpus) Chunk(id string) (domain.Chunk, bool) {
	for _, ch := range c.chunks {
		if ch.ChunkID == id {
			return ch, true
		}
	}
	return domain.Chunk{}, false
}

func (c *fakeCorpus) Lexical() *lexical.Index {
	return lexical.Build(c.chunks, analyzer.NewTokenizer(), lexical.DefaultParams())
}

func (c *fakeCorpus) Vectors() port.VectorIndex { return c.vectors }

type fakeReranker struct {
	results []port.RerankedResult
	err     error
	docs    []string
	topN    int
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]port.RerankedResult, error) {
	f.docs, f.topN = docs, topN
	return f.results, f.err
}

func (f *fakeReranker) ModelName() string { return "fake" }

func corpusFixture() *fakeCorpus {
	chunks := []domain.Chunk{
		{ChunkID: "a", SourceDocType: "md", Content: "gradient descent optimizes the loss"},
		{ChunkID: "b", SourceDocType: "md", Content: "databases store rows"},
		{ChunkID: "c", SourceDocType: "pdf", Content: "stochastic gradient descent with momentum and gradient clipping"},
		{ChunkID: "d", SourceDocType: "pdf", Content: "unrelated text"},
	}
	return &fakeCorpus{
		chunks: chunks,
		vectors: &fakeVectors{hits: []port.VectorHit{
			{ChunkID: "a", Distance: 0.2},
			{ChunkID: "b", Distance: 0.6},
			{ChunkID: "gone", Distance: 0.1},
		}},
	}
}

func noRerank() Config {
	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	return cfg
}

func TestFetchK(t *testing.T) {
	r := NewHybridRetriever(DefaultConfig(), nil, nil)
	assert.Equal(t, 20, r.FetchK(5))
	assert.Equal(t, 12, r.FetchK(3))
	assert.Equal(t, 30, r.FetchK(30), "cap never drops below top_k")
}

func TestSearchEmptyInputs(t *testing.T) {
	r := NewHybridRetriever(DefaultConfig(), nil, nil)

	got, err := r.Search(context.Background(), corpusFixture(), "   ", 5, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Search(context.Background(), &fakeCorpus{vectors: &fakeVectors{}}, "test", 5, domain.SearchFilter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSearchFusesSignals(t *testing.T) {
	r := NewHybridRetriever(noRerank(), nil, nil)

	got, err := r.Search(context.Background(), corpusFixture(), "gradient descent", 5, domain.SearchFilter{})
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, res := range got {
		ids[i] = res.ChunkID
		require.NotNil(t, res.HybridScore)
		require.NotNil(t, res.BM25Score)
		assert.Nil(t, res.RerankScore)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids, "stale vector hit is skipped")

	byID := map[string]domain.SearchResult{}
	for _, res := range got {
		byID[res.ChunkID] = res
	}
	assert.Equal(t, 1.0, byID["c"].Score, "lexical-only candidates get distance 1.0")
	assert.Equal(t, 0.0, *byID["b"].BM25Score)
	// b has half the best similarity and no lexical score
	assert.InDelta(t, 0.6*0.5, *byID["b"].HybridScore, 1e-9)
	assert.Equal(t, "a", got[0].ChunkID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, *got[i-1].HybridScore, *got[i].HybridScore)
	}
}

func TestSearchVectorOnlyOrder(t *testing.T) {
	cfg := noRerank()
	cfg.BM25Enabled = false
	r := NewHybridRetriever(cfg, nil, nil)

	got, err := r.Search(context.Background(), corpusFixture(), "gradient descent", 5, domain.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ChunkID)
	assert.Equal(t, "b", got[1].ChunkID)
	assert.Nil(t, got[0].HybridScore)
	assert.Nil(t, got[0].BM25Score)
}

func TestSearchDegradesWhenVectorsFail(t *testing.T) {
	corpus := corpusFixture()
	corpus.vectors.err = domain.NewCollaboratorError("embedding", "embed query", errors.New("down"))

	got, err := NewHybridRetriever(noRerank(), nil, nil).Search(context.Background(), corpus, "gradient", 5, domain.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ChunkID)
	for _, res := range got {
		assert.Equal(t, 1.0, res.Score)
	}

	cfg := noRerank()
	cfg.BM25Enabled = false
	_, err = NewHybridRetriever(cfg, nil, nil).Search(context.Background(), corpus, "gradient", 5, domain.SearchFilter{})
	assert.True(t, domain.IsCollaboratorError(err))
}

func TestSearchDocTypeFilterOnLexical(t *testing.T) {
	corpus := corpusFixture()
	corpus.vectors.hits = nil

	got, err := NewHybridRetriever(noRerank(), nil, nil).Search(context.Background(), corpus, "gradient", 5,
		domain.SearchFilter{DocTypes: []string{"MD"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ChunkID)
}

func TestSearchRerank(t *testing.T) {
	rr := &fakeReranker{results: []port.RerankedResult{
		{Index: 2, Score: 0.9},
		{Index: 7, Score: 0.8},
		{Index: 0, Score: 0.5},
	}}
	r := NewHybridRetriever(DefaultConfig(), rr, nil)
	corpus := corpusFixture()
	corpus.chunks[0].TitlePath = "Optimization > 片段 1"

	got, err := r.Search(context.Background(), corpus, "gradient descent", 2, domain.SearchFilter{})
	require.NoError(t, err)

	require.Len(t, rr.docs, 3)
	assert.Equal(t, "Optimization > 片段 1\ngradient descent optimizes the loss", rr.docs[0])
	assert.Equal(t, 3, rr.topN)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].RerankScore)
	assert.Equal(t, 0.9, *got[0].RerankScore)
	assert.Equal(t, 0.5, *got[1].RerankScore)
}

func TestSearchRerankFallback(t *testing.T) {
	fused, err := NewHybridRetriever(noRerank(), nil, nil).Search(context.Background(), corpusFixture(), "gradient descent", 2, domain.SearchFilter{})
	require.NoError(t, err)

	for _, rr := range []*fakeReranker{
		{err: domain.NewCollaboratorError("rerank", "rerank", errors.New("timeout"))},
		{},
		{results: []port.RerankedResult{{Index: 9, Score: 1}}},
	} {
		got, err := NewHybridRetriever(DefaultConfig(), rr, nil).Search(context.Background(), corpusFixture(), "gradient descent", 2, domain.SearchFilter{})
		require.NoError(t, err)
		assert.Equal(t, fused, got)
		for _, res := range got {
			assert.Nil(t, res.RerankScore)
		}
	}
}

func TestSimpleReranker(t *testing.T) {
	r := NewSimpleReranker(analyzer.NewTokenizer())

	got, err := r.Rerank(context.Background(), "梯度下降 optimizer", []string{"数据库", "梯度下降算法", "optimizer and 梯度下降"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
}

func TestHTTPRerankerDialects(t *testing.T) {
	var seen map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		if r.URL.Path == "/rerank" {
			w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.1},{"index":1,"relevance_score":0.7}]}`))
			return
		}
		w.Write([]byte(`{"output":{"results":[{"index":1,"relevance_score":0.4}]}}`))
	}))
	defer srv.Close()
	t.Setenv("TEST_RERANK_KEY", "k")

	cohere, err := NewHTTPReranker("TEST_RERANK_KEY", "m", srv.URL, "")
	require.NoError(t, err)
	got, err := cohere.Rerank(context.Background(), "q", []string{"x", "y"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, "q", seen["query"])

	dash, err := NewHTTPReranker("TEST_RERANK_KEY", "m", srv.URL+"/text-rerank", "dashscope")
	require.NoError(t, err)
	got, err = dash.Rerank(context.Background(), "q", []string{"x", "y"}, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.4, got[0].Score)
	assert.Contains(t, seen, "input")
}

func TestHTTPRerankerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv("TEST_RERANK_KEY", "k")

	rr, err := NewHTTPReranker("TEST_RERANK_KEY", "", srv.URL, "cohere")
	require.NoError(t, err)
	_, err = rr.Rerank(context.Background(), "q", []string{"x"}, 1)
	assert.True(t, domain.IsCollaboratorError(err))
}
