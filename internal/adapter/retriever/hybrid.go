package retriever

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"coursekb/internal/adapter/lexical"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
	"coursekb/internal/port"
)

// Corpus is the read view of one course the retriever searches.
type Corpus interface {
	ChunkCount() int
	Chunk(id string) (domain.Chunk, bool)
	Lexical() *lexical.Index
	Vectors() port.VectorIndex
}

// Config holds the fusion and reranking knobs.
type Config struct {
	CandidateCap  int
	BM25Enabled   bool
	WeightVector  float64
	WeightBM25    float64
	RerankEnabled bool
}

func DefaultConfig() Config {
	return Config{
		CandidateCap:  20,
		BM25Enabled:   true,
		WeightVector:  0.6,
		WeightBM25:    0.4,
		RerankEnabled: true,
	}
}

// HybridRetriever fuses vector similarity with BM25 scores and optionally
// reranks the fused candidates.
type HybridRetriever struct {
	cfg      Config
	reranker port.Reranker
	log      *logger.Logger
}

// NewHybridRetriever creates a hybrid retriever. reranker may be nil.
func NewHybridRetriever(cfg Config, reranker port.Reranker, log *logger.Logger) *HybridRetriever {
	return &HybridRetriever{cfg: cfg, reranker: reranker, log: logger.OrNop(log)}
}

type candidate struct {
	chunk    domain.Chunk
	distance float64
	bm25     float64
}

// FetchK is the candidate pool size requested from each index.
func (r *HybridRetriever) FetchK(topK int) int {
	capK := r.cfg.CandidateCap
	if capK < topK {
		capK = topK
	}
	want := topK * 4
	if want < topK {
		want = topK
	}
	if want > capK {
		return capK
	}
	return want
}

// Search returns up to topK results for query. An empty query or a course
// without chunks yields no results and no error.
func (r *HybridRetriever) Search(ctx context.Context, corpus Corpus, query string, topK int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 || corpus.ChunkCount() == 0 {
		return []domain.SearchResult{}, nil
	}
	fetchK := r.FetchK(topK)

	var (
		vectorHits  []port.VectorHit
		vectorErr   error
		lexicalHits []lexical.Hit
	)
	var g errgroup.Group
	g.Go(func() error {
		vectorHits, vectorErr = corpus.Vectors().SimilaritySearch(ctx, query, fetchK, filter.DocTypes)
		return nil
	})
	if r.cfg.BM25Enabled {
		g.Go(func() error {
			idx := corpus.Lexical()
			lexicalHits = idx.Top(idx.Tokenize(query), fetchK, filter.DocTypes)
			return nil
		})
	}
	_ = g.Wait()

	if vectorErr != nil {
		if !r.cfg.BM25Enabled {
			return nil, vectorErr
		}
		r.log.Warn("vector search failed, using lexical candidates only", "error", vectorErr)
		vectorHits = nil
	}

	candidates := make([]candidate, 0, len(vectorHits)+len(lexicalHits))
	seen := make(map[string]int, cap(candidates))
	for _, hit := range vectorHits {
		if _, dup := seen[hit.ChunkID]; dup {
			continue
		}
		chunk, ok := corpus.Chunk(hit.ChunkID)
		if !ok {
			continue
		}
		seen[hit.ChunkID] = len(candidates)
		candidates = append(candidates, candidate{chunk: chunk, distance: hit.Distance})
	}
	for _, hit := range lexicalHits {
		if i, ok := seen[hit.ChunkID]; ok {
			candidates[i].bm25 = hit.Score
			continue
		}
		chunk, ok := corpus.Chunk(hit.ChunkID)
		if !ok {
			continue
		}
		seen[hit.ChunkID] = len(candidates)
		candidates = append(candidates, candidate{chunk: chunk, distance: 1.0, bm25: hit.Score})
	}

	results := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = toResult(c)
	}
	if r.cfg.BM25Enabled {
		r.fuse(candidates, results)
	}

	r.log.Debug("hybrid candidates",
		"query", query,
		"fetch_k", fetchK,
		"vector", len(vectorHits),
		"lexical", len(lexicalHits),
		"fused", len(results))

	return r.rerank(ctx, query, results, topK), nil
}

func toResult(c candidate) domain.SearchResult {
	return domain.SearchResult{
		ChunkID:       c.chunk.ChunkID,
		Score:         c.distance,
		Content:       c.chunk.Content,
		TitlePath:     c.chunk.TitlePath,
		SourceDocID:   c.chunk.SourceDocID,
		SourceDocName: c.chunk.SourceDocName,
		SourceDocType: c.chunk.SourceDocType,
	}
}

// fuse normalizes both signals against the batch maxima, writes the scores
// into results and sorts them by hybrid score.
func (r *HybridRetriever) fuse(candidates []candidate, results []domain.SearchResult) {
	maxSim, maxBM25 := 0.0, 0.0
	for _, c := range candidates {
		if sim := similarity(c.distance); sim > maxSim {
			maxSim = sim
		}
		if c.bm25 > maxBM25 {
			maxBM25 = c.bm25
		}
	}

	for i, c := range candidates {
		vectorNorm, bm25Norm := 0.0, 0.0
		if maxSim > 0 {
			vectorNorm = similarity(c.distance) / maxSim
		}
		if maxBM25 > 0 {
			bm25Norm = c.bm25 / maxBM25
		}
		hybrid := r.cfg.WeightVector*vectorNorm + r.cfg.WeightBM25*bm25Norm
		results[i].BM25Score = &bm25Norm
		results[i].HybridScore = &hybrid
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].HybridScore > *results[j].HybridScore
	})
}

func similarity(distance float64) float64 {
	if sim := 1 - distance; sim > 0 {
		return sim
	}
	return 0
}

func truncate(results []domain.SearchResult, k int) []domain.SearchResult {
	if len(results) > k {
		return results[:k]
	}
	return results
}

// rerankText prefixes the chunk content with its title path so the reranker
// sees where the passage sits in the document.
func rerankText(res domain.SearchResult) string {
	if strings.TrimSpace(res.TitlePath) == "" {
		return res.Content
	}
	return res.TitlePath + "\n" + res.Content
}

// rerank reorders results with the reranker when one is configured. Any
// failure keeps the fused order.
func (r *HybridRetriever) rerank(ctx context.Context, query string, results []domain.SearchResult, topK int) []domain.SearchResult {
	if !r.cfg.RerankEnabled || len(results) <= 1 || r.reranker == nil {
		return truncate(results, topK)
	}

	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = rerankText(res)
	}

	ranked, err := r.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		r.log.Warn("rerank failed, keeping fused order", "model", r.reranker.ModelName(), "error", err)
		return truncate(results, topK)
	}

	reranked := make([]domain.SearchResult, 0, len(ranked))
	for _, item := range ranked {
		if item.Index < 0 || item.Index >= len(results) {
			continue
		}
		entry := results[item.Index]
		score := item.Score
		entry.RerankScore = &score
		reranked = append(reranked, entry)
	}
	if len(reranked) == 0 {
		return truncate(results, topK)
	}
	return truncate(reranked, topK)
}
