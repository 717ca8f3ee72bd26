// Package lexical implements Okapi BM25 scoring over a course's chunks.
package lexical

import (
	"math"
	"sort"
	"strings"

	"coursekb/internal/domain"
)

type Tokenizer interface {
	Tokenize(text string) []string
}

type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

// Hit is one lexical candidate.
type Hit struct {
	ChunkID string
	Score   float64
}

type entry struct {
	chunkID string
	docType string
	length  float64
	tf      map[string]int
}

// Index is an immutable BM25 index. Build a new one after any mutation.
type Index struct {
	params    Params
	tokenizer Tokenizer
	entries   []entry
	df        map[string]int
	avgLen    float64
}

// Build tokenizes chunk contents in order. Ties in Top keep this order.
func Build(chunks []domain.Chunk, tokenizer Tokenizer, params Params) *Index {
	idx := &Index{
		params:    params,
		tokenizer: tokenizer,
		entries:   make([]entry, 0, len(chunks)),
		df:        make(map[string]int),
	}

	total := 0
	for _, c := range chunks {
		tokens := tokenizer.Tokenize(c.Content)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.df[term]++
		}
		idx.entries = append(idx.entries, entry{
			chunkID: c.ChunkID,
			docType: strings.ToLower(c.SourceDocType),
			length:  float64(len(tokens)),
			tf:      tf,
		})
		total += len(tokens)
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(total) / float64(len(chunks))
	}
	return idx
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Tokenize runs the index's tokenizer, so queries match indexed terms.
func (idx *Index) Tokenize(text string) []string {
	return idx.tokenizer.Tokenize(text)
}

func (idx *Index) idf(term string) float64 {
	n := float64(idx.df[term])
	N := float64(len(idx.entries))
	return math.Log((N-n+0.5)/(n+0.5) + 1)
}

func (idx *Index) score(e entry, queryTokens []string) float64 {
	score := 0.0
	k1, b := idx.params.K1, idx.params.B
	for _, term := range queryTokens {
		tf, ok := e.tf[term]
		if !ok {
			continue
		}
		norm := 1 - b
		if idx.avgLen > 0 {
			norm += b * e.length / idx.avgLen
		}
		f := float64(tf)
		score += idx.idf(term) * (f * (k1 + 1)) / (f + k1*norm)
	}
	return score
}

// Top returns up to k chunks with a positive score, best first. A non-empty
// docTypes restricts candidates by source document type.
func (idx *Index) Top(queryTokens []string, k int, docTypes []string) []Hit {
	if k <= 0 || len(queryTokens) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(docTypes))
	for _, t := range docTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	var hits []Hit
	for _, e := range idx.entries {
		if len(allowed) > 0 {
			if _, ok := allowed[e.docType]; !ok {
				continue
			}
		}
		if s := idx.score(e, queryTokens); s > 0 {
			hits = append(hits, Hit{ChunkID: e.chunkID, Score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
