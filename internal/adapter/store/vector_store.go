package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

const (
	vectorBatchSize   = 10
	embedConcurrency  = 4
	vectorServiceName = "embedding"
)

// BoltVectorIndex implements port.VectorIndex for one course using BoltDB
// for persistence. Uses brute-force cosine search over an in-memory mirror.
type BoltVectorIndex struct {
	db       *bbolt.DB
	bucket   []byte
	embedder port.Embedder
	mu       sync.RWMutex
	vectors  map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	metadata map[string]string
}

type storedVector struct {
	Vector   []float32         `json:"v"`
	Metadata map[string]string `json:"m,omitempty"`
}

// OpenVectorIndex opens (creating if needed) the vector file at path and
// loads the course's collection into memory.
func OpenVectorIndex(path, courseID string, embedder port.Embedder) (*BoltVectorIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}

	idx := &BoltVectorIndex{
		db:       db,
		bucket:   []byte("course_" + courseID),
		embedder: embedder,
		vectors:  make(map[string]vectorEntry),
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return idx, nil
}

func (s *BoltVectorIndex) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			s.vectors[string(k)] = vectorEntry{vector: stored.Vector, metadata: stored.Metadata}
			return nil
		})
	})
}

func (s *BoltVectorIndex) Close() error {
	return s.db.Close()
}

func chunkMetadata(c domain.Chunk) map[string]string {
	return map[string]string{
		"chunk_id":        c.ChunkID,
		"course_id":       c.CourseID,
		"source_doc_id":   c.SourceDocID,
		"source_doc_name": c.SourceDocName,
		"source_doc_type": strings.ToLower(c.SourceDocType),
		"title_path":      c.TitlePath,
		"order_index":     strconv.Itoa(c.OrderIndex),
		"char_count":      strconv.Itoa(c.CharCount),
	}
}

// Upsert embeds chunk contents in batches of 10 and stores the vectors.
// Embedding failures are returned as *domain.CollaboratorError.
func (s *BoltVectorIndex) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(chunks); start += vectorBatchSize {
		start := start
		end := start + vectorBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			embedded, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return domain.NewCollaboratorError(vectorServiceName, "embed", err)
			}
			if len(embedded) != len(texts) {
				return domain.NewCollaboratorError(vectorServiceName, "embed",
					fmt.Errorf("expected %d vectors, got %d", len(texts), len(embedded)))
			}
			copy(vectors[start:end], embedded)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]vectorEntry, len(chunks))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("failed to create vector bucket: %w", err)
		}
		for i, c := range chunks {
			if len(vectors[i]) == 0 {
				return fmt.Errorf("empty embedding for chunk %s", c.ChunkID)
			}
			meta := chunkMetadata(c)
			data, err := json.Marshal(storedVector{Vector: vectors[i], Metadata: meta})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.ChunkID), data); err != nil {
				return err
			}
			entries[c.ChunkID] = vectorEntry{vector: vectors[i], metadata: meta}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for id, entry := range entries {
		s.vectors[id] = entry
	}
	return nil
}

// Delete removes vectors by chunk id.
func (s *BoltVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

// Clear drops the whole collection.
func (s *BoltVectorIndex) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) != nil {
			return tx.DeleteBucket(s.bucket)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.vectors = make(map[string]vectorEntry)
	return nil
}

// SimilaritySearch returns the k closest chunks by cosine distance.
func (s *BoltVectorIndex) SimilaritySearch(ctx context.Context, query string, k int, docTypes []string) ([]port.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	embedded, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, domain.NewCollaboratorError(vectorServiceName, "embed query", err)
	}
	if len(embedded) != 1 {
		return nil, domain.NewCollaboratorError(vectorServiceName, "embed query", fmt.Errorf("expected 1 vector, got %d", len(embedded)))
	}
	q := embedded[0]

	allowed := make(map[string]struct{}, len(docTypes))
	for _, t := range docTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]port.VectorHit, 0, len(s.vectors))
	for id, entry := range s.vectors {
		if len(allowed) > 0 {
			if _, ok := allowed[entry.metadata["source_doc_type"]]; !ok {
				continue
			}
		}
		if len(entry.vector) != len(q) {
			continue
		}
		hits = append(hits, port.VectorHit{
			ChunkID:  id,
			Distance: 1 - cosineSimilarity(q, entry.vector),
			Metadata: entry.metadata,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Missing returns the chunks that have no stored vector.
func (s *BoltVectorIndex) Missing(chunks []domain.Chunk) []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Chunk
	for _, c := range chunks {
		if _, ok := s.vectors[c.ChunkID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of vectors in the collection.
func (s *BoltVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
