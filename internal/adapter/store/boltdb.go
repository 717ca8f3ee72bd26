package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"coursekb/internal/adapter/lexical"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
	"coursekb/internal/port"
)

var (
	bucketMeta        = []byte("meta")
	bucketDocuments   = []byte("documents")
	bucketChunkGroups = []byte("chunk_groups")
	keyDocuments      = []byte("documents")
)

const (
	indexFileName  = "index.db"
	vectorDirName  = "vectors"
	vectorFileName = "vectors.db"
	reindexBatch   = 50
)

// Options configures the lexical index built over each course.
type Options struct {
	Tokenizer lexical.Tokenizer
	BM25      lexical.Params
}

// IndexStore owns the open course containers under one root directory.
type IndexStore struct {
	root     string
	resolver port.TitleResolver
	embedder port.Embedder
	opts     Options
	log      *logger.Logger

	mu      sync.Mutex
	courses map[string]*Course
}

func NewIndexStore(root string, resolver port.TitleResolver, embedder port.Embedder, opts Options, log *logger.Logger) *IndexStore {
	return &IndexStore{
		root:     root,
		resolver: resolver,
		embedder: embedder,
		opts:     opts,
		log:      logger.OrNop(log),
		courses:  make(map[string]*Course),
	}
}

// Course returns the loaded course, opening and upgrading its container on
// first access.
func (s *IndexStore) Course(ctx context.Context, courseID string) (*Course, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, fmt.Errorf("%w: course id is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.courses[courseID]; ok {
		return c, nil
	}
	c, err := s.open(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.courses[courseID] = c
	return c, nil
}

// FolderName resolves the on-disk folder of a course from its title.
func (s *IndexStore) FolderName(ctx context.Context, courseID string) string {
	title := ""
	if s.resolver != nil {
		t, err := s.resolver.CourseTitle(ctx, courseID)
		if err != nil {
			s.log.Warn("course title lookup failed", "course_id", courseID, "error", err)
		}
		title = t
	}
	folder := SanitizeFolderName(title)
	if folder == "" {
		folder = SanitizeFolderName(courseID)
	}
	if folder == "" {
		folder = "unknown"
	}
	return folder
}

func (s *IndexStore) open(ctx context.Context, courseID string) (*Course, error) {
	folder := s.FolderName(ctx, courseID)
	db, report, err := upgradeLayout(s.root, folder, courseID, s.log)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, folder)
	vectors, err := OpenVectorIndex(filepath.Join(dir, vectorDirName, vectorFileName), courseID, s.embedder)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Course{
		id:        courseID,
		dir:       dir,
		db:        db,
		vectors:   vectors,
		opts:      s.opts,
		log:       s.log.With("course_id", courseID),
		groups:    make(map[string][]domain.Chunk),
		groupKeys: make(map[string]string),
		layout:    report,
	}
	if err := c.load(); err != nil {
		vectors.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load course %s: %w", courseID, err)
	}
	c.backfillVectors(ctx)
	return c, nil
}

// Upgrade closes the course if it is open and runs the layout upgrade again
// by reopening it.
func (s *IndexStore) Upgrade(ctx context.Context, courseID string) (LayoutReport, error) {
	if err := s.Evict(courseID); err != nil {
		return LayoutReport{}, err
	}
	c, err := s.Course(ctx, courseID)
	if err != nil {
		return LayoutReport{}, err
	}
	return c.Layout(), nil
}

// Retitle changes a course title through set and moves the course folder to
// match the new title. The course is closed first and reopened on next
// access.
func (s *IndexStore) Retitle(ctx context.Context, courseID, title string, set func() error) (string, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return "", fmt.Errorf("%w: course id is required", domain.ErrInvalidInput)
	}
	if err := s.Evict(courseID); err != nil {
		return "", err
	}

	oldFolder := s.FolderName(ctx, courseID)
	from := filepath.Join(s.root, oldFolder)
	if next := SanitizeFolderName(title); next != "" && next != oldFolder {
		if _, err := os.Stat(filepath.Join(s.root, next)); err == nil {
			return "", fmt.Errorf("%w: course folder %q already exists", domain.ErrInvalidInput, next)
		}
	}

	if err := set(); err != nil {
		return "", err
	}
	newFolder := s.FolderName(ctx, courseID)
	if newFolder == oldFolder {
		return newFolder, nil
	}
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return newFolder, nil
	}
	to := filepath.Join(s.root, newFolder)
	if err := os.Rename(from, to); err != nil {
		return "", fmt.Errorf("failed to move course folder: %w", err)
	}
	s.log.Info("course folder renamed", "course_id", courseID, "from", oldFolder, "to", newFolder)
	return newFolder, nil
}

// Evict closes a course so the next access reloads it from disk.
func (s *IndexStore) Evict(courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[courseID]
	if !ok {
		return nil
	}
	delete(s.courses, courseID)
	return c.close()
}

func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for id, c := range s.courses {
		if err := c.close(); err != nil && first == nil {
			first = err
		}
		delete(s.courses, id)
	}
	return first
}

var unsafeFolderChars = regexp.MustCompile(`[^\p{L}\p{N}_\-\s]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeFolderName makes a course title or document name safe to use as a
// path element.
func SanitizeFolderName(value string) string {
	value = strings.NewReplacer("/", "_", "\\", "_").Replace(value)
	value = unsafeFolderChars.ReplaceAllString(value, "_")
	value = whitespaceRun.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

func groupKey(docName, docID string) string {
	name := SanitizeFolderName(docName)
	if name == "" {
		name = "unknown"
	}
	id := SanitizeFolderName(docID)
	if id == "" {
		id = "unknown"
	}
	return name + "__" + id
}

// Course is the in-memory view of one course plus its durable containers.
// Callers hold the write lock for mutations and the read lock for reads.
type Course struct {
	sync.RWMutex

	id      string
	dir     string
	db      *bbolt.DB
	vectors *BoltVectorIndex
	opts    Options
	log     *logger.Logger
	layout  LayoutReport

	documents []domain.Document
	groups    map[string][]domain.Chunk
	groupKeys map[string]string

	lexMu      sync.Mutex
	lexical    *lexical.Index
	generation atomic.Uint64
}

func (c *Course) ID() string { return c.id }

func (c *Course) Dir() string { return c.dir }

// Layout reports what the layout upgrade did when the course was opened.
func (c *Course) Layout() LayoutReport { return c.layout }

func (c *Course) Vectors() port.VectorIndex { return c.vectors }

// Generation changes whenever the course's chunks change.
func (c *Course) Generation() uint64 {
	return c.generation.Load()
}

func (c *Course) close() error {
	verr := c.vectors.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return verr
}

func (c *Course) load() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketDocuments).Get(keyDocuments); data != nil {
			if err := json.Unmarshal(data, &c.documents); err != nil {
				return fmt.Errorf("failed to decode documents: %w", err)
			}
		}
		groups := tx.Bucket(bucketChunkGroups)
		for _, doc := range c.documents {
			key := groupKey(doc.Name, doc.ID)
			data := groups.Get([]byte(key))
			if data == nil {
				continue
			}
			var chunks []domain.Chunk
			if err := json.Unmarshal(data, &chunks); err != nil {
				c.log.Warn("skipping unreadable chunk group", "key", key, "error", err)
				continue
			}
			c.groups[doc.ID] = chunks
			c.groupKeys[doc.ID] = key
		}
		return nil
	})
}

// backfillVectors embeds the chunks that have no vector yet, e.g. after an
// embedding outage during ingest.
func (c *Course) backfillVectors(ctx context.Context) {
	missing := c.vectors.Missing(c.Chunks())
	if len(missing) == 0 {
		return
	}
	if err := c.vectors.Upsert(ctx, missing); err != nil {
		c.log.Warn("vector backfill failed", "chunks", len(missing), "error", err)
		return
	}
	c.log.Info("vector index backfilled", "chunks", len(missing))
}

// Documents returns the documents record in insertion order.
func (c *Course) Documents() []domain.Document {
	out := make([]domain.Document, len(c.documents))
	copy(out, c.documents)
	return out
}

func (c *Course) Document(id string) (domain.Document, bool) {
	for _, doc := range c.documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return domain.Document{}, false
}

// Chunks returns every chunk, grouped by document order then order_index.
func (c *Course) Chunks() []domain.Chunk {
	var out []domain.Chunk
	for _, doc := range c.documents {
		out = append(out, c.groups[doc.ID]...)
	}
	return out
}

// ChunkCount returns the number of chunks across all documents.
func (c *Course) ChunkCount() int {
	n := 0
	for _, doc := range c.documents {
		n += len(c.groups[doc.ID])
	}
	return n
}

func (c *Course) ChunksFor(docID string) []domain.Chunk {
	group := c.groups[docID]
	out := make([]domain.Chunk, len(group))
	copy(out, group)
	return out
}

func (c *Course) Chunk(id string) (domain.Chunk, bool) {
	for _, doc := range c.documents {
		for _, chunk := range c.groups[doc.ID] {
			if chunk.ChunkID == id {
				return chunk, true
			}
		}
	}
	return domain.Chunk{}, false
}

// Lexical returns the BM25 index over the current chunks, building it on
// first use after a mutation.
func (c *Course) Lexical() *lexical.Index {
	c.lexMu.Lock()
	defer c.lexMu.Unlock()

	if c.lexical == nil {
		c.lexical = lexical.Build(c.Chunks(), c.opts.Tokenizer, c.opts.BM25)
	}
	return c.lexical
}

func (c *Course) invalidate() {
	c.lexMu.Lock()
	c.lexical = nil
	c.lexMu.Unlock()
	c.generation.Add(1)
}

// PutDocuments inserts documents or replaces them in place by id, then
// persists the documents record.
func (c *Course) PutDocuments(docs ...domain.Document) error {
	for _, doc := range docs {
		replaced := false
		for i := range c.documents {
			if c.documents[i].ID == doc.ID {
				c.documents[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			c.documents = append(c.documents, doc)
		}
	}
	return c.saveDocuments()
}

func (c *Course) saveDocuments() error {
	data, err := json.Marshal(c.documents)
	if err != nil {
		return err
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put(keyDocuments, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save documents: %w", err)
	}
	return nil
}

// PutChunks replaces the chunk group of every document the chunks belong to.
// The groups are persisted before vectors are written; a vector failure is
// returned after the durable state is already updated.
func (c *Course) PutChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	byDoc := make(map[string][]domain.Chunk)
	var order []string
	for _, chunk := range chunks {
		if _, seen := byDoc[chunk.SourceDocID]; !seen {
			order = append(order, chunk.SourceDocID)
		}
		byDoc[chunk.SourceDocID] = append(byDoc[chunk.SourceDocID], chunk)
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunkGroups)
		for _, docID := range order {
			group := byDoc[docID]
			key := groupKey(group[0].SourceDocName, docID)
			if old, ok := c.groupKeys[docID]; ok && old != key {
				if err := b.Delete([]byte(old)); err != nil {
					return err
				}
			}
			data, err := json.Marshal(group)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}

	var stale []string
	for _, docID := range order {
		for _, old := range c.groups[docID] {
			stale = append(stale, old.ChunkID)
		}
		group := byDoc[docID]
		c.groups[docID] = group
		c.groupKeys[docID] = groupKey(group[0].SourceDocName, docID)
	}
	c.invalidate()

	if err := c.vectors.Delete(ctx, stale); err != nil {
		c.log.Warn("failed to delete stale vectors", "chunks", len(stale), "error", err)
	}
	return c.vectors.Upsert(ctx, chunks)
}

// RemoveDocument deletes a document, its chunk group and its vectors.
func (c *Course) RemoveDocument(ctx context.Context, docID string) (domain.Document, error) {
	idx := -1
	for i, doc := range c.documents {
		if doc.ID == docID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
	}
	doc := c.documents[idx]

	prev := c.documents
	c.documents = append(c.documents[:idx:idx], c.documents[idx+1:]...)
	if err := c.saveDocuments(); err != nil {
		c.documents = prev
		return domain.Document{}, err
	}

	removed := c.groups[docID]
	key, ok := c.groupKeys[docID]
	if !ok {
		key = groupKey(doc.Name, doc.ID)
	}
	delete(c.groups, docID)
	delete(c.groupKeys, docID)
	c.invalidate()

	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunkGroups).Delete([]byte(key))
	})
	if err != nil {
		c.log.Warn("failed to delete chunk group", "key", key, "error", err)
	}

	ids := make([]string, 0, len(removed))
	for _, chunk := range removed {
		ids = append(ids, chunk.ChunkID)
	}
	if err := c.vectors.Delete(ctx, ids); err != nil {
		c.log.Warn("failed to delete vectors", "doc_id", docID, "error", err)
	}
	return doc, nil
}

// RemoveDocumentsNamed removes every document with the given name.
func (c *Course) RemoveDocumentsNamed(ctx context.Context, name string) ([]domain.Document, error) {
	var ids []string
	for _, doc := range c.documents {
		if doc.Name == name {
			ids = append(ids, doc.ID)
		}
	}
	var removed []domain.Document
	for _, id := range ids {
		doc, err := c.RemoveDocument(ctx, id)
		if err != nil {
			return removed, err
		}
		removed = append(removed, doc)
	}
	return removed, nil
}

// Reindex drops the vector collection and embeds every chunk again.
func (c *Course) Reindex(ctx context.Context, progress func(done, total int)) error {
	if err := c.vectors.Clear(); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	chunks := c.Chunks()
	for start := 0; start < len(chunks); start += reindexBatch {
		end := start + reindexBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := c.vectors.Upsert(ctx, chunks[start:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(end, len(chunks))
		}
	}
	c.generation.Add(1)
	return nil
}

func openIndexDB(dir string) (*bbolt.DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create course dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dir, indexFileName), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketDocuments, bucketChunkGroups} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
