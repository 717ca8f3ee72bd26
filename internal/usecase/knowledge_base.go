package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/chunker"
	"coursekb/internal/adapter/extractor"
	"coursekb/internal/adapter/retriever"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
	"coursekb/internal/port"
)

// KnowledgeBase is the entry point for ingesting course material and
// querying it. Mutations hold the course write lock; reads hold the read
// lock.
type KnowledgeBase struct {
	store     *store.IndexStore
	pipeline  *chunker.Pipeline
	retriever *retriever.HybridRetriever
	cache     *cache.QueryCache // nil disables search caching
	extractor port.Extractor
	knowledge *KnowledgeExtractor
	titles    port.TitleWriter // nil disables RenameCourse
	topK      int
	logger    *logger.Logger
	now       func() time.Time
}

func NewKnowledgeBase(
	st *store.IndexStore,
	pipeline *chunker.Pipeline,
	hybrid *retriever.HybridRetriever,
	queryCache *cache.QueryCache,
	ext port.Extractor,
	knowledge *KnowledgeExtractor,
	defaultTopK int,
	log *logger.Logger,
) *KnowledgeBase {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &KnowledgeBase{
		store:     st,
		pipeline:  pipeline,
		retriever: hybrid,
		cache:     queryCache,
		extractor: ext,
		knowledge: knowledge,
		topK:      defaultTopK,
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

// WithTitleWriter enables RenameCourse.
func (kb *KnowledgeBase) WithTitleWriter(w port.TitleWriter) *KnowledgeBase {
	kb.titles = w
	return kb
}

// NormalizeDocType lower-cases and trims a document type; empty becomes
// "unknown".
func NormalizeDocType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func (kb *KnowledgeBase) ListDocuments(ctx context.Context, courseID string) ([]domain.Document, error) {
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.RLock()
	defer c.RUnlock()
	return c.Documents(), nil
}

// ListChunks returns the chunks of one document in order.
func (kb *KnowledgeBase) ListChunks(ctx context.Context, courseID, docID string) ([]domain.Chunk, error) {
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.RLock()
	defer c.RUnlock()

	if _, ok := c.Document(docID); !ok {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
	}
	return c.ChunksFor(docID), nil
}

// StoreDocuments stores plain submissions. Content is optional; a document
// without content gets a placeholder chunk.
func (kb *KnowledgeBase) StoreDocuments(ctx context.Context, courseID string, inputs []domain.DocumentInput, useLLM *bool) ([]domain.Document, error) {
	uploads := make([]domain.UploadPayload, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return nil, fmt.Errorf("%w: document %d has no name", domain.ErrInvalidInput, i+1)
		}
		uploads = append(uploads, domain.UploadPayload{Name: in.Name, DocType: NormalizeDocType(in.DocType), Content: in.Content})
	}
	return kb.StoreUploads(ctx, courseID, uploads, useLLM)
}

// ExtractUpload converts an uploaded file to a payload. Extraction failures
// are logged and yield empty content.
func (kb *KnowledgeBase) ExtractUpload(ctx context.Context, filename string, data []byte) domain.UploadPayload {
	payload, err := kb.extractor.Extract(ctx, filename, data)
	if err != nil {
		kb.logger.Warn("text extraction failed", "file", filename, "error", err)
		payload.Content = ""
	}
	if payload.Name == "" {
		payload.Name = filename
	}
	if payload.DocType == "" {
		payload.DocType = extractor.DocType(filename)
	}
	return payload
}

// StoreUploads stores extracted payloads. A document with the same name as
// an existing one replaces it.
func (kb *KnowledgeBase) StoreUploads(ctx context.Context, courseID string, uploads []domain.UploadPayload, useLLM *bool) ([]domain.Document, error) {
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.Lock()
	defer c.Unlock()
	defer kb.invalidate(c.ID())

	stored := make([]domain.Document, 0, len(uploads))
	chunkCount := 0
	for _, upload := range uploads {
		name := strings.TrimSpace(upload.Name)
		if name == "" {
			name = "unknown"
		}
		docType := upload.DocType
		if strings.TrimSpace(docType) == "" {
			docType = extractor.DocType(name)
		}

		if _, err := c.RemoveDocumentsNamed(ctx, name); err != nil {
			return stored, err
		}
		doc := domain.Document{
			ID:        domain.NewID("doc"),
			CourseID:  c.ID(),
			Name:      name,
			DocType:   NormalizeDocType(docType),
			Status:    domain.StatusIndexed,
			CreatedAt: kb.now().UTC(),
		}
		n, err := kb.index(ctx, c, doc, upload.Content, useLLM)
		if err != nil {
			return stored, err
		}
		stored = append(stored, doc)
		chunkCount += n
	}

	kb.logger.Info("stored documents", "course_id", c.ID(), "documents", len(stored), "chunks", chunkCount)
	return stored, nil
}

// StoreWeb fetches a page and stores it as a "web" document.
func (kb *KnowledgeBase) StoreWeb(ctx context.Context, courseID, url string, classes []string, useLLM *bool) (domain.Document, error) {
	if _, err := extractor.ValidateURL(url); err != nil {
		return domain.Document{}, err
	}
	payload, err := kb.extractor.Fetch(ctx, url, classes)
	if err != nil {
		return domain.Document{}, err
	}
	stored, err := kb.StoreUploads(ctx, courseID, []domain.UploadPayload{payload}, useLLM)
	if err != nil {
		return domain.Document{}, err
	}
	return stored[0], nil
}

// UpdateDocument changes a document's metadata and/or content. Chunks are
// rebuilt from the new content, or from the existing chunks when no content
// is given. The id, creation time and list position are kept.
func (kb *KnowledgeBase) UpdateDocument(ctx context.Context, courseID, docID string, req domain.UpdateRequest, useLLM *bool) (domain.Document, error) {
	if req.Empty() {
		return domain.Document{}, fmt.Errorf("%w: update has no fields", domain.ErrInvalidInput)
	}
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return domain.Document{}, err
	}
	c.Lock()
	defer c.Unlock()

	current, ok := c.Document(docID)
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
	}
	defer kb.invalidate(c.ID())

	var content string
	if req.Content != nil {
		content = *req.Content
	} else {
		content = mergeChunks(c.ChunksFor(docID))
	}

	updated := current
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.DocType != nil && strings.TrimSpace(*req.DocType) != "" {
		updated.DocType = NormalizeDocType(*req.DocType)
	}
	updated.DocType = NormalizeDocType(updated.DocType)
	updated.Status = domain.StatusIndexed
	if updated.CreatedAt.IsZero() {
		updated.CreatedAt = kb.now().UTC()
	}

	n, err := kb.index(ctx, c, updated, content, useLLM)
	if err != nil {
		return domain.Document{}, err
	}
	kb.logger.Info("updated document", "course_id", c.ID(), "doc_id", docID, "chunks", n)
	return updated, nil
}

// DeleteDocument removes a document with its chunks and vectors.
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, courseID, docID string) (domain.Document, error) {
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return domain.Document{}, err
	}
	c.Lock()
	defer c.Unlock()

	doc, err := c.RemoveDocument(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	kb.invalidate(c.ID())
	kb.logger.Info("deleted document", "course_id", c.ID(), "doc_id", docID, "name", doc.Name)
	return doc, nil
}

// Search returns the topK most relevant chunks. topK <= 0 uses the
// configured default.
func (kb *KnowledgeBase) Search(ctx context.Context, courseID, query string, topK int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.SearchResult{}, nil
	}
	if topK <= 0 {
		topK = kb.topK
	}
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.RLock()
	defer c.RUnlock()

	gen := c.Generation()
	if kb.cache != nil {
		if cached, ok := kb.cache.Get(c.ID(), query, topK, filter, gen); ok {
			kb.logger.Debug("search cache hit", "course_id", c.ID(), "query", query)
			return cached, nil
		}
	}

	results, err := kb.retriever.Search(ctx, c, query, topK, filter)
	if err != nil {
		return nil, err
	}
	if kb.cache != nil {
		kb.cache.Put(c.ID(), query, topK, filter, gen, results)
	}
	return results, nil
}

func (kb *KnowledgeBase) KnowledgePoints(ctx context.Context, courseID string, limit int, useLLM *bool) ([]string, error) {
	return kb.knowledge.Extract(ctx, courseID, limit, useLLM)
}

// Reindex rebuilds the vector index of a course from its stored chunks.
func (kb *KnowledgeBase) Reindex(ctx context.Context, courseID string, progress func(done, total int)) error {
	c, err := kb.store.Course(ctx, courseID)
	if err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	defer kb.invalidate(c.ID())

	if err := c.Reindex(ctx, progress); err != nil {
		return err
	}
	kb.logger.Info("reindexed course", "course_id", c.ID(), "chunks", c.ChunkCount())
	return nil
}

// UpgradeLayout runs the on-disk layout upgrade for a course.
func (kb *KnowledgeBase) UpgradeLayout(ctx context.Context, courseID string) (store.LayoutReport, error) {
	report, err := kb.store.Upgrade(ctx, courseID)
	if err != nil {
		return report, err
	}
	kb.invalidate(strings.TrimSpace(courseID))
	return report, nil
}

// RenameCourse stores a new course title and moves the course folder to
// match it. It returns the new folder name.
func (kb *KnowledgeBase) RenameCourse(ctx context.Context, courseID, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if kb.titles == nil {
		return "", fmt.Errorf("%w: no course title database configured", domain.ErrInvalidInput)
	}
	courseID = strings.TrimSpace(courseID)
	folder, err := kb.store.Retitle(ctx, courseID, title, func() error {
		return kb.titles.SetTitle(ctx, courseID, title)
	})
	if err != nil {
		return "", err
	}
	kb.invalidate(courseID)
	kb.logger.Info("course renamed", "course_id", courseID, "folder", folder)
	return folder, nil
}

func (kb *KnowledgeBase) Close() error {
	return kb.store.Close()
}

// index chunks content, stores the document and its chunks, and returns the
// chunk count. Embedding failures are logged; chunks without vectors are
// embedded when the course is next opened, or by Reindex.
func (kb *KnowledgeBase) index(ctx context.Context, c *store.Course, doc domain.Document, content string, useLLM *bool) (int, error) {
	chunks := kb.pipeline.Build(ctx, c.ID(), doc, content, useLLM)
	if err := c.PutDocuments(doc); err != nil {
		return 0, err
	}
	if err := c.PutChunks(ctx, chunks); err != nil {
		if !domain.IsCollaboratorError(err) {
			return 0, err
		}
		kb.logger.Warn("embedding failed, vectors are backfilled on next open", "doc_id", doc.ID, "error", err)
	}
	return len(chunks), nil
}

func (kb *KnowledgeBase) invalidate(courseID string) {
	if kb.cache != nil {
		kb.cache.Invalidate(courseID)
	}
}

func mergeChunks(chunks []domain.Chunk) string {
	sorted := make([]domain.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	parts := make([]string, len(sorted))
	for i, chunk := range sorted {
		parts[i] = chunk.Content
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
