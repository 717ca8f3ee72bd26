package domain

import "time"

const StatusIndexed = "indexed"

type Document struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Name      string    `json:"name"`
	DocType   string    `json:"doc_type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Chunk struct {
	ChunkID       string `json:"chunk_id"`
	CourseID      string `json:"course_id"`
	SourceDocID   string `json:"source_doc_id"`
	SourceDocName string `json:"source_doc_name"`
	SourceDocType string `json:"source_doc_type"`
	TitlePath     string `json:"title_path"`
	Content       string `json:"content"`
	OrderIndex    int    `json:"order_index"`
	CharCount     int    `json:"char_count"`
}

// Block is a labeled span produced by segmentation.
type Block struct {
	Text      string `json:"text"`
	TitlePath string `json:"title_path"`
}

// Payload is an assembled chunk body before ids and order are assigned.
type Payload struct {
	Text      string `json:"text"`
	TitlePath string `json:"title_path"`
}

type SearchFilter struct {
	DocTypes []string `json:"source_doc_type,omitempty"`
}

type SearchResult struct {
	ChunkID       string   `json:"chunk_id"`
	Score         float64  `json:"score"`
	Content       string   `json:"content"`
	TitlePath     string   `json:"title_path"`
	SourceDocID   string   `json:"source_doc_id"`
	SourceDocName string   `json:"source_doc_name"`
	SourceDocType string   `json:"source_doc_type"`
	BM25Score     *float64 `json:"bm25_score,omitempty"`
	HybridScore   *float64 `json:"hybrid_score,omitempty"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
}

// UploadPayload is what an extractor hands back for one file or page.
type UploadPayload struct {
	Name    string `json:"name"`
	DocType string `json:"doc_type"`
	Content string `json:"content"`
}

type DocumentInput struct {
	Name    string `json:"name"`
	DocType string `json:"doc_type"`
	Content string `json:"content,omitempty"`
}

type UpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	DocType *string `json:"doc_type,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Empty reports whether the request carries nothing to change.
func (r UpdateRequest) Empty() bool {
	return r.Name == nil && r.DocType == nil && r.Content == nil
}
