package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coursekb/internal/adapter/normalize"
	"coursekb/internal/adapter/segment"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
)

// Gate decides whether a feature applies to a course and document type.
type Gate interface {
	Allows(courseID, docType string) bool
}

type Options struct {
	Normal  Limits
	QA      Limits
	LLMGate Gate // nil disables LLM chunking unless overridden per call
}

func DefaultOptions() Options {
	return Options{Normal: DefaultLimits(), QA: QALimits()}
}

// Pipeline turns document text into chunks ready for indexing.
type Pipeline struct {
	segmenter *segment.Segmenter
	llm       *LLMChunker
	opts      Options
	logger    *logger.Logger
}

// NewPipeline wires the chunking stages. llmChunker may be nil.
func NewPipeline(segmenter *segment.Segmenter, llmChunker *LLMChunker, opts Options, log *logger.Logger) *Pipeline {
	return &Pipeline{
		segmenter: segmenter,
		llm:       llmChunker,
		opts:      opts,
		logger:    logger.OrNop(log),
	}
}

// Build normalizes, segments and assembles content into chunks of doc. It
// never fails: empty content yields a single placeholder chunk. useLLM
// overrides the configured LLM chunking gate when non-nil.
func (p *Pipeline) Build(ctx context.Context, courseID string, doc domain.Document, content string, useLLM *bool) []domain.Chunk {
	cleaned := normalize.Normalize(content)
	if cleaned == "" {
		return []domain.Chunk{PlaceholderChunk(courseID, doc)}
	}

	res := p.segmenter.Segment(cleaned, doc.Name, courseID, doc.DocType)
	limits := p.opts.Normal
	if res.QAMode {
		limits = p.opts.QA
	}
	payloads := Assemble(res.Blocks, limits)

	if p.useLLM(courseID, doc.DocType, useLLM) {
		llmPayloads, err := p.llm.Chunk(ctx, cleaned, doc.Name, limits, res.QAMode)
		switch {
		case errors.Is(err, ErrInputTooLarge):
			p.logger.Debug("skipping LLM chunking", "doc", doc.Name, "chars", runeLen(cleaned))
		case err != nil:
			p.logger.Warn("LLM chunking failed, keeping heuristic chunks", "doc", doc.Name, "error", err)
		case len(llmPayloads) > 0:
			payloads = llmPayloads
		}
	}

	if len(payloads) == 0 {
		payloads = []domain.Payload{{Text: cleaned, TitlePath: docTitle(doc.Name)}}
	}

	chunks := make([]domain.Chunk, 0, len(payloads))
	for i, payload := range payloads {
		order := i + 1
		chunks = append(chunks, domain.Chunk{
			ChunkID:       domain.NewID("chunk"),
			CourseID:      courseID,
			SourceDocID:   doc.ID,
			SourceDocName: doc.Name,
			SourceDocType: doc.DocType,
			TitlePath:     fmt.Sprintf("%s > 片段 %d", payload.TitlePath, order),
			Content:       payload.Text,
			OrderIndex:    order,
			CharCount:     runeLen(payload.Text),
		})
	}
	p.logger.Debug("chunked document", "doc", doc.Name, "chunks", len(chunks), "qa_mode", res.QAMode)
	return chunks
}

func (p *Pipeline) useLLM(courseID, docType string, override *bool) bool {
	if p.llm == nil {
		return false
	}
	if override != nil {
		return *override
	}
	return p.opts.LLMGate != nil && p.opts.LLMGate.Allows(courseID, docType)
}

func docTitle(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return segment.DefaultDocName
}

// PlaceholderChunk stands in for a document without usable content.
func PlaceholderChunk(courseID string, doc domain.Document) domain.Chunk {
	content := fmt.Sprintf("文档《%s》的核心要点占位摘要，用于演示检索与问答流程。", doc.Name)
	return domain.Chunk{
		ChunkID:       domain.NewID("chunk"),
		CourseID:      courseID,
		SourceDocID:   doc.ID,
		SourceDocName: doc.Name,
		SourceDocType: doc.DocType,
		TitlePath:     doc.Name + " > 摘要",
		Content:       content,
		OrderIndex:    1,
		CharCount:     runeLen(content),
	}
}
