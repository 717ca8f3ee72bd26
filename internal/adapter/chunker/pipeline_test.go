package chunker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/segment"
	"coursekb/internal/domain"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeLLM) ModelName() string { return "fake" }

type gate bool

func (g gate) Allows(string, string) bool { return bool(g) }

func newTestPipeline(model *fakeLLM, llmGate Gate) *Pipeline {
	opts := DefaultOptions()
	opts.LLMGate = llmGate
	var lc *LLMChunker
	if model != nil {
		lc = NewLLMChunker(model, 6000)
	}
	return NewPipeline(segment.New(gate(true)), lc, opts, nil)
}

var testDoc = domain.Document{ID: "doc_1", Name: "Intro", DocType: "md"}

func TestBuildPlaceholder(t *testing.T) {
	chunks := newTestPipeline(nil, nil).Build(context.Background(), "c1", testDoc, "  \n\t ", nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Intro > 摘要", chunks[0].TitlePath)
	assert.Equal(t, "文档《Intro》的核心要点占位摘要，用于演示检索与问答流程。", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].OrderIndex)
	assert.Equal(t, "doc_1", chunks[0].SourceDocID)
}

func TestBuildAssignsOrderAndTitles(t *testing.T) {
	content := "# Basics\n" + numberedSentences(1, 30) + "\n\n# Advanced\n" + numberedSentences(31, 40)

	chunks := newTestPipeline(nil, nil).Build(context.Background(), "c1", testDoc, content, nil)

	require.GreaterOrEqual(t, len(chunks), 2)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.OrderIndex)
		assert.True(t, strings.HasPrefix(c.ChunkID, "chunk_"))
		assert.True(t, strings.HasSuffix(c.TitlePath, " > 片段 "+strconv.Itoa(i+1)), c.TitlePath)
		assert.Equal(t, runeLen(c.Content), c.CharCount)
		assert.Equal(t, "c1", c.CourseID)
		assert.Equal(t, "md", c.SourceDocType)
	}
	assert.True(t, strings.HasPrefix(chunks[0].TitlePath, "Intro > Basics"))
}

func TestBuildUsesLLMChunks(t *testing.T) {
	model := &fakeLLM{reply: "```json\n{\"chunks\":[{\"title_path\":\"Intro > Core\",\"text\":\"" +
		strings.Repeat("核心内容", 30) + "\"}]}\n```"}
	override := true

	chunks := newTestPipeline(model, gate(false)).Build(context.Background(), "c1", testDoc, "Some text about things.", &override)

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, "Intro > Core > 片段 1", chunks[0].TitlePath)
	assert.Equal(t, strings.Repeat("核心内容", 30), chunks[0].Content)
}

func TestBuildFallsBackWhenLLMFails(t *testing.T) {
	model := &fakeLLM{err: errors.New("timeout")}

	chunks := newTestPipeline(model, gate(true)).Build(context.Background(), "c1", testDoc, "Plain paragraph of text.", nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, "Plain paragraph of text.", chunks[0].Content)
	assert.Equal(t, "Intro > 片段 1", chunks[0].TitlePath)
}

func TestBuildRespectsGate(t *testing.T) {
	model := &fakeLLM{reply: `["unused"]`}

	newTestPipeline(model, gate(false)).Build(context.Background(), "c1", testDoc, "Text.", nil)
	assert.Equal(t, 0, model.calls)

	off := false
	newTestPipeline(model, gate(true)).Build(context.Background(), "c1", testDoc, "Text.", &off)
	assert.Equal(t, 0, model.calls)
}

func TestLLMChunkerInputLimit(t *testing.T) {
	model := &fakeLLM{reply: `{"chunks":[]}`}
	lc := NewLLMChunker(model, 10)

	_, err := lc.Chunk(context.Background(), strings.Repeat("字", 11), "Doc", DefaultLimits(), false)

	assert.ErrorIs(t, err, ErrInputTooLarge)
	assert.Equal(t, 0, model.calls)
}

func TestLLMChunkerBareList(t *testing.T) {
	model := &fakeLLM{reply: `[{"title_path":"","text":"` + strings.Repeat("a", 100) + `"},{"text":"tail"}]`}
	lc := NewLLMChunker(model, 0)

	got, err := lc.Chunk(context.Background(), "content", "Doc", DefaultLimits(), false)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Doc", got[0].TitlePath)
	assert.Equal(t, strings.Repeat("a", 100)+"\n\ntail", got[0].Text)
}

func TestLLMChunkerUnparsableReply(t *testing.T) {
	lc := NewLLMChunker(&fakeLLM{reply: "sorry, I cannot"}, 0)

	_, err := lc.Chunk(context.Background(), "content", "Doc", DefaultLimits(), false)

	assert.True(t, domain.IsCollaboratorError(err))
}
