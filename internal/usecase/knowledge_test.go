package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/llm"
	"coursekb/internal/domain"
)

func TestKeywordPoints(t *testing.T) {
	tok := analyzer.NewTokenizer()
	chunks := []domain.Chunk{
		{TitlePath: "T", Content: "graph graph tree the 2024 ok"},
		{TitlePath: "T", Content: "tree"},
	}

	// tree: 2 × (1 + 2/2) = 4, graph: 2 × (1 + 1/2) = 3
	assert.Equal(t, []string{"tree", "graph"}, KeywordPoints(chunks, tok, 5))
	assert.Equal(t, []string{"tree"}, KeywordPoints(chunks, tok, 1))
	assert.Empty(t, KeywordPoints(nil, tok, 5))
	assert.Empty(t, KeywordPoints(chunks, tok, 0))
}

func TestKeywordPointsTiesKeepFirstOccurrence(t *testing.T) {
	tok := analyzer.NewTokenizer()
	chunks := []domain.Chunk{{Content: "zeta alpha 梯度下降 的"}}

	got := KeywordPoints(chunks, tok, 10)
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, []string{"zeta", "alpha"}, got[:2])
	assert.Equal(t, "梯度下降", strings.Join(got[2:], ""))
	assert.NotContains(t, got, "度下")
	assert.Equal(t, got, KeywordPoints(chunks, tok, 10))
}

func TestKeywordPointsAreWords(t *testing.T) {
	tok := analyzer.NewTokenizer()
	chunks := []domain.Chunk{
		{TitlePath: "机器学习导论", Content: "机器学习是人工智能的一个分支。"},
		{TitlePath: "机器学习导论", Content: "监督学习使用标注数据训练模型。"},
	}

	got := KeywordPoints(chunks, tok, 8)
	require.NotEmpty(t, got)
	for _, fragment := range []string{"器学", "习导", "习是", "是人"} {
		assert.NotContains(t, got, fragment)
	}
}

func TestSummarize(t *testing.T) {
	chunks := []domain.Chunk{
		{TitlePath: "short", Content: "ab", CharCount: 2},
		{TitlePath: "empty", Content: "   ", CharCount: 3},
		{TitlePath: "long", Content: "一二三四五六", CharCount: 6},
		{TitlePath: "mid", Content: "abcd", CharCount: 4},
	}

	assert.Equal(t, "long\n一二三四\n\nmid\nabcd", summarize(chunks, 3, 4))
}

func TestParsePoints(t *testing.T) {
	for _, reply := range []string{
		`["a", "b", "a", ""]`,
		`Here you go: {"knowledge_points": ["a", "b"]}`,
		`{"knowledge_points": [], "points": [" a ", 1, "b"]}`,
	} {
		raw, err := llm.ExtractJSON(reply)
		require.NoError(t, err, reply)
		got, err := parsePoints(raw, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got, reply)
	}
}

func TestKnowledgeSkipsLLMForLargeSummary(t *testing.T) {
	model := &fakeLLM{reply: `["x"]`}
	k := NewKnowledgeExtractor(nil, model, analyzer.NewTokenizer(), KnowledgeOptions{MaxInput: 10}, nil)
	chunks := []domain.Chunk{{TitlePath: "t", Content: strings.Repeat("recursion ", 20), CharCount: 200}}

	got := k.FromChunks(context.Background(), "c1", chunks, 3, nil)
	assert.Equal(t, []string{"recursion"}, got)
	assert.Zero(t, model.calls)

	k = NewKnowledgeExtractor(nil, model, analyzer.NewTokenizer(), DefaultKnowledgeOptions(), nil)
	assert.Equal(t, []string{"x"}, k.FromChunks(context.Background(), "c1", chunks, 3, nil))
	assert.Equal(t, 1, model.calls)
	assert.Contains(t, model.prompt, "返回 3 个以内")
}
