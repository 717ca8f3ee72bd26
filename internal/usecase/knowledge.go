package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"coursekb/internal/adapter/llm"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
	"coursekb/internal/port"
)

// KeywordTokenizer splits chunk text into terms and filters out terms that
// make poor knowledge points.
type KeywordTokenizer interface {
	Tokenize(text string) []string
	IsKeyword(token string) bool
}

type KnowledgeOptions struct {
	MaxInput   int // summary rune budget for the LLM path
	MaxChunks  int // longest chunks summarised for the LLM
	ExcerptLen int // leading runes of each summarised chunk
}

func DefaultKnowledgeOptions() KnowledgeOptions {
	return KnowledgeOptions{MaxInput: 6000, MaxChunks: 8, ExcerptLen: 300}
}

// KnowledgeExtractor derives a short topic list from the chunks of a course.
type KnowledgeExtractor struct {
	store     *store.IndexStore
	model     port.LLM
	tokenizer KeywordTokenizer
	opts      KnowledgeOptions
	logger    *logger.Logger
}

// NewKnowledgeExtractor wires the extractor. model may be nil, in which case
// only the statistical path is used.
func NewKnowledgeExtractor(st *store.IndexStore, model port.LLM, tokenizer KeywordTokenizer, opts KnowledgeOptions, log *logger.Logger) *KnowledgeExtractor {
	def := DefaultKnowledgeOptions()
	if opts.MaxInput <= 0 {
		opts.MaxInput = def.MaxInput
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = def.MaxChunks
	}
	if opts.ExcerptLen <= 0 {
		opts.ExcerptLen = def.ExcerptLen
	}
	return &KnowledgeExtractor{
		store:     st,
		model:     model,
		tokenizer: tokenizer,
		opts:      opts,
		logger:    logger.OrNop(log),
	}
}

// Extract returns at most limit knowledge points for a course. The LLM is
// asked first unless useLLM is false; any failure falls back to keyword
// statistics.
func (k *KnowledgeExtractor) Extract(ctx context.Context, courseID string, limit int, useLLM *bool) ([]string, error) {
	if limit < 1 {
		return []string{}, nil
	}
	c, err := k.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.RLock()
	chunks := c.Chunks()
	c.RUnlock()

	return k.FromChunks(ctx, courseID, chunks, limit, useLLM), nil
}

// FromChunks runs extraction over an explicit chunk set.
func (k *KnowledgeExtractor) FromChunks(ctx context.Context, courseID string, chunks []domain.Chunk, limit int, useLLM *bool) []string {
	if limit < 1 || len(chunks) == 0 {
		return []string{}
	}

	if k.model != nil && (useLLM == nil || *useLLM) {
		points, err := k.fromLLM(ctx, courseID, chunks, limit)
		switch {
		case err != nil:
			k.logger.Warn("LLM knowledge points failed, using keyword statistics", "course_id", courseID, "error", err)
		case len(points) > 0:
			return points
		}
	}
	return KeywordPoints(chunks, k.tokenizer, limit)
}

func (k *KnowledgeExtractor) fromLLM(ctx context.Context, courseID string, chunks []domain.Chunk, limit int) ([]string, error) {
	summary := summarize(chunks, k.opts.MaxChunks, k.opts.ExcerptLen)
	if summary == "" || utf8.RuneCountInString(summary) > k.opts.MaxInput {
		k.logger.Debug("skipping LLM knowledge points", "course_id", courseID, "chars", utf8.RuneCountInString(summary))
		return nil, nil
	}

	reply, err := k.model.Generate(ctx, knowledgePrompt(courseID, summary, limit))
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	return parsePoints(raw, limit)
}

func knowledgePrompt(courseID, summary string, limit int) string {
	var b strings.Builder
	b.WriteString("你是教学助理，请根据课程资料提炼关键知识点。\n")
	b.WriteString("要求：\n")
	fmt.Fprintf(&b, "- 返回 %d 个以内的知识点，使用短语，不要句子。\n", limit)
	b.WriteString("- 优先提取概念、方法、原理、步骤、易考点。\n")
	b.WriteString("- 输出严格 JSON，不要包含多余说明。\n")
	b.WriteString("输出格式示例：\n")
	b.WriteString(`["知识点1","知识点2"]` + "\n")
	fmt.Fprintf(&b, "课程ID：%s\n", courseID)
	b.WriteString("资料摘要：\n")
	b.WriteString(summary)
	b.WriteString("\n")
	return b.String()
}

// summarize lists the longest chunks as "title\nexcerpt" paragraphs.
func summarize(chunks []domain.Chunk, maxChunks, excerptLen int) string {
	sorted := make([]domain.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CharCount > sorted[j].CharCount })
	if len(sorted) > maxChunks {
		sorted = sorted[:maxChunks]
	}

	var parts []string
	for _, c := range sorted {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		excerpt := content
		if runes := []rune(content); len(runes) > excerptLen {
			excerpt = string(runes[:excerptLen])
		}
		parts = append(parts, c.TitlePath+"\n"+strings.TrimSpace(excerpt))
	}
	return strings.Join(parts, "\n\n")
}

// parsePoints accepts a JSON list or an object carrying "knowledge_points"
// or "points". Non-string items are ignored.
func parsePoints(raw json.RawMessage, limit int) ([]string, error) {
	var items []interface{}
	if llm.IsArray(raw) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
	} else {
		var obj struct {
			KnowledgePoints []interface{} `json:"knowledge_points"`
			Points          []interface{} `json:"points"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		items = obj.KnowledgePoints
		if len(items) == 0 {
			items = obj.Points
		}
	}

	seen := make(map[string]bool)
	var points []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		points = append(points, s)
		if len(points) == limit {
			break
		}
	}
	return points, nil
}

type termStat struct {
	term string
	tf   int
	df   int
}

// KeywordPoints scores terms by tf × (1 + df/N) over all chunks and returns
// the top limit, ties broken by first occurrence.
func KeywordPoints(chunks []domain.Chunk, tokenizer KeywordTokenizer, limit int) []string {
	if limit < 1 || len(chunks) == 0 {
		return []string{}
	}

	stats := make(map[string]*termStat)
	var order []*termStat
	for _, c := range chunks {
		seen := make(map[string]bool)
		for _, token := range tokenizer.Tokenize(c.TitlePath + "\n" + c.Content) {
			if !tokenizer.IsKeyword(token) {
				continue
			}
			st, ok := stats[token]
			if !ok {
				st = &termStat{term: token}
				stats[token] = st
				order = append(order, st)
			}
			st.tf++
			if !seen[token] {
				seen[token] = true
				st.df++
			}
		}
	}

	n := float64(len(chunks))
	score := func(st *termStat) float64 { return float64(st.tf) * (1 + float64(st.df)/n) }
	sort.SliceStable(order, func(i, j int) bool { return score(order[i]) > score(order[j]) })

	if len(order) > limit {
		order = order[:limit]
	}
	points := make([]string, len(order))
	for i, st := range order {
		points[i] = st.term
	}
	return points
}
