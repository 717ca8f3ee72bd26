package chunker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"coursekb/internal/adapter/llm"
	"coursekb/internal/adapter/normalize"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// ErrInputTooLarge is returned when content exceeds the model input ceiling.
var ErrInputTooLarge = errors.New("content exceeds LLM chunking input limit")

const llmChunkPrompt = `你是中文文档切分助手。请根据输入内容生成语义连贯的片段列表。
要求：
- 模式：%s
- 每个片段长度在 %d-%d 字符之间，过长需拆分，过短需合并。
- 保留代码块和表格为完整片段，不要打断。
- title_path 使用层级标题路径，不确定时仅使用文档名。
- 输出严格 JSON，不要包含多余说明。
输出格式示例：
{"chunks":[{"title_path":"文档名 > 章节","text":"..."}]}
文档名：%s
正文如下：
%s
`

type llmPayload struct {
	TitlePath string `json:"title_path"`
	Text      string `json:"text"`
}

// LLMChunker asks a chat model to split a document into chunks.
type LLMChunker struct {
	model    port.LLM
	maxInput int
}

func NewLLMChunker(model port.LLM, maxInput int) *LLMChunker {
	return &LLMChunker{model: model, maxInput: maxInput}
}

// Chunk returns the model's payloads, re-split and merged to fit limits.
// Model failures are returned as *domain.CollaboratorError.
func (c *LLMChunker) Chunk(ctx context.Context, content, docName string, limits Limits, qaMode bool) ([]domain.Payload, error) {
	if c == nil || c.model == nil {
		return nil, errors.New("no chat model configured")
	}
	if c.maxInput > 0 && runeLen(content) > c.maxInput {
		return nil, ErrInputTooLarge
	}

	mode := "通用"
	if qaMode {
		mode = "问答"
	}
	prompt := fmt.Sprintf(llmChunkPrompt, mode, limits.MinLen, limits.MaxLen, docName, content)

	reply, err := c.model.Generate(ctx, prompt)
	if err != nil {
		return nil, domain.NewCollaboratorError("chat", "chunk", err)
	}

	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, domain.NewCollaboratorError("chat", "chunk", err)
	}

	var items []llmPayload
	if llm.IsArray(raw) {
		err = json.Unmarshal(raw, &items)
	} else {
		var wrapped struct {
			Chunks []llmPayload `json:"chunks"`
		}
		err = json.Unmarshal(raw, &wrapped)
		items = wrapped.Chunks
	}
	if err != nil {
		return nil, domain.NewCollaboratorError("chat", "chunk", fmt.Errorf("unexpected reply shape: %w", err))
	}

	return fitPayloads(items, docName, limits), nil
}

func fitPayloads(items []llmPayload, docName string, limits Limits) []domain.Payload {
	var out []domain.Payload
	for _, item := range items {
		text := normalize.Normalize(item.Text)
		if text == "" {
			continue
		}
		title := strings.TrimSpace(item.TitlePath)
		if title == "" {
			title = docName
		}
		for _, piece := range splitLongText(text, limits.MaxLen) {
			out = append(out, domain.Payload{Text: piece, TitlePath: title})
		}
	}
	return mergeShortTail(out, limits)
}
