package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

const rerankService = "rerank"

// HTTPReranker calls a /rerank endpoint. The "cohere" dialect posts
// {query, documents, top_n}; the "dashscope" dialect wraps them in
// {input, parameters} and answers under output.results.
type HTTPReranker struct {
	apiKey  string
	model   string
	url     string
	dialect string
	client  *http.Client
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type dashscopeRerankRequest struct {
	Model string `json:"model"`
	Input struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	} `json:"input"`
	Parameters struct {
		TopN            int  `json:"top_n,omitempty"`
		ReturnDocuments bool `json:"return_documents"`
	} `json:"parameters"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
	Output  struct {
		Results []rerankResult `json:"results"`
	} `json:"output"`
}

// NewHTTPReranker creates a reranker for baseURL (the full /rerank URL is
// accepted too). An empty baseURL means Cohere's public API.
func NewHTTPReranker(apiKeyEnv, model, baseURL, dialect string) (*HTTPReranker, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}

	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect == "" {
		dialect = "cohere"
	}
	if baseURL == "" {
		if dialect == "dashscope" {
			baseURL = "https://dashscope.aliyuncs.com/api/v1/services/rerank/text-rerank/text-rerank"
		} else {
			baseURL = "https://api.cohere.ai/v1"
		}
	}
	url := strings.TrimRight(baseURL, "/")
	if dialect == "cohere" && !strings.HasSuffix(url, "/rerank") {
		url += "/rerank"
	}

	if model == "" {
		if dialect == "dashscope" {
			model = "gte-rerank"
		} else {
			model = "rerank-multilingual-v3.0"
		}
	}

	return &HTTPReranker{
		apiKey:  apiKey,
		model:   model,
		url:     url,
		dialect: dialect,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (r *HTTPReranker) body(query string, documents []string, topN int) interface{} {
	if r.dialect == "dashscope" {
		var req dashscopeRerankRequest
		req.Model = r.model
		req.Input.Query = query
		req.Input.Documents = documents
		req.Parameters.TopN = topN
		return req
	}
	return cohereRerankRequest{Query: query, Documents: documents, Model: r.model, TopN: topN}
}

// Rerank scores documents against query, best first. Failures are returned
// as *domain.CollaboratorError.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]port.RerankedResult, error) {
	results, err := r.rerank(ctx, query, documents, topN)
	return results, domain.NewCollaboratorError(rerankService, "rerank", err)
}

func (r *HTTPReranker) rerank(ctx context.Context, query string, documents []string, topN int) ([]port.RerankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	const maxDocs = 1000
	if len(documents) > maxDocs {
		documents = documents[:maxDocs]
	}

	jsonData, err := json.Marshal(r.body(query, documents, topN))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var rerankResp rerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	raw := rerankResp.Results
	if len(raw) == 0 {
		raw = rerankResp.Output.Results
	}
	results := make([]port.RerankedResult, len(raw))
	for i, res := range raw {
		results[i] = port.RerankedResult{
			Index: res.Index,
			Score: res.RelevanceScore,
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}

func (r *HTTPReranker) ModelName() string {
	return r.model
}

type Tokenizer interface {
	Tokenize(text string) []string
}

// SimpleReranker scores documents by the share of distinct query terms they
// contain, for use without an external reranking service.
type SimpleReranker struct {
	tokenizer Tokenizer
}

func NewSimpleReranker(tokenizer Tokenizer) *SimpleReranker {
	return &SimpleReranker{tokenizer: tokenizer}
}

func (r *SimpleReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]port.RerankedResult, error) {
	queryTerms := termSet(r.tokenizer.Tokenize(query))

	results := make([]port.RerankedResult, len(documents))
	for i, doc := range documents {
		score := 0.0
		if len(queryTerms) > 0 {
			score = termOverlap(queryTerms, termSet(r.tokenizer.Tokenize(doc)))
		}
		results[i] = port.RerankedResult{Index: i, Score: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func (r *SimpleReranker) ModelName() string {
	return "simple-overlap"
}

func termSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func termOverlap(queryTerms, docTerms map[string]struct{}) float64 {
	matches := 0
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}
