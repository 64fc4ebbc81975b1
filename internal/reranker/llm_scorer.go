package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/deptrag/internal/llm"
)

// maxJudgeTextLen truncates each text in the judge prompt to stay inside the context window
const maxJudgeTextLen = 500

// LLMScorer asks an LLM to judge every text against the query in a single prompt.
type LLMScorer struct {
	llmClient llm.LLM
	model     string
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for scoring.
func WithModel(model string) LLMScorerOption {
	return func(s *LLMScorer) {
		s.model = model
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	s := &LLMScorer{llmClient: llmClient}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
}

type judgeResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// ScoreBatch implements Scorer
func (s *LLMScorer) ScoreBatch(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return []float32{}, nil
	}

	response, err := s.llmClient.Generate(ctx, buildJudgePrompt(query, texts), llm.GenerateOptions{
		Model:     s.model,
		MaxTokens: 64 + 24*len(texts),
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM scoring failed: %w", err)
	}

	return parseJudgeResponse(response, len(texts))
}

func buildJudgePrompt(query string, texts []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, text := range texts {
		if len(text) > maxJudgeTextLen {
			text = truncate(text, maxJudgeTextLen) + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, text))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func parseJudgeResponse(response string, n int) ([]float32, error) {
	response = strings.TrimSpace(response)

	// Models sometimes wrap the JSON in a markdown code block
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse judge response: %w", err)
	}

	scores := make([]float32, n)
	seen := make([]bool, n)
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n {
			continue
		}
		scores[s.DocIndex] = min(max(s.Score, 0), 1)
		seen[s.DocIndex] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("judge response has no score for doc %d", i)
		}
	}

	return scores, nil
}

var _ Scorer = (*LLMScorer)(nil)
