package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/infrastructure/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithResilience(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classifier implements document classification over the chat endpoint.
// The model is asked for a single JSON object; its fields are normalized
// onto the closed enumerations before anything is persisted.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

type modelClassification struct {
	DocumentType string  `json:"document_type"`
	Confidence   float64 `json:"confidence"`
	Entities     []struct {
		Type       string  `json:"type"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Risk     string `json:"risk_level"`
	Priority string `json:"priority"`
}

func (c *Classifier) Classify(ctx context.Context, text string) (*domain.ClassificationResult, error) {
	raw, err := c.client.chat(ctx, classificationSystemPrompt, buildClassificationPrompt(text))
	if err != nil {
		return nil, err
	}

	var parsed modelClassification
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse classification json: %w", err)
	}

	res := &domain.ClassificationResult{
		DocumentType: domain.NormalizeDocumentType(parsed.DocumentType),
		Confidence:   clampConfidence(parsed.Confidence),
		Entities:     make([]domain.Entity, 0, len(parsed.Entities)),
		Risk:         domain.NormalizeRisk(parsed.Risk),
		Priority:     domain.NormalizePriority(parsed.Priority),
	}
	for _, e := range parsed.Entities {
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		res.Entities = append(res.Entities, domain.Entity{
			Type:       e.Type,
			Value:      e.Value,
			Confidence: clampConfidence(e.Confidence),
		})
	}
	return res, nil
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	request := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/chat/completions", request, &response, "chat")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "llm.chat", call, classifyLLMError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("llm chat", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
