// Package ollama adapts an Ollama server into the embedding, relevance
// scoring and answer generation capabilities consumed by the core.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/resilience"
)

type Options struct {
	EmbedTimeout    time.Duration
	ScoreTimeout    time.Duration
	GenerateTimeout time.Duration

	// Requests per second against the model server; zero means unlimited.
	RateLimitPerSecond float64
	RateLimitBurst     int

	ResilienceExecutor *resilience.Executor
}

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor

	embedTimeout    time.Duration
	scoreTimeout    time.Duration
	generateTimeout time.Duration
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	limit := rate.Inf
	burst := opts.RateLimitBurst
	if opts.RateLimitPerSecond > 0 {
		limit = rate.Limit(opts.RateLimitPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	embedTimeout := opts.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 60 * time.Second
	}
	scoreTimeout := opts.ScoreTimeout
	if scoreTimeout <= 0 {
		scoreTimeout = 30 * time.Second
	}
	generateTimeout := opts.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 120 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		genModel:        genModel,
		embedModel:      embedModel,
		httpClient:      &http.Client{},
		limiter:         rate.NewLimiter(limit, burst),
		executor:        opts.ResilienceExecutor,
		embedTimeout:    embedTimeout,
		scoreTimeout:    scoreTimeout,
		generateTimeout: generateTimeout,
	}
}

func (c *Client) call(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limited := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	}
	if c.executor != nil {
		return c.executor.Execute(callCtx, operation, limited, classifyOllamaError)
	}
	return limited(callCtx)
}

// Embedder implements ports.Embedder.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.call(ctx, "ollama.embed", e.client.embedTimeout, func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(response.Embeddings), len(texts)))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", errors.New("empty embedding result"))
	}
	return vectors[0], nil
}

// Scorer implements ports.RelevanceScorer with an LLM-as-judge prompt.
type Scorer struct {
	client *Client
}

func NewScorer(client *Client) *Scorer {
	return &Scorer{client: client}
}

func (s *Scorer) Score(ctx context.Context, query, passage string) (float64, error) {
	raw, err := s.client.generateJSON(ctx, "ollama.score", s.client.scoreTimeout, buildScorePrompt(query, passage))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return 0, fmt.Errorf("parse relevance score: %w", err)
	}
	return parsed.Score, nil
}

// Generator implements ports.AnswerGenerator.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, citations []domain.Citation) (string, error) {
	text, err := g.client.generateText(ctx, "ollama.generate", g.client.generateTimeout, buildAnswerPrompt(question, citations))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.WrapError(domain.ErrGenerationTimeout, "generate answer", err)
		}
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return text, nil
}

func (c *Client) generateJSON(ctx context.Context, operation string, timeout time.Duration, prompt string) (string, error) {
	return c.generate(ctx, operation, timeout, map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (c *Client) generateText(ctx context.Context, operation string, timeout time.Duration, prompt string) (string, error) {
	return c.generate(ctx, operation, timeout, map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) generate(ctx context.Context, operation string, timeout time.Duration, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	err := c.call(ctx, operation, timeout, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, operation)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
