// Package rerank talks to a cross-encoder scoring service over HTTP.
// The wire format is the /v1/rerank shape served by Infinity and TEI.
package rerank

import (
	"context"
	"fmt"
	"math"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/infrastructure/httpjson"
	"github.com/kirillkom/localrag/internal/infrastructure/modelhandle"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

type Client struct {
	http     *httpjson.Client
	model    string
	sigmoid  bool
	executor *resilience.Executor
	ready    *modelhandle.Handle[string]
}

// New builds a client for model. With sigmoid set, raw logits from the server are squashed into [0, 1].
func New(baseURL, model string, sigmoid bool, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	c := &Client{
		http:     httpjson.New("reranker", baseURL, nil),
		model:    model,
		sigmoid:  sigmoid,
		executor: executor,
	}
	c.ready = modelhandle.New("reranker:"+model, func(ctx context.Context) (string, error) {
		if err := c.Ping(ctx); err != nil {
			return "", err
		}
		return model, nil
	})
	return c
}

func (c *Client) Model() string { return c.model }

func (c *Client) Name() string { return "reranker" }

func (c *Client) Ping(ctx context.Context) error {
	err := c.executor.Execute(ctx, "reranker.health", func(ctx context.Context) error {
		return c.http.Get(ctx, "/health", nil, "health")
	}, resilience.ClassifyHTTP)
	return resilience.WrapUpstream("reranker health", err, nil)
}

type rerankRequest struct {
	Model           string   `json:"model,omitempty"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score returns one score per passage, in passage order.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}
	if _, err := c.ready.Get(ctx); err != nil {
		return nil, err
	}

	req := rerankRequest{Model: c.model, Query: query, Documents: passages}
	resp, err := resilience.Call(ctx, c.executor, "reranker.rerank", func(ctx context.Context) (rerankResponse, error) {
		var out rerankResponse
		err := c.http.Post(ctx, "/v1/rerank", req, &out, "rerank")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapUpstream("reranker score", err, nil)
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(passages) || seen[r.Index] {
			return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "reranker score", fmt.Errorf("invalid result index %d", r.Index))
		}
		seen[r.Index] = true
		scores[r.Index] = c.normalize(r.RelevanceScore)
	}
	if len(resp.Results) != len(passages) {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "reranker score",
			fmt.Errorf("got %d scores for %d passages", len(resp.Results), len(passages)))
	}
	return scores, nil
}

// normalize maps raw cross-encoder logits through a sigmoid. With the sigmoid disabled
// the server must already return scores in [0, 1]; anything outside is clamped.
func (c *Client) normalize(score float64) float64 {
	if c.sigmoid {
		return 1 / (1 + math.Exp(-score))
	}
	return math.Max(0, math.Min(1, score))
}
