package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/infrastructure/httpjson"
	"github.com/kirillkom/localrag/internal/infrastructure/modelhandle"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

type Client struct {
	http       *httpjson.Client
	genModel   string
	embedModel string
	pullModels bool
	executor   *resilience.Executor
}

// New builds a client. With pullModels set, a model missing from /api/tags is pulled on first use.
func New(baseURL, genModel, embedModel string, pullModels bool, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		http:       httpjson.New("ollama", baseURL, nil),
		genModel:   genModel,
		embedModel: embedModel,
		pullModels: pullModels,
		executor:   executor,
	}
}

func (c *Client) Name() string { return "ollama" }

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.listModels(ctx)
	return err
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	resp, err := resilience.Call(ctx, c.executor, "ollama.tags", func(ctx context.Context) (tagsResponse, error) {
		var out tagsResponse
		err := c.http.Get(ctx, "/api/tags", &out, "tags")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapUpstream("ollama tags", err, nil)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name, m.Model)
	}
	return names, nil
}

// ensureModel makes sure name is present locally, pulling it when allowed.
func (c *Client) ensureModel(ctx context.Context, name string) (string, error) {
	names, err := c.listModels(ctx)
	if err != nil {
		return "", err
	}
	if hasModel(names, name) {
		return name, nil
	}
	if !c.pullModels {
		return "", domain.WrapError(domain.ErrModelUnavailable, "ollama ensure model", fmt.Errorf("model %q is not installed", name))
	}

	// pulls can take minutes and are not retried
	req := map[string]any{"model": name, "stream": false}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.http.Post(ctx, "/api/pull", req, &resp, "pull"); err != nil {
		return "", resilience.WrapUpstream("ollama pull", err, nil)
	}
	if resp.Status != "" && resp.Status != "success" {
		return "", domain.WrapError(domain.ErrModelUnavailable, "ollama pull", fmt.Errorf("pull %s finished with status %q", name, resp.Status))
	}
	return name, nil
}

func hasModel(installed []string, name string) bool {
	for _, n := range installed {
		if n == name || n == name+":latest" || strings.TrimSuffix(n, ":latest") == name {
			return true
		}
	}
	return false
}

// isModelMissing recognizes Ollama's answer for a model deleted after it was checked.
func isModelMissing(err error) bool {
	var statusErr *resilience.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

type Generator struct {
	client *Client
	model  *modelhandle.Handle[string]
}

func NewGenerator(client *Client) *Generator {
	return &Generator{
		client: client,
		model: modelhandle.New("ollama:"+client.genModel, func(ctx context.Context) (string, error) {
			return client.ensureModel(ctx, client.genModel)
		}),
	}
}

func (g *Generator) Model() string { return g.client.genModel }

func (g *Generator) Name() string { return "generator" }

func (g *Generator) Ping(ctx context.Context) error { return g.client.Ping(ctx) }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	model, err := g.model.Get(ctx)
	if err != nil {
		return "", err
	}

	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
		},
	}
	text, err := resilience.Call(ctx, g.client.executor, "ollama.generate", func(ctx context.Context) (string, error) {
		var resp struct {
			Response string `json:"response"`
		}
		if err := g.client.http.Post(ctx, "/api/generate", req, &resp, "generate"); err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Response), nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		if isModelMissing(err) {
			g.model.Reset()
			return "", domain.WrapError(domain.ErrModelUnavailable, "ollama generate", err)
		}
		return "", resilience.WrapUpstream("ollama generate", err, nil)
	}
	return text, nil
}

type Embedder struct {
	client *Client
	model  *modelhandle.Handle[string]
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{
		client: client,
		model: modelhandle.New("ollama:"+client.embedModel, func(ctx context.Context) (string, error) {
			return client.ensureModel(ctx, client.embedModel)
		}),
	}
}

func (e *Embedder) Model() string { return e.client.embedModel }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model, err := e.model.Get(ctx)
	if err != nil {
		return nil, err
	}

	request := map[string]any{
		"model": model,
		"input": texts,
	}
	vectors, err := resilience.Call(ctx, e.client.executor, "ollama.embed", func(ctx context.Context) ([][]float32, error) {
		var response struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := e.client.http.Post(ctx, "/api/embed", request, &response, "embed"); err != nil {
			return nil, err
		}
		return response.Embeddings, nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		if isModelMissing(err) {
			e.model.Reset()
			return nil, domain.WrapError(domain.ErrModelUnavailable, "ollama embed", err)
		}
		return nil, resilience.WrapUpstream("ollama embed", err, nil)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "ollama embed",
			fmt.Errorf("vectors/texts mismatch: %d/%d", len(vectors), len(texts)))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
