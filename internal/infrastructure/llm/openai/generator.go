// Package openai is a generator backend for OpenAI-compatible chat completion servers (vLLM, llama.cpp, TGI).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/infrastructure/modelhandle"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

type Generator struct {
	client   *openai.Client
	model    string
	executor *resilience.Executor
	handle   *modelhandle.Handle[string]
}

func NewGenerator(baseURL, apiKey, model string, executor *resilience.Executor) *Generator {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	g := &Generator{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		executor: executor,
	}
	g.handle = modelhandle.New("openai:"+model, g.checkModel)
	return g
}

func (g *Generator) Model() string { return g.model }

func (g *Generator) Name() string { return "generator" }

func (g *Generator) Ping(ctx context.Context) error {
	_, err := g.listModels(ctx)
	return err
}

func (g *Generator) listModels(ctx context.Context) ([]string, error) {
	list, err := resilience.Call(ctx, g.executor, "openai.models", func(ctx context.Context) (openai.ModelsList, error) {
		return g.client.ListModels(ctx)
	}, classifyOpenAIError)
	if err != nil {
		return nil, resilience.WrapUpstream("openai list models", err, classifyOpenAIError)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// checkModel confirms the server serves the configured model. Servers cannot pull models on demand.
func (g *Generator) checkModel(ctx context.Context) (string, error) {
	ids, err := g.listModels(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if id == g.model {
			return id, nil
		}
	}
	return "", domain.WrapError(domain.ErrModelUnavailable, "openai check model",
		fmt.Errorf("model %q not served (available: %s)", g.model, strings.Join(ids, ", ")))
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	model, err := g.handle.Get(ctx)
	if err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
	}

	resp, err := resilience.Call(ctx, g.executor, "openai.chat", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return g.client.CreateChatCompletion(ctx, req)
	}, classifyOpenAIError)
	if err != nil {
		return "", resilience.WrapUpstream("openai chat completion", err, classifyOpenAIError)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrUpstreamUnavailable, "openai chat completion", errors.New("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return resilience.ClassifyHTTP(err)
	}
	if resilience.IsRetryableHTTPStatus(status) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
}
