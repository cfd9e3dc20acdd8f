// Package openai adapts any OpenAI-compatible chat-completions + embeddings
// API (OpenAI itself, OpenRouter, DeepSeek, Groq, Ollama, ...) to the
// llmapi.Provider / llmapi.EmbedProvider interfaces.
//
// Grounded on the teacher's internal/service/llm/openai package: same
// klient-based HTTP client setup, same request/response JSON shapes. The
// streaming/tool-calling/Copilot-auth surface of the teacher file is
// dropped — the router only needs a single-shot complete() adapter
// (spec §4.5, §6 "the router only requires a uniform complete(...) adapter
// per provider").
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ocs/internal/llmapi"
)

const (
	DefaultChatURL  = "https://api.openai.com/v1/chat/completions"
	DefaultEmbedURL = "https://api.openai.com/v1/embeddings"
)

// Provider is a chat-completions + embeddings adapter for any
// OpenAI-compatible API.
type Provider struct {
	name     string
	model    string
	embedURL string
	cost     llmapi.Cost

	client *klient.Client
}

// New creates an OpenAI-compatible provider. name is a short label used in
// cost accounting and log lines (e.g. "openrouter", "deepseek").
func New(name, apiKey, model, baseURL, embedURL string, cost llmapi.Cost, extraHeaders map[string]string) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultChatURL
	}
	if embedURL == "" {
		embedURL = DefaultEmbedURL
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}
	for k, v := range extraHeaders {
		headers[k] = []string{v}
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client for %s: %w", name, err)
	}

	return &Provider{
		name:     name,
		model:    model,
		embedURL: embedURL,
		cost:     cost,
		client:   client,
	}, nil
}

func (p *Provider) Name() string       { return p.name }
func (p *Provider) Model() string      { return p.model }
func (p *Provider) Cost() llmapi.Cost  { return p.cost }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Error   *apiError `json:"error,omitempty"`
	Choices []choice  `json:"choices"`
	Usage   *usage    `json:"usage,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

type choice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends a single-shot completion request built from prompt+content.
func (p *Provider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	content := req.Prompt
	if req.Content != "" {
		content = req.Prompt + "\n\n" + req.Content
	}

	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "user", Content: content},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var result chatResponse
	var status int

	if err := p.client.Do(httpReq, func(r *http.Response) error {
		status = r.StatusCode

		bodyData, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}

		if r.StatusCode >= 300 {
			return &llmapi.ProviderHTTPError{Status: r.StatusCode, Body: string(bodyData)}
		}

		if err := json.Unmarshal(bodyData, &result); err != nil {
			return fmt.Errorf("decode response: %w (body: %s)", err, string(bodyData))
		}

		return nil
	}); err != nil {
		return nil, err
	}

	if result.Error != nil {
		return nil, &llmapi.ProviderHTTPError{Status: status, Body: result.Error.Message}
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%s: no response choices", p.name)
	}

	out := &llmapi.CompleteResult{Text: result.Choices[0].Message.Content}
	if result.Usage != nil {
		out.Usage = llmapi.Usage{
			TokensIn:  result.Usage.PromptTokens,
			TokensOut: result.Usage.CompletionTokens,
		}
	}

	return out, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Error *apiError    `json:"error,omitempty"`
	Data  []embedDatum `json:"data"`
	Usage *usage       `json:"usage,omitempty"`
}

type embedDatum struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding vector via the OpenAI-compatible /embeddings
// endpoint. Returns the vector and the provider-reported input token count.
func (p *Provider) Embed(ctx context.Context, text string, model string) ([]float32, int, error) {
	if model == "" {
		model = p.model
	}

	jsonData, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.embedURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("build embed request: %w", err)
	}

	var result embedResponse

	if err := p.client.Do(httpReq, func(r *http.Response) error {
		bodyData, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}

		if r.StatusCode >= 300 {
			return &llmapi.ProviderHTTPError{Status: r.StatusCode, Body: string(bodyData)}
		}

		return json.Unmarshal(bodyData, &result)
	}); err != nil {
		return nil, 0, err
	}

	if result.Error != nil {
		return nil, 0, &llmapi.ProviderHTTPError{Body: result.Error.Message}
	}

	if len(result.Data) == 0 {
		return nil, 0, fmt.Errorf("%s: no embedding returned", p.name)
	}

	tokensIn := 0
	if result.Usage != nil {
		tokensIn = result.Usage.PromptTokens
	}

	return result.Data[0].Embedding, tokensIn, nil
}
