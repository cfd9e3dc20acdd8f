// Package anthropic adapts the Anthropic Messages API to llmapi.Provider.
//
// Grounded on the teacher's internal/service/llm/anthropic package: same
// klient client construction and x-api-key/anthropic-version header
// convention. Anthropic has no public embeddings endpoint, so this
// provider does not implement llmapi.EmbedProvider and cmd/ocs leaves it out
// of the Embedding Client's provider chain.
package anthropic

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
	DefaultBaseURL = "https://api.anthropic.com/v1/messages"
	apiVersion     = "2023-06-01"
	defaultMaxTok  = 4096
)

// Provider is an Anthropic Messages API adapter.
type Provider struct {
	name      string
	model     string
	maxTokens int
	cost      llmapi.Cost

	client *klient.Client
}

// New creates an Anthropic provider.
func New(apiKey, model, baseURL string, maxTokens int, cost llmapi.Cost) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTok
	}

	headers := http.Header{
		"Content-Type":      []string{"application/json"},
		"x-api-key":         []string{apiKey},
		"anthropic-version": []string{apiVersion},
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client for anthropic: %w", err)
	}

	return &Provider{
		name:      "anthropic",
		model:     model,
		maxTokens: maxTokens,
		cost:      cost,
		client:    client,
	}, nil
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) Model() string     { return p.model }
func (p *Provider) Cost() llmapi.Cost { return p.cost }

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Error      *apiError      `json:"error,omitempty"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *usage         `json:"usage,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a single-shot message request built from prompt+content.
func (p *Provider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	content := req.Prompt
	if req.Content != "" {
		content = req.Prompt + "\n\n" + req.Content
	}

	body := messageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []message{
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

	var result messageResponse
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

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if text == "" {
		return nil, fmt.Errorf("anthropic: no text content in response")
	}

	out := &llmapi.CompleteResult{Text: text}
	if result.Usage != nil {
		out.Usage = llmapi.Usage{
			TokensIn:  result.Usage.InputTokens,
			TokensOut: result.Usage.OutputTokens,
		}
	}

	return out, nil
}
