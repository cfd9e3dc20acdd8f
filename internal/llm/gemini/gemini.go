// Package gemini adapts the Google Generative Language API
// (generativelanguage.googleapis.com v1beta) to llmapi.Provider /
// llmapi.EmbedProvider.
//
// Grounded on the teacher's internal/service/llm/gemini package: same
// klient client, same "key="-query-param auth convention, same
// generateContent/embedContent endpoint shapes. Streaming, function
// calling, and thought-signature handling from the teacher file are
// dropped — out of scope for the router's uniform complete() contract.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ocs/internal/llmapi"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is a native Gemini API adapter.
type Provider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	cost    llmapi.Cost

	client *klient.Client
}

// New creates a Gemini provider.
func New(apiKey, model, baseURL string, cost llmapi.Cost) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{"Content-Type": []string{"application/json"}}),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client for gemini: %w", err)
	}

	return &Provider{
		name:    "gemini",
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
		cost:    cost,
		client:  client,
	}, nil
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) Model() string     { return p.model }
func (p *Provider) Cost() llmapi.Cost { return p.cost }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generateResponse struct {
	Error         *apiError  `json:"error,omitempty"`
	Candidates    []candidate `json:"candidates"`
	UsageMetadata *usage      `json:"usageMetadata,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// Complete sends a single-shot generateContent request.
func (p *Provider) Complete(ctx context.Context, req llmapi.CompleteRequest) (*llmapi.CompleteResult, error) {
	text := req.Prompt
	if req.Content != "" {
		text = req.Prompt + "\n\n" + req.Content
	}

	body := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: text}}},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	path := fmt.Sprintf("/models/%s:generateContent?key=%s", p.model, url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var result generateResponse
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

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	out := &llmapi.CompleteResult{Text: result.Candidates[0].Content.Parts[0].Text}
	if result.UsageMetadata != nil {
		out.Usage = llmapi.Usage{
			TokensIn:  result.UsageMetadata.PromptTokenCount,
			TokensOut: result.UsageMetadata.CandidatesTokenCount,
		}
	}

	return out, nil
}

type embedRequest struct {
	Model   string        `json:"model"`
	Content embedReqParts `json:"content"`
}

type embedReqParts struct {
	Parts []part `json:"parts"`
}

type embedResponse struct {
	Error     *apiError `json:"error,omitempty"`
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding,omitempty"`
}

// Embed generates an embedding via the embedContent endpoint. Gemini's
// embedContent response carries no token usage, so the returned count is
// always 0 and the caller (internal/embedding) falls back to its own
// chars/4 estimator.
func (p *Provider) Embed(ctx context.Context, text string, model string) ([]float32, int, error) {
	if model == "" {
		model = "embedding-001"
	}

	body := embedRequest{
		Model:   "models/" + model,
		Content: embedReqParts{Parts: []part{{Text: text}}},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal embed request: %w", err)
	}

	path := fmt.Sprintf("/models/%s:embedContent?key=%s", model, url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(jsonData))
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

	if result.Embedding == nil {
		return nil, 0, fmt.Errorf("gemini: no embedding returned")
	}

	return result.Embedding.Values, 0, nil
}
