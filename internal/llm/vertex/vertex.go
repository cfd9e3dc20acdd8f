// Package vertex adapts the Vertex AI generateContent API to
// llmapi.Provider, authenticating via Application Default Credentials
// instead of a static API key.
//
// Grounded on the teacher's internal/service/llm/vertex package: same
// golang.org/x/oauth2/google ADC token source and same
// {location}-aiplatform.googleapis.com publisher-model URL shape. The
// request/response JSON bodies are the same generateContent shape as
// internal/llm/gemini, since Vertex's Gemini models speak the same wire
// format as the public Generative Language API.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ocs/internal/llmapi"
)

const scope = "https://www.googleapis.com/auth/cloud-platform"

// Provider is a Vertex AI generateContent adapter.
type Provider struct {
	name     string
	model    string
	project  string
	location string
	tokenSrc oauth2.TokenSource
	cost     llmapi.Cost

	client *klient.Client
}

// New creates a Vertex AI provider. Credentials are resolved via
// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS, gcloud
// ADC, or workload identity), matching the teacher's adapter.
func New(ctx context.Context, project, location, model string, cost llmapi.Cost) (*Provider, error) {
	creds, err := google.FindDefaultCredentials(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve application default credentials: %w", err)
	}

	baseURL := fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location)

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{"Content-Type": []string{"application/json"}}),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client for vertex: %w", err)
	}

	return &Provider{
		name:     "vertex",
		model:    model,
		project:  project,
		location: location,
		tokenSrc: creds.TokenSource,
		cost:     cost,
		client:   client,
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
	Error      *apiError   `json:"error,omitempty"`
	Candidates []candidate `json:"candidates"`
	UsageMeta  *usage      `json:"usageMetadata,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type candidate struct {
	Content content `json:"content"`
}

type usage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// Complete sends a single-shot generateContent request against the
// project/location-scoped publisher-model endpoint.
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

	path := fmt.Sprintf("/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		p.project, p.location, p.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	token, err := p.tokenSrc.Token()
	if err != nil {
		return nil, fmt.Errorf("fetch adc token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

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
		return nil, fmt.Errorf("vertex: no candidates in response")
	}

	out := &llmapi.CompleteResult{Text: result.Candidates[0].Content.Parts[0].Text}
	if result.UsageMeta != nil {
		out.Usage = llmapi.Usage{
			TokensIn:  result.UsageMeta.PromptTokenCount,
			TokensOut: result.UsageMeta.CandidatesTokenCount,
		}
	}

	return out, nil
}
