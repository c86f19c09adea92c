package tiers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"InferCore/internal/domain/models"
	httpclient "InferCore/pkg/http"
)

// completionRequest is the wire request sent to an inference backend. The
// backend receives the skeleton and the base64 record payload separately so
// it can ignore the payload when the skeleton summary suffices.
type completionRequest struct {
	Model     string `json:"model"`
	Skeleton  string `json:"skeleton"`
	Payload   string `json:"payload"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
	Model  string `json:"model"`
}

// HTTPClient adapts one inference backend endpoint to the tier-client port.
type HTTPClient struct {
	profile models.TierProfile
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

// NewHTTPClient builds a client for one tier. apiKeyEnv names the environment
// variable holding the bearer token; empty means unauthenticated.
func NewHTTPClient(profile models.TierProfile, baseURL, apiKeyEnv string) *HTTPClient {
	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	apiKey := ""
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
	}
	return &HTTPClient{
		profile: profile,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpclient.NewClient(httpclient.WithTimeout(timeout)),
	}
}

func (c *HTTPClient) Tier() models.TierID { return c.profile.ID }

// Complete posts the prompt to the backend and returns its completion.
func (c *HTTPClient) Complete(ctx context.Context, prompt *models.CompressedPrompt) (*models.Completion, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	started := time.Now()
	var resp completionResponse
	err := c.client.SendAndParse(ctx, &httpclient.RequestOptions{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/v1/completions",
		Headers: headers,
		Body: &completionRequest{
			Model:     c.profile.Model,
			Skeleton:  prompt.Skeleton,
			Payload:   prompt.Payload,
			MaxTokens: c.profile.MaxTokens,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tier %s complete: %w", c.profile.ID, err)
	}

	model := resp.Model
	if model == "" {
		model = c.profile.Model
	}
	return &models.Completion{
		Text:      resp.Text,
		Tokens:    resp.Tokens,
		Model:     model,
		LatencyMS: time.Since(started).Milliseconds(),
	}, nil
}
