// Package openai implements a minimal client for OpenAI-compatible chat
// completion and embedding endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://api.openai.com"
	DefaultChatModel  = "gpt-4o-mini"
	DefaultEmbedModel = "text-embedding-3-small"

	// EmbeddingDimensions is the vector width of the default embedding model.
	EmbeddingDimensions = 1536

	chatTimeout  = 120 * time.Second
	embedTimeout = 30 * time.Second
)

// Message represents a chat message in the OpenAI API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingParams are the completion sampling knobs. They are always sent
// explicitly rather than relying on provider defaults.
type SamplingParams struct {
	Temperature      float64 `json:"temperature"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

// Client communicates with an OpenAI-compatible API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given base URL and API key.
// If httpClient is nil, a default client is used; per-call timeouts are
// applied via context regardless.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// chatRequest is the JSON body for POST /v1/chat/completions.
type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	PresencePenalty  float64   `json:"presence_penalty"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

// chatResponse is the JSON returned by POST /v1/chat/completions.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages to the given model and returns the assistant's response.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, params SamplingParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	cr := chatRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      params.Temperature,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	var result chatResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", cr, &result); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices array")
	}
	return result.Choices[0].Message.Content, nil
}

// embedRequest is the JSON body for POST /v1/embeddings.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the JSON returned by POST /v1/embeddings.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text using the specified model.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var result embedResponse
	if err := c.postJSON(ctx, "/v1/embeddings", embedRequest{Model: model, Input: text}, &result); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty data array")
	}
	return result.Data[0].Embedding, nil
}

// postJSON sends a JSON body and decodes a JSON response, surfacing the API
// error message on non-2xx statuses.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
