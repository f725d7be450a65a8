package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Options configure the HTTP embedding client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Client computes image embeddings via an HTTP inference service.
// Implements pixelmill.Embedder.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
}

// NewClient creates an embedding client for the given service.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      strings.TrimSpace(opts.APIKey),
		model:      opts.Model,
	}
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Image []byte `json:"image"` // JSON base64-encodes byte slices
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Message   string    `json:"message,omitempty"`
}

// Embed sends the raw image bytes and returns the embedding vector.
func (c *Client) Embed(ctx context.Context, data []byte) ([]float32, error) {
	if c.baseURL == "" {
		return nil, errors.New("embed: base URL is missing")
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Image: data})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings/image", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("embed: http %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return nil, fmt.Errorf("embed error: %s", out.Message)
		}
		return nil, fmt.Errorf("embed: http %d", resp.StatusCode)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("embed: empty embedding")
	}
	return out.Embedding, nil
}
