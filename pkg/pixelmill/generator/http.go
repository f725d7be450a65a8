package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
)

// Options configure the HTTP generation client.
type Options struct {
	BaseURL      string
	APIKey       string
	Model        string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// Client talks to an asynchronous text-to-image backend over HTTP: one
// submit call returns a task id, then the task is polled on a fixed
// interval until it finishes. Implements pixelmill.Generator.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	model        string
	pollInterval time.Duration
}

// NewClient creates a generation client for the given backend.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Client{
		httpClient:   client,
		baseURL:      base,
		token:        strings.TrimSpace(opts.APIKey),
		model:        opts.Model,
		pollInterval: interval,
	}
}

type submitRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Steps          int    `json:"steps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	BatchSize      int    `json:"batch_size"`
}

type submitResponse struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type taskResponse struct {
	Status string `json:"status"` // pending, running, succeeded, failed
	Images []struct {
		Data       string   `json:"data"` // base64-encoded
		SafetyTags []string `json:"safety_tags,omitempty"`
	} `json:"images,omitempty"`
	Model   string `json:"model,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Generate submits the request and polls until the backend reports a
// terminal task state. A cancelled context aborts the poll loop and returns
// an error wrapping pixelmill.ErrGenerationCancelled.
func (c *Client) Generate(ctx context.Context, params pixelmill.GenerateParams) (*pixelmill.GenerationResult, error) {
	if c.baseURL == "" {
		return nil, errors.New("generator: base URL is missing")
	}

	taskID, err := c.submit(ctx, params)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", pixelmill.ErrGenerationCancelled, ctx.Err())
		case <-ticker.C:
		}

		task, err := c.poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", pixelmill.ErrGenerationCancelled, ctx.Err())
			}
			return nil, err
		}

		switch task.Status {
		case "succeeded":
			return decodeTaskImages(task)
		case "failed":
			if task.Message != "" {
				return nil, fmt.Errorf("generator error: %s (%s)", task.Message, task.Code)
			}
			return nil, errors.New("generator: task failed")
		}
	}
}

func (c *Client) submit(ctx context.Context, params pixelmill.GenerateParams) (string, error) {
	payload := submitRequest{
		Model:          c.model,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Seed:           params.Seed,
		Steps:          params.Steps,
		Width:          params.Width,
		Height:         params.Height,
		BatchSize:      params.BatchSize,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("generator: http %d", resp.StatusCode)
		}
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("generator error: %s (%s)", out.Message, out.Code)
		}
		return "", fmt.Errorf("generator: http %d", resp.StatusCode)
	}
	if out.TaskID == "" {
		return "", errors.New("generator: missing task id")
	}
	return out.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("generator: http %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return nil, fmt.Errorf("generator error: %s (%s)", out.Message, out.Code)
		}
		return nil, fmt.Errorf("generator: http %d", resp.StatusCode)
	}
	return &out, nil
}

func decodeTaskImages(task *taskResponse) (*pixelmill.GenerationResult, error) {
	if len(task.Images) == 0 {
		return nil, errors.New("generator: empty response")
	}

	result := &pixelmill.GenerationResult{ModelName: task.Model}
	for i, img := range task.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, fmt.Errorf("generator: decode image %d: %w", i, err)
		}
		result.Images = append(result.Images, pixelmill.GeneratedImage{
			Data:       data,
			SafetyTags: img.SafetyTags,
		})
	}
	return result, nil
}
