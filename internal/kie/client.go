package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/SmachnoBot/internal/config"
	"github.com/digkill/SmachnoBot/internal/models"
)

type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
}

// DessertOptions describes one image-to-image restyling of a dessert photo.
type DessertOptions struct {
	Description string
	Style       models.Style
	Wishes      string
	InputURL    string
	Variant     int
}

type Image struct {
	URL   string
	Bytes []byte
	Mime  string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	trimmedBase := strings.TrimRight(cfg.KIEBaseURL, "/")
	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: trimmedBase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:          log,
		pollInterval: 2 * time.Second,
		maxAttempts:  60,
	}
}

// GenerateDessert restyles the photo at opts.InputURL into an Instagram-ready
// square shot. Without an input image it falls back to text-to-image.
func (c *Client) GenerateDessert(ctx context.Context, opts DessertOptions) (*Image, error) {
	input := map[string]any{
		"prompt":        BuildDessertPrompt(opts),
		"aspect_ratio":  "1:1",
		"resolution":    "1K",
		"output_format": "png",
	}
	if opts.InputURL != "" {
		input["image_input"] = []string{opts.InputURL}
	}

	return c.postAsync(ctx, map[string]any{
		"model": "nano-banana-pro",
		"input": input,
	})
}

// postAsync creates a task and polls it until it settles.
func (c *Client) postAsync(ctx context.Context, payload map[string]any) (*Image, error) {
	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return c.pollTaskStatus(ctx, taskID)
}

// createTask returns the id of the queued task.
func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse("/api/v1/jobs/createTask")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	fullURL := baseURL.ResolveReference(endpoint).String()

	if c.log != nil {
		c.log.Info("creating KIE task", "url", fullURL, "model", getModelFromPayload(payload))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE create task failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}

	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}

	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	}

	return createResp.Data.TaskID, nil
}

// pollTaskStatus waits for a terminal task state.
func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (*Image, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse("/api/v1/jobs/recordInfo")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	params := url.Values{}
	params.Set("taskId", taskID)
	endpoint.RawQuery = params.Encode()
	fullURL := baseURL.ResolveReference(endpoint).String()

	maxAttempts := c.maxAttempts
	pollInterval := c.pollInterval

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}

		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode >= 300 {
			if c.log != nil {
				c.log.Error("KIE poll task status failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
			}
			return nil, fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, fullURL, truncateBody(rawBody))
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				TaskID     string `json:"taskId"`
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}

		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}

		if statusResp.Code != 200 {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		state := statusResp.Data.State
		switch state {
		case "success":
			if statusResp.Data.ResultJSON == "" {
				return nil, fmt.Errorf("empty resultJson in success response")
			}

			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return nil, fmt.Errorf("parse resultJson: %w", err)
			}

			if len(result.ResultURLs) == 0 {
				return nil, fmt.Errorf("no resultUrls in result")
			}

			if c.log != nil {
				c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			}

			return &Image{URL: result.ResultURLs[0]}, nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			if c.log != nil {
				c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			}
			return nil, fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", maxAttempts)
			}
			if attempt < maxAttempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(pollInterval):
					continue
				}
			}
			return nil, fmt.Errorf("task timeout after %d attempts", maxAttempts)

		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}
	}

	return nil, fmt.Errorf("task timeout after %d attempts", maxAttempts)
}

func getModelFromPayload(payload map[string]any) string {
	if model, ok := payload["model"].(string); ok {
		return model
	}
	return "unknown"
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
