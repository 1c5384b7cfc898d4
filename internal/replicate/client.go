// Package replicate is a minimal client for the Replicate predictions API.
// It implements both inference capabilities: Run (wait + poll) and Stream (SSE).
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL      = "https://api.replicate.com"
	defaultPollInterval = 500 * time.Millisecond
)

// Prediction statuses.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Client talks to Replicate over HTTP with a bearer token.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default client. Streams are long lived, so it should not set a short Timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		token:        token,
		http:         &http.Client{},
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prediction is the subset of the prediction resource the client reads.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Stream string `json:"stream"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Terminal reports whether the prediction will not change any more.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// APIError is a non-2xx response from Replicate.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Body)
}

// PredictionError is a prediction that ended failed or canceled.
type PredictionError struct {
	ID     string
	Status string
	Detail string
}

func (e *PredictionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("replicate: prediction %s %s", e.ID, e.Status)
	}
	return fmt.Sprintf("replicate: prediction %s %s: %s", e.ID, e.Status, e.Detail)
}

// createPrediction posts a prediction. "owner/name:version" goes to the versioned
// endpoint, "owner/name" to the official model endpoint.
func (c *Client) createPrediction(ctx context.Context, model string, input map[string]any, stream bool, reqID string) (*Prediction, error) {
	body := map[string]any{"input": input}
	if stream {
		body["stream"] = true
	}

	var url string
	if _, version, ok := strings.Cut(model, ":"); ok {
		if version == "" {
			return nil, fmt.Errorf("replicate: empty version in model %q", model)
		}
		body["version"] = version
		url = c.baseURL + "/v1/predictions"
	} else {
		owner, modelName, ok := strings.Cut(model, "/")
		if !ok || owner == "" || modelName == "" {
			return nil, fmt.Errorf("replicate: model must be owner/name[:version], got %q", model)
		}
		url = c.baseURL + "/v1/models/" + owner + "/" + modelName + "/predictions"
	}

	headers := map[string]string{}
	if !stream {
		headers["Prefer"] = "wait"
	}

	var p Prediction
	if err := c.doJSON(ctx, http.MethodPost, url, body, headers, &p, reqID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) getPrediction(ctx context.Context, url, reqID string) (*Prediction, error) {
	var p Prediction
	if err := c.doJSON(ctx, http.MethodGet, url, nil, nil, &p, reqID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any, headers map[string]string, out any, reqID string) error {
	start := time.Now()

	var rd io.Reader
	var contentLength int
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			c.logger.Error("replicate.http.encode_error", "req_id", reqID, "error", err)
			return fmt.Errorf("encode json: %w", err)
		}
		rd = bytes.NewReader(bs)
		contentLength = len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("replicate.http.request", "req_id", reqID, "method", method, "url", url, "content_length", contentLength)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("replicate.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("replicate.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("replicate.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode prediction: %w", err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "vetrecords/1.0")
}

// Run creates a prediction, waits for it to finish and returns its output as text.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (string, error) {
	reqID := uuid.New().String()
	start := time.Now()
	c.logger.Info("replicate.run.start", "req_id", reqID, "model", model)

	p, err := c.createPrediction(ctx, model, input, false, reqID)
	if err != nil {
		return "", err
	}

	for !p.Terminal() {
		if p.URLs.Get == "" {
			return "", fmt.Errorf("replicate: prediction %s has no poll url", p.ID)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if p, err = c.getPrediction(ctx, p.URLs.Get, reqID); err != nil {
			return "", err
		}
	}

	if p.Status != StatusSucceeded {
		c.logger.Warn("replicate.run.unsuccessful", "req_id", reqID, "prediction_id", p.ID, "status", p.Status)
		return "", &PredictionError{ID: p.ID, Status: p.Status, Detail: errorDetail(p.Error)}
	}

	out, err := OutputText(p.Output)
	if err != nil {
		return "", err
	}
	c.logger.Info("replicate.run.ok",
		"req_id", reqID,
		"prediction_id", p.ID,
		"output_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// OutputText flattens a prediction output: a string is returned as is,
// a list of strings is concatenated, null is empty, anything else is compact JSON.
func OutputText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(trimmed, &parts); err == nil {
		return strings.Join(parts, ""), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("replicate: unreadable output: %w", err)
	}
	return buf.String(), nil
}

func errorDetail(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		bs, _ := json.Marshal(e)
		return string(bs)
	}
}
