// Package gemini provides a Gemini streaming structuring backend.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

// Models is the part of *genai.Models the backend uses.
type Models interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	models Models
	logger *slog.Logger
}

// NewClient builds a Gemini API (not Vertex) client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return NewClientWithModels(gc.Models, logger), nil
}

func NewClientWithModels(models Models, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{models: models, logger: logger}
}

// Stream implements inference.StreamingInference. The image travels as inline bytes.
func (c *Client) Stream(ctx context.Context, model string, req inference.StreamRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rid := uuid.New().String()
		start := time.Now()
		c.logger.Info("llm.gemini.stream.start", "req_id", rid, "model", model, "prompt_len", len(req.Prompt), "image_bytes", len(req.Image))

		contents, config := buildRequest(req)
		chunks := 0
		for resp, err := range c.models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				c.logger.Error("llm.gemini.stream.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
				yield("", err)
				return
			}
			if resp == nil {
				continue
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				return
			}
		}
		c.logger.Info("llm.gemini.stream.done", "req_id", rid, "chunks", chunks, "elapsed_ms", time.Since(start).Milliseconds())
	}
}

func buildRequest(req inference.StreamRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.ImageMIME))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	// presence penalty is left out; not every Gemini model accepts it.
	config := &genai.GenerateContentConfig{}
	if req.Options.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Options.Temperature))
	}
	if req.Options.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	return contents, config
}
