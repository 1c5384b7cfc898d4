package openai

import (
	"log/slog"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// Config for the OpenAI-compatible streaming provider.
type Config struct {
	APIKey  string
	BaseURL string // default https://api.openai.com/v1; any chat/completions compatible server works
	// MaxRetries is the SDK's own transport retry count. The pipeline retries
	// whole documents, so this defaults to 0.
	MaxRetries int
	HTTPClient *http.Client
}

// Client streams chat completions with the image attached as a data URL.
type Client struct {
	client openai.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(cfg.APIKey),
		openaiopt.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openaiopt.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{
		client: openai.NewClient(opts...),
		logger: logger,
	}
}
