// Package ocr turns an image data URI into raw text using a hosted OCR model.
package ocr

import (
	"context"
	"log/slog"
	"time"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

type Config struct {
	Model string // hosted OCR model identifier, "owner/name[:version]"
}

type Extractor struct {
	cfg     Config
	backend inference.SynchronousInference
	logger  *slog.Logger
}

func NewExtractor(cfg Config, backend inference.SynchronousInference, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = common.DefaultOCRModel
	}
	return &Extractor{cfg: cfg, backend: backend, logger: logger}
}

// ExtractText sends {image: dataURI} to the OCR model and returns its text verbatim.
// Any failure is a REMOTE_SERVICE_ERROR; retries are the caller's concern.
func (e *Extractor) ExtractText(ctx context.Context, dataURI string) (string, error) {
	start := time.Now()
	attrs := common.LogAttrs(ctx)
	e.logger.Info("ocr.extract.start", append(attrs, "model", e.cfg.Model, "uri_len", len(dataURI))...)

	text, err := e.backend.Run(ctx, e.cfg.Model, map[string]any{"image": dataURI})
	if err != nil {
		e.logger.Error("ocr.extract.error", append(attrs, "error", err, "elapsed_ms", time.Since(start).Milliseconds())...)
		return "", common.RemoteServiceError("ocr inference failed", err)
	}

	e.logger.Info("ocr.extract.ok", append(attrs,
		"text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)...)
	return text, nil
}

// WithProvenance prefixes OCR text with the file it came from, so the structuring
// step can recover original_filename even when the model drops it.
func WithProvenance(filename, text string) string {
	return "original_filename: " + filename + "\n" + text
}
