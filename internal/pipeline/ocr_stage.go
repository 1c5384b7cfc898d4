package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/ocr"
)

// TextExtractor is the OCR capability the stage needs.
type TextExtractor interface {
	ExtractText(ctx context.Context, dataURI string) (string, error)
}

type OCRStage struct {
	OCR     TextExtractor
	Retry   RetryPolicy
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOCRStage(tx TextExtractor, retry RetryPolicy, timeout time.Duration, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{OCR: tx, Retry: retry, Timeout: timeout, Logger: logger}
}

// Run extracts the text of one prepared image and tags it with the file name.
func (s *OCRStage) Run(ctx context.Context, filename, dataURI string) (string, error) {
	text, err := callRemote(ctx, s.Retry, s.Timeout, s.Logger, "pipeline.ocr", func(ctx context.Context) (string, error) {
		return s.OCR.ExtractText(ctx, dataURI)
	})
	if err != nil {
		return "", err
	}
	return ocr.WithProvenance(filename, text), nil
}
