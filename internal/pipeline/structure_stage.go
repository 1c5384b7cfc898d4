package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/llm"
)

type StructureStage struct {
	Extractor llm.RecordExtractor
	Retry     RetryPolicy
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewStructureStage(ex llm.RecordExtractor, retry RetryPolicy, timeout time.Duration, logger *slog.Logger) *StructureStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructureStage{Extractor: ex, Retry: retry, Timeout: timeout, Logger: logger}
}

// Run turns OCR text plus the source image into one record. Each retry
// restarts the stream from scratch.
func (s *StructureStage) Run(ctx context.Context, ocrText, imagePath string) (entity.PatientRecord, error) {
	return callRemote(ctx, s.Retry, s.Timeout, s.Logger, "pipeline.structure", func(ctx context.Context) (entity.PatientRecord, error) {
		return s.Extractor.Structure(ctx, ocrText, imagePath)
	})
}
