package llm

import (
	"context"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
)

// RecordExtractor is the interface the pipeline depends on.
type RecordExtractor interface {
	Structure(ctx context.Context, ocrText, imagePath string) (entity.PatientRecord, error)
}
