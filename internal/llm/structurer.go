// Package llm turns OCR text plus the source image into one patient record
// using a streaming generative model.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/imageprep"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

const maxLoggedResponse = 2000

type Config struct {
	Model   string
	Options inference.GenerationOptions
}

// DefaultOptions are the sampling parameters the extraction prompt was tuned with.
func DefaultOptions() inference.GenerationOptions {
	return inference.GenerationOptions{
		Temperature:     0.6,
		TopP:            0.9,
		PresencePenalty: 1.15,
		MinTokens:       0,
	}
}

type Structurer struct {
	cfg     Config
	backend inference.StreamingInference
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

var _ RecordExtractor = (*Structurer)(nil)

func NewStructurer(cfg Config, backend inference.StreamingInference, logger *slog.Logger) (*Structurer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = common.DefaultReplicateModel
	}
	schema, err := CompileSchema(BuildModelOutputJSONSchema())
	if err != nil {
		return nil, err
	}
	return &Structurer{cfg: cfg, backend: backend, schema: schema, logger: logger}, nil
}

// Structure extracts one PatientRecord from ocrText, attaching the image at imagePath.
//
// The image is checked and re-read before any remote call (NOT_FOUND if gone).
// Stream failures are REMOTE_SERVICE_ERROR. A reply that is not exactly one JSON
// object, or that cannot be brought into the record contract, is MALFORMED_RESPONSE.
func (s *Structurer) Structure(ctx context.Context, ocrText, imagePath string) (entity.PatientRecord, error) {
	rid := uuid.New().String()
	start := time.Now()
	attrs := append(common.LogAttrs(ctx), "stream_req_id", rid)

	asset, err := imageprep.Load(imagePath)
	if err != nil {
		s.logger.Error("llm.structure.image_error", append(attrs, "path", imagePath, "error", err)...)
		return entity.PatientRecord{}, err
	}

	s.logger.Info("llm.structure.start", append(attrs,
		"model", s.cfg.Model,
		"text_len", len(ocrText),
		"image_bytes", len(asset.Data),
		"temp", s.cfg.Options.Temperature,
	)...)

	req := inference.StreamRequest{
		Prompt:    BuildPrompt(ocrText),
		Image:     asset.Data,
		ImageMIME: asset.MIMEType,
		ImageName: asset.Name,
		Options:   s.cfg.Options,
	}
	raw, chunks, err := Drain(s.backend.Stream(ctx, s.cfg.Model, req))
	if err != nil {
		s.logger.Error("llm.structure.stream_error", append(attrs,
			"error", err,
			"chunks", chunks,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)...)
		return entity.PatientRecord{}, common.RemoteServiceError("structuring stream failed", err)
	}

	obj, err := DecodeObject(raw)
	if err != nil {
		s.logger.Error("llm.structure.malformed", append(attrs,
			"error", err,
			"chunks", chunks,
			"raw", truncate(raw, maxLoggedResponse),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)...)
		return entity.PatientRecord{}, common.MalformedResponseError("structuring response is not a JSON object", raw, err)
	}

	if err := s.schema.Validate(obj); err != nil {
		s.logger.Error("llm.structure.schema_validation_failed", append(attrs,
			"error", err,
			"raw", truncate(raw, maxLoggedResponse),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)...)
		return entity.PatientRecord{}, common.MalformedResponseError("structuring response violates the model output schema", raw, err)
	}

	normalized, notes := NormalizeRecord(obj, asset.Name, s.logger)
	if len(notes) > 0 {
		s.logger.Warn("llm.structure.normalized", append(attrs, "changes", notes)...)
	}

	rec, err := recordFromMap(normalized)
	if err != nil {
		return entity.PatientRecord{}, common.MalformedResponseError("structuring response cannot be mapped", raw, err)
	}

	s.logger.Info("llm.structure.ok", append(attrs,
		"chunks", chunks,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)...)
	return rec, nil
}

func recordFromMap(m map[string]any) (entity.PatientRecord, error) {
	var rec entity.PatientRecord
	for _, f := range constants.Fields() {
		switch v := m[string(f)].(type) {
		case nil:
		case string:
			rec.Set(f, &v)
		default:
			return entity.PatientRecord{}, fmt.Errorf("field %q: unexpected %T", f, v)
		}
	}
	return rec, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…(truncated)"
}
