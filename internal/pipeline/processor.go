package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/imageprep"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/repository"
)

// Processor coordinates image preparation, OCR and structuring for one document.
type Processor struct {
	logger    *slog.Logger
	ocr       *OCRStage
	structure *StructureStage
	jobs      repository.ExtractJobRepository
}

func NewProcessor(logger *slog.Logger, ocr *OCRStage, structure *StructureStage, jobs repository.ExtractJobRepository) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if jobs == nil {
		jobs = repository.NoopExtractJobRepository{}
	}
	return &Processor{logger: logger, ocr: ocr, structure: structure, jobs: jobs}
}

// ProcessDocument runs every stage for the image at path. Failures come back
// as *DocumentError naming the stage; the ledger is updated along the way but
// a ledger error never fails the document.
func (p *Processor) ProcessDocument(ctx context.Context, path string) (entity.PatientRecord, error) {
	start := time.Now()
	name := filepath.Base(path)
	ctx = common.WithDocument(ctx, name)
	if common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, uuid.NewString())
	}
	attrs := common.LogAttrs(ctx)

	runID, err := uuid.Parse(common.RunIDFromContext(ctx))
	if err != nil {
		runID = uuid.New()
	}
	jobID, err := p.jobs.Start(ctx, runID, name, path)
	if err != nil {
		p.logger.Warn("pipeline.ledger.error", append(attrs, "op", "start", "error", err)...)
	}

	fail := func(stage constants.Stage, err error) (entity.PatientRecord, error) {
		kind, _ := common.KindOf(err)
		f := repository.Failure{
			Stage:   stage,
			Kind:    string(kind),
			Code:    common.StatusCode(err).String(),
			Message: err.Error(),
		}
		p.ledger(ctx, jobID, "finish_failure", func(ctx context.Context) error {
			return p.jobs.FinishFailure(ctx, jobID, f)
		})
		return entity.PatientRecord{}, &DocumentError{File: name, Stage: stage, Err: err}
	}

	dataURI, err := imageprep.Prepare(path)
	if err != nil {
		return fail(constants.StagePrepare, err)
	}
	p.ledger(ctx, jobID, "advance", func(ctx context.Context) error {
		return p.jobs.Advance(ctx, jobID, constants.StagePrepare.Next())
	})

	text, err := p.ocr.Run(ctx, name, dataURI)
	if err != nil {
		return fail(constants.StageOCR, err)
	}
	p.ledger(ctx, jobID, "finish_ocr", func(ctx context.Context) error {
		return p.jobs.FinishOCR(ctx, jobID, text)
	})

	rec, err := p.structure.Run(ctx, text, path)
	if err != nil {
		return fail(constants.StageStructure, err)
	}
	p.ledger(ctx, jobID, "finish_success", func(ctx context.Context) error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return p.jobs.FinishSuccess(ctx, jobID, raw)
	})

	p.logger.Info("pipeline.document.ok", append(attrs, "elapsed_ms", time.Since(start).Milliseconds())...)
	return rec, nil
}

func (p *Processor) ledger(ctx context.Context, jobID uuid.UUID, op string, fn func(context.Context) error) {
	if jobID == uuid.Nil {
		return
	}
	// Ledger writes outlive cancellation of the batch.
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("pipeline.ledger.error", append(common.LogAttrs(ctx), "op", op, "job_id", jobID, "error", err)...)
	}
}
