package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
)

// DocumentProcessor handles one file of a batch.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, path string) (entity.PatientRecord, error)
}

// Report is the outcome of one folder run.
type Report struct {
	RunID    uuid.UUID
	Records  entity.BatchResult
	Failures []*DocumentError
	Summary  Summary
}

type Batch struct {
	proc    DocumentProcessor
	workers int
	logger  *slog.Logger
}

// NewBatch returns an orchestrator running up to workers documents at once.
// workers <= 1 processes the folder strictly in sequence.
func NewBatch(proc DocumentProcessor, workers int, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Batch{proc: proc, workers: workers, logger: logger}
}

// ProcessFolder returns the records of every document that succeeded, in listing order.
func (b *Batch) ProcessFolder(ctx context.Context, folder string) (entity.BatchResult, error) {
	report, err := b.Run(ctx, folder)
	if err != nil {
		return nil, err
	}
	return report.Records, nil
}

type outcome struct {
	record entity.PatientRecord
	err    error
}

// Run processes every regular file directly under folder.
//
// A missing folder is NOT_FOUND and a non-folder path INVALID_INPUT, both before
// any document is touched. Documents failing with a known kind are logged and
// skipped. An error outside the taxonomy, or cancellation of ctx, aborts the run.
func (b *Batch) Run(ctx context.Context, folder string) (*Report, error) {
	start := time.Now()
	paths, err := b.listDocuments(folder)
	if err != nil {
		b.logger.Error("pipeline.batch.input_error", "folder", folder, "error", err)
		return nil, err
	}

	runID := uuid.New()
	ctx = common.WithRunID(ctx, runID.String())
	b.logger.Info("pipeline.batch.start",
		"run_id", runID.String(),
		"folder", folder,
		"documents", len(paths),
		"workers", b.workers,
	)

	outcomes := make([]outcome, len(paths))
	if b.workers <= 1 || len(paths) <= 1 {
		err = b.runSequential(ctx, paths, outcomes)
	} else {
		err = b.runPooled(ctx, paths, outcomes)
	}
	if err != nil {
		b.logger.Error("pipeline.batch.aborted", "run_id", runID.String(), "error", err)
		return nil, err
	}

	report := &Report{RunID: runID, Records: entity.BatchResult{}}
	report.Summary = newSummary(runID)
	for i, o := range outcomes {
		report.Summary.Scanned++
		if o.err == nil {
			report.Records = append(report.Records, o.record)
			report.Summary.Succeeded++
			continue
		}
		docErr := asDocumentError(paths[i], o.err)
		report.Failures = append(report.Failures, docErr)
		report.Summary.addFailure(docErr.Kind())
	}
	report.Summary.Elapsed = time.Since(start)

	b.logger.Info("pipeline.batch.done", append([]any{"run_id", runID.String()}, report.Summary.logAttrs()...)...)
	return report, nil
}

func (b *Batch) runSequential(ctx context.Context, paths []string, outcomes []outcome) error {
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if err := b.handle(ctx, path, &outcomes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) runPooled(ctx context.Context, paths []string, outcomes []outcome) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fatal error
	)
	abort := func(err error) {
		once.Do(func() {
			fatal = err
			cancel(err)
		})
	}

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := b.handle(ctx, path, &outcomes[i]); err != nil {
				abort(err)
			}
		})
		if err != nil {
			wg.Done()
			abort(fmt.Errorf("submit %s: %w", filepath.Base(path), err))
			break
		}
	}
	wg.Wait()

	if fatal != nil {
		return fatal
	}
	return context.Cause(ctx)
}

// handle processes one document and reports whether the batch must stop.
func (b *Batch) handle(ctx context.Context, path string, out *outcome) error {
	rec, err := b.proc.ProcessDocument(ctx, path)
	if err == nil {
		out.record = rec
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	kind, known := common.KindOf(err)
	if !known {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	out.err = err

	docErr := asDocumentError(path, err)
	b.logger.Error("pipeline.document.failed", append(common.LogAttrs(ctx),
		"file", docErr.File,
		"stage", string(docErr.Stage),
		"kind", string(kind),
		"error", err,
	)...)
	return nil
}

func asDocumentError(path string, err error) *DocumentError {
	var docErr *DocumentError
	if errors.As(err, &docErr) {
		return docErr
	}
	return &DocumentError{File: filepath.Base(path), Err: err}
}

// listDocuments returns the regular files directly under folder, sorted by name.
// Symlinks count when their target is a regular file; every other entry is logged and left out.
func (b *Batch) listDocuments(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFoundError("input folder not found", folder)
		}
		return nil, common.WrapError(err, "stat input folder")
	}
	if !info.IsDir() {
		return nil, common.InvalidInputError("input path is not a folder", folder)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, common.WrapError(err, "list input folder")
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(folder, e.Name())
		if !e.Type().IsRegular() {
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				reason := "not a regular file"
				if err != nil {
					reason = err.Error()
				}
				b.logger.Info("pipeline.document.skipped", "folder", folder, "file", e.Name(), "reason", reason)
				continue
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}
