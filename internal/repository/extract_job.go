package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
)

// Failure describes why a document left the pipeline.
type Failure struct {
	Stage   constants.Stage
	Kind    string
	Code    string
	Message string
}

// ExtractJobRepository records one row per document per run.
type ExtractJobRepository interface {
	Start(ctx context.Context, runID uuid.UUID, filename, sourcePath string) (uuid.UUID, error)
	Advance(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) error
	FinishOCR(ctx context.Context, jobID uuid.UUID, ocrText string) error
	FinishSuccess(ctx context.Context, jobID uuid.UUID, record json.RawMessage) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, f Failure) error
	Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]entity.ExtractJob, error)
}

type extractJobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewExtractJobRepository(db *DB, log *slog.Logger) ExtractJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractJobRepo{db: db, log: log}
}

var jobColumns = []string{
	"id", "run_id", "filename", "source_path", "status", "stage", "error_kind",
	"error_code", "error_message", "ocr_text", "record_json", "started_at", "finished_at",
}

func (r *extractJobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.drv.Dialect())
}

// update applies sets to one job. Moving into a terminal status stamps finished_at.
func (r *extractJobRepo) update(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, sets map[string]any) error {
	u := r.builder().Update(ExtractJobsTable.Name).Set("status", string(status))
	for _, col := range jobColumns {
		if v, ok := sets[col]; ok {
			u.Set(col, v)
		}
	}
	if status.Terminal() {
		u.Set("finished_at", time.Now().UTC())
	}
	query, args := u.Where(entsql.EQ("id", jobID)).Query()

	var res sql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return common.NotFoundError("extract_job not found", jobID.String())
	}
	return nil
}

func (r *extractJobRepo) Start(ctx context.Context, runID uuid.UUID, filename, sourcePath string) (uuid.UUID, error) {
	id := uuid.New()
	query, args := r.builder().Insert(ExtractJobsTable.Name).
		Columns("id", "run_id", "filename", "source_path", "status", "started_at").
		Values(id, runID, filename, sourcePath, string(constants.JobStatusPending), time.Now().UTC()).
		Query()
	if err := r.db.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Error("extract_job start failed", "file", filename, "err", err)
		return uuid.Nil, err
	}
	r.log.Debug("extract_job started", "job_id", id, "run_id", runID, "file", filename)
	return id, nil
}

func (r *extractJobRepo) Advance(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) error {
	if err := r.update(ctx, jobID, status, nil); err != nil {
		r.log.Error("extract_job advance failed", "job_id", jobID, "status", status, "err", err)
		return err
	}
	return nil
}

func (r *extractJobRepo) FinishOCR(ctx context.Context, jobID uuid.UUID, ocrText string) error {
	err := r.update(ctx, jobID, constants.JobStatusOCRExtracted, map[string]any{"ocr_text": ocrText})
	if err != nil {
		r.log.Error("extract_job finish(OCR) failed", "job_id", jobID, "err", err)
		return err
	}
	return nil
}

func (r *extractJobRepo) FinishSuccess(ctx context.Context, jobID uuid.UUID, record json.RawMessage) error {
	err := r.update(ctx, jobID, constants.JobStatusStructured, map[string]any{"record_json": string(record)})
	if err != nil {
		r.log.Error("extract_job finish(OK) failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Info("extract_job finished (STRUCTURED)", "job_id", jobID)
	return nil
}

func (r *extractJobRepo) FinishFailure(ctx context.Context, jobID uuid.UUID, f Failure) error {
	err := r.update(ctx, jobID, constants.JobStatusFailed, map[string]any{
		"stage":         string(f.Stage),
		"error_kind":    f.Kind,
		"error_code":    f.Code,
		"error_message": f.Message,
	})
	if err != nil {
		r.log.Error("extract_job finish(FAILED) failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Warn("extract_job finished (FAILED)", "job_id", jobID, "stage", f.Stage, "kind", f.Kind)
	return nil
}

func (r *extractJobRepo) query(ctx context.Context, where *entsql.Predicate) ([]entity.ExtractJob, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(ExtractJobsTable.Name)).
		Where(where).
		OrderBy(entsql.Asc("filename")).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.ExtractJob
	for rows.Next() {
		j, err := scanJob(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(rows *entsql.Rows) (entity.ExtractJob, error) {
	var (
		j                                       entity.ExtractJob
		stage, kind, code, msg, ocrText, record sql.NullString
		finished                                sql.NullTime
	)
	if err := rows.Scan(&j.ID, &j.RunID, &j.Filename, &j.SourcePath, &j.Status,
		&stage, &kind, &code, &msg, &ocrText, &record, &j.StartedAt, &finished); err != nil {
		return entity.ExtractJob{}, err
	}
	j.Stage = nullable(stage)
	j.ErrorKind = nullable(kind)
	j.ErrorCode = nullable(code)
	j.ErrorMessage = nullable(msg)
	j.OCRText = nullable(ocrText)
	if record.Valid {
		j.RecordJSON = json.RawMessage(record.String)
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return j, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *extractJobRepo) Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error) {
	jobs, err := r.query(ctx, entsql.EQ("id", jobID))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NotFoundError("extract_job not found", jobID.String())
	}
	return &jobs[0], nil
}

func (r *extractJobRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]entity.ExtractJob, error) {
	return r.query(ctx, entsql.EQ("run_id", runID))
}

// NoopExtractJobRepository is used when no ledger is configured.
type NoopExtractJobRepository struct{}

var _ ExtractJobRepository = NoopExtractJobRepository{}

func (NoopExtractJobRepository) Start(context.Context, uuid.UUID, string, string) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (NoopExtractJobRepository) Advance(context.Context, uuid.UUID, constants.JobStatus) error {
	return nil
}
func (NoopExtractJobRepository) FinishOCR(context.Context, uuid.UUID, string) error { return nil }
func (NoopExtractJobRepository) FinishSuccess(context.Context, uuid.UUID, json.RawMessage) error {
	return nil
}
func (NoopExtractJobRepository) FinishFailure(context.Context, uuid.UUID, Failure) error { return nil }
func (NoopExtractJobRepository) Get(_ context.Context, jobID uuid.UUID) (*entity.ExtractJob, error) {
	return nil, common.NotFoundError("extract_job not found", jobID.String())
}
func (NoopExtractJobRepository) ListByRun(context.Context, uuid.UUID) ([]entity.ExtractJob, error) {
	return nil, nil
}
