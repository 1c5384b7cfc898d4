package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExtractJob is one document's row in the run ledger.
type ExtractJob struct {
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"run_id"`
	Filename     string          `json:"filename"`
	SourcePath   string          `json:"source_path"`
	Status       string          `json:"status"`
	Stage        *string         `json:"stage,omitempty"`
	ErrorKind    *string         `json:"error_kind,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	OCRText      *string         `json:"ocr_text,omitempty"`
	RecordJSON   json.RawMessage `json:"record_json,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
