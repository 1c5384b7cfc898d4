package constants

// JobStatus is the canonical status of one document moving through the pipeline.
type JobStatus string

// Stable values (stored as-is in the extract_jobs ledger).
const (
	JobStatusPending       JobStatus = "PENDING"        // listed, nothing done yet
	JobStatusImagePrepared JobStatus = "IMAGE_PREPARED" // data URI built
	JobStatusOCRExtracted  JobStatus = "OCR_EXTRACTED"  // raw text received
	JobStatusStructured    JobStatus = "STRUCTURED"     // terminal success
	JobStatusFailed        JobStatus = "FAILED"         // terminal failure for this document only
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusStructured || s == JobStatusFailed
}

// Stage names the step a document was in when it failed.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageOCR       Stage = "ocr"
	StageStructure Stage = "structure"
)

// Next returns the status a successful stage moves the document to.
func (s Stage) Next() JobStatus {
	switch s {
	case StagePrepare:
		return JobStatusImagePrepared
	case StageOCR:
		return JobStatusOCRExtracted
	case StageStructure:
		return JobStatusStructured
	default:
		return JobStatusFailed
	}
}
