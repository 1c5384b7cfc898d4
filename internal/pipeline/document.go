package pipeline

import (
	"fmt"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
)

// DocumentError reports which stage a document failed in.
type DocumentError struct {
	File  string
	Stage constants.Stage
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", e.File, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Kind returns the error kind, or "" when the cause is outside the taxonomy.
func (e *DocumentError) Kind() common.ErrorKind {
	k, _ := common.KindOf(e.Err)
	return k
}
