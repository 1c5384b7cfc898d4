package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
)

// Summary counts what happened to the documents of one run.
type Summary struct {
	RunID        uuid.UUID
	Scanned      int
	Succeeded    int
	Failed       int
	FailedByKind map[common.ErrorKind]int
	Elapsed      time.Duration
}

func newSummary(runID uuid.UUID) Summary {
	return Summary{RunID: runID, FailedByKind: map[common.ErrorKind]int{}}
}

func (s *Summary) addFailure(kind common.ErrorKind) {
	s.Failed++
	if kind == "" {
		kind = "UNKNOWN"
	}
	s.FailedByKind[kind]++
}

func (s Summary) logAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"elapsed_ms", s.Elapsed.Milliseconds(),
	}
	for _, k := range s.kinds() {
		attrs = append(attrs, "failed_"+strings.ToLower(string(k)), s.FailedByKind[k])
	}
	return attrs
}

// kinds lists the failure kinds seen, documented kinds first in their usual order.
func (s Summary) kinds() []common.ErrorKind {
	kinds := make([]common.ErrorKind, 0, len(s.FailedByKind))
	for _, k := range common.Kinds() {
		if s.FailedByKind[k] > 0 {
			kinds = append(kinds, k)
		}
	}
	var other []common.ErrorKind
	for k := range s.FailedByKind {
		if !slices.Contains(kinds, k) {
			other = append(other, k)
		}
	}
	slices.Sort(other)
	return append(kinds, other...)
}

// String renders the summary on one line, e.g.
// "scanned=3 succeeded=2 failed=1 (REMOTE_SERVICE_ERROR=1)".
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scanned=%d succeeded=%d failed=%d", s.Scanned, s.Succeeded, s.Failed)
	if len(s.FailedByKind) > 0 {
		parts := make([]string, 0, len(s.FailedByKind))
		for _, k := range s.kinds() {
			parts = append(parts, fmt.Sprintf("%s=%d", k, s.FailedByKind[k]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}
