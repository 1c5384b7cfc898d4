package pipeline

import (
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/imageprep"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/llm"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/ocr"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer lets concurrent log writes be read after a run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFolder(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

// fakeOCR answers per image payload. Images hold their own text, so the
// fake decodes the data URI and echoes it back.
type fakeOCR struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string][]error // consumed in order, one per call
	delay map[string]time.Duration
}

func newFakeOCR() *fakeOCR {
	return &fakeOCR{calls: map[string]int{}, fail: map[string][]error{}, delay: map[string]time.Duration{}}
}

func (f *fakeOCR) Run(ctx context.Context, _ string, input map[string]any) (string, error) {
	text := decodeImageText(input["image"].(string))
	f.mu.Lock()
	f.calls[text]++
	var err error
	if errs := f.fail[text]; len(errs) > 0 {
		err, f.fail[text] = errs[0], errs[1:]
	}
	d := f.delay[text]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeOCR) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeOCR) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

// fakeLLM replies with a record naming the patient found after "Patient: " in the prompt.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLLM) Stream(_ context.Context, _ string, req inference.StreamRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	name := "null"
	if _, after, ok := strings.Cut(req.Prompt, "Patient: "); ok {
		line, _, _ := strings.Cut(after, "\n")
		name = `"` + strings.TrimSpace(line) + `"`
	}
	return inference.Chunks(`{"patient name": `, name, `}`)
}

func (f *fakeLLM) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	ocr    *fakeOCR
	llm    *fakeLLM
	proc   *Processor
	logger *slog.Logger
	logs   *syncBuffer
}

func newHarness(t *testing.T, jobs repository.ExtractJobRepository) *harness {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	h := &harness{ocr: newFakeOCR(), llm: &fakeLLM{}, logger: logger, logs: logs}
	extractor := ocr.NewExtractor(ocr.Config{Model: "test/ocr:v1"}, h.ocr, logger)
	structurer, err := llm.NewStructurer(llm.Config{Model: "test/llm", Options: llm.DefaultOptions()}, h.llm, logger)
	require.NoError(t, err)

	retry := RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond}
	h.proc = NewProcessor(logger,
		NewOCRStage(extractor, retry, time.Second, logger),
		NewStructureStage(structurer, retry, time.Second, logger),
		jobs,
	)
	return h
}

func decodeImageText(uri string) string {
	_, data, err := imageprep.DecodeDataURI(uri)
	if err != nil {
		return "undecodable"
	}
	return string(data)
}
