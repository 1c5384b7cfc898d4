package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// isolate runs the command in an empty directory with no inherited configuration.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{
		"REPLICATE_API_TOKEN", "REPLICATE_BASE_URL", "OCR_MODEL", "STRUCTURING_PROVIDER", "STRUCTURING_MODEL",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "INPUT_DIR", "OUTPUT_PATH", "OUTPUT_XLSX_PATH", "OUTPUT_S3_BUCKET",
		"PIPELINE_WORKERS", "RETRY_MAX_ATTEMPTS", "LEDGER_DRIVER", "LEDGER_DSN",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// fakeReplicate answers OCR predictions with the image payload and streams
// a record naming the patient found in the prompt.
func fakeReplicate(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var predictions atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		predictions.Add(1)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		var body struct {
			Input map[string]string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text := "Patient: Rover\nSpecies: Dog"
		if strings.HasPrefix(body.Input["image"], "data:image/png") {
			text = "Patient: Misty\nSpecies: Cat"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ocr1", "status": "succeeded", "output": text})
	})
	mux.HandleFunc("POST /v1/models/meta/meta-llama-3-70b-instruct/predictions", func(w http.ResponseWriter, r *http.Request) {
		predictions.Add(1)
		var body struct {
			Input map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		name := "Rover"
		if strings.Contains(body.Input["prompt"].(string), "Patient: Misty") {
			name = "Misty"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "llm1",
			"status": "starting",
			"urls":   map[string]string{"stream": srv.URL + "/stream/" + name},
		})
	})
	mux.HandleFunc("GET /stream/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		name := r.PathValue("name")
		fmt.Fprintf(w, "event: output\ndata: {\"patient name\": %q, \n\n", name)
		fmt.Fprint(w, "event: output\ndata: \"veterinarian name\": null}\n\n")
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &predictions
}

func TestExecute_MissingTokenIsConfigError(t *testing.T) {
	dir := isolate(t)
	code, _, stderr := runCLI("run", dir)

	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "REPLICATE_API_TOKEN")
}

func TestExecute_MissingFolderIsInputError(t *testing.T) {
	dir := isolate(t)
	srv, predictions := fakeReplicate(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("REPLICATE_BASE_URL", srv.URL)

	code, _, stderr := runCLI("run", filepath.Join(dir, "missing"))
	assert.Equal(t, exitInput, code)
	assert.Contains(t, stderr, "NOT_FOUND")
	assert.Zero(t, predictions.Load())
}

func TestExecute_Prepare(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "scan.PNG")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	code, stdout, _ := runCLI("prepare", path)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "data:image/png;base64,AQID\n", stdout)

	code, _, _ = runCLI("prepare", filepath.Join(dir, "scan.gif"))
	assert.Equal(t, exitInput, code)
}

func TestExecute_RunWritesJSONAndXLSX(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeReplicate(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("REPLICATE_BASE_URL", srv.URL)

	input := filepath.Join(dir, "scans")
	require.NoError(t, os.Mkdir(input, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "rover.jpg"), []byte("jpeg"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(input, "misty.png"), []byte("png"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(input, "readme.txt"), []byte("skip me"), 0o600))

	out := filepath.Join(dir, "records.json")
	book := filepath.Join(dir, "records.xlsx")
	code, stdout, stderr := runCLI("run", "--input", input, "--output", out, "--xlsx", book,
		"--workers", "2", "--ledger", "sqlite", "--ledger-dsn", filepath.Join(dir, "ledger.db"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "scanned=3 succeeded=2 failed=1 (INVALID_INPUT=1)")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "misty.png", records[0]["original_filename"])
	assert.Equal(t, "Misty", records[0]["patient name"])
	assert.Equal(t, "rover.jpg", records[1]["original_filename"])
	assert.Equal(t, "Rover", records[1]["patient name"])
	assert.Nil(t, records[1]["species"])
	assert.Len(t, records[1], 11)

	f, err := excelize.OpenFile(book)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Patient Records")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExecute_Structure(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeReplicate(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("REPLICATE_BASE_URL", srv.URL)
	path := filepath.Join(dir, "rover.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	code, stdout, stderr := runCLI("structure", path)
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, `{
		"original_filename": "rover.jpg",
		"patient name": "Rover",
		"species": null,
		"breed": null,
		"age": null,
		"owner name": null,
		"visit date": null,
		"notes": null,
		"procedures with costs": null,
		"total costs": null,
		"veterinarian name": null
	}`, stdout)
}

func TestExecute_OCR(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeReplicate(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("REPLICATE_BASE_URL", srv.URL)
	path := filepath.Join(dir, "rover.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	code, stdout, stderr := runCLI("ocr", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "Patient: Rover\nSpecies: Dog\n", stdout)
}

func TestExecute_DBHealthSQLite(t *testing.T) {
	dir := isolate(t)
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("LEDGER_DSN", filepath.Join(dir, "ledger.db"))

	code, stdout, stderr := runCLI("dbhealth")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "ledger health: OK (sqlite)\n", stdout)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailed, exitCode(assert.AnError))
	assert.Equal(t, exitInput, exitCode(fmt.Errorf("wrapped: %w", withExitCode(exitInput, assert.AnError))))
	assert.NoError(t, withExitCode(exitConfig, nil))
}
