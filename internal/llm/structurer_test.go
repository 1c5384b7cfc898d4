package llm

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

type fakeStream struct {
	chunks []string
	err    error
	calls  int
	last   inference.StreamRequest
	model  string
}

func (f *fakeStream) Stream(_ context.Context, model string, req inference.StreamRequest) iter.Seq2[string, error] {
	f.calls++
	f.last = req
	f.model = model
	if f.err != nil {
		return inference.Fail(f.err, f.chunks...)
	}
	return inference.Chunks(f.chunks...)
}

func writeScan(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestStructurer(t *testing.T, backend inference.StreamingInference) *Structurer {
	t.Helper()
	s, err := NewStructurer(Config{Model: "meta/meta-llama-3-70b-instruct", Options: DefaultOptions()}, backend, quietLogger())
	require.NoError(t, err)
	return s
}

func TestStructure_RoverEndToEnd(t *testing.T) {
	image := []byte("rover-jpeg-bytes")
	path := writeScan(t, "rover.jpg", image)
	backend := &fakeStream{chunks: []string{
		`{"original_filename": "rover.jpg", "patient name": "Rover", "species": "Dog", "breed": null, `,
		`"age": null, "owner name": null, "visit date": null, "notes": null, "procedures with costs": null, "total costs": null, "veterinarian name": null}`,
	}}

	ocrText := "original_filename: rover.jpg\nPatient: Rover\nSpecies: Dog"
	rec, err := newTestStructurer(t, backend).Structure(context.Background(), ocrText, path)
	require.NoError(t, err)

	got, err := json.Marshal(rec)
	require.NoError(t, err)
	want := `{"original_filename":"rover.jpg","patient name":"Rover","species":"Dog","breed":null,"age":null,"owner name":null,"visit date":null,"notes":null,"procedures with costs":null,"total costs":null,"veterinarian name":null}`
	assert.JSONEq(t, want, string(got))

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, "meta/meta-llama-3-70b-instruct", backend.model)
	assert.Equal(t, image, backend.last.Image)
	assert.Equal(t, "image/jpeg", backend.last.ImageMIME)
	assert.Contains(t, backend.last.Prompt, ocrText)
	assert.InDelta(t, 0.9, backend.last.Options.TopP, 1e-9)
}

func TestStructure_MissingImageFailsBeforeRemoteCall(t *testing.T) {
	backend := &fakeStream{chunks: []string{`{}`}}
	_, err := newTestStructurer(t, backend).Structure(context.Background(), "text", filepath.Join(t.TempDir(), "gone.jpg"))

	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 0, backend.calls)
}

func TestStructure_ProseIsMalformed(t *testing.T) {
	path := writeScan(t, "rover.jpg", []byte("x"))
	backend := &fakeStream{chunks: []string{"Sure, here is the output: ", `{"patient name": "Rover"}`}}

	_, err := newTestStructurer(t, backend).Structure(context.Background(), "text", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedResponse)

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, `Sure, here is the output: {"patient name": "Rover"}`, appErr.Detail)
}

func TestStructure_StreamErrorIsRemoteServiceError(t *testing.T) {
	path := writeScan(t, "rover.jpg", []byte("x"))
	cause := errors.New("stream reset")
	backend := &fakeStream{chunks: []string{`{"a":`}, err: cause}

	_, err := newTestStructurer(t, backend).Structure(context.Background(), "text", path)
	assert.ErrorIs(t, err, common.ErrRemoteService)
	assert.ErrorIs(t, err, cause)
}

func TestStructure_PartialObjectIsCompleted(t *testing.T) {
	path := writeScan(t, "bella.png", []byte("x"))
	backend := &fakeStream{chunks: []string{`{"Patient name": "Bella", "Total costs": 85}`}}

	rec, err := newTestStructurer(t, backend).Structure(context.Background(), "text", path)
	require.NoError(t, err)

	assert.Equal(t, "bella.png", rec.Filename())
	require.NotNil(t, rec.PatientName)
	assert.Equal(t, "Bella", *rec.PatientName)
	require.NotNil(t, rec.TotalCosts)
	assert.Equal(t, "85", *rec.TotalCosts)
	assert.Nil(t, rec.Species)
}

func TestStructure_NestedValuesAreMalformed(t *testing.T) {
	replies := map[string]string{
		"nested object":    `{"original_filename": "rover.jpg", "owner name": {"first": "Ana", "last": "Ruiz"}}`,
		"nested list":      `{"procedures with costs": [["exam", 40], ["vaccine", 45]]}`,
		"numeric filename": `{"original_filename": 3, "patient name": "Rover"}`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			path := writeScan(t, "rover.jpg", []byte("x"))
			backend := &fakeStream{chunks: []string{reply}}

			_, err := newTestStructurer(t, backend).Structure(context.Background(), "text", path)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrMalformedResponse)

			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, reply, appErr.Detail)
		})
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a…(truncated)", truncate("aé tail", 2))
	assert.Equal(t, "aé…(truncated)", truncate("aé tail", 3))
	assert.Equal(t, "…(truncated)", truncate("日本", 2))
}
