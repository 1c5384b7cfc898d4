package ocr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractText_SendsImageAndReturnsVerbatim(t *testing.T) {
	var gotModel string
	var gotInput map[string]any
	backend := inference.SyncFunc(func(_ context.Context, model string, input map[string]any) (string, error) {
		gotModel, gotInput = model, input
		return "  Patient: Rover\n\nSpecies: Dog  ", nil
	})

	e := NewExtractor(Config{Model: "acme/ocr:v1"}, backend, quietLogger())
	text, err := e.ExtractText(context.Background(), "data:image/jpeg;base64,AAAA")
	require.NoError(t, err)

	assert.Equal(t, "  Patient: Rover\n\nSpecies: Dog  ", text)
	assert.Equal(t, "acme/ocr:v1", gotModel)
	assert.Equal(t, map[string]any{"image": "data:image/jpeg;base64,AAAA"}, gotInput)
}

func TestExtractText_DefaultModel(t *testing.T) {
	var gotModel string
	backend := inference.SyncFunc(func(_ context.Context, model string, _ map[string]any) (string, error) {
		gotModel = model
		return "", nil
	})
	_, err := NewExtractor(Config{}, backend, nil).ExtractText(context.Background(), "data:image/png;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, common.DefaultOCRModel, gotModel)
}

func TestExtractText_FailureIsRemoteServiceError(t *testing.T) {
	cause := errors.New("503 service unavailable")
	backend := inference.SyncFunc(func(context.Context, string, map[string]any) (string, error) {
		return "", cause
	})

	_, err := NewExtractor(Config{}, backend, quietLogger()).ExtractText(context.Background(), "data:image/png;base64,AA==")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRemoteService)
	assert.ErrorIs(t, err, cause)
}

func TestWithProvenance(t *testing.T) {
	assert.Equal(t, "original_filename: rover.jpg\nPatient: Rover", WithProvenance("rover.jpg", "Patient: Rover"))
}
