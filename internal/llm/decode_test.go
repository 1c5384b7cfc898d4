package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

func TestDrain_ConcatenatesAcrossChunkBoundaries(t *testing.T) {
	raw, n, err := Drain(inference.Chunks(`{"a":`, `1}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	obj, err := DecodeObject(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, obj)
}

func TestDrain_StopsAtFirstError(t *testing.T) {
	boom := errors.New("connection reset")
	raw, n, err := Drain(inference.Fail(boom, `{"a":`))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, `{"a":`, raw)
	assert.Equal(t, 1, n)
}

func TestDecodeObject_Rejects(t *testing.T) {
	tests := map[string]string{
		"prose before": `Sure, here is the output: {"patient name": "Rover"}`,
		"prose after":  `{"patient name": "Rover"} Let me know if you need anything else.`,
		"code fence":   "```json\n{\"a\": 1}\n```",
		"array":        `[{"a": 1}]`,
		"string":       `"just text"`,
		"truncated":    `{"a": 1`,
		"empty":        "",
		"whitespace":   "  \n ",
		"two objects":  `{"a":1}{"b":2}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeObject(raw)
			assert.Error(t, err)
		})
	}
}

func TestDecodeObject_AllowsSurroundingWhitespace(t *testing.T) {
	obj, err := DecodeObject("\n  {\"species\": \"Dog\"}\n")
	require.NoError(t, err)
	assert.Equal(t, "Dog", obj["species"])
}
