package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
)

// Drain appends every chunk to one buffer in arrival order. It stops at the
// first stream error and returns what was read so far together with it.
func Drain(chunks iter.Seq2[string, error]) (string, int, error) {
	var buf bytes.Buffer
	n := 0
	for chunk, err := range chunks {
		if err != nil {
			return buf.String(), n, err
		}
		buf.WriteString(chunk)
		n++
	}
	return buf.String(), n, nil
}

var (
	errNotObject     = errors.New("response is not a JSON object")
	errTrailingData  = errors.New("unexpected data after JSON value")
	errEmptyResponse = errors.New("empty response")
)

// DecodeObject parses the whole response as exactly one JSON object.
// Surrounding prose is not stripped: "Sure! {...}" is an error.
func DecodeObject(raw string) (map[string]any, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return nil, errEmptyResponse
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return m, nil
}
