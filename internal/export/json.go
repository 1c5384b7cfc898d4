package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
)

// EncodeJSON renders a batch as a JSON array indented with four spaces.
// An empty batch is "[]".
func EncodeJSON(result entity.BatchResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteJSON(w io.Writer, result entity.BatchResult) error {
	if result == nil {
		result = entity.BatchResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return nil
}

// WriteJSONFile writes the batch next to path and renames it into place,
// so a crash never leaves a half-written output.
func WriteJSONFile(path string, result entity.BatchResult) error {
	data, err := EncodeJSON(result)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vetrecords-*.json")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
