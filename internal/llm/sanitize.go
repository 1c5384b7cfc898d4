package llm

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
)

// NormalizeRecord maps a decoded model object onto the record schema.
//   - key spellings are canonicalized ("Patient name", "patient_name" -> "patient name")
//   - an exact schema key wins over a synonym for the same field
//   - unknown keys are dropped
//   - missing keys become null, as do blank strings and the string "null"
//   - numbers and booleans become their literal text; lists of scalars are joined
//     with "; " and any other list or object becomes compact JSON
//   - original_filename is forced to filename
//
// The returned notes describe every change, for logging.
func NormalizeRecord(m map[string]any, filename string, logger *slog.Logger) (map[string]any, []string) {
	if logger == nil {
		logger = slog.Default()
	}

	out := make(map[string]any, len(constants.Fields()))
	exact := make(map[constants.Field]bool, len(constants.Fields()))
	var notes []string

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		f, ok := constants.CanonicalizeField(k)
		if !ok {
			notes = append(notes, k+"(unknown)")
			continue
		}
		isExact := k == string(f)
		if _, seen := out[string(f)]; seen {
			if exact[f] || !isExact {
				notes = append(notes, k+"(duplicate)")
				continue
			}
		}
		if !isExact {
			notes = append(notes, k+"->"+string(f))
		}
		out[string(f)] = coerceValue(m[k])
		exact[f] = isExact
	}

	for _, name := range constants.FieldNames() {
		if _, ok := out[name]; !ok {
			out[name] = nil
			notes = append(notes, name+"(missing)")
		}
	}

	key := string(constants.FieldOriginalFilename)
	if got, _ := out[key].(string); got != filename {
		if out[key] != nil {
			logger.Warn("llm.structure.filename_mismatch", "model_value", got, "file", filename)
		}
		out[key] = filename
		notes = append(notes, key+"(forced)")
	}

	return out, notes
}

func coerceValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		return s
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		if len(t) == 0 {
			return nil
		}
		parts := make([]string, 0, len(t))
		for _, item := range t {
			switch item.(type) {
			case []any, map[string]any:
				return compactJSON(t)
			}
			if s, ok := coerceValue(item).(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, "; ")
	default:
		return compactJSON(t)
	}
}

func compactJSON(v any) any {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
