package llm

import (
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
)

// Limits on what a model reply may contain before it is coerced into a record.
const (
	maxOutputValueLen = 20000
	maxOutputListLen  = 100
	maxOutputKeys     = 64
)

// BuildModelOutputJSONSchema returns the shape a raw model reply must have:
// an object whose values are scalars or flat lists of scalars. Unknown keys are
// allowed here and dropped later by NormalizeRecord; nested objects and lists are not.
func BuildModelOutputJSONSchema() map[string]any {
	scalar := map[string]any{
		"type":      []string{"string", "number", "boolean", "null"},
		"maxLength": maxOutputValueLen,
	}
	value := map[string]any{
		"anyOf": []any{
			scalar,
			map[string]any{
				"type":     "array",
				"items":    scalar,
				"maxItems": maxOutputListLen,
			},
		},
	}

	return map[string]any{
		"type":          "object",
		"maxProperties": maxOutputKeys,
		"properties": map[string]any{
			string(constants.FieldOriginalFilename): map[string]any{
				"type":      []string{"string", "null"},
				"maxLength": maxOutputValueLen,
			},
		},
		"additionalProperties": value,
	}
}
