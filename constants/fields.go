package constants

import (
	"strings"
)

// Field is one key of the fixed patient record schema. Values are the exact JSON keys.
type Field string

const (
	FieldOriginalFilename    Field = "original_filename"
	FieldPatientName         Field = "patient name"
	FieldSpecies             Field = "species"
	FieldBreed               Field = "breed"
	FieldAge                 Field = "age"
	FieldOwnerName           Field = "owner name"
	FieldVisitDate           Field = "visit date"
	FieldNotes               Field = "notes"
	FieldProceduresWithCosts Field = "procedures with costs"
	FieldTotalCosts          Field = "total costs"
	FieldVeterinarianName    Field = "veterinarian name"
)

var allFields = []Field{
	FieldOriginalFilename,
	FieldPatientName,
	FieldSpecies,
	FieldBreed,
	FieldAge,
	FieldOwnerName,
	FieldVisitDate,
	FieldNotes,
	FieldProceduresWithCosts,
	FieldTotalCosts,
	FieldVeterinarianName,
}

// Fields returns the schema fields in output order.
func Fields() []Field {
	out := make([]Field, len(allFields))
	copy(out, allFields)
	return out
}

// FieldNames returns the schema keys as strings, in output order.
func FieldNames() []string {
	result := make([]string, len(allFields))
	for i, f := range allFields {
		result[i] = string(f)
	}
	return result
}

// Label is the human readable form used in prompts and spreadsheet headers.
func (f Field) Label() string {
	if f == FieldOriginalFilename {
		return "original_filename"
	}
	s := string(f)
	return strings.ToUpper(s[:1]) + s[1:]
}

// fieldSynonyms covers spellings models commonly emit instead of the schema keys.
var fieldSynonyms = map[string]Field{
	"filename":          FieldOriginalFilename,
	"file name":         FieldOriginalFilename,
	"original filename": FieldOriginalFilename,
	"patient":           FieldPatientName,
	"pet name":          FieldPatientName,
	"name":              FieldPatientName,
	"owner":             FieldOwnerName,
	"date":              FieldVisitDate,
	"date of visit":     FieldVisitDate,
	"procedures":        FieldProceduresWithCosts,
	"procedure costs":   FieldProceduresWithCosts,
	"total cost":        FieldTotalCosts,
	"total":             FieldTotalCosts,
	"veterinarian":      FieldVeterinarianName,
	"vet":               FieldVeterinarianName,
	"vet name":          FieldVeterinarianName,
	"doctor":            FieldVeterinarianName,
}

// CanonicalizeField maps a key as emitted by a model onto the schema.
// Matching ignores case, surrounding space, and treats '_' and '-' like a space
// (except for original_filename, which keeps its underscore in the schema).
func CanonicalizeField(key string) (Field, bool) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")
	if normalized == "" {
		return "", false
	}

	for _, f := range allFields {
		if normalized == strings.ReplaceAll(string(f), "_", " ") {
			return f, true
		}
	}
	if f, ok := fieldSynonyms[normalized]; ok {
		return f, true
	}
	return "", false
}
