package entity

import (
	"encoding/json"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
)

// PatientRecord is the fixed-schema result for one veterinary document.
// Every key is always serialized; an unrecoverable field is null.
type PatientRecord struct {
	OriginalFilename    *string `json:"original_filename"`
	PatientName         *string `json:"patient name"`
	Species             *string `json:"species"`
	Breed               *string `json:"breed"`
	Age                 *string `json:"age"`
	OwnerName           *string `json:"owner name"`
	VisitDate           *string `json:"visit date"`
	Notes               *string `json:"notes"`
	ProceduresWithCosts *string `json:"procedures with costs"`
	TotalCosts          *string `json:"total costs"`
	VeterinarianName    *string `json:"veterinarian name"`
}

// slots lists the fields in constants.Fields() order.
func (r *PatientRecord) slots() []**string {
	return []**string{
		&r.OriginalFilename,
		&r.PatientName,
		&r.Species,
		&r.Breed,
		&r.Age,
		&r.OwnerName,
		&r.VisitDate,
		&r.Notes,
		&r.ProceduresWithCosts,
		&r.TotalCosts,
		&r.VeterinarianName,
	}
}

func (r *PatientRecord) slot(f constants.Field) **string {
	for i, field := range constants.Fields() {
		if field == f {
			return r.slots()[i]
		}
	}
	return nil
}

// Get returns the value of a schema field (nil when null or unknown).
func (r *PatientRecord) Get(f constants.Field) *string {
	if s := r.slot(f); s != nil {
		return *s
	}
	return nil
}

// Set assigns a schema field. Unknown fields are ignored.
func (r *PatientRecord) Set(f constants.Field, v *string) {
	if s := r.slot(f); s != nil {
		*s = v
	}
}

// Filename returns original_filename or "" when null.
func (r *PatientRecord) Filename() string {
	if r.OriginalFilename == nil {
		return ""
	}
	return *r.OriginalFilename
}

// BatchResult is the ordered aggregate of one run; failed documents are absent.
type BatchResult []PatientRecord

// MarshalJSON keeps an empty batch as [] instead of null.
func (b BatchResult) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]PatientRecord(b))
}
