package llm

import (
	"strings"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
)

// promptTemplate has exactly one substitution point: the OCR text.
const promptTemplate = `Process the following text file and extract information to JSON format.
The text contains veterinary records for a single pet. Each record includes details such as:
{{FIELDS}}
Please ensure the JSON output includes fields for each of the above details, using exactly these keys: {{KEYS}}.
Handle variations in formatting or potential typos.
If a field cannot be found, fill it in with null. Every key must be present.
Here is the text: {{OCR_TEXT}}
Only return the JSON output - there should be absolutely no other commentary as part of your response.`

var promptPrefix, promptSuffix = renderTemplate()

func renderTemplate() (string, string) {
	var fields strings.Builder
	for _, f := range constants.Fields() {
		fields.WriteString("- ")
		fields.WriteString(f.Label())
		if f == constants.FieldOriginalFilename {
			fields.WriteString(" (this is important - include it for every record, even if other fields are missing)")
		}
		fields.WriteString("\n")
	}

	quoted := make([]string, 0, len(constants.Fields()))
	for _, name := range constants.FieldNames() {
		quoted = append(quoted, `"`+name+`"`)
	}

	t := strings.NewReplacer(
		"{{FIELDS}}\n", fields.String(),
		"{{KEYS}}", strings.Join(quoted, ", "),
	).Replace(promptTemplate)

	prefix, suffix, _ := strings.Cut(t, "{{OCR_TEXT}}")
	return prefix, suffix
}

// BuildPrompt embeds the OCR text verbatim into the extraction instruction.
func BuildPrompt(ocrText string) string {
	return promptPrefix + ocrText + promptSuffix
}
