// types.go defines the extraction output shapes shared by the native
// PDF path and the vision path.
package extract

import (
	"strings"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// Result holds the output of a document extraction.
type Result struct {
	Text       string
	PageCount  int
	IsScanned  bool // true when the PDF had no usable text layer and went through vision
	Confidence float64
	Structure  Structure
}

// Structure is the loose document structure recovered from the text,
// before the field detector canonicalizes it.
type Structure struct {
	Title    string
	Sections []string
	Tables   []Table
	Fields   []FormElement
}

// Table is a loosely parsed tabular region.
type Table struct {
	Title string
	Rows  [][]string
}

// FormElement is a candidate form field as seen by the extractor. It is
// the same shape as a detected field minus slug/purpose/order — those
// are assigned during canonicalization.
type FormElement struct {
	Type       string // pre-canonical: text_field, checkbox, radio, dropdown, signature, date, number
	Label      string
	Value      string
	Section    string
	IsRequired bool
	IsChecked  bool
	Confidence float64
	Position   *models.SourcePosition
}

// elementTypes is the one fixed lookup table both extraction paths
// normalize through. Unknown strings default to text_field.
var elementTypes = map[string]string{
	"text_field": "text_field",
	"checkbox":   "checkbox",
	"radio":      "radio",
	"dropdown":   "dropdown",
	"signature":  "signature",
	"date":       "date",
	"number":     "number",
}

// NormalizeElementType maps a free-text type string (from the line
// heuristics or the vision model) onto the fixed vocabulary.
func NormalizeElementType(raw string) string {
	if t, ok := elementTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return "text_field"
}
