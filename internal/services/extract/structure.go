// structure.go parses loose document structure out of natively
// extracted PDF text with line-level heuristics.
//
// Paper forms are surprisingly regular: section headings are short and
// shouty, fields are "Label:" followed by a blank to write in, and
// checkboxes start with a box glyph. These rules won't survive contact
// with arbitrary prose, but they don't need to — the field detector
// merges this with an AI pass later.
package extract

import (
	"regexp"
	"strings"
)

// nativeTextConfidence is assigned to elements found by the line
// heuristics. Native PDF text is reliable, the structure guess less so.
const nativeTextConfidence = 0.85

var (
	// "1. Applicant Information", "12) Household" style headings.
	numberedHeadingRe = regexp.MustCompile(`^\d{1,2}[.)]\s+\S`)

	// "Label: ____" or "Label: ....." or "Label:" with nothing after.
	fieldLineRe = regexp.MustCompile(`^([^:]{1,80}):\s*([_.\s]*)$`)

	// Checkbox glyphs that OCR and plain text both produce.
	checkboxRe = regexp.MustCompile(`^\s*(\[\s?[xX]?\]|☐|☑|□|▢)\s*(.+)$`)

	checkedGlyphRe = regexp.MustCompile(`^\s*(\[\s?[xX]\]|☑)`)
)

// ParseStructure runs the line heuristics over extracted text.
func ParseStructure(text string) Structure {
	var s Structure
	currentSection := ""

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if checkbox, checked, ok := parseCheckboxLine(line); ok {
			s.Fields = append(s.Fields, FormElement{
				Type:       "checkbox",
				Label:      checkbox,
				Section:    currentSection,
				IsChecked:  checked,
				Confidence: nativeTextConfidence,
			})
			continue
		}

		// A visible fill-in blank ("Name: ____") always wins over the
		// heading rules — "NAME: ____" is a field, not a heading.
		label, blank, isField := parseFieldLine(line)
		if isField && strings.ContainsAny(blank, "_.") {
			s.Fields = append(s.Fields, addField(label, currentSection))
			continue
		}

		if isHeading(line) {
			heading := strings.TrimSuffix(line, ":")
			if s.Title == "" && len(s.Sections) == 0 {
				// The first heading is usually the form title.
				s.Title = heading
			}
			s.Sections = append(s.Sections, heading)
			currentSection = heading
			continue
		}

		if isField {
			s.Fields = append(s.Fields, addField(label, currentSection))
			continue
		}
	}

	return s
}

// isHeading reports whether a line looks like a section heading: short
// and all-uppercase, ending in a colon, or numbered like "3. Income".
func isHeading(line string) bool {
	if len(line) > 60 {
		return false
	}
	if numberedHeadingRe.MatchString(line) {
		return true
	}
	if strings.HasSuffix(line, ":") && !strings.Contains(strings.TrimSuffix(line, ":"), ":") {
		// "SECTION A:" style — but "Name: ____" already matched as a field,
		// so only colon-terminated lines with no fill-in blank reach here.
		trimmed := strings.TrimSuffix(line, ":")
		if trimmed == strings.ToUpper(trimmed) && len(strings.Fields(trimmed)) <= 6 {
			return true
		}
	}
	letters := 0
	uppers := 0
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			letters++
		}
		if r >= 'A' && r <= 'Z' {
			letters++
			uppers++
		}
	}
	return letters >= 3 && letters == uppers && len(strings.Fields(line)) <= 6
}

// addField builds a candidate element for a matched field line.
func addField(label, section string) FormElement {
	return FormElement{
		Type:       guessFieldType(label),
		Label:      label,
		Section:    section,
		Confidence: nativeTextConfidence,
	}
}

// parseFieldLine matches "Label:" optionally followed by a fill-in
// blank (underscores, dots, whitespace). It returns the blank portion
// so the caller can distinguish "Name: ____" from "SECTION A:".
func parseFieldLine(line string) (label, blank string, ok bool) {
	m := fieldLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	label = strings.TrimSpace(m[1])
	if label == "" {
		return "", "", false
	}
	return label, m[2], true
}

// parseCheckboxLine matches lines beginning with a checkbox glyph.
func parseCheckboxLine(line string) (label string, checked bool, ok bool) {
	m := checkboxRe.FindStringSubmatch(line)
	if m == nil {
		return "", false, false
	}
	return strings.TrimSpace(m[2]), checkedGlyphRe.MatchString(line), true
}

// guessFieldType infers a pre-canonical type from label keywords.
func guessFieldType(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "date") || strings.Contains(l, "dob") || strings.Contains(l, "birth"):
		return "date"
	case strings.Contains(l, "sign"):
		return "signature"
	case strings.Contains(l, "phone") || strings.Contains(l, "ssn") ||
		strings.Contains(l, "amount") || strings.Contains(l, "income") ||
		strings.Contains(l, "zip") || strings.Contains(l, "number of"):
		return "number"
	default:
		// Email and everything else stays a short text field here; the
		// detector's canonical mapping refines email/address/phone later.
		return "text_field"
	}
}
