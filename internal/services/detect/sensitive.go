// sensitive.go flags fields whose labels indicate PII/PHI.
//
// The patterns force is_sensitive=true regardless of what the AI source
// reported — a model that labels "Social Security Number" non-sensitive
// must be overridden, never trusted.
package detect

import "regexp"

// sensitivePatterns match label text for the categories of personal
// data a human-services intake form commonly collects.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bssn\b|social\s*security`),
	regexp.MustCompile(`(?i)\bdob\b|date\s*of\s*birth|birth\s*date`),
	regexp.MustCompile(`(?i)driver'?s?\s*licen[cs]e|licen[cs]e\s*(number|no\b)`),
	regexp.MustCompile(`(?i)passport`),
	regexp.MustCompile(`(?i)bank|routing|account\s*(number|no\b)`),
	regexp.MustCompile(`(?i)credit\s*card|card\s*number`),
	regexp.MustCompile(`(?i)\bpin\b|password`),
	regexp.MustCompile(`(?i)income|salary|wage`),
	regexp.MustCompile(`(?i)medical|diagnos[ie]s|prescription|health\s*condition`),
	regexp.MustCompile(`(?i)criminal|arrest|conviction`),
	regexp.MustCompile(`(?i)immigration|visa\b|alien\s*(number|registration)`),
}

// IsSensitiveField reports whether a field label matches any of the
// PII/PHI keyword patterns.
func IsSensitiveField(label string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(label) {
			return true
		}
	}
	return false
}
