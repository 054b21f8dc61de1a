// Package dedupe detects when a newly converted form duplicates a form
// the organization already has.
//
// Two mechanisms: an exact fingerprint over the field schema (cheap,
// indexed in the database) and a pairwise similarity scan for near
// duplicates. Everything here is pure — the orchestrator supplies the
// candidate fields and the org's existing forms.
package dedupe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeName lowercases and strips non-alphanumerics so cosmetic
// label differences don't change the fingerprint.
func normalizeName(name string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(name), "")
}

// GenerateFieldFingerprint produces a stable hex digest of a field
// schema. Fields are sorted by name before hashing, so field order on
// the source document never affects the result. Two forms collide
// exactly when they have the same set of (normalized name, type) pairs.
func GenerateFieldFingerprint(fields []models.DetectedField) string {
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, normalizeName(f.Name)+":"+string(f.Type))
	}
	sort.Strings(pairs)

	var h uint32
	for _, c := range strings.Join(pairs, "|") {
		h = h*31 + uint32(c)
	}
	return fmt.Sprintf("%08x", h)
}
