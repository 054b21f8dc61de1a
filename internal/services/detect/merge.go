// merge.go combines the two field sources — the deterministic OCR
// structure pass and the AI enhancement pass — into one candidate list.
//
// The merge is a pure function over tagged candidates so it can be unit
// tested without invoking the AI call. Confidence arithmetic:
//   - a field both sources agree on keeps the AI version at
//     max(ai, ocr) * 0.95 (agreement is strong evidence, the small decay
//     accounts for label-matching slop)
//   - an OCR field the AI pass missed is appended at ocr * 0.8 (one
//     source only, and the weaker one for semantics)
package detect

import (
	"regexp"
	"strings"

	"github.com/scrybe-hq/form-intake-api/internal/services/extract"
)

// CandidateSource tags where a field candidate came from.
type CandidateSource string

const (
	SourceAI     CandidateSource = "ai"
	SourceOCR    CandidateSource = "ocr"
	SourceMerged CandidateSource = "merged"
)

const (
	mergedConfidenceDecay  = 0.95
	unmatchedOCRConfidence = 0.8
)

// Candidate is one proposed field before canonicalization.
type Candidate struct {
	Source      CandidateSource
	Label       string
	Type        string // free text, mapped through the type table later
	Purpose     string // free text, mapped through the purpose table later
	PurposeNote string
	HelpText    string
	IsRequired  bool
	IsSensitive bool
	Options     []string
	Section     string
	Confidence  float64
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeLabel lowercases and strips non-alphanumerics so "Date of
// Birth:", "date_of_birth" and "Date Of Birth" all collide.
func normalizeLabel(label string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(label), "")
}

// MergeFieldDetections merges the AI-proposed fields with the
// OCR-detected elements. AI fields matched by normalized label consume
// the OCR counterpart; leftover OCR fields are appended with a
// confidence penalty.
func MergeFieldDetections(aiFields []Candidate, ocrFields []extract.FormElement) []Candidate {
	// Index OCR fields by normalized label. Later duplicates don't
	// overwrite earlier ones — first occurrence wins.
	ocrByLabel := make(map[string]*extract.FormElement, len(ocrFields))
	ocrOrder := make([]string, 0, len(ocrFields))
	for i := range ocrFields {
		key := normalizeLabel(ocrFields[i].Label)
		if key == "" {
			continue
		}
		if _, exists := ocrByLabel[key]; !exists {
			ocrByLabel[key] = &ocrFields[i]
			ocrOrder = append(ocrOrder, key)
		}
	}

	merged := make([]Candidate, 0, len(aiFields)+len(ocrFields))
	for _, ai := range aiFields {
		key := normalizeLabel(ai.Label)
		if ocr, ok := ocrByLabel[key]; ok && key != "" {
			// Both sources saw this field: keep the AI version (richer
			// semantics), boost confidence from agreement.
			c := ai
			c.Source = SourceMerged
			c.Confidence = maxFloat(ai.Confidence, ocr.Confidence) * mergedConfidenceDecay
			if c.Section == "" {
				c.Section = ocr.Section
			}
			merged = append(merged, c)
			delete(ocrByLabel, key) // matched, consumed
		} else {
			c := ai
			c.Source = SourceAI
			merged = append(merged, c)
		}
	}

	// OCR fields the AI pass never matched — penalized because the
	// semantic pass missed them, but still worth surfacing for review.
	for _, key := range ocrOrder {
		ocr, ok := ocrByLabel[key]
		if !ok {
			continue // consumed above
		}
		merged = append(merged, Candidate{
			Source:      SourceOCR,
			Label:       ocr.Label,
			Type:        ocr.Type,
			Purpose:     "other",
			IsRequired:  ocr.IsRequired,
			IsSensitive: IsSensitiveField(ocr.Label),
			Section:     ocr.Section,
			Confidence:  ocr.Confidence * unmatchedOCRConfidence,
		})
	}

	return merged
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
