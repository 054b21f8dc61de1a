package dedupe

import (
	"sort"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// MatchLevel classifies how close an existing form is to the candidate.
type MatchLevel string

const (
	MatchExact  MatchLevel = "exact"
	MatchHigh   MatchLevel = "high"
	MatchMedium MatchLevel = "medium"
	MatchLow    MatchLevel = "low"
)

// Similarity thresholds. Only exact and high matches set HasDuplicate —
// medium and low are surfaced for the reviewer but never block.
const (
	thresholdExact  = 0.95
	thresholdHigh   = 0.8
	thresholdMedium = 0.6
	thresholdLow    = 0.4
)

// ExistingForm pairs a stored form with its field rows for comparison.
type ExistingForm struct {
	Form   models.Form
	Fields []models.FormField
}

// Match is one existing form that resembles the candidate schema.
type Match struct {
	FormID       string     `json:"form_id"`
	FormName     string     `json:"form_name"`
	Level        MatchLevel `json:"level"`
	Similarity   float64    `json:"similarity"`
	SharedFields []string   `json:"shared_fields,omitempty"`
}

// DuplicateCheck is the result of scanning an org's forms.
type DuplicateCheck struct {
	HasDuplicate bool    `json:"has_duplicate"`
	Matches      []Match `json:"matches,omitempty"`
}

// CheckForDuplicates compares a candidate field schema against the
// org's existing (non-archived) forms. An identical fingerprint is an
// exact match regardless of similarity arithmetic; otherwise forms are
// ranked by Jaccard similarity over normalized field names and
// classified by threshold. Field types only matter for the fingerprint:
// two schemas asking the same questions are duplicates even when their
// answer types drifted apart.
func CheckForDuplicates(fields []models.DetectedField, existing []ExistingForm) DuplicateCheck {
	check := DuplicateCheck{}
	fingerprint := GenerateFieldFingerprint(fields)

	candidateNames := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		n := normalizeName(f.Name)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		candidateNames = append(candidateNames, n)
	}

	for _, ex := range existing {
		if ex.Form.Archived {
			continue
		}
		if ex.Form.FieldFingerprint == fingerprint && fingerprint != "" {
			check.Matches = append(check.Matches, Match{
				FormID:     ex.Form.ID,
				FormName:   ex.Form.Name,
				Level:      MatchExact,
				Similarity: 1.0,
			})
			continue
		}

		exNames := make([]string, 0, len(ex.Fields))
		for _, f := range ex.Fields {
			if n := normalizeName(f.Name); n != "" {
				exNames = append(exNames, n)
			}
		}

		score, shared := JaccardSimilarity(candidateNames, exNames)
		level, ok := classify(score)
		if !ok {
			continue
		}
		check.Matches = append(check.Matches, Match{
			FormID:       ex.Form.ID,
			FormName:     ex.Form.Name,
			Level:        level,
			Similarity:   score,
			SharedFields: shared,
		})
	}

	// Strongest matches first; ties broken by name for stable output.
	sort.SliceStable(check.Matches, func(i, j int) bool {
		if check.Matches[i].Similarity != check.Matches[j].Similarity {
			return check.Matches[i].Similarity > check.Matches[j].Similarity
		}
		return check.Matches[i].FormName < check.Matches[j].FormName
	})

	for _, m := range check.Matches {
		if m.Level == MatchExact || m.Level == MatchHigh {
			check.HasDuplicate = true
			break
		}
	}
	return check
}

// classify maps a similarity score onto a match level. Scores below the
// low threshold report no match at all.
func classify(score float64) (MatchLevel, bool) {
	switch {
	case score >= thresholdExact:
		return MatchExact, true
	case score >= thresholdHigh:
		return MatchHigh, true
	case score >= thresholdMedium:
		return MatchMedium, true
	case score >= thresholdLow:
		return MatchLow, true
	default:
		return "", false
	}
}

// JaccardSimilarity is |A ∩ B| / |A ∪ B| over normalized field names.
// An empty union is defined as zero similarity, and the intersection is
// returned for reporting.
func JaccardSimilarity(a, b []string) (float64, []string) {
	setA := make(map[string]bool, len(a))
	for _, n := range a {
		setA[n] = true
	}
	setB := make(map[string]bool, len(b))
	for _, n := range b {
		setB[n] = true
	}

	var shared []string
	for n := range setA {
		if setB[n] {
			shared = append(shared, n)
		}
	}
	sort.Strings(shared)

	union := len(setA) + len(setB) - len(shared)
	if union == 0 {
		return 0, nil
	}
	return float64(len(shared)) / float64(union), shared
}

// WeightedSimilarity refines Jaccard with type agreement: a name shared
// with matching type scores 1.0, a name shared with a different type
// scores 0.5, normalized over the count of distinct names across both
// schemas. CheckForDuplicates does not use it; it is an alternative
// scorer for callers that want type drift to dilute the score.
func WeightedSimilarity(aNames []string, aTypes map[string]models.FieldType, bNames []string, bTypes map[string]models.FieldType) (float64, []string) {
	distinct := make(map[string]bool, len(aNames)+len(bNames))
	for _, n := range aNames {
		distinct[n] = true
	}
	for _, n := range bNames {
		distinct[n] = true
	}
	if len(distinct) == 0 {
		return 0, nil
	}

	var score float64
	var shared []string
	for _, n := range aNames {
		bType, ok := bTypes[n]
		if !ok {
			continue
		}
		shared = append(shared, n)
		if aTypes[n] == bType {
			score += 1.0
		} else {
			score += 0.5
		}
	}
	sort.Strings(shared)

	return score / float64(len(distinct)), shared
}
