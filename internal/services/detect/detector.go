// Package detect turns the loose OCR structure into a canonical, typed
// field list.
//
// Two passes feed it: the deterministic OCR structure (what the
// document literally shows) and an AI enhancement call (what the fields
// mean — types, purposes, sensitivity). The merge and canonicalization
// rules live in merge.go; this file owns the AI call, the lookup
// tables, and validation.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrybe-hq/form-intake-api/internal/models"
	"github.com/scrybe-hq/form-intake-api/internal/services/extract"
	"github.com/scrybe-hq/form-intake-api/internal/services/openrouter"
)

// lowConfidenceField is the per-field threshold below which a field is
// flagged for review; lowConfidenceOverall triggers the whole-document
// manual review recommendation.
const (
	lowConfidenceField   = 0.6
	lowConfidenceOverall = 0.7
	maxFieldHints        = 20
	maxSlugLen           = 50
	maxPromptTextLen     = 15000
)

// Service performs field detection.
type Service struct {
	client *openrouter.Client
	model  string
}

// New creates a field detection service.
func New(client *openrouter.Client, model string) *Service {
	return &Service{client: client, model: model}
}

// Detection is the output of DetectFields.
type Detection struct {
	Fields            []models.DetectedField
	SuggestedFormName string
	SuggestedFormType string
	Sections          []string
	Warnings          []string
	OverallConfidence float64
}

// DetectFields canonicalizes an extraction result into typed fields.
// The AI enhancement step runs first; any failure there falls back to a
// basic structure built purely from the OCR fields.
func (s *Service) DetectFields(ctx context.Context, ocr *extract.Result) (*Detection, error) {
	det := &Detection{Sections: ocr.Structure.Sections}

	var candidates []Candidate
	enhanced, err := s.enhance(ctx, ocr)
	if err != nil {
		// Non-fatal by design: the OCR structure alone is a usable,
		// lower-quality result. Record the degradation and continue.
		log.Printf("⚠️  AI field enhancement failed, using OCR fields only: %v", err)
		det.Warnings = append(det.Warnings, "AI field enhancement unavailable; fields derived from document structure only")
		candidates = ocrOnlyCandidates(ocr.Structure.Fields)
	} else {
		det.SuggestedFormName = enhanced.SuggestedFormName
		det.SuggestedFormType = enhanced.SuggestedFormType
		candidates = MergeFieldDetections(enhanced.Fields, ocr.Structure.Fields)
	}

	if det.SuggestedFormName == "" {
		det.SuggestedFormName = ocr.Structure.Title
	}
	if det.SuggestedFormType == "" {
		det.SuggestedFormType = "other"
	}

	for i, c := range candidates {
		det.Fields = append(det.Fields, mapToDetectedField(c, i))
	}

	det.OverallConfidence = overallConfidence(det.Fields)
	if det.OverallConfidence < lowConfidenceOverall {
		det.Warnings = append(det.Warnings,
			fmt.Sprintf("overall confidence %.2f is below %.2f; manual review recommended", det.OverallConfidence, lowConfidenceOverall))
	}

	return det, nil
}

// ocrOnlyCandidates is the fallback when the AI pass fails: every OCR
// element becomes a candidate with purpose "other" at its OCR confidence.
func ocrOnlyCandidates(elements []extract.FormElement) []Candidate {
	candidates := make([]Candidate, 0, len(elements))
	for _, el := range elements {
		candidates = append(candidates, Candidate{
			Source:      SourceOCR,
			Label:       el.Label,
			Type:        el.Type,
			Purpose:     "other",
			IsRequired:  el.IsRequired,
			IsSensitive: IsSensitiveField(el.Label),
			Section:     el.Section,
			Confidence:  el.Confidence,
		})
	}
	return candidates
}

// --- canonical lookup tables ---

// fieldTypeTable maps free-text type strings (from the AI or the
// pre-canonical OCR vocabulary) onto the canonical enum. Unmapped
// strings default to text_short.
var fieldTypeTable = map[string]models.FieldType{
	"text_short": models.FieldTextShort,
	"text":       models.FieldTextShort,
	"text_field": models.FieldTextShort,
	"short_text": models.FieldTextShort,
	"text_long":  models.FieldTextLong,
	"textarea":   models.FieldTextLong,
	"long_text":  models.FieldTextLong,
	"paragraph":  models.FieldTextLong,
	"number":     models.FieldNumber,
	"numeric":    models.FieldNumber,
	"currency":   models.FieldNumber,
	"date":       models.FieldDate,
	"phone":      models.FieldPhone,
	"tel":        models.FieldPhone,
	"telephone":  models.FieldPhone,
	"email":      models.FieldEmail,
	"address":    models.FieldAddress,
	"dropdown":   models.FieldDropdown,
	"select":     models.FieldDropdown,
	"radio":      models.FieldDropdown,
	"checkbox":   models.FieldCheckbox,
	"yes_no":     models.FieldYesNo,
	"yesno":      models.FieldYesNo,
	"boolean":    models.FieldYesNo,
	"signature":  models.FieldSignature,
	"file":       models.FieldFile,
	"upload":     models.FieldFile,
}

// fieldPurposeTable maps free-text purpose strings onto the canonical
// enum. Unmapped strings default to other.
var fieldPurposeTable = map[string]models.FieldPurpose{
	"grant_requirement":   models.PurposeGrantRequirement,
	"grant":               models.PurposeGrantRequirement,
	"internal_ops":        models.PurposeInternalOps,
	"internal":            models.PurposeInternalOps,
	"operations":          models.PurposeInternalOps,
	"compliance":          models.PurposeCompliance,
	"outcome_measurement": models.PurposeOutcomeMeasurement,
	"outcome":             models.PurposeOutcomeMeasurement,
	"risk_assessment":     models.PurposeRiskAssessment,
	"risk":                models.PurposeRiskAssessment,
	"other":               models.PurposeOther,
}

// MapFieldType maps a free-text type through the lookup table.
func MapFieldType(raw string) models.FieldType {
	if t, ok := fieldTypeTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return models.FieldTextShort
}

// MapFieldPurpose maps a free-text purpose through the lookup table.
func MapFieldPurpose(raw string) models.FieldPurpose {
	if p, ok := fieldPurposeTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return p
	}
	return models.PurposeOther
}

// mapToDetectedField canonicalizes one candidate. The sensitivity flag
// is an OR: either source said sensitive, or the label pattern matches.
func mapToDetectedField(c Candidate, order int) models.DetectedField {
	return models.DetectedField{
		Slug:        Slugify(c.Label),
		Name:        strings.TrimSpace(c.Label),
		Type:        MapFieldType(c.Type),
		Purpose:     MapFieldPurpose(c.Purpose),
		PurposeNote: c.PurposeNote,
		HelpText:    c.HelpText,
		IsRequired:  c.IsRequired,
		IsSensitive: c.IsSensitive || IsSensitiveField(c.Label),
		Options:     c.Options,
		Section:     c.Section,
		Order:       order,
		Confidence:  clampConfidence(c.Confidence),
		SourceLabel: c.Label,
	}
}

// Slugify builds a url-safe identifier from a label: lowercase,
// non-alphanumerics to underscores, collapsed and trimmed, capped at 50
// characters. An empty result falls back to a timestamped slug.
func Slugify(label string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastUnderscore = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "_")
	}
	if slug == "" {
		return fmt.Sprintf("field_%d", time.Now().UnixMilli())
	}
	return slug
}

func clampConfidence(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// overallConfidence is the arithmetic mean of per-field confidences,
// zero when there are no fields.
func overallConfidence(fields []models.DetectedField) float64 {
	if len(fields) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range fields {
		sum += f.Confidence
	}
	return sum / float64(len(fields))
}

// Validation is the outcome of ValidateDetectedFields. Errors are
// pipeline-fatal; warnings accompany the result into review.
type Validation struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// ValidateDetectedFields checks the canonical field list. Duplicate
// slugs and empty labels are errors; low-confidence and sensitive
// fields are warnings listing the offending field names.
func ValidateDetectedFields(fields []models.DetectedField) Validation {
	v := Validation{IsValid: true}

	seen := make(map[string][]string)
	var empty, lowConf, sensitive []string
	for _, f := range fields {
		seen[f.Slug] = append(seen[f.Slug], f.Name)
		if strings.TrimSpace(f.Name) == "" {
			empty = append(empty, f.Slug)
		}
		if f.Confidence < lowConfidenceField {
			lowConf = append(lowConf, f.Name)
		}
		if f.IsSensitive {
			sensitive = append(sensitive, f.Name)
		}
	}

	for slug, names := range seen {
		if len(names) > 1 {
			v.Errors = append(v.Errors,
				fmt.Sprintf("duplicate slug %q shared by fields: %s", slug, strings.Join(names, ", ")))
		}
	}
	if len(empty) > 0 {
		v.Errors = append(v.Errors,
			fmt.Sprintf("fields with empty labels: %s", strings.Join(empty, ", ")))
	}
	if len(lowConf) > 0 {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("low-confidence fields (below %.1f): %s", lowConfidenceField, strings.Join(lowConf, ", ")))
	}
	if len(sensitive) > 0 {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("sensitive fields detected: %s", strings.Join(sensitive, ", ")))
	}

	v.IsValid = len(v.Errors) == 0
	return v
}

// --- AI enhancement ---

const enhanceSystemPrompt = "You map paper intake forms used by human-services organizations onto structured digital form fields. You respond only with valid JSON."

// enhanceResult mirrors the JSON schema the enhancement call returns.
type enhanceResult struct {
	SuggestedFormName string
	SuggestedFormType string
	Fields            []Candidate
}

type enhanceResponse struct {
	SuggestedFormName string `json:"suggested_form_name"`
	SuggestedFormType string `json:"suggested_form_type"`
	Fields            []struct {
		Label       string   `json:"label"`
		Type        string   `json:"type"`
		Purpose     string   `json:"purpose"`
		PurposeNote string   `json:"purpose_note"`
		HelpText    string   `json:"help_text"`
		IsRequired  bool     `json:"is_required"`
		IsSensitive bool     `json:"is_sensitive"`
		Options     []string `json:"options"`
		Section     string   `json:"section"`
		Confidence  float64  `json:"confidence"`
	} `json:"fields"`
}

// enhance asks the model for an independent field list derived from the
// extracted text, with the first OCR-detected fields as hints.
func (s *Service) enhance(ctx context.Context, ocr *extract.Result) (*enhanceResult, error) {
	prompt := buildEnhancePrompt(ocr)

	raw, err := s.client.Complete(ctx, s.model, enhanceSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	parsed, err := parseEnhanceOutput(raw)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// buildEnhancePrompt assembles the enhancement prompt from the OCR text
// and up to 20 detected elements as hints.
func buildEnhancePrompt(ocr *extract.Result) string {
	var b strings.Builder
	b.WriteString(`Analyze this extracted form text and propose the complete list of digital form fields.

Respond with valid JSON in this exact format:
{
  "suggested_form_name": "",
  "suggested_form_type": "intake|assessment|consent|survey|other",
  "fields": [{"label": "", "type": "text_short|text_long|number|date|phone|email|address|dropdown|checkbox|yes_no|signature|file", "purpose": "grant_requirement|internal_ops|compliance|outcome_measurement|risk_assessment|other", "purpose_note": "", "help_text": "", "is_required": false, "is_sensitive": false, "options": [], "section": "", "confidence": 0.0-1.0}]
}

`)

	if len(ocr.Structure.Fields) > 0 {
		b.WriteString("Fields already detected in the document layout (use as hints, correct freely):\n")
		for i, f := range ocr.Structure.Fields {
			if i >= maxFieldHints {
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", f.Label, f.Type)
		}
		b.WriteString("\n")
	}

	text := ocr.Text
	if len(text) > maxPromptTextLen {
		text = text[:maxPromptTextLen] + "\n\n[Document truncated due to length...]"
	}
	b.WriteString("Extracted text:\n")
	b.WriteString(text)

	return b.String()
}

// parseEnhanceOutput parses the enhancement response. Unlike the vision
// call there is no degraded fallback here — a response we can't parse
// means the whole step failed and the caller falls back to OCR fields.
func parseEnhanceOutput(raw string) (*enhanceResult, error) {
	jsonStr := stripFences(raw)

	var resp enhanceResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("unparsable enhancement response: %w", err)
	}

	result := &enhanceResult{
		SuggestedFormName: resp.SuggestedFormName,
		SuggestedFormType: resp.SuggestedFormType,
	}
	for _, f := range resp.Fields {
		if strings.TrimSpace(f.Label) == "" {
			continue
		}
		result.Fields = append(result.Fields, Candidate{
			Source:      SourceAI,
			Label:       f.Label,
			Type:        f.Type,
			Purpose:     f.Purpose,
			PurposeNote: f.PurposeNote,
			HelpText:    f.HelpText,
			IsRequired:  f.IsRequired,
			IsSensitive: f.IsSensitive,
			Options:     f.Options,
			Section:     f.Section,
			Confidence:  clampConfidence(f.Confidence),
		})
	}
	return result, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
