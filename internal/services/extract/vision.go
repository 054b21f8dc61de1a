// vision.go sends document images to a multimodal model and parses the
// structured JSON it returns.
//
// The model is instructed to return a fixed JSON schema, but LLMs wrap
// output in Markdown fences, add prose, or truncate. Parsing is
// therefore tolerant: strip fences, find the outermost JSON object,
// and on failure degrade to raw text at confidence 0.5 — the degraded
// result is a named branch, never an error.
package extract

import (
	"context"
	"encoding/json"
	"strings"
)

// degradedConfidence is assigned when the vision response could not be
// parsed as JSON and we fall back to treating it as raw text.
const degradedConfidence = 0.5

const visionPrompt = `You are a document digitization assistant. Extract the text and structure of this paper form.

Respond with valid JSON in this exact format:
{
  "text": "full extracted text",
  "title": "form title if present",
  "confidence": 0.0-1.0,
  "sections": ["section heading", ...],
  "tables": [{"title": "", "rows": [["cell", ...], ...]}, ...],
  "fields": [{"type": "text_field|checkbox|radio|dropdown|signature|date|number", "label": "", "value": "", "is_required": false, "confidence": 0.0-1.0}, ...]
}

Include every fill-in blank, checkbox, and signature line as a field. Do not invent fields that are not on the document.`

// visionResponse mirrors the JSON schema the model is asked to return.
type visionResponse struct {
	Text       string   `json:"text"`
	Title      string   `json:"title"`
	Confidence float64  `json:"confidence"`
	Sections   []string `json:"sections"`
	Tables     []struct {
		Title string     `json:"title"`
		Rows  [][]string `json:"rows"`
	} `json:"tables"`
	Fields []struct {
		Type       string  `json:"type"`
		Label      string  `json:"label"`
		Value      string  `json:"value"`
		IsRequired bool    `json:"is_required"`
		Confidence float64 `json:"confidence"`
	} `json:"fields"`
}

// withVision runs the multimodal extraction call and parses the result.
func (s *Service) withVision(ctx context.Context, buf []byte, mimeType string, pageCount int) (*Result, error) {
	raw, err := s.client.CompleteWithImage(ctx, s.visionModel, visionPrompt, buf, mimeType)
	if err != nil {
		return nil, err
	}
	result := parseVisionOutput(raw)
	result.PageCount = pageCount
	if result.PageCount == 0 {
		result.PageCount = 1
	}
	return result, nil
}

// parseVisionOutput turns the raw model output into a Result. Partial
// structure (empty sections/tables/fields) is an acceptable degraded
// result, not an error.
func parseVisionOutput(raw string) *Result {
	jsonStr := stripCodeFences(raw)

	var vr visionResponse
	if err := json.Unmarshal([]byte(jsonStr), &vr); err != nil {
		// Second chance: find the outermost {...} in the response.
		if inner, ok := extractJSONObject(jsonStr); ok {
			err = json.Unmarshal([]byte(inner), &vr)
		}
		if err != nil || vr.Text == "" && len(vr.Fields) == 0 {
			// Degraded fallback: keep the raw text, flag low confidence.
			return &Result{Text: raw, Confidence: degradedConfidence}
		}
	}

	result := &Result{
		Text:       vr.Text,
		Confidence: clamp01(vr.Confidence),
		Structure: Structure{
			Title:    vr.Title,
			Sections: vr.Sections,
		},
	}
	if result.Confidence == 0 {
		result.Confidence = degradedConfidence
	}
	for _, t := range vr.Tables {
		result.Structure.Tables = append(result.Structure.Tables, Table{Title: t.Title, Rows: t.Rows})
	}
	for _, f := range vr.Fields {
		conf := clamp01(f.Confidence)
		if conf == 0 {
			conf = result.Confidence
		}
		result.Structure.Fields = append(result.Structure.Fields, FormElement{
			Type:       NormalizeElementType(f.Type),
			Label:      f.Label,
			Value:      f.Value,
			IsRequired: f.IsRequired,
			Confidence: conf,
		})
	}
	return result
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(s string) string {
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

// extractJSONObject finds the first balanced {...} span in a string.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
