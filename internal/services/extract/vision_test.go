// vision_test.go — Unit tests for tolerant parsing of vision model output.
package extract

import (
	"testing"
)

func TestParseVisionOutput(t *testing.T) {
	valid := `{
		"text": "CLIENT INTAKE FORM\nName:",
		"title": "Client Intake Form",
		"confidence": 0.9,
		"sections": ["Applicant Information"],
		"fields": [
			{"type": "text_field", "label": "Name", "is_required": true, "confidence": 0.95},
			{"type": "SIGNATURE", "label": "Signature", "confidence": 0.8}
		]
	}`

	t.Run("clean JSON", func(t *testing.T) {
		got := parseVisionOutput(valid)
		if got.Structure.Title != "Client Intake Form" {
			t.Errorf("Title = %q", got.Structure.Title)
		}
		if got.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", got.Confidence)
		}
		if len(got.Structure.Fields) != 2 {
			t.Fatalf("got %d fields, want 2", len(got.Structure.Fields))
		}
		if got.Structure.Fields[0].Label != "Name" || !got.Structure.Fields[0].IsRequired {
			t.Errorf("Fields[0] = %+v", got.Structure.Fields[0])
		}
		// Type strings normalize case-insensitively through the lookup table.
		if got.Structure.Fields[1].Type != "signature" {
			t.Errorf("Fields[1].Type = %q, want signature", got.Structure.Fields[1].Type)
		}
	})

	t.Run("markdown fenced JSON", func(t *testing.T) {
		fenced := "```json\n" + valid + "\n```"
		got := parseVisionOutput(fenced)
		if got.Structure.Title != "Client Intake Form" {
			t.Errorf("fenced JSON not parsed, Title = %q", got.Structure.Title)
		}
	})

	t.Run("JSON buried in prose", func(t *testing.T) {
		wrapped := "Here is the extraction you asked for:\n" + valid + "\nLet me know if you need anything else."
		got := parseVisionOutput(wrapped)
		if got.Structure.Title != "Client Intake Form" {
			t.Errorf("embedded JSON not parsed, Title = %q", got.Structure.Title)
		}
	})

	t.Run("malformed JSON degrades to raw text", func(t *testing.T) {
		raw := "The form contains a name field and a signature line."
		got := parseVisionOutput(raw)
		if got.Text != raw {
			t.Errorf("Text = %q, want raw response", got.Text)
		}
		if got.Confidence != degradedConfidence {
			t.Errorf("Confidence = %v, want %v", got.Confidence, degradedConfidence)
		}
		if len(got.Structure.Fields) != 0 {
			t.Errorf("degraded result should have no fields, got %d", len(got.Structure.Fields))
		}
	})

	t.Run("partial structure is not an error", func(t *testing.T) {
		got := parseVisionOutput(`{"text": "some text", "confidence": 0.7}`)
		if got.Text != "some text" {
			t.Errorf("Text = %q", got.Text)
		}
		if len(got.Structure.Fields) != 0 || len(got.Structure.Sections) != 0 {
			t.Errorf("expected empty structure, got %+v", got.Structure)
		}
	})

	t.Run("out-of-range confidence is clamped", func(t *testing.T) {
		got := parseVisionOutput(`{"text": "x", "confidence": 1.7}`)
		if got.Confidence != 1.0 {
			t.Errorf("Confidence = %v, want 1.0", got.Confidence)
		}
	})

	t.Run("zero field confidence inherits document confidence", func(t *testing.T) {
		got := parseVisionOutput(`{"text": "x", "confidence": 0.8, "fields": [{"type": "date", "label": "DOB"}]}`)
		if len(got.Structure.Fields) != 1 {
			t.Fatalf("got %d fields", len(got.Structure.Fields))
		}
		if got.Structure.Fields[0].Confidence != 0.8 {
			t.Errorf("field Confidence = %v, want 0.8", got.Structure.Fields[0].Confidence)
		}
	})
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace around", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.input); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"object in prose", `prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`, true},
		{"braces inside strings ignored", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"no object", "just text", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
