// validator_test.go — Unit tests for upload validation.
//
// Go Pattern: Table-driven tests are the standard Go pattern for testing
// multiple inputs. Define a slice of test cases, then loop through them.
package security

import (
	"strings"
	"testing"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

func TestValidateFile(t *testing.T) {
	v := NewValidator(Config{})

	tests := []struct {
		name       string
		filename   string
		mimeType   string
		sizeBytes  int64
		wantType   models.SourceType
		wantError  bool
		wantWarned bool
	}{
		{
			name:      "jpeg photo",
			filename:  "intake_form.jpg",
			mimeType:  "image/jpeg",
			sizeBytes: 2 << 20,
			wantType:  models.SourcePhoto,
		},
		{
			name:      "clean pdf",
			filename:  "assessment.pdf",
			mimeType:  "application/pdf",
			sizeBytes: 5 << 20,
			wantType:  models.SourcePDFClean,
		},
		{
			name:      "heic from a phone",
			filename:  "IMG_0421.heic",
			mimeType:  "image/heic",
			sizeBytes: 4 << 20,
			wantType:  models.SourcePhoto,
		},
		{
			name:       "extension disagrees with MIME — warn, not fail",
			filename:   "scan.png",
			mimeType:   "image/jpeg",
			sizeBytes:  1 << 20,
			wantType:   models.SourcePhoto,
			wantWarned: true,
		},
		{
			name:      "photo over the size ceiling",
			filename:  "huge.jpg",
			mimeType:  "image/jpeg",
			sizeBytes: 11 << 20,
			wantError: true,
		},
		{
			name:      "pdf over the size ceiling",
			filename:  "packet.pdf",
			mimeType:  "application/pdf",
			sizeBytes: 26 << 20,
			wantError: true,
		},
		{
			name:      "unsupported MIME type",
			filename:  "notes.docx",
			mimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			sizeBytes: 1000,
			wantError: true,
		},
		{
			name:      "no extension",
			filename:  "upload",
			mimeType:  "image/jpeg",
			sizeBytes: 1000,
			wantError: true,
		},
		{
			name:      "path traversal",
			filename:  "../../etc/passwd.jpg",
			mimeType:  "image/jpeg",
			sizeBytes: 1000,
			wantError: true,
		},
		{
			name:      "null byte",
			filename:  "form\x00.jpg",
			mimeType:  "image/jpeg",
			sizeBytes: 1000,
			wantError: true,
		},
		{
			name:      "executable despite pdf MIME",
			filename:  "report.exe",
			mimeType:  "application/pdf",
			sizeBytes: 1000,
			wantError: true,
		},
		{
			name:      "double extension trick",
			filename:  "report.exe.pdf",
			mimeType:  "application/pdf",
			sizeBytes: 1000,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateFile(tt.filename, tt.mimeType, tt.sizeBytes)

			if tt.wantError {
				if err == nil {
					t.Errorf("ValidateFile(%q, %q) expected error, got %+v", tt.filename, tt.mimeType, got)
				}
				return
			}

			if err != nil {
				t.Fatalf("ValidateFile(%q, %q) unexpected error: %v", tt.filename, tt.mimeType, err)
			}
			if got.SourceType != tt.wantType {
				t.Errorf("SourceType = %q, want %q", got.SourceType, tt.wantType)
			}
			if tt.wantWarned && len(got.Warnings) == 0 {
				t.Errorf("expected a warning, got none")
			}
			if !tt.wantWarned && len(got.Warnings) > 0 {
				t.Errorf("unexpected warnings: %v", got.Warnings)
			}
		})
	}
}

func TestValidateMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		mime string
		want bool
	}{
		{"valid jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image/jpeg", true},
		{"png declared as jpeg", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D}, "image/jpeg", false},
		{"valid png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "image/png", true},
		{"valid pdf", []byte("%PDF-1.7\n"), "application/pdf", true},
		{"html declared as pdf", []byte("<html><script>"), "application/pdf", false},
		{"valid webp riff header", []byte("RIFF\x10\x00\x00\x00WEBP"), "image/webp", true},
		{"heic ftyp box at offset 4", []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c'}, "image/heic", true},
		{"heic too short", []byte{0x00, 0x00, 0x00}, "image/heic", false},
		{"unknown mime", []byte("%PDF-1.7"), "application/zip", false},
		{"empty buffer", nil, "image/jpeg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMagicBytes(tt.buf, tt.mime); got != tt.want {
				t.Errorf("ValidateMagicBytes(%q) = %v, want %v", tt.mime, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantExt string
	}{
		{"path traversal stripped", "../../etc/passwd.jpg", ".jpg"},
		{"spaces and symbols collapsed", "My  Intake!! Form (v2).PDF", ".pdf"},
		{"unicode stripped", "fõrm—intake.png", ".png"},
		{"empty base falls back", "....jpg", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)

			if strings.Contains(got, "..") {
				t.Errorf("SanitizeFilename(%q) = %q still contains '..'", tt.input, got)
			}
			if strings.ContainsAny(got, "/\\ ") {
				t.Errorf("SanitizeFilename(%q) = %q contains a separator or space", tt.input, got)
			}
			if !strings.HasSuffix(got, tt.wantExt) {
				t.Errorf("SanitizeFilename(%q) = %q, want suffix %q", tt.input, got, tt.wantExt)
			}
		})
	}

	// Same input twice must not collide — the suffix is randomized.
	a := SanitizeFilename("intake.pdf")
	b := SanitizeFilename("intake.pdf")
	if a == b {
		t.Errorf("SanitizeFilename produced colliding names: %q", a)
	}

	// Very long base names are truncated to 100 chars before the suffix.
	long := strings.Repeat("a", 300) + ".pdf"
	got := SanitizeFilename(long)
	if len(got) > 130 {
		t.Errorf("SanitizeFilename(long) = %d chars, want base truncated to 100", len(got))
	}
}

func TestScanPDFForThreats(t *testing.T) {
	tests := []struct {
		name        string
		pdf         string
		wantSafe    bool
		wantThreats int
	}{
		{
			name:     "benign pdf",
			pdf:      "%PDF-1.4\n1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj",
			wantSafe: true,
		},
		{
			name:        "embedded javascript",
			pdf:         "%PDF-1.4\n<< /S /JavaScript /JS (app.alert('x')) >>",
			wantSafe:    false,
			wantThreats: 1, // /JS is a prefix of /JavaScript; reported once
		},
		{
			name:        "bare JS action",
			pdf:         "%PDF-1.4\n<< /JS (this.print()) >>",
			wantSafe:    false,
			wantThreats: 1,
		},
		{
			name:        "launch action",
			pdf:         "%PDF-1.4\n<< /S /Launch /F (cmd.exe) >>",
			wantSafe:    false,
			wantThreats: 1,
		},
		{
			name:        "embedded file with reference",
			pdf:         "%PDF-1.4\n<< /Type /Filespec /F (evil.bin) /EF << /F 9 0 R >> >> /EmbeddedFile",
			wantSafe:    false,
			wantThreats: 2,
		},
		{
			name:        "form submission",
			pdf:         "%PDF-1.4\n<< /S /SubmitForm /F (http://evil) >>",
			wantSafe:    false,
			wantThreats: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanPDFForThreats([]byte(tt.pdf))
			if got.IsSafe != tt.wantSafe {
				t.Errorf("IsSafe = %v, want %v (threats: %v)", got.IsSafe, tt.wantSafe, got.Threats)
			}
			if tt.wantThreats > 0 && len(got.Threats) != tt.wantThreats {
				t.Errorf("Threats = %v, want %d entries", got.Threats, tt.wantThreats)
			}
		})
	}
}

func TestIsPDFScanned(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		pageCount int
		want      bool
	}{
		{"3 pages with ~50 chars each", strings.Repeat("x", 150), 3, true},
		{"3 pages with plenty of text", strings.Repeat("x", 900), 3, false},
		{"exactly at the threshold", strings.Repeat("x", 300), 3, false},
		{"just under the threshold", strings.Repeat("x", 299), 3, true},
		{"zero pages", "", 0, true},
		{"empty text", "", 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPDFScanned(tt.text, tt.pageCount); got != tt.want {
				t.Errorf("IsPDFScanned(%d chars, %d pages) = %v, want %v",
					len(tt.text), tt.pageCount, got, tt.want)
			}
		})
	}
}
