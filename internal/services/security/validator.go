// Package security validates uploaded file metadata and bytes before
// anything else in the pipeline touches them.
//
// The checks are deliberately layered: cheap metadata rules first
// (extension, MIME, size), then byte-level checks (magic signatures,
// PDF active-content markers). A file must pass every layer before a
// conversion record is created.
package security

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// Default upload ceilings. Photos tend to come from phone cameras
// (5-8MB HEIC/JPEG); multi-page PDF packets run larger.
const (
	DefaultMaxPhotoBytes int64 = 10 << 20 // 10MB
	DefaultMaxPDFBytes   int64 = 25 << 20 // 25MB
)

// scannedCharsPerPage is the average extractable characters per page
// below which a PDF is treated as image-only (scanned).
const scannedCharsPerPage = 100

// Config holds the tunable validation tables. Lifted into a struct so
// limits can be tuned per deployment and tests stay deterministic.
type Config struct {
	MaxPhotoBytes int64
	MaxPDFBytes   int64
}

// Validator performs upload validation.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator. Zero limits fall back to the defaults.
func NewValidator(cfg Config) *Validator {
	if cfg.MaxPhotoBytes <= 0 {
		cfg.MaxPhotoBytes = DefaultMaxPhotoBytes
	}
	if cfg.MaxPDFBytes <= 0 {
		cfg.MaxPDFBytes = DefaultMaxPDFBytes
	}
	return &Validator{cfg: cfg}
}

// FileValidation is the outcome of ValidateFile.
type FileValidation struct {
	SourceType models.SourceType
	Warnings   []string
}

// supportedImageMIMEs maps accepted image MIME types to their usual
// file extensions, used for the extension/MIME agreement warning.
var supportedImageMIMEs = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/webp": {".webp"},
	"image/heic": {".heic"},
	"image/heif": {".heif"},
}

// executableExtensions are extensions we refuse outright, wherever they
// appear among the filename's dot segments. Catches "report.exe" and
// the double-extension trick "report.exe.pdf" alike.
var executableExtensions = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "com": true, "scr": true,
	"ps1": true, "sh": true, "js": true, "vbs": true, "php": true,
	"jar": true, "msi": true, "dll": true, "app": true,
}

// ValidateFile checks filename, declared MIME type, and size before any
// bytes are read. It classifies the source type from the MIME type:
// image/* becomes a photo, application/pdf starts as a clean PDF (the
// extractor may later upgrade it to scanned).
//
// Extension/MIME disagreement is a warning, not a failure — browsers
// and mobile OSes are sloppy about this. Size overruns and suspicious
// filenames are hard failures.
func (v *Validator) ValidateFile(filename, mimeType string, sizeBytes int64) (*FileValidation, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("filename %q has no extension", filename)
	}

	result := &FileValidation{}
	mime := strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case strings.HasPrefix(mime, "image/"):
		knownExts, ok := supportedImageMIMEs[mime]
		if !ok {
			return nil, fmt.Errorf("unsupported image type %q; accepted: JPEG, PNG, WebP, HEIC", mimeType)
		}
		result.SourceType = models.SourcePhoto
		if sizeBytes > v.cfg.MaxPhotoBytes {
			return nil, fmt.Errorf("photo is %d bytes; maximum is %d", sizeBytes, v.cfg.MaxPhotoBytes)
		}
		if !containsString(knownExts, ext) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("file extension %q does not match declared type %q", ext, mimeType))
		}

	case mime == "application/pdf":
		result.SourceType = models.SourcePDFClean
		if sizeBytes > v.cfg.MaxPDFBytes {
			return nil, fmt.Errorf("PDF is %d bytes; maximum is %d", sizeBytes, v.cfg.MaxPDFBytes)
		}
		if ext != ".pdf" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("file extension %q does not match declared type application/pdf", ext))
		}

	default:
		return nil, fmt.Errorf("unsupported file type %q; upload a photo (JPEG/PNG/WebP/HEIC) or a PDF", mimeType)
	}

	return result, nil
}

// checkFilename rejects filenames that smell like an attack: null bytes,
// path traversal, or an executable/script extension anywhere in the name.
func checkFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains a null byte")
	}
	if strings.Contains(filename, "..") {
		return fmt.Errorf("filename contains a path traversal sequence")
	}
	// Every dot segment after the base name counts as an extension,
	// so "report.exe.pdf" is rejected even though it "ends in" .pdf.
	segments := strings.Split(strings.ToLower(filename), ".")
	for _, seg := range segments[1:] {
		if executableExtensions[seg] {
			return fmt.Errorf("filename %q contains a disallowed executable extension %q", filename, "."+seg)
		}
	}
	return nil
}

// magic signatures for the formats we accept. HEIC/HEIF is special:
// the "ftyp" box marker sits at byte offset 4, after the box length.
var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	pdfMagic  = []byte("%PDF")
	riffMagic = []byte("RIFF")
	ftypMagic = []byte("ftyp")
)

// ValidateMagicBytes compares the leading bytes of the buffer against
// the known signature for the claimed MIME type. A mismatch means the
// declared type is spoofed and the upload must be rejected upstream.
func ValidateMagicBytes(buf []byte, mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg":
		return bytes.HasPrefix(buf, jpegMagic)
	case "image/png":
		return bytes.HasPrefix(buf, pngMagic)
	case "image/webp":
		// WebP is a RIFF container; the full check would also look for
		// "WEBP" at offset 8, but the RIFF header already rules out the
		// formats we care about rejecting.
		return bytes.HasPrefix(buf, riffMagic)
	case "image/heic", "image/heif":
		return len(buf) >= 8 && bytes.Equal(buf[4:8], ftypMagic)
	case "application/pdf":
		return bytes.HasPrefix(buf, pdfMagic)
	default:
		return false
	}
}

// SanitizeFilename turns an arbitrary client filename into a safe,
// collision-free storage key segment. The output keeps the lowercase
// original extension but is never reused as a display name.
func SanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	// Strip anything that isn't a letter, digit, dash, or underscore.
	var b strings.Builder
	lastSep := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		default:
			// Collapse runs of separators/whitespace/illegal chars to one underscore.
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastSep = true
		}
	}

	clean := strings.Trim(b.String(), "_")
	if len(clean) > 100 {
		clean = clean[:100]
	}
	if clean == "" {
		clean = "upload"
	}

	// Timestamp + random suffix guarantees uniqueness even for identical
	// uploads arriving in the same second.
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%d_%s%s", clean, time.Now().Unix(), suffix, ext)
}

// ScanResult is the outcome of a PDF threat scan.
type ScanResult struct {
	IsSafe  bool
	Threats []string
}

// pdfThreatMarkers are PDF object markers associated with active
// content. This is a byte-level heuristic blocklist, NOT a full PDF
// object-graph parse — it errs on the side of rejecting.
var pdfThreatMarkers = []struct {
	marker []byte
	threat string
}{
	{[]byte("/JavaScript"), "embedded JavaScript"},
	{[]byte("/JS"), "JavaScript action"},
	{[]byte("/EmbeddedFile"), "embedded file"},
	{[]byte("/Launch"), "launch action"},
	{[]byte("/SubmitForm"), "form submission action"},
}

// ScanPDFForThreats scans the raw PDF bytes for active-content markers.
// IsSafe is true only when the threat list is empty.
func ScanPDFForThreats(buf []byte) ScanResult {
	result := ScanResult{IsSafe: true}
	for _, m := range pdfThreatMarkers {
		if bytes.Contains(buf, m.marker) {
			// /JS is a prefix of /JavaScript; don't report both.
			if m.threat == "JavaScript action" && bytes.Contains(buf, []byte("/JavaScript")) {
				continue
			}
			result.Threats = append(result.Threats, m.threat)
		}
	}
	// A file specification (/F) together with an embedded file stream
	// (/EF) means the PDF carries a referenced attachment.
	if bytes.Contains(buf, []byte("/F ")) && bytes.Contains(buf, []byte("/EF")) {
		result.Threats = append(result.Threats, "referenced embedded file")
	}
	result.IsSafe = len(result.Threats) == 0
	return result
}

// IsPDFScanned reports whether the native text extraction produced so
// little text that the PDF must be image-only. Below an average of 100
// extractable characters per page we route the document through the
// vision path instead.
func IsPDFScanned(textContent string, pageCount int) bool {
	if pageCount <= 0 {
		return true
	}
	avg := float64(len(strings.TrimSpace(textContent))) / float64(pageCount)
	return avg < scannedCharsPerPage
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
