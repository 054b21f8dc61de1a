// Package extract turns validated upload bytes into raw text plus a
// loose document structure.
//
// Two paths: native PDF text extraction via the ledongthuc/pdf library
// (pure Go, no CGO), and vision-model extraction for photos and
// image-only PDFs. pdfcpu supplies an authoritative page count when the
// native reader can't parse the document at all.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/scrybe-hq/form-intake-api/internal/services/openrouter"
	"github.com/scrybe-hq/form-intake-api/internal/services/security"
)

// Service performs document extraction.
type Service struct {
	client      *openrouter.Client
	visionModel string
}

// New creates an extraction service.
func New(client *openrouter.Client, visionModel string) *Service {
	return &Service{client: client, visionModel: visionModel}
}

// FromImage extracts text and structure from a photographed form.
// Photos always go through the vision model — there is no text layer.
func (s *Service) FromImage(ctx context.Context, buf []byte, mimeType string) (*Result, error) {
	return s.withVision(ctx, buf, mimeType, 1)
}

// FromPDF extracts text and structure from a PDF. Native text parsing
// runs first; if the scanned heuristic fires (too little text per
// page), the document is routed through the vision model instead and
// the result carries IsScanned=true so the caller can upgrade the
// conversion's source type.
func (s *Service) FromPDF(ctx context.Context, buf []byte) (*Result, error) {
	text, pageCount, err := extractNativeText(buf)
	if err != nil {
		// The text-layer reader chokes on some image-only PDFs; get the
		// page count from pdfcpu and treat the document as scanned.
		log.Printf("⚠️  Native PDF text extraction failed, falling back to vision: %v", err)
		pageCount, err = pdfPageCount(buf)
		if err != nil {
			return nil, fmt.Errorf("unreadable PDF: %w", err)
		}
		text = ""
	}

	if security.IsPDFScanned(text, pageCount) {
		result, err := s.withVision(ctx, buf, "application/pdf", pageCount)
		if err != nil {
			return nil, err
		}
		result.IsScanned = true
		return result, nil
	}

	return &Result{
		Text:       text,
		PageCount:  pageCount,
		Confidence: nativeTextConfidence,
		Structure:  ParseStructure(text),
	}, nil
}

// extractNativeText reads the PDF's embedded text layer.
//
// Go Pattern: The pdf library needs io.ReaderAt for random access to
// the PDF structure, so the upload stays in memory as a byte slice.
func extractNativeText(buf []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return "", 0, nil
	}

	var allText strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Some pages are images only; skip rather than fail the document.
			continue
		}

		if allText.Len() > 0 {
			allText.WriteString("\n")
		}
		allText.WriteString(strings.TrimSpace(text))
	}

	return strings.TrimSpace(allText.String()), pageCount, nil
}

// pdfPageCount asks pdfcpu for the page count. pdfcpu parses the
// cross-reference table without needing a text layer, so it works on
// documents the text extractor rejects.
func pdfPageCount(buf []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(buf), nil)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count failed: %w", err)
	}
	return count, nil
}
