// Package conversion orchestrates the document-to-form pipeline.
//
// One conversion walks a fixed state machine:
//
//	pending → processing → review_required   (every successful run)
//	pending → processing → failed            (validation or pipeline error)
//	review_required → completed              (user accepts, form created)
//
// A conversion never lands on completed straight from processing — a
// human always reviews the detected fields first.
package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/models"
	"github.com/scrybe-hq/form-intake-api/internal/services/dedupe"
	"github.com/scrybe-hq/form-intake-api/internal/services/detect"
	"github.com/scrybe-hq/form-intake-api/internal/services/extract"
	"github.com/scrybe-hq/form-intake-api/internal/services/security"
	"github.com/scrybe-hq/form-intake-api/internal/storage"
)

// FeaturePhotoToForm gates the whole pipeline per org.
const FeaturePhotoToForm = "photo-to-form"

// retentionWindow is how long a source document is kept before the
// janitor deletes it along with unaccepted conversions.
const retentionWindow = 7 * 24 * time.Hour

var (
	// ErrFeatureDisabled means the org is not in the rollout.
	ErrFeatureDisabled = errors.New("photo-to-form is not enabled for this organization")
	// ErrAlreadyProcessed means the conversion left the pending state before
	// this worker picked it up.
	ErrAlreadyProcessed = errors.New("conversion already processed")
	// ErrNotReviewable means accept was called in the wrong state.
	ErrNotReviewable = errors.New("conversion is not awaiting review")
	// ErrNoFieldsSelected means the accept request filtered out every field.
	ErrNoFieldsSelected = errors.New("no fields selected for form creation")
)

// Store is the slice of database operations the orchestrator needs.
// *database.DB satisfies it; tests use an in-memory fake.
type Store interface {
	CreateConversion(ctx context.Context, c *models.Conversion) error
	GetConversion(ctx context.Context, orgID, id string) (*models.Conversion, error)
	UpdateConversion(ctx context.Context, c *models.Conversion) error
	UpdateConversionStatus(ctx context.Context, id string, from, to models.ConversionStatus) error
	ListConversions(ctx context.Context, orgID string, params models.ConversionListParams) ([]models.Conversion, int, error)
	DeleteConversion(ctx context.Context, orgID, id string) error
	CreateForm(ctx context.Context, form *models.Form, fields []models.FormField) error
	ListActiveFormsWithFields(ctx context.Context, orgID string) ([]models.Form, map[string][]models.FormField, error)
	IsFeatureEnabled(ctx context.Context, orgID, feature string) (bool, error)
}

// Extractor pulls text and layout structure out of a document.
type Extractor interface {
	FromImage(ctx context.Context, data []byte, mimeType string) (*extract.Result, error)
	FromPDF(ctx context.Context, data []byte) (*extract.Result, error)
}

// Detector canonicalizes an extraction into typed form fields.
type Detector interface {
	DetectFields(ctx context.Context, ocr *extract.Result) (*detect.Detection, error)
}

// Service wires validation, extraction, detection and dedupe into the
// conversion state machine.
type Service struct {
	store     Store
	blobs     storage.Store
	validator *security.Validator
	extractor Extractor
	detector  Detector
}

// New creates the orchestrator.
func New(store Store, blobs storage.Store, validator *security.Validator, extractor Extractor, detector Detector) *Service {
	return &Service{
		store:     store,
		blobs:     blobs,
		validator: validator,
		extractor: extractor,
		detector:  detector,
	}
}

// Start validates an upload, stores the blob and creates the pending
// conversion record. The heavy pipeline runs later in a worker; Start
// only does the synchronous, fail-fast part.
func (s *Service) Start(ctx context.Context, orgID, userID, filename, mimeType string, data []byte) (*models.Conversion, error) {
	enabled, err := s.store.IsFeatureEnabled(ctx, orgID, FeaturePhotoToForm)
	if err != nil {
		return nil, fmt.Errorf("feature flag check failed: %w", err)
	}
	if !enabled {
		return nil, ErrFeatureDisabled
	}

	validation, err := s.validator.ValidateFile(filename, mimeType, int64(len(data)))
	if err != nil {
		return nil, err
	}
	if !security.ValidateMagicBytes(data, mimeType) {
		return nil, fmt.Errorf("file content does not match declared type %q", mimeType)
	}

	warnings := validation.Warnings
	if validation.SourceType != models.SourcePhoto {
		scan := security.ScanPDFForThreats(data)
		if !scan.IsSafe {
			return nil, fmt.Errorf("PDF rejected: %s", strings.Join(scan.Threats, ", "))
		}
	}

	key := fmt.Sprintf("conversions/%s/%s", orgID, security.SanitizeFilename(filename))
	if err := s.blobs.Put(ctx, key, data, mimeType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	warningsJSON, _ := json.Marshal(warnings)
	c := &models.Conversion{
		OrgID:        orgID,
		CreatedByID:  userID,
		SourceType:   validation.SourceType,
		SourcePath:   key,
		OriginalName: filename,
		Status:       models.ConversionPending,
		Warnings:     warningsJSON,
		// Photos are retyped into the form directly; anything PDF-shaped
		// may carry content the fields can't represent, so the original
		// must be exportable alongside the form.
		RequiresOriginalExport: validation.SourceType != models.SourcePhoto,
		ExpiresAt:              time.Now().Add(retentionWindow),
	}
	if err := s.store.CreateConversion(ctx, c); err != nil {
		// The blob is orphaned; the janitor won't find it without a row,
		// so clean up now.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			log.Printf("⚠️  Failed to clean up orphaned blob %s: %v", key, delErr)
		}
		return nil, fmt.Errorf("failed to create conversion: %w", err)
	}

	log.Printf("📄 Conversion %s created (org %s, type %s)", c.ID, orgID, c.SourceType)
	return c, nil
}

// Process runs the extraction → detection → dedupe pipeline for one
// pending conversion. Any pipeline error marks the conversion failed
// with the error recorded as a warning; Process itself only returns an
// error for infrastructure problems worth a retry log.
func (s *Service) Process(ctx context.Context, orgID, id string) error {
	// Compare-and-swap into processing. If the row is gone or already
	// claimed, this worker has nothing to do.
	if err := s.store.UpdateConversionStatus(ctx, id, models.ConversionPending, models.ConversionProcessing); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to claim conversion: %w", err)
	}

	c, err := s.store.GetConversion(ctx, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to load conversion: %w", err)
	}

	if runErr := s.runPipeline(ctx, c); runErr != nil {
		log.Printf("❌ Conversion %s failed: %v", c.ID, runErr)
		warnings := append(c.WarningList(), runErr.Error())
		warningsJSON, _ := json.Marshal(warnings)
		c.Warnings = warningsJSON
		c.Status = models.ConversionFailed
	} else {
		c.Status = models.ConversionReviewRequired
	}

	if err := s.store.UpdateConversion(ctx, c); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The conversion was deleted mid-flight; discard the result.
			log.Printf("🗑️  Conversion %s deleted during processing, result discarded", c.ID)
			return nil
		}
		return fmt.Errorf("failed to save conversion result: %w", err)
	}

	log.Printf("✅ Conversion %s → %s (%.2f confidence)", c.ID, c.Status, c.Confidence)
	return nil
}

// runPipeline mutates the conversion in place with the pipeline output.
func (s *Service) runPipeline(ctx context.Context, c *models.Conversion) error {
	data, err := s.blobs.Get(ctx, c.SourcePath)
	if err != nil {
		return fmt.Errorf("source document unavailable: %w", err)
	}

	var result *extract.Result
	switch c.SourceType {
	case models.SourcePhoto:
		result, err = s.extractor.FromImage(ctx, data, mimeForPhoto(c.OriginalName))
	default:
		result, err = s.extractor.FromPDF(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	// The validator can only see the container; whether a PDF actually
	// has a text layer is known after extraction.
	if c.SourceType != models.SourcePhoto {
		if result.IsScanned {
			c.SourceType = models.SourcePDFScanned
		} else {
			c.SourceType = models.SourcePDFClean
		}
	}

	detection, err := s.detector.DetectFields(ctx, result)
	if err != nil {
		return fmt.Errorf("field detection failed: %w", err)
	}

	validation := detect.ValidateDetectedFields(detection.Fields)
	if !validation.IsValid {
		return fmt.Errorf("detected fields invalid: %v", validation.Errors)
	}

	warnings := append(c.WarningList(), detection.Warnings...)
	warnings = append(warnings, validation.Warnings...)

	// Duplicate scan against the org's live forms.
	forms, fieldsByForm, err := s.store.ListActiveFormsWithFields(ctx, c.OrgID)
	if err != nil {
		return fmt.Errorf("duplicate scan failed: %w", err)
	}
	existing := make([]dedupe.ExistingForm, 0, len(forms))
	for _, f := range forms {
		existing = append(existing, dedupe.ExistingForm{Form: f, Fields: fieldsByForm[f.ID]})
	}
	check := dedupe.CheckForDuplicates(detection.Fields, existing)
	if check.HasDuplicate {
		top := check.Matches[0]
		warnings = append(warnings,
			fmt.Sprintf("possible duplicate of form %q (%.0f%% similar)", top.FormName, top.Similarity*100))
	} else if len(check.Matches) > 0 && check.Matches[0].Level == dedupe.MatchMedium {
		// Similar but below the duplicate bar — the reviewer decides.
		top := check.Matches[0]
		warnings = append(warnings,
			fmt.Sprintf("similar existing form %q (%.0f%% similar), not flagged as duplicate", top.FormName, top.Similarity*100))
	}

	fieldsJSON, err := json.Marshal(detection.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode detected fields: %w", err)
	}
	warningsJSON, _ := json.Marshal(warnings)

	c.DetectedFields = fieldsJSON
	c.Warnings = warningsJSON
	c.Confidence = detection.OverallConfidence
	c.SuggestedFormName = detection.SuggestedFormName
	c.SuggestedFormType = detection.SuggestedFormType
	return nil
}

// Accept materializes a reviewed conversion into a form. The caller may
// rename the form, override its type and keep only a subset of fields.
func (s *Service) Accept(ctx context.Context, orgID, userID, id string, req models.AcceptConversionRequest) (*models.Conversion, *models.Form, error) {
	c, err := s.store.GetConversion(ctx, orgID, id)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != models.ConversionReviewRequired && c.Status != models.ConversionCompleted {
		return nil, nil, fmt.Errorf("%w (status: %s)", ErrNotReviewable, c.Status)
	}

	detected, err := c.Fields()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode detected fields: %w", err)
	}

	selected := selectFields(detected, req.SelectedFields)
	if len(selected) == 0 {
		return nil, nil, ErrNoFieldsSelected
	}

	name := req.FormName
	if name == "" {
		name = c.SuggestedFormName
	}
	if name == "" {
		name = c.OriginalName
	}
	formType := req.FormType
	if formType == "" {
		formType = c.SuggestedFormType
	}
	if formType == "" {
		formType = "other"
	}

	form := &models.Form{
		OrgID:            orgID,
		CreatedByID:      userID,
		Name:             name,
		FormType:         formType,
		FieldFingerprint: dedupe.GenerateFieldFingerprint(selected),
	}

	fields := make([]models.FormField, 0, len(selected))
	for i, d := range selected {
		var options json.RawMessage
		if len(d.Options) > 0 {
			options, _ = json.Marshal(d.Options)
		}
		fields = append(fields, models.FormField{
			Slug:        d.Slug,
			Name:        d.Name,
			Type:        d.Type,
			Purpose:     d.Purpose,
			HelpText:    d.HelpText,
			IsRequired:  d.IsRequired,
			IsSensitive: d.IsSensitive,
			Options:     options,
			Section:     d.Section,
			SortOrder:   i,
		})
	}

	if err := s.store.CreateForm(ctx, form, fields); err != nil {
		return nil, nil, err
	}

	c.Status = models.ConversionCompleted
	c.ResultFormID = &form.ID
	if err := s.store.UpdateConversion(ctx, c); err != nil {
		// The form exists; the conversion link is best-effort.
		log.Printf("⚠️  Form %s created but conversion %s not updated: %v", form.ID, c.ID, err)
	}

	log.Printf("📋 Form %q created from conversion %s (%d fields)", form.Name, c.ID, len(fields))
	return c, form, nil
}

// selectFields filters detected fields by slug. A nil selection keeps
// everything; unknown slugs are ignored.
func selectFields(detected []models.DetectedField, slugs []string) []models.DetectedField {
	if slugs == nil {
		return detected
	}
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[s] = true
	}
	var selected []models.DetectedField
	for _, d := range detected {
		if want[d.Slug] {
			selected = append(selected, d)
		}
	}
	return selected
}

// Get returns one conversion.
func (s *Service) Get(ctx context.Context, orgID, id string) (*models.Conversion, error) {
	return s.store.GetConversion(ctx, orgID, id)
}

// List returns a page of an org's conversions.
func (s *Service) List(ctx context.Context, orgID string, params models.ConversionListParams) ([]models.Conversion, int, error) {
	return s.store.ListConversions(ctx, orgID, params)
}

// Delete removes a conversion and its stored source document.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	c, err := s.store.GetConversion(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConversion(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, c.SourcePath); err != nil {
		log.Printf("⚠️  Failed to delete blob %s: %v", c.SourcePath, err)
	}
	return nil
}

// mimeForPhoto recovers a usable MIME type from the filename for the
// vision call. The upload's declared MIME was validated earlier but is
// not persisted with the conversion.
func mimeForPhoto(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic", ".heif":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
