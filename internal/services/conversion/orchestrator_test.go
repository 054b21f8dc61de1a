// orchestrator_test.go — State machine tests against in-memory fakes.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/models"
	"github.com/scrybe-hq/form-intake-api/internal/services/detect"
	"github.com/scrybe-hq/form-intake-api/internal/services/extract"
	"github.com/scrybe-hq/form-intake-api/internal/services/security"
	"github.com/scrybe-hq/form-intake-api/internal/storage"
)

// --- fakes ---

type fakeStore struct {
	conversions map[string]*models.Conversion
	forms       []*models.Form
	formFields  map[string][]models.FormField
	flags       map[string]bool
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversions: make(map[string]*models.Conversion),
		formFields:  make(map[string][]models.FormField),
		flags:       map[string]bool{"org1:" + FeaturePhotoToForm: true},
	}
}

func (f *fakeStore) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeStore) CreateConversion(_ context.Context, c *models.Conversion) error {
	c.ID = f.id()
	cp := *c
	f.conversions[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetConversion(_ context.Context, orgID, id string) (*models.Conversion, error) {
	c, ok := f.conversions[id]
	if !ok || c.OrgID != orgID {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateConversion(_ context.Context, c *models.Conversion) error {
	if _, ok := f.conversions[c.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *c
	f.conversions[c.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateConversionStatus(_ context.Context, id string, from, to models.ConversionStatus) error {
	c, ok := f.conversions[id]
	if !ok || c.Status != from {
		return database.ErrNotFound
	}
	c.Status = to
	return nil
}

func (f *fakeStore) ListConversions(_ context.Context, orgID string, _ models.ConversionListParams) ([]models.Conversion, int, error) {
	var out []models.Conversion
	for _, c := range f.conversions {
		if c.OrgID == orgID {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) DeleteConversion(_ context.Context, orgID, id string) error {
	c, ok := f.conversions[id]
	if !ok || c.OrgID != orgID {
		return database.ErrNotFound
	}
	delete(f.conversions, id)
	return nil
}

func (f *fakeStore) CreateForm(_ context.Context, form *models.Form, fields []models.FormField) error {
	for _, existing := range f.forms {
		if existing.OrgID == form.OrgID && existing.FieldFingerprint == form.FieldFingerprint && !existing.Archived {
			return database.ErrDuplicateFingerprint
		}
	}
	form.ID = f.id()
	cp := *form
	f.forms = append(f.forms, &cp)
	f.formFields[form.ID] = fields
	return nil
}

func (f *fakeStore) ListActiveFormsWithFields(_ context.Context, orgID string) ([]models.Form, map[string][]models.FormField, error) {
	var forms []models.Form
	for _, fm := range f.forms {
		if fm.OrgID == orgID && !fm.Archived {
			forms = append(forms, *fm)
		}
	}
	return forms, f.formFields, nil
}

func (f *fakeStore) IsFeatureEnabled(_ context.Context, orgID, feature string) (bool, error) {
	return f.flags[orgID+":"+feature], nil
}

type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) FromImage(_ context.Context, _ []byte, _ string) (*extract.Result, error) {
	return f.result, f.err
}

func (f *fakeExtractor) FromPDF(_ context.Context, _ []byte) (*extract.Result, error) {
	return f.result, f.err
}

type fakeDetector struct {
	detection *detect.Detection
	err       error
}

func (f *fakeDetector) DetectFields(_ context.Context, _ *extract.Result) (*detect.Detection, error) {
	return f.detection, f.err
}

func newService(t *testing.T, store Store, ext Extractor, det Detector) *Service {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return New(store, blobs, security.NewValidator(security.Config{}), ext, det)
}

func defaultDetection() *detect.Detection {
	return &detect.Detection{
		Fields: []models.DetectedField{
			{Slug: "full_name", Name: "Full Name", Type: models.FieldTextShort, Purpose: models.PurposeOther, Confidence: 0.9},
			{Slug: "dob", Name: "Date of Birth", Type: models.FieldDate, Purpose: models.PurposeCompliance, IsSensitive: true, Confidence: 0.85},
		},
		SuggestedFormName: "Client Intake",
		SuggestedFormType: "intake",
		OverallConfidence: 0.875,
	}
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

// --- Start ---

func TestStartCreatesPendingConversion(t *testing.T) {
	store := newFakeStore()
	svc := newService(t, store, &fakeExtractor{}, &fakeDetector{})

	c, err := svc.Start(context.Background(), "org1", "user1", "intake.jpg", "image/jpeg", jpegBytes)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Status != models.ConversionPending {
		t.Errorf("Status = %q, want pending", c.Status)
	}
	if c.SourceType != models.SourcePhoto {
		t.Errorf("SourceType = %q, want photo", c.SourceType)
	}
	if c.RequiresOriginalExport {
		t.Error("photo should not require original export")
	}
	if c.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not set")
	}
	if _, ok := store.conversions[c.ID]; !ok {
		t.Error("conversion not persisted")
	}
}

func TestStartPDFRequiresOriginalExport(t *testing.T) {
	svc := newService(t, newFakeStore(), &fakeExtractor{}, &fakeDetector{})

	c, err := svc.Start(context.Background(), "org1", "user1", "packet.pdf", "application/pdf", []byte("%PDF-1.4 hello"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.RequiresOriginalExport {
		t.Error("PDF conversion must require original export")
	}
}

func TestStartFeatureDisabled(t *testing.T) {
	store := newFakeStore()
	svc := newService(t, store, &fakeExtractor{}, &fakeDetector{})

	_, err := svc.Start(context.Background(), "org2", "user1", "intake.jpg", "image/jpeg", jpegBytes)
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Errorf("err = %v, want ErrFeatureDisabled", err)
	}
	if len(store.conversions) != 0 {
		t.Error("no conversion should be created for a gated org")
	}
}

func TestStartRejectsSpoofedContent(t *testing.T) {
	svc := newService(t, newFakeStore(), &fakeExtractor{}, &fakeDetector{})

	// Declared JPEG, actually PDF bytes.
	_, err := svc.Start(context.Background(), "org1", "user1", "intake.jpg", "image/jpeg", []byte("%PDF-1.4"))
	if err == nil {
		t.Fatal("expected rejection")
	}
}

func TestStartRejectsActivePDFContent(t *testing.T) {
	svc := newService(t, newFakeStore(), &fakeExtractor{}, &fakeDetector{})

	pdf := []byte("%PDF-1.4\n1 0 obj << /OpenAction << /JavaScript (alert('x')) >> >>")
	_, err := svc.Start(context.Background(), "org1", "user1", "packet.pdf", "application/pdf", pdf)
	if err == nil || !strings.Contains(err.Error(), "JavaScript") {
		t.Errorf("err = %v, want JavaScript rejection", err)
	}
}

// --- Process ---

func startConversion(t *testing.T, svc *Service) *models.Conversion {
	t.Helper()
	c, err := svc.Start(context.Background(), "org1", "user1", "intake.jpg", "image/jpeg", jpegBytes)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestProcessLandsOnReviewRequired(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "Name: ____", PageCount: 1, Confidence: 0.9}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})
	c := startConversion(t, svc)

	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := store.conversions[c.ID]
	if got.Status != models.ConversionReviewRequired {
		t.Errorf("Status = %q, want review_required", got.Status)
	}
	if got.Confidence != 0.875 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
	if got.SuggestedFormName != "Client Intake" {
		t.Errorf("SuggestedFormName = %q", got.SuggestedFormName)
	}
	fields, err := got.Fields()
	if err != nil || len(fields) != 2 {
		t.Errorf("Fields() = %v, %v", fields, err)
	}
	// Sensitive field detection surfaces as a warning on the record.
	// (defaultDetection has no warnings of its own, validation adds one.)
	found := false
	for _, w := range got.WarningList() {
		if strings.Contains(w, "sensitive") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want sensitive disclosure", got.WarningList())
	}
}

func TestProcessUpgradesScannedPDF(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "", PageCount: 3, Confidence: 0.7, IsScanned: true}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})

	c, err := svc.Start(context.Background(), "org1", "user1", "packet.pdf", "application/pdf", []byte("%PDF-1.4 hello"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := store.conversions[c.ID]
	if got.SourceType != models.SourcePDFScanned {
		t.Errorf("SourceType = %q, want pdf_scanned", got.SourceType)
	}
	if got.Status != models.ConversionReviewRequired {
		t.Errorf("Status = %q, want review_required", got.Status)
	}
}

func TestProcessKeepsCleanPDFType(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "Name: ____", PageCount: 1, Confidence: 0.9}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})

	c, err := svc.Start(context.Background(), "org1", "user1", "packet.pdf", "application/pdf", []byte("%PDF-1.4 hello"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := store.conversions[c.ID]; got.SourceType != models.SourcePDFClean {
		t.Errorf("SourceType = %q, want pdf_clean", got.SourceType)
	}
}

func TestProcessWarnsOnSimilarExistingForm(t *testing.T) {
	store := newFakeStore()
	// Shares 2 of 3 names with defaultDetection's fields: Jaccard 0.67,
	// medium — surfaced as similar, never as a duplicate.
	store.forms = append(store.forms, &models.Form{ID: "f-prior", OrgID: "org1", Name: "Household Intake"})
	store.formFields["f-prior"] = []models.FormField{
		{Name: "Full Name", Type: models.FieldTextShort},
		{Name: "Date of Birth", Type: models.FieldDate},
		{Name: "Phone", Type: models.FieldPhone},
	}
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})
	c := startConversion(t, svc)

	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := store.conversions[c.ID]
	if got.Status != models.ConversionReviewRequired {
		t.Fatalf("Status = %q, want review_required", got.Status)
	}
	found := false
	for _, w := range got.WarningList() {
		if strings.Contains(w, `similar existing form "Household Intake"`) && strings.Contains(w, "not flagged as duplicate") {
			found = true
		}
		if strings.Contains(w, "possible duplicate") {
			t.Errorf("medium match wrongly flagged as duplicate: %q", w)
		}
	}
	if !found {
		t.Errorf("warnings = %v, want similar-form notice", got.WarningList())
	}
}

func TestProcessNonPendingRejected(t *testing.T) {
	store := newFakeStore()
	svc := newService(t, store, &fakeExtractor{}, &fakeDetector{detection: defaultDetection()})
	c := startConversion(t, svc)
	store.conversions[c.ID].Status = models.ConversionReviewRequired

	err := svc.Process(context.Background(), "org1", c.ID)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestProcessPipelineErrorMarksFailed(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{err: errors.New("vision model unavailable")}
	svc := newService(t, store, ext, &fakeDetector{})
	c := startConversion(t, svc)

	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process should swallow pipeline errors, got %v", err)
	}

	got := store.conversions[c.ID]
	if got.Status != models.ConversionFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	warnings := got.WarningList()
	if len(warnings) == 0 || !strings.Contains(warnings[len(warnings)-1], "vision model unavailable") {
		t.Errorf("warnings = %v, want pipeline error captured", warnings)
	}
}

func TestProcessNeverLeavesProcessing(t *testing.T) {
	store := newFakeStore()
	det := &fakeDetector{err: errors.New("detector down")}
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, det)
	c := startConversion(t, svc)

	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := store.conversions[c.ID]
	if got.Status == models.ConversionProcessing || got.Status == models.ConversionPending {
		t.Errorf("Status = %q; must settle on a terminal state", got.Status)
	}
}

func TestProcessDeletedMidFlightDiscards(t *testing.T) {
	store := newFakeStore()
	ds := &deletingStore{fakeStore: store}
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, ds, ext, &fakeDetector{detection: defaultDetection()})
	c := startConversion(t, svc)
	ds.targetID = c.ID

	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process after mid-flight delete = %v, want nil (discard)", err)
	}
	if _, ok := store.conversions[c.ID]; ok {
		t.Error("conversion should remain deleted")
	}
}

// deletingStore removes the target row right after the worker claims it,
// modeling a user deleting the conversion while processing runs.
type deletingStore struct {
	*fakeStore
	targetID string
}

func (d *deletingStore) GetConversion(ctx context.Context, orgID, id string) (*models.Conversion, error) {
	c, err := d.fakeStore.GetConversion(ctx, orgID, id)
	if err == nil && id == d.targetID {
		delete(d.fakeStore.conversions, id)
	}
	return c, err
}

// --- Accept ---

func reviewedConversion(t *testing.T, store *fakeStore, svc *Service) *models.Conversion {
	t.Helper()
	c := startConversion(t, svc)
	if err := svc.Process(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := store.conversions[c.ID]
	if got.Status != models.ConversionReviewRequired {
		t.Fatalf("setup: status = %q", got.Status)
	}
	return got
}

func TestAcceptCreatesForm(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})
	c := reviewedConversion(t, store, svc)

	updated, form, err := svc.Accept(context.Background(), "org1", "user1", c.ID, models.AcceptConversionRequest{})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if updated.Status != models.ConversionCompleted {
		t.Errorf("Status = %q, want completed", updated.Status)
	}
	if updated.ResultFormID == nil || *updated.ResultFormID != form.ID {
		t.Error("conversion not linked to form")
	}
	if form.Name != "Client Intake" || form.FormType != "intake" {
		t.Errorf("form = %+v, want suggested name/type", form)
	}
	if form.FieldFingerprint == "" {
		t.Error("fingerprint not computed")
	}
	if got := len(store.formFields[form.ID]); got != 2 {
		t.Errorf("form has %d fields, want 2", got)
	}
}

func TestAcceptSelectsSubset(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})
	c := reviewedConversion(t, store, svc)

	_, form, err := svc.Accept(context.Background(), "org1", "user1", c.ID, models.AcceptConversionRequest{
		FormName:       "Trimmed Intake",
		SelectedFields: []string{"full_name"},
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	fields := store.formFields[form.ID]
	if len(fields) != 1 || fields[0].Slug != "full_name" {
		t.Errorf("fields = %+v, want only full_name", fields)
	}
	if form.Name != "Trimmed Intake" {
		t.Errorf("Name = %q", form.Name)
	}
}

func TestAcceptEmptySelection(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})
	c := reviewedConversion(t, store, svc)

	_, _, err := svc.Accept(context.Background(), "org1", "user1", c.ID, models.AcceptConversionRequest{
		SelectedFields: []string{"nonexistent_slug"},
	})
	if !errors.Is(err, ErrNoFieldsSelected) {
		t.Errorf("err = %v, want ErrNoFieldsSelected", err)
	}
}

func TestAcceptWrongState(t *testing.T) {
	store := newFakeStore()
	svc := newService(t, store, &fakeExtractor{}, &fakeDetector{})
	c := startConversion(t, svc) // still pending

	_, _, err := svc.Accept(context.Background(), "org1", "user1", c.ID, models.AcceptConversionRequest{})
	if !errors.Is(err, ErrNotReviewable) {
		t.Errorf("err = %v, want ErrNotReviewable", err)
	}
}

func TestAcceptDuplicateFingerprintRace(t *testing.T) {
	store := newFakeStore()
	ext := &fakeExtractor{result: &extract.Result{Text: "x", PageCount: 1}}
	svc := newService(t, store, ext, &fakeDetector{detection: defaultDetection()})

	c1 := reviewedConversion(t, store, svc)
	c2 := reviewedConversion(t, store, svc)

	if _, _, err := svc.Accept(context.Background(), "org1", "user1", c1.ID, models.AcceptConversionRequest{}); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	_, _, err := svc.Accept(context.Background(), "org1", "user1", c2.ID, models.AcceptConversionRequest{})
	if !errors.Is(err, database.ErrDuplicateFingerprint) {
		t.Errorf("second Accept = %v, want ErrDuplicateFingerprint", err)
	}
}

func TestMimeForPhoto(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"photo.png", "image/png"},
		{"photo.Png", "image/png"},
		{"photo.WEBP", "image/webp"},
		{"photo.HEIC", "image/heic"},
		{"scan.heif", "image/heic"},
		{"noextension", "image/jpeg"},
	}
	for _, tt := range tests {
		if got := mimeForPhoto(tt.filename); got != tt.want {
			t.Errorf("mimeForPhoto(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

// --- Delete ---

func TestDeleteRemovesBlobAndRecord(t *testing.T) {
	store := newFakeStore()
	svc := newService(t, store, &fakeExtractor{}, &fakeDetector{})
	c := startConversion(t, svc)

	if err := svc.Delete(context.Background(), "org1", c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.conversions[c.ID]; ok {
		t.Error("record not deleted")
	}
	if _, err := svc.blobs.Get(context.Background(), c.SourcePath); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("blob still present: %v", err)
	}
}
