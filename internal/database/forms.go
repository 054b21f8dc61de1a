// forms.go handles form and form-field persistence.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// ErrDuplicateFingerprint is returned when a form with the same field
// fingerprint already exists in the org. The partial unique index on
// (org_id, field_fingerprint) is the arbiter — two concurrent accepts of
// the same schema race to the constraint, and exactly one wins.
var ErrDuplicateFingerprint = errors.New("a form with an identical field schema already exists")

// CreateForm inserts a form and its field rows in one transaction.
// On success the form and each field carry their generated IDs.
func (db *DB) CreateForm(ctx context.Context, form *models.Form, fields []models.FormField) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after a successful Commit

	query := `
		INSERT INTO forms (org_id, created_by_id, name, form_type, field_fingerprint)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		form.OrgID, form.CreatedByID, form.Name, form.FormType, form.FieldFingerprint,
	).Scan(&form.ID, &form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to create form: %w", err)
	}

	fieldQuery := `
		INSERT INTO form_fields (form_id, slug, name, type, purpose, help_text, is_required, is_sensitive, options, section, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	for i := range fields {
		f := &fields[i]
		f.FormID = form.ID
		var options interface{}
		if len(f.Options) > 0 {
			options = []byte(f.Options)
		}
		if err := tx.QueryRowContext(ctx, fieldQuery,
			f.FormID, f.Slug, f.Name, f.Type, f.Purpose, f.HelpText,
			f.IsRequired, f.IsSensitive, options, f.Section, f.SortOrder,
		).Scan(&f.ID); err != nil {
			return fmt.Errorf("failed to create form field %s: %w", f.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit form: %w", err)
	}
	return nil
}

// GetForm retrieves a form and its fields by ID, scoped to an org.
func (db *DB) GetForm(ctx context.Context, orgID, id string) (*models.Form, []models.FormField, error) {
	var form models.Form
	err := db.GetContext(ctx, &form,
		`SELECT * FROM forms WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to fetch form: %w", err)
	}

	fields, err := db.getFormFields(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &form, fields, nil
}

func (db *DB) getFormFields(ctx context.Context, formID string) ([]models.FormField, error) {
	var fields []models.FormField
	err := db.SelectContext(ctx, &fields,
		`SELECT * FROM form_fields WHERE form_id = $1 ORDER BY sort_order ASC`, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form fields: %w", err)
	}
	return fields, nil
}

// ListForms returns an org's forms, newest first. Archived forms are
// included so the UI can show history; the duplicate scan filters them.
func (db *DB) ListForms(ctx context.Context, orgID string) ([]models.Form, error) {
	var forms []models.Form
	err := db.SelectContext(ctx, &forms,
		`SELECT * FROM forms WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, nil
}

// ListActiveFormsWithFields loads every non-archived form in an org with
// its field rows, for the duplicate scan. One query per table, stitched
// in memory — intake orgs have tens of forms, not thousands.
func (db *DB) ListActiveFormsWithFields(ctx context.Context, orgID string) ([]models.Form, map[string][]models.FormField, error) {
	var forms []models.Form
	err := db.SelectContext(ctx, &forms,
		`SELECT * FROM forms WHERE org_id = $1 AND archived = false`, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list forms: %w", err)
	}
	if len(forms) == 0 {
		return forms, nil, nil
	}

	ids := make([]string, len(forms))
	for i, f := range forms {
		ids[i] = f.ID
	}

	var fields []models.FormField
	err = db.SelectContext(ctx, &fields,
		`SELECT * FROM form_fields WHERE form_id = ANY($1) ORDER BY sort_order ASC`,
		pq.Array(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list form fields: %w", err)
	}

	byForm := make(map[string][]models.FormField, len(forms))
	for _, f := range fields {
		byForm[f.FormID] = append(byForm[f.FormID], f)
	}
	return forms, byForm, nil
}

// ArchiveForm soft-deletes a form. Archived forms stop participating in
// duplicate detection but keep their history.
func (db *DB) ArchiveForm(ctx context.Context, orgID, id string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE forms SET archived = true, updated_at = NOW() WHERE id = $1 AND org_id = $2`,
		id, orgID)
	if err != nil {
		return fmt.Errorf("failed to archive form: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
