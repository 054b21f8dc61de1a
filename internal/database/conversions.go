// conversions.go handles conversion-record persistence.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// CreateConversion inserts a new conversion record.
// Returns the created conversion with its generated ID and timestamps.
func (db *DB) CreateConversion(ctx context.Context, c *models.Conversion) error {
	query := `
		INSERT INTO conversions (org_id, created_by_id, source_type, source_path, original_name, status, detected_fields, confidence, warnings, suggested_form_name, suggested_form_type, requires_original_export, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	return db.QueryRowContext(ctx, query,
		c.OrgID, c.CreatedByID, c.SourceType, c.SourcePath, c.OriginalName,
		c.Status, c.DetectedFields, c.Confidence, c.Warnings,
		c.SuggestedFormName, c.SuggestedFormType, c.RequiresOriginalExport, c.ExpiresAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetConversion retrieves a single conversion by ID, scoped to an org.
func (db *DB) GetConversion(ctx context.Context, orgID, id string) (*models.Conversion, error) {
	var c models.Conversion
	err := db.GetContext(ctx, &c,
		`SELECT * FROM conversions WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversion: %w", err)
	}
	return &c, nil
}

// UpdateConversion writes back a conversion's mutable fields after a
// pipeline step. The RETURNING clause refreshes UpdatedAt so callers can
// detect stale writes.
func (db *DB) UpdateConversion(ctx context.Context, c *models.Conversion) error {
	query := `
		UPDATE conversions
		SET source_type = $2, status = $3, detected_fields = $4, confidence = $5,
			warnings = $6, suggested_form_name = $7, suggested_form_type = $8,
			requires_original_export = $9, result_form_id = $10, expires_at = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := db.QueryRowContext(ctx, query,
		c.ID, c.SourceType, c.Status, c.DetectedFields, c.Confidence,
		c.Warnings, c.SuggestedFormName, c.SuggestedFormType,
		c.RequiresOriginalExport, c.ResultFormID, c.ExpiresAt,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// UpdateConversionStatus transitions a conversion's status only if it is
// currently in the expected state. Returns ErrNotFound when the row is
// missing or has moved on — the compare-and-swap keeps two workers from
// processing the same conversion.
func (db *DB) UpdateConversionStatus(ctx context.Context, id string, from, to models.ConversionStatus) error {
	result, err := db.ExecContext(ctx,
		`UPDATE conversions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update conversion status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversions returns a paginated list of an org's conversions.
func (db *DB) ListConversions(ctx context.Context, orgID string, params models.ConversionListParams) ([]models.Conversion, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 || params.PerPage > 100 {
		params.PerPage = 20
	}
	if params.SortDir != "asc" && params.SortDir != "desc" {
		params.SortDir = "desc"
	}

	// Expired conversions are invisible to the API; the janitor reaps
	// them separately.
	conditions := []string{"org_id = $1", "expires_at > NOW()"}
	args := []interface{}{orgID}
	argNum := 2

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, params.Status)
		argNum++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM conversions %s", whereClause)
	if err := db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}

	offset := (params.Page - 1) * params.PerPage
	selectQuery := fmt.Sprintf(
		"SELECT * FROM conversions %s ORDER BY created_at %s LIMIT $%d OFFSET $%d",
		whereClause, params.SortDir, argNum, argNum+1,
	)
	args = append(args, params.PerPage, offset)

	var conversions []models.Conversion
	if err := db.SelectContext(ctx, &conversions, selectQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list query failed: %w", err)
	}

	return conversions, total, nil
}

// DeleteConversion removes a conversion by ID, scoped to an org.
func (db *DB) DeleteConversion(ctx context.Context, orgID, id string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM conversions WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete conversion: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredConversions returns conversions past their retention window
// that still hold a source blob. The janitor deletes the blob and the row.
func (db *DB) ListExpiredConversions(ctx context.Context, limit int) ([]models.Conversion, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var conversions []models.Conversion
	err := db.SelectContext(ctx, &conversions,
		`SELECT * FROM conversions
		 WHERE expires_at < NOW()
		 ORDER BY expires_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired conversions: %w", err)
	}
	return conversions, nil
}

// DeleteConversionByID removes a conversion without org scoping — janitor use only.
func (db *DB) DeleteConversionByID(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM conversions WHERE id = $1`, id)
	return err
}
