// flags.go handles per-org feature flags.
//
// The photo-to-form pipeline rolls out org by org; an upload from an org
// without the flag is rejected before any blob is stored.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IsFeatureEnabled reports whether a feature flag is on for an org.
// A missing row means disabled.
func (db *DB) IsFeatureEnabled(ctx context.Context, orgID, feature string) (bool, error) {
	var enabled bool
	err := db.GetContext(ctx, &enabled,
		`SELECT enabled FROM feature_flags WHERE org_id = $1 AND feature = $2`,
		orgID, feature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check feature flag: %w", err)
	}
	return enabled, nil
}

// SetFeatureFlag turns a feature on or off for an org.
func (db *DB) SetFeatureFlag(ctx context.Context, orgID, feature string, enabled bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO feature_flags (org_id, feature, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, feature) DO UPDATE SET enabled = $3, updated_at = NOW()`,
		orgID, feature, enabled)
	if err != nil {
		return fmt.Errorf("failed to set feature flag: %w", err)
	}
	return nil
}
