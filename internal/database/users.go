// users.go handles user and API key database operations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrybe-hq/form-intake-api/internal/models"
)

// CreateUser inserts a new user record.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (org_id, email, password_hash, name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return db.QueryRowContext(ctx, query,
		u.OrgID, u.Email, u.PasswordHash, u.Name,
	).Scan(&u.ID, &u.CreatedAt)
}

// GetUserByEmail retrieves a user by email address.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &u, nil
}

// --- API Key Operations ---

// CreateAPIKey inserts a new API key record.
func (db *DB) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (org_id, key_hash, key_prefix, name, active, rate_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return db.QueryRowContext(ctx, query,
		key.OrgID, key.KeyHash, key.KeyPrefix, key.Name, key.Active, key.RateLimit,
	).Scan(&key.ID, &key.CreatedAt)
}

// GetAPIKeyByHash retrieves an active API key by its hash (used during authentication).
func (db *DB) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT * FROM api_keys WHERE key_hash = $1 AND active = true`, hash)
	if err != nil {
		return nil, fmt.Errorf("invalid API key: %w", err)
	}
	return &key, nil
}

// UpdateAPIKeyLastUsed bumps the last_used_at timestamp.
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// ListAPIKeys returns all API keys for an org (active and inactive).
func (db *DB) ListAPIKeys(ctx context.Context, orgID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deactivates an API key.
func (db *DB) RevokeAPIKey(ctx context.Context, orgID, id string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE api_keys SET active = false WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
