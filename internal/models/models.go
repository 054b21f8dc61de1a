// Package models defines the data structures used throughout the application.
//
// Go Pattern: Models are plain structs with JSON tags for serialization.
// There is no ORM magic here — the database package handles persistence
// with explicit SQL. The `db` tags work with sqlx for column mapping.
package models

import (
	"encoding/json"
	"time"
)

// ConversionStatus represents the lifecycle state of a conversion attempt.
// Go Pattern: We use string constants instead of enums (Go doesn't have enums).
type ConversionStatus string

const (
	ConversionPending        ConversionStatus = "pending"
	ConversionProcessing     ConversionStatus = "processing"
	ConversionReviewRequired ConversionStatus = "review_required"
	ConversionCompleted      ConversionStatus = "completed"
	ConversionFailed         ConversionStatus = "failed"
)

// SourceType classifies what kind of document was uploaded.
type SourceType string

const (
	SourcePhoto      SourceType = "photo"
	SourcePDFClean   SourceType = "pdf_clean"   // PDF with an embedded text layer
	SourcePDFScanned SourceType = "pdf_scanned" // image-only PDF, needs vision OCR
)

// FieldType is the canonical form field type vocabulary.
type FieldType string

const (
	FieldTextShort FieldType = "text_short"
	FieldTextLong  FieldType = "text_long"
	FieldNumber    FieldType = "number"
	FieldDate      FieldType = "date"
	FieldPhone     FieldType = "phone"
	FieldEmail     FieldType = "email"
	FieldAddress   FieldType = "address"
	FieldDropdown  FieldType = "dropdown"
	FieldCheckbox  FieldType = "checkbox"
	FieldYesNo     FieldType = "yes_no"
	FieldSignature FieldType = "signature"
	FieldFile      FieldType = "file"
)

// FieldPurpose records why an intake form collects a given field.
type FieldPurpose string

const (
	PurposeGrantRequirement   FieldPurpose = "grant_requirement"
	PurposeInternalOps        FieldPurpose = "internal_ops"
	PurposeCompliance         FieldPurpose = "compliance"
	PurposeOutcomeMeasurement FieldPurpose = "outcome_measurement"
	PurposeRiskAssessment     FieldPurpose = "risk_assessment"
	PurposeOther              FieldPurpose = "other"
)

// SourcePosition is the bounding box of a field on the source document.
type SourcePosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Page   int     `json:"page"`
}

// DetectedField is one proposed form field produced by the pipeline.
// Slugs are unique within a single detected field list; confidence is
// always in [0,1].
type DetectedField struct {
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	Type           FieldType       `json:"type"`
	Purpose        FieldPurpose    `json:"purpose"`
	PurposeNote    string          `json:"purpose_note,omitempty"`
	HelpText       string          `json:"help_text,omitempty"`
	IsRequired     bool            `json:"is_required"`
	IsSensitive    bool            `json:"is_sensitive"`
	Options        []string        `json:"options,omitempty"`
	Section        string          `json:"section,omitempty"`
	Order          int             `json:"order"`
	Confidence     float64         `json:"confidence"`
	SourceLabel    string          `json:"source_label,omitempty"`
	SourcePosition *SourcePosition `json:"source_position,omitempty"`
}

// Conversion represents one end-to-end attempt to turn an uploaded
// document into a candidate form field schema.
//
// detected_fields and warnings are JSONB columns — stored as raw JSON so
// the database layer doesn't need to know the element shape.
type Conversion struct {
	ID                     string           `json:"id" db:"id"`
	OrgID                  string           `json:"org_id" db:"org_id"`
	CreatedByID            string           `json:"created_by_id" db:"created_by_id"`
	SourceType             SourceType       `json:"source_type" db:"source_type"`
	SourcePath             string           `json:"source_path" db:"source_path"` // opaque blob store key
	OriginalName           string           `json:"original_name" db:"original_name"`
	Status                 ConversionStatus `json:"status" db:"status"`
	DetectedFields         json.RawMessage  `json:"detected_fields" db:"detected_fields"`
	Confidence             float64          `json:"confidence" db:"confidence"`
	Warnings               json.RawMessage  `json:"warnings" db:"warnings"`
	SuggestedFormName      string           `json:"suggested_form_name" db:"suggested_form_name"`
	SuggestedFormType      string           `json:"suggested_form_type" db:"suggested_form_type"`
	RequiresOriginalExport bool             `json:"requires_original_export" db:"requires_original_export"`
	ResultFormID           *string          `json:"result_form_id,omitempty" db:"result_form_id"` // Pointer = nullable
	ExpiresAt              time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at" db:"updated_at"`
}

// Fields decodes the detected_fields JSONB column.
func (c *Conversion) Fields() ([]DetectedField, error) {
	if len(c.DetectedFields) == 0 {
		return nil, nil
	}
	var fields []DetectedField
	if err := json.Unmarshal(c.DetectedFields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// WarningList decodes the warnings JSONB column. A corrupt column is
// treated as no warnings rather than an error — warnings are advisory.
func (c *Conversion) WarningList() []string {
	if len(c.Warnings) == 0 {
		return nil
	}
	var warnings []string
	if err := json.Unmarshal(c.Warnings, &warnings); err != nil {
		return nil
	}
	return warnings
}

// Form is the digital form definition materialized from an accepted
// conversion. FieldFingerprint is the exact-duplicate key computed over
// its final field list.
type Form struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	CreatedByID      string    `json:"created_by_id" db:"created_by_id"`
	Name             string    `json:"name" db:"name"`
	FormType         string    `json:"form_type" db:"form_type"`
	FieldFingerprint string    `json:"field_fingerprint" db:"field_fingerprint"`
	Archived         bool      `json:"archived" db:"archived"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// FormField is one persisted field row belonging to a Form.
type FormField struct {
	ID          string          `json:"id" db:"id"`
	FormID      string          `json:"form_id" db:"form_id"`
	Slug        string          `json:"slug" db:"slug"`
	Name        string          `json:"name" db:"name"`
	Type        FieldType       `json:"type" db:"type"`
	Purpose     FieldPurpose    `json:"purpose" db:"purpose"`
	HelpText    string          `json:"help_text" db:"help_text"`
	IsRequired  bool            `json:"is_required" db:"is_required"`
	IsSensitive bool            `json:"is_sensitive" db:"is_sensitive"`
	Options     json.RawMessage `json:"options,omitempty" db:"options"` // JSONB string array, NULL when free-form
	Section     string          `json:"section" db:"section"`
	SortOrder   int             `json:"sort_order" db:"sort_order"`
}

// User represents an application user account.
type User struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // "-" means never serialize to JSON
	Name         string    `json:"name" db:"name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// APIKey represents an API key for service-to-service authentication.
// Note: We store the HASH of the key, never the raw key itself.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	OrgID      string     `json:"org_id" db:"org_id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 8 chars for identification
	Name       string     `json:"name" db:"name"`
	Active     bool       `json:"active" db:"active"`
	RateLimit  int        `json:"rate_limit" db:"rate_limit"` // Requests per hour
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// --- Request/Response DTOs (Data Transfer Objects) ---
// Go Pattern: Separate structs for API input/output vs database models.
// This keeps the API contract independent of the database schema.

// AcceptConversionRequest is the JSON body for POST /api/v1/conversions/:id/accept.
type AcceptConversionRequest struct {
	FormName       string   `json:"form_name,omitempty"`
	FormType       string   `json:"form_type,omitempty"`
	SelectedFields []string `json:"selected_fields,omitempty"` // slug subset; nil = keep all
}

// ConversionResponse pairs a conversion with its linked form, if any.
type ConversionResponse struct {
	Conversion Conversion `json:"conversion"`
	Form       *Form      `json:"form,omitempty"`
}

// ConversionListParams holds query parameters for listing conversions.
type ConversionListParams struct {
	Page    int              `form:"page"`
	PerPage int              `form:"per_page"`
	Status  ConversionStatus `form:"status"`
	SortDir string           `form:"sort_dir"` // "asc" or "desc"
}

// CreateAPIKeyRequest is the JSON body for POST /api/v1/keys.
type CreateAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	OrgID     string `json:"org_id" binding:"required"`
	RateLimit int    `json:"rate_limit,omitempty"` // 0 = use default
}

// CreateAPIKeyResponse includes the raw key — shown only once at creation time.
type CreateAPIKeyResponse struct {
	APIKey
	RawKey string `json:"raw_key"`
}

// RegisterRequest is the JSON body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
	OrgID    string `json:"org_id" binding:"required"`
}

// LoginRequest is the JSON body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned after successful register/login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// PaginatedResponse wraps a list response with pagination metadata.
// Go Pattern: Generics (Go 1.18+) give us a type-safe container.
type PaginatedResponse[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ErrorResponse is a standard error format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Workers  int    `json:"workers"`
}
