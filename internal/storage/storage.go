// Package storage abstracts where uploaded document blobs live.
//
// The orchestrator only holds a Store; the backend (local disk for
// development, S3 in production) is chosen from config at startup.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes document blobs by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
