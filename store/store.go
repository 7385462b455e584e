// Package store defines the record store interface and its backends.
//
// A record is an opaque byte slice keyed by a canonical decimal identifier.
// Backends never look inside the bytes.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidID is returned when an identifier is not a canonical decimal
	// integer. No storage I/O happens in that case.
	ErrInvalidID = errors.New("store: invalid record id")

	// ErrNotFound is returned when no live record has the identifier.
	ErrNotFound = errors.New("store: record not found")

	// ErrExists is returned by Create when the identifier is already taken.
	ErrExists = errors.New("store: record already exists")

	// ErrModified is returned by Swap when the stored bytes no longer match
	// the expected ones.
	ErrModified = errors.New("store: record was modified concurrently")
)

// Store is the interface that all backing stores must implement.
// Implementations are safe for concurrent use.
type Store interface {
	// Exists reports whether a record exists for id.
	Exists(ctx context.Context, id string) (bool, error)

	// Read returns the stored bytes for id.
	Read(ctx context.Context, id string) ([]byte, error)

	// Write creates or fully replaces the record. Readers never observe a
	// partially written record.
	Write(ctx context.Context, id string, data []byte) error

	// Create stores data only if no record exists for id, else ErrExists.
	Create(ctx context.Context, id string, data []byte) error

	// Swap replaces the record with data only if its current content equals
	// old. It returns ErrNotFound or ErrModified otherwise.
	Swap(ctx context.Context, id string, old, data []byte) error

	// Delete removes the record.
	Delete(ctx context.Context, id string) error

	// ModTime returns the time of the last write to the record.
	ModTime(ctx context.Context, id string) (time.Time, error)

	// List returns the identifiers of all live records, in no particular order.
	List(ctx context.Context) ([]string, error)
}
