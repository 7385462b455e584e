package lists

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/stevemurr/list-sync-server/store"
)

// IDSpace is the exclusive upper bound of allocated identifiers. It keeps
// ids exactly representable as JavaScript numbers.
const IDSpace = 1 << 53

// Allocator draws random identifiers that are not in use.
type Allocator struct {
	store store.Store
	draw  func() uint64
}

// NewAllocator returns an Allocator probing s. draw returns a value in
// [0, IDSpace); nil selects a uniform pseudo-random source.
func NewAllocator(s store.Store, draw func() uint64) *Allocator {
	if draw == nil {
		draw = func() uint64 { return rand.Uint64N(IDSpace) }
	}
	return &Allocator{store: s, draw: draw}
}

// Allocate returns an identifier that had no record when checked. It redraws
// on every collision until ctx is done.
//
// The check does not reserve the id: callers must create the record with
// Store.Create and allocate again on store.ErrExists.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := store.ID(a.draw()).String()
		exists, err := a.store.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check id %s: %w", id, err)
		}
		if !exists {
			return id, nil
		}
	}
}
