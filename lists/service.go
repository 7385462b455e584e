// Package lists implements the list lifecycle on top of a record store:
// random identifier allocation, optimistic version checks on update, and
// enumeration.
//
// Every stored list carries an integer "version" equal to the number of
// accepted updates. An update must declare exactly the stored version plus
// one; anything else is rejected with a *ConflictError holding the current
// document so the client can resynchronize.
package lists

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/stevemurr/list-sync-server/keylock"
	"github.com/stevemurr/list-sync-server/store"
)

var (
	// ErrInvalidVersion is returned when a document has no integer version,
	// or when a new list does not start at version 0.
	ErrInvalidVersion = errors.New("lists: invalid version")

	// ErrVersionConflict matches every *ConflictError.
	ErrVersionConflict = errors.New("lists: version conflict")

	// ErrCorrupt is returned when a stored list has no readable version.
	ErrCorrupt = errors.New("lists: stored list is corrupt")
)

// Record is a stored list and the time it was last written.
type Record struct {
	ID       string
	Data     []byte
	Modified time.Time
}

// ConflictError rejects an update whose declared version is not the stored
// version plus one. Storage is left untouched.
type ConflictError struct {
	// Current is the stored list at the time of the decision.
	Current Record
	// Expected is the only version the update could have declared.
	Expected int64
	// Got is the version the update declared.
	Got int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lists: version conflict on %s: expected version %d, got %d", e.Current.ID, e.Expected, e.Got)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Service is safe for concurrent use.
type Service struct {
	store store.Store
	alloc *Allocator
	locks *keylock.Locker
}

// Option configures a Service.
type Option func(*options)

type options struct {
	draw func() uint64
}

// WithIDSource replaces the random source of the identifier allocator.
func WithIDSource(draw func() uint64) Option {
	return func(o *options) { o.draw = draw }
}

// New returns a Service persisting through s.
func New(s store.Store, opts ...Option) *Service {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store: s,
		alloc: NewAllocator(s, o.draw),
		locks: keylock.New(),
	}
}

// List returns the ids of all live lists in ascending numeric order.
func (s *Service) List(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	// Canonical ids have no leading zeros, so shorter means smaller.
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(len(a), len(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids, nil
}

// Get returns the list stored under id.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	if _, err := store.ParseID(id); err != nil {
		return Record{}, err
	}
	defer s.locks.Lock(id)()
	return s.current(ctx, id)
}

func (s *Service) current(ctx context.Context, id string) (Record, error) {
	data, err := s.store.Read(ctx, id)
	if err != nil {
		return Record{}, err
	}
	mod, err := s.store.ModTime(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Data: data, Modified: mod}, nil
}

// Create stores doc under a fresh identifier. doc must declare version 0.
func (s *Service) Create(ctx context.Context, doc []byte) (Record, error) {
	v, err := DocumentVersion(doc)
	if err != nil {
		return Record{}, err
	}
	if v != 0 {
		return Record{}, fmt.Errorf("%w: a new list must have version 0, got %d", ErrInvalidVersion, v)
	}
	for {
		id, err := s.alloc.Allocate(ctx)
		if err != nil {
			return Record{}, err
		}
		err = s.store.Create(ctx, id, doc)
		if errors.Is(err, store.ErrExists) {
			// Someone took the id between the existence check and the create.
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("create list %s: %w", id, err)
		}
		mod, err := s.store.ModTime(ctx, id)
		if err != nil {
			return Record{}, fmt.Errorf("stat list %s: %w", id, err)
		}
		return Record{ID: id, Data: doc, Modified: mod}, nil
	}
}

// Update replaces the list stored under id with doc if doc declares the
// stored version plus one, and returns the new modification time.
// Otherwise it returns a *ConflictError and leaves the list unchanged.
func (s *Service) Update(ctx context.Context, id string, doc []byte) (time.Time, error) {
	if _, err := store.ParseID(id); err != nil {
		return time.Time{}, err
	}
	v, err := DocumentVersion(doc)
	if err != nil {
		return time.Time{}, err
	}

	defer s.locks.Lock(id)()

	cur, err := s.store.Read(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	curVersion, err := storedVersion(id, cur)
	if err != nil {
		return time.Time{}, err
	}
	if v != curVersion+1 {
		return time.Time{}, s.conflict(ctx, id, cur, curVersion, v)
	}

	err = s.store.Swap(ctx, id, cur, doc)
	if errors.Is(err, store.ErrModified) {
		// Another process sharing the store won the race.
		if cur, err = s.store.Read(ctx, id); err != nil {
			return time.Time{}, err
		}
		if curVersion, err = storedVersion(id, cur); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, s.conflict(ctx, id, cur, curVersion, v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("write list %s: %w", id, err)
	}
	return s.store.ModTime(ctx, id)
}

func storedVersion(id string, doc []byte) (int64, error) {
	v, err := DocumentVersion(doc)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return v, nil
}

func (s *Service) conflict(ctx context.Context, id string, cur []byte, curVersion, got int64) error {
	mod, err := s.store.ModTime(ctx, id)
	if err != nil {
		return err
	}
	return &ConflictError{
		Current:  Record{ID: id, Data: cur, Modified: mod},
		Expected: curVersion + 1,
		Got:      got,
	}
}

// Delete removes the list stored under id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := store.ParseID(id); err != nil {
		return err
	}
	defer s.locks.Lock(id)()
	return s.store.Delete(ctx, id)
}
