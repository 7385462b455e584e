package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/stevemurr/list-sync-server/keylock"
)

const (
	recordExt = ".json"
	lockDir   = ".locks"
	lockRetry = 2 * time.Millisecond
)

// JsonFileStore stores each record as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  4821734029871.json   # record 4821734029871
//	  77.json              # record 77
//	  .tmp-123456          # in-flight write, never listed
//	  .locks/77.lock       # flock(2) target guarding writes to 77
//
// Mutations of one record are serialized twice: a keylock for goroutines of
// this store, and an advisory file lock for every process (or store value)
// sharing the directory.
type JsonFileStore struct {
	dir   string
	locks *keylock.Locker
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, lockDir), 0o755); err != nil {
		return nil, err
	}
	return &JsonFileStore{dir: dir, locks: keylock.New()}, nil
}

// Dir returns the storage root.
func (s *JsonFileStore) Dir() string {
	return s.dir
}

func (s *JsonFileStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// lock takes the in-process and the cross-process lock for id. The returned
// func releases both.
func (s *JsonFileStore) lock(ctx context.Context, id string) (func(), error) {
	unlock := s.locks.Lock(id)
	fl := flock.New(filepath.Join(s.dir, lockDir, id+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		unlock()
		return nil, fmt.Errorf("lock record %s: %w", id, err)
	}
	return func() {
		_ = fl.Unlock()
		unlock()
	}, nil
}

// statRecord returns ErrNotFound unless path is a regular file.
func statRecord(path string) (fs.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	return fi, nil
}

// writeTemp writes data to a fresh temp file next to the records, so the
// final rename or link stays on the same filesystem.
func (s *JsonFileStore) writeTemp(data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(name)
		}
	}()
	if err := tmp.Chmod(0o644); err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	ok = true
	return name, nil
}

// replace atomically puts data at path. Caller holds the key lock.
func (s *JsonFileStore) replace(path string, data []byte) error {
	tmp, err := s.writeTemp(data)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *JsonFileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	if _, err := statRecord(s.recordPath(id)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *JsonFileStore) Read(ctx context.Context, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	path := s.recordPath(id)
	if _, err := statRecord(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *JsonFileStore) Write(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.replace(s.recordPath(id), data)
}

func (s *JsonFileStore) Create(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	defer s.locks.Lock(id)()
	tmp, err := s.writeTemp(data)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	defer os.Remove(tmp)
	// link(2) refuses to overwrite, which makes this create-if-absent even
	// against other processes sharing the directory.
	if err := os.Link(tmp, s.recordPath(id)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("link into place: %w", err)
	}
	return nil
}

func (s *JsonFileStore) Swap(ctx context.Context, id string, old, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	path := s.recordPath(id)
	if _, err := statRecord(path); err != nil {
		return err
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if !bytes.Equal(cur, old) {
		return ErrModified
	}
	return s.replace(path, data)
}

func (s *JsonFileStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	path := s.recordPath(id)
	if _, err := statRecord(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *JsonFileStore) ModTime(ctx context.Context, id string) (time.Time, error) {
	if err := checkID(id); err != nil {
		return time.Time{}, err
	}
	fi, err := statRecord(s.recordPath(id))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (s *JsonFileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if !ValidID(id) {
			continue
		}
		// Records deleted since ReadDir simply drop out.
		if _, err := statRecord(filepath.Join(s.dir, name)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
