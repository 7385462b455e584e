package store_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/list-sync-server/store"
)

// runStoreTests runs a common test suite against any Store implementation.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("List empty", func(t *testing.T) {
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Exists missing", func(t *testing.T) {
		ok, err := s.Exists(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Create and Read", func(t *testing.T) {
		doc := []byte(`{"version":0,"items":["milk"]}`)
		require.NoError(t, s.Create(ctx, "1", doc))
		got, err := s.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, doc, got)

		ok, err := s.Exists(ctx, "1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Create taken id", func(t *testing.T) {
		err := s.Create(ctx, "1", []byte(`{"version":0}`))
		require.ErrorIs(t, err, store.ErrExists)
		got, err := s.Read(ctx, "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"version":0,"items":["milk"]}`, string(got))
	})

	t.Run("Read missing", func(t *testing.T) {
		_, err := s.Read(ctx, "999")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Write overwrites", func(t *testing.T) {
		doc := []byte(`{"version":1,"items":["milk","eggs"]}`)
		require.NoError(t, s.Write(ctx, "1", doc))
		got, err := s.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("Write creates", func(t *testing.T) {
		doc := []byte(`{"version":0,"items":[]}`)
		require.NoError(t, s.Write(ctx, "2", doc))
		got, err := s.Read(ctx, "2")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("Swap", func(t *testing.T) {
		old := []byte(`{"version":1,"items":["milk","eggs"]}`)
		next := []byte(`{"version":2,"items":["bread"]}`)
		require.NoError(t, s.Swap(ctx, "1", old, next))
		got, err := s.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, next, got)

		// The old bytes are stale now.
		err = s.Swap(ctx, "1", old, []byte(`{"version":2}`))
		require.ErrorIs(t, err, store.ErrModified)
		got, err = s.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, next, got)

		err = s.Swap(ctx, "999", old, next)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ModTime", func(t *testing.T) {
		mt, err := s.ModTime(ctx, "1")
		require.NoError(t, err)
		assert.False(t, mt.IsZero())
		assert.WithinDuration(t, time.Now(), mt, time.Minute)

		_, err = s.ModTime(ctx, "999")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := s.List(ctx)
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"1", "2"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "1"))

		ok, err := s.Exists(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Read(ctx, "1")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.ModTime(ctx, "1")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.Delete(ctx, "1"), store.ErrNotFound)

		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids)
	})

	t.Run("Invalid ids", func(t *testing.T) {
		for _, id := range []string{"", "abc", "-1", "01", "1.5", "../1", "1/2", " 1"} {
			_, err := s.Exists(ctx, id)
			assert.ErrorIs(t, err, store.ErrInvalidID, "Exists(%q)", id)
			_, err = s.Read(ctx, id)
			assert.ErrorIs(t, err, store.ErrInvalidID, "Read(%q)", id)
			assert.ErrorIs(t, s.Write(ctx, id, []byte(`{}`)), store.ErrInvalidID, "Write(%q)", id)
			assert.ErrorIs(t, s.Create(ctx, id, []byte(`{}`)), store.ErrInvalidID, "Create(%q)", id)
			assert.ErrorIs(t, s.Swap(ctx, id, nil, []byte(`{}`)), store.ErrInvalidID, "Swap(%q)", id)
			assert.ErrorIs(t, s.Delete(ctx, id), store.ErrInvalidID, "Delete(%q)", id)
			_, err = s.ModTime(ctx, id)
			assert.ErrorIs(t, err, store.ErrInvalidID, "ModTime(%q)", id)
		}
	})

	t.Run("Concurrent Create", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Create(ctx, "3", []byte(`{"version":0}`))
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, store.ErrExists)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreTests(t, s)
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	runStoreTests(t, s)
}

func TestSqliteStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestDynamoStore(t *testing.T) {
	s := store.NewDynamoStore(newFakeDynamo(), "lists")
	runStoreTests(t, s)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for _, backend := range []string{"json", "sqlite", "memory", ""} {
		t.Run(backend, func(t *testing.T) {
			s, err := store.New(ctx, store.Options{Backend: backend, DataDir: filepath.Join(dir, backend)})
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}

	t.Run("dynamodb without table", func(t *testing.T) {
		_, err := store.New(ctx, store.Options{Backend: "dynamodb"})
		require.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New(ctx, store.Options{Backend: "redis", DataDir: dir})
		require.Error(t, err)
	})
}

func TestJsonFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	doc := []byte(`{"version":0,"items":["milk"]}`)
	require.NoError(t, s.Create(ctx, "42", doc))

	raw, err := os.ReadFile(filepath.Join(dir, "42.json"))
	require.NoError(t, err)
	assert.Equal(t, doc, raw)

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ".locks", entries[0].Name())
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "42.json", entries[1].Name())
}

func TestJsonFileStoreSwapAcrossStores(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	b, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)

	base := []byte(`{"version":0}`)
	for round := 0; round < 20; round++ {
		require.NoError(t, a.Write(ctx, "1", base))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			s := a
			if i%2 == 1 {
				s = b
			}
			wg.Add(1)
			go func(s store.Store) {
				defer wg.Done()
				err := s.Swap(ctx, "1", base, []byte(`{"version":1}`))
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, store.ErrModified)
			}(s)
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load(), "round %d", round)
	}
}

func TestJsonFileStoreLockHonorsContext(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "1", []byte(`{"version":0}`)))

	// Another process holding the record lock.
	held := flock.New(filepath.Join(dir, ".locks", "1.lock"))
	require.NoError(t, held.Lock())
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Swap(ctx, "1", []byte(`{"version":0}`), []byte(`{"version":1}`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, s.Delete(ctx, "1"), context.DeadlineExceeded)

	require.NoError(t, held.Unlock())
	require.NoError(t, s.Swap(context.Background(), "1", []byte(`{"version":0}`), []byte(`{"version":1}`)))
}

func TestJsonFileStoreListSkipsStrayFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "7", []byte(`{"version":0}`)))
	for _, name := range []string{".tmp-123", "notes.json", "007.json", "8.json.bak", "9.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "5.json"), 0o755))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)

	// A directory with a record name is not a record.
	ok, err := s.Exists(ctx, "5")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Read(ctx, "5")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "5"), store.ErrNotFound)
}

func TestJsonFileStoreInvalidIDNeverTouchesDisk(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "data")
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)

	err = s.Write(context.Background(), "../escape", []byte(`{}`))
	require.ErrorIs(t, err, store.ErrInvalidID)
	_, err = os.Stat(filepath.Join(root, "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestJsonFileStoreConcurrentReadsSeeWholeDocuments(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	a := []byte(`{"version":0,"items":["aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"]}`)
	b := []byte(`{"version":0,"items":["bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"]}`)
	require.NoError(t, s.Write(ctx, "1", a))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			doc := a
			if i%2 == 0 {
				doc = b
			}
			assert.NoError(t, s.Write(ctx, "1", doc))
		}
		close(stop)
	}()
	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		got, err := s.Read(ctx, "1")
		require.NoError(t, err)
		if string(got) != string(a) && string(got) != string(b) {
			t.Fatalf("observed partial document %q", got)
		}
	}
}
