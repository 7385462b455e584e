// Package auth checks HTTP Basic credentials against a users file.
//
// The file holds one "name:password" entry per line. Blank lines and lines
// starting with '#' are ignored. A password starting with $2a$, $2b$ or $2y$
// is a bcrypt hash; anything else is compared literally.
package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"
)

var errMalformedLine = errors.New("auth: malformed users file line")

// Users is a reloadable credential set. Safe for concurrent use.
type Users struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
}

// Load reads the users file at path.
func Load(path string) (*Users, error) {
	u := &Users{path: path}
	if err := u.Reload(); err != nil {
		return nil, err
	}
	return u, nil
}

// Path returns the file the set was loaded from.
func (u *Users) Path() string {
	return u.path
}

// Len returns the number of users.
func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.entries)
}

// Reload re-reads the file. On error the previous set stays in effect.
func (u *Users) Reload() error {
	raw, err := os.ReadFile(u.path)
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	entries, err := parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", u.path, err)
	}
	u.mu.Lock()
	u.entries = entries
	u.mu.Unlock()
	return nil
}

func parse(raw []byte) (map[string]string, error) {
	entries := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, pass, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w %d", errMalformedLine, n)
		}
		entries[name] = pass
	}
	return entries, sc.Err()
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Check reports whether password is valid for name.
func (u *Users) Check(name, password string) bool {
	u.mu.RLock()
	stored, ok := u.entries[name]
	u.mu.RUnlock()
	if !ok {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// Watch reloads the set whenever the file changes, until ctx is done. The
// parent directory is watched so that editors replacing the file are seen.
func (u *Users) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(u.path)); err != nil {
		_ = w.Close()
		return err
	}
	target := filepath.Clean(u.path)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if err := u.Reload(); err != nil {
					slog.WarnContext(ctx, "Keeping previous users", "err", err)
					continue
				}
				slog.InfoContext(ctx, "Reloaded users", "path", u.path, "count", u.Len())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching users file", "err", err)
			}
		}
	}()
	return nil
}

// SetPassword stores a bcrypt hash of password for name in the users file
// at path, creating the file if needed. Other lines are preserved.
func SetPassword(path, name, password string) error {
	if name == "" || strings.ContainsAny(name, ":\r\n") || strings.HasPrefix(name, "#") {
		return fmt.Errorf("auth: invalid user name %q", name)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	entry := name + ":" + string(hash)

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var out []string
	replaced := false
	if len(raw) > 0 {
		for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
			if n, _, ok := strings.Cut(strings.TrimSpace(line), ":"); ok && n == name {
				if !replaced {
					out = append(out, entry)
					replaced = true
				}
				continue
			}
			out = append(out, line)
		}
	}
	if !replaced {
		out = append(out, entry)
	}
	return writeFileAtomic(path, []byte(strings.Join(out, "\n")+"\n"))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
