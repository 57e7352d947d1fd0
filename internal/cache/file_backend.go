package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentworkforce/pagekeeper/internal/fsutil"
)

const (
	fileEntryExt = ".entry"
	lockFileName = ".lock"
)

// FileBackend stores one file per key in a directory. Readers take a shared
// lock and writers an exclusive one on a lock file, so several processes can
// share the same cache directory.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidDSN
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := b.lock(false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := b.lock(true)
	if err != nil {
		return err
	}
	defer unlock()
	if err := fsutil.WriteFileAtomic(b.path(key), value, 0o644); err != nil {
		if isNoSpace(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return err
	}
	return nil
}

func (b *FileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := b.lock(false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileEntryExt) {
			continue
		}
		key, err := url.QueryUnescape(strings.TrimSuffix(name, fileEntryExt))
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, url.QueryEscape(key)+fileEntryExt)
}

func (b *FileBackend) lock(exclusive bool) (func(), error) {
	f, err := os.OpenFile(filepath.Join(b.dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open lock: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cache: lock: %w", err)
	}
	return func() {
		_ = unlockFile(f)
		_ = f.Close()
	}, nil
}
