// Package pagestore is a directory-backed page server speaking the REST
// contract the remotestore client expects. It exists for local development
// and end-to-end tests of the editor against a real remote.
package pagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/pagekeeper/internal/fsutil"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

var (
	ErrNotFound        = errors.New("page not found")
	ErrInvalidFilename = errors.New("invalid filename")
)

// pageNamespace seeds the name-based ids handed out for stored files.
var pageNamespace = uuid.MustParse("6f1c2d9a-3b47-4e8e-9d51-0c2a7f4b8e13")

type Page struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Modified time.Time `json:"modified"`
}

type SaveResult struct {
	Filename   string `json:"filename"`
	Components int    `json:"components"`
	Path       string `json:"path"`
}

type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("pagestore: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pagestore: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// PageID is the stable id of a stored file. It only depends on the
// filename, so a renamed page gets a new id.
func PageID(filename string) string {
	return uuid.NewSHA1(pageNamespace, []byte(filename)).String()
}

// SanitizeFilename maps a requested filename onto the slug convention:
// "Page 2.json" and "page 2" both become "page-2.json". Directory parts are
// dropped.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidFilename
	}
	name = filepath.Base(filepath.ToSlash(name))
	stem := name
	if pagedoc.IsFilename(name) {
		stem = name[:len(name)-len(pagedoc.FileExtension)]
	}
	if strings.Trim(stem, ". ") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return pagedoc.Filename(stem), nil
}

// List returns every stored page ordered by filename.
func (s *Store) List(ctx context.Context) ([]Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("pagestore: list: %w", err)
	}
	pages := make([]Page, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !pagedoc.IsFilename(entry.Name()) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		pages = append(pages, Page{
			ID:       PageID(entry.Name()),
			Filename: entry.Name(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Filename < pages[j].Filename })
	return pages, nil
}

// Get returns the raw stored document.
func (s *Store) Get(ctx context.Context, filename string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := s.lookupName(filename)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("pagestore: read %s: %w", name, err)
	}
	return raw, nil
}

// lookupName accepts a stored filename verbatim, and anything else through
// the slug convention.
func (s *Store) lookupName(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename != "" && filename == filepath.Base(filename) && pagedoc.IsFilename(filename) && !strings.HasPrefix(filename, ".") {
		if _, err := os.Stat(filepath.Join(s.dir, filename)); err == nil {
			return filename, nil
		}
	}
	return SanitizeFilename(filename)
}

// Save validates raw against the page document schema and writes it under
// the sanitised filename. An empty filename is derived from the title.
func (s *Store) Save(ctx context.Context, filename string, raw []byte) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	doc, err := pagedoc.Decode(raw)
	if err != nil {
		return SaveResult{}, err
	}
	if strings.TrimSpace(filename) == "" {
		filename = doc.Title()
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return SaveResult{}, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return SaveResult{}, fmt.Errorf("pagestore: encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return SaveResult{}, fmt.Errorf("pagestore: write %s: %w", name, err)
	}
	return SaveResult{Filename: name, Components: len(doc.Content), Path: path}, nil
}
