package registry

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

// Registry is the shared page list. Every change goes through Merge or an
// explicit Rename, so a page once known is never dropped.
type Registry struct {
	mu      sync.RWMutex
	pages   []Page
	aliases map[string]string
	tag     language.Tag
	logger  *zap.SugaredLogger
}

type Option func(*Registry)

func WithLocale(locale string) Option {
	return func(r *Registry) {
		if tag, err := language.Parse(strings.TrimSpace(locale)); err == nil {
			r.tag = tag
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		aliases: map[string]string{},
		tag:     language.English,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns a copy of the current pages in display order.
func (r *Registry) Snapshot() []Page {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Page(nil), r.pages...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

// Merge folds discovered into the registry and returns the new snapshot.
func (r *Registry) Merge(discovered []Page) []Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapped := make([]Page, len(discovered))
	for i, page := range discovered {
		page.ID = r.canonicalLocked(page.ID)
		mapped[i] = page
	}
	result := MergeDetailed(r.pages, mapped, r.tag)
	for from, to := range result.Aliases {
		r.aliases[from] = r.canonicalLocked(to)
		r.logger.Debugw("registry coalesced page id", "discoveredId", from, "keptId", to)
	}
	r.pages = result.Pages
	return append([]Page(nil), r.pages...)
}

// Resolve finds a page by id, alias, storage key, or storage key without
// its extension.
func (r *Registry) Resolve(ref string) (Page, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Page{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := r.canonicalLocked(ref)
	for _, page := range r.pages {
		if page.ID == id {
			return page, true
		}
	}
	for _, page := range r.pages {
		if page.StorageKey == ref || strings.TrimSuffix(page.StorageKey, pagedoc.FileExtension) == ref {
			return page, true
		}
	}
	return Page{}, false
}

// ResolveStorageKey returns the page stored under key, if any.
func (r *Registry) ResolveStorageKey(key string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, page := range r.pages {
		if page.StorageKey == key {
			return page, true
		}
	}
	return Page{}, false
}

// Rename replaces the entry for oldID with page. When the id changes the old
// id becomes an alias of the new one, so references held elsewhere keep
// resolving.
func (r *Registry) Rename(oldID string, page Page) Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldID = r.canonicalLocked(oldID)
	replaced := false
	for i := range r.pages {
		if r.pages[i].ID == oldID {
			r.pages[i] = page
			replaced = true
			break
		}
	}
	if !replaced {
		r.pages = append(r.pages, page)
	}
	if oldID != page.ID {
		r.aliases[oldID] = page.ID
		for from, to := range r.aliases {
			if to == oldID {
				r.aliases[from] = page.ID
			}
		}
	}
	SortPages(r.pages, r.tag)
	return page
}

// NextName returns the next free "{base} N" name.
func (r *Registry) NextName(base string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NextPageName(r.pages, base)
}

// Reserve picks the next free "{base} N" name and inserts the page mk builds
// for it under one lock, so concurrent callers never share a name.
func (r *Registry) Reserve(base string, mk func(name string) Page) Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := mk(NextPageName(r.pages, base))
	r.pages = append(r.pages, page)
	SortPages(r.pages, r.tag)
	return page
}

// Canonical follows aliases to the id the registry currently uses for ref.
func (r *Registry) Canonical(ref string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canonicalLocked(strings.TrimSpace(ref))
}

func (r *Registry) canonicalLocked(id string) string {
	for i := 0; i < len(r.aliases)+1; i++ {
		next, ok := r.aliases[id]
		if !ok || next == id {
			return id
		}
		id = next
	}
	return id
}
