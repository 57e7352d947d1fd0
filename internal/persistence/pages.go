package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/reconcile"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

// CreatePage adds "{baseName} N" with N one past the highest suffix in use,
// seeded with an empty document. The registry and cache are updated before
// returning; the remote save runs in the background.
func (c *Controller) CreatePage(ctx context.Context, baseName string) (registry.Page, error) {
	return c.create(ctx, baseName, pagedoc.New)
}

// CreateFromTemplate is CreatePage seeded from a template variant, with the
// variant recorded as the document's page type.
func (c *Controller) CreateFromTemplate(ctx context.Context, kind pagedoc.Kind) (registry.Page, error) {
	if _, ok := pagedoc.ParseKind(string(kind)); !ok {
		kind = pagedoc.KindBlank
	}
	eventCtx := c.EventContext()
	return c.create(ctx, kind.Label(), func(name string) *pagedoc.Document {
		return c.templates.GenerateKind(kind, name, eventCtx)
	})
}

// create reserves the page name in the registry first; the document is
// seeded from the reserved name.
func (c *Controller) create(ctx context.Context, base string, seed func(name string) *pagedoc.Document) (registry.Page, error) {
	now := c.now()
	page := c.registry.Reserve(base, func(name string) registry.Page {
		return registry.Page{
			ID:           registry.LocalID(name, now),
			Name:         name,
			StorageKey:   pagedoc.Filename(name),
			LastModified: now,
		}
	})
	name := page.Name
	doc := seed(name)
	st := c.state(page.ID)
	st.mu.Lock()
	st.generation++
	c.memory.Add(page.ID, doc)
	c.writeCache(ctx, page.ID, doc)
	st.mu.Unlock()

	c.bus.Publish(events.Event{Type: events.PageCreated, PageID: page.ID, Title: name, Document: doc.Clone()})
	c.publishRegistry()

	if c.remote.Enabled() {
		snapshot := doc.Clone()
		c.goBackground(func(base context.Context) {
			saveCtx, cancel := context.WithTimeout(base, c.saveTimeout)
			defer cancel()
			if _, err := c.remote.SavePage(saveCtx, page.StorageKey, snapshot); err != nil {
				metrics.RemoteUnavailableTotal.WithLabelValues("create").Inc()
				c.logger.Infow("new page not saved remotely yet", "pageId", page.ID, "error", err)
			}
		})
	}
	return page, nil
}

// RenamePage gives a page a new name and storage key and saves it through
// the save path. Server-issued ids survive a rename; local ids are
// re-derived from the new name, and the old id keeps resolving as an alias.
func (c *Controller) RenamePage(ctx context.Context, id, newName string) (registry.Page, SaveResult, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return registry.Page{}, SaveResult{}, ErrInvalidName
	}
	old, ok := c.registry.Resolve(id)
	if !ok {
		return registry.Page{}, SaveResult{}, fmt.Errorf("%w: %s", ErrPageNotFound, id)
	}
	if other, taken := c.registry.ResolveStorageKey(pagedoc.Filename(newName)); taken && other.ID != old.ID {
		return registry.Page{}, SaveResult{}, fmt.Errorf("%w: %q is stored as %s by page %s", ErrInvalidName, newName, other.StorageKey, other.ID)
	}
	now := c.now()
	renamed := registry.Page{
		ID:           old.ID,
		Name:         newName,
		StorageKey:   pagedoc.Filename(newName),
		LastModified: now,
	}
	if !registry.IsServerID(old.ID) {
		renamed.ID = registry.LocalID(newName, now)
	}

	st := c.state(old.ID)
	st.mu.Lock()
	st.generation++
	doc, ok := c.memory.Get(old.ID)
	if !ok {
		doc = c.cachedDocument(ctx, old.ID)
	}
	if doc == nil {
		input := c.reconcileInput(old)
		doc = reconcile.Reconcile(input).Document
	} else {
		doc = doc.Clone()
	}
	if renamed.ID != old.ID {
		c.memory.Remove(old.ID)
	}
	st.mu.Unlock()

	doc.SetTitle(newName)
	c.registry.Rename(old.ID, renamed)
	c.bus.Publish(events.Event{Type: events.PageRenamed, PageID: renamed.ID, Title: newName, Message: "renamed from " + old.ID})
	c.publishRegistry()

	result, err := c.SavePage(ctx, renamed.ID, doc)
	if err != nil {
		return renamed, result, err
	}
	if page, ok := c.registry.Resolve(renamed.ID); ok {
		renamed = page
	}
	return renamed, result, nil
}

// ApplyEventContext installs new shared event data. In-memory pages still
// showing the previous banner are switched to the new one, reconciled,
// cached and republished. It returns how many pages changed.
func (c *Controller) ApplyEventContext(ctx context.Context, ec pagedoc.EventContext) int {
	c.mu.Lock()
	previous := bannerOf(c.eventCtx)
	c.eventCtx = ec
	c.mu.Unlock()
	next := bannerOf(ec)

	changed := 0
	for _, id := range c.memory.Keys() {
		if c.applyBanner(ctx, id, previous, next) {
			changed++
		}
	}
	if changed > 0 {
		c.logger.Infow("shared event asset changed", "pagesUpdated", changed)
	}
	return changed
}

func (c *Controller) applyBanner(ctx context.Context, id, previous, next string) bool {
	st := c.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	current, ok := c.memory.Get(id)
	if !ok {
		return false
	}
	doc := current.Clone()
	if pagedoc.ReplaceBanner(doc, previous, next) == 0 {
		return false
	}
	st.generation++
	page, ok := c.registry.Resolve(id)
	if !ok {
		page = registry.Page{ID: id, Name: doc.Title()}
	}
	input := c.reconcileInput(page)
	input.InMemory = doc
	result := reconcile.Reconcile(input)
	c.memory.Add(id, result.Document)
	c.writeCache(ctx, id, result.Document)
	c.bus.Publish(events.Event{
		Type:       events.PageRefreshed,
		PageID:     id,
		Title:      result.Title,
		Generation: st.generation,
		Source:     string(SourceAsset),
		Document:   result.Document.Clone(),
	})
	return true
}

func bannerOf(ec pagedoc.EventContext) string {
	if strings.TrimSpace(ec.BannerURL) == "" {
		return pagedoc.DefaultBannerURL
	}
	return ec.BannerURL
}

// RecoverBackup restores the last saved document into the cache when its
// page has no cache entry, which happens after a crash between the backup
// write and the per-page write. It reports whether anything was restored.
func (c *Controller) RecoverBackup(ctx context.Context) (bool, error) {
	backup, ok, err := c.cache.LoadBackup(ctx)
	if err != nil || !ok {
		return false, err
	}
	id := strings.TrimSpace(backup.PageID)
	if id == "" {
		title := backup.Document.Title()
		if title == "" {
			return false, nil
		}
		id = registry.StableLocalID(title, backup.SavedAt)
	}
	if existing := c.cachedDocument(ctx, id); existing != nil {
		return false, nil
	}
	if !c.writeCache(ctx, id, backup.Document) {
		return false, nil
	}
	name := backup.Document.Title()
	if name == "" {
		name = id
	}
	c.registry.Merge([]registry.Page{{
		ID:           id,
		Name:         name,
		StorageKey:   pagedoc.Filename(name),
		LastModified: backup.SavedAt,
	}})
	c.publishRegistry()
	c.logger.Infow("restored page from backup", "pageId", id, "savedAt", backup.SavedAt)
	return true, nil
}
