package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/pagekeeper/internal/cache"
	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

// SaveResult tells the caller where the document ended up. Cached is false
// only when the local cache rejected the write; the in-memory copy is
// updated regardless.
type SaveResult struct {
	PageID       string `json:"pageId"`
	Filename     string `json:"filename"`
	Cached       bool   `json:"cached"`
	RemoteSaved  bool   `json:"remoteSaved"`
	Downloaded   bool   `json:"downloaded"`
	DownloadPath string `json:"downloadPath,omitempty"`
}

// SavePage writes doc to memory and the cache, then tries the remote store
// once, and finally falls back to offering the document as a download.
// Failures along the way are reported in the result, not as errors.
func (c *Controller) SavePage(ctx context.Context, ref string, doc *pagedoc.Document) (SaveResult, error) {
	if doc == nil {
		return SaveResult{}, fmt.Errorf("save: %w", pagedoc.ErrInvalidDocument)
	}
	page, err := c.pageForSave(ref, doc)
	if err != nil {
		return SaveResult{}, err
	}

	deduped, report := c.deduper.Dedupe(doc)
	if deduped.Title() == "" {
		deduped.SetTitle(page.Name)
	}
	c.recordReport(page.ID, report)

	st := c.state(page.ID)
	st.mu.Lock()
	st.generation++
	c.memory.Add(page.ID, deduped)
	cached := c.writeCache(ctx, page.ID, deduped)
	st.mu.Unlock()

	now := c.now()
	if err := c.cache.SaveBackup(ctx, cache.Backup{PageID: page.ID, Document: deduped, SavedAt: now}); err != nil {
		c.logger.Warnw("backup write failed", "pageId", page.ID, "error", err)
	}

	result := SaveResult{PageID: page.ID, Filename: page.StorageKey, Cached: cached}
	if c.remote.Enabled() {
		saveCtx, cancel := context.WithTimeout(ctx, c.saveTimeout)
		saved, err := c.remote.SavePage(saveCtx, page.StorageKey, deduped)
		cancel()
		if err == nil {
			result.RemoteSaved = true
			if saved.Filename != "" {
				result.Filename = saved.Filename
				page.StorageKey = saved.Filename
			}
		} else {
			metrics.RemoteUnavailableTotal.WithLabelValues("save").Inc()
			c.logger.Warnw("remote save failed", "pageId", page.ID, "filename", page.StorageKey, "error", err)
		}
	} else {
		metrics.RemoteUnavailableTotal.WithLabelValues("save").Inc()
	}

	if !result.RemoteSaved && c.downloader != nil {
		path, err := c.downloader.Offer(ctx, page.StorageKey, deduped)
		if err != nil {
			c.logger.Errorw("download fallback failed", "pageId", page.ID, "filename", page.StorageKey, "error", err)
		} else {
			result.Downloaded = true
			result.DownloadPath = path
		}
	}

	page.LastModified = now
	c.registry.Merge([]registry.Page{page})

	switch {
	case result.RemoteSaved:
		metrics.SaveOutcomeTotal.WithLabelValues("remote").Inc()
	case result.Downloaded:
		metrics.SaveOutcomeTotal.WithLabelValues("download").Inc()
	default:
		metrics.SaveOutcomeTotal.WithLabelValues("local").Inc()
	}
	c.bus.Publish(events.Event{
		Type:     events.PageSaved,
		PageID:   page.ID,
		Title:    deduped.Title(),
		Document: deduped.Clone(),
		Message:  saveStatus(result),
	})
	return result, nil
}

func saveStatus(result SaveResult) string {
	switch {
	case result.RemoteSaved:
		return "saved to server"
	case result.Downloaded:
		return "downloaded as file"
	case result.Cached:
		return "saved locally only"
	default:
		return "kept in memory only"
	}
}

// pageForSave finds the page a save targets. Without a reference the
// document title names it; with neither there is nothing to save to.
func (c *Controller) pageForSave(ref string, doc *pagedoc.Document) (registry.Page, error) {
	ref = strings.TrimSpace(ref)
	if ref != "" {
		return c.resolveOrRegister(ref, doc.Title()), nil
	}
	title := doc.Title()
	if title == "" {
		return registry.Page{}, ErrNoPageReference
	}
	if page, ok := c.registry.ResolveStorageKey(pagedoc.Filename(title)); ok {
		return page, nil
	}
	for _, page := range c.registry.Snapshot() {
		if strings.EqualFold(page.Name, title) {
			return page, nil
		}
	}
	page := registry.Page{
		ID:           registry.LocalID(title, c.now()),
		Name:         title,
		StorageKey:   pagedoc.Filename(title),
		LastModified: c.now(),
	}
	c.registry.Merge([]registry.Page{page})
	c.publishRegistry()
	return page, nil
}
