package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/reconcile"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

type Source string

const (
	SourceCache    Source = "cache"
	SourceMemory   Source = "memory"
	SourceTemplate Source = "template"
	SourceRemote   Source = "remote"
	SourceAsset    Source = "asset"
)

func sourceOf(base reconcile.Base) Source {
	switch base {
	case reconcile.BaseLocal:
		return SourceCache
	case reconcile.BaseMemory:
		return SourceMemory
	case reconcile.BaseRemote:
		return SourceRemote
	default:
		return SourceTemplate
	}
}

// Update is a document republished after the initial load.
type Update struct {
	PageID     string
	Document   *pagedoc.Document
	Title      string
	Generation uint64
}

// Load is the synchronous result of LoadPage. Updates receives at most one
// refreshed document and is closed when the background refresh ends; it
// stays empty when the refresh was superseded, timed out or failed.
type Load struct {
	Page       registry.Page
	Document   *pagedoc.Document
	Title      string
	Source     Source
	Generation uint64
	Updates    <-chan Update
}

// LoadPage returns the cached document for ref, or a template when nothing
// is cached, without touching the network. When a remote store is
// configured it then races a bounded remote fetch in the background.
func (c *Controller) LoadPage(ctx context.Context, ref string) (*Load, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNoPageReference
	}
	page := c.resolveOrRegister(ref, "")
	st := c.state(page.ID)

	st.mu.Lock()
	st.generation++
	generation := st.generation
	cached := c.cachedDocument(ctx, page.ID)
	inMemory, _ := c.memory.Get(page.ID)
	input := c.reconcileInput(page)
	input.Local = cached
	input.InMemory = inMemory
	result := reconcile.Reconcile(input)
	c.memory.Add(page.ID, result.Document)
	if cached != nil && result.Base == reconcile.BaseLocal && result.Report.Removed() > 0 {
		c.writeCache(ctx, page.ID, result.Document)
	}
	st.mu.Unlock()

	c.recordReport(page.ID, result.Report)
	load := &Load{
		Page:       page,
		Document:   result.Document.Clone(),
		Title:      result.Title,
		Source:     sourceOf(result.Base),
		Generation: generation,
	}
	c.bus.Publish(events.Event{
		Type:       events.PageLoaded,
		PageID:     page.ID,
		Title:      load.Title,
		Generation: generation,
		Source:     string(load.Source),
		Document:   load.Document,
	})

	updates := make(chan Update, 1)
	load.Updates = updates
	if !c.remote.Enabled() || page.StorageKey == "" {
		close(updates)
		return load, nil
	}
	started := c.goBackground(func(base context.Context) {
		defer close(updates)
		c.refresh(base, page, generation, updates)
	})
	if !started {
		close(updates)
	}
	return load, nil
}

func (c *Controller) refresh(base context.Context, page registry.Page, generation uint64, updates chan<- Update) {
	ctx, cancel := context.WithTimeout(base, c.refreshTimeout)
	defer cancel()

	remoteDoc, err := c.remote.GetPage(ctx, page.StorageKey)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RefreshTimeoutTotal.Inc()
			c.logger.Debugw("background refresh timed out", "pageId", page.ID, "timeout", c.refreshTimeout)
		} else {
			metrics.RemoteUnavailableTotal.WithLabelValues("get").Inc()
			c.logger.Debugw("background refresh skipped", "pageId", page.ID, "error", err)
		}
		return
	}

	st := c.state(page.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.generation != generation {
		metrics.StaleRefreshDroppedTotal.Inc()
		c.logger.Debugw("dropping stale refresh", "pageId", page.ID, "generation", generation, "current", st.generation)
		return
	}

	inMemory, _ := c.memory.Get(page.ID)
	input := c.reconcileInput(page)
	input.Local = c.cachedDocument(base, page.ID)
	input.InMemory = inMemory
	input.Remote = remoteDoc
	result := reconcile.Reconcile(input)
	if result.StructuralMismatch {
		metrics.StructuralMismatchTotal.Inc()
		c.logger.Warnw("remote document has an unrecognised structure, keeping local copy", "pageId", page.ID, "filename", page.StorageKey)
		c.warn(page.ID, "remote document structure not recognised")
		return
	}
	c.recordReport(page.ID, result.Report)
	c.memory.Add(page.ID, result.Document)
	c.writeCache(base, page.ID, result.Document)

	update := Update{
		PageID:     page.ID,
		Document:   result.Document.Clone(),
		Title:      result.Title,
		Generation: generation,
	}
	updates <- update
	c.bus.Publish(events.Event{
		Type:       events.PageRefreshed,
		PageID:     page.ID,
		Title:      update.Title,
		Generation: generation,
		Source:     string(SourceRemote),
		Document:   update.Document,
	})
}
