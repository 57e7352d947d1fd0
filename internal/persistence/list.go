package persistence

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/registry"
	"github.com/agentworkforce/pagekeeper/internal/remotestore"
)

// ListPages merges the remote listing and the locally cached pages into the
// registry and returns the result in display order. Pages already known are
// never dropped; when the remote is unavailable the registry is returned as
// it stands plus whatever the cache knows about.
func (c *Controller) ListPages(ctx context.Context) ([]registry.Page, error) {
	discovered := c.cachedPages(ctx)

	if c.remote.Enabled() {
		listCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
		remotePages, err := c.remotePages(listCtx)
		cancel()
		if err != nil {
			metrics.RemoteUnavailableTotal.WithLabelValues("list").Inc()
			c.logger.Infow("remote page list unavailable, using local registry", "error", err)
		} else {
			discovered = append(discovered, remotePages...)
		}
	}

	before := c.registry.Len()
	pages := c.registry.Merge(discovered)
	if len(discovered) > 0 || len(pages) != before {
		c.bus.Publish(events.Event{Type: events.RegistryUpdated, Pages: pages})
	}
	return pages, nil
}

// remotePages lists the remote store and names each entry from its
// document title, fetching documents a few at a time.
func (c *Controller) remotePages(ctx context.Context) ([]registry.Page, error) {
	infos, err := c.remote.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	pages := make([]registry.Page, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, info := range infos {
		filename := strings.TrimSpace(info.Filename)
		if filename == "" {
			continue
		}
		pages[i] = registry.Page{
			ID:           c.listedID(info),
			StorageKey:   filename,
			LastModified: info.Modified.Time,
		}
		i := i
		g.Go(func() error {
			pages[i].Name = c.listedName(gctx, pages[i].ID, filename)
			return nil
		})
	}
	_ = g.Wait()

	out := pages[:0]
	for _, page := range pages {
		if page.StorageKey != "" {
			out = append(out, page)
		}
	}
	return out, nil
}

// listedID picks the registry id for a remote entry. A page already stored
// under the same filename keeps its id; otherwise the server id or the
// filename stem is used, unless that id already belongs to a page stored
// elsewhere, in which case the filename itself becomes the id.
func (c *Controller) listedID(info remotestore.PageInfo) string {
	filename := strings.TrimSpace(info.Filename)
	if page, ok := c.registry.ResolveStorageKey(filename); ok {
		return page.ID
	}
	candidate := strings.TrimSpace(info.ID)
	if candidate == "" {
		candidate = strings.TrimSuffix(filename, pagedoc.FileExtension)
	}
	if page, ok := c.registry.Resolve(candidate); ok && page.StorageKey != filename {
		return filename
	}
	return candidate
}

func (c *Controller) listedName(ctx context.Context, id, filename string) string {
	if doc, err := c.remote.GetPage(ctx, filename); err == nil {
		if title := doc.Title(); title != "" {
			return title
		}
	} else {
		c.logger.Debugw("could not read remote page title", "filename", filename, "error", err)
	}
	if doc := c.cachedDocument(ctx, id); doc != nil {
		if title := doc.Title(); title != "" {
			return title
		}
	}
	return pagedoc.NameFromFilename(filename)
}

// cachedPages returns registry entries for cached documents the registry
// does not know yet, e.g. after a restart.
func (c *Controller) cachedPages(ctx context.Context) []registry.Page {
	ids, err := c.cache.PageIDs(ctx)
	if err != nil {
		c.logger.Warnw("could not list cached pages", "error", err)
		return nil
	}
	var pages []registry.Page
	for _, id := range ids {
		if _, ok := c.registry.Resolve(id); ok {
			continue
		}
		doc := c.cachedDocument(ctx, id)
		if doc == nil {
			continue
		}
		name := doc.Title()
		if name == "" {
			name = id
		}
		pages = append(pages, registry.Page{
			ID:         id,
			Name:       name,
			StorageKey: pagedoc.Filename(name),
		})
	}
	return pages
}
