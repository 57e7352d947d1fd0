// Package persistence is the single entry point the editor uses to list,
// load, create, rename and save pages. It keeps the in-memory documents, the
// local cache and the remote store converging without ever blocking on the
// network.
package persistence

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/cache"
	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/reconcile"
	"github.com/agentworkforce/pagekeeper/internal/registry"
	"github.com/agentworkforce/pagekeeper/internal/remotestore"
)

var (
	ErrNoPageReference = errors.New("no page reference")
	ErrPageNotFound    = errors.New("page not found")
	ErrInvalidName     = errors.New("invalid page name")
	ErrClosed          = errors.New("controller closed")
)

const (
	DefaultRefreshTimeout = time.Second
	DefaultListTimeout    = 3 * time.Second
	DefaultSaveTimeout    = 5 * time.Second
	DefaultMemoryPages    = 64
	listConcurrency       = 4
)

type Options struct {
	Cache      *cache.LocalCache
	Remote     remotestore.Store
	Registry   *registry.Registry
	Bus        events.Publisher
	Downloader Downloader
	Templates  *pagedoc.TemplateGenerator
	Rules      pagedoc.StructureRules
	Deduper    pagedoc.Deduper

	EventContext pagedoc.EventContext

	RefreshTimeout time.Duration
	ListTimeout    time.Duration
	SaveTimeout    time.Duration
	MemoryPages    int

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

type Controller struct {
	cache      *cache.LocalCache
	remote     remotestore.Store
	registry   *registry.Registry
	bus        events.Publisher
	downloader Downloader
	templates  *pagedoc.TemplateGenerator
	rules      pagedoc.StructureRules
	deduper    pagedoc.Deduper

	refreshTimeout time.Duration
	listTimeout    time.Duration
	saveTimeout    time.Duration

	logger *zap.SugaredLogger
	now    func() time.Time

	memory *lru.Cache[string, *pagedoc.Document]

	mu       sync.Mutex
	eventCtx pagedoc.EventContext
	states   map[string]*pageState
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// pageState serialises the commit step for one page id. generation grows on
// every load, save and asset change; a background result is only applied if
// the generation it started under is still current.
type pageState struct {
	mu         sync.Mutex
	generation uint64
}

func New(opts Options) (*Controller, error) {
	if opts.Cache == nil {
		opts.Cache = cache.NewLocalCache(cache.NewMemoryBackend(0), opts.Logger)
	}
	if opts.Remote == nil {
		opts.Remote = remotestore.Disabled{}
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(registry.WithLogger(opts.Logger))
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Templates == nil {
		opts.Templates = pagedoc.NewTemplateGenerator()
	}
	if opts.Deduper.SingletonTypes == nil {
		opts.Deduper = pagedoc.DefaultDeduper()
	}
	if opts.Rules.Expected == nil && opts.Rules.Legacy == nil {
		opts.Rules = pagedoc.DefaultStructureRules()
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = DefaultListTimeout
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.MemoryPages <= 0 {
		opts.MemoryPages = DefaultMemoryPages
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Downloader == nil {
		opts.Downloader = FileDownloader{Dir: os.TempDir(), Logger: opts.Logger.Named("download")}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	memory, err := lru.New[string, *pagedoc.Document](opts.MemoryPages)
	if err != nil {
		return nil, err
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cache:          opts.Cache,
		remote:         opts.Remote,
		registry:       opts.Registry,
		bus:            opts.Bus,
		downloader:     opts.Downloader,
		templates:      opts.Templates,
		rules:          opts.Rules,
		deduper:        opts.Deduper,
		refreshTimeout: opts.RefreshTimeout,
		listTimeout:    opts.ListTimeout,
		saveTimeout:    opts.SaveTimeout,
		logger:         opts.Logger,
		now:            opts.Now,
		memory:         memory,
		eventCtx:       opts.EventContext,
		states:         map[string]*pageState{},
		baseCtx:        baseCtx,
		cancel:         cancel,
	}, nil
}

// Registry exposes the page list the controller maintains.
func (c *Controller) Registry() *registry.Registry {
	return c.registry
}

func (c *Controller) RemoteEnabled() bool {
	return c.remote.Enabled()
}

// Current returns a copy of the in-memory document for ref.
func (c *Controller) Current(ref string) (*pagedoc.Document, bool) {
	page, ok := c.registry.Resolve(ref)
	if !ok {
		return nil, false
	}
	doc, ok := c.memory.Get(page.ID)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

func (c *Controller) EventContext() pagedoc.EventContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventCtx
}

// Close waits for pending background saves and refreshes, then stops.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	c.cancel()
	return nil
}

func (c *Controller) state(id string) *pageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		st = &pageState{}
		c.states[id] = st
	}
	return st
}

// Generation returns the current request generation of a page id.
func (c *Controller) Generation(id string) uint64 {
	st := c.state(c.registry.Canonical(id))
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.generation
}

// goBackground runs fn on a tracked goroutine unless the controller is
// closing.
func (c *Controller) goBackground(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.baseCtx)
	}()
	return true
}

// resolveOrRegister returns the registry entry for ref, registering a foreign
// reference when nothing matches.
func (c *Controller) resolveOrRegister(ref, name string) registry.Page {
	if page, ok := c.registry.Resolve(ref); ok {
		return page
	}
	page := foreignPage(ref, name, c.now())
	c.registry.Merge([]registry.Page{page})
	c.publishRegistry()
	if resolved, ok := c.registry.Resolve(page.ID); ok {
		return resolved
	}
	return page
}

func foreignPage(ref, name string, now time.Time) registry.Page {
	ref = strings.TrimSpace(ref)
	page := registry.Page{LastModified: now}
	if pagedoc.IsFilename(ref) {
		page.StorageKey = strings.ToLower(ref)
		page.ID = strings.TrimSuffix(page.StorageKey, pagedoc.FileExtension)
		page.Name = pagedoc.NameFromFilename(ref)
	} else {
		page.ID = ref
		page.Name = ref
		page.StorageKey = pagedoc.Filename(ref)
	}
	if strings.TrimSpace(name) != "" {
		page.Name = strings.TrimSpace(name)
	}
	return page
}

func (c *Controller) cachedDocument(ctx context.Context, id string) *pagedoc.Document {
	doc, ok, err := c.cache.Get(ctx, id)
	if err != nil {
		c.logger.Warnw("ignoring unreadable cache entry", "pageId", id, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return doc
}

func (c *Controller) writeCache(ctx context.Context, id string, doc *pagedoc.Document) bool {
	if err := c.cache.Put(ctx, id, doc); err != nil {
		metrics.CacheWriteFailureTotal.Inc()
		c.logger.Warnw("cache write failed, keeping in-memory copy", "pageId", id, "error", err)
		c.warn(id, "cache write failed: "+err.Error())
		return false
	}
	return true
}

func (c *Controller) reconcileInput(page registry.Page) reconcile.Input {
	return reconcile.Input{
		FallbackName: page.Name,
		Rules:        c.rules,
		Deduper:      c.deduper,
		Templates:    c.templates,
		EventContext: c.EventContext(),
	}
}

func (c *Controller) recordReport(id string, report pagedoc.DedupeReport) {
	if report.Removed() == 0 {
		return
	}
	metrics.RecordDedupe(report.DuplicateIDs, report.DuplicateStructures, report.SingletonsDropped)
	c.logger.Warnw("removed duplicate content",
		"pageId", id,
		"duplicateIds", report.DuplicateIDs,
		"duplicateStructures", report.DuplicateStructures,
		"singletonsDropped", report.SingletonsDropped,
		"singletonTypes", report.SingletonTypes,
	)
	c.warn(id, "duplicate content removed")
}

func (c *Controller) warn(id, message string) {
	c.bus.Publish(events.Event{Type: events.Warning, PageID: id, Message: message})
}

func (c *Controller) publishRegistry() {
	c.bus.Publish(events.Event{Type: events.RegistryUpdated, Pages: c.registry.Snapshot()})
}
