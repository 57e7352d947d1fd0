package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

const (
	pageKeyPrefix     = "cache:"
	backupDocumentKey = "backup:last-document"
	backupSavedAtKey  = "backup:last-saved-at"
)

// Backup is the crash-recovery record: the last document saved through the
// save path, kept apart from the per-page entries.
type Backup struct {
	PageID   string            `json:"pageId,omitempty"`
	Document *pagedoc.Document `json:"document"`
	SavedAt  time.Time         `json:"-"`
}

// LocalCache stores one serialized document per page id.
type LocalCache struct {
	backend Backend
	logger  *zap.SugaredLogger
}

func NewLocalCache(backend Backend, logger *zap.SugaredLogger) *LocalCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LocalCache{backend: backend, logger: logger}
}

func PageKey(pageID string) string {
	return pageKeyPrefix + pageID
}

// Get returns the cached document for pageID. A missing entry is not an
// error; an unreadable one is.
func (c *LocalCache) Get(ctx context.Context, pageID string) (*pagedoc.Document, bool, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return nil, false, nil
	}
	raw, err := c.backend.Get(ctx, PageKey(pageID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %s: %w", pageID, err)
	}
	doc, err := pagedoc.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("cache: decode %s: %w", pageID, err)
	}
	return doc, true, nil
}

func (c *LocalCache) Put(ctx context.Context, pageID string, doc *pagedoc.Document) error {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" || doc == nil {
		return fmt.Errorf("cache: put: %w", pagedoc.ErrInvalidDocument)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", pageID, err)
	}
	if err := c.backend.Set(ctx, PageKey(pageID), raw); err != nil {
		return fmt.Errorf("cache: write %s: %w", pageID, err)
	}
	return nil
}

// PageIDs lists every page id with a cached document.
func (c *LocalCache) PageIDs(ctx context.Context) ([]string, error) {
	keys, err := c.backend.Keys(ctx, pageKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, pageKeyPrefix))
	}
	return ids, nil
}

func (c *LocalCache) SaveBackup(ctx context.Context, backup Backup) error {
	if backup.Document == nil {
		return fmt.Errorf("cache: backup: %w", pagedoc.ErrInvalidDocument)
	}
	raw, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("cache: encode backup: %w", err)
	}
	if err := c.backend.Set(ctx, backupDocumentKey, raw); err != nil {
		return fmt.Errorf("cache: write backup: %w", err)
	}
	savedAt := backup.SavedAt.UTC().Format(time.RFC3339Nano)
	if err := c.backend.Set(ctx, backupSavedAtKey, []byte(savedAt)); err != nil {
		return fmt.Errorf("cache: write backup time: %w", err)
	}
	return nil
}

// LoadBackup returns the last backup record. ok is false when none exists.
func (c *LocalCache) LoadBackup(ctx context.Context) (Backup, bool, error) {
	raw, err := c.backend.Get(ctx, backupDocumentKey)
	if errors.Is(err, ErrNotFound) {
		return Backup{}, false, nil
	}
	if err != nil {
		return Backup{}, false, fmt.Errorf("cache: read backup: %w", err)
	}
	var envelope struct {
		PageID   string          `json:"pageId"`
		Document json.RawMessage `json:"document"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Backup{}, false, fmt.Errorf("cache: decode backup: %w", err)
	}
	doc, err := pagedoc.Decode(envelope.Document)
	if err != nil {
		return Backup{}, false, fmt.Errorf("cache: decode backup: %w", err)
	}
	backup := Backup{PageID: envelope.PageID, Document: doc}
	if stamp, err := c.backend.Get(ctx, backupSavedAtKey); err == nil {
		if at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(stamp))); err == nil {
			backup.SavedAt = at
		} else {
			c.logger.Warnw("ignoring unreadable backup timestamp", "error", err)
		}
	}
	return backup, true, nil
}

func (c *LocalCache) Close() error {
	return c.backend.Close()
}
