package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

func TestLocalCachePutGet(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(NewMemoryBackend(0), nil)

	_, ok, err := c.Get(ctx, "page-home-1")
	require.NoError(t, err)
	assert.False(t, ok)

	doc := pagedoc.NewTemplateGenerator().GenerateKind(pagedoc.KindLanding, "Home", pagedoc.EventContext{})
	require.NoError(t, c.Put(ctx, "page-home-1", doc))

	got, ok, err := c.Get(ctx, "page-home-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc, got)

	ids, err := c.PageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"page-home-1"}, ids)
}

func TestLocalCacheRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	require.NoError(t, backend.Set(ctx, PageKey("broken"), []byte(`{"content":"nope"}`)))

	_, ok, err := NewLocalCache(backend, nil).Get(ctx, "broken")
	assert.False(t, ok)
	assert.ErrorIs(t, err, pagedoc.ErrInvalidDocument)
}

func TestLocalCacheSurfacesQuota(t *testing.T) {
	c := NewLocalCache(NewMemoryBackend(16), nil)
	err := c.Put(context.Background(), "big", pagedoc.New("A title long enough to overflow"))
	assert.True(t, errors.Is(err, ErrQuotaExceeded), "got %v", err)
}

func TestLocalCacheBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(NewMemoryBackend(0), nil)

	_, ok, err := c.LoadBackup(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	require.NoError(t, c.SaveBackup(ctx, Backup{PageID: "page-x-1", Document: pagedoc.New("X"), SavedAt: at}))

	backup, ok, err := c.LoadBackup(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "page-x-1", backup.PageID)
	assert.Equal(t, "X", backup.Document.Title())
	assert.True(t, at.Equal(backup.SavedAt))

	ids, err := c.PageIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "backup keys are not page entries")
}
