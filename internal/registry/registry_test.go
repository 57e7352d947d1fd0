package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

func TestRegistryResolve(t *testing.T) {
	reg := New()
	reg.Merge([]Page{{ID: "page-home-1", Name: "Home", StorageKey: "home.json"}})

	for _, ref := range []string{"page-home-1", "home.json", "home", " home.json "} {
		page, ok := reg.Resolve(ref)
		require.True(t, ok, ref)
		assert.Equal(t, "page-home-1", page.ID)
	}
	_, ok := reg.Resolve("missing")
	assert.False(t, ok)
	_, ok = reg.Resolve("")
	assert.False(t, ok)
}

func TestRegistryAliasesSurviveCoalescing(t *testing.T) {
	reg := New()
	reg.Merge([]Page{{ID: "page-home-1", Name: "Home", StorageKey: "home.json"}})
	reg.Merge([]Page{{ID: "srv-1", Name: "Home", StorageKey: "home.json"}})

	page, ok := reg.Resolve("srv-1")
	require.True(t, ok)
	assert.Equal(t, "page-home-1", page.ID)
	assert.Equal(t, 1, reg.Len())

	// a second sync under the same server id does not add a page
	reg.Merge([]Page{{ID: "srv-1", Name: "Home", StorageKey: "home.json"}})
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryRenameRecordsAlias(t *testing.T) {
	reg := New()
	reg.Merge([]Page{{ID: "page-draft-1", Name: "Draft", StorageKey: "draft.json"}, {ID: "b", Name: "Blog"}})

	reg.Rename("page-draft-1", Page{ID: "page-launch-2", Name: "Launch", StorageKey: "launch.json"})

	page, ok := reg.Resolve("page-draft-1")
	require.True(t, ok)
	assert.Equal(t, "Launch", page.Name)
	assert.Equal(t, "page-launch-2", reg.Canonical("page-draft-1"))
	assert.Equal(t, []string{"Blog", "Launch"}, names(reg.Snapshot()))

	reg.Rename("page-draft-1", Page{ID: "page-final-3", Name: "Final", StorageKey: "final.json"})
	assert.Equal(t, "page-final-3", reg.Canonical("page-draft-1"))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryNextName(t *testing.T) {
	reg := New(WithLocale("de"))
	reg.Merge([]Page{{ID: "1", Name: "Page 1"}, {ID: "2", Name: "Page 4"}})
	assert.Equal(t, "Page 5", reg.NextName(""))
}

func TestRegistryReserveIsAtomic(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Reserve("Page", func(name string) Page {
				return Page{ID: LocalID(name, epoch), Name: name, StorageKey: pagedoc.Filename(name)}
			})
		}()
	}
	wg.Wait()

	pages := r.Snapshot()
	require.Len(t, pages, 8)
	for i, page := range pages {
		assert.Equal(t, fmt.Sprintf("Page %d", i+1), page.Name)
	}
	assert.Equal(t, "Page 9", r.NextName("Page"))
}
