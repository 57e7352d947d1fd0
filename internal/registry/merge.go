package registry

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type MergeResult struct {
	Pages []Page
	// Aliases maps a discovered id that was coalesced onto an existing
	// entry to the id that entry kept.
	Aliases map[string]string
}

// Merge is MergeDetailed without the alias bookkeeping, using English
// collation.
func Merge(prev, discovered []Page) []Page {
	return MergeDetailed(prev, discovered, language.English).Pages
}

// MergeDetailed unions prev and discovered by id. A discovered entry replaces
// the previous entry with the same id. A discovered entry whose name matches
// a previous entry under a different id is folded into that entry: the
// previous id and storage key are kept and the later modification time
// wins. Entries of prev without an id are carried over untouched. The result
// is never shorter than prev and is sorted by name in natural order for tag.
func MergeDetailed(prev, discovered []Page, tag language.Tag) MergeResult {
	result := MergeResult{Aliases: map[string]string{}}
	byID := make(map[string]Page, len(prev)+len(discovered))
	order := make([]string, 0, len(prev)+len(discovered))
	byName := map[string]string{}

	for i, page := range prev {
		if strings.TrimSpace(page.ID) == "" {
			// kept under a private key; nothing discovered can match it
			key := "\x00prev:" + strconv.Itoa(i)
			order = append(order, key)
			byID[key] = page
			continue
		}
		if _, ok := byID[page.ID]; !ok {
			order = append(order, page.ID)
		}
		byID[page.ID] = page
		if key := nameKey(page.Name); key != "" {
			if _, taken := byName[key]; !taken {
				byName[key] = page.ID
			}
		}
	}

	for _, page := range discovered {
		if strings.TrimSpace(page.ID) == "" {
			continue
		}
		if existing, ok := byID[page.ID]; ok {
			if page.StorageKey == "" {
				page.StorageKey = existing.StorageKey
			}
			if page.Name == "" {
				page.Name = existing.Name
			}
			byID[page.ID] = page
			continue
		}
		if ownerID, ok := byName[nameKey(page.Name)]; ok && ownerID != page.ID {
			owner := byID[ownerID]
			if page.LastModified.After(owner.LastModified) {
				owner.LastModified = page.LastModified
			}
			if owner.StorageKey == "" {
				owner.StorageKey = page.StorageKey
			}
			byID[ownerID] = owner
			result.Aliases[page.ID] = ownerID
			continue
		}
		byID[page.ID] = page
		order = append(order, page.ID)
		if key := nameKey(page.Name); key != "" {
			byName[key] = page.ID
		}
	}

	result.Pages = make([]Page, 0, len(order))
	for _, id := range order {
		result.Pages = append(result.Pages, byID[id])
	}
	SortPages(result.Pages, tag)
	return result
}

// SortPages orders pages by name so that "Page 2" sorts before "Page 10".
// Equal names fall back to id order to keep the result deterministic.
func SortPages(pages []Page, tag language.Tag) {
	col := collate.New(tag, collate.Numeric, collate.IgnoreCase)
	var buf collate.Buffer
	type keyed struct {
		page Page
		key  []byte
	}
	items := make([]keyed, len(pages))
	for i, page := range pages {
		items[i] = keyed{page: page, key: append([]byte(nil), col.KeyFromString(&buf, page.Name)...)}
		buf.Reset()
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := bytes.Compare(items[i].key, items[j].key); c != 0 {
			return c < 0
		}
		return items[i].page.ID < items[j].page.ID
	})
	for i := range items {
		pages[i] = items[i].page
	}
}
