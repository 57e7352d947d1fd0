// Package registry keeps the list of known pages. Entries only ever merge in;
// nothing in this package removes a page.
package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

type Page struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	StorageKey   string    `json:"storageKey"`
	LastModified time.Time `json:"lastModified"`
}

// IsServerID reports whether id has the UUID shape the remote store issues.
// Locally created ids never do.
func IsServerID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

// StableLocalID is the deterministic form of LocalID, for ids that must be
// derived again later from the same name and time.
func StableLocalID(name string, at time.Time) string {
	return fmt.Sprintf("page-%s-%d", pagedoc.Slug(name), at.UnixMilli())
}

// LocalID derives the id of a page created in this session. The random
// suffix keeps ids distinct when two pages get the same name in the same
// millisecond.
func LocalID(name string, now time.Time) string {
	return StableLocalID(name, now) + "-" + uuid.NewString()[:8]
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
