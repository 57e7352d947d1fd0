package registry

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultBaseName = "Page"

// NextPageName returns "{base} N" where N is one more than the highest
// numeric suffix already used with that base. Gaps are never refilled.
func NextPageName(pages []Page, base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseName
	}
	prefix := strings.ToLower(base) + " "
	highest := 0
	for _, page := range pages {
		name := strings.ToLower(strings.TrimSpace(page.Name))
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, prefix)))
		if err != nil || n < 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s %d", base, highest+1)
}
