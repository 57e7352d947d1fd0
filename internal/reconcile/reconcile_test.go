package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

func titled(title string) *pagedoc.Document {
	doc := pagedoc.New("")
	if title != "" {
		doc.SetTitle(title)
	}
	doc.Content = []pagedoc.Node{{Type: pagedoc.TypeHeading, Props: map[string]any{"text": title}}}
	return doc
}

func TestTitlePriority(t *testing.T) {
	tests := []struct {
		name                  string
		local, memory, remote string
		fallback, want        string
	}{
		{"cached wins", "A", "B", "C", "D", "A"},
		{"memory next", "", "B", "C", "D", "B"},
		{"remote next", "", "", "C", "D", "C"},
		{"fallback last", "", "", "", "D", "D"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Reconcile(Input{
				Local:        titled(tc.local),
				InMemory:     titled(tc.memory),
				Remote:       titled(tc.remote),
				FallbackName: tc.fallback,
				Deduper:      pagedoc.DefaultDeduper(),
			})
			assert.Equal(t, tc.want, got.Title)
			assert.Equal(t, tc.want, got.Document.Title())
		})
	}
}

func TestRemoteBaseKeepsUserTitle(t *testing.T) {
	remote := titled("Old Name")
	remote.SetRootTitle("Custom Root")

	got := Reconcile(Input{Local: titled("New Name"), Remote: remote, Deduper: pagedoc.DefaultDeduper()})

	assert.Equal(t, BaseRemote, got.Base)
	assert.Equal(t, "New Name", got.Document.Title())
	assert.Equal(t, "Custom Root", got.Document.RootTitle())
	assert.Equal(t, "Old Name", remote.Title(), "input must not be modified")
}

func TestRemoteTitleIsReplacedWhenSuperseded(t *testing.T) {
	got := Reconcile(Input{Local: titled("New Name"), Remote: titled("Old Name"), Deduper: pagedoc.DefaultDeduper()})
	assert.Equal(t, "New Name", got.Document.RootTitle())
}

func TestStructuralMismatchFallsBackToTemplate(t *testing.T) {
	remote := titled("Legacy")
	remote.Content = append(remote.Content, pagedoc.Node{Type: "LegacyHero", Props: map[string]any{}})

	got := Reconcile(Input{
		Remote:       remote,
		FallbackName: "Home",
		Rules:        pagedoc.StructureRules{Expected: pagedoc.CanonicalTypes(), Legacy: []string{"LegacyHero"}},
		Deduper:      pagedoc.DefaultDeduper(),
		EventContext: pagedoc.EventContext{EventName: "Summit"},
	})

	assert.True(t, got.StructuralMismatch)
	assert.Equal(t, BaseTemplate, got.Base)
	assert.Equal(t, "Legacy", got.Title)
	assert.NotContains(t, got.Document.NodeTypes(), "LegacyHero")
	assert.Equal(t, "Summit", got.Document.Content[0].Props["title"])
}

func TestRemoteIsDeduped(t *testing.T) {
	remote := titled("Home")
	remote.Content = append(remote.Content,
		pagedoc.Node{Type: pagedoc.TypeRichText, Props: map[string]any{"id": "x"}},
		pagedoc.Node{Type: pagedoc.TypeRichText, Props: map[string]any{"id": "x"}},
	)

	got := Reconcile(Input{Remote: remote, Deduper: pagedoc.DefaultDeduper()})

	assert.Equal(t, 1, got.Report.DuplicateIDs)
	require.NoError(t, got.Document.Validate())
}

func TestNoRemoteUsesLocalThenMemoryThenTemplate(t *testing.T) {
	local := titled("Cached")
	memory := titled("Editing")

	assert.Equal(t, BaseLocal, Reconcile(Input{Local: local, InMemory: memory}).Base)
	assert.Equal(t, BaseMemory, Reconcile(Input{InMemory: memory}).Base)

	got := Reconcile(Input{FallbackName: "Agenda"})
	assert.Equal(t, BaseTemplate, got.Base)
	assert.Equal(t, string(pagedoc.KindSchedule), got.Document.PageType())
	assert.Equal(t, "Agenda", got.Document.Title())
}

func TestTemplateKindFollowsExistingPageType(t *testing.T) {
	memory := titled("")
	memory.SetPageType(string(pagedoc.KindRegistration))
	remote := titled("Page 4")
	remote.Content = append(remote.Content, pagedoc.Node{Type: "Old", Props: map[string]any{}})

	got := Reconcile(Input{
		InMemory: memory,
		Remote:   remote,
		Rules:    pagedoc.StructureRules{Legacy: []string{"Old"}},
	})

	assert.Equal(t, string(pagedoc.KindRegistration), got.Document.PageType())
}
