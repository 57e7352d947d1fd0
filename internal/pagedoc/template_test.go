package pagedoc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFillsDefaults(t *testing.T) {
	doc := NewTemplateGenerator().GenerateKind(KindLanding, "Home", EventContext{})

	require.NotEmpty(t, doc.Content)
	hero := doc.Content[0]
	assert.Equal(t, TypeHeroBanner, hero.Type)
	assert.Equal(t, DefaultBannerURL, hero.Props["image"])
	assert.Equal(t, DefaultEventName, hero.Props["title"])
	assert.Equal(t, "Home", doc.Title())
	assert.Equal(t, string(KindLanding), doc.PageType())
	require.NoError(t, doc.Validate())
}

func TestGenerateUsesEventContext(t *testing.T) {
	ctx := EventContext{BannerURL: "https://cdn.example/b.png", EventName: "GopherCon", Date: "2026-11-02", Location: "Berlin"}
	doc := NewTemplateGenerator().GenerateKind(KindRegistration, "Tickets", ctx)

	assert.Equal(t, "https://cdn.example/b.png", doc.Content[0].Props["image"])
	types := doc.NodeTypes()
	assert.Contains(t, types, TypeRegistration)
	assert.Contains(t, types, TypePricingPlans)
	for _, node := range doc.Content {
		if node.Type == TypeEventDetails {
			assert.Equal(t, "Berlin", node.Props["location"])
		}
	}
}

func TestGenerateProducesFreshIDs(t *testing.T) {
	n := 0
	gen := &TemplateGenerator{newID: func() string { n++; return fmt.Sprint(n) }}

	first := gen.GenerateKind(KindBlank, "Page 1", EventContext{})
	second := gen.GenerateKind(KindBlank, "Page 1", EventContext{})

	assert.Equal(t, TypeHeroBanner+"-1", first.Content[0].Key())
	assert.NotEqual(t, first.Content[0].Key(), second.Content[0].Key())
}

func TestKindForName(t *testing.T) {
	assert.Equal(t, KindSchedule, KindForName("Conference Agenda"))
	assert.Equal(t, KindRegistration, KindForName("Buy Tickets"))
	assert.Equal(t, KindLanding, KindForName("Home"))
	assert.Equal(t, KindBlank, KindForName("Page 3"))
}

func TestParseKind(t *testing.T) {
	kind, ok := ParseKind(" Schedule ")
	assert.True(t, ok)
	assert.Equal(t, KindSchedule, kind)
	assert.Equal(t, "Schedule", kind.Label())

	_, ok = ParseKind("gallery")
	assert.False(t, ok)
	assert.Equal(t, "Page", Kind("gallery").Label())
}

func TestReplaceBannerOnlySwapsMatchingImages(t *testing.T) {
	doc := New("Home")
	doc.Content = []Node{
		{Type: TypeHeroBanner, Props: map[string]any{"image": "old"}},
		{Type: TypeHeroBanner, Props: map[string]any{"image": "custom"}},
	}
	doc.Zones = map[string][]Node{"top": {{Type: TypeHeroBanner, Props: map[string]any{"image": "old"}}}}

	assert.Equal(t, 2, ReplaceBanner(doc, "old", "new"))
	assert.Equal(t, "new", doc.Content[0].Props["image"])
	assert.Equal(t, "custom", doc.Content[1].Props["image"])
	assert.Equal(t, "new", doc.Zones["top"][0].Props["image"])
	assert.Zero(t, ReplaceBanner(doc, "same", "same"))
	assert.True(t, strings.HasPrefix(DefaultBannerURL, "https://"))
}
