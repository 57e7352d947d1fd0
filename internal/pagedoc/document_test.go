package pagedoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAcceptsMinimalDocument(t *testing.T) {
	doc, err := Decode([]byte(`{"content":[{"type":"Heading","props":{"text":"hi"}}],"root":{}}`))
	require.NoError(t, err)
	require.Len(t, doc.Content, 1)
	assert.NotNil(t, doc.Root.Props)
	assert.Equal(t, "", doc.Title())
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not json":       `{"content":`,
		"missing root":   `{"content":[]}`,
		"missing type":   `{"content":[{"props":{}}],"root":{"props":{}}}`,
		"content object": `{"content":{},"root":{"props":{}}}`,
		"bad zone":       `{"content":[],"root":{"props":{}},"zones":{"a":"nope"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestTitlePrefersPageTitle(t *testing.T) {
	doc := New("")
	doc.SetRootTitle("Root")
	assert.Equal(t, "Root", doc.Title())

	doc.SetPageTitle("Page")
	assert.Equal(t, "Page", doc.Title())
	assert.Equal(t, "Root", doc.RootTitle())

	doc.SetTitle("Both")
	assert.Equal(t, "Both", doc.Title())
	assert.Equal(t, "Both", doc.RootTitle())
}

func TestNodeKeyPrefersPropsID(t *testing.T) {
	assert.Equal(t, "a", Node{Type: "X", Props: map[string]any{"id": "a"}, ID: "b"}.Key())
	assert.Equal(t, "b", Node{Type: "X", Props: map[string]any{"id": 7}, ID: "b"}.Key())
	assert.Equal(t, "", Node{Type: "X"}.Key())
}

func TestCloneIsDeep(t *testing.T) {
	doc := New("Home")
	doc.Content = []Node{{Type: TypeSchedule, Props: map[string]any{"sessions": []any{"keynote"}}}}

	clone := doc.Clone()
	clone.Content[0].Props["sessions"] = []any{}
	clone.SetTitle("Other")

	assert.Equal(t, []any{"keynote"}, doc.Content[0].Props["sessions"])
	assert.Equal(t, "Home", doc.Title())
}

func TestValidateReportsDuplicateIDsAcrossZones(t *testing.T) {
	doc := New("Home")
	doc.Content = []Node{{Type: TypeHeading, Props: map[string]any{"id": "h"}}}
	doc.Zones = map[string][]Node{"side": {{Type: TypeRichText, Props: map[string]any{"id": "h"}}}}

	assert.ErrorIs(t, doc.Validate(), ErrDuplicateNodeID)

	doc.Zones["side"][0].Props["id"] = "r"
	assert.NoError(t, doc.Validate())
	assert.Equal(t, 2, doc.NodeCount())
}

func TestDocumentJSONShape(t *testing.T) {
	raw, err := json.Marshal(New("Home"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[],"root":{"props":{"title":"Home","pageTitle":"Home"}}}`, string(raw))
}
