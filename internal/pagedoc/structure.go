package pagedoc

import "strings"

// StructureRules decide whether a document was authored by this template
// system. Both lists are product configuration: Expected is the full
// canonical type set, Legacy the types known to belong to incompatible
// formats.
type StructureRules struct {
	Expected []string `yaml:"expected" json:"expected"`
	Legacy   []string `yaml:"legacy" json:"legacy"`
}

func DefaultStructureRules() StructureRules {
	return StructureRules{
		Expected: CanonicalTypes(),
		Legacy:   []string{},
	}
}

// HasExpectedStructure accepts a document whose node types cover the whole
// Expected set, rejects one carrying any Legacy type, and accepts anything
// else.
func (r StructureRules) HasExpectedStructure(doc *Document) bool {
	if doc == nil {
		return false
	}
	types := doc.NodeTypes()
	if r.coversExpected(types) {
		return true
	}
	for _, legacy := range r.Legacy {
		legacy = strings.TrimSpace(legacy)
		if legacy == "" {
			continue
		}
		if _, ok := types[legacy]; ok {
			return false
		}
	}
	return true
}

func (r StructureRules) coversExpected(types map[string]struct{}) bool {
	expected := 0
	for _, want := range r.Expected {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		expected++
		if _, ok := types[want]; !ok {
			return false
		}
	}
	return expected > 0
}
