package pagedoc

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DedupeReport struct {
	DuplicateIDs        int
	DuplicateStructures int
	SingletonsDropped   int
	SingletonTypes      []string
}

func (r DedupeReport) Removed() int {
	return r.DuplicateIDs + r.DuplicateStructures + r.SingletonsDropped
}

// Deduper removes repeated nodes. A node is identified by props.id when it
// has one and by type plus serialized props otherwise; the top-level id plays
// no part. Singleton types survive at most once per document no matter how
// their ids or props differ.
type Deduper struct {
	SingletonTypes []string
}

func DefaultDeduper() Deduper {
	return Deduper{SingletonTypes: []string{TypePricingPlans}}
}

// Dedupe returns a repaired copy of doc; the input is not modified. Content
// is walked first, then zones in name order. The first occurrence always
// wins, which keeps relative order and makes the operation idempotent.
func (d Deduper) Dedupe(doc *Document) (*Document, DedupeReport) {
	var report DedupeReport
	if doc == nil {
		return nil, report
	}
	out := doc.Clone()
	singletons := map[string]bool{}
	for _, kind := range d.SingletonTypes {
		kind = strings.TrimSpace(kind)
		if kind != "" {
			singletons[kind] = false
		}
	}
	seenIDs := map[string]struct{}{}

	filter := func(nodes []Node) []Node {
		kept := make([]Node, 0, len(nodes))
		seenShapes := map[string]struct{}{}
		for _, node := range nodes {
			if taken, isSingleton := singletons[node.Type]; isSingleton {
				if taken {
					report.SingletonsDropped++
					report.SingletonTypes = append(report.SingletonTypes, node.Type)
					continue
				}
			}
			if key := explicitPropID(node.Props); key != "" {
				if _, dup := seenIDs[key]; dup {
					report.DuplicateIDs++
					continue
				}
				seenIDs[key] = struct{}{}
			} else {
				shape := structuralKey(node)
				if _, dup := seenShapes[shape]; dup {
					report.DuplicateStructures++
					continue
				}
				seenShapes[shape] = struct{}{}
			}
			if _, isSingleton := singletons[node.Type]; isSingleton {
				singletons[node.Type] = true
			}
			kept = append(kept, node)
		}
		return kept
	}

	out.Content = filter(out.Content)
	for _, zone := range out.zoneNames() {
		out.Zones[zone] = filter(out.Zones[zone])
	}
	return out, report
}

// structuralKey identifies a node by type and serialized props. Map keys are
// sorted by encoding/json, so equal props always serialize identically.
func structuralKey(node Node) string {
	props, err := json.Marshal(node.Props)
	if err != nil {
		return node.Type + "\x00" + fmt.Sprintf("%v", node.Props)
	}
	return node.Type + "\x00" + string(props)
}
