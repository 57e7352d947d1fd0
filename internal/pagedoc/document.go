// Package pagedoc holds the page content tree shared by the cache, the remote
// store and the editor, plus the pure functions that inspect and repair it.
package pagedoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidDocument = errors.New("invalid page document")
	ErrDuplicateNodeID = errors.New("duplicate node id")
)

const (
	PropID        = "id"
	PropTitle     = "title"
	PropPageTitle = "pageTitle"
	PropPageType  = "pageType"
)

type Node struct {
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
	ID    string         `json:"id,omitempty"`
}

// Key returns the explicit node identity: props.id when it is a non-empty
// string, otherwise the top-level id.
func (n Node) Key() string {
	if id := explicitPropID(n.Props); id != "" {
		return id
	}
	return strings.TrimSpace(n.ID)
}

func explicitPropID(props map[string]any) string {
	if props == nil {
		return ""
	}
	id, ok := props[PropID].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

type Root struct {
	Props map[string]any `json:"props"`
}

type Document struct {
	Content []Node            `json:"content"`
	Root    Root              `json:"root"`
	Zones   map[string][]Node `json:"zones,omitempty"`
}

func New(title string) *Document {
	doc := &Document{
		Content: []Node{},
		Root:    Root{Props: map[string]any{}},
	}
	if strings.TrimSpace(title) != "" {
		doc.Root.Props[PropTitle] = title
		doc.Root.Props[PropPageTitle] = title
	}
	return doc
}

// Decode parses raw JSON into a Document after validating it against the
// page document schema.
func Decode(raw []byte) (*Document, error) {
	if err := ValidateJSON(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	doc.normalize()
	return &doc, nil
}

func (d *Document) normalize() {
	if d.Content == nil {
		d.Content = []Node{}
	}
	if d.Root.Props == nil {
		d.Root.Props = map[string]any{}
	}
	for i := range d.Content {
		if d.Content[i].Props == nil {
			d.Content[i].Props = map[string]any{}
		}
	}
	for zone, nodes := range d.Zones {
		for i := range nodes {
			if nodes[i].Props == nil {
				nodes[i].Props = map[string]any{}
			}
		}
		d.Zones[zone] = nodes
	}
}

// Title is the authoritative display title: root.props.pageTitle, falling
// back to root.props.title.
func (d *Document) Title() string {
	if d == nil {
		return ""
	}
	if title := stringProp(d.Root.Props, PropPageTitle); title != "" {
		return title
	}
	return stringProp(d.Root.Props, PropTitle)
}

func (d *Document) RootTitle() string {
	if d == nil {
		return ""
	}
	return stringProp(d.Root.Props, PropTitle)
}

func (d *Document) SetTitle(title string) {
	d.ensureRoot()
	d.Root.Props[PropPageTitle] = title
	d.Root.Props[PropTitle] = title
}

func (d *Document) SetPageTitle(title string) {
	d.ensureRoot()
	d.Root.Props[PropPageTitle] = title
}

func (d *Document) SetRootTitle(title string) {
	d.ensureRoot()
	d.Root.Props[PropTitle] = title
}

func (d *Document) PageType() string {
	if d == nil {
		return ""
	}
	return stringProp(d.Root.Props, PropPageType)
}

func (d *Document) SetPageType(kind string) {
	d.ensureRoot()
	d.Root.Props[PropPageType] = kind
}

func (d *Document) ensureRoot() {
	if d.Root.Props == nil {
		d.Root.Props = map[string]any{}
	}
}

// Clone returns a deep copy through a JSON round trip, so props holding
// nested maps and slices are never shared between copies.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return New(d.Title())
	}
	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		return New(d.Title())
	}
	clone.normalize()
	return &clone
}

// NodeTypes returns the set of node types present in content and zones.
func (d *Document) NodeTypes() map[string]struct{} {
	types := map[string]struct{}{}
	if d == nil {
		return types
	}
	for _, node := range d.Content {
		types[node.Type] = struct{}{}
	}
	for _, nodes := range d.Zones {
		for _, node := range nodes {
			types[node.Type] = struct{}{}
		}
	}
	return types
}

func (d *Document) NodeCount() int {
	if d == nil {
		return 0
	}
	count := len(d.Content)
	for _, nodes := range d.Zones {
		count += len(nodes)
	}
	return count
}

// Validate checks the document invariants: every node has a type and node
// ids are unique within the document.
func (d *Document) Validate() error {
	if d == nil {
		return ErrInvalidDocument
	}
	seen := map[string]struct{}{}
	check := func(where string, nodes []Node) error {
		for i, node := range nodes {
			if strings.TrimSpace(node.Type) == "" {
				return fmt.Errorf("%w: %s[%d] has no type", ErrInvalidDocument, where, i)
			}
			key := node.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateNodeID, key)
			}
			seen[key] = struct{}{}
		}
		return nil
	}
	if err := check("content", d.Content); err != nil {
		return err
	}
	for _, zone := range d.zoneNames() {
		if err := check("zones."+zone, d.Zones[zone]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) zoneNames() []string {
	names := make([]string, 0, len(d.Zones))
	for name := range d.Zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	value, ok := props[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
