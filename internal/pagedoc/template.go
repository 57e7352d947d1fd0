package pagedoc

import (
	"strings"

	"github.com/google/uuid"
)

const (
	TypeHeroBanner   = "HeroBanner"
	TypeHeading      = "Heading"
	TypeRichText     = "RichText"
	TypeEventDetails = "EventDetails"
	TypeSchedule     = "Schedule"
	TypeRegistration = "RegistrationForm"
	TypePricingPlans = "PricingPlans"
	TypeFooter       = "Footer"
)

const (
	DefaultBannerURL = "https://placehold.co/1200x400?text=Event+Banner"
	DefaultEventName = "Event Title"
	DefaultEventDate = "Date to be announced"
	DefaultLocation  = "Venue to be announced"
)

type Kind string

const (
	KindBlank        Kind = "blank"
	KindLanding      Kind = "landing"
	KindRegistration Kind = "registration"
	KindSchedule     Kind = "schedule"
)

var kindLabels = map[Kind]string{
	KindBlank:        "Page",
	KindLanding:      "Landing",
	KindRegistration: "Registration",
	KindSchedule:     "Schedule",
}

func ParseKind(raw string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := kindLabels[kind]
	return kind, ok
}

func (k Kind) Label() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	return kindLabels[KindBlank]
}

// KindForName picks the template variant a page name suggests.
func KindForName(pageName string) Kind {
	name := strings.ToLower(pageName)
	switch {
	case strings.Contains(name, "schedule"), strings.Contains(name, "agenda"):
		return KindSchedule
	case strings.Contains(name, "regist"), strings.Contains(name, "ticket"):
		return KindRegistration
	case strings.Contains(name, "home"), strings.Contains(name, "landing"):
		return KindLanding
	default:
		return KindBlank
	}
}

// EventContext is the shared event data templates are seeded from.
type EventContext struct {
	BannerURL string `yaml:"bannerImage" json:"bannerImage"`
	EventName string `yaml:"eventName" json:"eventName"`
	Date      string `yaml:"date" json:"date"`
	Location  string `yaml:"location" json:"location"`
}

func (c EventContext) withDefaults() EventContext {
	if strings.TrimSpace(c.BannerURL) == "" {
		c.BannerURL = DefaultBannerURL
	}
	if strings.TrimSpace(c.EventName) == "" {
		c.EventName = DefaultEventName
	}
	if strings.TrimSpace(c.Date) == "" {
		c.Date = DefaultEventDate
	}
	if strings.TrimSpace(c.Location) == "" {
		c.Location = DefaultLocation
	}
	return c
}

// CanonicalTypes is the node type set of the landing template, the full
// shape a document authored by this system carries.
func CanonicalTypes() []string {
	return []string{
		TypeHeroBanner,
		TypeHeading,
		TypeRichText,
		TypeEventDetails,
		TypeSchedule,
		TypePricingPlans,
		TypeFooter,
	}
}

type TemplateGenerator struct {
	newID func() string
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{newID: uuid.NewString}
}

func (g *TemplateGenerator) Generate(pageName string, ctx EventContext) *Document {
	return g.GenerateKind(KindForName(pageName), pageName, ctx)
}

// GenerateKind builds a fresh document for the given variant. Missing
// context fields fall back to fixed defaults; node ids are always new.
func (g *TemplateGenerator) GenerateKind(kind Kind, pageName string, ctx EventContext) *Document {
	ctx = ctx.withDefaults()
	if _, ok := kindLabels[kind]; !ok {
		kind = KindBlank
	}
	title := strings.TrimSpace(pageName)
	if title == "" {
		title = ctx.EventName
	}
	doc := New(title)
	doc.SetPageType(string(kind))

	add := func(nodeType string, props map[string]any) {
		doc.Content = append(doc.Content, g.node(nodeType, props))
	}
	add(TypeHeroBanner, map[string]any{
		"image": ctx.BannerURL,
		"title": ctx.EventName,
		"date":  ctx.Date,
	})
	add(TypeHeading, map[string]any{"text": title, "level": "h1"})

	switch kind {
	case KindLanding:
		add(TypeRichText, map[string]any{"text": "Tell attendees what makes " + ctx.EventName + " worth attending."})
		add(TypeEventDetails, map[string]any{"date": ctx.Date, "location": ctx.Location})
		add(TypeSchedule, map[string]any{"sessions": []any{}})
		add(TypePricingPlans, map[string]any{"plans": []any{}})
		add(TypeFooter, map[string]any{"text": ctx.EventName})
	case KindRegistration:
		add(TypeEventDetails, map[string]any{"date": ctx.Date, "location": ctx.Location})
		add(TypePricingPlans, map[string]any{"plans": []any{}})
		add(TypeRegistration, map[string]any{"fields": []any{"name", "email"}})
		add(TypeFooter, map[string]any{"text": ctx.EventName})
	case KindSchedule:
		add(TypeRichText, map[string]any{"text": "Sessions for " + ctx.EventName + "."})
		add(TypeSchedule, map[string]any{"sessions": []any{}})
		add(TypeFooter, map[string]any{"text": ctx.EventName})
	}
	return doc
}

func (g *TemplateGenerator) node(nodeType string, props map[string]any) Node {
	newID := g.newID
	if newID == nil {
		newID = uuid.NewString
	}
	id := nodeType + "-" + newID()
	props[PropID] = id
	return Node{Type: nodeType, Props: props}
}

// ReplaceBanner points every HeroBanner still showing previous at next and
// reports how many nodes changed.
func ReplaceBanner(doc *Document, previous, next string) int {
	if doc == nil || previous == next {
		return 0
	}
	changed := 0
	swap := func(nodes []Node) {
		for i := range nodes {
			if nodes[i].Type != TypeHeroBanner {
				continue
			}
			if current, _ := nodes[i].Props["image"].(string); current == previous {
				nodes[i].Props["image"] = next
				changed++
			}
		}
	}
	swap(doc.Content)
	for _, nodes := range doc.Zones {
		swap(nodes)
	}
	return changed
}
