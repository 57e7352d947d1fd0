// Package reconcile merges the cached, in-memory and remote copies of a page
// into one document with a single resolved title.
package reconcile

import (
	"strings"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

type Base string

const (
	BaseRemote   Base = "remote"
	BaseLocal    Base = "local"
	BaseMemory   Base = "memory"
	BaseTemplate Base = "template"
)

type Input struct {
	Local    *pagedoc.Document
	InMemory *pagedoc.Document
	Remote   *pagedoc.Document

	FallbackName string
	// Kind selects the template variant when one has to be generated. Empty
	// means the variant is derived from the resolved title.
	Kind pagedoc.Kind

	Rules        pagedoc.StructureRules
	Deduper      pagedoc.Deduper
	Templates    *pagedoc.TemplateGenerator
	EventContext pagedoc.EventContext
}

type Result struct {
	Document *pagedoc.Document
	Title    string
	Base     Base
	Report   pagedoc.DedupeReport
	// StructuralMismatch is set when a remote document was present but
	// rejected by the structure rules.
	StructuralMismatch bool
}

// ResolveTitle returns the first non-empty title of local, inMemory, remote
// and finally fallback.
func ResolveTitle(local, inMemory, remote *pagedoc.Document, fallback string) string {
	for _, doc := range []*pagedoc.Document{local, inMemory, remote} {
		if title := doc.Title(); title != "" {
			return title
		}
	}
	return strings.TrimSpace(fallback)
}

// Reconcile picks a structural base and writes the resolved title into it.
//
// A remote document is the base when it passes the structure rules, and a
// template replaces it when it does not. Without a remote document the base
// is the cached copy, then the in-memory copy, then a template. The inputs
// are never modified.
func Reconcile(in Input) Result {
	title := ResolveTitle(in.Local, in.InMemory, in.Remote, in.FallbackName)
	result := Result{Title: title}

	var base *pagedoc.Document
	switch {
	case in.Remote != nil:
		if in.Rules.HasExpectedStructure(in.Remote) {
			base, result.Report = in.Deduper.Dedupe(in.Remote)
			result.Base = BaseRemote
		} else {
			result.StructuralMismatch = true
		}
	case in.Local != nil:
		base, result.Report = in.Deduper.Dedupe(in.Local)
		result.Base = BaseLocal
	case in.InMemory != nil:
		base, result.Report = in.Deduper.Dedupe(in.InMemory)
		result.Base = BaseMemory
	}
	if base == nil {
		base = generate(in, title)
		result.Base = BaseTemplate
	}

	applyTitle(base, title, in.Remote.Title())
	result.Document = base
	return result
}

func generate(in Input, title string) *pagedoc.Document {
	templates := in.Templates
	if templates == nil {
		templates = pagedoc.NewTemplateGenerator()
	}
	kind := in.Kind
	if kind == "" {
		kind = kindOf(in.Local, in.InMemory)
	}
	if kind == "" {
		kind = pagedoc.KindForName(title)
	}
	return templates.GenerateKind(kind, title, in.EventContext)
}

func kindOf(docs ...*pagedoc.Document) pagedoc.Kind {
	for _, doc := range docs {
		if kind, ok := pagedoc.ParseKind(doc.PageType()); ok {
			return kind
		}
	}
	return ""
}

// applyTitle sets pageTitle to the winner. The plain title follows only when
// it is empty or still carries the remote title being superseded, so a user
// edited title is never regressed by a stale remote copy.
func applyTitle(doc *pagedoc.Document, title, remoteTitle string) {
	if title == "" {
		return
	}
	doc.SetPageTitle(title)
	current := doc.RootTitle()
	if current == "" || (remoteTitle != "" && current == remoteTitle) {
		doc.SetRootTitle(title)
	}
}
