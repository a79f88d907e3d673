// ABOUTME: Search options, the option builder and ordered result types
// ABOUTME: Results keep scene order; Map gives keyed access for callers that want it

package search

import (
	"github.com/cockroachdb/errors"

	"github.com/nainya/tagstore/pkg/tags"
)

// ErrInvalidOptions marks options rejected before the scene is queried.
var ErrInvalidOptions = errors.New("invalid search options")

// ProgressSpan is the top of the progress range the engine reports. The
// rest up to 100 belongs to whoever presents the result.
const ProgressSpan = 50.0

// ProgressFunc receives search progress in (0, ProgressSpan].
type ProgressFunc func(percent float64)

// Options controls one search.
type Options struct {
	Terms            []string
	NodeType         string
	UserDefinedOnly  bool
	Exact            bool
	SelectionOnly    bool
	IncludeHierarchy bool

	// Catalogs overrides the engine's catalog list for this search.
	Catalogs tags.CatalogList
	// ForceChoice settles ambiguous tag lookups by index.
	ForceChoice *int

	Progress ProgressFunc
}

// Validate checks option combinations that have no defined meaning.
func (o Options) Validate() error {
	if o.IncludeHierarchy && !o.SelectionOnly {
		return errors.WithHint(
			errors.Wrap(ErrInvalidOptions, "hierarchy scope requires selection scope"),
			"enable selection-only or drop include-hierarchy")
	}
	return nil
}

// Builder assembles Options.
type Builder struct {
	opts Options
}

// NewBuilder starts from the given terms, or the common terms when none are given.
func NewBuilder(terms ...string) *Builder {
	if len(terms) == 0 {
		terms = tags.CommonTerms()
	}
	return &Builder{opts: Options{Terms: terms, UserDefinedOnly: true, Exact: true}}
}

// NodeType restricts candidates to one node type.
func (b *Builder) NodeType(t string) *Builder {
	b.opts.NodeType = t
	return b
}

// AllAttributes includes attributes that are not user-defined.
func (b *Builder) AllAttributes() *Builder {
	b.opts.UserDefinedOnly = false
	return b
}

// Substring switches to case-insensitive substring matching.
func (b *Builder) Substring() *Builder {
	b.opts.Exact = false
	return b
}

// Selection restricts candidates to the selection, optionally with descendants.
func (b *Builder) Selection(hierarchy bool) *Builder {
	b.opts.SelectionOnly = true
	b.opts.IncludeHierarchy = hierarchy
	return b
}

// Catalogs sets the catalogs used for annotation.
func (b *Builder) Catalogs(c tags.CatalogList) *Builder {
	b.opts.Catalogs = c
	return b
}

// Progress sets the progress sink.
func (b *Builder) Progress(fn ProgressFunc) *Builder {
	b.opts.Progress = fn
	return b
}

// Build returns the constructed options.
func (b *Builder) Build() Options {
	return b.opts
}

// AttributeRecord is one matched attribute.
type AttributeRecord struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Association string `json:"association"`
	Description string `json:"description"`
	// Term is the search term that matched Name.
	Term string `json:"term"`
}

// ObjectMatch is an object with at least one matched attribute.
type ObjectMatch struct {
	Name       string            `json:"name"`
	NodeType   string            `json:"nodeType"`
	Attributes []AttributeRecord `json:"attributes"`
}

// Attribute returns the record for name.
func (m ObjectMatch) Attribute(name string) (AttributeRecord, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeRecord{}, false
}

// Result holds matches in scene order.
type Result struct {
	Objects []ObjectMatch `json:"objects"`
}

// Len returns the number of matched objects.
func (r *Result) Len() int { return len(r.Objects) }

// AttributeCount returns the number of matched attributes across objects.
func (r *Result) AttributeCount() int {
	n := 0
	for _, o := range r.Objects {
		n += len(o.Attributes)
	}
	return n
}

// Object returns the match for name.
func (r *Result) Object(name string) (ObjectMatch, bool) {
	for _, o := range r.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return ObjectMatch{}, false
}

// Map returns object -> attribute -> record.
func (r *Result) Map() map[string]map[string]AttributeRecord {
	out := make(map[string]map[string]AttributeRecord, len(r.Objects))
	for _, o := range r.Objects {
		attrs := make(map[string]AttributeRecord, len(o.Attributes))
		for _, a := range o.Attributes {
			attrs[a.Name] = a
		}
		out[o.Name] = attrs
	}
	return out
}
