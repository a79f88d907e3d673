package search

import (
	"path"
	"strings"
)

// Filter narrows a Result. Empty fields do not filter; the rest are ANDed.
type Filter struct {
	// ObjectName is a case-sensitive substring, or a whole-name wildcard
	// pattern when it contains '*'.
	ObjectName string
	// ObjectType must equal the object's node type.
	ObjectType string
	// AttrName, AttrType and Association keep an object when any of its
	// attributes contains the text in that field.
	AttrName    string
	AttrType    string
	Association string
}

// IsZero reports whether the filter keeps everything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Apply returns the objects of r that pass the filter. Kept objects keep all
// their attributes.
func (f Filter) Apply(r *Result) *Result {
	out := &Result{}
	if r == nil {
		return out
	}
	for _, o := range r.Objects {
		if f.keep(o) {
			out.Objects = append(out.Objects, o)
		}
	}
	return out
}

func (f Filter) keep(o ObjectMatch) bool {
	if f.ObjectName != "" && !matchName(f.ObjectName, o.Name) {
		return false
	}
	if f.ObjectType != "" && o.NodeType != f.ObjectType {
		return false
	}
	if f.AttrName != "" && !anyAttr(o, func(a AttributeRecord) string { return a.Name }, f.AttrName) {
		return false
	}
	if f.AttrType != "" && !anyAttr(o, func(a AttributeRecord) string { return a.Type }, f.AttrType) {
		return false
	}
	if f.Association != "" && !anyAttr(o, func(a AttributeRecord) string { return a.Association }, f.Association) {
		return false
	}
	return true
}

func matchName(pattern, name string) bool {
	if strings.Contains(pattern, "*") {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}
	return strings.Contains(name, pattern)
}

func anyAttr(o ObjectMatch, field func(AttributeRecord) string, text string) bool {
	for _, a := range o.Attributes {
		if strings.Contains(field(a), text) {
			return true
		}
	}
	return false
}

// Facets are the distinct values a Result offers for filtering, in first
// seen order.
type Facets struct {
	ObjectTypes  []string `json:"objectTypes"`
	AttrNames    []string `json:"attrNames"`
	AttrTypes    []string `json:"attrTypes"`
	Associations []string `json:"associations"`
}

// FacetsOf collects the facets of r.
func FacetsOf(r *Result) Facets {
	var f Facets
	var types, names, attrTypes, assocs orderedSet
	for _, o := range r.Objects {
		types.add(&f.ObjectTypes, o.NodeType)
		for _, a := range o.Attributes {
			names.add(&f.AttrNames, a.Name)
			attrTypes.add(&f.AttrTypes, a.Type)
			assocs.add(&f.Associations, a.Association)
		}
	}
	return f
}

type orderedSet map[string]struct{}

func (s *orderedSet) add(dst *[]string, v string) {
	if *s == nil {
		*s = make(orderedSet)
	}
	if _, ok := (*s)[v]; ok {
		return
	}
	(*s)[v] = struct{}{}
	*dst = append(*dst, v)
}
