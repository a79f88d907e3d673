// ABOUTME: Registry instance holding the catalogs a process searches and resolves against
// ABOUTME: Built explicitly and passed by reference; there is no package-level catalog state

package tags

import (
	"github.com/cockroachdb/errors"
)

// Registry is an ordered, immutable set of department catalogs.
type Registry struct {
	catalogs CatalogList
	byDept   map[string]*Catalog
}

// NewRegistry builds a registry. Each department may appear once.
func NewRegistry(catalogs ...*Catalog) (*Registry, error) {
	r := &Registry{
		catalogs: make(CatalogList, 0, len(catalogs)),
		byDept:   make(map[string]*Catalog, len(catalogs)),
	}
	for _, c := range catalogs {
		if c == nil {
			continue
		}
		if _, dup := r.byDept[c.department]; dup {
			return nil, validationErrorf("department %s registered twice", c.department)
		}
		r.byDept[c.department] = c
		r.catalogs = append(r.catalogs, c)
	}
	return r, nil
}

// Standard returns a registry over the built-in department catalogs.
func Standard() *Registry {
	r, err := NewRegistry(standardCatalogs()...)
	if err != nil {
		// built-in data is fixed; a failure here is a programming error
		panic(err)
	}
	return r
}

// Catalogs returns the standard catalog list of this registry.
func (r *Registry) Catalogs() CatalogList {
	out := make(CatalogList, len(r.catalogs))
	copy(out, r.catalogs)
	return out
}

// Department returns the catalog of one department.
func (r *Registry) Department(name string) (*Catalog, bool) {
	c, ok := r.byDept[name]
	return c, ok
}

// Departments returns the registered department names in order.
func (r *Registry) Departments() []string {
	return r.catalogs.Departments()
}

// Select returns the catalogs of the named departments, in the order given.
// With no names it returns every catalog.
func (r *Registry) Select(depts ...string) (CatalogList, error) {
	if len(depts) == 0 {
		return r.Catalogs(), nil
	}
	out := make(CatalogList, 0, len(depts))
	for _, d := range depts {
		c, ok := r.byDept[d]
		if !ok {
			return nil, errors.WithHintf(
				errors.Wrapf(ErrUnknownDepartment, "department %q", d),
				"known departments: %v", r.Departments())
		}
		out = append(out, c)
	}
	return out, nil
}

// Merge returns a new registry where each overlay catalog adds to the
// department of the same name. Tags already defined keep their position and
// take the overlay's entry; new tags are appended. Unknown departments are
// appended as new catalogs.
func (r *Registry) Merge(overlays ...*Catalog) (*Registry, error) {
	merged := make([]*Catalog, 0, len(r.catalogs)+len(overlays))
	index := make(map[string]int, len(r.catalogs))
	for _, c := range r.catalogs {
		index[c.department] = len(merged)
		merged = append(merged, c)
	}

	for _, o := range overlays {
		if o == nil {
			continue
		}
		i, ok := index[o.department]
		if !ok {
			index[o.department] = len(merged)
			merged = append(merged, o)
			continue
		}
		c, err := mergeCatalog(merged[i], o)
		if err != nil {
			return nil, err
		}
		merged[i] = c
	}
	return NewRegistry(merged...)
}

func mergeCatalog(base, overlay *Catalog) (*Catalog, error) {
	defs := base.Definitions()
	pos := make(map[string]int, len(defs))
	for i, d := range defs {
		pos[d.Name] = i
	}
	for _, d := range overlay.Definitions() {
		if i, ok := pos[d.Name]; ok {
			defs[i] = d
			continue
		}
		pos[d.Name] = len(defs)
		defs = append(defs, d)
	}
	return NewCatalog(base.department, defs...)
}
