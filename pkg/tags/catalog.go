// ABOUTME: Department catalogs of known tags and lookups across catalog lists
// ABOUTME: Lookups never fail on unknown tags; they log and return empty results

package tags

import (
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Entry is the metadata a catalog holds for one tag.
type Entry struct {
	Association string `yaml:"association" json:"association"`
	Description string `yaml:"description" json:"description"`
}

// Definition names a tag and its entry, in the order a catalog should keep it.
type Definition struct {
	Name        string
	Association string
	Description string
}

// Catalog maps tag names to entries for one pipeline department. It is
// immutable once built.
type Catalog struct {
	department string
	names      []string
	entries    map[string]Entry
}

// NewCatalog builds a catalog, validating every definition. Duplicate names
// within one catalog are rejected.
func NewCatalog(department string, defs ...Definition) (*Catalog, error) {
	if department == "" {
		return nil, validationErrorf("catalog department cannot be empty")
	}

	c := &Catalog{
		department: department,
		names:      make([]string, 0, len(defs)),
		entries:    make(map[string]Entry, len(defs)),
	}
	for _, def := range defs {
		tag, err := NewTag(def.Name, def.Association, def.Description)
		if err != nil {
			return nil, errors.Wrapf(err, "department %s", department)
		}
		if _, exists := c.entries[tag.Name()]; exists {
			return nil, validationErrorf("department %s: tag %q defined twice", department, tag.Name())
		}
		c.names = append(c.names, tag.Name())
		c.entries[tag.Name()] = tag.Entry()
	}
	return c, nil
}

// Department returns the department this catalog belongs to.
func (c *Catalog) Department() string { return c.department }

// Len returns the number of tags in the catalog.
func (c *Catalog) Len() int { return len(c.names) }

// Names returns the tag names in definition order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Lookup returns the entry for a tag.
func (c *Catalog) Lookup(tag string) (Entry, bool) {
	e, ok := c.entries[tag]
	return e, ok
}

// Has reports whether the catalog defines tag.
func (c *Catalog) Has(tag string) bool {
	_, ok := c.entries[tag]
	return ok
}

// Definitions returns the catalog contents in definition order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.names))
	for _, name := range c.names {
		e := c.entries[name]
		out = append(out, Definition{Name: name, Association: e.Association, Description: e.Description})
	}
	return out
}

// CatalogList is an ordered search space of catalogs.
type CatalogList []*Catalog

// TagNames returns every tag defined in the list, deduplicated. The order
// is first definition order but callers should treat it as a set.
func (l CatalogList) TagNames() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range l {
		if c == nil {
			continue
		}
		for _, name := range c.names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// IsTagValid reports whether any catalog in the list defines tag. Misses
// are logged at DEBUG on the global logger; use Logged to pick another.
func (l CatalogList) IsTagValid(tag string) bool {
	return l.Logged(log.Logger).IsTagValid(tag)
}

// CatalogsContaining returns the catalogs that define tag, in list order.
// The same catalog listed twice is returned once. Misses are logged at
// WARNING on the global logger; use Logged to pick another.
func (l CatalogList) CatalogsContaining(tag string) CatalogList {
	return l.Logged(log.Logger).CatalogsContaining(tag)
}

// Defining is CatalogsContaining without the log line, for callers that
// expect unknown tags.
func (l CatalogList) Defining(tag string) CatalogList {
	var out CatalogList
	seen := make(map[*Catalog]struct{})
	for _, c := range l {
		if c == nil || !c.Has(tag) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Logged binds the list to logger for the lookups that report misses.
func (l CatalogList) Logged(logger zerolog.Logger) LoggedCatalogs {
	return LoggedCatalogs{list: l, logger: logger}
}

// LoggedCatalogs runs the reporting lookups of a CatalogList against an
// injected logger.
type LoggedCatalogs struct {
	list   CatalogList
	logger zerolog.Logger
}

// IsTagValid reports whether any catalog defines tag.
func (c LoggedCatalogs) IsTagValid(tag string) bool {
	if len(c.list.Defining(tag)) > 0 {
		return true
	}
	c.logger.Debug().Str("tag", tag).Msg("tag is not a valid tag")
	return false
}

// CatalogsContaining returns the catalogs that define tag, warning when
// there are none.
func (c LoggedCatalogs) CatalogsContaining(tag string) CatalogList {
	out := c.list.Defining(tag)
	if len(out) == 0 {
		c.logger.Warn().Str("tag", tag).Msg("tag is not in any catalog")
	}
	return out
}

// Departments returns the department names in list order.
func (l CatalogList) Departments() []string {
	out := make([]string, 0, len(l))
	for _, c := range l {
		if c != nil {
			out = append(out, c.department)
		}
	}
	return out
}
