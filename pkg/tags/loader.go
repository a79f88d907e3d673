// ABOUTME: YAML catalog files that extend or add department catalogs
// ABOUTME: Mapping order in the file is kept so catalogs iterate the way they are written

package tags

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the root of a catalog document:
//
//	departments:
//	  rig:
//	    rigHookup:
//	      association: MR3
//	      description: Marks geometry that will be attached in the body rig.
type CatalogFile struct {
	Departments departmentList `yaml:"departments"`
}

type departmentList []departmentDef

type departmentDef struct {
	name string
	tags []Definition
}

// UnmarshalYAML walks the mapping node directly; decoding into a Go map
// would lose the order of departments and tags.
func (l *departmentList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Newf("line %d: departments must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		dept := departmentDef{name: key.Value}

		if val.Kind != yaml.MappingNode && !isNull(val) {
			return errors.Newf("line %d: department %s must be a mapping of tags", val.Line, key.Value)
		}
		for j := 0; j+1 < len(val.Content); j += 2 {
			tagKey, tagVal := val.Content[j], val.Content[j+1]
			var e Entry
			if err := tagVal.Decode(&e); err != nil {
				return errors.Wrapf(err, "line %d: tag %s", tagVal.Line, tagKey.Value)
			}
			dept.tags = append(dept.tags, Definition{
				Name:        tagKey.Value,
				Association: e.Association,
				Description: e.Description,
			})
		}
		*l = append(*l, dept)
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

// ParseCatalogs decodes a catalog document into catalogs, one per department.
func ParseCatalogs(r io.Reader) ([]*Catalog, error) {
	var file CatalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode catalog document")
	}

	out := make([]*Catalog, 0, len(file.Departments))
	for _, d := range file.Departments {
		c, err := NewCatalog(d.name, d.tags...)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadFile reads the catalogs of one YAML file.
func LoadFile(path string) ([]*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open catalog file %s", path)
	}
	defer f.Close()

	catalogs, err := ParseCatalogs(f)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog file %s", path)
	}
	return catalogs, nil
}

// Merge loads every file in order and merges it over base.
func Merge(base *Registry, paths ...string) (*Registry, error) {
	r := base
	for _, p := range paths {
		catalogs, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		if r, err = r.Merge(catalogs...); err != nil {
			return nil, errors.Wrapf(err, "merge %s", p)
		}
	}
	return r, nil
}
