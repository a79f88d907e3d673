// ABOUTME: YAML scene documents used to seed scenes for tests, the server and the import command
// ABOUTME: Attribute types default from the decoded value when a document omits them

package scene

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Document is the root of a scene file:
//
//	objects:
//	  - name: body_geo
//	    type: mesh
//	    attributes:
//	      - {name: rigHookup, value: true}
type Document struct {
	Objects []Object `yaml:"objects"`
}

// ParseDocument decodes a scene document.
func ParseDocument(r io.Reader) ([]Object, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode scene document")
	}
	for i := range doc.Objects {
		for j := range doc.Objects[i].Attributes {
			a := &doc.Objects[i].Attributes[j]
			if a.Type == "" {
				a.Type = InferType(a.Value)
			}
		}
	}
	return doc.Objects, nil
}

// LoadDocument reads the objects of a scene file.
func LoadDocument(path string) ([]Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open scene file %s", path)
	}
	defer f.Close()

	objs, err := ParseDocument(f)
	if err != nil {
		return nil, errors.Wrapf(err, "scene file %s", path)
	}
	return objs, nil
}

// LoadMemory builds a Memory scene from a scene file.
func LoadMemory(path string) (*Memory, error) {
	objs, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return NewMemory(objs...)
}

// InferType names the attribute type for a decoded value. Nil values are
// treated as message attributes.
func InferType(v interface{}) string {
	switch v.(type) {
	case nil:
		return TypeMessage
	case string:
		return TypeString
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "long"
	case float32, float64:
		return "double"
	case []interface{}, []string:
		return "stringArray"
	case map[string]interface{}:
		return "compound"
	default:
		return "unknown"
	}
}

// SaveDocument writes objects as a scene file, replacing path.
func SaveDocument(path string, objects []Object) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create scene file %s", path)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(Document{Objects: objects}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode scene file %s", path)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode scene file %s", path)
	}
	return f.Close()
}
