// ABOUTME: Tag definition with optional typed default and value
// ABOUTME: Rejects empty identity fields and values of the wrong runtime type

package tags

import (
	"fmt"
	"strings"
)

// DataType is the declared type of a tag's default and value.
type DataType string

const (
	DataTypeNone    DataType = ""
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeFloat   DataType = "float"
	DataTypeBoolean DataType = "boolean"
	DataTypeMapping DataType = "mapping"
)

// ParseDataType maps a type name to a DataType. The short names used by the
// rigging tools (int, bool, dict, str) are accepted as aliases.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DataTypeNone, nil
	case "string", "str":
		return DataTypeString, nil
	case "integer", "int":
		return DataTypeInteger, nil
	case "float", "double":
		return DataTypeFloat, nil
	case "boolean", "bool":
		return DataTypeBoolean, nil
	case "mapping", "dict", "map":
		return DataTypeMapping, nil
	default:
		return DataTypeNone, validationErrorf("unsupported data type %q", name)
	}
}

// Accepts reports whether v has the runtime type this DataType declares.
// DataTypeNone accepts only nil.
func (dt DataType) Accepts(v interface{}) bool {
	switch dt {
	case DataTypeNone:
		return v == nil
	case DataTypeString:
		_, ok := v.(string)
		return ok
	case DataTypeInteger:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case DataTypeFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case DataTypeBoolean:
		_, ok := v.(bool)
		return ok
	case DataTypeMapping:
		switch v.(type) {
		case map[string]interface{}, map[string]string:
			return true
		}
		return false
	default:
		return false
	}
}

// Tag is a named attribute identifier with its owning association and a
// human-readable description.
type Tag struct {
	name        string
	association string
	description string

	dataType DataType
	def      interface{}
	value    interface{}
}

// NewTag creates a tag. All three fields are required.
func NewTag(name, association, description string) (*Tag, error) {
	t := &Tag{}
	if err := t.SetName(name); err != nil {
		return nil, err
	}
	if err := t.SetAssociation(association); err != nil {
		return nil, err
	}
	if err := t.SetDescription(description); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tag) Name() string        { return t.name }
func (t *Tag) Association() string { return t.association }
func (t *Tag) Description() string { return t.description }
func (t *Tag) DataType() DataType  { return t.dataType }

// Default returns the default value, nil when none was set.
func (t *Tag) Default() interface{} { return t.def }

// Value returns the current value, nil when none was set.
func (t *Tag) Value() interface{} { return t.value }

// SetName replaces the tag name.
func (t *Tag) SetName(name string) error {
	if name == "" {
		return validationErrorf("tag name cannot be empty")
	}
	t.name = name
	return nil
}

// SetAssociation replaces the owning tool or process.
func (t *Tag) SetAssociation(association string) error {
	if association == "" {
		return validationErrorf("association of tag %q cannot be empty", t.name)
	}
	t.association = association
	return nil
}

// SetDescription replaces the description.
func (t *Tag) SetDescription(description string) error {
	if description == "" {
		return validationErrorf("description of tag %q cannot be empty", t.name)
	}
	t.description = description
	return nil
}

// SetDataType declares the type later defaults and values must have. A
// default or value already set must satisfy the new type.
func (t *Tag) SetDataType(dt DataType) error {
	dt, err := ParseDataType(string(dt))
	if err != nil {
		return err
	}
	if t.def != nil && !dt.Accepts(t.def) {
		return typeMismatchf("default %s of tag %q is not %s", describe(t.def), t.name, dt)
	}
	if t.value != nil && !dt.Accepts(t.value) {
		return typeMismatchf("value %s of tag %q is not %s", describe(t.value), t.name, dt)
	}
	t.dataType = dt
	return nil
}

// SetDefault assigns the default value.
func (t *Tag) SetDefault(v interface{}) error {
	if !t.dataType.Accepts(v) {
		return typeMismatchf("default %s of tag %q is not %s", describe(v), t.name, t.displayType())
	}
	t.def = v
	return nil
}

// SetValue assigns the current value.
func (t *Tag) SetValue(v interface{}) error {
	if !t.dataType.Accepts(v) {
		return typeMismatchf("value %s of tag %q is not %s", describe(v), t.name, t.displayType())
	}
	t.value = v
	return nil
}

// Entry returns the catalog entry for this tag.
func (t *Tag) Entry() Entry {
	return Entry{Association: t.association, Description: t.description}
}

func (t *Tag) displayType() string {
	if t.dataType == DataTypeNone {
		return "untyped"
	}
	return string(t.dataType)
}

func describe(v interface{}) string {
	return fmt.Sprintf("%v (%T)", v, v)
}
