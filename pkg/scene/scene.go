// ABOUTME: Scene interface through which search and metadata reach objects and attributes
// ABOUTME: Adapters report read, enumeration, missing and locked conditions with the sentinels here

package scene

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrRead marks an attribute whose value or connections cannot be read.
	ErrRead = errors.New("attribute read failed")

	// ErrEnumeration marks a failure listing objects or attributes.
	ErrEnumeration = errors.New("scene enumeration failed")

	// ErrNotFound marks a missing object or attribute.
	ErrNotFound = errors.New("not found in scene")

	// ErrLocked marks a write to a locked attribute.
	ErrLocked = errors.New("attribute is locked")

	// ErrExists marks creation of an attribute that already exists.
	ErrExists = errors.New("attribute already exists")
)

// ObjectQuery restricts ListObjects.
type ObjectQuery struct {
	// NodeType keeps only objects of this type when set.
	NodeType string
	// SelectionOnly keeps only selected objects.
	SelectionOnly bool
	// IncludeHierarchy adds the descendants of every selected object.
	IncludeHierarchy bool
}

// Scene is the host scene as seen by the tag tools. Listing order is the
// scene's own order and must be stable while the scene is not mutated.
type Scene interface {
	ListObjects(ctx context.Context, q ObjectQuery) ([]string, error)
	ListAttributes(ctx context.Context, object string, userDefinedOnly bool) ([]string, error)

	// ReadAttributeValue returns the scalar value of an attribute.
	ReadAttributeValue(ctx context.Context, object, attr string) (interface{}, error)
	// ReadAttributeConnections returns the plugs connected to an attribute.
	ReadAttributeConnections(ctx context.Context, object, attr string) ([]string, error)

	AttributeExists(ctx context.Context, object, attr string) (bool, error)
	AttributeType(ctx context.Context, object, attr string) (string, error)
	NodeType(ctx context.Context, object string) (string, error)

	CreateStringAttribute(ctx context.Context, object, name string) error
	DeleteAttribute(ctx context.Context, object, name string) error
	// SetAttribute writes value and then sets the lock state. It fails with
	// ErrLocked when the attribute is locked before the call.
	SetAttribute(ctx context.Context, object, name string, value interface{}, locked bool) error
	LockAttribute(ctx context.Context, object, name string, locked bool) error

	// OnAttributeChanged registers h for changes to object.attr. An empty
	// object or attr matches any. The returned func removes the handler.
	OnAttributeChanged(object, attr string, h ChangeHandler) (cancel func())
}

// ChangeKind says what happened to an attribute.
type ChangeKind int

const (
	AttributeCreated ChangeKind = iota
	AttributeSet
	AttributeLocked
	AttributeUnlocked
	AttributeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case AttributeCreated:
		return "created"
	case AttributeSet:
		return "set"
	case AttributeLocked:
		return "locked"
	case AttributeUnlocked:
		return "unlocked"
	case AttributeDeleted:
		return "deleted"
	}
	return "unknown"
}

// ChangeEvent describes one attribute change.
type ChangeEvent struct {
	Object    string
	Attribute string
	Kind      ChangeKind
}

// ChangeHandler receives change events. It runs on the goroutine that made
// the change, after the change is complete.
type ChangeHandler func(ChangeEvent)

// Object is a scene node with its attributes, used to build and export scenes.
type Object struct {
	Name       string      `yaml:"name"`
	Type       string      `yaml:"type"`
	Parent     string      `yaml:"parent,omitempty"`
	Selected   bool        `yaml:"selected,omitempty"`
	Attributes []Attribute `yaml:"attributes,omitempty"`
}

// Attribute is one attribute of an Object.
type Attribute struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type,omitempty"`
	Value       interface{} `yaml:"value"`
	Builtin     bool        `yaml:"builtin,omitempty"`
	Locked      bool        `yaml:"locked,omitempty"`
	Connections []string    `yaml:"connections,omitempty"`
}

// UserDefined reports whether the attribute was added by a user.
func (a Attribute) UserDefined() bool { return !a.Builtin }

// Attribute types with special read behavior.
const (
	TypeString  = "string"
	TypeMessage = "message"
)

// Readable reports whether the attribute has a scalar value. Message
// attributes only carry connections.
func (a Attribute) Readable() bool { return a.Type != TypeMessage }

func notFound(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}
