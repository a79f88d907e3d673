// ABOUTME: In-memory Scene holding objects and attributes in insertion order
// ABOUTME: Used by tests, by the server when no scene file is configured, and as the import source

package scene

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Memory is a Scene kept in process memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	objects []*Object
	byName  map[string]*Object

	observers
}

var _ Scene = (*Memory)(nil)

// NewMemory creates a scene from objects. Names must be unique and parents
// must exist.
func NewMemory(objects ...Object) (*Memory, error) {
	m := &Memory{byName: make(map[string]*Object, len(objects))}
	for _, o := range objects {
		if err := m.add(o); err != nil {
			return nil, err
		}
	}
	for _, o := range m.objects {
		if o.Parent != "" {
			if _, ok := m.byName[o.Parent]; !ok {
				return nil, notFound("parent %s of %s", o.Parent, o.Name)
			}
		}
	}
	return m, nil
}

func (m *Memory) add(o Object) error {
	if o.Name == "" {
		return errors.New("object name cannot be empty")
	}
	if _, dup := m.byName[o.Name]; dup {
		return errors.Newf("object %s defined twice", o.Name)
	}
	seen := make(map[string]bool, len(o.Attributes))
	attrs := make([]Attribute, 0, len(o.Attributes))
	for _, a := range o.Attributes {
		if seen[a.Name] {
			return errors.Newf("attribute %s.%s defined twice", o.Name, a.Name)
		}
		seen[a.Name] = true
		if a.Type == "" {
			a.Type = InferType(a.Value)
		}
		attrs = append(attrs, a)
	}
	o.Attributes = attrs
	m.objects = append(m.objects, &o)
	m.byName[o.Name] = &o
	return nil
}

// AddObject appends an object to the scene.
func (m *Memory) AddObject(o Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Parent != "" {
		if _, ok := m.byName[o.Parent]; !ok {
			return notFound("parent %s of %s", o.Parent, o.Name)
		}
	}
	return m.add(o)
}

// Objects returns a deep copy of the scene contents.
func (m *Memory) Objects() []Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Object, 0, len(m.objects))
	for _, o := range m.objects {
		c := *o
		c.Attributes = make([]Attribute, len(o.Attributes))
		for i, a := range o.Attributes {
			a.Connections = append([]string(nil), a.Connections...)
			c.Attributes[i] = a
		}
		out = append(out, c)
	}
	return out
}

// Select replaces the selection.
func (m *Memory) Select(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := m.byName[n]; !ok {
			return notFound("object %s", n)
		}
		want[n] = true
	}
	for _, o := range m.objects {
		o.Selected = want[o.Name]
	}
	return nil
}

func (m *Memory) ListObjects(_ context.Context, q ObjectQuery) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]node, 0, len(m.objects))
	for _, o := range m.objects {
		nodes = append(nodes, node{name: o.Name, typ: o.Type, parent: o.Parent, selected: o.Selected})
	}
	return selectNodes(nodes, q), nil
}

func (m *Memory) ListAttributes(_ context.Context, object string, userDefinedOnly bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byName[object]
	if !ok {
		return nil, errors.Mark(notFound("object %s", object), ErrEnumeration)
	}
	out := make([]string, 0, len(o.Attributes))
	for _, a := range o.Attributes {
		if userDefinedOnly && !a.UserDefined() {
			continue
		}
		out = append(out, a.Name)
	}
	return out, nil
}

func (m *Memory) ReadAttributeValue(_ context.Context, object, attr string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.lookup(object, attr)
	if err != nil {
		return nil, errors.Mark(err, ErrRead)
	}
	if !a.Readable() {
		return nil, errors.Wrapf(ErrRead, "%s.%s has no scalar value", object, attr)
	}
	return a.Value, nil
}

func (m *Memory) ReadAttributeConnections(_ context.Context, object, attr string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.lookup(object, attr)
	if err != nil {
		return nil, errors.Mark(err, ErrRead)
	}
	return append([]string(nil), a.Connections...), nil
}

func (m *Memory) AttributeExists(_ context.Context, object, attr string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byName[object]
	if !ok {
		return false, notFound("object %s", object)
	}
	return indexOf(o, attr) >= 0, nil
}

func (m *Memory) AttributeType(_ context.Context, object, attr string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.lookup(object, attr)
	if err != nil {
		return "", err
	}
	return a.Type, nil
}

func (m *Memory) NodeType(_ context.Context, object string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byName[object]
	if !ok {
		return "", notFound("object %s", object)
	}
	return o.Type, nil
}

func (m *Memory) CreateStringAttribute(_ context.Context, object, name string) error {
	m.mu.Lock()
	o, ok := m.byName[object]
	if !ok {
		m.mu.Unlock()
		return notFound("object %s", object)
	}
	if indexOf(o, name) >= 0 {
		m.mu.Unlock()
		return errors.Wrapf(ErrExists, "%s.%s", object, name)
	}
	o.Attributes = append(o.Attributes, Attribute{Name: name, Type: TypeString, Value: ""})
	m.mu.Unlock()

	m.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeCreated})
	return nil
}

func (m *Memory) DeleteAttribute(_ context.Context, object, name string) error {
	m.mu.Lock()
	o, ok := m.byName[object]
	if !ok {
		m.mu.Unlock()
		return notFound("object %s", object)
	}
	i := indexOf(o, name)
	if i < 0 {
		m.mu.Unlock()
		return notFound("attribute %s.%s", object, name)
	}
	if o.Attributes[i].Locked {
		m.mu.Unlock()
		return errors.Wrapf(ErrLocked, "delete %s.%s", object, name)
	}
	o.Attributes = append(o.Attributes[:i], o.Attributes[i+1:]...)
	m.mu.Unlock()

	m.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeDeleted})
	return nil
}

func (m *Memory) SetAttribute(_ context.Context, object, name string, value interface{}, locked bool) error {
	m.mu.Lock()
	a, err := m.lookupMut(object, name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if a.Locked {
		m.mu.Unlock()
		return errors.Wrapf(ErrLocked, "set %s.%s", object, name)
	}
	a.Value = value
	a.Locked = locked
	m.mu.Unlock()

	m.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeSet})
	if locked {
		m.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeLocked})
	}
	return nil
}

func (m *Memory) LockAttribute(_ context.Context, object, name string, locked bool) error {
	m.mu.Lock()
	a, err := m.lookupMut(object, name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	changed := a.Locked != locked
	a.Locked = locked
	m.mu.Unlock()

	if changed {
		m.notify(ChangeEvent{Object: object, Attribute: name, Kind: lockKind(locked)})
	}
	return nil
}

// IsLocked reports the lock state of an attribute.
func (m *Memory) IsLocked(object, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.lookup(object, name)
	if err != nil {
		return false, err
	}
	return a.Locked, nil
}

func (m *Memory) OnAttributeChanged(object, attr string, h ChangeHandler) func() {
	return m.observers.add(object, attr, h)
}

func (m *Memory) lookup(object, attr string) (Attribute, error) {
	a, err := m.lookupMut(object, attr)
	if err != nil {
		return Attribute{}, err
	}
	return *a, nil
}

func (m *Memory) lookupMut(object, attr string) (*Attribute, error) {
	o, ok := m.byName[object]
	if !ok {
		return nil, notFound("object %s", object)
	}
	i := indexOf(o, attr)
	if i < 0 {
		return nil, notFound("attribute %s.%s", object, attr)
	}
	return &o.Attributes[i], nil
}

func indexOf(o *Object, attr string) int {
	for i := range o.Attributes {
		if o.Attributes[i].Name == attr {
			return i
		}
	}
	return -1
}

func lockKind(locked bool) ChangeKind {
	if locked {
		return AttributeLocked
	}
	return AttributeUnlocked
}
