// ABOUTME: Tests shared by both Scene adapters plus adapter-specific behavior
// ABOUTME: Covers listing order, hierarchy expansion, lock semantics and observer dispatch

package scene

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
)

func testObjects() []Object {
	return []Object{
		{Name: "rig_grp", Type: "transform", Selected: true},
		{Name: "body_geo", Type: "mesh", Parent: "rig_grp", Attributes: []Attribute{
			{Name: "visibility", Type: "bool", Value: true, Builtin: true},
			{Name: "rigHookup", Type: "bool", Value: true},
			{Name: "rigHookupExtra", Type: "string", Value: "extra"},
		}},
		{Name: "arm_ctrl", Type: "transform", Parent: "rig_grp", Attributes: []Attribute{
			{Name: "owningModuleID", Type: "long", Value: 7},
			{Name: "moduleLink", Type: TypeMessage, Connections: []string{"arm_module.message"}},
		}},
		{Name: "hand_ctrl", Type: "transform", Parent: "arm_ctrl"},
		{Name: "loose_geo", Type: "mesh", Selected: true},
	}
}

type sceneFactory func(t *testing.T) Scene

func setupTestMemory(t *testing.T) Scene {
	m, err := NewMemory(testObjects()...)
	if err != nil {
		t.Fatalf("Failed to build memory scene: %v", err)
	}
	return m
}

func setupTestSQLite(t *testing.T) Scene {
	path := filepath.Join(t.TempDir(), "scene.db")
	s, err := OpenSQLite(context.Background(), path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("Failed to open sqlite scene: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Import(context.Background(), testObjects()...); err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	return s
}

func forEachAdapter(t *testing.T, fn func(t *testing.T, s Scene)) {
	adapters := map[string]sceneFactory{
		"memory": setupTestMemory,
		"sqlite": setupTestSQLite,
	}
	for _, name := range []string{"memory", "sqlite"} {
		factory := adapters[name]
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestListObjects(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, s Scene) {
		ctx := context.Background()
		cases := []struct {
			q    ObjectQuery
			want []string
		}{
			{ObjectQuery{}, []string{"rig_grp", "body_geo", "arm_ctrl", "hand_ctrl", "loose_geo"}},
			{ObjectQuery{NodeType: "mesh"}, []string{"body_geo", "loose_geo"}},
			{ObjectQuery{SelectionOnly: true}, []string{"rig_grp", "loose_geo"}},
			{ObjectQuery{SelectionOnly: true, IncludeHierarchy: true}, []string{"rig_grp", "body_geo", "arm_ctrl", "hand_ctrl", "loose_geo"}},
			{ObjectQuery{SelectionOnly: true, IncludeHierarchy: true, NodeType: "transform"}, []string{"rig_grp", "arm_ctrl", "hand_ctrl"}},
		}
		for _, c := range cases {
			got, err := s.ListObjects(ctx, c.q)
			if err != nil {
				t.Fatalf("Failed to list %+v: %v", c.q, err)
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("ListObjects(%+v) = %v, want %v", c.q, got, c.want)
			}
		}
	})
}

func TestListAttributes(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, s Scene) {
		ctx := context.Background()
		all, err := s.ListAttributes(ctx, "body_geo", false)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if !reflect.DeepEqual(all, []string{"visibility", "rigHookup", "rigHookupExtra"}) {
			t.Errorf("Unexpected attributes: %v", all)
		}

		ud, _ := s.ListAttributes(ctx, "body_geo", true)
		if !reflect.DeepEqual(ud, []string{"rigHookup", "rigHookupExtra"}) {
			t.Errorf("Unexpected user-defined attributes: %v", ud)
		}

		_, err = s.ListAttributes(ctx, "ghost", false)
		if !errors.Is(err, ErrEnumeration) || !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected enumeration not-found error, got %v", err)
		}
	})
}

func TestReadAttributes(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, s Scene) {
		ctx := context.Background()
		v, err := s.ReadAttributeValue(ctx, "arm_ctrl", "owningModuleID")
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if v != 7 {
			t.Errorf("Expected 7, got %#v", v)
		}

		if _, err := s.ReadAttributeValue(ctx, "arm_ctrl", "moduleLink"); !errors.Is(err, ErrRead) {
			t.Errorf("Expected read error on message attribute, got %v", err)
		}
		conns, err := s.ReadAttributeConnections(ctx, "arm_ctrl", "moduleLink")
		if err != nil {
			t.Fatalf("Failed to read connections: %v", err)
		}
		if !reflect.DeepEqual(conns, []string{"arm_module.message"}) {
			t.Errorf("Unexpected connections: %v", conns)
		}

		if _, err := s.ReadAttributeValue(ctx, "arm_ctrl", "nope"); !errors.Is(err, ErrRead) {
			t.Errorf("Expected read error for missing attribute, got %v", err)
		}

		typ, _ := s.AttributeType(ctx, "body_geo", "rigHookupExtra")
		if typ != "string" {
			t.Errorf("Expected string type, got %q", typ)
		}
		nt, _ := s.NodeType(ctx, "body_geo")
		if nt != "mesh" {
			t.Errorf("Expected mesh, got %q", nt)
		}
		if _, err := s.NodeType(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected not found, got %v", err)
		}
	})
}

func TestLockSemantics(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, s Scene) {
		ctx := context.Background()
		if err := s.CreateStringAttribute(ctx, "loose_geo", "notes"); err != nil {
			t.Fatalf("Failed to create: %v", err)
		}
		if err := s.CreateStringAttribute(ctx, "loose_geo", "notes"); !errors.Is(err, ErrExists) {
			t.Errorf("Expected exists error, got %v", err)
		}
		if ok, _ := s.AttributeExists(ctx, "loose_geo", "notes"); !ok {
			t.Fatal("Attribute should exist")
		}

		if err := s.SetAttribute(ctx, "loose_geo", "notes", "{}", true); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
		if err := s.SetAttribute(ctx, "loose_geo", "notes", "changed", true); !errors.Is(err, ErrLocked) {
			t.Errorf("Expected locked error, got %v", err)
		}
		if err := s.DeleteAttribute(ctx, "loose_geo", "notes"); !errors.Is(err, ErrLocked) {
			t.Errorf("Expected locked error on delete, got %v", err)
		}

		v, _ := s.ReadAttributeValue(ctx, "loose_geo", "notes")
		if v != "{}" {
			t.Errorf("Locked write must not change value, got %v", v)
		}

		if err := s.LockAttribute(ctx, "loose_geo", "notes", false); err != nil {
			t.Fatalf("Failed to unlock: %v", err)
		}
		if err := s.SetAttribute(ctx, "loose_geo", "notes", "changed", false); err != nil {
			t.Errorf("Write after unlock failed: %v", err)
		}
		if err := s.DeleteAttribute(ctx, "loose_geo", "notes"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if ok, _ := s.AttributeExists(ctx, "loose_geo", "notes"); ok {
			t.Error("Attribute should be gone")
		}
	})
}

func TestObserverDispatch(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, s Scene) {
		ctx := context.Background()
		var exact, wildcard []ChangeEvent
		cancelExact := s.OnAttributeChanged("loose_geo", "notes", func(ev ChangeEvent) {
			exact = append(exact, ev)
		})
		cancelAll := s.OnAttributeChanged("", "", func(ev ChangeEvent) {
			// handlers may read back from the scene
			if _, err := s.AttributeExists(ctx, ev.Object, ev.Attribute); err != nil {
				t.Errorf("Read inside handler failed: %v", err)
			}
			wildcard = append(wildcard, ev)
		})
		defer cancelAll()

		s.CreateStringAttribute(ctx, "loose_geo", "notes")
		s.SetAttribute(ctx, "loose_geo", "notes", "x", true)
		s.CreateStringAttribute(ctx, "body_geo", "notes")

		wantKinds := []ChangeKind{AttributeCreated, AttributeSet, AttributeLocked}
		if len(exact) != len(wantKinds) {
			t.Fatalf("Expected %d exact events, got %v", len(wantKinds), exact)
		}
		for i, k := range wantKinds {
			if exact[i].Kind != k {
				t.Errorf("Event %d kind %s, want %s", i, exact[i].Kind, k)
			}
		}
		if len(wildcard) != 4 {
			t.Errorf("Expected 4 wildcard events, got %d", len(wildcard))
		}

		cancelExact()
		cancelExact()
		s.LockAttribute(ctx, "loose_geo", "notes", false)
		if len(exact) != 3 {
			t.Errorf("Cancelled handler still called")
		}
	})
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scene.db")
	s, err := OpenSQLite(ctx, path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := s.Import(ctx, testObjects()...); err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	if err := s.Select(ctx, "arm_ctrl"); err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer s.Close()

	sel, _ := s.ListObjects(ctx, ObjectQuery{SelectionOnly: true})
	if !reflect.DeepEqual(sel, []string{"arm_ctrl"}) {
		t.Errorf("Selection not kept: %v", sel)
	}
	objs, err := s.Objects(ctx)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if len(objs) != 5 || len(objs[1].Attributes) != 3 {
		t.Errorf("Unexpected export: %d objects", len(objs))
	}
	if err := s.Select(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSQLiteExclusiveLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scene.db")
	first, err := OpenSQLite(ctx, path, SQLiteOptions{Exclusive: true})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}

	if _, err := OpenSQLite(ctx, path, SQLiteOptions{Exclusive: true}); !errors.Is(err, ErrSceneBusy) {
		t.Errorf("Expected busy error, got %v", err)
	}
	first.Close()

	second, err := OpenSQLite(ctx, path, SQLiteOptions{Exclusive: true})
	if err != nil {
		t.Fatalf("Lock should be released on close: %v", err)
	}
	second.Close()
}

func TestSQLiteImportRejectsOrphans(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "scene.db"), SQLiteOptions{})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer s.Close()

	err = s.Import(ctx, Object{Name: "child", Type: "transform", Parent: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if objs, _ := s.ListObjects(ctx, ObjectQuery{}); len(objs) != 0 {
		t.Errorf("Failed import must roll back, got %v", objs)
	}
}

func TestNewMemoryValidates(t *testing.T) {
	if _, err := NewMemory(Object{Name: "a"}, Object{Name: "a"}); err == nil {
		t.Error("Expected duplicate object error")
	}
	if _, err := NewMemory(Object{Name: "a", Parent: "b"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected missing parent error, got %v", err)
	}
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	doc := `objects:
  - name: body_geo
    type: mesh
    selected: true
    attributes:
      - {name: rigHookup, value: true}
      - {name: owningModuleID, value: 3}
      - {name: link, connections: [arm.message]}
      - {name: visibility, value: true, builtin: true}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	m, err := LoadMemory(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	ctx := context.Background()
	types := map[string]string{"rigHookup": "bool", "owningModuleID": "long", "link": TypeMessage}
	for attr, want := range types {
		if got, _ := m.AttributeType(ctx, "body_geo", attr); got != want {
			t.Errorf("%s type %q, want %q", attr, got, want)
		}
	}
	ud, _ := m.ListAttributes(ctx, "body_geo", true)
	if len(ud) != 3 {
		t.Errorf("Expected 3 user-defined attributes, got %v", ud)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("objects:\n  - name: x\n    colour: red\n"), 0o644)
	if _, err := LoadDocument(bad); err == nil {
		t.Error("Expected unknown field error")
	}
}

func TestSaveDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory(testObjects()...)
	if err != nil {
		t.Fatalf("Failed to build scene: %v", err)
	}
	m.CreateStringAttribute(ctx, "body_geo", "notes")
	m.SetAttribute(ctx, "body_geo", "notes", "{}", true)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveDocument(path, m.Objects()); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	back, err := LoadMemory(path)
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if !reflect.DeepEqual(back.Objects(), m.Objects()) {
		t.Errorf("Round trip changed the scene:\n got %+v\nwant %+v", back.Objects(), m.Objects())
	}
	if locked, _ := back.IsLocked("body_geo", "notes"); !locked {
		t.Error("Lock state should survive a save")
	}
}
