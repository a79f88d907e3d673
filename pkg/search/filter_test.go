package search

import (
	"reflect"
	"testing"
)

func sampleResult() *Result {
	return &Result{Objects: []ObjectMatch{
		{Name: "L_arm_ctrl", NodeType: "transform", Attributes: []AttributeRecord{
			{Name: "owningModuleID", Type: "long", Association: "MR3"},
		}},
		{Name: "body_geo", NodeType: "mesh", Attributes: []AttributeRecord{
			{Name: "rigHookup", Type: "bool", Association: "MR3"},
			{Name: "removeAtPublish", Type: "bool", Association: "Staging"},
		}},
		{Name: "R_arm_ctrl", NodeType: "transform", Attributes: []AttributeRecord{
			{Name: "notes", Type: "string", Association: "N/A"},
		}},
	}}
}

func names(r *Result) []string {
	var out []string
	for _, o := range r.Objects {
		out = append(out, o.Name)
	}
	return out
}

func TestFilterApply(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero keeps all", Filter{}, []string{"L_arm_ctrl", "body_geo", "R_arm_ctrl"}},
		{"name contains", Filter{ObjectName: "arm"}, []string{"L_arm_ctrl", "R_arm_ctrl"}},
		{"name is case-sensitive", Filter{ObjectName: "ARM"}, nil},
		{"name wildcard", Filter{ObjectName: "L_*"}, []string{"L_arm_ctrl"}},
		{"wildcard matches whole name", Filter{ObjectName: "arm*"}, nil},
		{"object type equality", Filter{ObjectType: "mesh"}, []string{"body_geo"}},
		{"object type not substring", Filter{ObjectType: "trans"}, nil},
		{"attr name any", Filter{AttrName: "Publish"}, []string{"body_geo"}},
		{"attr type any", Filter{AttrType: "str"}, []string{"R_arm_ctrl"}},
		{"association any", Filter{Association: "MR3"}, []string{"L_arm_ctrl", "body_geo"}},
		{"anded", Filter{ObjectType: "transform", Association: "MR3"}, []string{"L_arm_ctrl"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := names(c.filter.Apply(sampleResult()))
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("Apply(%+v) = %v, want %v", c.filter, got, c.want)
			}
		})
	}
}

func TestFilterKeepsAllAttributes(t *testing.T) {
	got := Filter{AttrName: "rigHookup"}.Apply(sampleResult())
	if len(got.Objects) != 1 || len(got.Objects[0].Attributes) != 2 {
		t.Errorf("Filtered object should keep every attribute, got %+v", got.Objects)
	}
}

func TestFacetsOf(t *testing.T) {
	f := FacetsOf(sampleResult())
	if !reflect.DeepEqual(f.ObjectTypes, []string{"transform", "mesh"}) {
		t.Errorf("Unexpected object types: %v", f.ObjectTypes)
	}
	if !reflect.DeepEqual(f.Associations, []string{"MR3", "Staging", "N/A"}) {
		t.Errorf("Unexpected associations: %v", f.Associations)
	}
	if len(f.AttrNames) != 4 || len(f.AttrTypes) != 3 {
		t.Errorf("Unexpected facets: %+v", f)
	}
}
