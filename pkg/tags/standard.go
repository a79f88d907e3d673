// ABOUTME: Built-in department catalogs, the default search terms and the metadata attribute name
// ABOUTME: Only the rig department ships tags; the others exist so they can be extended by catalog files

package tags

// Pipeline departments.
const (
	DepartmentRig   = "rig"
	DepartmentAnim  = "anim"
	DepartmentCFX   = "cfx"
	DepartmentFX    = "fx"
	DepartmentModel = "model"
	DepartmentCrowd = "crowd"
	DepartmentComp  = "comp"
)

// MetadataAttr is the string attribute that holds an object's tag provenance.
const MetadataAttr = "tagsMetaData"

// Associations used by the rig catalog.
const (
	AssociationMR3               = "MR3"
	AssociationStaging           = "Staging"
	AssociationDeformerInterface = "Deformer Interface"
)

var rigDefinitions = []Definition{
	{"rigHookup", AssociationMR3, "Marks geometry that will be attached in the body rig."},
	{"reparentDuringUpdate", AssociationMR3, "Marks transforms that need its children re-parented to hierarchy during an update."},
	{"unparentDuringUpdate", AssociationMR3, "Marks transform to be removed from the Control_Rig transform hierarchy."},
	{"ignoreDuringUpdate", AssociationMR3, "Ignores being flagged as foreign transforms."},
	{"owningModuleID", AssociationMR3, "Marks a transform belonging to a module."},
	{"removeAtPublish", AssociationStaging, "Marks a node for removal during staging."},
	{"replaceAtPublish", AssociationStaging, "Marks a node for replacement during staging."},
	{"optimizeDeformerStack", AssociationDeformerInterface, "Marks deformed geo that should be optimized during staging"},
}

var commonTerms = []string{
	"ignore", "parent", "reparent", "unparent", "child", "children",
	"before", "during", "after", "publish", "stage", "control",
	"wip", "module", "update",
}

// CommonTerms returns the default search term list.
func CommonTerms() []string {
	out := make([]string, len(commonTerms))
	copy(out, commonTerms)
	return out
}

// StandardDepartments lists the departments in standard catalog order.
func StandardDepartments() []string {
	return []string{
		DepartmentRig, DepartmentAnim, DepartmentCFX, DepartmentFX,
		DepartmentModel, DepartmentCrowd, DepartmentComp,
	}
}

func standardCatalogs() []*Catalog {
	out := make([]*Catalog, 0, 7)
	for _, dept := range StandardDepartments() {
		var defs []Definition
		if dept == DepartmentRig {
			defs = rigDefinitions
		}
		c, err := NewCatalog(dept, defs...)
		if err != nil {
			panic(err)
		}
		out = append(out, c)
	}
	return out
}

// SampleTags returns one typed tag per data type. They are used to check
// typed values and are not part of any catalog.
func SampleTags() []*Tag {
	samples := []struct {
		name string
		dt   DataType
		def  interface{}
	}{
		{"dummyString", DataTypeString, "default"},
		{"dummyBool", DataTypeBoolean, false},
		{"dummyFloat", DataTypeFloat, 0.0},
		{"dummyInt", DataTypeInteger, 0},
		{"dummyDict", DataTypeMapping, map[string]interface{}{}},
	}

	out := make([]*Tag, 0, len(samples))
	for _, s := range samples {
		t, err := NewTag(s.name, "Validation", "Sample "+string(s.dt)+" tag.")
		if err != nil {
			panic(err)
		}
		if err := t.SetDataType(s.dt); err != nil {
			panic(err)
		}
		if err := t.SetDefault(s.def); err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}
