package scene

// node is the part of an object ListObjects needs.
type node struct {
	name     string
	typ      string
	parent   string
	selected bool
}

// selectNodes applies q to nodes given in scene order. With hierarchy, each
// selected node is followed by its descendants depth first; a node reached
// twice is listed once. The type filter applies after expansion.
func selectNodes(nodes []node, q ObjectQuery) []string {
	var candidates []node
	switch {
	case q.SelectionOnly && q.IncludeHierarchy:
		children := make(map[string][]node)
		for _, n := range nodes {
			if n.parent != "" {
				children[n.parent] = append(children[n.parent], n)
			}
		}
		seen := make(map[string]bool)
		var walk func(n node)
		walk = func(n node) {
			if seen[n.name] {
				return
			}
			seen[n.name] = true
			candidates = append(candidates, n)
			for _, c := range children[n.name] {
				walk(c)
			}
		}
		for _, n := range nodes {
			if n.selected {
				walk(n)
			}
		}
	case q.SelectionOnly:
		for _, n := range nodes {
			if n.selected {
				candidates = append(candidates, n)
			}
		}
	default:
		candidates = nodes
	}

	out := make([]string, 0, len(candidates))
	for _, n := range candidates {
		if q.NodeType != "" && n.typ != q.NodeType {
			continue
		}
		out = append(out, n.name)
	}
	return out
}
