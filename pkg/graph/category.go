package graph

// CategoryNode is one node of the static category tree.
type CategoryNode struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	NameEn        string   `json:"nameEn,omitempty"`
	Level         int      `json:"level"`
	ParentID      string   `json:"parentId,omitempty"`
	Children      []string `json:"children,omitempty"`
	Color         string   `json:"color,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	Path          string   `json:"path,omitempty"`
	IncidentCount int      `json:"incidentCount,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *CategoryNode) IsLeaf() bool {
	return len(n.Children) == 0
}

type CategoryRoot struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
}

// CategoryTree is the wire and in-memory form of categories.json. It is
// loaded once and read-only afterwards.
type CategoryTree struct {
	Version string                   `json:"version"`
	Root    CategoryRoot             `json:"root"`
	Nodes   map[string]*CategoryNode `json:"nodes"`
}

// Node returns the node for id.
func (t *CategoryTree) Node(id string) (*CategoryNode, bool) {
	if t == nil || t.Nodes == nil {
		return nil, false
	}
	n, ok := t.Nodes[id]
	return n, ok
}

// TopLevel returns the root's children in declared order. Unknown ids are
// skipped.
func (t *CategoryTree) TopLevel() []*CategoryNode {
	var out []*CategoryNode
	for _, id := range t.Root.Children {
		if n, ok := t.Node(id); ok {
			out = append(out, n)
		}
	}
	return out
}
