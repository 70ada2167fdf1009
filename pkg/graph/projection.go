package graph

import "strconv"

// Project builds the renderable view of the displayed ids. Ids without an
// index entry are dropped, and a link is kept only when both of its
// endpoints are displayed nodes, so dangling edges never reach the renderer.
func Project(index *Index, rel *Relations, displayed []string) *Graph {
	g := NewGraph()
	if index == nil {
		return g
	}

	for _, id := range displayed {
		entry, ok := index.Lookup(id)
		if !ok {
			continue
		}
		g.AddNode(nodeFromEntry(entry))
	}

	if rel == nil {
		return g
	}

	// Walk edges per displayed node rather than the whole edge list; the
	// displayed set is usually far smaller than the relation document.
	seen := make(map[int]bool)
	for _, id := range displayed {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		for _, pos := range rel.byNode[id] {
			if seen[pos] {
				continue
			}
			seen[pos] = true
			e := rel.edges[pos]
			if e.Source == e.Target {
				continue
			}
			if _, ok := g.Nodes[e.Source]; !ok {
				continue
			}
			if _, ok := g.Nodes[e.Target]; !ok {
				continue
			}
			g.AddLink(&Link{
				FromID: e.Source,
				ToID:   e.Target,
				Type:   e.RelationType,
			})
		}
	}
	return g
}

func nodeFromEntry(e IndexEntry) *Node {
	props := make(map[string]string)
	if e.Category != "" {
		props["category"] = e.Category
	}
	if e.CategoryID != "" {
		props["category_id"] = e.CategoryID
	}
	if e.Era != "" {
		props["era"] = e.Era
	}
	if e.Date != "" {
		props["date"] = e.Date
	}
	if e.Location != "" {
		props["location"] = e.Location
	}
	if e.EdgeCount > 0 {
		props["edge_count"] = strconv.Itoa(e.EdgeCount)
	}
	return &Node{
		ID:         e.ID,
		Type:       e.Type,
		Label:      e.Label,
		Properties: props,
	}
}
