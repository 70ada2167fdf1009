package graph

// Node represents a vertex handed to the graph renderer.
type Node struct {
	ID         string            `json:"id"`
	Type       EntityType        `json:"type"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Link represents a directed, typed connection between two rendered nodes.
type Link struct {
	FromID string       `json:"from_id"`
	ToID   string       `json:"to_id"`
	Type   RelationType `json:"type"`
}

// Graph is the renderable view: the displayed nodes and the links among them.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
	Links []*Link          `json:"links"`
}

// NewGraph creates an empty view graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Links: make([]*Link, 0),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(n *Node) {
	g.Nodes[n.ID] = n
}

// AddLink adds a link to the graph.
func (g *Graph) AddLink(l *Link) {
	g.Links = append(g.Links, l)
}
