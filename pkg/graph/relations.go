package graph

// RelationType tags an edge. The set is closed; unknown values still decode
// and report Valid() == false.
type RelationType string

const (
	RelOccurredAt     RelationType = "OCCURRED_AT"
	RelTriggered      RelationType = "TRIGGERED"
	RelRelatedTo      RelationType = "RELATED_TO"
	RelPerpetratorOf  RelationType = "PERPETRATOR_OF"
	RelVictimOf       RelationType = "VICTIM_OF"
	RelInvolvedIn     RelationType = "INVOLVED_IN"
	RelMemberOf       RelationType = "MEMBER_OF"
	RelCausedBy       RelationType = "CAUSED_BY"
	RelUsedIn         RelationType = "USED_IN"
	RelInvestigatedBy RelationType = "INVESTIGATED_BY"
	RelLocatedIn      RelationType = "LOCATED_IN"
	RelSimilarTo      RelationType = "SIMILAR_TO"
)

var relationTypes = map[RelationType]struct{}{
	RelOccurredAt:     {},
	RelTriggered:      {},
	RelRelatedTo:      {},
	RelPerpetratorOf:  {},
	RelVictimOf:       {},
	RelInvolvedIn:     {},
	RelMemberOf:       {},
	RelCausedBy:       {},
	RelUsedIn:         {},
	RelInvestigatedBy: {},
	RelLocatedIn:      {},
	RelSimilarTo:      {},
}

// Valid reports whether r is a known relation type.
func (r RelationType) Valid() bool {
	_, ok := relationTypes[r]
	return ok
}

// Edge is a directed, typed relation between two entity ids. Edges are
// read-only reference data.
type Edge struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	RelationType RelationType `json:"relationType"`
	Confidence   *float64     `json:"confidence,omitempty"`
	Description  string       `json:"description,omitempty"`
	StartDate    string       `json:"startDate,omitempty"`
	EndDate      string       `json:"endDate,omitempty"`
}

// RelationsDocument is the wire form of relations.json.
type RelationsDocument struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generatedAt"`
	Total       int    `json:"total"`
	Edges       []Edge `json:"edges"`
}

// Relations is the loaded edge list with an endpoint index.
type Relations struct {
	Version     string
	GeneratedAt string

	edges  []Edge
	byNode map[string][]int // id -> edge positions touching id
}

// NewRelations indexes the edges of doc by both endpoints.
func NewRelations(doc *RelationsDocument) *Relations {
	r := &Relations{
		Version:     doc.Version,
		GeneratedAt: doc.GeneratedAt,
		edges:       doc.Edges,
		byNode:      make(map[string][]int),
	}
	for i, e := range doc.Edges {
		r.byNode[e.Source] = append(r.byNode[e.Source], i)
		if e.Target != e.Source {
			r.byNode[e.Target] = append(r.byNode[e.Target], i)
		}
	}
	return r
}

// Edges returns every edge. Callers must not modify the returned slice.
func (r *Relations) Edges() []Edge {
	return r.edges
}

// Len returns the number of edges.
func (r *Relations) Len() int {
	return len(r.edges)
}

// EdgesOf returns the edges touching id in either direction.
func (r *Relations) EdgesOf(id string) []Edge {
	positions := r.byNode[id]
	out := make([]Edge, 0, len(positions))
	for _, i := range positions {
		out = append(out, r.edges[i])
	}
	return out
}

// Neighbors returns the ids adjacent to id in either direction, in edge
// order, without duplicates and without id itself.
func (r *Relations) Neighbors(id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	for _, i := range r.byNode[id] {
		e := r.edges[i]
		other := e.Target
		if other == id {
			other = e.Source
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		out = append(out, other)
	}
	return out
}

// Neighborhood walks the graph breadth-first from id up to depth hops and
// returns at most limit ids (id excluded) in visit order. A limit <= 0 means
// no limit.
func (r *Relations) Neighborhood(id string, depth, limit int) []string {
	if depth <= 0 {
		return nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range r.Neighbors(cur) {
				if visited[n] {
					continue
				}
				visited[n] = true
				out = append(out, n)
				if limit > 0 && len(out) >= limit {
					return out
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out
}
