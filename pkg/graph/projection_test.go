package graph

import (
	"encoding/json"
	"testing"
)

func testIndex() *Index {
	return NewIndex(&IndexDocument{
		Version: "1",
		Incidents: []IndexEntry{
			{ID: "inc-1", Label: "Chernobyl", Category: "accident", Era: EraContemporary},
			{ID: "inc-2", Label: "Fukushima", Category: "accident", Era: EraContemporary},
		},
		Locations: []IndexEntry{
			{ID: "loc-1", Label: "Pripyat"},
		},
	})
}

func testRelations() *Relations {
	return NewRelations(&RelationsDocument{
		Edges: []Edge{
			{ID: "e1", Source: "inc-1", Target: "loc-1", RelationType: RelOccurredAt},
			{ID: "e2", Source: "inc-2", Target: "inc-1", RelationType: RelSimilarTo},
			{ID: "e3", Source: "inc-1", Target: "per-404", RelationType: RelInvolvedIn},
		},
	})
}

func TestProject_NodesAndLinks(t *testing.T) {
	g := Project(testIndex(), testRelations(), []string{"inc-1", "loc-1", "inc-2"})

	if len(g.Nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(g.Nodes))
	}
	if g.Nodes["loc-1"].Type != TypeLocation {
		t.Errorf("Expected loc-1 type %s, got %s", TypeLocation, g.Nodes["loc-1"].Type)
	}
	if g.Nodes["inc-1"].Properties["category"] != "accident" {
		t.Errorf("Expected category property 'accident', got '%s'", g.Nodes["inc-1"].Properties["category"])
	}
	if len(g.Links) != 2 {
		t.Fatalf("Expected 2 links, got %d", len(g.Links))
	}
}

func TestProject_DanglingEdgeExcluded(t *testing.T) {
	// per-404 has no index entry, so neither the node nor the edge to it may appear.
	g := Project(testIndex(), testRelations(), []string{"inc-1", "per-404"})

	if _, ok := g.Nodes["per-404"]; ok {
		t.Error("Dangling id should not be projected")
	}
	for _, l := range g.Links {
		if l.ToID == "per-404" || l.FromID == "per-404" {
			t.Errorf("Dangling link projected: %+v", l)
		}
	}
}

func TestProject_OnlyDisplayedEndpoints(t *testing.T) {
	g := Project(testIndex(), testRelations(), []string{"inc-1"})
	if len(g.Links) != 0 {
		t.Errorf("Expected no links for a single displayed node, got %d", len(g.Links))
	}
}

func TestRelations_Neighbors(t *testing.T) {
	rel := testRelations()

	got := rel.Neighbors("inc-1")
	want := []string{"loc-1", "inc-2", "per-404"}
	if len(got) != len(want) {
		t.Fatalf("Neighbors = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Neighbors[%d] = %s; want %s", i, got[i], want[i])
		}
	}

	if n := rel.Neighbors("loc-1"); len(n) != 1 || n[0] != "inc-1" {
		t.Errorf("Expected reverse neighbour inc-1, got %v", n)
	}
}

func TestRelations_Neighborhood(t *testing.T) {
	rel := NewRelations(&RelationsDocument{
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "d"},
			{Source: "a", Target: "e"},
		},
	})

	tests := []struct {
		depth int
		limit int
		want  []string
	}{
		{0, 0, nil},
		{1, 0, []string{"b", "e"}},
		{2, 0, []string{"b", "e", "c"}},
		{3, 0, []string{"b", "e", "c", "d"}},
		{3, 2, []string{"b", "e"}},
	}

	for _, tt := range tests {
		got := rel.Neighborhood("a", tt.depth, tt.limit)
		if len(got) != len(tt.want) {
			t.Errorf("Neighborhood(depth=%d, limit=%d) = %v; want %v", tt.depth, tt.limit, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Neighborhood(depth=%d, limit=%d) = %v; want %v", tt.depth, tt.limit, got, tt.want)
				break
			}
		}
	}
}

func TestTypeFromID(t *testing.T) {
	tests := []struct {
		id   string
		want EntityType
		ok   bool
	}{
		{"inc-0001", TypeIncident, true},
		{"loc-seoul", TypeLocation, true},
		{"per-42", TypePerson, true},
		{"cat-disaster", TypeCategory, true},
		{"equ-7", TypeEquipment, true},
		{"xyz-1", "", false},
	}
	for _, tt := range tests {
		got, ok := TypeFromID(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("TypeFromID(%q) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDecodeEntity(t *testing.T) {
	data := []byte(`{"id":"inc-1","title":"Titanic","casualties":{"deaths":1517},"tags":["maritime"]}`)
	e, err := DecodeEntity(TypeIncident, data)
	if err != nil {
		t.Fatalf("DecodeEntity failed: %v", err)
	}
	inc, ok := e.(*Incident)
	if !ok {
		t.Fatalf("Expected *Incident, got %T", e)
	}
	if inc.Label() != "Titanic" || inc.Deaths() != 1517 {
		t.Errorf("Unexpected incident: %+v", inc)
	}

	if _, err := DecodeEntity(TypePerson, []byte(`{"name":"nobody"}`)); err != ErrMissingID {
		t.Errorf("Expected ErrMissingID, got %v", err)
	}
	if _, err := DecodeEntity(TypeLocation, []byte(`{`)); err == nil {
		t.Error("Expected decode error for malformed JSON")
	}
}

func TestIndexEntry_LabelFallback(t *testing.T) {
	var doc IndexDocument
	raw := `{"incidents":[{"id":"inc-1","title":"Sewol"}],"persons":[{"id":"per-1","name":"Jack"}]}`
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	ix := NewIndex(&doc)
	if e, _ := ix.Lookup("inc-1"); e.Label != "Sewol" || e.Type != TypeIncident {
		t.Errorf("Unexpected incident entry: %+v", e)
	}
	if e, _ := ix.Lookup("per-1"); e.Label != "Jack" || e.Type != TypePerson {
		t.Errorf("Unexpected person entry: %+v", e)
	}
}

func TestEraForDate(t *testing.T) {
	tests := map[string]string{
		"-0480-01-01": EraAncient,
		"1815-04-10":  EraModern,
		"1912-04-15":  EraContemporary,
		"":            EraContemporary,
		"unknown":     EraContemporary,
	}
	for date, want := range tests {
		if got := EraForDate(date); got != want {
			t.Errorf("EraForDate(%q) = %s; want %s", date, got, want)
		}
	}
}
