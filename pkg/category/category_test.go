package category

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rmax-ai/mhive/pkg/graph"
)

func testTree() *graph.CategoryTree {
	return &graph.CategoryTree{
		Version: "1",
		Root:    graph.CategoryRoot{ID: "root", Children: []string{"cat-disaster", "cat-crime"}},
		Nodes: map[string]*graph.CategoryNode{
			"cat-disaster":            {ID: "cat-disaster", Name: "Disaster", Level: 1, Path: "disaster", Children: []string{"cat-disaster-natural", "cat-disaster-industrial"}},
			"cat-disaster-natural":    {ID: "cat-disaster-natural", Level: 2, ParentID: "cat-disaster", Path: "disaster/natural", Children: []string{"cat-quake"}},
			"cat-quake":               {ID: "cat-quake", Level: 3, ParentID: "cat-disaster-natural", Path: "disaster/natural/earthquake"},
			"cat-disaster-industrial": {ID: "cat-disaster-industrial", Level: 2, ParentID: "cat-disaster", Path: "disaster/industrial"},
			"cat-crime":               {ID: "cat-crime", Name: "Crime", Level: 1, Path: "crime", Children: []string{"cat-crime-serial"}},
			"cat-crime-serial":        {ID: "cat-crime-serial", Level: 2, ParentID: "cat-crime", Path: "crime/serial"},
		},
	}
}

func incidents(entries ...graph.IndexEntry) *graph.Index {
	return graph.NewIndex(&graph.IndexDocument{Incidents: entries})
}

func TestDescendants(t *testing.T) {
	tree := testTree()

	assert.Equal(t, []string{"cat-quake"}, Descendants(tree, "cat-quake"))
	assert.Equal(t,
		[]string{"cat-disaster", "cat-disaster-natural", "cat-quake", "cat-disaster-industrial"},
		Descendants(tree, "cat-disaster"))
	assert.Nil(t, Descendants(tree, "cat-missing"))
}

func TestDescendants_Cycle(t *testing.T) {
	tree := &graph.CategoryTree{Nodes: map[string]*graph.CategoryNode{
		"a": {ID: "a", Children: []string{"b"}},
		"b": {ID: "b", Children: []string{"a"}},
	}}
	assert.Equal(t, []string{"a", "b"}, Descendants(tree, "a"))
}

func TestResolveCategoryID(t *testing.T) {
	tree := testTree()
	tests := []struct {
		name  string
		entry graph.IndexEntry
		want  string
	}{
		{"direct id", graph.IndexEntry{CategoryID: "cat-quake", Category: "crime"}, "cat-quake"},
		{"unknown id falls back to legacy", graph.IndexEntry{CategoryID: "cat-gone", Category: "crime", SubCategory: "serial"}, "cat-crime-serial"},
		{"legacy leaf", graph.IndexEntry{Category: "disaster", SubCategory: "earthquake"}, "cat-quake"},
		{"legacy case folded", graph.IndexEntry{Category: "Disaster", SubCategory: "Industrial"}, "cat-disaster-industrial"},
		{"legacy top-level fallback", graph.IndexEntry{Category: "disaster", SubCategory: "volcano"}, "cat-disaster"},
		{"no sub category", graph.IndexEntry{Category: "crime"}, "cat-crime"},
		{"unresolvable", graph.IndexEntry{Category: "mystery"}, ""},
		{"empty", graph.IndexEntry{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCategoryID(tree, tt.entry))
		})
	}
}

func TestCounts_SiblingLeavesSumAtParent(t *testing.T) {
	tree := &graph.CategoryTree{
		Root: graph.CategoryRoot{Children: []string{"p"}},
		Nodes: map[string]*graph.CategoryNode{
			"p": {ID: "p", Path: "p", Children: []string{"a", "b"}},
			"a": {ID: "a", ParentID: "p", Path: "p/a"},
			"b": {ID: "b", ParentID: "p", Path: "p/b"},
		},
	}
	var entries []graph.IndexEntry
	for i := 0; i < 3; i++ {
		entries = append(entries, graph.IndexEntry{ID: fmt.Sprintf("inc-a%d", i), CategoryID: "a"})
	}
	for i := 0; i < 5; i++ {
		entries = append(entries, graph.IndexEntry{ID: fmt.Sprintf("inc-b%d", i), CategoryID: "b"})
	}

	counts := Counts(tree, incidents(entries...))
	assert.Equal(t, 3, counts["a"])
	assert.Equal(t, 5, counts["b"])
	assert.Equal(t, 8, counts["p"])
}

func TestCounts_IgnoresNonIncidentsAndUnresolved(t *testing.T) {
	tree := testTree()
	ix := graph.NewIndex(&graph.IndexDocument{
		Incidents: []graph.IndexEntry{
			{ID: "inc-1", CategoryID: "cat-quake"},
			{ID: "inc-2", Category: "disaster", SubCategory: "industrial"},
			{ID: "inc-3", Category: "crime"},
			{ID: "inc-4", Category: "mystery"},
		},
		Persons: []graph.IndexEntry{{ID: "per-1", CategoryID: "cat-crime"}},
	})

	counts := Counts(tree, ix)
	assert.Equal(t, 1, counts["cat-quake"])
	assert.Equal(t, 1, counts["cat-disaster-natural"])
	assert.Equal(t, 1, counts["cat-disaster-industrial"])
	assert.Equal(t, 2, counts["cat-disaster"])
	assert.Equal(t, 1, counts["cat-crime"])
	assert.Equal(t, 0, counts["cat-crime-serial"])
	assert.Len(t, counts, len(tree.Nodes))
}

func TestCounts_Deterministic(t *testing.T) {
	tree := testTree()
	ix := incidents(
		graph.IndexEntry{ID: "inc-1", Category: "disaster", SubCategory: "earthquake"},
		graph.IndexEntry{ID: "inc-2", CategoryID: "cat-crime-serial"},
	)
	first := Counts(tree, ix)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Counts(tree, ix))
	}
}

func TestPath(t *testing.T) {
	tree := testTree()
	var ids []string
	for _, n := range Path(tree, "cat-quake") {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"cat-disaster", "cat-disaster-natural", "cat-quake"}, ids)
	assert.Nil(t, Path(tree, "nope"))
}

func TestMatcher(t *testing.T) {
	tree := testTree()

	all := NewMatcher(tree, nil)
	assert.True(t, all.All())
	assert.True(t, all.Matches("anything"))

	m := NewMatcher(tree, []string{"cat-disaster-natural", "cat-crime-serial"})
	assert.False(t, m.All())
	assert.True(t, m.Matches("cat-quake"))
	assert.True(t, m.Matches("cat-disaster-natural"))
	assert.True(t, m.Matches("cat-crime-serial"))
	assert.False(t, m.Matches("cat-disaster"))
	assert.False(t, m.Matches("cat-disaster-industrial"))
	assert.False(t, m.Matches(""))
}
