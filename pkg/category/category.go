// Package category aggregates incident counts over the static category tree
// and answers drill-down membership questions.
package category

import (
	"sort"
	"strings"

	"github.com/rmax-ai/mhive/pkg/graph"
)

// Descendants returns id followed by every node below it, depth first in
// declared child order. A leaf returns just itself; an unknown id returns
// nil.
func Descendants(tree *graph.CategoryTree, id string) []string {
	if _, ok := tree.Node(id); !ok {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		out = append(out, cur)
		n, ok := tree.Node(cur)
		if !ok {
			return
		}
		for _, child := range n.Children {
			if _, ok := tree.Node(child); ok {
				walk(child)
			}
		}
	}
	walk(id)
	return out
}

// ResolveCategoryID returns the tree node an incident belongs to. A known
// categoryId wins. Legacy entries without one are matched on their
// category/subCategory pair against node paths, falling back to the
// top-level node for the category. "" means unresolvable.
func ResolveCategoryID(tree *graph.CategoryTree, e graph.IndexEntry) string {
	if e.CategoryID != "" {
		if _, ok := tree.Node(e.CategoryID); ok {
			return e.CategoryID
		}
	}
	if e.Category == "" || tree == nil {
		return ""
	}

	cat := strings.ToLower(e.Category)
	sub := strings.ToLower(e.SubCategory)

	var top string
	for _, id := range orderedIDs(tree) {
		n := tree.Nodes[id]
		segs := pathSegments(n.Path)
		if len(segs) == 0 || segs[0] != cat {
			continue
		}
		if sub != "" && len(segs) > 1 && segs[len(segs)-1] == sub {
			return n.ID
		}
		if len(segs) == 1 && top == "" {
			top = n.ID
		}
	}
	return top
}

// Counts returns, for every node of the tree, the number of incidents in
// index whose resolved category is the node or one of its descendants.
func Counts(tree *graph.CategoryTree, index *graph.Index) map[string]int {
	counts := make(map[string]int)
	if tree == nil {
		return counts
	}

	direct := make(map[string]int)
	if index != nil {
		for _, e := range index.Incidents() {
			if id := ResolveCategoryID(tree, e); id != "" {
				direct[id]++
			}
		}
	}

	for id := range tree.Nodes {
		total := 0
		for _, d := range Descendants(tree, id) {
			total += direct[d]
		}
		counts[id] = total
	}
	return counts
}

// Path returns the chain of nodes from the top level down to id, or nil for
// an unknown id.
func Path(tree *graph.CategoryTree, id string) []*graph.CategoryNode {
	var chain []*graph.CategoryNode
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		n, ok := tree.Node(cur)
		if !ok || seen[cur] {
			break
		}
		seen[cur] = true
		chain = append(chain, n)
		cur = n.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Matcher tests category ids against a drill-down selection.
type Matcher struct {
	allowed map[string]bool
}

// NewMatcher expands every selected id to its subtree. An empty selection
// matches everything.
func NewMatcher(tree *graph.CategoryTree, selected []string) *Matcher {
	if len(selected) == 0 {
		return &Matcher{}
	}
	m := &Matcher{allowed: make(map[string]bool)}
	for _, id := range selected {
		m.allowed[id] = true
		for _, d := range Descendants(tree, id) {
			m.allowed[d] = true
		}
	}
	return m
}

// All reports whether the matcher accepts every category.
func (m *Matcher) All() bool {
	return m == nil || m.allowed == nil
}

// Matches reports whether categoryID lies in a selected subtree.
func (m *Matcher) Matches(categoryID string) bool {
	if m.All() {
		return true
	}
	return m.allowed[categoryID]
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(strings.ToLower(p), "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// orderedIDs lists node ids top-level first in declared order, then the
// rest of each subtree, so path matching is deterministic.
func orderedIDs(tree *graph.CategoryTree) []string {
	var out []string
	seen := make(map[string]bool)
	for _, top := range tree.Root.Children {
		for _, id := range Descendants(tree, top) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	var rest []string
	for id := range tree.Nodes {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
