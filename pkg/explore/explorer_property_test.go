package explore

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/rmax-ai/mhive/pkg/graph"
)

// genUniverse draws a random graph whose edges may point at ids missing
// from the index.
func genUniverse(t *rapid.T) *fakeData {
	n := rapid.IntRange(1, 40).Draw(t, "incidents")
	p := rapid.IntRange(0, 15).Draw(t, "persons")

	ids := make([]string, 0, n+p+3)
	for i := 0; i < n; i++ {
		ids = append(ids, incID(i))
	}
	for i := 0; i < p; i++ {
		ids = append(ids, perID(i))
	}
	ids = append(ids, "per-404", "loc-404", "inc-999")

	pick := rapid.SampledFrom(ids)
	edges := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) graph.Edge {
		return edge(pick.Draw(t, "from"), pick.Draw(t, "to"))
	}), 0, 120).Draw(t, "edges")

	return universe(n, p, edges)
}

func genOptions(t *rapid.T) Options {
	return Options{
		InitialNodeCount: rapid.IntRange(1, 25).Draw(t, "initial"),
		ExpandNodeCount:  rapid.IntRange(1, 12).Draw(t, "expand"),
		BreadcrumbMax:    rapid.IntRange(1, 8).Draw(t, "crumbs"),
		Clock:            fixedClock(),
	}
}

func genFilter(t *rapid.T) Filter {
	return Filter{
		Categories: rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"cat-a", "cat-a1", "cat-b"}), 0, 2, rapid.ID[string]).Draw(t, "categories"),
		Eras:       rapid.SliceOfNDistinct(rapid.SampledFrom([]string{graph.EraAncient, graph.EraModern, graph.EraContemporary}), 0, 2, rapid.ID[string]).Draw(t, "eras"),
	}
}

func allIDs(d *fakeData) []string {
	var ids []string
	for _, e := range d.index.Entries() {
		ids = append(ids, e.ID)
	}
	return append(ids, "inc-999", "nope")
}

func asSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestProperty_MonotonicGrowth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genUniverse(t)
		e := New(d, nil, genOptions(t), nil)
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		if err := e.SetFilter(ctx, genFilter(t)); err != nil {
			t.Fatal(err)
		}

		ids := allIDs(d)
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		prev := e.State().Displayed
		for i := 0; i < steps; i++ {
			if _, err := e.SelectNode(ctx, rapid.SampledFrom(ids).Draw(t, "id")); err != nil {
				t.Fatal(err)
			}
			cur := e.State().Displayed
			curSet := asSet(cur)
			for _, id := range prev {
				if !curSet[id] {
					t.Fatalf("id %s disappeared from the displayed set", id)
				}
			}
			if len(curSet) != len(cur) {
				t.Fatalf("displayed set holds duplicates: %v", cur)
			}
			for _, id := range cur {
				if !d.index.Has(id) {
					t.Fatalf("dangling id %s displayed", id)
				}
			}
			prev = cur
		}
	})
}

func TestProperty_IdempotentSelection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genUniverse(t)
		e := New(d, nil, genOptions(t), nil)
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}

		ids := allIDs(d)
		for _, id := range rapid.SliceOfN(rapid.SampledFrom(ids), 0, 10).Draw(t, "warmup") {
			e.SelectNode(ctx, id)
		}

		id := rapid.SampledFrom(ids).Draw(t, "target")
		e.SelectNode(ctx, id)
		once := e.State()
		e.SelectNode(ctx, id)
		twice := e.State()

		if len(once.Displayed) != len(twice.Displayed) {
			t.Fatalf("second selection changed the displayed set: %v -> %v", once.Displayed, twice.Displayed)
		}
		for i := range once.Displayed {
			if once.Displayed[i] != twice.Displayed[i] {
				t.Fatalf("second selection changed the displayed set: %v -> %v", once.Displayed, twice.Displayed)
			}
		}
		if once.Focused != twice.Focused {
			t.Fatalf("focus changed from %q to %q", once.Focused, twice.Focused)
		}
		if len(once.Breadcrumb) != len(twice.Breadcrumb) {
			t.Fatalf("repeat selection appended a breadcrumb")
		}
	})
}

func TestProperty_BreadcrumbBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genUniverse(t)
		opts := genOptions(t)
		e := New(d, nil, opts, nil)
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}

		// Model: the expected trail, deduplicating consecutive repeats and
		// keeping only the newest BreadcrumbMax entries.
		var want []string
		for _, id := range rapid.SliceOfN(rapid.SampledFrom(allIDs(d)), 0, 40).Draw(t, "selections") {
			ok, err := e.SelectNode(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if ok && (len(want) == 0 || want[len(want)-1] != id) {
				want = append(want, id)
				if len(want) > opts.BreadcrumbMax {
					want = want[1:]
				}
			}
		}

		got := e.State().Breadcrumb
		if len(got) > opts.BreadcrumbMax {
			t.Fatalf("breadcrumb length %d exceeds %d", len(got), opts.BreadcrumbMax)
		}
		if len(got) != len(want) {
			t.Fatalf("breadcrumb = %v; want ids %v", got, want)
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Fatalf("breadcrumb[%d] = %s; want %s", i, got[i].ID, want[i])
			}
			if i > 0 && got[i].ID == got[i-1].ID {
				t.Fatalf("consecutive duplicate crumb %s", got[i].ID)
			}
		}
	})
}

func TestProperty_FilterReset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := genUniverse(t)
		opts := genOptions(t)
		e := New(d, nil, opts, nil)
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		for _, id := range rapid.SliceOfN(rapid.SampledFrom(allIDs(d)), 0, 10).Draw(t, "before") {
			e.SelectNode(ctx, id)
		}

		f := genFilter(t)
		if err := e.SetFilter(ctx, f); err != nil {
			t.Fatal(err)
		}

		// The expected slice: first InitialNodeCount matching incidents.
		var want []string
		e.mu.RLock()
		for _, entry := range d.index.Incidents() {
			if len(want) == opts.InitialNodeCount {
				break
			}
			if e.passesLocked(entry) {
				want = append(want, entry.ID)
			}
		}
		e.mu.RUnlock()

		got := e.State().Displayed
		if len(got) != len(want) {
			t.Fatalf("displayed = %v; want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("displayed = %v; want %v", got, want)
			}
		}

		eras := asSet(f.Eras)
		cats := map[string]bool{}
		for _, c := range f.Categories {
			cats[c] = true
			if c == "cat-a" {
				cats["cat-a1"] = true
			}
		}
		for _, id := range got {
			entry, _ := d.index.Lookup(id)
			if len(eras) > 0 && !eras[entry.Era] {
				t.Fatalf("%s violates era filter %v", id, f.Eras)
			}
			if len(cats) > 0 && !cats[entry.CategoryID] {
				t.Fatalf("%s violates category filter %v", id, f.Categories)
			}
		}
	})
}
