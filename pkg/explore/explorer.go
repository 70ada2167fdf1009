// Package explore implements click-to-expand exploration of the incident
// graph. An Explorer owns one client's displayed-node set, focus, selection
// and breadcrumb trail.
package explore

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/rmax-ai/mhive/pkg/category"
	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/metrics"
	"github.com/rmax-ai/mhive/pkg/session"
)

// Explorer is the exploration state machine. The displayed set only grows
// under a fixed filter; Reset and SetFilter replace it with a fresh initial
// slice. It is safe for concurrent use: detail fetches run outside the lock
// and their effects are applied under it.
type Explorer struct {
	data   DataSource
	store  *session.Store
	opts   Options
	logger *log.Logger

	mu        sync.RWMutex
	started   bool
	index     *graph.Index
	relations *graph.Relations
	tree      *graph.CategoryTree

	filter  Filter
	matcher *category.Matcher
	eras    map[string]bool

	displayed  []string
	shown      map[string]bool
	focused    string
	selectedID string
	selected   graph.Entity
	breadcrumb []Crumb
}

// New creates an Explorer. store may be nil to run without persistence.
func New(data DataSource, store *session.Store, opts Options, logger *log.Logger) *Explorer {
	return &Explorer{
		data:   data,
		store:  store,
		opts:   opts.withDefaults(),
		logger: logging.OrDiscard(logger),
		shown:  make(map[string]bool),
	}
}

// Start loads the index, relations and category tree. Any failure is
// returned unchanged (a *data.NetworkError from the loader) and leaves the
// explorer unusable until a later Start succeeds.
//
// On the first successful Start a fresh session snapshot is restored if one
// exists; otherwise the initial slice is seeded. Calling Start again swaps
// in the newly loaded data and drops displayed ids the new index lacks.
func (e *Explorer) Start(ctx context.Context) error {
	index, err := e.data.FetchIndex(ctx)
	if err != nil {
		return err
	}
	relations, err := e.data.FetchRelations(ctx)
	if err != nil {
		return err
	}
	tree, err := e.data.FetchCategories(ctx)
	if err != nil {
		return err
	}

	e.mu.RLock()
	restart := e.started
	e.mu.RUnlock()

	if restart {
		e.mu.Lock()
		e.index, e.relations, e.tree = index, relations, tree
		e.applyFilterLocked(e.filter)
		e.restoreDisplayedLocked(e.displayed)
		if !index.Has(e.focused) {
			e.focused = ""
		}
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.persist(ctx, snap)
		e.logger.Info("exploration data reloaded", "entries", index.Len(), "edges", relations.Len())
		return nil
	}

	var restored *session.Snapshot
	if e.store != nil {
		restored = e.store.Load(ctx)
	}

	var selected graph.Entity
	if restored != nil && restored.SelectedEntityID != "" && index.Has(restored.SelectedEntityID) {
		selected = e.data.FetchEntityDetail(ctx, restored.SelectedEntityID)
	}

	e.mu.Lock()
	e.index, e.relations, e.tree = index, relations, tree
	if restored != nil {
		e.applyFilterLocked(Filter{Categories: restored.SelectedCategories, Eras: restored.SelectedEras})
		e.restoreDisplayedLocked(restored.DisplayedNodeIDs)
		if len(e.displayed) == 0 {
			e.seedLocked()
		}
		if index.Has(restored.FocusedNodeID) {
			e.focused = restored.FocusedNodeID
		}
		if index.Has(restored.SelectedEntityID) {
			e.selectedID = restored.SelectedEntityID
			e.selected = selected
		}
	} else {
		e.applyFilterLocked(e.filter)
		e.seedLocked()
	}
	e.started = true
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)
	e.logger.Debug("exploration started", "restored", restored != nil, "displayed", len(snap.DisplayedNodeIDs))
	return nil
}

// Started reports whether Start has succeeded.
func (e *Explorer) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// SelectNode expands the graph around id: it fetches the detail document
// (soft), adds id and up to ExpandNodeCount of its neighbours that pass the
// filter to the displayed set, focuses id and records a breadcrumb. It
// reports false, without error, when id is not in the index.
func (e *Explorer) SelectNode(ctx context.Context, id string) (bool, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return false, ErrNotStarted
	}
	entry, ok := e.index.Lookup(id)
	e.mu.RUnlock()
	if !ok {
		metrics.SelectionsTotal.WithLabelValues("noop").Inc()
		e.logger.Debug("select ignored, id not in index", "id", id)
		return false, nil
	}

	detail := e.data.FetchEntityDetail(ctx, id)

	e.mu.Lock()
	e.addLocked(id)
	for _, n := range e.expansionLocked(id) {
		e.addLocked(n)
	}
	e.focused = id
	e.selectedID = id
	e.selected = detail
	e.pushCrumbLocked(entry, detail)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	metrics.SelectionsTotal.WithLabelValues("expanded").Inc()
	metrics.DisplayedNodes.Observe(float64(len(snap.DisplayedNodeIDs)))
	e.persist(ctx, snap)
	return true, nil
}

// SelectDeepLink runs SelectNode for a fragment such as "#incident-inc-0001"
// or "#incident-0001".
func (e *Explorer) SelectDeepLink(ctx context.Context, fragment string) (bool, error) {
	id, err := ParseFragment(fragment)
	if err != nil {
		return false, err
	}
	return e.SelectNode(ctx, id)
}

// ParseFragment turns "#<type>-<id>" into an entity id. The id part may
// carry its own type prefix or omit it.
func ParseFragment(fragment string) (string, error) {
	f := strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	name, rest, ok := strings.Cut(f, "-")
	if !ok || rest == "" {
		return "", ErrBadFragment
	}
	t, ok := graph.ParseEntityType(name)
	if !ok {
		return "", ErrBadFragment
	}
	if got, ok := graph.TypeFromID(rest); ok && got == t {
		return rest, nil
	}
	return t.Prefix() + rest, nil
}

// SetFilter replaces the filter and reseeds the displayed set from it. Focus
// and breadcrumb are cleared; the selected entity stays.
func (e *Explorer) SetFilter(ctx context.Context, f Filter) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.applyFilterLocked(f)
	e.seedLocked()
	e.focused = ""
	e.breadcrumb = nil
	snap := e.snapshotLocked()
	e.mu.Unlock()

	metrics.DisplayedNodes.Observe(float64(len(snap.DisplayedNodeIDs)))
	e.persist(ctx, snap)
	return nil
}

// Reset reseeds the displayed set under the current filter and clears
// focus, breadcrumb and selection. The persisted session is replaced.
func (e *Explorer) Reset(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.seedLocked()
	e.focused = ""
	e.selectedID = ""
	e.selected = nil
	e.breadcrumb = nil
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if e.store != nil {
		e.store.Clear(ctx)
	}
	e.persist(ctx, snap)
	return nil
}

// NavigateBreadcrumb truncates the trail after index and focuses that
// entry. Neighbours are not refetched; the selection comes from the detail
// cache.
func (e *Explorer) NavigateBreadcrumb(ctx context.Context, index int) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if index < 0 || index >= len(e.breadcrumb) {
		e.mu.Unlock()
		return ErrBreadcrumbIndex
	}
	e.breadcrumb = e.breadcrumb[:index+1]
	crumb := e.breadcrumb[index]
	e.focused = crumb.ID
	e.selectedID = crumb.ID
	e.selected, _ = e.data.CachedDetail(crumb.ID)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)
	return nil
}

// View projects the displayed set into the renderer graph.
func (e *Explorer) View() *graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return graph.NewGraph()
	}
	return graph.Project(e.index, e.relations, e.displayed)
}

// State returns a copy of the current state.
func (e *Explorer) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Displayed:  append([]string{}, e.displayed...),
		Focused:    e.focused,
		SelectedID: e.selectedID,
		Selected:   e.selected,
		Breadcrumb: append([]Crumb{}, e.breadcrumb...),
		Filter:     e.filter.clone(),
	}
}

// Categories returns the loaded category tree.
func (e *Explorer) Categories() *graph.CategoryTree {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree
}

// Index returns the loaded index.
func (e *Explorer) Index() *graph.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Search returns up to limit entries passing the filter whose label, id,
// location or tags contain query, case-insensitively. limit <= 0 means 20.
func (e *Explorer) Search(query string, limit int) []graph.IndexEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return nil
	}

	var out []graph.IndexEntry
	for _, entry := range e.index.Entries() {
		if !e.passesLocked(entry) || !matchesQuery(entry, q) {
			continue
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func matchesQuery(e graph.IndexEntry, q string) bool {
	if strings.Contains(strings.ToLower(e.Label), q) ||
		strings.Contains(strings.ToLower(e.ID), q) ||
		strings.Contains(strings.ToLower(e.Location), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Neighborhood returns up to limit ids within depth hops of id, in BFS
// order. Ids missing from the index are left out.
func (e *Explorer) Neighborhood(id string, depth, limit int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return nil
	}
	var out []string
	for _, n := range e.relations.Neighborhood(id, depth, 0) {
		if !e.index.Has(n) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (e *Explorer) applyFilterLocked(f Filter) {
	e.filter = f.clone()
	e.matcher = category.NewMatcher(e.tree, e.filter.Categories)
	e.eras = nil
	if len(e.filter.Eras) > 0 {
		e.eras = make(map[string]bool, len(e.filter.Eras))
		for _, era := range e.filter.Eras {
			e.eras[era] = true
		}
	}
}

// passesLocked applies the filter. Only incidents are filtered; related
// entities always pass.
func (e *Explorer) passesLocked(entry graph.IndexEntry) bool {
	if entry.Type != graph.TypeIncident {
		return true
	}
	if e.eras != nil {
		era := entry.Era
		if era == "" {
			era = graph.EraForDate(entry.Date)
		}
		if !e.eras[era] {
			return false
		}
	}
	if !e.matcher.All() && !e.matcher.Matches(category.ResolveCategoryID(e.tree, entry)) {
		return false
	}
	return true
}

// seedLocked replaces the displayed set with the first InitialNodeCount
// incidents passing the filter, in index order.
func (e *Explorer) seedLocked() {
	e.displayed = nil
	e.shown = make(map[string]bool)
	for _, entry := range e.index.Incidents() {
		if len(e.displayed) >= e.opts.InitialNodeCount {
			break
		}
		if e.passesLocked(entry) {
			e.addLocked(entry.ID)
		}
	}
}

func (e *Explorer) restoreDisplayedLocked(ids []string) {
	e.displayed = nil
	e.shown = make(map[string]bool)
	for _, id := range ids {
		if e.index.Has(id) {
			e.addLocked(id)
		}
	}
}

func (e *Explorer) addLocked(id string) {
	if e.shown[id] {
		return
	}
	e.shown[id] = true
	e.displayed = append(e.displayed, id)
}

// expansionLocked returns the neighbours of id that are indexed and pass
// the filter, capped at ExpandNodeCount, in edge order.
func (e *Explorer) expansionLocked(id string) []string {
	var out []string
	for _, n := range e.relations.Neighbors(id) {
		entry, ok := e.index.Lookup(n)
		if !ok || !e.passesLocked(entry) {
			continue
		}
		out = append(out, n)
		if len(out) >= e.opts.ExpandNodeCount {
			break
		}
	}
	return out
}

func (e *Explorer) pushCrumbLocked(entry graph.IndexEntry, detail graph.Entity) {
	if n := len(e.breadcrumb); n > 0 && e.breadcrumb[n-1].ID == entry.ID {
		return
	}
	title := entry.Label
	if detail != nil && detail.Label() != "" {
		title = detail.Label()
	}
	e.breadcrumb = append(e.breadcrumb, Crumb{
		ID:        entry.ID,
		Type:      entry.Type,
		Title:     title,
		Timestamp: e.opts.Clock(),
	})
	if over := len(e.breadcrumb) - e.opts.BreadcrumbMax; over > 0 {
		e.breadcrumb = append([]Crumb{}, e.breadcrumb[over:]...)
	}
}

func (e *Explorer) snapshotLocked() session.Snapshot {
	return session.Snapshot{
		DisplayedNodeIDs:   append([]string{}, e.displayed...),
		FocusedNodeID:      e.focused,
		SelectedEntityID:   e.selectedID,
		SelectedCategories: append([]string{}, e.filter.Categories...),
		SelectedEras:       append([]string{}, e.filter.Eras...),
	}
}

func (e *Explorer) persist(ctx context.Context, snap session.Snapshot) {
	if e.store == nil {
		return
	}
	e.store.Save(ctx, session.Full(snap))
}
