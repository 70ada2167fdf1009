// Package data is the snapshot access layer: it fetches the three bulk tiers
// (category tree, index, relations) and per-entity detail documents from a
// source.Source and memoises them for the lifetime of the process.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/metrics"
	"github.com/rmax-ai/mhive/pkg/source"
)

// Snapshot keys of the bulk tiers.
const (
	CategoriesKey = "categories.json"
	IndexKey      = "index.json"
	RelationsKey  = "relations.json"
)

// Tier names used in errors, metrics and cache clears.
const (
	TierCategories = "categories"
	TierIndex      = "index"
	TierRelations  = "relations"
	TierDetails    = "details"
	TierAll        = "all"
)

// flightTimeout bounds one shared fetch. It runs detached from the callers'
// contexts, so this is what stops it when the host never answers.
const flightTimeout = 2 * time.Minute

// NetworkError is the hard failure of a bulk fetch. StatusCode is set when
// the host answered with a non-success status.
type NetworkError struct {
	Resource   string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Resource, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Loader fetches snapshot tiers from a Source. Bulk tiers fail loud and are
// cached after their first success; detail documents fail soft. All methods
// are safe for concurrent use.
type Loader struct {
	src    source.Source
	logger *log.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	categories *graph.CategoryTree
	index      *graph.Index
	relations  *graph.Relations
	details    map[string]graph.Entity
	// gen counts clears per tier. A fetch only caches its result when the
	// generation it started under is still current.
	gen map[string]uint64
}

// NewLoader creates a Loader over src. A nil logger discards output.
func NewLoader(src source.Source, logger *log.Logger) *Loader {
	return &Loader{
		src:     src,
		logger:  logging.OrDiscard(logger),
		details: make(map[string]graph.Entity),
		gen:     make(map[string]uint64),
	}
}

// Source returns the underlying snapshot source.
func (l *Loader) Source() source.Source { return l.src }

// FetchCategories returns the category tree.
func (l *Loader) FetchCategories(ctx context.Context) (*graph.CategoryTree, error) {
	l.mu.RLock()
	cached, gen := l.categories, l.gen[TierCategories]
	l.mu.RUnlock()
	if cached != nil {
		metrics.CacheHitsTotal.WithLabelValues(TierCategories).Inc()
		return cached, nil
	}

	v, err := l.flight(ctx, flightKey(TierCategories, gen), func(ctx context.Context) (any, error) {
		var tree graph.CategoryTree
		if err := l.fetchBulk(ctx, TierCategories, CategoriesKey, &tree); err != nil {
			return nil, err
		}
		if tree.Nodes == nil {
			tree.Nodes = make(map[string]*graph.CategoryNode)
		}
		l.mu.Lock()
		if l.gen[TierCategories] == gen {
			l.categories = &tree
		}
		l.mu.Unlock()
		return &tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.CategoryTree), nil
}

// FetchIndex returns the entity index.
func (l *Loader) FetchIndex(ctx context.Context) (*graph.Index, error) {
	l.mu.RLock()
	cached, gen := l.index, l.gen[TierIndex]
	l.mu.RUnlock()
	if cached != nil {
		metrics.CacheHitsTotal.WithLabelValues(TierIndex).Inc()
		return cached, nil
	}

	v, err := l.flight(ctx, flightKey(TierIndex, gen), func(ctx context.Context) (any, error) {
		var doc graph.IndexDocument
		if err := l.fetchBulk(ctx, TierIndex, IndexKey, &doc); err != nil {
			return nil, err
		}
		ix := graph.NewIndex(&doc)
		l.mu.Lock()
		if l.gen[TierIndex] == gen {
			l.index = ix
		}
		l.mu.Unlock()
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Index), nil
}

// FetchRelations returns the edge list.
func (l *Loader) FetchRelations(ctx context.Context) (*graph.Relations, error) {
	l.mu.RLock()
	cached, gen := l.relations, l.gen[TierRelations]
	l.mu.RUnlock()
	if cached != nil {
		metrics.CacheHitsTotal.WithLabelValues(TierRelations).Inc()
		return cached, nil
	}

	v, err := l.flight(ctx, flightKey(TierRelations, gen), func(ctx context.Context) (any, error) {
		var doc graph.RelationsDocument
		if err := l.fetchBulk(ctx, TierRelations, RelationsKey, &doc); err != nil {
			return nil, err
		}
		rel := graph.NewRelations(&doc)
		l.mu.Lock()
		if l.gen[TierRelations] == gen {
			l.relations = rel
		}
		l.mu.Unlock()
		return rel, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Relations), nil
}

// flight runs fn once for all concurrent callers of key. fn gets a context
// detached from every caller, so one caller going away does not fail the
// others. Each caller still stops waiting when its own ctx is done.
func (l *Loader) flight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := l.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func flightKey(tier string, gen uint64) string {
	return fmt.Sprintf("%s@%d", tier, gen)
}

func (l *Loader) fetchBulk(ctx context.Context, tier, key string, dst any) error {
	err := l.getJSON(ctx, key, dst)
	if err == nil {
		metrics.FetchTotal.WithLabelValues(tier, "ok").Inc()
		return nil
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation says nothing about the host.
		return fmt.Errorf("fetch %s: %w", key, err)
	}

	metrics.FetchTotal.WithLabelValues(tier, resultLabel(err)).Inc()
	nerr := &NetworkError{Resource: key, Err: err}
	var se *source.StatusError
	if errors.As(err, &se) {
		nerr.StatusCode = se.StatusCode
	}
	l.logger.Error("bulk fetch failed", "tier", tier, "key", key, "err", err)
	return nerr
}

func (l *Loader) getJSON(ctx context.Context, key string, dst any) error {
	rc, err := l.src.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// DetailKey returns the snapshot key of the detail document for id, e.g.
// "incidents/inc-0001.json". ok is false when the id prefix is unknown.
func DetailKey(id string) (string, bool) {
	t, ok := graph.TypeFromID(id)
	if !ok {
		return "", false
	}
	return t.Dir() + "/" + id + ".json", true
}

// FetchEntityDetail returns the full entity for id, or nil when it is not
// available for any reason. Failures are logged and not cached, so a later
// call retries.
func (l *Loader) FetchEntityDetail(ctx context.Context, id string) graph.Entity {
	if e, ok := l.CachedDetail(id); ok {
		metrics.CacheHitsTotal.WithLabelValues(TierDetails).Inc()
		return e
	}

	key, ok := DetailKey(id)
	if !ok {
		l.logger.Warn("unknown entity id prefix", "id", id)
		return nil
	}
	t, _ := graph.TypeFromID(id)

	l.mu.RLock()
	gen := l.gen[TierDetails]
	l.mu.RUnlock()

	v, _ := l.flight(ctx, flightKey("detail:"+id, gen), func(ctx context.Context) (any, error) {
		e, err := l.fetchDetail(ctx, t, key)
		if err != nil {
			metrics.FetchTotal.WithLabelValues(TierDetails, resultLabel(err)).Inc()
			l.logger.Warn("detail unavailable", "id", id, "key", key, "err", err)
			return nil, err
		}
		metrics.FetchTotal.WithLabelValues(TierDetails, "ok").Inc()

		l.mu.Lock()
		if existing, ok := l.details[id]; ok {
			e = existing
		} else if l.gen[TierDetails] == gen {
			l.details[id] = e
		}
		l.mu.Unlock()
		return e, nil
	})
	e, _ := v.(graph.Entity)
	return e
}

func (l *Loader) fetchDetail(ctx context.Context, t graph.EntityType, key string) (graph.Entity, error) {
	rc, err := l.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return graph.DecodeEntity(t, data)
}

// CachedDetail returns a previously fetched entity without touching the
// network.
func (l *Loader) CachedDetail(id string) (graph.Entity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.details[id]
	return e, ok
}

// ClearCategories drops the cached category tree.
func (l *Loader) ClearCategories() {
	l.mu.Lock()
	l.categories = nil
	l.gen[TierCategories]++
	l.mu.Unlock()
}

// ClearIndex drops the cached index.
func (l *Loader) ClearIndex() {
	l.mu.Lock()
	l.index = nil
	l.gen[TierIndex]++
	l.mu.Unlock()
}

// ClearRelations drops the cached edge list.
func (l *Loader) ClearRelations() {
	l.mu.Lock()
	l.relations = nil
	l.gen[TierRelations]++
	l.mu.Unlock()
}

// ClearDetails drops every cached detail document.
func (l *Loader) ClearDetails() {
	l.mu.Lock()
	l.details = make(map[string]graph.Entity)
	l.gen[TierDetails]++
	l.mu.Unlock()
}

// ClearAll drops every cache tier.
func (l *Loader) ClearAll() {
	l.mu.Lock()
	l.categories = nil
	l.index = nil
	l.relations = nil
	l.details = make(map[string]graph.Entity)
	for _, tier := range []string{TierCategories, TierIndex, TierRelations, TierDetails} {
		l.gen[tier]++
	}
	l.mu.Unlock()
}

// Clear drops the named tier. It reports false for an unknown tier.
func (l *Loader) Clear(tier string) bool {
	switch tier {
	case TierCategories:
		l.ClearCategories()
	case TierIndex:
		l.ClearIndex()
	case TierRelations:
		l.ClearRelations()
	case TierDetails:
		l.ClearDetails()
	case TierAll:
		l.ClearAll()
	default:
		return false
	}
	return true
}

// Invalidate drops whatever is cached for a changed snapshot key and returns
// the tier it belonged to ("" when the key is not a snapshot file).
func (l *Loader) Invalidate(key string) string {
	switch key {
	case CategoriesKey:
		l.ClearCategories()
		return TierCategories
	case IndexKey:
		l.ClearIndex()
		return TierIndex
	case RelationsKey:
		l.ClearRelations()
		return TierRelations
	}

	dir, file, ok := strings.Cut(key, "/")
	if !ok || !strings.HasSuffix(file, ".json") {
		return ""
	}
	id := strings.TrimSuffix(file, ".json")
	t, ok := graph.TypeFromID(id)
	if !ok || t.Dir() != dir {
		return ""
	}
	l.mu.Lock()
	delete(l.details, id)
	l.gen[TierDetails]++
	l.mu.Unlock()
	return TierDetails
}

// LoadAll fetches the three bulk tiers concurrently. progress, if set, is
// called after each tier completes with the number done so far. The first
// failure cancels the rest and is returned.
func (l *Loader) LoadAll(ctx context.Context, progress func(done, total int)) error {
	const total = 3
	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		if progress == nil {
			return
		}
		mu.Lock()
		done++
		n := done
		progress(n, total)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := l.FetchCategories(ctx); err != nil {
			return err
		}
		report()
		return nil
	})
	g.Go(func() error {
		if _, err := l.FetchIndex(ctx); err != nil {
			return err
		}
		report()
		return nil
	})
	g.Go(func() error {
		if _, err := l.FetchRelations(ctx); err != nil {
			return err
		}
		report()
		return nil
	})
	return g.Wait()
}

func resultLabel(err error) string {
	if errors.Is(err, source.ErrNotFound) {
		return "not_found"
	}
	return "error"
}
