// Package session persists the restorable part of an exploration state
// (displayed nodes, focus, selection, filters) per client, with a freshness
// window. Persistence is best effort: every failure is logged and swallowed.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/metrics"
)

// FreshnessWindow is how long a snapshot stays restorable after the last
// visit.
const FreshnessWindow = 7 * 24 * time.Hour

// Field names of a snapshot.
const (
	KeyDisplayedNodeIDs   = "displayed_node_ids"
	KeyFocusedNodeID      = "focused_node_id"
	KeySelectedEntityID   = "selected_entity_id"
	KeySelectedCategories = "selected_categories"
	KeySelectedEras       = "selected_eras"
	KeyLastVisit          = "last_visit"
)

var allKeys = []string{
	KeyDisplayedNodeIDs,
	KeyFocusedNodeID,
	KeySelectedEntityID,
	KeySelectedCategories,
	KeySelectedEras,
	KeyLastVisit,
}

// Snapshot is a restored session. Empty strings stand for null ids.
type Snapshot struct {
	DisplayedNodeIDs   []string
	FocusedNodeID      string
	SelectedEntityID   string
	SelectedCategories []string
	SelectedEras       []string
	LastVisit          time.Time
}

// Partial names the fields to write. Nil fields are left untouched, so an
// empty list must be passed as a non-nil empty slice. A pointer to "" stores
// null.
type Partial struct {
	DisplayedNodeIDs   []string
	FocusedNodeID      *string
	SelectedEntityID   *string
	SelectedCategories []string
	SelectedEras       []string
}

// Full returns a Partial that writes every field of s.
func Full(s Snapshot) Partial {
	return Partial{
		DisplayedNodeIDs:   nonNil(s.DisplayedNodeIDs),
		FocusedNodeID:      &s.FocusedNodeID,
		SelectedEntityID:   &s.SelectedEntityID,
		SelectedCategories: nonNil(s.SelectedCategories),
		SelectedEras:       nonNil(s.SelectedEras),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for swallowed failures.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = logging.OrDiscard(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWindow overrides FreshnessWindow.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// Store reads and writes the snapshot of one client namespace.
type Store struct {
	kv        KV
	namespace string
	logger    *log.Logger
	now       func() time.Time
	window    time.Duration
}

// NewStore binds kv to namespace (normally the client session id).
func NewStore(kv KV, namespace string, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		namespace: namespace,
		logger:    logging.Discard(),
		now:       time.Now,
		window:    FreshnessWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the KV key of field in this store's namespace.
func (s *Store) Key(field string) string {
	return "mhive:session:" + s.namespace + ":" + field
}

// Save writes the fields set in p and stamps last_visit. Failures are
// logged, never returned.
func (s *Store) Save(ctx context.Context, p Partial) {
	if s == nil || s.kv == nil {
		return
	}

	if p.DisplayedNodeIDs != nil {
		s.setJSON(ctx, KeyDisplayedNodeIDs, p.DisplayedNodeIDs)
	}
	if p.FocusedNodeID != nil {
		s.setJSON(ctx, KeyFocusedNodeID, nullable(*p.FocusedNodeID))
	}
	if p.SelectedEntityID != nil {
		s.setJSON(ctx, KeySelectedEntityID, nullable(*p.SelectedEntityID))
	}
	if p.SelectedCategories != nil {
		s.setJSON(ctx, KeySelectedCategories, p.SelectedCategories)
	}
	if p.SelectedEras != nil {
		s.setJSON(ctx, KeySelectedEras, p.SelectedEras)
	}

	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.kv.Set(ctx, s.Key(KeyLastVisit), ts); err != nil {
		s.fail("save", KeyLastVisit, err)
	}
}

func (s *Store) setJSON(ctx context.Context, field string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.fail("save", field, err)
		return
	}
	if err := s.kv.Set(ctx, s.Key(field), string(data)); err != nil {
		s.fail("save", field, err)
	}
}

// Load returns the stored snapshot, or nil when none exists, when it is
// older than the freshness window (the stale snapshot is deleted), or when
// last_visit cannot be read. Any other corrupt field falls back to its
// empty value.
func (s *Store) Load(ctx context.Context) *Snapshot {
	if s == nil || s.kv == nil {
		return nil
	}

	raw, ok, err := s.kv.Get(ctx, s.Key(KeyLastVisit))
	if err != nil {
		s.fail("load", KeyLastVisit, err)
		return nil
	}
	if !ok {
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.fail("load", KeyLastVisit, err)
		return nil
	}

	last := time.UnixMilli(ms)
	if s.now().Sub(last) > s.window {
		s.logger.Debug("discarding stale session", "namespace", s.namespace, "last_visit", last)
		s.Clear(ctx)
		return nil
	}

	snap := &Snapshot{LastVisit: last}
	snap.DisplayedNodeIDs = s.getStrings(ctx, KeyDisplayedNodeIDs)
	snap.FocusedNodeID = s.getString(ctx, KeyFocusedNodeID)
	snap.SelectedEntityID = s.getString(ctx, KeySelectedEntityID)
	snap.SelectedCategories = s.getStrings(ctx, KeySelectedCategories)
	snap.SelectedEras = s.getStrings(ctx, KeySelectedEras)
	return snap
}

func (s *Store) getStrings(ctx context.Context, field string) []string {
	raw, ok, err := s.kv.Get(ctx, s.Key(field))
	if err != nil {
		s.fail("load", field, err)
		return []string{}
	}
	if !ok {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.fail("load", field, err)
		return []string{}
	}
	return nonNil(out)
}

func (s *Store) getString(ctx context.Context, field string) string {
	raw, ok, err := s.kv.Get(ctx, s.Key(field))
	if err != nil {
		s.fail("load", field, err)
		return ""
	}
	if !ok {
		return ""
	}
	var out *string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.fail("load", field, err)
		return ""
	}
	if out == nil {
		return ""
	}
	return *out
}

// Clear removes every field of the namespace.
func (s *Store) Clear(ctx context.Context) {
	if s == nil || s.kv == nil {
		return
	}
	keys := make([]string, len(allKeys))
	for i, f := range allKeys {
		keys[i] = s.Key(f)
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.fail("clear", "", err)
	}
}

func (s *Store) fail(op, field string, err error) {
	metrics.SessionStoreErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("session store failure", "op", op, "field", field, "namespace", s.namespace, "err", err)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
