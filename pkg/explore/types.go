package explore

import (
	"context"
	"errors"
	"time"

	"github.com/rmax-ai/mhive/pkg/graph"
)

var (
	// ErrNotStarted is returned by operations that need the loaded index.
	ErrNotStarted = errors.New("explorer not started")
	// ErrBreadcrumbIndex is returned for a breadcrumb position out of range.
	ErrBreadcrumbIndex = errors.New("breadcrumb index out of range")
	// ErrBadFragment is returned for a deep link that is not "#<type>-<id>".
	ErrBadFragment = errors.New("malformed deep link fragment")
)

// DataSource is what the explorer needs from the data access layer.
// *data.Loader satisfies it.
type DataSource interface {
	FetchCategories(ctx context.Context) (*graph.CategoryTree, error)
	FetchIndex(ctx context.Context) (*graph.Index, error)
	FetchRelations(ctx context.Context) (*graph.Relations, error)
	FetchEntityDetail(ctx context.Context, id string) graph.Entity
	CachedDetail(id string) (graph.Entity, bool)
}

// Options tunes presentation bounds. Zero values take the defaults.
type Options struct {
	// InitialNodeCount is the size of the seeded slice on start, reset and
	// filter change.
	InitialNodeCount int
	// ExpandNodeCount caps how many neighbours one selection reveals.
	ExpandNodeCount int
	// BreadcrumbMax caps the breadcrumb trail; the oldest entries go first.
	BreadcrumbMax int
	// Clock stamps breadcrumbs. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns 20 initial nodes, 10 per expansion and a
// breadcrumb of 10.
func DefaultOptions() Options {
	return Options{
		InitialNodeCount: 20,
		ExpandNodeCount:  10,
		BreadcrumbMax:    10,
		Clock:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialNodeCount <= 0 {
		o.InitialNodeCount = d.InitialNodeCount
	}
	if o.ExpandNodeCount <= 0 {
		o.ExpandNodeCount = d.ExpandNodeCount
	}
	if o.BreadcrumbMax <= 0 {
		o.BreadcrumbMax = d.BreadcrumbMax
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Filter restricts incidents by category subtree and era. Empty lists mean
// no restriction.
type Filter struct {
	Categories []string `json:"categories"`
	Eras       []string `json:"eras"`
}

func (f Filter) clone() Filter {
	return Filter{
		Categories: append([]string{}, f.Categories...),
		Eras:       append([]string{}, f.Eras...),
	}
}

// Crumb is one breadcrumb entry.
type Crumb struct {
	ID        string           `json:"id"`
	Type      graph.EntityType `json:"type"`
	Title     string           `json:"title"`
	Timestamp time.Time        `json:"timestamp"`
}

// State is a copy of the exploration state. Selected is nil when no detail
// is available for SelectedID.
type State struct {
	Displayed  []string     `json:"displayed"`
	Focused    string       `json:"focused,omitempty"`
	SelectedID string       `json:"selected_id,omitempty"`
	Selected   graph.Entity `json:"selected,omitempty"`
	Breadcrumb []Crumb      `json:"breadcrumb"`
	Filter     Filter       `json:"filter"`
}
