package api

import (
	"github.com/rmax-ai/mhive/pkg/explore"
	"github.com/rmax-ai/mhive/pkg/graph"
)

// SelectRequest selects a node by id or by deep-link fragment.
type SelectRequest struct {
	ID       string `json:"id,omitempty" validate:"required_without=Fragment,max=256"`
	Fragment string `json:"fragment,omitempty" validate:"required_without=ID,max=256"`
}

// FilterRequest replaces the session filter.
type FilterRequest struct {
	Categories []string `json:"categories" validate:"omitempty,dive,required,max=128"`
	Eras       []string `json:"eras" validate:"omitempty,dive,oneof=ancient modern contemporary"`
}

// BreadcrumbRequest jumps back to a breadcrumb position.
type BreadcrumbRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

// StateResponse carries the exploration state of one session. Selected is
// only set by /v1/select and reports whether the id resolved.
type StateResponse struct {
	SessionID string        `json:"session_id"`
	Selected  *bool         `json:"selected,omitempty"`
	State     explore.State `json:"state"`
}

// GraphResponse is the renderer view plus a short state summary.
type GraphResponse struct {
	SessionID  string       `json:"session_id"`
	Graph      *graph.Graph `json:"graph"`
	Focused    string       `json:"focused,omitempty"`
	SelectedID string       `json:"selected_id,omitempty"`
	Displayed  int          `json:"displayed"`
}

// SearchResponse lists index entries matching a query.
type SearchResponse struct {
	Query   string             `json:"query"`
	Results []graph.IndexEntry `json:"results"`
}

// CategoriesResponse is the category tree with per-node incident counts.
type CategoriesResponse struct {
	Tree   *graph.CategoryTree `json:"tree"`
	Counts map[string]int      `json:"counts"`
}

// NeighborhoodResponse lists ids reachable from ID within Depth hops.
type NeighborhoodResponse struct {
	ID    string   `json:"id"`
	Depth int      `json:"depth"`
	IDs   []string `json:"ids"`
}

// CacheClearResponse reports which cache tier was dropped.
type CacheClearResponse struct {
	Tier    string `json:"tier"`
	Cleared bool   `json:"cleared"`
}

// ReloadResponse reports a successful data reload.
type ReloadResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
