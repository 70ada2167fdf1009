package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmax-ai/mhive/pkg/graph"
)

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
}

// Filter restricts incidents by category subtree and era.
type Filter struct {
	Categories []string `json:"categories"`
	Eras       []string `json:"eras"`
}

// Crumb is one breadcrumb entry.
type Crumb struct {
	ID        string           `json:"id"`
	Type      graph.EntityType `json:"type"`
	Title     string           `json:"title"`
	Timestamp time.Time        `json:"timestamp"`
}

// State is the exploration state of the client's session.
type State struct {
	Displayed  []string `json:"displayed"`
	Focused    string   `json:"focused,omitempty"`
	SelectedID string   `json:"selected_id,omitempty"`
	// Selected is the raw detail document of SelectedID, if one was found.
	Selected   json.RawMessage `json:"selected,omitempty"`
	Breadcrumb []Crumb         `json:"breadcrumb"`
	Filter     Filter          `json:"filter"`
}

// Entity decodes Selected into its typed variant. It returns nil, nil when
// nothing is selected or no detail was available.
func (s State) Entity() (graph.Entity, error) {
	if s.SelectedID == "" || len(s.Selected) == 0 || string(s.Selected) == "null" {
		return nil, nil
	}
	t, ok := graph.TypeFromID(s.SelectedID)
	if !ok {
		return nil, fmt.Errorf("unknown entity type for id %q", s.SelectedID)
	}
	return graph.DecodeEntity(t, s.Selected)
}

type stateResponse struct {
	SessionID string `json:"session_id"`
	Selected  *bool  `json:"selected,omitempty"`
	State     State  `json:"state"`
}

// GraphView is the renderer view of the session.
type GraphView struct {
	SessionID  string       `json:"session_id"`
	Graph      *graph.Graph `json:"graph"`
	Focused    string       `json:"focused,omitempty"`
	SelectedID string       `json:"selected_id,omitempty"`
	Displayed  int          `json:"displayed"`
}

// Categories is the category tree with per-node incident counts.
type Categories struct {
	Tree   *graph.CategoryTree `json:"tree"`
	Counts map[string]int      `json:"counts"`
}

type searchResponse struct {
	Query   string             `json:"query"`
	Results []graph.IndexEntry `json:"results"`
}

type neighborhoodResponse struct {
	ID    string   `json:"id"`
	Depth int      `json:"depth"`
	IDs   []string `json:"ids"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
