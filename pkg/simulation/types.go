package simulation

import (
	"time"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName     string                  `json:"scenario_name"`
	Seed             int64                   `json:"seed"`
	Duration         time.Duration           `json:"duration"`
	TotalSteps       uint64                  `json:"total_steps"`
	TotalExpanded    uint64                  `json:"total_expanded"`
	TotalNoops       uint64                  `json:"total_noops"`
	TotalFilters     uint64                  `json:"total_filters"`
	TotalResets      uint64                  `json:"total_resets"`
	TotalBreadcrumbs uint64                  `json:"total_breadcrumbs"`
	TotalErrors      uint64                  `json:"total_errors"`
	WalkerStats      map[string]*WalkerStats `json:"walker_stats"`
	Violations       []Violation             `json:"violations,omitempty"`
	Invariants       []InvariantResult       `json:"invariants"`
	Success          bool                    `json:"success"`
}

type WalkerStats struct {
	Steps       uint64 `json:"steps"`
	Expanded    uint64 `json:"expanded"`
	Noops       uint64 `json:"noops"`
	Filters     uint64 `json:"filters"`
	Resets      uint64 `json:"resets"`
	Breadcrumbs uint64 `json:"breadcrumbs"`
	Errors      uint64 `json:"errors"`
	MaxShown    uint64 `json:"max_shown"`
}

// Violation is one failed state check observed by a walker.
type Violation struct {
	Walker string `json:"walker"`
	Step   int    `json:"step"`
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "> 0.95"
	Actual   string `json:"actual"`   // e.g. "0.98"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Seed        int64          `json:"seed" yaml:"seed"` // Deterministic seed
	Walkers     []WalkerConfig `json:"walkers" yaml:"walkers" validate:"required,min=1,dive"`
	// BreadcrumbMax is the trail bound the daemon is expected to enforce.
	BreadcrumbMax int         `json:"breadcrumb_max" yaml:"breadcrumb_max" validate:"gte=0"`
	Invariants    []Invariant `json:"invariants,omitempty" yaml:"invariants,omitempty" validate:"dive"`
}

type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric" validate:"oneof=expansion_rate noop_rate error_rate"`
	Condition string  `json:"condition" yaml:"condition" validate:"oneof=> >= < <= =="`
	Value     float64 `json:"value" yaml:"value"`
	Scope     string  `json:"scope" yaml:"scope"` // "global" or specific walker name
}

// WalkerConfig describes a group of identical walkers. Each walker gets its
// own session. Rates are per-step probabilities; the remainder selects a
// displayed node.
type WalkerConfig struct {
	Name           string        `json:"name" yaml:"name" validate:"required"`
	Count          int           `json:"count" yaml:"count" validate:"gte=1"`
	Steps          int           `json:"steps" yaml:"steps" validate:"gte=1"`
	FilterRate     float64       `json:"filter_rate" yaml:"filter_rate" validate:"gte=0,lte=1"`
	ResetRate      float64       `json:"reset_rate" yaml:"reset_rate" validate:"gte=0,lte=1"`
	BreadcrumbRate float64       `json:"breadcrumb_rate" yaml:"breadcrumb_rate" validate:"gte=0,lte=1"`
	BogusRate      float64       `json:"bogus_rate" yaml:"bogus_rate" validate:"gte=0,lte=1"`
	Think          time.Duration `json:"think" yaml:"think"`
}
