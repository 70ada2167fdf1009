package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rmax-ai/mhive/pkg/client"
	"github.com/rmax-ai/mhive/pkg/logging"
)

// Step checks reported as violations.
const (
	CheckMonotonicGrowth = "monotonic_growth"
	CheckBreadcrumbBound = "breadcrumb_bound"
	CheckFocusDisplayed  = "focus_displayed"
	CheckNoopUnchanged   = "noop_unchanged"
	CheckBreadcrumbJump  = "breadcrumb_jump"
)

var eras = []string{"ancient", "modern", "contemporary"}

// RunScenario drives every walker of s against the daemon at apiURL and
// evaluates the scenario invariants.
func RunScenario(ctx context.Context, s Scenario, apiURL string, logger *log.Logger) SimulationResult {
	logger = logging.OrDiscard(logger)
	s = s.withDefaults()
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}

	logger.Info("running scenario", "name", s.Name, "seed", s.Seed)
	start := time.Now()

	res := SimulationResult{
		ScenarioName: s.Name,
		Seed:         s.Seed,
		WalkerStats:  make(map[string]*WalkerStats),
	}

	var violationsMu sync.Mutex
	report := func(v Violation) {
		violationsMu.Lock()
		res.Violations = append(res.Violations, v)
		violationsMu.Unlock()
		logger.Warn("invariant violated", "walker", v.Walker, "step", v.Step, "check", v.Check, "detail", v.Detail)
	}

	var wg sync.WaitGroup

	for walkerIdx, cfg := range s.Walkers {
		stats := &WalkerStats{}
		res.WalkerStats[cfg.Name] = stats // Group stats by walker config name
		for i := 0; i < cfg.Count; i++ {
			wg.Add(1)
			w := &walker{
				id:     fmt.Sprintf("%s-%d", cfg.Name, i),
				cfg:    cfg,
				maxBC:  s.BreadcrumbMax,
				rng:    rand.New(rand.NewSource(s.Seed + int64(walkerIdx*1000) + int64(i))),
				api:    client.NewClient(apiURL),
				global: &res,
				stats:  stats,
				report: report,
				logger: logger,
			}
			go func() {
				defer wg.Done()
				w.run(ctx)
			}()
		}
	}

	wg.Wait()
	res.Duration = time.Since(start)

	evaluateInvariants(&res, s.Invariants)

	res.Success = len(res.Violations) == 0
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	return res
}

type walker struct {
	id     string
	cfg    WalkerConfig
	maxBC  int
	rng    *rand.Rand
	api    *client.Client
	global *SimulationResult
	stats  *WalkerStats
	report func(Violation)
	logger *log.Logger

	categories []string
}

func (w *walker) run(ctx context.Context) {
	prev, err := w.api.State(ctx)
	if err != nil {
		w.logger.Error("walker could not start", "walker", w.id, "error", err)
		w.count(&w.global.TotalErrors, &w.stats.Errors)
		return
	}
	if cats, err := w.api.Categories(ctx); err == nil && cats.Tree != nil {
		w.categories = append(w.categories, cats.Tree.Root.Children...)
	}

	for step := 0; step < w.cfg.Steps; step++ {
		if ctx.Err() != nil {
			return
		}
		w.count(&w.global.TotalSteps, &w.stats.Steps)

		next, err := w.step(ctx, step, prev)
		if err != nil {
			w.logger.Debug("step failed", "walker", w.id, "step", step, "error", err)
			w.count(&w.global.TotalErrors, &w.stats.Errors)
			continue
		}
		w.checkBreadcrumb(step, next)
		w.observeShown(len(next.Displayed))
		prev = next

		if w.cfg.Think > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.Think):
			}
		}
	}
}

func (w *walker) step(ctx context.Context, step int, prev client.State) (client.State, error) {
	r := w.rng.Float64()

	switch {
	case r < w.cfg.ResetRate:
		w.count(&w.global.TotalResets, &w.stats.Resets)
		return w.api.Reset(ctx)

	case r < w.cfg.ResetRate+w.cfg.FilterRate:
		w.count(&w.global.TotalFilters, &w.stats.Filters)
		return w.api.SetFilter(ctx, w.randomFilter())

	case r < w.cfg.ResetRate+w.cfg.FilterRate+w.cfg.BreadcrumbRate && len(prev.Breadcrumb) > 0:
		w.count(&w.global.TotalBreadcrumbs, &w.stats.Breadcrumbs)
		idx := w.rng.Intn(len(prev.Breadcrumb))
		next, err := w.api.NavigateBreadcrumb(ctx, idx)
		if err != nil {
			return next, err
		}
		if !sameIDs(prev.Displayed, next.Displayed) {
			w.violate(step, CheckBreadcrumbJump, "displayed set changed on breadcrumb navigation")
		}
		if len(next.Breadcrumb) != idx+1 || next.Focused != prev.Breadcrumb[idx].ID {
			w.violate(step, CheckBreadcrumbJump, fmt.Sprintf("jump to %d left trail of %d focused on %q", idx, len(next.Breadcrumb), next.Focused))
		}
		return next, nil

	case r < w.cfg.ResetRate+w.cfg.FilterRate+w.cfg.BreadcrumbRate+w.cfg.BogusRate:
		ok, next, err := w.api.Select(ctx, fmt.Sprintf("inc-missing-%d", w.rng.Intn(1_000_000)))
		if err != nil {
			return next, err
		}
		w.count(&w.global.TotalNoops, &w.stats.Noops)
		if ok || !sameIDs(prev.Displayed, next.Displayed) || prev.Focused != next.Focused {
			w.violate(step, CheckNoopUnchanged, "unknown id changed the state")
		}
		return next, nil
	}

	if len(prev.Displayed) == 0 {
		return w.api.Reset(ctx)
	}
	id := prev.Displayed[w.rng.Intn(len(prev.Displayed))]
	ok, next, err := w.api.Select(ctx, id)
	if err != nil {
		return next, err
	}
	if !ok {
		w.count(&w.global.TotalNoops, &w.stats.Noops)
		return next, nil
	}
	w.count(&w.global.TotalExpanded, &w.stats.Expanded)

	if !isPrefix(prev.Displayed, next.Displayed) {
		w.violate(step, CheckMonotonicGrowth, fmt.Sprintf("selecting %s dropped displayed nodes (%d -> %d)", id, len(prev.Displayed), len(next.Displayed)))
	}
	if next.Focused != id || !contains(next.Displayed, id) {
		w.violate(step, CheckFocusDisplayed, fmt.Sprintf("selected %s but focus is %q", id, next.Focused))
	}
	return next, nil
}

func (w *walker) randomFilter() client.Filter {
	var f client.Filter
	if len(w.categories) > 0 && w.rng.Intn(2) == 0 {
		f.Categories = []string{w.categories[w.rng.Intn(len(w.categories))]}
	}
	if w.rng.Intn(3) == 0 {
		f.Eras = []string{eras[w.rng.Intn(len(eras))]}
	}
	return f
}

func (w *walker) checkBreadcrumb(step int, st client.State) {
	if w.maxBC > 0 && len(st.Breadcrumb) > w.maxBC {
		w.violate(step, CheckBreadcrumbBound, fmt.Sprintf("trail of %d exceeds %d", len(st.Breadcrumb), w.maxBC))
	}
}

func (w *walker) observeShown(n int) {
	for {
		cur := atomic.LoadUint64(&w.stats.MaxShown)
		if uint64(n) <= cur || atomic.CompareAndSwapUint64(&w.stats.MaxShown, cur, uint64(n)) {
			return
		}
	}
}

func (w *walker) violate(step int, check, detail string) {
	w.report(Violation{Walker: w.id, Step: step, Check: check, Detail: detail})
}

func (w *walker) count(global, local *uint64) {
	atomic.AddUint64(global, 1)
	atomic.AddUint64(local, 1)
}

func isPrefix(prefix, s []string) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if prefix[i] != s[i] {
			return false
		}
	}
	return true
}

func sameIDs(a, b []string) bool {
	return len(a) == len(b) && isPrefix(a, b)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var actual float64
		var passed bool

		// Determine actual value based on scope
		var stats *WalkerStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = &WalkerStats{
				Steps:    atomic.LoadUint64(&res.TotalSteps),
				Expanded: atomic.LoadUint64(&res.TotalExpanded),
				Noops:    atomic.LoadUint64(&res.TotalNoops),
				Errors:   atomic.LoadUint64(&res.TotalErrors),
			}
		} else {
			if s, ok := res.WalkerStats[inv.Scope]; ok {
				stats = &WalkerStats{
					Steps:    atomic.LoadUint64(&s.Steps),
					Expanded: atomic.LoadUint64(&s.Expanded),
					Noops:    atomic.LoadUint64(&s.Noops),
					Errors:   atomic.LoadUint64(&s.Errors),
				}
			} else {
				res.Invariants = append(res.Invariants, InvariantResult{
					Metric: inv.Metric, Scope: inv.Scope, Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value), Actual: "N/A", Passed: false,
				})
				continue
			}
		}

		if stats.Steps > 0 {
			switch inv.Metric {
			case "expansion_rate":
				actual = float64(stats.Expanded) / float64(stats.Steps)
			case "noop_rate":
				actual = float64(stats.Noops) / float64(stats.Steps)
			case "error_rate":
				actual = float64(stats.Errors) / float64(stats.Steps)
			}
		}

		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
