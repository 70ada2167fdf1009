package simulation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/mhive/pkg/api"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/explore"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/session"
	"github.com/rmax-ai/mhive/pkg/snapshottest"
)

func newDaemon(t *testing.T, opts explore.Options) *httptest.Server {
	t.Helper()
	loader := data.NewLoader(snapshottest.Write(t), logging.Discard())
	srv := api.NewServer(loader, session.NewMemoryKV(), api.Config{Explore: opts}, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunScenario_AgainstDaemon(t *testing.T) {
	ts := newDaemon(t, explore.Options{BreadcrumbMax: 3})

	s := Scenario{
		Name:          "walk",
		Seed:          42,
		BreadcrumbMax: 3,
		Walkers: []WalkerConfig{
			{Name: "explorer", Count: 3, Steps: 40, FilterRate: 0.1, ResetRate: 0.05, BreadcrumbRate: 0.2, BogusRate: 0.1},
		},
		Invariants: []Invariant{
			{Metric: "error_rate", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "expansion_rate", Condition: ">", Value: 0, Scope: "explorer"},
		},
	}

	res := RunScenario(context.Background(), s, ts.URL, logging.Discard())

	assert.Empty(t, res.Violations)
	assert.True(t, res.Success, "invariants: %+v", res.Invariants)
	assert.Equal(t, uint64(120), res.TotalSteps)
	assert.Equal(t, uint64(120), res.WalkerStats["explorer"].Steps)
	assert.NotZero(t, res.TotalExpanded)
	assert.NotZero(t, res.WalkerStats["explorer"].MaxShown)
	require.Len(t, res.Invariants, 2)
}

func TestRunScenario_Deterministic(t *testing.T) {
	ts := newDaemon(t, explore.Options{})
	s := Scenario{
		Name: "det",
		Seed: 7,
		Walkers: []WalkerConfig{
			{Name: "w", Count: 1, Steps: 30, FilterRate: 0.1, ResetRate: 0.1, BreadcrumbRate: 0.1, BogusRate: 0.1},
		},
	}

	a := RunScenario(context.Background(), s, ts.URL, nil)
	b := RunScenario(context.Background(), s, ts.URL, nil)

	assert.Equal(t, a.TotalExpanded, b.TotalExpanded)
	assert.Equal(t, a.TotalFilters, b.TotalFilters)
	assert.Equal(t, a.TotalResets, b.TotalResets)
	assert.Equal(t, a.TotalNoops, b.TotalNoops)
}

func TestRunScenario_DetectsShrinkingDisplayedSet(t *testing.T) {
	// A broken daemon that replaces the displayed set on every selection.
	state := func(displayed []string, focused string) map[string]interface{} {
		return map[string]interface{}{
			"session_id": "s",
			"selected":   true,
			"state": map[string]interface{}{
				"displayed":  displayed,
				"focused":    focused,
				"breadcrumb": []interface{}{},
				"filter":     map[string]interface{}{},
			},
		}
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/state":
			json.NewEncoder(w).Encode(state([]string{"inc-1", "inc-2"}, ""))
		case "/v1/select":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(state([]string{req["id"]}, req["id"]))
		case "/v1/categories":
			w.Write([]byte(`{"tree":null,"counts":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	s := Scenario{
		Name:    "broken",
		Seed:    1,
		Walkers: []WalkerConfig{{Name: "w", Count: 1, Steps: 1}},
	}
	res := RunScenario(context.Background(), s, ts.URL, nil)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, CheckMonotonicGrowth, res.Violations[0].Check)
}

func TestRunScenario_DaemonDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	s := Scenario{
		Name:       "down",
		Seed:       1,
		Walkers:    []WalkerConfig{{Name: "w", Count: 2, Steps: 5}},
		Invariants: []Invariant{{Metric: "error_rate", Condition: "<", Value: 0.5}},
	}
	res := RunScenario(context.Background(), s, url, nil)

	assert.Equal(t, uint64(2), res.TotalErrors)
	assert.Zero(t, res.TotalSteps)
}

func TestEvaluateInvariants_UnknownScope(t *testing.T) {
	res := &SimulationResult{WalkerStats: map[string]*WalkerStats{}}
	evaluateInvariants(res, []Invariant{{Metric: "noop_rate", Condition: "<", Value: 1, Scope: "ghost"}})

	require.Len(t, res.Invariants, 1)
	assert.False(t, res.Invariants[0].Passed)
	assert.Equal(t, "N/A", res.Invariants[0].Actual)
}

func TestEvaluateInvariants_Rates(t *testing.T) {
	res := &SimulationResult{
		TotalSteps:    10,
		TotalExpanded: 6,
		TotalNoops:    2,
		TotalErrors:   1,
		WalkerStats:   map[string]*WalkerStats{},
	}
	evaluateInvariants(res, []Invariant{
		{Metric: "expansion_rate", Condition: ">=", Value: 0.6},
		{Metric: "noop_rate", Condition: "==", Value: 0.2},
		{Metric: "error_rate", Condition: "<", Value: 0.1},
	})

	require.Len(t, res.Invariants, 3)
	assert.True(t, res.Invariants[0].Passed)
	assert.True(t, res.Invariants[1].Passed)
	assert.False(t, res.Invariants[2].Passed)
	assert.Equal(t, "0.1000", res.Invariants[2].Actual)
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "walk.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
name: yaml walk
seed: 3
walkers:
  - name: a
    count: 2
    steps: 10
    filter_rate: 0.1
    think: 5ms
invariants:
  - metric: error_rate
    condition: "=="
    value: 0
`), 0644))

	s, err := LoadScenario(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "yaml walk", s.Name)
	assert.Equal(t, 10, s.BreadcrumbMax, "default trail bound")
	require.Len(t, s.Walkers, 1)
	assert.Equal(t, 2, s.Walkers[0].Count)
	assert.Equal(t, "5ms", s.Walkers[0].Think.String())

	jsonPath := filepath.Join(dir, "walk.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"json walk","walkers":[{"name":"b","steps":4}]}`), 0644))
	s, err = LoadScenario(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Walkers[0].Count, "count defaults to 1")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no walkers", `{"name":"x"}`},
		{"zero steps", `{"walkers":[{"name":"a","steps":0}]}`},
		{"rate out of range", `{"walkers":[{"name":"a","steps":1,"reset_rate":1.5}]}`},
		{"unknown metric", `{"walkers":[{"name":"a","steps":1}],"invariants":[{"metric":"latency","condition":"<","value":1}]}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.data), "json")
			assert.Error(t, err)
		})
	}
}

func TestDefaultScenario_IsValid(t *testing.T) {
	s := DefaultScenario()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	_, err = ParseScenario(data, "json")
	assert.NoError(t, err)
}
