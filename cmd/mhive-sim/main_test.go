package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/mhive/pkg/simulation"
)

func sampleResult() simulation.SimulationResult {
	return simulation.SimulationResult{
		ScenarioName:  "walk",
		Seed:          42,
		TotalSteps:    10,
		TotalExpanded: 7,
		WalkerStats: map[string]*simulation.WalkerStats{
			"b": {Steps: 4},
			"a": {Steps: 6, Expanded: 7, MaxShown: 12},
		},
		Violations: []simulation.Violation{
			{Walker: "a-0", Step: 3, Check: simulation.CheckMonotonicGrowth, Detail: "dropped nodes"},
		},
		Invariants: []simulation.InvariantResult{
			{Metric: "error_rate", Scope: "global", Expected: "== 0.00", Actual: "0.0000", Passed: true},
		},
	}
}

func TestRenderReport_Text(t *testing.T) {
	out, err := renderReport(sampleResult(), false)
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "--- Simulation Report: walk ---")
	assert.Contains(t, text, "Seed: 42")
	assert.Contains(t, text, "Steps: 10 | Expanded: 7")
	assert.Contains(t, text, "[monotonic_growth] a-0 step 3: dropped nodes")
	assert.Contains(t, text, "[PASS] error_rate (global)")
	assert.Less(t, strings.Index(text, "  a:"), strings.Index(text, "  b:"), "walkers are sorted")
}

func TestRenderReport_JSON(t *testing.T) {
	out, err := renderReport(sampleResult(), true)
	require.NoError(t, err)

	var decoded simulation.SimulationResult
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "walk", decoded.ScenarioName)
	assert.Len(t, decoded.Violations, 1)
}
