package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		jsonOutput   bool
		outputFile   string
		logLevel     string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario file (.yaml, .yml or .json)")
	flag.StringVar(&apiURL, "api", "http://127.0.0.1:8090", "Base URL of mhive-d API")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	logger := logging.New(logging.Options{Level: logLevel, Prefix: "mhive-sim"})

	var scenario simulation.Scenario
	if scenarioFile != "" {
		s, err := simulation.LoadScenario(scenarioFile)
		if err != nil {
			logger.Fatal("failed to load scenario", "file", scenarioFile, "error", err)
		}
		scenario = s
	} else {
		logger.Info("no scenario file provided, running default scenario")
		scenario = simulation.DefaultScenario()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := simulation.RunScenario(ctx, scenario, apiURL, logger)

	output, err := renderReport(result, jsonOutput)
	if err != nil {
		logger.Fatal("failed to marshal report", "error", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, output, 0644); err != nil {
			logger.Fatal("failed to write report", "file", outputFile, "error", err)
		}
		fmt.Printf("Report written to %s\n", outputFile)
	} else {
		fmt.Println(string(output))
	}

	if !result.Success {
		os.Exit(1)
	}
}

func renderReport(res simulation.SimulationResult, jsonFmt bool) ([]byte, error) {
	if jsonFmt {
		return json.MarshalIndent(res, "", "  ")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n--- Simulation Report: %s ---\n", res.ScenarioName)
	fmt.Fprintf(&buf, "Seed: %d | Duration: %s\n", res.Seed, res.Duration)
	fmt.Fprintf(&buf, "Steps: %d | Expanded: %d | No-ops: %d | Filters: %d | Resets: %d | Jumps: %d | Errors: %d\n",
		res.TotalSteps, res.TotalExpanded, res.TotalNoops, res.TotalFilters, res.TotalResets, res.TotalBreadcrumbs, res.TotalErrors)

	if len(res.WalkerStats) > 0 {
		names := make([]string, 0, len(res.WalkerStats))
		for name := range res.WalkerStats {
			names = append(names, name)
		}
		sort.Strings(names)

		buf.WriteString("\nWalkers:\n")
		for _, name := range names {
			st := res.WalkerStats[name]
			fmt.Fprintf(&buf, "  %s: steps=%d expanded=%d noops=%d errors=%d max_shown=%d\n",
				name, st.Steps, st.Expanded, st.Noops, st.Errors, st.MaxShown)
		}
	}

	if len(res.Violations) > 0 {
		buf.WriteString("\nViolations:\n")
		for _, v := range res.Violations {
			fmt.Fprintf(&buf, "  [%s] %s step %d: %s\n", v.Check, v.Walker, v.Step, v.Detail)
		}
	}

	if len(res.Invariants) > 0 {
		buf.WriteString("\nInvariants:\n")
		for _, inv := range res.Invariants {
			status := "FAIL"
			if inv.Passed {
				status = "PASS"
			}
			fmt.Fprintf(&buf, "[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual)
		}
	}
	return buf.Bytes(), nil
}
