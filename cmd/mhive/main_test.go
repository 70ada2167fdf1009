package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/mhive/pkg/api"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/session"
	"github.com/rmax-ai/mhive/pkg/snapshottest"
	"github.com/rmax-ai/mhive/pkg/source"
)

func newDaemon(t *testing.T, cfg api.Config) *httptest.Server {
	t.Helper()
	loader := data.NewLoader(snapshottest.Write(t), logging.Discard())
	srv := api.NewServer(loader, session.NewMemoryKV(), cfg, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCLI_SelectAnnouncesSession(t *testing.T) {
	ts := newDaemon(t, api.Config{})

	out, errOut, err := run(t, "--api", ts.URL, "select", "inc-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "Focused:   inc-0001")
	assert.Contains(t, out, "Title:     Chernobyl disaster (incident)")
	assert.Contains(t, out, "loc-pripyat")
	assert.Contains(t, errOut, "session: ")
}

func TestCLI_ResumesSession(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	sid := "7f8c3a0e-5f7b-4d43-9d8e-0a3c1c1f2b11"

	_, errOut, err := run(t, "--api", ts.URL, "--session", sid, "select", "inc-0003")
	require.NoError(t, err)
	assert.Empty(t, errOut, "a resumed session is not announced")

	out, _, err := run(t, "--api", ts.URL, "--session", sid, "--json", "state")
	require.NoError(t, err)
	var st struct {
		Focused    string `json:"focused"`
		Breadcrumb []struct {
			ID string `json:"id"`
		} `json:"breadcrumb"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "inc-0003", st.Focused)
	require.Len(t, st.Breadcrumb, 1)

	out, _, err = run(t, "--api", ts.URL, "--session", sid, "select", "--fragment", "#location-london")
	require.NoError(t, err)
	assert.Contains(t, out, "Trail:     Whitechapel murders > London")

	out, _, err = run(t, "--api", ts.URL, "--session", sid, "breadcrumb", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Focused:   inc-0003")
}

func TestCLI_SelectUnknown(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	out, _, err := run(t, "--api", ts.URL, "select", "inc-9999")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing changed")
}

func TestCLI_FilterAndReset(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	sid := "0b7e2d4c-1a3f-4b6e-8c9d-2e4f6a8b0c1d"

	out, _, err := run(t, "--api", ts.URL, "--session", sid, "filter", "--category", "cat-crime")
	require.NoError(t, err)
	assert.Contains(t, out, "Filter:    categories=cat-crime")
	assert.Contains(t, out, "Displayed: 1")

	out, _, err = run(t, "--api", ts.URL, "--session", sid, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Displayed: 1", "reset keeps the filter")

	out, _, err = run(t, "--api", ts.URL, "--session", sid, "filter")
	require.NoError(t, err)
	assert.Contains(t, out, "Displayed: 4")
}

func TestCLI_BreadcrumbInvalid(t *testing.T) {
	ts := newDaemon(t, api.Config{})

	_, _, err := run(t, "--api", ts.URL, "breadcrumb", "x")
	assert.ErrorContains(t, err, "invalid breadcrumb index")

	_, _, err = run(t, "--api", ts.URL, "breadcrumb", "3")
	assert.Error(t, err)
}

func TestCLI_Graph(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	sid := "3c9a1e7b-2d4f-4e6a-9b8c-7d5e3f1a2b4c"

	_, _, err := run(t, "--api", ts.URL, "--session", sid, "select", "inc-0001")
	require.NoError(t, err)

	out, _, err := run(t, "--api", ts.URL, "--session", sid, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "* inc-0001")
	assert.Contains(t, out, "inc-0001 -[OCCURRED_AT]-> loc-pripyat")
	assert.NotContains(t, out, "per-ghost")
}

func TestCLI_Lookups(t *testing.T) {
	ts := newDaemon(t, api.Config{})

	out, _, err := run(t, "--api", ts.URL, "search", "london")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "inc-0003"), "got %q", lines[0])

	out, _, err = run(t, "--api", ts.URL, "search", "atlantis")
	require.NoError(t, err)
	assert.Equal(t, "No matches.\n", out)

	out, _, err = run(t, "--api", ts.URL, "categories")
	require.NoError(t, err)
	assert.Contains(t, out, "cat-disaster")
	assert.Contains(t, out, "  cat-disaster-nuclear")

	out, _, err = run(t, "--api", ts.URL, "entity", "loc-pripyat")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Pripyat"`)

	_, _, err = run(t, "--api", ts.URL, "entity", "inc-9999")
	assert.ErrorContains(t, err, "no detail for inc-9999")

	out, _, err = run(t, "--api", ts.URL, "neighborhood", "per-ripper", "--depth", "2")
	require.NoError(t, err)
	assert.Equal(t, "inc-0003\nloc-london\n", out)
}

func TestCLI_Admin(t *testing.T) {
	ts := newDaemon(t, api.Config{AdminToken: "secret"})

	_, _, err := run(t, "--api", ts.URL, "admin", "clear-cache")
	assert.Error(t, err)

	out, _, err := run(t, "--api", ts.URL, "--admin-token", "secret", "admin", "clear-cache", "--tier", "details")
	require.NoError(t, err)
	assert.Equal(t, "Cleared details cache.\n", out)

	out, _, err = run(t, "--api", ts.URL, "--admin-token", "secret", "admin", "reload")
	require.NoError(t, err)
	assert.Equal(t, "Reloaded.\n", out)

	out, _, err = run(t, "--api", ts.URL, "admin", "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestCLI_DaemonDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, _, err := run(t, "--api", url, "admin", "health")
	assert.ErrorContains(t, err, "is mhive-d running?")
}

const (
	kyshtymDetail = `{"id": "inc-0005", "title": "Kyshtym-like accident", "date": "1987-05-01", "country": "Ukraine", "tags": ["nuclear"]}`
	fireDetail    = `{"id": "inc-0006", "title": "Great Fire", "date": "1666-09-02", "country": "England", "tags": ["fire"]}`
)

func writeRelateFixture(t *testing.T) *source.LocalSource {
	t.Helper()
	src := snapshottest.Write(t)
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "incidents/inc-0005.json", strings.NewReader(kyshtymDetail)))
	require.NoError(t, src.Put(ctx, "incidents/inc-0006.json", strings.NewReader(fireDetail)))
	relations := strings.Replace(snapshottest.Relations,
		`"relationType": "INVOLVED_IN"}`,
		`"relationType": "INVOLVED_IN"},
    {"id": "old", "source": "inc-0001", "target": "inc-0006", "relationType": "RELATED_TO"}`, 1)
	require.NoError(t, src.Put(ctx, data.RelationsKey, strings.NewReader(relations)))
	return src
}

func readRelationsFile(t *testing.T, src *source.LocalSource) graph.RelationsDocument {
	t.Helper()
	rc, err := src.Get(context.Background(), data.RelationsKey)
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	var doc graph.RelationsDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestRunRelate(t *testing.T) {
	src := writeRelateFixture(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := runRelate(context.Background(), src, relateOptions{threshold: 3, maxConnections: 5, annotate: true}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.incidents)
	assert.Equal(t, 1, res.generated)
	assert.Equal(t, 5, res.kept)

	doc := readRelationsFile(t, src)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, "2026-01-02T03:04:05Z", doc.GeneratedAt)
	require.Len(t, doc.Edges, 6)
	assert.Equal(t, 6, doc.Total)

	related := doc.Edges[5]
	assert.Equal(t, graph.RelRelatedTo, related.RelationType)
	assert.Equal(t, "inc-0001", related.Source)
	assert.Equal(t, "inc-0005", related.Target)
	require.NotNil(t, related.Confidence)
	assert.LessOrEqual(t, *related.Confidence, 1.0)
	for _, e := range doc.Edges {
		assert.NotEqual(t, "old", e.ID, "stale RELATED_TO edges are replaced")
	}

	rc, err := src.Get(context.Background(), "incidents/inc-0005.json")
	require.NoError(t, err)
	defer rc.Close()
	var inc graph.Incident
	require.NoError(t, json.NewDecoder(rc).Decode(&inc))
	assert.Equal(t, []string{"inc-0001"}, inc.RelatedIncidents)
}

func TestRelateCmd_DryRun(t *testing.T) {
	src := writeRelateFixture(t)

	out, _, err := run(t, "relate", "--dir", src.Root(), "--dry-run", "--version", "2.0")
	require.NoError(t, err)
	assert.Contains(t, out, "Scored 3 incidents: 1 related edges, 5 kept edges, 6 total.")
	assert.Contains(t, out, `"version": "2.0"`)

	doc := readRelationsFile(t, src)
	assert.Len(t, doc.Edges, 6, "dry run leaves relations.json alone")
	assert.Equal(t, "old", doc.Edges[5].ID)
}
