package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/mhive/pkg/api"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/session"
	"github.com/rmax-ai/mhive/pkg/snapshottest"
)

func newDaemon(t *testing.T, cfg api.Config) *httptest.Server {
	t.Helper()
	loader := data.NewLoader(snapshottest.Write(t), logging.Discard())
	srv := api.NewServer(loader, session.NewMemoryKV(), cfg, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_SessionAdopted(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	c := NewClient(ts.URL)
	ctx := context.Background()

	assert.Empty(t, c.Session())
	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Displayed, 4)

	first := c.Session()
	require.NotEmpty(t, first)

	_, _, err = c.Select(ctx, "inc-0003")
	require.NoError(t, err)
	assert.Equal(t, first, c.Session(), "session id must be reused across calls")

	other := NewClient(ts.URL)
	st, err = other.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Focused)
	assert.NotEqual(t, first, other.Session())
}

func TestClient_ExplorationFlow(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	c := NewClient(ts.URL)
	ctx := context.Background()

	ok, st, err := c.Select(ctx, "inc-0001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "inc-0001", st.Focused)
	assert.Contains(t, st.Displayed, "loc-pripyat")

	e, err := st.Entity()
	require.NoError(t, err)
	inc, isInc := e.(*graph.Incident)
	require.True(t, isInc, "expected *graph.Incident, got %T", e)
	assert.Equal(t, 31, inc.Deaths())

	ok, st, err = c.SelectFragment(ctx, "#location-pripyat")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, st.Breadcrumb, 2)

	st, err = c.NavigateBreadcrumb(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "inc-0001", st.Focused)
	assert.Len(t, st.Breadcrumb, 1)

	ok, _, err = c.Select(ctx, "inc-9999")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err = c.SetFilter(ctx, Filter{Categories: []string{"cat-crime"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"inc-0003"}, st.Displayed)

	st, err = c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inc-0003"}, st.Displayed, "reset keeps the filter")
	assert.Empty(t, st.SelectedID)

	view, err := c.Graph(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Displayed)
}

func TestClient_Lookups(t *testing.T) {
	ts := newDaemon(t, api.Config{})
	c := NewClient(ts.URL)
	ctx := context.Background()

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)

	e, err := c.Entity(ctx, "loc-pripyat")
	require.NoError(t, err)
	assert.Equal(t, graph.TypeLocation, e.EntityType())
	assert.Equal(t, "Pripyat", e.Label())

	_, err = c.Entity(ctx, "inc-9999")
	assert.True(t, errors.Is(err, ErrNotFound))

	results, err := c.Search(ctx, "london", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "inc-0003", results[0].ID)

	cats, err := c.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cats.Counts["cat-disaster"])

	ids, err := c.Neighborhood(ctx, "per-ripper", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"inc-0003", "loc-london"}, ids)
}

func TestClient_Admin(t *testing.T) {
	ts := newDaemon(t, api.Config{AdminToken: "tok"})
	c := NewClient(ts.URL)
	ctx := context.Background()

	err := c.ClearCache(ctx, "details")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)

	c.SetAdminToken("tok")
	require.NoError(t, c.ClearCache(ctx, "details"))
	require.NoError(t, c.Reload(ctx))

	err = c.ClearCache(ctx, "bogus")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_tier", apiErr.Code)
}

func TestClient_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"data_unavailable","reason":"fetch index: status 500"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.State(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "fetch index")
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url)
	_, err := c.Health(context.Background())
	assert.Error(t, err)
	assert.False(t, IsUnavailable(err))
}

func TestState_EntityEmpty(t *testing.T) {
	e, err := State{}.Entity()
	assert.NoError(t, err)
	assert.Nil(t, e)

	e, err = State{SelectedID: "inc-1", Selected: []byte("null")}.Entity()
	assert.NoError(t, err)
	assert.Nil(t, e)
}
