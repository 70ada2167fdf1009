package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/mhive/pkg/api"
	"github.com/rmax-ai/mhive/pkg/client"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/session"
	"github.com/rmax-ai/mhive/pkg/snapshottest"
)

func newModel(t *testing.T) model {
	t.Helper()
	loader := data.NewLoader(snapshottest.Write(t), logging.Discard())
	srv := api.NewServer(loader, session.NewMemoryKV(), api.Config{}, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	m := initialModel(client.NewClient(ts.URL))
	return settle(t, m, m.fetch(func(ctx context.Context) (client.State, string, error) {
		st, err := m.api.State(ctx)
		return st, "", err
	}))
}

// settle runs cmd synchronously and feeds its message back into the model.
func settle(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(model)
}

func press(t *testing.T, m model, key string) (model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

// moveTo walks the cursor down from the top to id.
func moveTo(t *testing.T, m model, id string) model {
	t.Helper()
	idx := -1
	for i, d := range m.state.Displayed {
		if d == id {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "%s not displayed", id)
	m.cursor = 0
	for m.cursor < idx {
		m, _ = press(t, m, "down")
	}
	return m
}

func TestModel_InitialState(t *testing.T) {
	m := newModel(t)

	assert.True(t, m.ready)
	assert.False(t, m.busy)
	assert.Len(t, m.state.Displayed, 4)
	assert.NotEmpty(t, m.api.Session())
	assert.Contains(t, m.View(), "Displayed nodes (4)")
	assert.Contains(t, m.View(), "Select a node to see its detail.")
}

func TestModel_SelectAndTrail(t *testing.T) {
	m := newModel(t)
	m = moveTo(t, m, "inc-0001")

	m, cmd := press(t, m, "enter")
	assert.True(t, m.busy)
	m = settle(t, m, cmd)

	assert.Equal(t, "inc-0001", m.state.Focused)
	assert.Contains(t, m.state.Displayed, "loc-pripyat")
	view := m.View()
	assert.Contains(t, view, "1:Chernobyl disaster")
	assert.Contains(t, view, "Deaths: 31")
	assert.Equal(t, "Pripyat", m.labels["loc-pripyat"].Label)

	m = moveTo(t, m, "loc-pripyat")
	m, cmd = press(t, m, "enter")
	m = settle(t, m, cmd)
	require.Len(t, m.state.Breadcrumb, 2)

	m, cmd = press(t, m, "1")
	m = settle(t, m, cmd)
	assert.Equal(t, "inc-0001", m.state.Focused)
	assert.Len(t, m.state.Breadcrumb, 1)

	// Out-of-range trail keys do nothing.
	_, cmd = press(t, m, "9")
	assert.Nil(t, cmd)
}

func TestModel_EraCycleAndReset(t *testing.T) {
	m := newModel(t)

	m, cmd := press(t, m, "e")
	m = settle(t, m, cmd)
	assert.Equal(t, []string{"ancient"}, m.state.Filter.Eras)
	assert.Empty(t, m.state.Displayed)
	assert.Equal(t, "era: ancient", m.note)

	m, cmd = press(t, m, "e")
	m = settle(t, m, cmd)
	assert.Equal(t, []string{"modern"}, m.state.Filter.Eras)
	assert.Contains(t, m.state.Displayed, "inc-0003")

	m, cmd = press(t, m, "r")
	m = settle(t, m, cmd)
	assert.Equal(t, "reset", m.note)
	assert.Equal(t, []string{"modern"}, m.state.Filter.Eras, "reset keeps the filter")
}

func TestModel_BusyIgnoresActions(t *testing.T) {
	m := newModel(t)
	m.busy = true

	_, cmd := press(t, m, "r")
	assert.Nil(t, cmd)
}

func TestModel_Offline(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	m := initialModel(client.NewClient(url))
	m = settle(t, m, m.fetch(func(ctx context.Context) (client.State, string, error) {
		st, err := m.api.State(ctx)
		return st, "", err
	}))
	require.Error(t, m.err)
	assert.True(t, strings.Contains(m.View(), "Offline"))
}
