package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/mhive/pkg/client"
	"github.com/rmax-ai/mhive/pkg/graph"
)

// Config
const (
	requestTimeout = 5 * time.Second
	viewportHeight = 16
)

var eraCycle = []string{"", "ancient", "modern", "contemporary"}

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	focusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	// Node type colors
	typeStyles = map[graph.EntityType]lipgloss.Style{
		graph.TypeIncident:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		graph.TypePerson:       lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		graph.TypeLocation:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		graph.TypePhenomenon:   lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
		graph.TypeOrganization: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		graph.TypeEquipment:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// stateMsg carries the session state and its rendered graph after any
// exploration call.
type stateMsg struct {
	state client.State
	view  *client.GraphView
	note  string
	err   error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model

	state   client.State
	labels  map[string]*graph.Node
	cursor  int
	eraIdx  int
	note    string
	err     error
	busy    bool
	ready   bool
	width   int
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:      api,
		spinner:  s,
		viewport: newViewport(100),
		labels:   make(map[string]*graph.Node),
		busy:     true,
		width:    100,
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetch(func(ctx context.Context) (client.State, string, error) {
			st, err := m.api.State(ctx)
			return st, "", err
		}),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case stateMsg:
		m.busy = false
		m.ready = true
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.note = msg.note
		m.state = msg.state
		if msg.view != nil && msg.view.Graph != nil {
			m.labels = msg.view.Graph.Nodes
		}
		if m.cursor >= len(m.state.Displayed) {
			m.cursor = len(m.state.Displayed) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.updateViewportContent()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
		m.ready = true
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.updateViewportContent()
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.state.Displayed)-1 {
			m.cursor++
			m.updateViewportContent()
		}
		return m, nil
	}

	if m.busy {
		return m, nil
	}

	switch key {
	case "enter":
		if len(m.state.Displayed) == 0 {
			return m, nil
		}
		id := m.state.Displayed[m.cursor]
		m.busy = true
		return m, m.fetch(func(ctx context.Context) (client.State, string, error) {
			ok, st, err := m.api.Select(ctx, id)
			if err == nil && !ok {
				return st, fmt.Sprintf("%s is not in the index", id), nil
			}
			return st, "", err
		})
	case "r":
		m.busy = true
		return m, m.fetch(func(ctx context.Context) (client.State, string, error) {
			st, err := m.api.Reset(ctx)
			return st, "reset", err
		})
	case "e":
		m.eraIdx = (m.eraIdx + 1) % len(eraCycle)
		era := eraCycle[m.eraIdx]
		filter := client.Filter{Categories: m.state.Filter.Categories}
		note := "era filter cleared"
		if era != "" {
			filter.Eras = []string{era}
			note = "era: " + era
		}
		m.busy = true
		return m, m.fetch(func(ctx context.Context) (client.State, string, error) {
			st, err := m.api.SetFilter(ctx, filter)
			return st, note, err
		})
	}

	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		idx := int(key[0] - '1')
		if idx >= len(m.state.Breadcrumb) {
			return m, nil
		}
		m.busy = true
		return m, m.fetch(func(ctx context.Context) (client.State, string, error) {
			st, err := m.api.NavigateBreadcrumb(ctx, idx)
			return st, "", err
		})
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// fetch runs one exploration call and follows it with the graph view so
// node labels stay current.
func (m model) fetch(call func(ctx context.Context) (client.State, string, error)) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		st, note, err := call(ctx)
		if err != nil {
			return stateMsg{err: err}
		}
		view, err := api.Graph(ctx)
		if err != nil {
			return stateMsg{err: err}
		}
		return stateMsg{state: st, view: view, note: note}
	}
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	for i, id := range m.state.Displayed {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		label, t := id, graph.EntityType("")
		if n, ok := m.labels[id]; ok {
			label, t = n.Label, n.Type
		}
		name := typeStyle(t).Render(fmt.Sprintf("%-13s", t))
		text := fmt.Sprintf("%-12s %s", id, label)
		if id == m.state.Focused {
			text = focusStyle.Render(text)
		}
		sb.WriteString(prefix + name + " " + text + "\n")
	}
	m.viewport.SetContent(sb.String())
}

func typeStyle(t graph.EntityType) lipgloss.Style {
	if s, ok := typeStyles[t]; ok {
		return s
	}
	return subtleStyle
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	var trail strings.Builder
	trail.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Trail") + "\n")
	if len(m.state.Breadcrumb) == 0 {
		trail.WriteString(subtleStyle.Render("Nothing selected yet."))
	} else {
		parts := make([]string, 0, len(m.state.Breadcrumb))
		for i, c := range m.state.Breadcrumb {
			parts = append(parts, fmt.Sprintf("%d:%s", i+1, c.Title))
		}
		trail.WriteString(strings.Join(parts, " > "))
	}
	topPane := paneStyle.Render(trail.String())

	spin := " "
	if m.busy {
		spin = m.spinner.View()
	}
	header := headerStyle.Render(fmt.Sprintf("%s Displayed nodes (%d)", spin, len(m.state.Displayed)))

	detailPane := paneStyle.Render(m.detail())

	var status string
	if m.err != nil {
		if client.IsUnavailable(m.err) {
			status = errorStyle.Render(fmt.Sprintf("Data unavailable: %v", m.err))
		} else {
			status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
		}
	} else {
		parts := []string{"Online", fmt.Sprintf("session %s", shortID(m.api.Session()))}
		if len(m.state.Filter.Eras) > 0 {
			parts = append(parts, "era "+strings.Join(m.state.Filter.Eras, ","))
		}
		if m.note != "" {
			parts = append(parts, m.note)
		}
		status = okStyle.Render(strings.Join(parts, " • "))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n↑/↓ move • enter select • 1-9 trail • e era • r reset • q quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), detailPane, footer)
}

func (m model) detail() string {
	e, err := m.state.Entity()
	if err != nil {
		return errorStyle.Render(fmt.Sprintf("Unreadable detail: %v", err))
	}
	if e == nil {
		if m.state.SelectedID != "" {
			return subtleStyle.Render(fmt.Sprintf("No detail available for %s.", m.state.SelectedID))
		}
		return subtleStyle.Render("Select a node to see its detail.")
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(e.Label()))
	b.WriteString(subtleStyle.Render(fmt.Sprintf("  %s %s", e.EntityType(), e.EntityID())) + "\n")
	if inc, ok := e.(*graph.Incident); ok {
		if inc.Date != "" {
			fmt.Fprintf(&b, "Date: %s\n", inc.Date)
		}
		if loc := strings.TrimSpace(strings.Trim(inc.Location+", "+inc.Country, ", ")); loc != "" {
			fmt.Fprintf(&b, "Where: %s\n", loc)
		}
		if d := inc.Deaths(); d > 0 {
			fmt.Fprintf(&b, "Deaths: %d\n", d)
		}
		if inc.Summary != "" {
			b.WriteString(inc.Summary + "\n")
		}
		return b.String()
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, m.state.Selected, "", "  "); err == nil {
		b.WriteString(pretty.String())
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	apiURL := flag.String("api", envOrDefault("MHIVE_API", "http://localhost:8090"), "Base URL of mhive-d API")
	sessionID := flag.String("session", os.Getenv("MHIVE_SESSION"), "exploration session id to resume")
	flag.Parse()

	api := client.NewClient(*apiURL)
	if *sessionID != "" {
		api.SetSession(*sessionID)
	}

	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
	if id := api.Session(); id != "" && *sessionID == "" {
		fmt.Printf("Session %s (pass -session to resume)\n", id)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
