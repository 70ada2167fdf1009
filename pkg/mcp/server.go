package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/mhive/pkg/client"
)

// Server adapts mhive-d to the Model Context Protocol. The agent gets one
// exploration session for the lifetime of the process.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"mhive",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// mhive://categories
	s.mcpServer.AddResource(mcp.NewResource(
		"mhive://categories",
		"Incident Categories",
		mcp.WithResourceDescription("Category tree with the number of incidents under each node"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadCategories)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"select_node",
		mcp.WithDescription("Select an entity and reveal its neighbours. Pass an id (e.g. 'inc-0001') or a deep-link fragment (e.g. '#incident-0001')."),
		mcp.WithString("id", mcp.Description("Entity id")),
		mcp.WithString("fragment", mcp.Description("Deep-link fragment, used when id is empty")),
	), s.handleSelectNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"search_entities",
		mcp.WithDescription("Search incidents, people, places and other entities by name, id, location or tag."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive search text")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.handleSearch)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_graph",
		mcp.WithDescription("Return the currently displayed nodes and the links between them."),
	), s.handleGetGraph)

	s.mcpServer.AddTool(mcp.NewTool(
		"reset_exploration",
		mcp.WithDescription("Clear the selection and breadcrumb trail and show the initial set of incidents again."),
	), s.handleReset)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"mhive-explorer",
		mcp.WithPromptDescription("Explains how to explore the incident knowledge graph"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadCategories(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cats, err := s.apiClient.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}

	data, err := json.MarshalIndent(cats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSelectNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")
	fragment := mcp.ParseString(request, "fragment", "")
	if id == "" && fragment == "" {
		return mcp.NewToolResultError("either id or fragment is required"), nil
	}

	var (
		ok  bool
		st  client.State
		err error
	)
	if id != "" {
		ok, st, err = s.apiClient.Select(ctx, id)
	} else {
		ok, st, err = s.apiClient.SelectFragment(ctx, fragment)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No entity %q in the index. Nothing changed.", id+fragment)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Focused: %s\n", st.Focused)
	if e, err := st.Entity(); err == nil && e != nil {
		fmt.Fprintf(&b, "Title: %s (%s)\n", e.Label(), e.EntityType())
	}
	fmt.Fprintf(&b, "Displayed nodes: %d\n", len(st.Displayed))
	if n := len(st.Breadcrumb); n > 0 {
		titles := make([]string, 0, n)
		for _, c := range st.Breadcrumb {
			titles = append(titles, c.Title)
		}
		fmt.Fprintf(&b, "Trail: %s\n", strings.Join(titles, " > "))
	}
	if len(st.Selected) > 0 {
		fmt.Fprintf(&b, "Detail:\n%s\n", st.Selected)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := mcp.ParseString(request, "query", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	results, err := s.apiClient.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No matches."), nil
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s\t%s\t%s", r.ID, r.Type, r.Label)
		if r.Date != "" {
			fmt.Fprintf(&b, "\t%s", r.Date)
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := s.apiClient.Graph(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	data, err := json.MarshalIndent(view.Graph, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.apiClient.Reset(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Exploration reset. Displayed nodes: %d", len(st.Displayed))), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "mhive-explorer" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are exploring mhive, a knowledge graph of historical incidents.

Concepts:
- Entity: an incident, person, location, phenomenon, organization or piece of equipment.
  Ids carry a type prefix: inc-, per-, loc-, phe-, org-, equ-.
- Displayed set: the nodes currently on screen. It starts with a slice of incidents.
- Selecting a node reveals its neighbours and records it in the breadcrumb trail.
- Categories: a tree of incident kinds. Read mhive://categories for counts.

Use 'search_entities' to find an id, 'select_node' to expand around it and 'get_graph'
to see what is displayed. Use 'reset_exploration' to start over.
`

	return mcp.NewGetPromptResult(
		"mhive-explorer",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
