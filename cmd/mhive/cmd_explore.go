package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/mhive/pkg/client"
	"github.com/rmax-ai/mhive/pkg/graph"
)

func newStateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the exploration state of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			st, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			opts.announceSession(cmd, c)
			return writeState(cmd.OutOrStdout(), st, opts.jsonOutput)
		},
	}
}

func newSelectCmd(opts *cliOptions) *cobra.Command {
	var fragment bool
	cmd := &cobra.Command{
		Use:   "select <id>",
		Short: "Select an entity and reveal its neighbours",
		Example: `  mhive select inc-0001
  mhive select --fragment '#location-pripyat'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			var (
				ok  bool
				st  client.State
				err error
			)
			if fragment {
				ok, st, err = c.SelectFragment(cmd.Context(), args[0])
			} else {
				ok, st, err = c.Select(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			opts.announceSession(cmd, c)
			if !ok && !opts.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "No entity %q in the index. Nothing changed.\n", args[0])
				return nil
			}
			return writeState(cmd.OutOrStdout(), st, opts.jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&fragment, "fragment", false, "treat the argument as a deep-link fragment")
	return cmd
}

func newFilterCmd(opts *cliOptions) *cobra.Command {
	var filter client.Filter
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Restrict the displayed incidents by category and era",
		Long:  "Replaces the session filter and reseeds the displayed set. Run without flags to clear it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			st, err := c.SetFilter(cmd.Context(), filter)
			if err != nil {
				return err
			}
			opts.announceSession(cmd, c)
			return writeState(cmd.OutOrStdout(), st, opts.jsonOutput)
		},
	}
	cmd.Flags().StringSliceVar(&filter.Categories, "category", nil, "category id (repeatable)")
	cmd.Flags().StringSliceVar(&filter.Eras, "era", nil, "ancient, modern or contemporary (repeatable)")
	return cmd
}

func newResetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the selection and trail and show the initial incidents again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			st, err := c.Reset(cmd.Context())
			if err != nil {
				return err
			}
			opts.announceSession(cmd, c)
			return writeState(cmd.OutOrStdout(), st, opts.jsonOutput)
		},
	}
}

func newBreadcrumbCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "breadcrumb <index>",
		Short: "Jump back to an entry of the breadcrumb trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil || idx < 0 {
				return fmt.Errorf("invalid breadcrumb index %q", args[0])
			}
			c := opts.newClient()
			st, err := c.NavigateBreadcrumb(cmd.Context(), idx)
			if err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), st, opts.jsonOutput)
		},
	}
}

func newGraphCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "List the displayed nodes and the links between them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			view, err := c.Graph(cmd.Context())
			if err != nil {
				return err
			}
			opts.announceSession(cmd, c)
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), view)
			}
			writeGraph(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func newSearchCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search entities by name, id, location or tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := opts.newClient().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), results)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(out, "%-12s %-13s %s", r.ID, r.Type, r.Label)
				if r.Date != "" {
					fmt.Fprintf(out, " (%s)", r.Date)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func newCategoriesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Print the category tree with incident counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := opts.newClient().Categories(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), cats)
			}
			writeCategories(cmd.OutOrStdout(), cats)
			return nil
		},
	}
}

func newEntityCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entity <id>",
		Short: "Print the full record of one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newClient().Entity(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("no detail for %s", args[0])
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
}

func newNeighborhoodCmd(opts *cliOptions) *cobra.Command {
	var depth, limit int
	cmd := &cobra.Command{
		Use:   "neighborhood <id>",
		Short: "List the entities within a number of hops of id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := opts.newClient().Neighborhood(cmd.Context(), args[0], depth, limit)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "hops to follow (1-5)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum ids")
	return cmd
}

func writeState(w io.Writer, st client.State, jsonFmt bool) error {
	if jsonFmt {
		return printJSON(w, st)
	}
	if st.Focused != "" {
		fmt.Fprintf(w, "Focused:   %s\n", st.Focused)
	}
	if e, err := st.Entity(); err == nil && e != nil {
		fmt.Fprintf(w, "Title:     %s (%s)\n", e.Label(), e.EntityType())
	}
	if len(st.Breadcrumb) > 0 {
		titles := make([]string, 0, len(st.Breadcrumb))
		for _, c := range st.Breadcrumb {
			titles = append(titles, c.Title)
		}
		fmt.Fprintf(w, "Trail:     %s\n", strings.Join(titles, " > "))
	}
	if len(st.Filter.Categories) > 0 || len(st.Filter.Eras) > 0 {
		fmt.Fprintf(w, "Filter:    categories=%s eras=%s\n", strings.Join(st.Filter.Categories, ","), strings.Join(st.Filter.Eras, ","))
	}
	fmt.Fprintf(w, "Displayed: %d\n", len(st.Displayed))
	for _, id := range st.Displayed {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

func writeGraph(w io.Writer, view *client.GraphView) {
	if view == nil || view.Graph == nil {
		fmt.Fprintln(w, "Nothing displayed.")
		return
	}
	ids := make([]string, 0, len(view.Graph.Nodes))
	for id := range view.Graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "Nodes (%d):\n", len(ids))
	for _, id := range ids {
		n := view.Graph.Nodes[id]
		marker := " "
		if id == view.Focused {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-12s %-13s %s\n", marker, n.ID, n.Type, n.Label)
	}
	fmt.Fprintf(w, "Links (%d):\n", len(view.Graph.Links))
	for _, l := range view.Graph.Links {
		fmt.Fprintf(w, "  %s -[%s]-> %s\n", l.FromID, l.Type, l.ToID)
	}
}

func writeCategories(w io.Writer, cats *client.Categories) {
	if cats == nil || cats.Tree == nil {
		fmt.Fprintln(w, "No categories.")
		return
	}
	var walk func(ids []string, depth int)
	walk = func(ids []string, depth int) {
		for _, id := range ids {
			node, ok := cats.Tree.Node(id)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s%s %s (%d)\n", strings.Repeat("  ", depth), node.ID, categoryName(node), cats.Counts[id])
			walk(node.Children, depth+1)
		}
	}
	walk(cats.Tree.Root.Children, 0)
}

func categoryName(n *graph.CategoryNode) string {
	if n.NameEn != "" {
		return n.NameEn
	}
	return n.Name
}
