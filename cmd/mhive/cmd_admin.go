package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/mhive/pkg/mcp"
)

func newAdminCmd(opts *cliOptions) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Operate a running mhive-d",
	}

	var tier string
	clearCmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached snapshot data on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.newClient().ClearCache(cmd.Context(), tier); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s cache.\n", tier)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&tier, "tier", "all", "categories, index, relations, details or all")

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Refetch the bulk snapshot files and refresh live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.newClient().Reload(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reloaded.")
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.newClient().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("%w (is mhive-d running?)", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.Status)
			return nil
		},
	}

	adminCmd.AddCommand(clearCmd, reloadCmd, healthCmd)
	return adminCmd
}

func newMCPCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the exploration API to an MCP client over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcp.NewServer(opts.apiURL).Serve()
		},
	}
}
