package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/mhive/pkg/client"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	apiURL     string
	sessionID  string
	adminToken string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "mhive",
		Short:         "Explore the mhive incident knowledge graph",
		Long:          "mhive talks to a running mhive-d and maintains snapshot files on disk.",
		Version:       fmt.Sprintf("%s (%s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", envOrDefault("MHIVE_API", "http://127.0.0.1:8090"), "Base URL of mhive-d API")
	flags.StringVar(&opts.sessionID, "session", os.Getenv("MHIVE_SESSION"), "exploration session id to resume")
	flags.StringVar(&opts.adminToken, "admin-token", os.Getenv("MHIVE_ADMIN_TOKEN"), "bearer token for admin commands")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		newStateCmd(opts),
		newSelectCmd(opts),
		newFilterCmd(opts),
		newResetCmd(opts),
		newBreadcrumbCmd(opts),
		newGraphCmd(opts),
		newSearchCmd(opts),
		newCategoriesCmd(opts),
		newEntityCmd(opts),
		newNeighborhoodCmd(opts),
		newAdminCmd(opts),
		newRelateCmd(),
		newMCPCmd(opts),
	)
	return rootCmd
}

// newClient builds an API client resuming the configured session.
func (o *cliOptions) newClient() *client.Client {
	c := client.NewClient(o.apiURL)
	if o.sessionID != "" {
		c.SetSession(o.sessionID)
	}
	if o.adminToken != "" {
		c.SetAdminToken(o.adminToken)
	}
	return c
}

// announceSession tells the user which session a fresh run was given, so
// the next command can resume it.
func (o *cliOptions) announceSession(cmd *cobra.Command, c *client.Client) {
	if o.sessionID == "" && c.Session() != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s (pass --session or set MHIVE_SESSION to resume)\n", c.Session())
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
