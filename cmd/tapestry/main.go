package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tapestryhq/tapestry/pkg/client"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errdefs.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "tapestry",
	Short: "Tapestry - metadata ingestion and GraphRAG platform",
	Long: `Tapestry ingests metadata from HTTP endpoints into a tenant-scoped
knowledge graph and answers questions over it with graph-aware
retrieval (hybrid search, multi-hop expansion, community grouping).

Run "tapestry serve" to start the platform; every other command talks
to a running server over its HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tapestry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", envOr("TAPESTRY_SERVER", "http://127.0.0.1:7420"), "Server base URL")
	rootCmd.PersistentFlags().String("tenant", envOr("TAPESTRY_TENANT", "default"), "Tenant ID sent with every request")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds a client from the global --server/--tenant flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	tenant, _ := cmd.Flags().GetString("tenant")
	return client.New(server, tenant)
}
