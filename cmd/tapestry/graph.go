package main

import (
	"fmt"

	"github.com/spf13/cobra"
	searchpkg "github.com/tapestryhq/tapestry/pkg/search"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the knowledge graph",
}

var graphNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List graph nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		entityTypes, _ := cmd.Flags().GetStringSlice("type")
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		nodes, err := apiClient(cmd).ListNodes(cmd.Context(), entityTypes, project, limit)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes found.")
			return nil
		}
		for _, n := range nodes {
			fmt.Printf("%s  %-12s  %s\n", n.ID, n.EntityType, n.DisplayName)
		}
		return nil
	},
}

var graphEdgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "List graph edges",
	RunE: func(cmd *cobra.Command, args []string) error {
		edgeType, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		edges, err := apiClient(cmd).ListEdges(cmd.Context(), edgeType, source, limit)
		if err != nil {
			return err
		}
		if len(edges) == 0 {
			fmt.Println("No edges found.")
			return nil
		}
		for _, e := range edges {
			fmt.Printf("%s  %s -[%s]-> %s\n", e.ID, e.SourceNodeID, e.EdgeType, e.TargetNodeID)
		}
		return nil
	},
}

var graphSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Hybrid search over the graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		kinds, _ := cmd.Flags().GetStringSlice("kind")

		results, err := apiClient(cmd).Search(cmd.Context(), searchpkg.Request{
			Query:       args[0],
			TopK:        topK,
			EntityKinds: kinds,
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.3f  %-12s  %s  (%s)\n", r.Score, r.Node.EntityType, r.Node.DisplayName, r.Node.ID)
		}
		return nil
	},
}

func init() {
	graphCmd.AddCommand(graphNodesCmd)
	graphCmd.AddCommand(graphEdgesCmd)
	graphCmd.AddCommand(graphSearchCmd)

	graphNodesCmd.Flags().StringSlice("type", nil, "Entity type filter (repeatable)")
	graphNodesCmd.Flags().String("project", "", "Project filter")
	graphNodesCmd.Flags().Int("limit", 50, "Maximum nodes returned")

	graphEdgesCmd.Flags().String("type", "", "Edge type filter")
	graphEdgesCmd.Flags().String("source", "", "Source node ID filter")
	graphEdgesCmd.Flags().Int("limit", 50, "Maximum edges returned")

	graphSearchCmd.Flags().Int("top-k", 10, "Maximum results")
	graphSearchCmd.Flags().StringSlice("kind", nil, "Entity kind filter (repeatable)")

	rootCmd.AddCommand(graphCmd)
}
