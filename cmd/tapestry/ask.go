package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tapestryhq/tapestry/pkg/rag"
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer a question over the knowledge graph",
	Long: `Build a retrieval context for the question (hybrid search, multi-hop
expansion, community grouping) and generate a grounded answer with
entity citations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		hops, _ := cmd.Flags().GetInt("hops")
		showContext, _ := cmd.Flags().GetBool("show-context")

		c := apiClient(cmd)
		answer, err := c.Answer(cmd.Context(), rag.AnswerRequest{Query: args[0]})
		if err != nil {
			return err
		}

		fmt.Println(answer.Text)
		if len(answer.Citations) > 0 {
			fmt.Println()
			fmt.Println("Cited entities:")
			for _, cit := range answer.Citations {
				fmt.Printf("  - %s (%s)\n", cit.Name, cit.EntityID)
			}
		}
		fmt.Printf("\nModel: %s  Took: %dms\n", answer.Model, answer.TookMS)

		if showContext {
			resp, err := c.BuildContext(cmd.Context(), rag.ContextRequest{
				Query:              args[0],
				TopK:               topK,
				MaxHops:            hops,
				IncludeCommunities: true,
			})
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println("Retrieval context:")
			for _, seed := range resp.Context.Seeds {
				fmt.Printf("  seed %.3f  %s (%s)\n", seed.Score, seed.Name, seed.EntityType)
			}
			if resp.Context.Graph != nil {
				fmt.Printf("  graph: %d node(s), %d edge(s)\n",
					len(resp.Context.Graph.Nodes), len(resp.Context.Graph.Edges))
			}
			for _, comm := range resp.Context.Communities {
				fmt.Printf("  community %s: %d member(s)\n", comm.ID, len(comm.Members))
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 10, "Seed entities to retrieve")
	askCmd.Flags().Int("hops", 3, "Graph expansion depth")
	askCmd.Flags().Bool("show-context", false, "Print the retrieval context after the answer")

	rootCmd.AddCommand(askCmd)
}
