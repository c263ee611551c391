package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Review entity observations",
}

var obsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observations awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		observations, err := apiClient(cmd).ListObservations(cmd.Context(), status, limit)
		if err != nil {
			return err
		}
		if len(observations) == 0 {
			fmt.Println("No observations found.")
			return nil
		}
		for _, o := range observations {
			fmt.Printf("%s  %-8s  %s (%s) from %s/%s\n",
				o.ID, o.Status, o.Entity.Text, o.Entity.Type, o.SourceType, o.SourceID)
			if o.CanonicalID != "" {
				fmt.Printf("    matched %s (score %.2f, %s)\n", o.CanonicalID, o.MatchScore, o.MatchedBy)
			}
		}
		return nil
	},
}

var obsApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Merge an observation into a canonical entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		canonical, _ := cmd.Flags().GetString("canonical")
		o, err := apiClient(cmd).ApproveObservation(cmd.Context(), args[0], canonical)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Observation merged into %s\n", o.CanonicalID)
		return nil
	},
}

var obsRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject an observation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := apiClient(cmd).RejectObservation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Observation %s rejected\n", args[0])
		return nil
	},
}

func init() {
	obsCmd.AddCommand(obsListCmd)
	obsCmd.AddCommand(obsApproveCmd)
	obsCmd.AddCommand(obsRejectCmd)

	obsListCmd.Flags().String("status", "", "Status filter (pending, matched, created, review, merged, rejected)")
	obsListCmd.Flags().Int("limit", 50, "Maximum observations returned")

	obsApproveCmd.Flags().String("canonical", "", "Canonical entity ID to merge into (defaults to the matched candidate)")

	rootCmd.AddCommand(obsCmd)
}
