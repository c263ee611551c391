package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tapestryhq/tapestry/pkg/types"
)

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Manage ingestion units",
}

var unitListCmd = &cobra.Command{
	Use:   "list ENDPOINT",
	Short: "List an endpoint's units with config and run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		units, err := apiClient(cmd).ListUnits(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Println("No units. Run discover first.")
			return nil
		}
		for _, u := range units {
			enabled := "disabled"
			if u.Config != nil && u.Config.Enabled {
				enabled = "enabled"
			}
			state := "-"
			if u.Status != nil && u.Status.State != "" {
				state = string(u.Status.State)
			}
			fmt.Printf("%s  %s  %s  state=%s\n", u.Unit.ID, u.Unit.Name, enabled, state)
			if u.Status != nil && u.Status.LastError != "" {
				fmt.Printf("    last error: %s\n", u.Status.LastError)
			}
		}
		return nil
	},
}

var unitEnableCmd = &cobra.Command{
	Use:   "enable ENDPOINT UNIT",
	Short: "Enable a unit and set its schedule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		sinkID, _ := cmd.Flags().GetString("sink")
		interval, _ := cmd.Flags().GetInt("interval")
		filter, _ := cmd.Flags().GetString("filter")

		cfg := &types.UnitConfig{
			EndpointID:   args[0],
			UnitID:       args[1],
			Enabled:      true,
			RunMode:      types.RunMode(mode),
			Mode:         types.SinkModeRaw,
			SinkID:       sinkID,
			ScheduleKind: types.ScheduleManual,
			Filter:       filter,
		}
		if interval > 0 {
			cfg.ScheduleKind = types.ScheduleInterval
			cfg.IntervalMinutes = interval
		}
		if err := apiClient(cmd).Configure(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("✓ Unit %s/%s enabled (%s)\n", args[0], args[1], cfg.ScheduleKind)
		return nil
	},
}

var unitDisableCmd = &cobra.Command{
	Use:   "disable ENDPOINT UNIT",
	Short: "Disable a unit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &types.UnitConfig{
			EndpointID:   args[0],
			UnitID:       args[1],
			Enabled:      false,
			RunMode:      types.RunModeIncremental,
			Mode:         types.SinkModeRaw,
			ScheduleKind: types.ScheduleManual,
		}
		if err := apiClient(cmd).Configure(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("✓ Unit %s/%s disabled\n", args[0], args[1])
		return nil
	},
}

var unitStartCmd = &cobra.Command{
	Use:   "start ENDPOINT UNIT",
	Short: "Start a run now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient(cmd).StartRun(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Run %s started (state %s)\n", res.RunID, res.State)
		return nil
	},
}

var unitPauseCmd = &cobra.Command{
	Use:   "pause ENDPOINT UNIT",
	Short: "Pause the unit's active run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient(cmd).PauseRun(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Paused (state %s)\n", res.State)
		return nil
	},
}

var unitResetCmd = &cobra.Command{
	Use:   "reset-checkpoint ENDPOINT UNIT",
	Short: "Drop the unit's cursor so the next run starts from scratch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := apiClient(cmd).ResetCheckpoint(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Checkpoint reset for %s/%s\n", args[0], args[1])
		return nil
	},
}

var unitLagCmd = &cobra.Command{
	Use:   "lag ENDPOINT UNIT",
	Short: "Estimate records pending upstream",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lag, err := apiClient(cmd).EstimateLag(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if lag == nil {
			fmt.Println("Lag unknown (driver does not report totals).")
			return nil
		}
		fmt.Printf("Estimated lag: %.0f record(s)\n", *lag)
		return nil
	},
}

func init() {
	unitCmd.AddCommand(unitListCmd)
	unitCmd.AddCommand(unitEnableCmd)
	unitCmd.AddCommand(unitDisableCmd)
	unitCmd.AddCommand(unitStartCmd)
	unitCmd.AddCommand(unitPauseCmd)
	unitCmd.AddCommand(unitResetCmd)
	unitCmd.AddCommand(unitLagCmd)

	unitEnableCmd.Flags().String("mode", string(types.RunModeIncremental), "Run mode (FULL, INCREMENTAL)")
	unitEnableCmd.Flags().String("sink", "graph", "Sink ID (graph, blob)")
	unitEnableCmd.Flags().Int("interval", 0, "Interval minutes; 0 means manual runs only")
	unitEnableCmd.Flags().String("filter", "", "CEL expression over record fields")

	rootCmd.AddCommand(unitCmd)
}
