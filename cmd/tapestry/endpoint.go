package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tapestryhq/tapestry/pkg/types"
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage source endpoints",
}

var endpointCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a source endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		verb, _ := cmd.Flags().GetString("driver")
		project, _ := cmd.Flags().GetString("project")
		domain, _ := cmd.Flags().GetString("domain")
		labels, _ := cmd.Flags().GetStringSlice("label")

		ep, err := apiClient(cmd).CreateEndpoint(cmd.Context(), &types.Endpoint{
			Name:      args[0],
			Verb:      verb,
			URL:       url,
			ProjectID: project,
			Domain:    domain,
			Labels:    labels,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Endpoint created\n")
		fmt.Printf("  ID:     %s\n", ep.ID)
		fmt.Printf("  Source: %s\n", ep.SourceID)
		fmt.Printf("  Driver: %s\n", ep.Verb)
		return nil
	},
}

var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		search, _ := cmd.Flags().GetString("search")
		first, _ := cmd.Flags().GetInt("first")

		endpoints, err := apiClient(cmd).ListEndpoints(cmd.Context(), project, search, first)
		if err != nil {
			return err
		}
		if len(endpoints) == 0 {
			fmt.Println("No endpoints found.")
			return nil
		}
		for _, ep := range endpoints {
			fmt.Printf("%s  %s  %s  %s\n", ep.ID, ep.Name, ep.Verb, ep.URL)
		}
		return nil
	},
}

var endpointGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := apiClient(cmd).GetEndpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", ep.ID)
		fmt.Printf("Name:     %s\n", ep.Name)
		fmt.Printf("Driver:   %s\n", ep.Verb)
		fmt.Printf("URL:      %s\n", ep.URL)
		if ep.ProjectID != "" {
			fmt.Printf("Project:  %s\n", ep.ProjectID)
		}
		if ep.Version != "" {
			fmt.Printf("Version:  %s\n", ep.Version)
		}
		if len(ep.Capabilities) > 0 {
			fmt.Printf("Caps:     %s\n", strings.Join(ep.Capabilities, ", "))
		}
		fmt.Printf("Created:  %s\n", ep.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var endpointDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Soft-delete an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if err := apiClient(cmd).DeleteEndpoint(cmd.Context(), args[0], reason); err != nil {
			return err
		}
		fmt.Printf("✓ Endpoint %s deleted\n", args[0])
		return nil
	},
}

var endpointDiscoverCmd = &cobra.Command{
	Use:   "discover ID",
	Short: "Probe an endpoint and list its ingestion units",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		units, err := apiClient(cmd).Discover(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Discovered %d unit(s)\n", len(units))
		for _, u := range units {
			fmt.Printf("  %s  %s  mode=%s\n", u.ID, u.Name, u.DefaultMode)
		}
		return nil
	},
}

func init() {
	endpointCmd.AddCommand(endpointCreateCmd)
	endpointCmd.AddCommand(endpointListCmd)
	endpointCmd.AddCommand(endpointGetCmd)
	endpointCmd.AddCommand(endpointDeleteCmd)
	endpointCmd.AddCommand(endpointDiscoverCmd)

	endpointCreateCmd.Flags().String("url", "", "Base URL of the source API")
	endpointCreateCmd.Flags().String("driver", "http", "Driver ID (http, replay)")
	endpointCreateCmd.Flags().String("project", "", "Project the endpoint belongs to")
	endpointCreateCmd.Flags().String("domain", "", "Business domain tag")
	endpointCreateCmd.Flags().StringSlice("label", nil, "Label (repeatable)")
	_ = endpointCreateCmd.MarkFlagRequired("url")

	endpointListCmd.Flags().String("project", "", "Filter by project")
	endpointListCmd.Flags().String("search", "", "Substring match on name")
	endpointListCmd.Flags().Int("first", 0, "Cap the number of results")

	endpointDeleteCmd.Flags().String("reason", "", "Audit reason for the deletion")

	rootCmd.AddCommand(endpointCmd)
}
