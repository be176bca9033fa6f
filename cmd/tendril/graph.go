package main

import (
	"fmt"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/loader"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the flows as a Mermaid diagram",
	Long: `Outputs a Mermaid flowchart (graph TD) with one subgraph per flow.
With --process, the steps the process is currently inside are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		processID, _ := cmd.Flags().GetString("process")

		flows, err := loader.NewSource(cfg.FlowPaths...).LoadFlows(cmd.Context())
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if processID != "" {
			h, err := openHost(cmd)
			if err != nil {
				return err
			}
			defer h.Close()
			state, err := h.Engine.Inspect(cmd.Context(), processID)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFor(state)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flows, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("process", "", "Highlight the position of a stored process")
}
