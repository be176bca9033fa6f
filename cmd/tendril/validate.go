package main

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/loader"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the flows for errors",
	Long:  `Loads and compiles every flow, reporting malformed steps and calls to unknown flows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := runValidate(cmd.Context(), cfg.FlowPaths)
		if err != nil {
			return fmt.Errorf("validation failed:\n%w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d flows are valid! ✅\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(ctx context.Context, paths []string) (int, error) {
	flows, err := loader.NewSource(paths...).LoadFlows(ctx)
	if err != nil {
		return 0, err
	}
	if err := tendril.Validate(flows); err != nil {
		return 0, err
	}
	return len(flows), nil
}
