package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run [flow]",
	Short: "Start a process",
	Long: `Starts a process running the given flow (default "main").

On a terminal, forms are asked interactively and timers are waited out.
Otherwise the process is left suspended for 'tendril resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow := domain.DefaultFlow
		if len(args) > 0 {
			flow = args[0]
		}
		id, _ := cmd.Flags().GetString("id")
		rawArgs, _ := cmd.Flags().GetString("args")
		jsonOut, _ := cmd.Flags().GetBool("json")

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if cmd.Flags().Changed("interactive") {
			interactive, _ = cmd.Flags().GetBool("interactive")
		}

		input, err := parseObject(rawArgs)
		if err != nil {
			return fmt.Errorf("invalid --args: %w", err)
		}

		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		if interactive && !jsonOut {
			tui.PrintBanner(cmd.ErrOrStderr(), tendril.Version)
		}

		state, err := h.Engine.Start(sigCtx, id, flow, input)
		if err != nil {
			return err
		}
		if interactive {
			state, err = cli.Drive(sigCtx, h.Engine, state, cli.NewPrompter(os.Stdin, cmd.ErrOrStderr()), cmd.ErrOrStderr())
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, cli.ErrInputClosed) {
				return err
			}
		}
		return report(cmd, state, jsonOut)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("id", "", "Process ID (generated when empty)")
	runCmd.Flags().String("args", "", "Flow arguments as a JSON object")
	runCmd.Flags().Bool("interactive", false, "Answer forms and wait for timers in the terminal")
	runCmd.Flags().Bool("json", false, "Print the final state as JSON")
}

// parseObject decodes a JSON object flag. Empty input is no object.
func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("not valid JSON")
	}
	obj, ok := gjson.Parse(raw).Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return obj, nil
}

// parseValue decodes a JSON payload flag, falling back to the raw string.
func parseValue(raw string) any {
	if raw == "" {
		return nil
	}
	if gjson.Valid(raw) {
		return gjson.Parse(raw).Value()
	}
	return raw
}

func report(cmd *cobra.Command, state *domain.ProcessState, jsonOut bool) error {
	if jsonOut {
		return cli.PrintJSON(cmd.OutOrStdout(), state)
	}
	cli.Summarize(cmd.OutOrStdout(), state)
	for _, s := range state.Suspensions {
		fmt.Fprintf(cmd.OutOrStdout(), "  resume with: tendril resume %s %s\n", state.ID, s.Event)
	}
	return nil
}
