package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <process-id> <event>",
	Short: "Deliver an event to a suspended process",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		jsonOut, _ := cmd.Flags().GetBool("json")

		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		state, err := h.Engine.Resume(cmd.Context(), args[0], args[1], parseValue(payload))
		if err != nil {
			return err
		}
		return report(cmd, state, jsonOut)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <process-id>",
	Short: "Cancel a process",
	Long:  `Unwinds every lane of the process. Error handlers run unless --non-catchable is set.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nonCatchable, _ := cmd.Flags().GetBool("non-catchable")

		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		state, err := h.Engine.Cancel(cmd.Context(), args[0], tendril.CancelOptions{NonCatchable: nonCatchable})
		if err != nil {
			return err
		}
		return report(cmd, state, false)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <process-id> <checkpoint>",
	Short: "Roll a process back to a checkpoint and continue it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		state, err := h.Engine.Restore(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return report(cmd, state, false)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <process-id>",
	Short: "Inspect the state of a process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		state, err := h.Engine.Inspect(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading process '%s': %w", args[0], err)
		}
		if jsonOut {
			return cli.PrintJSON(cmd.OutOrStdout(), state)
		}

		md := tui.Report(state)
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		width, _, _ := term.GetSize(int(os.Stdout.Fd()))
		out, err := tui.Render(md, width)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		ids, err := h.Engine.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing processes: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No processes found.")
			return nil
		}
		out := cmd.OutOrStdout()
		for _, id := range ids {
			state, err := h.Engine.Inspect(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(out, "- %s (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Fprintf(out, "- %s  %s  %s\n", id, state.Flow, tui.Status(out, state.Status))
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <process-id>...",
	Short: "Remove one or more processes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		failed := 0
		for _, id := range args {
			if err := h.Engine.Delete(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed process '%s'\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d removals failed", failed, len(args))
		}
		return nil
	},
}

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Resume every process whose timer is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		n, err := h.Engine.FireTimers(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fired %d timers\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd, cancelCmd, restoreCmd, inspectCmd, lsCmd, rmCmd, timersCmd)

	resumeCmd.Flags().String("payload", "", "Event payload (JSON, or a plain string)")
	resumeCmd.Flags().Bool("json", false, "Print the resulting state as JSON")
	cancelCmd.Flags().Bool("non-catchable", false, "Skip error handlers while unwinding")
	inspectCmd.Flags().Bool("json", false, "Print the raw state as JSON")
}
