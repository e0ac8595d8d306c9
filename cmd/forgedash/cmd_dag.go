package main

import (
	"context"
	"fmt"
	"time"

	"forgedash/pkg/dag"

	"github.com/spf13/cobra"
)

// newDagCmd creates the "forgedash dag" command group.
func newDagCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Validate or submit workflow definitions",
	}
	cmd.AddCommand(newDagValidateCmd(), newDagSubmitCmd(flags))
	return cmd
}

func newDagValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow definition and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := dag.Load(args[0])
			if err != nil {
				return err
			}
			order, err := dag.Validate(def)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid: %d steps\n", len(order))
			for i, id := range order {
				fmt.Fprintf(out, "%3d. %s\n", i+1, id)
			}
			return nil
		},
	}
}

func newDagSubmitCmd(flags *globalFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a workflow definition to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := dag.Load(args[0])
			if err != nil {
				return err
			}
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Backend.URL == "" {
				return fmt.Errorf("no backend configured: set --backend-url or FORGEDASH_BACKEND_URL")
			}
			cfg.Backend.FeedURL = ""
			cfg.Roster.Watch = false

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			id, sub, err := a.disp.CreateWorkflow(cmd.Context(), def)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "submitted %s\n", id)

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			final, err := sub.Wait(ctx)
			if err != nil {
				return fmt.Errorf("workflow %s: %w", id, err)
			}
			fmt.Fprintf(out, "accepted as %s\n", final)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the backend")
	return cmd
}
