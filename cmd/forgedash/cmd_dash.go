package main

import (
	"context"
	"fmt"

	"forgedash/internal/log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// newDashCmd creates the "forgedash dash" subcommand.
func newDashCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch the terminal dashboard",
		Long: "Opens the interactive dashboard over jobs, workers, workflows and the\n" +
			"dead letter queue. Logs go to $FORGEDASH_HOME/forgedash.log while it runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			restore, err := log.ToFile(cfg.LogPath())
			if err != nil {
				return err
			}
			defer restore()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			events, unsubscribe := subscribe(a.store)
			defer unsubscribe()
			a.start(ctx)

			p := tea.NewProgram(newModel(a.disp, events, cfg.Refresh.Std()), tea.WithAltScreen(), tea.WithContext(ctx))
			_, runErr := p.Run()
			cancel()
			a.close()
			if runErr != nil {
				return fmt.Errorf("run dashboard: %w", runErr)
			}
			return nil
		},
	}
}
