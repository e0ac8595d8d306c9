package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/search"
	"forgedash/pkg/stats"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// snapshotDoc is the JSON document printed by "forgedash snapshot".
type snapshotDoc struct {
	Seq       uint64              `json:"seq"`
	Summary   stats.Summary       `json:"summary"`
	Jobs      []protocol.Job      `json:"jobs,omitempty"`
	Workers   []protocol.Worker   `json:"workers,omitempty"`
	Workflows []protocol.Workflow `json:"workflows,omitempty"`
	DLQ       []protocol.DLQEntry `json:"dlq,omitempty"`
}

// newSnapshotCmd creates the "forgedash snapshot" subcommand.
func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	var (
		summaryOnly bool
		filter      string
		feedWait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current state as JSON",
		Long: "Loads the seed and roster, optionally follows the backend feed for a while,\n" +
			"then prints the summary and entity lists. Output is indented on a terminal.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if feedWait == 0 {
				cfg.Backend.FeedURL = ""
			}
			cfg.Roster.Watch = false

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			if feedWait > 0 {
				a.start(ctx)
				select {
				case <-time.After(feedWait):
				case <-ctx.Done():
				}
			}
			cancel()
			a.close()

			ev := a.store.Latest()
			doc := snapshotDoc{Seq: ev.Seq, Summary: stats.Compute(ev.Snapshot)}
			if !summaryOnly {
				q := search.Parse(filter)
				doc.Jobs = search.Jobs(ev.Snapshot.Jobs, q)
				doc.Workers = search.Workers(ev.Snapshot.Workers, q)
				doc.Workflows = search.Workflows(ev.Snapshot.Workflows, q)
				doc.DLQ = search.DLQ(ev.Snapshot.DLQ, q)
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print only the summary")
	cmd.Flags().StringVar(&filter, "filter", "", "search query applied to the lists (supports s:, k:, p:)")
	cmd.Flags().DurationVar(&feedWait, "feed-wait", 0, "follow the backend feed for this long before printing")
	return cmd
}

// writeJSON indents when w is a terminal.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
