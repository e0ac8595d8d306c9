package main

import (
	"fmt"

	"forgedash/internal/appversion"
	"forgedash/internal/config"
	"forgedash/internal/log"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags every subcommand may override
// configuration with.
type globalFlags struct {
	configPath string
	logLevel   string
	backendURL string
	feedURL    string
	roster     string
	rosterDB   string
	seed       string
}

// newRootCmd creates the root forgedash command with all subcommands attached.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "forgedash",
		Short: "Operations dashboard for a job-processing system",
		Long: "forgedash tracks jobs, workers, workflows and the dead letter queue of an\n" +
			"external job-processing system, and lets an operator drive jobs through\n" +
			"their lifecycle from a terminal dashboard or a JSON API.",
		Version:       fmt.Sprintf("forgedash %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $FORGEDASH_HOME/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.backendURL, "backend-url", "", "backend base URL for workflow submission")
	pf.StringVar(&flags.feedURL, "feed-url", "", "backend websocket notification feed")
	pf.StringVar(&flags.roster, "roster", "", "worker roster file (yaml, toml or json)")
	pf.StringVar(&flags.rosterDB, "roster-db", "", "SQLite database holding the workers table")
	pf.StringVar(&flags.seed, "seed", "", "initial jobs, workflows and DLQ entries to load")

	cmd.AddCommand(
		newDashCmd(flags),
		newServeCmd(flags),
		newSnapshotCmd(flags),
		newDagCmd(flags),
	)
	return cmd
}

// load resolves configuration and applies the flags the user set
// explicitly on top of it.
func (f *globalFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigPath: f.configPath})
	if err != nil {
		return config.Config{}, err
	}

	set := cmd.Flags().Changed
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("backend-url") {
		cfg.Backend.URL = f.backendURL
	}
	if set("feed-url") {
		cfg.Backend.FeedURL = f.feedURL
	}
	if set("roster") {
		cfg.Roster.Path = f.roster
	}
	if set("roster-db") {
		cfg.Roster.DBPath = f.rosterDB
	}
	if set("seed") {
		cfg.SeedPath = f.seed
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
