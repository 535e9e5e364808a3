package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/creact-labs/creact-sub004/internal/config"
	"github.com/creact-labs/creact-sub004/internal/logging"
)

var (
	version = "0.1.0-preview"
	commit  = "dev"
	date    = "unknown"
)

var (
	cfgPath   string
	stackFlag string

	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "creact",
		Short: "creact - declarative, reactive infrastructure",
		Long: `creact renders a declarative component tree into cloud resources,
deploys them in dependency order through a pluggable provider, persists
state for crash recovery, and reacts to asynchronous output changes by
re-rendering and applying incrementally.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if stackFlag != "" {
				cfg.Stack.Name = stackFlag
			}
			log, closeLog = logging.New(logging.Options{
				Level: cfg.Log.Level,
				File:  cfg.Log.File,
			})
			slog.SetDefault(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				_ = closeLog()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to creact.yaml")
	rootCmd.PersistentFlags().StringVarP(&stackFlag, "stack", "s", "", "stack name (overrides config)")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newInitCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
