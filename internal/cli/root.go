// Package cli provides the genomicore command-line interface.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"genomicore/internal/config"
)

type rootOptions struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "genomicore",
		Short:         "Genomic sample pipeline orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "Configuration file path (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newRunCmd(opts),
		newJobsCmd(opts),
		newIncidentsCmd(opts),
		newOverrideCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// withApp loads configuration, builds the app, and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeErr := a.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
