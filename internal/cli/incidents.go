package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"genomicore/pkg/domain"
)

func newIncidentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List and resolve incidents",
	}
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List incidents, open ones only unless --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				incs, err := a.svc.Incidents().List(ctx, !all)
				if err != nil {
					return err
				}
				return printIncidents(cmd, incs)
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Include resolved incidents")

	var actor string
	resolve := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Mark an incident resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				inc, err := a.svc.Incidents().Resolve(ctx, args[0], actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "resolved %s (%s)\n", inc.ID, inc.Code)
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&actor, "actor", "cli", "Who resolved the incident")

	cmd.AddCommand(list, resolve)
	return cmd
}

func printIncidents(cmd *cobra.Command, incs []domain.Incident) error {
	if len(incs) == 0 {
		fmt.Fprintln(out(cmd), "no incidents")
		return nil
	}
	tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tSTATUS\tCREATED\tMESSAGE")
	for _, inc := range incs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inc.ID, inc.Code, inc.Status, inc.CreatedAt.UTC().Format(time.RFC3339), inc.Message)
	}
	return tw.Flush()
}

func newOverrideCmd(opts *rootOptions) *cobra.Command {
	var reason, actor string
	cmd := &cobra.Command{
		Use:   "override <member-id> <state>",
		Short: "Force a member into a state, recording the reason",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.svc.OperatorOverride(ctx, args[0], domain.GenomicState(args[1]), reason, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "%s -> %s\n", m.ID, m.State)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the member is overridden (required)")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Operator name for the audit log")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
