package cmd

import (
	"context"

	"github.com/emrgen/omnistore/internal/jobs"
	"github.com/emrgen/omnistore/internal/ledger"
	"github.com/emrgen/omnistore/internal/server"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "run background tasks once",
}

func init() {
	jobsCmd.AddCommand(reconcileCmd())
	jobsCmd.AddCommand(auditCmd())
}

func reconcileCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "reconcile",
		Short: "recount reaction summaries from live reactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *server.App) error {
				return jobs.NewReconcileTask("", app.Store).Run(ctx)
			})
		},
	}

	return command
}

func auditCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "audit",
		Short: "repair roots whose versions break the ledger invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *server.App) error {
				ledgers, err := ledger.All(app.Engine.Registry())
				if err != nil {
					return err
				}
				return jobs.NewLedgerAuditTask("", app.Store, ledgers).Run(ctx)
			})
		},
	}

	return command
}
