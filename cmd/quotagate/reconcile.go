package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/reconcile"
)

var reconcileOnce bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report top-ups still waiting for a MoMo callback",
	Long: `Lists PENDING top-ups older than the configured stale-after age.
With --once it prints a single report and exits; otherwise it runs on the
configured schedule until interrupted. Rows are never modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openLedger(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		reconciler := newReconciler(cfg, store, observability.NewNopMetrics())
		if reconcileOnce {
			report, err := reconciler.RunOnce(ctx)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		}

		if err := reconciler.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return reconciler.Stop(stopCtx)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "run a single pass and print the report")
}

func printReport(w io.Writer, report *reconcile.Report) {
	if len(report.Stale) == 0 {
		fmt.Fprintln(w, "No stale top-ups")
		return
	}
	fmt.Fprintf(w, "%d stale top-ups, %d VND pending, oldest %s\n",
		len(report.Stale), int64(report.Amount), report.Oldest.Round(time.Second))
	for _, txn := range report.Stale {
		fmt.Fprintf(w, "  #%d user=%d request=%s amount=%d created=%s\n",
			txn.ID, txn.UserID, txn.ProviderRequestID, int64(txn.Amount), txn.CreatedAt.UTC().Format(time.RFC3339))
	}
}
