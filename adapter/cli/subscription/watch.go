package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

var refreshEvery time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow bill phases as time passes",
	Long: `Print bills whenever a bill moves to another phase, for example from
due into its grace period. With --refresh the subscription is also fetched
from the server on that interval. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if app.Ticker == nil {
			return fmt.Errorf("phase ticker not configured")
		}
		ctx := cmd.Context()
		if _, err := ensureLoaded(ctx, app); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		unsubscribe := app.Reconciler.Subscribe(func(snap domain.Snapshot) {
			fmt.Fprintf(out, "%s  subscription: %s\n", app.Clock.Now().Format(time.Kitchen), statusLabel(snap.Status))
		})
		defer unsubscribe()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return app.Ticker.Run(ctx, func(views []domain.BillView) {
				fmt.Fprintf(out, "%s  bills:\n", app.Clock.Now().Format(time.Kitchen))
				if len(views) == 0 {
					fmt.Fprintln(out, "  (none)")
					return
				}
				printBills(out, views)
			})
		})
		if refreshEvery > 0 {
			g.Go(func() error {
				ticker := time.NewTicker(refreshEvery)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-ticker.C:
						if _, err := app.Reconciler.Refresh(ctx); err != nil {
							fmt.Fprintf(out, "refresh failed: %s\n", cli.FormatError(err))
						}
					}
				}
			})
		}

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&refreshEvery, "refresh", 0, "also refresh from the server on this interval (e.g. 5m)")
}
