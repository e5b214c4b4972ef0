package subscription

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
)

// Cmd is the subscription command group.
var Cmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage your subscription and bills",
	Long:    `Show subscription status, pay bills and manage your plan.`,
}

func init() {
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(refreshCmd)
	Cmd.AddCommand(watchCmd)
	Cmd.AddCommand(subscribeCmd)
	Cmd.AddCommand(changePlanCmd)
	Cmd.AddCommand(cancelChangeCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(reactivateCmd)
	Cmd.AddCommand(clearCmd)
	Cmd.AddCommand(payCmd)
	Cmd.AddCommand(submitProofCmd)
	Cmd.AddCommand(signOutCmd)
}

func requireApp() (*cli.App, error) {
	app := cli.GetApp()
	if app == nil || app.Reconciler == nil || app.Gateway == nil {
		return nil, fmt.Errorf("subscription commands require a configured billing backend")
	}
	return app, nil
}

// ensureLoaded fetches the snapshot once per process so that status guards
// see the server's view rather than the empty initial state.
func ensureLoaded(ctx context.Context, app *cli.App) (billingApp.RefreshResult, error) {
	if !app.Reconciler.IsLoading() {
		return app.Reconciler.Last(), nil
	}
	return app.Reconciler.Refresh(ctx)
}
