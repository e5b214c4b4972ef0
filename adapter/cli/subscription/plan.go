package subscription

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

var (
	planID        string
	planName      string
	planPrice     string
	paymentMethod string
	address       string
	proofPath     string
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Apply for a service plan",
	Long: `Apply for a service plan. Allowed when you have no subscription or
your previous one was declined or cancelled.

Examples:
  billcycle subscription subscribe --plan-id fiber-100 --plan-name "Fiber 100" \
    --price 1499 --method gcash --address "12 Mabini St" --proof receipt.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		plan, err := planFromFlags()
		if err != nil {
			return err
		}
		if _, err := ensureLoaded(cmd.Context(), app); err != nil {
			return err
		}

		req := billingApp.SubscribeRequest{
			Plan:                plan,
			PaymentMethod:       paymentMethod,
			InstallationAddress: address,
		}
		if proofPath != "" {
			req.Proof = proofFile(app, proofPath)
		}
		if err := app.Gateway.SubscribeToPlan(cmd.Context(), req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied for %s. Your application is being reviewed.\n", plan.Name)
		return nil
	},
}

var changePlanCmd = &cobra.Command{
	Use:   "change-plan",
	Short: "Request a switch to another plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		plan, err := planFromFlags()
		if err != nil {
			return err
		}
		if _, err := ensureLoaded(cmd.Context(), app); err != nil {
			return err
		}
		if err := app.Gateway.ChangePlan(cmd.Context(), plan); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Requested a change to %s.\n", plan.Name)
		return nil
	},
}

var cancelChangeCmd = &cobra.Command{
	Use:   "cancel-change",
	Short: "Withdraw a pending plan change",
	RunE: simpleAction("Plan change withdrawn.", func(g *billingApp.Gateway) actionFunc {
		return g.CancelPlanChange
	}),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the subscription",
	RunE: simpleAction("Subscription cancelled.", func(g *billingApp.Gateway) actionFunc {
		return g.CancelSubscription
	}),
}

var reactivateCmd = &cobra.Command{
	Use:   "reactivate",
	Short: "Reactivate a cancelled subscription",
	RunE: simpleAction("Subscription reactivated.", func(g *billingApp.Gateway) actionFunc {
		return g.ReactivateSubscription
	}),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove a declined or cancelled subscription record",
	RunE: simpleAction("Subscription record cleared.", func(g *billingApp.Gateway) actionFunc {
		return g.ClearSubscription
	}),
}

var signOutCmd = &cobra.Command{
	Use:   "sign-out",
	Short: "Forget the cached subscription on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if err := app.Reconciler.SignOut(cmd.Context()); err != nil {
			return err
		}
		if app.SignOut != nil {
			app.SignOut()
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{subscribeCmd, changePlanCmd} {
		cmd.Flags().StringVar(&planID, "plan-id", "", "plan identifier")
		cmd.Flags().StringVar(&planName, "plan-name", "", "plan display name")
		cmd.Flags().StringVar(&planPrice, "price", "", "monthly price")
	}
	subscribeCmd.Flags().StringVar(&paymentMethod, "method", "", "payment method")
	subscribeCmd.Flags().StringVar(&address, "address", "", "installation address")
	subscribeCmd.Flags().StringVar(&proofPath, "proof", "", "proof of payment image")
}

type actionFunc func(ctx context.Context) error

func simpleAction(done string, pick func(*billingApp.Gateway) actionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if _, err := ensureLoaded(cmd.Context(), app); err != nil {
			return err
		}
		if err := pick(app.Gateway)(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), done)
		return nil
	}
}

func planFromFlags() (domain.Plan, error) {
	plan := domain.Plan{ID: planID, Name: planName}
	if plan.Name == "" {
		plan.Name = plan.ID
	}
	if planPrice != "" {
		price, err := decimal.NewFromString(planPrice)
		if err != nil {
			return domain.Plan{}, fmt.Errorf("invalid price %q: %w", planPrice, err)
		}
		if price.IsNegative() {
			return domain.Plan{}, fmt.Errorf("price must not be negative")
		}
		plan.Price = price
	}
	return plan, nil
}
