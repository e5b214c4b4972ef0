package subscription

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

const dateLayout = "January 2, 2006"

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subscription status",
	Long: `Display the current subscription including:
- Status and active plan
- Renewal and cancellation dates
- Bills with their current phase
- Actions available in the current status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		res, err := ensureLoaded(cmd.Context(), app)
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), app, res)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the latest subscription from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		res, err := app.Reconciler.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), app, res)
		return nil
	},
}

func printStatus(w io.Writer, app *cli.App, res billingApp.RefreshResult) {
	snap := res.Snapshot
	now := app.Clock.Now()

	if res.Stale || res.Offline {
		fmt.Fprintln(w, staleNotice(res))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Subscription: %s\n", statusLabel(snap.Status))
	if snap.IsNone() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "To apply for a plan:")
		fmt.Fprintln(w, "  billcycle subscription subscribe --plan-id <id> --plan-name <name> --price <amount> --method <method> --address <address>")
		return
	}

	if snap.ActivePlan != nil {
		fmt.Fprintf(w, "Plan: %s\n", planLabel(snap.ActivePlan))
	}
	if !snap.StartDate.IsZero() {
		fmt.Fprintf(w, "Started: %s\n", snap.StartDate.Format(dateLayout))
	}
	if !snap.RenewalDate.IsZero() && snap.Status.HasServicePlan() {
		fmt.Fprintf(w, "Renews: %s\n", snap.RenewalDate.Format(dateLayout))
	}
	if snap.ScheduledPlanChange != nil {
		fmt.Fprintf(w, "Plan change requested: %s\n", planLabel(snap.ScheduledPlanChange))
	}
	if snap.CancellationEffectiveDate != nil {
		fmt.Fprintf(w, "Service ends: %s\n", snap.CancellationEffectiveDate.Format(dateLayout))
	}
	if reason := snap.VisibleDeclineReason(); reason != "" {
		fmt.Fprintf(w, "Decline reason: %s\n", reason)
	}

	views := domain.BillViews(snap, now)
	if len(views) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Bills (%d):\n", len(views))
		printBills(w, views)
	}

	if actions := domain.AllowedActions(snap.Status); len(actions) > 0 {
		labels := make([]string, 0, len(actions))
		for _, action := range actions {
			labels = append(labels, action.Label())
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "You can: %s\n", strings.Join(labels, ", "))
	}
}

func printBills(w io.Writer, views []domain.BillView) {
	for _, view := range views {
		bill := view.Bill
		fmt.Fprintf(w, "  %-12s %-20s %10s  due %s  [%s]\n",
			bill.ID,
			bill.PlanName,
			bill.FormattedAmount(),
			bill.DueDate.Format(dateLayout),
			phaseLabel(view.Phase),
		)
		if bill.ReceiptNumber != "" {
			fmt.Fprintf(w, "  %-12s receipt %s\n", "", bill.ReceiptNumber)
		}
	}
}

func staleNotice(res billingApp.RefreshResult) string {
	if !res.Stale {
		return "Offline. The billing server could not be reached."
	}
	when := "an earlier session"
	if !res.FetchedAt.IsZero() {
		when = res.FetchedAt.Local().Format(time.RFC1123)
	}
	if res.Offline {
		return fmt.Sprintf("Offline. Showing subscription saved %s.", when)
	}
	return fmt.Sprintf("Could not refresh. Showing subscription saved %s.", when)
}

func statusLabel(status domain.SubscriptionStatus) string {
	switch status {
	case domain.StatusNone, "":
		return "None"
	case domain.StatusPendingInstallation:
		return "Pending installation"
	case domain.StatusPendingVerification:
		return "Pending verification"
	case domain.StatusActive:
		return "Active"
	case domain.StatusPendingChange:
		return "Active (plan change pending approval)"
	case domain.StatusDeclined:
		return "Declined"
	case domain.StatusSuspended:
		return "Suspended"
	case domain.StatusCancelled:
		return "Cancelled"
	default:
		return string(status)
	}
}

func phaseLabel(phase domain.BillPhase) string {
	switch phase {
	case domain.PhaseGracePeriod:
		return "grace period"
	case domain.PhasePendingVerification:
		return "pending verification"
	default:
		return string(phase)
	}
}

func planLabel(plan *domain.Plan) string {
	if plan.Price.IsZero() {
		return plan.Name
	}
	return fmt.Sprintf("%s (%s)", plan.Name, plan.Price.StringFixed(2))
}
