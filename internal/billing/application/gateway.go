package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

// SubscribeRequest describes a new service application.
type SubscribeRequest struct {
	Plan                domain.Plan
	PaymentMethod       string
	Proof               ProofOfPaymentSource // optional
	InstallationAddress string
}

type subscribeBody struct {
	PlanID              string          `json:"planId"`
	PlanName            string          `json:"planName"`
	Price               decimal.Decimal `json:"price"`
	PaymentMethod       string          `json:"paymentMethod"`
	ProofOfPayment      string          `json:"proofOfPayment,omitempty"`
	InstallationAddress string          `json:"installationAddress"`
}

type changePlanBody struct {
	PlanID   string          `json:"planId"`
	PlanName string          `json:"planName"`
	Price    decimal.Decimal `json:"price"`
}

// Gateway is the entry point for every subscription mutation. Each
// operation checks the current status, makes exactly one backend call and
// refreshes on success. A failed operation leaves the snapshot untouched.
type Gateway struct {
	session    AuthSession
	reconciler *Reconciler
	payments   *PaymentWorkflow
	logger     *slog.Logger
	metrics    observability.Metrics
}

// NewGateway wires the gateway to its collaborators.
func NewGateway(session AuthSession, reconciler *Reconciler, payments *PaymentWorkflow, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		session:    session,
		reconciler: reconciler,
		payments:   payments,
		logger:     logger,
		metrics:    observability.NoopMetrics{},
	}
}

// WithMetrics records operation counts and durations.
func (g *Gateway) WithMetrics(metrics observability.Metrics) *Gateway {
	g.metrics = metrics
	return g
}

// SubscribeToPlan applies for a plan.
func (g *Gateway) SubscribeToPlan(ctx context.Context, req SubscribeRequest) error {
	if err := g.guard(domain.ActionSubscribe); err != nil {
		return err
	}
	if req.Plan.ID == "" {
		return domain.NewValidationError("plan required")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return domain.NewValidationError("payment method required")
	}
	if strings.TrimSpace(req.InstallationAddress) == "" {
		return domain.NewValidationError("installation address required")
	}

	body := subscribeBody{
		PlanID:              req.Plan.ID,
		PlanName:            req.Plan.Name,
		Price:               req.Plan.Price,
		PaymentMethod:       req.PaymentMethod,
		InstallationAddress: req.InstallationAddress,
	}
	if req.Proof != nil {
		encoded, err := g.payments.EncodeProof(ctx, req.Proof)
		if err != nil {
			return err
		}
		body.ProofOfPayment = encoded
	}
	return g.perform(ctx, domain.ActionSubscribe, http.MethodPost, PathSubscribe, body)
}

// ChangePlan requests a switch to plan at the next approval.
func (g *Gateway) ChangePlan(ctx context.Context, plan domain.Plan) error {
	if err := g.guard(domain.ActionChangePlan); err != nil {
		return err
	}
	if plan.ID == "" {
		return domain.NewValidationError("plan required")
	}
	if current := g.reconciler.Current(); current.ActivePlan != nil && current.ActivePlan.ID == plan.ID {
		return domain.NewValidationError("You are already on this plan.")
	}
	body := changePlanBody{PlanID: plan.ID, PlanName: plan.Name, Price: plan.Price}
	return g.perform(ctx, domain.ActionChangePlan, http.MethodPost, PathChangePlan, body)
}

// CancelPlanChange withdraws a pending plan change.
func (g *Gateway) CancelPlanChange(ctx context.Context) error {
	if err := g.guard(domain.ActionCancelPlanChange); err != nil {
		return err
	}
	return g.perform(ctx, domain.ActionCancelPlanChange, http.MethodPost, PathCancelChange, struct{}{})
}

// CancelSubscription cancels the subscription, immediately or at the date
// the server sets.
func (g *Gateway) CancelSubscription(ctx context.Context) error {
	if err := g.guard(domain.ActionCancelSubscription); err != nil {
		return err
	}
	return g.perform(ctx, domain.ActionCancelSubscription, http.MethodPost, PathCancelSubscription, struct{}{})
}

// ReactivateSubscription revives a cancelled subscription.
func (g *Gateway) ReactivateSubscription(ctx context.Context) error {
	if err := g.guard(domain.ActionReactivate); err != nil {
		return err
	}
	return g.perform(ctx, domain.ActionReactivate, http.MethodPost, PathReactivate, struct{}{})
}

// ClearSubscription removes a declined or cancelled record so the user can
// apply again. The cache is purged and none is published without a refetch.
func (g *Gateway) ClearSubscription(ctx context.Context) error {
	if err := g.guard(domain.ActionClear); err != nil {
		return err
	}
	return g.run(ctx, domain.ActionClear, func() error {
		if _, err := g.session.AuthorizedRequest(ctx, http.MethodDelete, PathClearInactive, nil); err != nil {
			return errors.Wrapf(err, "%s", domain.ActionClear)
		}
		return g.reconciler.Reset(ctx)
	})
}

// PayBill delegates to the payment workflow.
func (g *Gateway) PayBill(ctx context.Context, billID string, source ProofOfPaymentSource) error {
	return g.payments.PayBill(ctx, billID, source)
}

// SubmitProof delegates to the payment workflow.
func (g *Gateway) SubmitProof(ctx context.Context, billID string, source ProofOfPaymentSource) error {
	return g.payments.SubmitProof(ctx, billID, source)
}

// AllowedActions lists the operations legal from the current status.
func (g *Gateway) AllowedActions() []domain.Action {
	return domain.AllowedActions(g.reconciler.Current().Status)
}

func (g *Gateway) guard(action domain.Action) error {
	status := g.reconciler.Current().Status
	if domain.CanPerform(status, action) {
		return nil
	}
	if status == "" {
		status = domain.StatusNone
	}
	return domain.NewValidationError(fmt.Sprintf("You can't %s while the subscription is %s.",
		action.Label(), strings.ReplaceAll(string(status), "_", " ")))
}

func (g *Gateway) perform(ctx context.Context, action domain.Action, method, path string, body any) error {
	return g.run(ctx, action, func() error {
		if _, err := g.session.AuthorizedRequest(ctx, method, path, body); err != nil {
			return errors.Wrapf(err, "%s", action)
		}
		_, err := g.reconciler.RefreshAfterMutation(ctx)
		return err
	})
}

func (g *Gateway) run(ctx context.Context, action domain.Action, fn func() error) error {
	logger := observability.LogOperation(g.logger, string(action))
	err := observability.TimeOperation(logger, g.metrics, string(action), fn)
	if err == nil {
		logger.InfoContext(ctx, "subscription action completed")
	}
	return err
}
