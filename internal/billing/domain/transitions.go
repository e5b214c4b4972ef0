package domain

// Action is a mutating operation a subscriber can request.
type Action string

const (
	ActionSubscribe          Action = "subscribe"
	ActionChangePlan         Action = "change_plan"
	ActionCancelPlanChange   Action = "cancel_plan_change"
	ActionCancelSubscription Action = "cancel_subscription"
	ActionReactivate         Action = "reactivate_subscription"
	ActionClear              Action = "clear_subscription"
)

// actionOrder fixes the order AllowedActions reports in.
var actionOrder = []Action{
	ActionSubscribe,
	ActionChangePlan,
	ActionCancelPlanChange,
	ActionCancelSubscription,
	ActionReactivate,
	ActionClear,
}

// legalFrom lists the statuses each action may be requested from. The
// server re-validates every request; this table only spares a round trip.
var legalFrom = map[Action][]SubscriptionStatus{
	ActionSubscribe:          {StatusNone, StatusDeclined, StatusCancelled},
	ActionChangePlan:         {StatusActive},
	ActionCancelPlanChange:   {StatusPendingChange},
	ActionCancelSubscription: {StatusActive, StatusSuspended, StatusPendingInstallation, StatusPendingVerification},
	ActionReactivate:         {StatusCancelled},
	ActionClear:              {StatusDeclined, StatusCancelled},
}

// CanPerform reports whether action may be requested while in status.
func CanPerform(status SubscriptionStatus, action Action) bool {
	if status == "" {
		status = StatusNone
	}
	for _, s := range legalFrom[action] {
		if s == status {
			return true
		}
	}
	return false
}

// AllowedActions returns the actions available from status.
func AllowedActions(status SubscriptionStatus) []Action {
	actions := make([]Action, 0, len(actionOrder))
	for _, action := range actionOrder {
		if CanPerform(status, action) {
			actions = append(actions, action)
		}
	}
	return actions
}

// Label is a short human description of the action.
func (a Action) Label() string {
	switch a {
	case ActionSubscribe:
		return "subscribe to a plan"
	case ActionChangePlan:
		return "change plan"
	case ActionCancelPlanChange:
		return "cancel the pending plan change"
	case ActionCancelSubscription:
		return "cancel the subscription"
	case ActionReactivate:
		return "reactivate the subscription"
	case ActionClear:
		return "clear the subscription"
	default:
		return string(a)
	}
}
