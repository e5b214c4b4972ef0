package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents where a subscription is in its lifecycle.
type SubscriptionStatus string

const (
	StatusNone                SubscriptionStatus = "none"
	StatusPendingInstallation SubscriptionStatus = "pending_installation"
	StatusPendingVerification SubscriptionStatus = "pending_verification"
	StatusActive              SubscriptionStatus = "active"
	StatusPendingChange       SubscriptionStatus = "pending_change"
	StatusDeclined            SubscriptionStatus = "declined"
	StatusSuspended           SubscriptionStatus = "suspended"
	StatusCancelled           SubscriptionStatus = "cancelled"
)

var knownStatuses = []SubscriptionStatus{
	StatusNone,
	StatusPendingInstallation,
	StatusPendingVerification,
	StatusActive,
	StatusPendingChange,
	StatusDeclined,
	StatusSuspended,
	StatusCancelled,
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s SubscriptionStatus) Valid() bool {
	return slices.Contains(knownStatuses, s)
}

// HasServicePlan reports whether the status implies a running plan with a
// billing cycle.
func (s SubscriptionStatus) HasServicePlan() bool {
	switch s {
	case StatusActive, StatusPendingChange, StatusSuspended:
		return true
	default:
		return false
	}
}

// Plan describes a service plan offered to subscribers.
type Plan struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Features []string        `json:"features,omitempty"`
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Features = slices.Clone(p.Features)
	return &cp
}

// Snapshot is the server-sourced record of one user's subscription and
// billing history. The engine never builds one locally; it only fetches,
// caches and derives presentation state from it.
type Snapshot struct {
	Status                    SubscriptionStatus `json:"status"`
	ActivePlan                *Plan              `json:"activePlan,omitempty"`
	ScheduledPlanChange       *Plan              `json:"scheduledPlanChange,omitempty"`
	StartDate                 time.Time          `json:"startDate"`
	RenewalDate               time.Time          `json:"renewalDate"`
	CancellationEffectiveDate *time.Time         `json:"cancellationEffectiveDate,omitempty"`
	DeclineReason             string             `json:"declineReason,omitempty"`
	DataUsage                 json.RawMessage    `json:"dataUsage,omitempty"`
	History                   []HistoryEntry     `json:"history"`
}

// NoSubscription returns the snapshot used when the user has no
// subscription record at all.
func NoSubscription() Snapshot {
	return Snapshot{Status: StatusNone}
}

// IsNone reports whether the snapshot represents the absence of a subscription.
func (s Snapshot) IsNone() bool {
	return s.Status == StatusNone || s.Status == ""
}

// VisibleDeclineReason returns the decline reason only while the
// subscription is declined.
func (s Snapshot) VisibleDeclineReason() string {
	if s.Status != StatusDeclined {
		return ""
	}
	return s.DeclineReason
}

// Clone returns a deep copy so callers can never mutate engine-owned state.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.ActivePlan = s.ActivePlan.clone()
	cp.ScheduledPlanChange = s.ScheduledPlanChange.clone()
	if s.CancellationEffectiveDate != nil {
		t := *s.CancellationEffectiveDate
		cp.CancellationEffectiveDate = &t
	}
	if s.DataUsage != nil {
		cp.DataUsage = slices.Clone(s.DataUsage)
	}
	if s.History != nil {
		cp.History = make([]HistoryEntry, len(s.History))
		for i, entry := range s.History {
			cp.History[i] = entry.clone()
		}
	}
	return cp
}

// FindBill returns the bill with the given id, if the history holds one.
func (s Snapshot) FindBill(billID string) (Bill, bool) {
	for _, entry := range s.History {
		if entry.Bill != nil && entry.Bill.ID == billID {
			return *entry.Bill, true
		}
	}
	return Bill{}, false
}
