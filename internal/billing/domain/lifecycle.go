package domain

import "time"

// BillPhase is the display phase derived from a bill's raw status and the
// current time. It splits the server's "Due" into due, grace and overdue.
type BillPhase string

const (
	PhaseUpcoming            BillPhase = "upcoming"
	PhaseDue                 BillPhase = "due"
	PhaseGracePeriod         BillPhase = "grace_period"
	PhaseOverdue             BillPhase = "overdue"
	PhasePendingVerification BillPhase = "pending_verification"
	PhasePaid                BillPhase = "paid"
)

// Payable reports whether a bill in this phase still accepts a payment.
func (p BillPhase) Payable() bool {
	switch p {
	case PhaseDue, PhaseGracePeriod, PhaseOverdue:
		return true
	default:
		return false
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// PhaseOf derives the display phase of a bill.
//
// A Due bill is in its grace period between its due date and the renewal
// date of the cycle; past the renewal date it is shown as overdue even if
// the server has not escalated it yet. A zero renewal date leaves no grace
// window.
func PhaseOf(bill Bill, renewalDate, now time.Time) BillPhase {
	switch bill.Status {
	case BillPendingVerification:
		return PhasePendingVerification
	case BillOverdue:
		return PhaseOverdue
	case BillPaid:
		return PhasePaid
	case BillUpcoming:
		return PhaseUpcoming
	}

	if !now.After(bill.DueDate) {
		return PhaseDue
	}
	if !now.After(renewalDate) {
		return PhaseGracePeriod
	}
	return PhaseOverdue
}

// CurrentBills holds the bills a subscriber needs to act on.
type CurrentBills struct {
	Pending  *Bill
	Due      *Bill
	Upcoming *Bill
}

// FindCurrentBill scans the history once and picks the first bill awaiting
// verification, the first due or overdue bill, and the first upcoming bill.
func FindCurrentBill(history []HistoryEntry) CurrentBills {
	var current CurrentBills
	for _, entry := range history {
		if entry.Bill == nil {
			continue
		}
		bill := *entry.Bill
		switch bill.Status {
		case BillPendingVerification:
			if current.Pending == nil {
				current.Pending = &bill
			}
		case BillDue, BillOverdue:
			if current.Due == nil {
				current.Due = &bill
			}
		case BillUpcoming:
			if current.Upcoming == nil {
				current.Upcoming = &bill
			}
		}
	}
	return current
}

// BillView pairs a bill with its display phase at a point in time.
type BillView struct {
	Bill  Bill
	Phase BillPhase
}

// BillViews returns every bill in history order with its phase at now.
func BillViews(s Snapshot, now time.Time) []BillView {
	var views []BillView
	for _, entry := range s.History {
		if entry.Bill == nil {
			continue
		}
		views = append(views, BillView{
			Bill:  *entry.Bill,
			Phase: PhaseOf(*entry.Bill, s.RenewalDate, now),
		})
	}
	return views
}
