package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// HistoryEntryType tags the kind of a history entry.
type HistoryEntryType string

const (
	EntryBill                HistoryEntryType = "bill"
	EntryPaymentSuccess      HistoryEntryType = "payment_success"
	EntrySubscribed          HistoryEntryType = "subscribed"
	EntryCancelled           HistoryEntryType = "cancelled"
	EntryPlanChangeRequested HistoryEntryType = "plan_change_requested"
	EntryPlanChangeCancelled HistoryEntryType = "plan_change_cancelled"
	EntryActivated           HistoryEntryType = "activated"
	EntrySubmittedPayment    HistoryEntryType = "submitted_payment"
)

// BillStatus is the raw, server-assigned status of a bill.
type BillStatus string

const (
	BillUpcoming            BillStatus = "Upcoming"
	BillDue                 BillStatus = "Due"
	BillOverdue             BillStatus = "Overdue"
	BillPendingVerification BillStatus = "Pending Verification"
	BillPaid                BillStatus = "Paid"
)

// Valid reports whether the status is one the server is known to send.
func (s BillStatus) Valid() bool {
	switch s {
	case BillUpcoming, BillDue, BillOverdue, BillPendingVerification, BillPaid:
		return true
	default:
		return false
	}
}

// Bill is one billing-cycle charge owed by the subscriber.
type Bill struct {
	ID            string
	PlanName      string
	Amount        decimal.Decimal
	DueDate       time.Time
	Status        BillStatus
	ReceiptNumber string
}

// FormattedAmount renders the amount with two fractional digits.
func (b Bill) FormattedAmount() string {
	return b.Amount.StringFixed(2)
}

// HistoryEntry is one record in a subscription's history. Bill is set only
// for entries of type bill.
type HistoryEntry struct {
	Type    HistoryEntryType
	Date    time.Time
	Details string
	Bill    *Bill
	// Raw is a non-bill entry exactly as the server sent it, including
	// fields this client does not read. It is written back unchanged.
	Raw json.RawMessage
}

func (e HistoryEntry) clone() HistoryEntry {
	cp := e
	if e.Bill != nil {
		b := *e.Bill
		cp.Bill = &b
	}
	if e.Raw != nil {
		cp.Raw = slices.Clone(e.Raw)
	}
	return cp
}

// historyEntryJSON is the flat wire shape shared by every entry type.
type historyEntryJSON struct {
	Type          HistoryEntryType `json:"type"`
	Date          *time.Time       `json:"date,omitempty"`
	Details       string           `json:"details,omitempty"`
	ID            string           `json:"id,omitempty"`
	PlanName      string           `json:"planName,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	DueDate       *time.Time       `json:"dueDate,omitempty"`
	Status        BillStatus       `json:"status,omitempty"`
	ReceiptNumber string           `json:"receiptNumber,omitempty"`
}

// MarshalJSON flattens bill fields next to the type tag.
func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	if e.Bill == nil && len(e.Raw) > 0 {
		return e.Raw, nil
	}
	wire := historyEntryJSON{
		Type:    e.Type,
		Details: e.Details,
	}
	if !e.Date.IsZero() {
		d := e.Date
		wire.Date = &d
	}
	if e.Bill != nil {
		amount := e.Bill.Amount
		due := e.Bill.DueDate
		wire.ID = e.Bill.ID
		wire.PlanName = e.Bill.PlanName
		wire.Amount = &amount
		wire.DueDate = &due
		wire.Status = e.Bill.Status
		wire.ReceiptNumber = e.Bill.ReceiptNumber
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an entry and rejects bill entries that lack the
// fields every bill must carry.
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var wire historyEntryJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return fmt.Errorf("history entry missing type")
	}

	entry := HistoryEntry{
		Type:    wire.Type,
		Details: wire.Details,
	}
	if wire.Date != nil {
		entry.Date = *wire.Date
	}

	if wire.Type == EntryBill {
		switch {
		case wire.ID == "":
			return fmt.Errorf("bill entry missing id")
		case wire.Amount == nil:
			return fmt.Errorf("bill %s missing amount", wire.ID)
		case wire.DueDate == nil:
			return fmt.Errorf("bill %s missing dueDate", wire.ID)
		case !wire.Status.Valid():
			return fmt.Errorf("bill %s has unknown status %q", wire.ID, wire.Status)
		}
		entry.Bill = &Bill{
			ID:            wire.ID,
			PlanName:      wire.PlanName,
			Amount:        *wire.Amount,
			DueDate:       *wire.DueDate,
			Status:        wire.Status,
			ReceiptNumber: wire.ReceiptNumber,
		}
	} else {
		entry.Raw = slices.Clone(json.RawMessage(data))
	}

	*e = entry
	return nil
}
