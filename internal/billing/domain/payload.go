package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// detailsEnvelope is the body of GET /subscriptions/details and, when the
// server chooses to include it, of POST /billing/pay.
type detailsEnvelope struct {
	SubscriptionData json.RawMessage `json:"subscriptionData"`
}

// DecodeDetails parses a details response. An empty or absent
// subscriptionData object means the user has no subscription. Any payload
// that cannot be trusted is reported as an integrity error.
func DecodeDetails(raw []byte) (Snapshot, error) {
	snapshot, present, err := decodeEnvelope(raw)
	if err != nil {
		return Snapshot{}, err
	}
	if !present {
		return NoSubscription(), nil
	}
	return snapshot, nil
}

// DecodeInlineSnapshot extracts a snapshot a mutating endpoint returned
// inline. ok is false when the response carries none.
func DecodeInlineSnapshot(raw []byte) (snapshot Snapshot, ok bool, err error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Snapshot{}, false, nil
	}
	return decodeEnvelope(raw)
}

func decodeEnvelope(raw []byte) (Snapshot, bool, error) {
	var envelope detailsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Snapshot{}, false, NewIntegrityError(err, "decode subscription envelope")
	}
	data := bytes.TrimSpace(envelope.SubscriptionData)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || isEmptyObject(data) {
		return Snapshot{}, false, nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, NewIntegrityError(err, "decode subscription data")
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func isEmptyObject(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return len(probe) == 0
}

// Validate checks the fields and invariants a snapshot must satisfy before
// the engine will hold or persist it.
func (s Snapshot) Validate() error {
	if s.Status == "" {
		return NewIntegrityError(nil, "subscription data missing status")
	}
	if !s.Status.Valid() {
		return NewIntegrityError(nil, fmt.Sprintf("unknown subscription status %q", s.Status))
	}

	if s.Status.HasServicePlan() {
		if s.ActivePlan == nil {
			return NewIntegrityError(nil, fmt.Sprintf("%s subscription missing activePlan", s.Status))
		}
		if s.RenewalDate.IsZero() {
			return NewIntegrityError(nil, fmt.Sprintf("%s subscription missing renewalDate", s.Status))
		}
	}

	hasChange := s.ScheduledPlanChange != nil
	if hasChange != (s.Status == StatusPendingChange) {
		return NewIntegrityError(nil, fmt.Sprintf("scheduledPlanChange inconsistent with status %s", s.Status))
	}

	pending := 0
	for _, entry := range s.History {
		if entry.Bill != nil && entry.Bill.Status == BillPendingVerification {
			pending++
		}
	}
	if pending > 1 {
		return NewIntegrityError(nil, fmt.Sprintf("%d bills pending verification", pending))
	}
	return nil
}
