package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

// DefaultMaxProofBytes caps proof-of-payment uploads.
const DefaultMaxProofBytes int64 = 10 << 20

type submitProofRequest struct {
	BillID               string `json:"billId"`
	ProofOfPaymentBase64 string `json:"proofOfPaymentBase64"`
}

type payBillRequest struct {
	BillID         string `json:"billId"`
	ProofOfPayment string `json:"proofOfPayment,omitempty"`
}

// PaymentWorkflow submits payments and proofs of payment for bills. It never
// changes a bill's phase locally; the new phase arrives with the refresh
// that follows a confirmed submission.
type PaymentWorkflow struct {
	session       AuthSession
	reconciler    *Reconciler
	logger        *slog.Logger
	metrics       observability.Metrics
	maxProofBytes int64
}

// NewPaymentWorkflow creates a workflow that refreshes through reconciler.
func NewPaymentWorkflow(session AuthSession, reconciler *Reconciler, logger *slog.Logger) *PaymentWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentWorkflow{
		session:       session,
		reconciler:    reconciler,
		logger:        logger,
		metrics:       observability.NoopMetrics{},
		maxProofBytes: DefaultMaxProofBytes,
	}
}

// WithMaxProofBytes sets the upload size limit.
func (w *PaymentWorkflow) WithMaxProofBytes(n int64) *PaymentWorkflow {
	if n > 0 {
		w.maxProofBytes = n
	}
	return w
}

// WithMetrics records submissions.
func (w *PaymentWorkflow) WithMetrics(metrics observability.Metrics) *PaymentWorkflow {
	w.metrics = metrics
	return w
}

// SubmitProof uploads proof of an out-of-band payment for billID.
func (w *PaymentWorkflow) SubmitProof(ctx context.Context, billID string, source ProofOfPaymentSource) error {
	if source == nil {
		return domain.NewValidationError("proof required")
	}
	if err := w.checkBill(billID); err != nil {
		return err
	}

	encoded, err := w.EncodeProof(ctx, source)
	if err != nil {
		return err
	}

	logger := observability.LogOperation(w.logger, "submit_proof", "bill_id", billID)
	return observability.TimeOperation(logger, w.metrics, "submit_proof", func() error {
		body := submitProofRequest{BillID: billID, ProofOfPaymentBase64: encoded}
		if _, err := w.session.AuthorizedRequest(ctx, http.MethodPost, PathSubmitProof, body); err != nil {
			return errors.Wrap(err, "submit proof of payment")
		}
		logger.InfoContext(ctx, "proof of payment submitted")

		_, err := w.reconciler.RefreshAfterMutation(ctx)
		return err
	})
}

// PayBill pays billID. source may be nil for payment methods that need no
// evidence; the request then omits the proof. When the backend returns the
// updated subscription inline it is adopted without a second round trip.
func (w *PaymentWorkflow) PayBill(ctx context.Context, billID string, source ProofOfPaymentSource) error {
	if err := w.checkBill(billID); err != nil {
		return err
	}

	body := payBillRequest{BillID: billID}
	if source != nil {
		encoded, err := w.EncodeProof(ctx, source)
		if err != nil {
			return err
		}
		body.ProofOfPayment = encoded
	}

	logger := observability.LogOperation(w.logger, "pay_bill", "bill_id", billID)
	return observability.TimeOperation(logger, w.metrics, "pay_bill", func() error {
		raw, err := w.session.AuthorizedRequest(ctx, http.MethodPost, PathPayBill, body)
		if err != nil {
			return errors.Wrap(err, "pay bill")
		}

		snapshot, ok, err := domain.DecodeInlineSnapshot(raw)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "ignoring malformed inline subscription", "error", err)
		case ok:
			if err := w.reconciler.Adopt(ctx, snapshot); err == nil {
				return nil
			}
			logger.WarnContext(ctx, "inline subscription not adopted, refreshing", "error", err)
		}

		_, err = w.reconciler.RefreshAfterMutation(ctx)
		return err
	})
}

// EncodeProof reads the proof image and encodes it for transport.
func (w *PaymentWorkflow) EncodeProof(ctx context.Context, source ProofOfPaymentSource) (string, error) {
	data, err := source.ReadBytes(ctx)
	if err != nil {
		return "", domain.NewProcessingError(err, "We couldn't read the proof of payment image.")
	}
	if len(data) == 0 {
		return "", domain.NewProcessingError(nil, "The proof of payment image is empty.")
	}
	if int64(len(data)) > w.maxProofBytes {
		return "", domain.NewProcessingError(nil,
			fmt.Sprintf("The proof of payment image is larger than %d MB.", w.maxProofBytes>>20))
	}
	if contentType := http.DetectContentType(data); !strings.HasPrefix(contentType, "image/") {
		return "", domain.NewProcessingError(
			errors.Newf("detected content type %s", contentType),
			"The proof of payment must be an image.")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// checkBill refuses payments the current snapshot already shows as settled
// or awaiting verification. Unknown bills are left to the server.
func (w *PaymentWorkflow) checkBill(billID string) error {
	if strings.TrimSpace(billID) == "" {
		return domain.NewValidationError("bill required")
	}
	snapshot := w.reconciler.Current()
	bill, ok := snapshot.FindBill(billID)
	if !ok {
		return nil
	}
	switch bill.Status {
	case domain.BillPaid:
		return domain.NewValidationError("This bill is already paid.")
	case domain.BillPendingVerification:
		return domain.NewValidationError("A payment for this bill is already awaiting verification.")
	}
	if pending := domain.FindCurrentBill(snapshot.History).Pending; pending != nil && pending.ID != billID {
		return domain.NewValidationError("Another payment is already awaiting verification.")
	}
	return nil
}
