package application

import (
	"context"
	"encoding/json"
)

// Backend paths.
const (
	PathDetails            = "/subscriptions/details"
	PathSubscribe          = "/subscriptions/subscribe"
	PathChangePlan         = "/subscriptions/change-plan"
	PathCancelChange       = "/subscriptions/cancel-change"
	PathCancelSubscription = "/subscriptions/cancel"
	PathReactivate         = "/subscriptions/reactivate"
	PathClearInactive      = "/subscriptions/clear-inactive"
	PathPayBill            = "/billing/pay"
	PathSubmitProof        = "/billing/submit-proof"
)

// AuthSession issues authenticated backend requests for the signed-in user.
type AuthSession interface {
	// CurrentUserID returns the signed-in user, or false when nobody is.
	CurrentUserID() (string, bool)

	// AuthorizedRequest performs one request with bearer credentials and
	// returns the decoded JSON body. Errors carry a billing error kind.
	AuthorizedRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error)
}

// ProofOfPaymentSource supplies the bytes of a proof-of-payment image.
type ProofOfPaymentSource interface {
	ReadBytes(ctx context.Context) ([]byte, error)
}

// ProofFunc adapts a function to ProofOfPaymentSource.
type ProofFunc func(ctx context.Context) ([]byte, error)

func (f ProofFunc) ReadBytes(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
