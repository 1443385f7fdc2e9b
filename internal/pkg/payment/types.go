package payment

import "errors"

// Sentinel errors of the settlement state machine. Business-rule rejections
// are terminal for the call and never retried automatically; only
// ErrProviderUnavailable is safe for the caller to retry.
var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrConflict            = errors.New("webhook event conflicts with order state")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrUnknownOrder        = errors.New("order not found")
	ErrUnknownTariff       = errors.New("unknown tariff package")
	ErrNotCancellable      = errors.New("order is no longer cancellable")
	ErrNotRefundable       = errors.New("only paid orders can be refunded")
)

// Provider-neutral reported states carried by webhook events.
const (
	ReportedStateSucceeded = "succeeded"
	ReportedStateCanceled  = "canceled"
	ReportedStateFailed    = "failed"
)

// WebhookEvent is the normalized, provider-neutral shape of one webhook
// delivery after parsing.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	OrderUUID       string
	ReportedState   string
	RawPayload      []byte
}

// Webhook processing outcomes surfaced to the HTTP boundary.
const (
	WebhookAck       = "ack"
	WebhookDuplicate = "duplicate"
)

// WebhookResult reports how a delivery was handled. Duplicate deliveries
// ack idempotently without re-mutating anything.
type WebhookResult struct {
	Status    string
	OrderUUID string
}
