package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// Service orchestrates the payment order lifecycle. All state transitions go
// through here; controllers and background workers never touch order rows
// directly.
type Service struct {
	repo     Repository
	registry *Registry
}

func NewService(repo Repository, registry *Registry) *Service {
	return &Service{repo: repo, registry: registry}
}

// NewServiceFromDB wires the service with the GORM repository and the
// provider registry configured from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewRegistryFromEnv())
}

// InitiateResult carries what the client needs to complete the payment.
type InitiateResult struct {
	Order           *models.PaymentOrder
	ConfirmationURL string
}

// Initiate creates an order for a tariff package and registers it with the
// selected provider. A definitive provider rejection marks the order failed;
// a transient provider outage leaves it created so initiation can be retried.
func (s *Service) Initiate(ctx context.Context, userID, tariffID uint, providerName, returnURL string) (*InitiateResult, error) {
	pkg, err := s.repo.GetTariff(tariffID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownTariff
		}
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrUnknownTariff
	}
	if _, err := s.repo.GetUser(userID); err != nil {
		return nil, err
	}

	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	order := &models.PaymentOrder{
		OrderUUID:       uuid.New().String(),
		UserID:          userID,
		TariffPackageID: pkg.ID,
		Provider:        provider.Name(),
		AmountCents:     pkg.PriceCents,
		Currency:        pkg.Currency,
		State:           models.OrderStateCreated,
	}
	if err := s.repo.CreateOrder(order); err != nil {
		return nil, err
	}

	invoice, err := provider.CreateInvoice(ctx, order, pkg, returnURL)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			// Transient outage: the order stays created and initiation can
			// be retried against it once the provider is back.
			log.Warnf("[Payment] provider %s unavailable for order %s, order stays created: %v",
				provider.Name(), order.OrderUUID, err)
			return nil, err
		}
		// Definitive rejection: the provider refused this invoice.
		if _, ferr := s.repo.TransitionOrder(order.ID, models.OrderStateCreated, models.OrderStateFailed); ferr != nil {
			log.Errorf("[Payment] failed to mark order %s failed after provider rejection: %v", order.OrderUUID, ferr)
		}
		return nil, err
	}

	if err := s.repo.SetOrderProviderRef(order.ID, invoice.ProviderRef); err != nil {
		return nil, err
	}
	ok, err := s.repo.TransitionOrder(order.ID, models.OrderStateCreated, models.OrderStatePendingProvider)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with Cancel between create and invoice registration.
		return nil, ErrNotCancellable
	}

	order.ProviderRef = invoice.ProviderRef
	order.State = models.OrderStatePendingProvider
	log.Infof("[Payment] order %s initiated via %s for user %d (%d %s)",
		order.OrderUUID, provider.Name(), userID, order.AmountCents, order.Currency)

	return &InitiateResult{Order: order, ConfirmationURL: invoice.ConfirmationURL}, nil
}

// HandleWebhook processes one webhook delivery end to end: signature check,
// dedup insert, order state transition. Duplicates and replays of already
// settled orders ack without side effects. An invalid signature rejects the
// request without recording anything, so a later correctly signed delivery
// of the same event can still settle the order.
func (s *Service) HandleWebhook(providerName string, payload []byte, signatureHeader string) (*WebhookResult, error) {
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	if !VerifyWebhookSignature(payload, signatureHeader, provider.WebhookSecret()) {
		log.Warnf("[Payment] rejected webhook for %s: invalid signature", provider.Name())
		return nil, ErrInvalidSignature
	}

	event, err := provider.ParseWebhook(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.PaymentWebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		OrderUUID:       event.OrderUUID,
		ReportedState:   event.ReportedState,
		PayloadJSON:     string(event.RawPayload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			log.Infof("[Payment] duplicate webhook %s/%s, acking without action",
				event.Provider, event.ProviderEventID)
			return &WebhookResult{Status: WebhookDuplicate, OrderUUID: event.OrderUUID}, nil
		}
		// The dedup row exists but the earlier delivery never finished
		// processing (crash or storage error before the settlement tx
		// committed). Redelivery runs the state transition again; the CAS
		// inside makes reprocessing a settled event a no-op.
		log.Warnf("[Payment] webhook %s/%s recorded but unprocessed, reprocessing",
			event.Provider, event.ProviderEventID)
	}

	result, err := s.applyWebhook(event)
	procErr := ""
	if err != nil {
		procErr = err.Error()
	}
	if merr := s.repo.MarkWebhookProcessed(stored.ID, procErr); merr != nil {
		log.Errorf("[Payment] failed to mark webhook %d processed: %v", stored.ID, merr)
	}
	return result, err
}

func (s *Service) applyWebhook(event *WebhookEvent) (*WebhookResult, error) {
	order, err := s.repo.GetOrderByUUID(event.OrderUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no order %q", ErrConflict, event.OrderUUID)
		}
		return nil, err
	}

	switch event.ReportedState {
	case ReportedStateSucceeded:
		return s.settle(order)
	case ReportedStateCanceled:
		return s.close(order, models.OrderStateCancelled)
	case ReportedStateFailed:
		return s.close(order, models.OrderStateFailed)
	default:
		return nil, fmt.Errorf("%w: unknown reported state %q", ErrConflict, event.ReportedState)
	}
}

func (s *Service) settle(order *models.PaymentOrder) (*WebhookResult, error) {
	pkg, err := s.repo.GetTariff(order.TariffPackageID)
	if err != nil {
		return nil, err
	}

	settled, err := s.repo.SettlePaid(order, pkg.Credits)
	if err != nil {
		return nil, err
	}
	if settled {
		log.Infof("[Payment] order %s settled, granted %d credits to user %d",
			order.OrderUUID, pkg.Credits, order.UserID)
		return &WebhookResult{Status: WebhookAck, OrderUUID: order.OrderUUID}, nil
	}

	// The CAS lost: re-read to see what the order became.
	current, err := s.repo.GetOrderByID(order.ID)
	if err != nil {
		return nil, err
	}
	if current.State == models.OrderStatePaid || current.State == models.OrderStateRefunded {
		// Concurrent delivery already settled it. Nothing to redo.
		return &WebhookResult{Status: WebhookDuplicate, OrderUUID: order.OrderUUID}, nil
	}
	return nil, fmt.Errorf("%w: success reported for order %s in state %s",
		ErrConflict, order.OrderUUID, current.State)
}

func (s *Service) close(order *models.PaymentOrder, toState string) (*WebhookResult, error) {
	ok, err := s.repo.TransitionOrder(order.ID, models.OrderStatePendingProvider, toState)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Infof("[Payment] order %s closed as %s", order.OrderUUID, toState)
		return &WebhookResult{Status: WebhookAck, OrderUUID: order.OrderUUID}, nil
	}

	current, err := s.repo.GetOrderByID(order.ID)
	if err != nil {
		return nil, err
	}
	if current.State == toState {
		return &WebhookResult{Status: WebhookDuplicate, OrderUUID: order.OrderUUID}, nil
	}
	return nil, fmt.Errorf("%w: %s reported for order %s in state %s",
		ErrConflict, toState, order.OrderUUID, current.State)
}

// Cancel aborts an order that has not settled yet. Cancelling an already
// cancelled order is a no-op; any other terminal state is rejected.
func (s *Service) Cancel(orderUUID string) (*models.PaymentOrder, error) {
	order, err := s.repo.GetOrderByUUID(orderUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, err
	}
	if order.State == models.OrderStateCancelled {
		return order, nil
	}
	if !order.IsCancellable() {
		return nil, ErrNotCancellable
	}

	ok, err := s.repo.TransitionOrder(order.ID, order.State, models.OrderStateCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race against a settlement webhook.
		return nil, ErrNotCancellable
	}
	order.State = models.OrderStateCancelled
	log.Infof("[Payment] order %s cancelled", order.OrderUUID)
	return order, nil
}

// Refund reverses a paid order with a compensating ledger entry. The user
// balance may go negative when the credits were already spent; admission
// control absorbs that on the next job submit.
func (s *Service) Refund(orderUUID string) (*models.PaymentOrder, error) {
	order, err := s.repo.GetOrderByUUID(orderUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, err
	}
	if order.State == models.OrderStateRefunded {
		return order, nil
	}
	if order.State != models.OrderStatePaid {
		return nil, ErrNotRefundable
	}

	pkg, err := s.repo.GetTariff(order.TariffPackageID)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.RefundPaid(order, pkg.Credits)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRefundable
	}
	order.State = models.OrderStateRefunded
	log.Infof("[Payment] order %s refunded, revoked %d credits from user %d",
		order.OrderUUID, pkg.Credits, order.UserID)
	return order, nil
}
