package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// fakeRepo is an in-memory Repository with the same transition semantics as
// the GORM implementation.
type fakeRepo struct {
	orders   map[uint]*models.PaymentOrder
	byUUID   map[string]uint
	events   map[string]*models.PaymentWebhookEvent
	ledger   []models.LedgerEntry
	receipts map[uint]*models.Receipt
	tariffs  map[uint]*models.TariffPackage
	users    map[uint]*models.User
	nextID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   make(map[uint]*models.PaymentOrder),
		byUUID:   make(map[string]uint),
		events:   make(map[string]*models.PaymentWebhookEvent),
		receipts: make(map[uint]*models.Receipt),
		tariffs:  make(map[uint]*models.TariffPackage),
		users:    make(map[uint]*models.User),
	}
}

func (f *fakeRepo) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) CreateOrder(order *models.PaymentOrder) error {
	order.ID = f.id()
	f.orders[order.ID] = order
	f.byUUID[order.OrderUUID] = order.ID
	return nil
}

func (f *fakeRepo) GetOrderByUUID(orderUUID string) (*models.PaymentOrder, error) {
	id, ok := f.byUUID[orderUUID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *f.orders[id]
	return &cp, nil
}

func (f *fakeRepo) GetOrderByID(id uint) (*models.PaymentOrder, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) TransitionOrder(orderID uint, fromState, toState string) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok || o.State != fromState {
		return false, nil
	}
	o.State = toState
	return true, nil
}

func (f *fakeRepo) SetOrderProviderRef(orderID uint, providerRef string) error {
	if o, ok := f.orders[orderID]; ok {
		o.ProviderRef = providerRef
	}
	return nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := f.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = f.id()
	f.events[key] = event
	cp := *event
	return true, &cp, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range f.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) SettlePaid(order *models.PaymentOrder, credits int) (bool, error) {
	o, ok := f.orders[order.ID]
	if !ok || o.State != models.OrderStatePendingProvider {
		return false, nil
	}
	o.State = models.OrderStatePaid
	orderID := o.ID
	f.ledger = append(f.ledger, models.LedgerEntry{
		UserID:         o.UserID,
		Delta:          credits,
		Reason:         models.LedgerReasonGrant,
		RelatedOrderID: &orderID,
	})
	f.receipts[o.ID] = &models.Receipt{
		ID:      f.id(),
		OrderID: o.ID,
		State:   models.ReceiptStatePending,
	}
	return true, nil
}

func (f *fakeRepo) RefundPaid(order *models.PaymentOrder, credits int) (bool, error) {
	o, ok := f.orders[order.ID]
	if !ok || o.State != models.OrderStatePaid {
		return false, nil
	}
	o.State = models.OrderStateRefunded
	orderID := o.ID
	f.ledger = append(f.ledger, models.LedgerEntry{
		UserID:         o.UserID,
		Delta:          -credits,
		Reason:         models.LedgerReasonRefund,
		RelatedOrderID: &orderID,
	})
	return true, nil
}

func (f *fakeRepo) GetTariff(id uint) (*models.TariffPackage, error) {
	p, ok := f.tariffs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetUser(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) DueReceipts(now time.Time, limit int) ([]models.Receipt, error) {
	var out []models.Receipt
	for _, r := range f.receipts {
		if r.State != models.ReceiptStatePending {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveReceipt(receipt *models.Receipt) error {
	cp := *receipt
	f.receipts[receipt.OrderID] = &cp
	return nil
}

const testWebhookSecret = "whsec_unit"

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	repo.tariffs[1] = &models.TariffPackage{
		ID:            1,
		Name:          "Plus 50",
		PriceCents:    49900,
		Currency:      "RUB",
		Credits:       50,
		PriorityClass: models.PriorityClassPlus,
		IsActive:      true,
	}
	repo.users[7] = &models.User{ID: 7}

	provider := &YooKassaProvider{webhookSecret: testWebhookSecret}
	return NewService(repo, NewRegistry(provider)), repo
}

func seedPendingOrder(repo *fakeRepo) *models.PaymentOrder {
	order := &models.PaymentOrder{
		OrderUUID:       "11111111-2222-3333-4444-555555555555",
		UserID:          7,
		TariffPackageID: 1,
		Provider:        "yookassa",
		AmountCents:     49900,
		Currency:        "RUB",
		State:           models.OrderStatePendingProvider,
	}
	_ = repo.CreateOrder(order)
	return order
}

func yookassaPayload(paymentID, event, orderUUID string) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": event,
		"object": map[string]any{
			"id":     paymentID,
			"status": "succeeded",
			"metadata": map[string]string{
				"order_uuid": orderUUID,
			},
		},
	})
	return body
}

// scriptedProvider scripts the CreateInvoice outcome for initiation tests.
type scriptedProvider struct {
	createErr error
}

func (p *scriptedProvider) Name() string { return "yookassa" }

func (p *scriptedProvider) CreateInvoice(context.Context, *models.PaymentOrder, *models.TariffPackage, string) (*Invoice, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &Invoice{ProviderRef: "inv-1", ConfirmationURL: "https://pay.example/confirm"}, nil
}

func (p *scriptedProvider) WebhookSecret() string { return testWebhookSecret }

func (p *scriptedProvider) ParseWebhook([]byte) (*WebhookEvent, error) {
	return nil, errors.New("not used")
}

func newInitiateService(p Provider) (*Service, *fakeRepo) {
	repo := newFakeRepo()
	repo.tariffs[1] = &models.TariffPackage{
		ID:            1,
		Name:          "Plus 50",
		PriceCents:    49900,
		Currency:      "RUB",
		Credits:       50,
		PriorityClass: models.PriorityClassPlus,
		IsActive:      true,
	}
	repo.users[7] = &models.User{ID: 7}
	return NewService(repo, NewRegistry(p)), repo
}

func TestInitiateProviderOutageKeepsOrderCreated(t *testing.T) {
	p := &scriptedProvider{createErr: fmt.Errorf("%w: dial tcp: connection refused", ErrProviderUnavailable)}
	svc, repo := newInitiateService(p)

	_, err := svc.Initiate(context.Background(), 7, 1, "yookassa", "https://app.example/return")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}

	if len(repo.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(repo.orders))
	}
	for _, o := range repo.orders {
		// The outage is transient; initiation stays retryable against it.
		if o.State != models.OrderStateCreated {
			t.Fatalf("order state = %q, want %q", o.State, models.OrderStateCreated)
		}
	}
}

func TestInitiateProviderRejectionFailsOrder(t *testing.T) {
	p := &scriptedProvider{createErr: errors.New("amount below provider minimum")}
	svc, repo := newInitiateService(p)

	if _, err := svc.Initiate(context.Background(), 7, 1, "yookassa", "https://app.example/return"); err == nil {
		t.Fatal("expected the rejection to surface")
	}
	for _, o := range repo.orders {
		if o.State != models.OrderStateFailed {
			t.Fatalf("order state = %q, want %q", o.State, models.OrderStateFailed)
		}
	}
}

// settleFlakyRepo fails SettlePaid a scripted number of times, like a
// storage outage hitting the settlement transaction after the dedup row
// already committed.
type settleFlakyRepo struct {
	*fakeRepo
	failures int
}

func (f *settleFlakyRepo) SettlePaid(order *models.PaymentOrder, credits int) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("settlement tx: connection reset")
	}
	return f.fakeRepo.SettlePaid(order, credits)
}

func TestHandleWebhookRedeliveryAfterSettlementFailure(t *testing.T) {
	base := newFakeRepo()
	base.tariffs[1] = &models.TariffPackage{ID: 1, Credits: 50, IsActive: true}
	base.users[7] = &models.User{ID: 7}
	order := seedPendingOrder(base)

	repo := &settleFlakyRepo{fakeRepo: base, failures: 1}
	svc := NewService(repo, NewRegistry(&YooKassaProvider{webhookSecret: testWebhookSecret}))

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	sig := signHex(payload, testWebhookSecret)

	if _, err := svc.HandleWebhook("yookassa", payload, sig); err == nil {
		t.Fatal("first delivery must surface the storage failure")
	}
	if got, _ := base.GetOrderByID(order.ID); got.State != models.OrderStatePendingProvider {
		t.Fatalf("order state = %q after failed delivery, want pending_provider", got.State)
	}

	// The provider redelivers the same event. The dedup row exists but the
	// settlement never committed, so the redelivery must settle, not ack as
	// a duplicate.
	res, err := svc.HandleWebhook("yookassa", payload, sig)
	if err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if res.Status != WebhookAck {
		t.Fatalf("redelivery status = %q, want %q", res.Status, WebhookAck)
	}
	if got, _ := base.GetOrderByID(order.ID); got.State != models.OrderStatePaid {
		t.Fatalf("order state = %q, want paid", got.State)
	}
	if len(base.ledger) != 1 || base.ledger[0].Delta != 50 {
		t.Fatalf("expected exactly one grant, ledger = %+v", base.ledger)
	}

	// Once processed, further deliveries are plain duplicates.
	res, err = svc.HandleWebhook("yookassa", payload, sig)
	if err != nil {
		t.Fatalf("third delivery error = %v", err)
	}
	if res.Status != WebhookDuplicate {
		t.Fatalf("third delivery status = %q, want %q", res.Status, WebhookDuplicate)
	}
	if len(base.ledger) != 1 {
		t.Fatalf("duplicate delivery granted again: %+v", base.ledger)
	}
}

func TestHandleWebhookSettlesPendingOrder(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	res, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if res.Status != WebhookAck {
		t.Fatalf("status = %q, want %q", res.Status, WebhookAck)
	}

	got, _ := repo.GetOrderByID(order.ID)
	if got.State != models.OrderStatePaid {
		t.Fatalf("order state = %q, want paid", got.State)
	}
	if len(repo.ledger) != 1 || repo.ledger[0].Delta != 50 || repo.ledger[0].Reason != models.LedgerReasonGrant {
		t.Fatalf("unexpected ledger after settlement: %+v", repo.ledger)
	}
	if repo.receipts[order.ID] == nil || repo.receipts[order.ID].State != models.ReceiptStatePending {
		t.Fatal("expected a pending receipt enqueued with settlement")
	}
}

func TestHandleWebhookDuplicateDeliveryIsNoop(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	sig := signHex(payload, testWebhookSecret)

	if _, err := svc.HandleWebhook("yookassa", payload, sig); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	res, err := svc.HandleWebhook("yookassa", payload, sig)
	if err != nil {
		t.Fatalf("second delivery error = %v", err)
	}
	if res.Status != WebhookDuplicate {
		t.Fatalf("status = %q, want %q", res.Status, WebhookDuplicate)
	}
	if len(repo.ledger) != 1 {
		t.Fatalf("duplicate delivery must not grant again, ledger = %+v", repo.ledger)
	}
}

func TestHandleWebhookInvalidSignatureLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	_, err := svc.HandleWebhook("yookassa", payload, signHex(payload, "attacker"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("error = %v, want ErrInvalidSignature", err)
	}
	if len(repo.events) != 0 {
		t.Fatal("invalid signature must not record a dedup event")
	}

	// The same event with a valid signature must still settle.
	res, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("valid redelivery error = %v", err)
	}
	if res.Status != WebhookAck {
		t.Fatalf("status = %q, want %q", res.Status, WebhookAck)
	}
}

func TestHandleWebhookUnknownOrderConflicts(t *testing.T) {
	svc, _ := newTestService()

	payload := yookassaPayload("pay-9", "payment.succeeded", "00000000-0000-0000-0000-000000000000")
	_, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestHandleWebhookSuccessAfterCancelConflicts(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)
	repo.orders[order.ID].State = models.OrderStateCancelled

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	_, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if got, _ := repo.GetOrderByID(order.ID); got.State != models.OrderStateCancelled {
		t.Fatalf("terminal state mutated to %q", got.State)
	}
}

func TestHandleWebhookCancelClosesPendingOrder(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	payload := yookassaPayload("pay-1", "payment.canceled", order.OrderUUID)
	res, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret))
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if res.Status != WebhookAck {
		t.Fatalf("status = %q, want %q", res.Status, WebhookAck)
	}
	if got, _ := repo.GetOrderByID(order.ID); got.State != models.OrderStateCancelled {
		t.Fatalf("order state = %q, want cancelled", got.State)
	}
	if len(repo.ledger) != 0 {
		t.Fatal("cancellation must not touch the ledger")
	}
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.HandleWebhook("stripe", []byte(`{}`), "sig")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestCancelPendingOrder(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	got, err := svc.Cancel(order.OrderUUID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.State != models.OrderStateCancelled {
		t.Fatalf("state = %q, want cancelled", got.State)
	}

	// Second cancel is a no-op.
	if _, err := svc.Cancel(order.OrderUUID); err != nil {
		t.Fatalf("repeated Cancel() error = %v", err)
	}
}

func TestCancelPaidOrderRejected(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)
	repo.orders[order.ID].State = models.OrderStatePaid

	if _, err := svc.Cancel(order.OrderUUID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("error = %v, want ErrNotCancellable", err)
	}
}

func TestRefundPaidOrder(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	if _, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret)); err != nil {
		t.Fatalf("settlement error = %v", err)
	}

	got, err := svc.Refund(order.OrderUUID)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if got.State != models.OrderStateRefunded {
		t.Fatalf("state = %q, want refunded", got.State)
	}
	if len(repo.ledger) != 2 {
		t.Fatalf("expected grant plus compensating entry, got %+v", repo.ledger)
	}
	last := repo.ledger[1]
	if last.Delta != -50 || last.Reason != models.LedgerReasonRefund {
		t.Fatalf("compensating entry = %+v", last)
	}

	// Refund is idempotent and the compensation is not duplicated.
	if _, err := svc.Refund(order.OrderUUID); err != nil {
		t.Fatalf("repeated Refund() error = %v", err)
	}
	if len(repo.ledger) != 2 {
		t.Fatalf("repeated refund duplicated the ledger: %+v", repo.ledger)
	}
}

func TestRefundPendingOrderRejected(t *testing.T) {
	svc, repo := newTestService()
	order := seedPendingOrder(repo)

	if _, err := svc.Refund(order.OrderUUID); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("error = %v, want ErrNotRefundable", err)
	}
}

func TestParseWebhookYooKassa(t *testing.T) {
	p := &YooKassaProvider{}
	payload := yookassaPayload("pay-42", "payment.succeeded", "ord-uuid")

	event, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if event.ProviderEventID != "pay-42:succeeded" {
		t.Fatalf("event id = %q", event.ProviderEventID)
	}
	if event.OrderUUID != "ord-uuid" || event.ReportedState != ReportedStateSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}

	if _, err := p.ParseWebhook([]byte(`{"event":"payment.waiting_for_capture","object":{"id":"x"}}`)); err == nil {
		t.Fatal("expected unsupported event to error")
	}
}

func TestParseWebhookCloudPayments(t *testing.T) {
	p := &CloudPaymentsProvider{}
	tests := []struct {
		status string
		want   string
	}{
		{"Completed", ReportedStateSucceeded},
		{"Authorized", ReportedStateSucceeded},
		{"Cancelled", ReportedStateCanceled},
		{"Declined", ReportedStateFailed},
	}
	for _, tt := range tests {
		payload := fmt.Sprintf(`{"TransactionId":991,"InvoiceId":"ord-1","Status":%q}`, tt.status)
		event, err := p.ParseWebhook([]byte(payload))
		if err != nil {
			t.Fatalf("ParseWebhook(%s) error = %v", tt.status, err)
		}
		if event.ReportedState != tt.want {
			t.Fatalf("ParseWebhook(%s) state = %q, want %q", tt.status, event.ReportedState, tt.want)
		}
		if event.ProviderEventID != "991:"+tt.want {
			t.Fatalf("event id = %q", event.ProviderEventID)
		}
	}
}
