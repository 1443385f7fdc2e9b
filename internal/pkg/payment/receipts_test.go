package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

type flakyEmitter struct {
	failures int
	calls    int
}

func (e *flakyEmitter) Emit(_ context.Context, order *models.PaymentOrder, _ *models.TariffPackage) (string, error) {
	e.calls++
	if e.calls <= e.failures {
		return "", errors.New("fiscal service timeout")
	}
	return "fiscal-" + order.OrderUUID, nil
}

func settleTestOrder(t *testing.T) (*fakeRepo, *models.PaymentOrder) {
	t.Helper()
	svc, repo := newTestService()
	order := seedPendingOrder(repo)
	payload := yookassaPayload("pay-1", "payment.succeeded", order.OrderUUID)
	if _, err := svc.HandleWebhook("yookassa", payload, signHex(payload, testWebhookSecret)); err != nil {
		t.Fatalf("settlement error = %v", err)
	}
	return repo, order
}

func TestReceiptRetrierEmitsPendingReceipt(t *testing.T) {
	repo, order := settleTestOrder(t)

	emitter := &flakyEmitter{}
	rr := NewReceiptRetrier(repo, emitter, time.Minute)
	rr.drainOnce(context.Background())

	receipt := repo.receipts[order.ID]
	if receipt.State != models.ReceiptStateSent {
		t.Fatalf("receipt state = %q, want sent", receipt.State)
	}
	if receipt.FiscalPayloadRef != "fiscal-"+order.OrderUUID {
		t.Fatalf("fiscal ref = %q", receipt.FiscalPayloadRef)
	}
}

func TestReceiptRetrierBacksOffOnFailure(t *testing.T) {
	repo, order := settleTestOrder(t)

	emitter := &flakyEmitter{failures: 1}
	rr := NewReceiptRetrier(repo, emitter, time.Minute)
	rr.drainOnce(context.Background())

	receipt := repo.receipts[order.ID]
	if receipt.State != models.ReceiptStatePending {
		t.Fatalf("receipt state = %q, want pending", receipt.State)
	}
	if receipt.RetryCount != 1 || receipt.NextAttemptAt == nil {
		t.Fatalf("expected a scheduled retry, got %+v", receipt)
	}
	if receipt.LastError == "" {
		t.Fatal("expected the failure to be recorded")
	}

	// Not due yet: draining again must not attempt.
	rr.drainOnce(context.Background())
	if emitter.calls != 1 {
		t.Fatalf("retrier attempted a receipt before its backoff, calls = %d", emitter.calls)
	}

	// Force the retry due and drain: the order settles as sent and the paid
	// order state never changed through any of this.
	past := time.Now().Add(-time.Second)
	repo.receipts[order.ID].NextAttemptAt = &past
	rr.drainOnce(context.Background())
	if repo.receipts[order.ID].State != models.ReceiptStateSent {
		t.Fatalf("receipt state = %q, want sent", repo.receipts[order.ID].State)
	}
	if got, _ := repo.GetOrderByID(order.ID); got.State != models.OrderStatePaid {
		t.Fatalf("order state = %q, want paid", got.State)
	}
}

func TestReceiptRetrierExhaustsRetries(t *testing.T) {
	repo, order := settleTestOrder(t)

	emitter := &flakyEmitter{failures: ReceiptMaxRetries + 1}
	rr := NewReceiptRetrier(repo, emitter, time.Minute)

	for i := 0; i < ReceiptMaxRetries; i++ {
		past := time.Now().Add(-time.Second)
		repo.receipts[order.ID].NextAttemptAt = &past
		rr.drainOnce(context.Background())
	}

	receipt := repo.receipts[order.ID]
	if receipt.State != models.ReceiptStateFailed {
		t.Fatalf("receipt state = %q, want failed after %d attempts", receipt.State, ReceiptMaxRetries)
	}
	if got, _ := repo.GetOrderByID(order.ID); got.State != models.OrderStatePaid {
		t.Fatal("exhausted receipt must not roll back the paid order")
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{20, time.Hour},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Fatalf("backoffDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestNoopEmitter(t *testing.T) {
	ref, err := NoopEmitter{}.Emit(context.Background(), &models.PaymentOrder{OrderUUID: "abc"}, nil)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if ref != "noop-abc" {
		t.Fatalf("ref = %q", ref)
	}
}
