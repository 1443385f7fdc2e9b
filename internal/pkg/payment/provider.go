package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/env"
)

// Invoice is the provider-side handle created for an order.
type Invoice struct {
	ProviderRef     string
	ConfirmationURL string
}

// Provider abstracts one payment provider. The orchestrator only ever sees
// this interface; wire formats stay inside the implementations.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, order *models.PaymentOrder, pkg *models.TariffPackage, returnURL string) (*Invoice, error)
	WebhookSecret() string
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds a registry; the first provider becomes the default.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			continue
		}
		if r.defaultName == "" {
			r.defaultName = name
		}
		r.providers[name] = p
	}
	return r
}

// NewRegistryFromEnv wires all providers that have credentials configured.
func NewRegistryFromEnv() *Registry {
	var providers []Provider
	if env.GetEnv("YOOKASSA_SHOP_ID", "") != "" {
		providers = append(providers, NewYooKassaProviderFromEnv())
	}
	if env.GetEnv("CLOUDPAYMENTS_PUBLIC_ID", "") != "" {
		providers = append(providers, NewCloudPaymentsProviderFromEnv())
	}
	return NewRegistry(providers...)
}

// Get resolves a provider by name; an empty name selects the default.
func (r *Registry) Get(name string) (Provider, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = r.defaultName
	}
	p, ok := r.providers[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

const defaultYooKassaAPIBaseURL = "https://api.yookassa.ru/v3"

// YooKassaProvider implements Provider against the YooKassa REST API.
type YooKassaProvider struct {
	ShopID        string
	SecretKey     string
	webhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewYooKassaProviderFromEnv() *YooKassaProvider {
	return &YooKassaProvider{
		ShopID:        strings.TrimSpace(env.GetEnv("YOOKASSA_SHOP_ID", "")),
		SecretKey:     strings.TrimSpace(env.GetEnv("YOOKASSA_SECRET_KEY", "")),
		webhookSecret: strings.TrimSpace(env.GetEnv("YOOKASSA_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("YOOKASSA_API_BASE_URL", defaultYooKassaAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *YooKassaProvider) Name() string { return "yookassa" }

func (p *YooKassaProvider) WebhookSecret() string { return p.webhookSecret }

func (p *YooKassaProvider) CreateInvoice(ctx context.Context, order *models.PaymentOrder, pkg *models.TariffPackage, returnURL string) (*Invoice, error) {
	if p.ShopID == "" || p.SecretKey == "" {
		return nil, errors.New("YOOKASSA_SHOP_ID/YOOKASSA_SECRET_KEY are not configured")
	}

	reqBody := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%d.%02d", order.AmountCents/100, order.AmountCents%100),
			"currency": order.Currency,
		},
		"capture":     true,
		"description": fmt.Sprintf("Package %q for user %d", pkg.Name, order.UserID),
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"metadata": map[string]any{
			"order_uuid": order.OrderUUID,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.APIBaseURL, "/")+"/payments", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.ShopID, p.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	// Provider-side dedup for create retries.
	req.Header.Set("Idempotence-Key", uuid.New().String())

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa payment create failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID           string `json:"id"`
		Confirmation struct {
			ConfirmationURL string `json:"confirmation_url"`
		} `json:"confirmation"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("yookassa payment create returned empty id")
	}
	return &Invoice{ProviderRef: out.ID, ConfirmationURL: out.Confirmation.ConfirmationURL}, nil
}

func (p *YooKassaProvider) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		Event  string `json:"event"`
		Object struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Metadata struct {
				OrderUUID string `json:"order_uuid"`
			} `json:"metadata"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Object.ID) == "" {
		return nil, errors.New("yookassa webhook payload missing payment id")
	}

	state := ""
	switch strings.ToLower(strings.TrimSpace(raw.Event)) {
	case "payment.succeeded":
		state = ReportedStateSucceeded
	case "payment.canceled":
		state = ReportedStateCanceled
	default:
		return nil, fmt.Errorf("unsupported yookassa webhook event: %s", raw.Event)
	}

	return &WebhookEvent{
		Provider: p.Name(),
		// YooKassa does not assign a separate notification id; the payment id
		// plus terminal event is unique per settlement.
		ProviderEventID: raw.Object.ID + ":" + state,
		OrderUUID:       strings.TrimSpace(raw.Object.Metadata.OrderUUID),
		ReportedState:   state,
		RawPayload:      payload,
	}, nil
}

const defaultCloudPaymentsAPIBaseURL = "https://api.cloudpayments.ru"

// CloudPaymentsProvider implements Provider against the CloudPayments API.
type CloudPaymentsProvider struct {
	PublicID      string
	SecretKey     string
	webhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewCloudPaymentsProviderFromEnv() *CloudPaymentsProvider {
	return &CloudPaymentsProvider{
		PublicID:      strings.TrimSpace(env.GetEnv("CLOUDPAYMENTS_PUBLIC_ID", "")),
		SecretKey:     strings.TrimSpace(env.GetEnv("CLOUDPAYMENTS_SECRET_KEY", "")),
		webhookSecret: strings.TrimSpace(env.GetEnv("CLOUDPAYMENTS_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("CLOUDPAYMENTS_API_BASE_URL", defaultCloudPaymentsAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *CloudPaymentsProvider) Name() string { return "cloudpayments" }

func (p *CloudPaymentsProvider) WebhookSecret() string {
	if p.webhookSecret != "" {
		return p.webhookSecret
	}
	// CloudPayments signs Content-HMAC with the API secret itself.
	return p.SecretKey
}

func (p *CloudPaymentsProvider) CreateInvoice(ctx context.Context, order *models.PaymentOrder, pkg *models.TariffPackage, returnURL string) (*Invoice, error) {
	if p.PublicID == "" || p.SecretKey == "" {
		return nil, errors.New("CLOUDPAYMENTS_PUBLIC_ID/CLOUDPAYMENTS_SECRET_KEY are not configured")
	}

	reqBody := map[string]any{
		"Amount":      float64(order.AmountCents) / 100,
		"Currency":    order.Currency,
		"Description": fmt.Sprintf("Package %q for user %d", pkg.Name, order.UserID),
		"InvoiceId":   order.OrderUUID,
		"AccountId":   fmt.Sprintf("%d", order.UserID),
		"JsonData": map[string]any{
			"order_uuid": order.OrderUUID,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.APIBaseURL, "/")+"/orders/create", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.PublicID, p.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cloudpayments order create failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Success bool `json:"Success"`
		Model   struct {
			ID  json.Number `json:"Id"`
			URL string      `json:"Url"`
		} `json:"Model"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("cloudpayments order create rejected: %s", out.Message)
	}
	return &Invoice{ProviderRef: out.Model.ID.String(), ConfirmationURL: out.Model.URL}, nil
}

func (p *CloudPaymentsProvider) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		TransactionID json.Number `json:"TransactionId"`
		InvoiceID     string      `json:"InvoiceId"`
		Status        string      `json:"Status"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.TransactionID.String() == "" {
		return nil, errors.New("cloudpayments webhook payload missing TransactionId")
	}

	state := ""
	switch strings.ToLower(strings.TrimSpace(raw.Status)) {
	case "completed", "authorized":
		state = ReportedStateSucceeded
	case "cancelled":
		state = ReportedStateCanceled
	case "declined":
		state = ReportedStateFailed
	default:
		return nil, fmt.Errorf("unsupported cloudpayments status: %s", raw.Status)
	}

	return &WebhookEvent{
		Provider:        p.Name(),
		ProviderEventID: raw.TransactionID.String() + ":" + state,
		OrderUUID:       strings.TrimSpace(raw.InvoiceID),
		ReportedState:   state,
		RawPayload:      payload,
	}, nil
}
