package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/models"
	"storefront/pkg/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RedirectAdapter drives Paystack hosted checkout.
type RedirectAdapter struct {
	client      payment.TransactionInitializer
	secret      string
	callbackURL string
	node        *snowflake.Node
}

func NewRedirectAdapter(client payment.TransactionInitializer, secret, callbackURL string, node *snowflake.Node) *RedirectAdapter {
	return &RedirectAdapter{client: client, secret: secret, callbackURL: callbackURL, node: node}
}

func (a *RedirectAdapter) Method() string { return domain.MethodPaystack }

// Prepare builds a merchant reference unique across attempts: the order number plus a snowflake id.
func (a *RedirectAdapter) Prepare(order *models.Order) string {
	return order.OrderNumber + "-" + a.node.Generate().String()
}

func (a *RedirectAdapter) Initiate(ctx context.Context, order *models.Order, key string, in BuyerInput) (*InitiationResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = order.Email
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	resp, err := a.client.InitializeTransaction(ctx, payment.InitializeRequest{
		Email:       email,
		AmountMinor: payment.ToMinorUnits(order.Total),
		Currency:    order.Currency,
		Reference:   key,
		CallbackURL: a.callbackURL,
		Metadata:    map[string]interface{}{"order_id": order.ID, "order_number": order.OrderNumber},
	})
	if err != nil {
		return &InitiationResult{CorrelationKey: key}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	raw, _ := json.Marshal(resp)
	return &InitiationResult{
		CorrelationKey:   key,
		RedirectURL:      resp.AuthorizationURL,
		Message:          "Continue to the payment page to complete your order",
		ProviderResponse: raw,
	}, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID              json.Number `json:"id"`
		Reference       string      `json:"reference"`
		Amount          json.Number `json:"amount"`
		Currency        string      `json:"currency"`
		Status          string      `json:"status"`
		GatewayResponse string      `json:"gateway_response"`
		PaidAt          string      `json:"paid_at"`
	} `json:"data"`
}

// Normalize verifies the signature over the raw bytes before anything is parsed.
func (a *RedirectAdapter) Normalize(header http.Header, body []byte) (*Outcome, error) {
	sig := header.Get("x-webhook-signature")
	if sig == "" {
		sig = header.Get("x-paystack-signature")
	}
	if !payment.VerifyWebhookSignature(a.secret, body, sig) {
		return nil, domain.ErrSignatureInvalid
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var ev paystackEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, malformed("paystack event: %v", err)
	}
	out := &Outcome{
		CorrelationKey:   ev.Data.Reference,
		EventType:        ev.Event,
		ReportedCurrency: ev.Data.Currency,
		RawPayload:       json.RawMessage(body),
	}
	switch ev.Event {
	case "charge.success":
		out.Result = domain.OutcomeSuccess
	case "charge.failed":
		out.Result = domain.OutcomeFailure
		out.Message = ev.Data.GatewayResponse
		if out.Message == "" {
			out.Message = "payment failed"
		}
	default:
		return out, ErrEventIgnored
	}
	if ev.Data.Reference == "" {
		return nil, malformed("paystack %s: missing reference", ev.Event)
	}
	if t, err := time.Parse(time.RFC3339, ev.Data.PaidAt); err == nil {
		out.ReportedAt = &t
	}
	if ev.Data.ID != "" {
		out.ExternalReceiptID = ev.Data.ID.String()
	}
	if ev.Data.Amount != "" {
		minor, err := decimal.NewFromString(ev.Data.Amount.String())
		if err != nil {
			return nil, malformed("paystack %s: bad amount %q", ev.Event, ev.Data.Amount)
		}
		amt := payment.FromMinorUnits(minor)
		out.ReportedAmount = &amt
	}
	return out, nil
}
