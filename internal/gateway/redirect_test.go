package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"storefront/internal/domain"
	"storefront/internal/models"
	"storefront/pkg/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "sk_test_secret"

func newRedirect(t *testing.T, fn func(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error)) *RedirectAdapter {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewRedirectAdapter(&fakeInitializer{initFn: fn}, testSecret, "https://shop.example/checkout/done", node)
}

func signed(body string) http.Header {
	h := http.Header{}
	h.Set("x-webhook-signature", payment.SignWebhook(testSecret, []byte(body)))
	return h
}

func TestRedirectAdapter_PrepareUnique(t *testing.T) {
	a := newRedirect(t, nil)
	order := &models.Order{OrderNumber: "ORD-000010"}
	k1, k2 := a.Prepare(order), a.Prepare(order)
	assert.True(t, strings.HasPrefix(k1, "ORD-000010-"))
	assert.NotEqual(t, k1, k2)
}

func TestRedirectAdapter_Initiate(t *testing.T) {
	var got payment.InitializeRequest
	a := newRedirect(t, func(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
		got = req
		return &payment.InitializeResponse{AuthorizationURL: "https://checkout.paystack.com/x", Reference: req.Reference}, nil
	})
	order := &models.Order{ID: "o-1", OrderNumber: "ORD-000011", Total: decimal.NewFromInt(12100), Currency: "KES", Email: "buyer@example.com"}

	res, err := a.Initiate(context.Background(), order, "ORD-000011-99", BuyerInput{})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/x", res.RedirectURL)
	assert.Equal(t, "ORD-000011-99", res.CorrelationKey)
	assert.Equal(t, int64(1210000), got.AmountMinor)
	assert.Equal(t, "buyer@example.com", got.Email)
}

func TestRedirectAdapter_InitiateGatewayDown(t *testing.T) {
	a := newRedirect(t, func(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
		return nil, errors.New("timeout")
	})
	order := &models.Order{OrderNumber: "ORD-000012", Total: decimal.NewFromInt(1)}
	_, err := a.Initiate(context.Background(), order, "k", BuyerInput{Email: "a@b.co"})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestRedirectAdapter_NormalizeSuccess(t *testing.T) {
	body := `{"event":"charge.success","data":{"id":4099260516,"reference":"ORD-000011-99","amount":1210000,"currency":"KES","status":"success","paid_at":"2025-03-01T09:00:00.000Z"}}`
	out, err := newRedirect(t, nil).Normalize(signed(body), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, out.Result)
	assert.Equal(t, "ORD-000011-99", out.CorrelationKey)
	assert.Equal(t, "4099260516", out.ExternalReceiptID)
	assert.Equal(t, "KES", out.ReportedCurrency)
	require.NotNil(t, out.ReportedAmount)
	assert.True(t, out.ReportedAmount.Equal(decimal.NewFromInt(12100)))
	assert.NotNil(t, out.ReportedAt)
}

func TestRedirectAdapter_NormalizeFailed(t *testing.T) {
	body := `{"event":"charge.failed","data":{"reference":"R-1","gateway_response":"Declined","paid_at":null}}`
	out, err := newRedirect(t, nil).Normalize(signed(body), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailure, out.Result)
	assert.Equal(t, "Declined", out.Message)
}

func TestRedirectAdapter_LegacySignatureHeader(t *testing.T) {
	body := `{"event":"charge.success","data":{"reference":"R-2","amount":100}}`
	h := http.Header{}
	h.Set("x-paystack-signature", payment.SignWebhook(testSecret, []byte(body)))
	_, err := newRedirect(t, nil).Normalize(h, []byte(body))
	require.NoError(t, err)
}

func TestRedirectAdapter_RejectsTamperedBody(t *testing.T) {
	original := `{"event":"charge.success","data":{"reference":"R-3","amount":100}}`
	tampered := `{"event":"charge.success","data":{"reference":"R-3","amount":999999}}`
	a := newRedirect(t, nil)

	_, err := a.Normalize(signed(original), []byte(tampered))
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.Normalize(http.Header{}, []byte(original))
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}

func TestRedirectAdapter_IgnoredAndMalformed(t *testing.T) {
	a := newRedirect(t, nil)

	body := `{"event":"transfer.success","data":{"reference":"T-1"}}`
	_, err := a.Normalize(signed(body), []byte(body))
	assert.ErrorIs(t, err, ErrEventIgnored)

	body = `{"event":"charge.success","data":{}}`
	_, err = a.Normalize(signed(body), []byte(body))
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)

	body = `{"event":`
	_, err = a.Normalize(signed(body), []byte(body))
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}
