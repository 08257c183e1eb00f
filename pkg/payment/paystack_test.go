package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystackClient_InitializeTransaction(t *testing.T) {
	var got paystackInitBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ORD-000001-1"}}`))
	}))
	defer srv.Close()

	c := NewPaystackClient(srv.URL, "sk_test")
	resp, err := c.InitializeTransaction(context.Background(), InitializeRequest{
		Email: "a@b.co", AmountMinor: 1210000, Currency: "KES", Reference: "ORD-000001-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", resp.AuthorizationURL)
	assert.Equal(t, int64(1210000), got.Amount)
	assert.Equal(t, "ORD-000001-1", got.Reference)
}

func TestPaystackClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := NewPaystackClient(srv.URL, "bad").InitializeTransaction(context.Background(), InitializeRequest{Email: "a@b.co", AmountMinor: 100})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := SignWebhook("sk_test", body)

	assert.True(t, VerifyWebhookSignature("sk_test", body, sig))
	assert.False(t, VerifyWebhookSignature("sk_other", body, sig))
	assert.False(t, VerifyWebhookSignature("sk_test", []byte(`{"event":"charge.failed"}`), sig))
	assert.False(t, VerifyWebhookSignature("", body, SignWebhook("", body)))
	assert.False(t, VerifyWebhookSignature("sk_test", body, ""))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1210050), ToMinorUnits(decimal.RequireFromString("12100.50")))
	assert.True(t, FromMinorUnits(decimal.NewFromInt(1210050)).Equal(decimal.RequireFromString("12100.50")))
	assert.Equal(t, int64(12101), WholeUnits(decimal.RequireFromString("12100.01")))
	assert.Equal(t, int64(12100), WholeUnits(decimal.NewFromInt(12100)))
}
