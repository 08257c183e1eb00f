package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// PaystackClient initializes hosted-checkout transactions.
type PaystackClient struct {
	BaseURL   string
	SecretKey string
	client    *http.Client
}

func NewPaystackClient(baseURL, secretKey string) *PaystackClient {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &PaystackClient{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type paystackInitBody struct {
	Email       string                 `json:"email"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency,omitempty"`
	Reference   string                 `json:"reference"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type paystackEnvelope struct {
	Status  bool               `json:"status"`
	Message string             `json:"message"`
	Data    InitializeResponse `json:"data"`
}

func (p *PaystackClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	body, _ := json.Marshal(paystackInitBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+p.SecretKey)
	log.Printf("[Paystack] POST transaction/initialize reference=%s amount=%d %s", req.Reference, req.AmountMinor, req.Currency)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	log.Printf("[Paystack] initialize response status=%d body=%s", resp.StatusCode, string(respBody))
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "paystack", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	var out paystackEnvelope
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, &APIError{Provider: "paystack", StatusCode: resp.StatusCode, Body: out.Message}
	}
	return &out.Data, nil
}

// SignWebhook returns hex(HMAC-SHA512(secret, body)), the signature Paystack sends with webhooks.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares in constant time. An empty secret never verifies.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignWebhook(secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
