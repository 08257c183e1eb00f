package payment

import (
	"context"
	"fmt"
	"time"
)

// StubProvider stands in for Daraja and Paystack in development when no credentials are configured.
// Callbacks must be posted by hand.
type StubProvider struct{}

func (s *StubProvider) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	id := fmt.Sprintf("ws_CO_stub_%d", time.Now().UnixNano())
	return &STKPushResponse{
		MerchantRequestID:   "stub",
		CheckoutRequestID:   id,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (s *StubProvider) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	return &InitializeResponse{
		AuthorizationURL: "https://checkout.invalid/stub/" + req.Reference,
		AccessCode:       "stub",
		Reference:        req.Reference,
	}, nil
}
