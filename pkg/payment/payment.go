package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// APIError is returned when a provider answers with a non-success status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: %d %s", e.Provider, e.StatusCode, e.Body)
}

// STKPushRequest asks Daraja to prompt the customer's phone.
type STKPushRequest struct {
	Amount           int64  // whole KES
	PhoneNumber      string // 2547XXXXXXXX
	AccountReference string
	Description      string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPusher starts a push payment.
type STKPusher interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64 // kobo / cents
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]interface{}
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// TransactionInitializer starts a hosted-redirect payment.
type TransactionInitializer interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error)
}

// ToMinorUnits converts a major-unit amount to an integer count of minor units.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor decimal.Decimal) decimal.Decimal {
	return minor.Div(decimal.NewFromInt(100))
}

// WholeUnits rounds up to the next whole unit; STK push only accepts integers.
func WholeUnits(amount decimal.Decimal) int64 {
	return amount.Ceil().IntPart()
}

var nairobi = time.FixedZone("EAT", 3*60*60)
