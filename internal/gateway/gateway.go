// Package gateway adapts each payment provider to one shape: start a payment
// attempt, and turn the provider's asynchronous event into an Outcome the
// reconciliation engine can apply.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/domain"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrEventIgnored marks an authentic event the engine has no transition for.
	// Providers still get a 2xx so they stop retrying.
	ErrEventIgnored = errors.New("event type ignored")
	ErrNotSupported = errors.New("operation not supported by this gateway")
)

// BuyerInput carries what the buyer typed at checkout.
type BuyerInput struct {
	PhoneNumber string
	Email       string
}

type InitiationResult struct {
	CorrelationKey   string
	Message          string
	RedirectURL      string
	PhoneNumber      string // normalized
	ProviderResponse json.RawMessage
}

// Outcome is the provider-independent result of a payment attempt.
type Outcome struct {
	CorrelationKey    string
	Result            string // domain.OutcomeSuccess | domain.OutcomeFailure
	ReportedAmount    *decimal.Decimal
	ReportedCurrency  string
	ReportedAt        *time.Time
	ExternalReceiptID string
	PhoneNumber       string
	Message           string
	EventType         string
	RawPayload        json.RawMessage
}

func (o *Outcome) Succeeded() bool { return o.Result == domain.OutcomeSuccess }

type Adapter interface {
	Method() string
	// Prepare returns the correlation key known before the provider is called,
	// or "" when the provider assigns it.
	Prepare(order *models.Order) string
	Initiate(ctx context.Context, order *models.Order, key string, in BuyerInput) (*InitiationResult, error)
	Normalize(header http.Header, body []byte) (*Outcome, error)
}

// Registry resolves adapters by payment method.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

func (r *Registry) Get(method string) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, method)
	}
	return a, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedEvent, fmt.Sprintf(format, args...))
}
