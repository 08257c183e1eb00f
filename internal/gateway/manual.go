package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/models"
)

// ManualAdapter covers buyer-reported transfers. There is no provider to call;
// the outcome comes from an admin's review of the submitted reference.
type ManualAdapter struct{}

func NewManualAdapter() *ManualAdapter { return &ManualAdapter{} }

func (a *ManualAdapter) Method() string { return domain.MethodManual }

func (a *ManualAdapter) Prepare(*models.Order) string { return "" }

func (a *ManualAdapter) Initiate(context.Context, *models.Order, string, BuyerInput) (*InitiationResult, error) {
	return nil, ErrNotSupported
}

// NormalizeReference is the canonical form reference numbers are stored and matched in.
func NormalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

type ReviewDecision struct {
	ReferenceNumber string `json:"reference_number"`
	Approved        bool   `json:"approved"`
	Reason          string `json:"reason"`
}

// Decide turns an admin's review into an Outcome.
func (a *ManualAdapter) Decide(reference string, approved bool, reason string) *Outcome {
	d := ReviewDecision{ReferenceNumber: NormalizeReference(reference), Approved: approved, Reason: strings.TrimSpace(reason)}
	raw, _ := json.Marshal(d)
	out := &Outcome{
		CorrelationKey:    d.ReferenceNumber,
		Result:            domain.OutcomeSuccess,
		ExternalReceiptID: d.ReferenceNumber,
		EventType:         "manual.review",
		RawPayload:        raw,
	}
	if !approved {
		out.Result = domain.OutcomeFailure
		out.Message = d.Reason
		if out.Message == "" {
			out.Message = "manual payment rejected"
		}
	}
	return out
}

func (a *ManualAdapter) Normalize(_ http.Header, body []byte) (*Outcome, error) {
	var d ReviewDecision
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, malformed("manual review: %v", err)
	}
	if strings.TrimSpace(d.ReferenceNumber) == "" {
		return nil, malformed("manual review: missing reference_number")
	}
	return a.Decide(d.ReferenceNumber, d.Approved, d.Reason), nil
}
