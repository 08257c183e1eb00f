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

	"github.com/shopspring/decimal"
)

var eat = time.FixedZone("EAT", 3*60*60)

// PushAdapter drives M-Pesa STK push through Daraja.
type PushAdapter struct {
	client payment.STKPusher
}

func NewPushAdapter(client payment.STKPusher) *PushAdapter {
	return &PushAdapter{client: client}
}

func (a *PushAdapter) Method() string { return domain.MethodMpesa }

// Prepare returns "": Daraja assigns the CheckoutRequestID.
func (a *PushAdapter) Prepare(*models.Order) string { return "" }

func (a *PushAdapter) Initiate(ctx context.Context, order *models.Order, _ string, in BuyerInput) (*InitiationResult, error) {
	phone, err := payment.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	resp, err := a.client.STKPush(ctx, payment.STKPushRequest{
		Amount:           payment.WholeUnits(order.Total),
		PhoneNumber:      phone,
		AccountReference: order.OrderNumber,
		Description:      "Payment for " + order.OrderNumber,
	})
	if err != nil {
		return &InitiationResult{PhoneNumber: phone}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	raw, _ := json.Marshal(resp)
	msg := resp.CustomerMessage
	if msg == "" {
		msg = "Check your phone and enter your M-Pesa PIN to complete payment"
	}
	return &InitiationResult{
		CorrelationKey:   resp.CheckoutRequestID,
		Message:          msg,
		PhoneNumber:      phone,
		ProviderResponse: raw,
	}, nil
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string      `json:"MerchantRequestID"`
	CheckoutRequestID string      `json:"CheckoutRequestID"`
	ResultCode        interface{} `json:"ResultCode"`
	ResultDesc        string      `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []struct {
			Name  string      `json:"Name"`
			Value interface{} `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

// Normalize parses a Daraja STK callback. Daraja does not sign callbacks.
func (a *PushAdapter) Normalize(_ http.Header, body []byte) (*Outcome, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env stkCallbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, malformed("stk callback: %v", err)
	}
	cb := env.Body.StkCallback
	if cb == nil || strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, malformed("stk callback: missing CheckoutRequestID")
	}

	out := &Outcome{
		CorrelationKey: cb.CheckoutRequestID,
		Result:         domain.OutcomeFailure,
		Message:        cb.ResultDesc,
		EventType:      "stkCallback",
		RawPayload:     json.RawMessage(body),
	}
	code, ok := scalarString(cb.ResultCode)
	if !ok {
		// Known checkout, unreadable result: fail the attempt rather than leave it hanging.
		out.Message = "malformed callback: missing ResultCode"
		return out, nil
	}
	if code != "0" {
		if out.Message == "" {
			out.Message = "M-Pesa result code " + code
		}
		return out, nil
	}
	out.Result = domain.OutcomeSuccess
	out.Message = ""

	if cb.CallbackMetadata == nil {
		return out, nil
	}
	// Item order is not guaranteed; look fields up by name.
	for _, item := range cb.CallbackMetadata.Item {
		v, ok := scalarString(item.Value)
		if !ok {
			continue
		}
		switch item.Name {
		case "Amount":
			if amt, err := decimal.NewFromString(v); err == nil {
				out.ReportedAmount = &amt
			}
		case "MpesaReceiptNumber":
			out.ExternalReceiptID = v
		case "TransactionDate":
			if t, err := time.ParseInLocation("20060102150405", v, eat); err == nil {
				out.ReportedAt = &t
			}
		case "PhoneNumber":
			out.PhoneNumber = v
		}
	}
	return out, nil
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case json.Number:
		return t.String(), true
	case string:
		return strings.TrimSpace(t), t != ""
	}
	return "", false
}
