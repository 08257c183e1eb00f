package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/repository"

	"gorm.io/datatypes"
)

// ReconcileResult reports what an outcome did and the state it left behind.
type ReconcileResult struct {
	Disposition string
	Payment     *models.Payment
	Order       *models.Order
}

func (r *ReconcileResult) Applied() bool { return r.Disposition == domain.DispositionApplied }

// ReconciliationService applies gateway outcomes to payments and their orders.
// Every status change is a conditional update inside one transaction, so concurrent
// or replayed deliveries of the same event apply at most once.
type ReconciliationService struct {
	store    *repository.Store
	events   *repository.PaymentEventRepository
	notifier Notifier
	now      func() time.Time
}

func NewReconciliationService(store *repository.Store, events *repository.PaymentEventRepository, notifier Notifier) *ReconciliationService {
	return &ReconciliationService{store: store, events: events, notifier: notifier, now: time.Now}
}

func (s *ReconciliationService) Reconcile(ctx context.Context, method string, o *gateway.Outcome) (*ReconcileResult, error) {
	if o == nil || strings.TrimSpace(o.CorrelationKey) == "" {
		return nil, fmt.Errorf("%w: missing correlation key", domain.ErrMalformedEvent)
	}
	p, err := s.store.Payments.GetByCorrelation(ctx, method, o.CorrelationKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[RECONCILE] %s key=%s: no matching payment", method, o.CorrelationKey)
			s.journal(method, o, nil, domain.DispositionNotFound, "")
		}
		return nil, err
	}
	order, err := s.store.Orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if domain.IsSettled(p.Status) {
		log.Printf("[RECONCILE] %s key=%s: payment %s already %s, ignoring %s", method, o.CorrelationKey, p.ID, p.Status, o.Result)
		s.journal(method, o, p, domain.DispositionIgnoredPaid, "")
		return &ReconcileResult{Disposition: domain.DispositionIgnoredPaid, Payment: p, Order: order}, nil
	}

	result, message := o.Result, o.Message
	if o.Succeeded() {
		if reason := s.checkAmount(p, o); reason != "" {
			log.Printf("[RECONCILE] %s key=%s: %s", method, o.CorrelationKey, reason)
			result, message = domain.OutcomeFailure, reason
		}
	}

	var applied bool
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		if result == domain.OutcomeSuccess {
			applied, err = s.applySuccess(ctx, tx, p, o)
		} else {
			applied, err = s.applyFailure(ctx, tx, p, o, message)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// Post-state for the caller; read outside the transaction.
	if fresh, err := s.store.Payments.GetByID(ctx, p.ID); err == nil {
		p = fresh
	}
	if fresh, err := s.store.Orders.GetByID(ctx, order.ID); err == nil {
		order = fresh
	}

	if !applied {
		disp := domain.DispositionDuplicate
		if domain.IsSettled(p.Status) {
			disp = domain.DispositionIgnoredPaid
		}
		s.journal(method, o, p, disp, "")
		return &ReconcileResult{Disposition: disp, Payment: p, Order: order}, nil
	}

	log.Printf("[RECONCILE] %s key=%s: payment %s -> %s", method, o.CorrelationKey, p.ID, p.Status)
	s.journal(method, o, p, domain.DispositionApplied, message)
	s.notify(p, order)
	return &ReconcileResult{Disposition: domain.DispositionApplied, Payment: p, Order: order}, nil
}

// checkAmount returns a failure reason when the reported payment does not cover the expected amount.
func (s *ReconciliationService) checkAmount(p *models.Payment, o *gateway.Outcome) string {
	if o.ReportedCurrency != "" && p.Currency != "" && !strings.EqualFold(o.ReportedCurrency, p.Currency) {
		return fmt.Sprintf("currency mismatch: expected %s, received %s", p.Currency, strings.ToUpper(o.ReportedCurrency))
	}
	if o.ReportedAmount == nil {
		return ""
	}
	if o.ReportedAmount.LessThan(p.Amount) {
		return fmt.Sprintf("amount mismatch: expected %s, received %s", p.Amount.StringFixed(2), o.ReportedAmount.StringFixed(2))
	}
	if o.ReportedAmount.GreaterThan(p.Amount) {
		log.Printf("[RECONCILE] payment %s overpaid: expected %s, received %s", p.ID, p.Amount.StringFixed(2), o.ReportedAmount.StringFixed(2))
	}
	return ""
}

func (s *ReconciliationService) applySuccess(ctx context.Context, tx *repository.Store, p *models.Payment, o *gateway.Outcome) (bool, error) {
	now := s.now()
	fields := map[string]interface{}{
		"status":        domain.PaymentStatusPaid,
		"paid_at":       &now,
		"error_message": "",
	}
	if o.ExternalReceiptID != "" {
		fields["receipt_number"] = o.ExternalReceiptID
	}
	if len(o.RawPayload) > 0 {
		fields["provider_response"] = datatypes.JSON(o.RawPayload)
	}
	from := []string{domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusFailed}
	ok, err := tx.Payments.TransitionStatus(ctx, p.ID, from, fields)
	if err != nil || !ok {
		return false, err
	}
	if err := tx.Orders.SetPaymentStatus(ctx, p.OrderID, domain.PaymentStatusPaid); err != nil {
		return false, err
	}
	_, err = tx.Orders.AdvanceStatus(ctx, p.OrderID, domain.OrderStatusProcessing,
		[]string{domain.OrderStatusPending, domain.OrderStatusConfirmed})
	return err == nil, err
}

func (s *ReconciliationService) applyFailure(ctx context.Context, tx *repository.Store, p *models.Payment, o *gateway.Outcome, message string) (bool, error) {
	if message == "" {
		message = "payment failed"
	}
	fields := map[string]interface{}{
		"status":        domain.PaymentStatusFailed,
		"error_message": truncate(message, 512),
	}
	if len(o.RawPayload) > 0 {
		fields["provider_response"] = datatypes.JSON(o.RawPayload)
	}
	// FAILED is not in from: a repeated failure is a duplicate, not a second transition.
	from := []string{domain.PaymentStatusPending, domain.PaymentStatusProcessing}
	ok, err := tx.Payments.TransitionStatus(ctx, p.ID, from, fields)
	if err != nil || !ok {
		return false, err
	}
	if err := tx.Orders.SetPaymentStatus(ctx, p.OrderID, domain.PaymentStatusFailed); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReconciliationService) notify(p *models.Payment, order *models.Order) {
	if s.notifier == nil {
		return
	}
	data := map[string]interface{}{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"payment_id":     p.ID,
		"method":         p.Method,
		"payment_status": p.Status,
		"amount":         p.Amount.StringFixed(2),
		"currency":       p.Currency,
	}
	switch p.Status {
	case domain.PaymentStatusPaid:
		data["receipt_number"] = p.ReceiptNumber
		s.notifier.Dispatch(Notice{
			Kind: domain.NotifyPaymentReceived, Audience: domain.AudienceBuyer, UserID: order.UserID, OrderID: order.ID,
			Title: "Payment received",
			Body:  fmt.Sprintf("We received %s %s for order %s.", p.Currency, p.Amount.StringFixed(2), order.OrderNumber),
			Data:  data,
		})
		s.notifier.Dispatch(Notice{
			Kind: domain.NotifyOrderConfirmed, Audience: domain.AudienceBuyer, UserID: order.UserID, OrderID: order.ID,
			Title: "Order confirmed",
			Body:  fmt.Sprintf("Your order %s is confirmed and being prepared.", order.OrderNumber),
			Data:  map[string]interface{}{"order_id": order.ID, "order_number": order.OrderNumber, "status": order.Status},
		})
	case domain.PaymentStatusFailed:
		data["reason"] = p.ErrorMessage
		s.notifier.Dispatch(Notice{
			Kind: domain.NotifyPaymentFailed, Audience: domain.AudienceBuyer, UserID: order.UserID, OrderID: order.ID,
			Title: "Payment failed",
			Body:  fmt.Sprintf("Payment for order %s did not go through. You can try again.", order.OrderNumber),
			Data:  data,
		})
	}
}

// RecordRejected journals an event that never reached a payment, such as a malformed callback.
func (s *ReconciliationService) RecordRejected(method, correlationKey, disposition, detail string, payload []byte) {
	s.journal(method, &gateway.Outcome{CorrelationKey: correlationKey, RawPayload: payload}, nil, disposition, detail)
}

// EventsFor returns the journal for one correlation key, oldest first.
func (s *ReconciliationService) EventsFor(method, correlationKey string) ([]models.PaymentEvent, error) {
	return s.events.ListByCorrelation(method, correlationKey)
}

func (s *ReconciliationService) journal(method string, o *gateway.Outcome, p *models.Payment, disposition, detail string) {
	if s.events == nil {
		return
	}
	e := &models.PaymentEvent{
		Method:         method,
		CorrelationKey: truncate(o.CorrelationKey, 128),
		Result:         o.Result,
		Disposition:    disposition,
		Detail:         truncate(detail, 512),
	}
	if p != nil {
		id := p.ID
		e.PaymentID = &id
	}
	if len(o.RawPayload) > 0 {
		e.Payload = jsonPayload(o.RawPayload)
	}
	if err := s.events.Create(e); err != nil {
		log.Printf("[RECONCILE] journal %s key=%s: %v", method, o.CorrelationKey, err)
	}
}

// jsonPayload keeps unparsable bodies as a JSON string so the column stays valid JSON.
func jsonPayload(b []byte) datatypes.JSON {
	if json.Valid(b) {
		return datatypes.JSON(b)
	}
	quoted, _ := json.Marshal(string(b))
	return datatypes.JSON(quoted)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
