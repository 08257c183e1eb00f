package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/repository"
	"storefront/pkg/payment"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ProofUploader stores the optional screenshot attached to a manual payment.
type ProofUploader interface {
	UploadImage(ctx context.Context, file io.Reader, folder, publicID string) (string, error)
}

const maxCreateAttempts = 3

// Initiation is returned to the buyer after a gateway attempt starts.
type Initiation struct {
	PaymentID      string `json:"payment_id"`
	OrderID        string `json:"order_id"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	CorrelationKey string `json:"reference"`
	Message        string `json:"message,omitempty"`
	RedirectURL    string `json:"authorization_url,omitempty"`
}

// StatusView is what a buyer polls while waiting for a payment to settle.
type StatusView struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	OrderStatus   string          `json:"order_status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Method        string          `json:"method,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// Receipt is a settled payment with its order, for receipt rendering.
type Receipt struct {
	Payment *models.Payment `json:"payment"`
	Order   *models.Order   `json:"order"`
}

type ManualSubmission struct {
	OrderID         string
	ReferenceNumber string
	SenderName      string
	Proof           io.Reader
}

// ReviewRequest carries an admin's decision on a manual payment.
type ReviewRequest struct {
	AdminID   string
	PaymentID string
	Approved  bool
	Reason    string
	IP        string
	UserAgent string
}

type PaymentService struct {
	store       *repository.Store
	gateways    *gateway.Registry
	manual      *gateway.ManualAdapter
	recon       *ReconciliationService
	notifier    Notifier
	audit       *repository.AuditLogRepository
	uploader    ProofUploader
	proofFolder string
	timeouts    map[string]time.Duration
}

func NewPaymentService(store *repository.Store, gateways *gateway.Registry, manual *gateway.ManualAdapter, recon *ReconciliationService,
	notifier Notifier, audit *repository.AuditLogRepository, uploader ProofUploader, proofFolder string) *PaymentService {
	return &PaymentService{
		store:       store,
		gateways:    gateways,
		manual:      manual,
		recon:       recon,
		notifier:    notifier,
		audit:       audit,
		uploader:    uploader,
		proofFolder: proofFolder,
		timeouts:    map[string]time.Duration{},
	}
}

// SetInitiationTimeout bounds the outbound call that starts a payment with the given gateway.
func (s *PaymentService) SetInitiationTimeout(method string, d time.Duration) {
	s.timeouts[method] = d
}

func (s *PaymentService) timeout(method string) time.Duration {
	if d, ok := s.timeouts[method]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *PaymentService) InitiatePush(ctx context.Context, buyerID, orderID, phone string) (*Initiation, error) {
	normalized, err := payment.NormalizePhone(phone)
	if err != nil {
		return nil, fmt.Errorf("%w: phone number must be a Kenyan mobile number", domain.ErrValidation)
	}
	return s.initiate(ctx, domain.MethodMpesa, buyerID, orderID, gateway.BuyerInput{PhoneNumber: normalized})
}

func (s *PaymentService) InitiateRedirect(ctx context.Context, buyerID, orderID, email string) (*Initiation, error) {
	return s.initiate(ctx, domain.MethodPaystack, buyerID, orderID, gateway.BuyerInput{Email: strings.TrimSpace(email)})
}

func (s *PaymentService) initiate(ctx context.Context, method, buyerID, orderID string, in gateway.BuyerInput) (*Initiation, error) {
	adapter, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	order, err := s.payableOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if method == domain.MethodPaystack && in.Email == "" && order.Email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}

	key := adapter.Prepare(order)
	var p *models.Payment
	err = s.withCreateRetry(ctx, func(tx *repository.Store) error {
		var err error
		p, err = s.beginGatewayAttempt(ctx, tx, order.ID, method, key, in.PhoneNumber)
		return err
	})
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, s.timeout(method))
	defer cancel()
	res, err := adapter.Initiate(ictx, order, key, in)
	if err != nil {
		// The provider may still complete the attempt; the payment stays PROCESSING
		// so a late event can settle it.
		log.Printf("[PAYMENT] %s initiate order=%s payment=%s: %v", method, order.OrderNumber, p.ID, err)
		raw, _ := json.Marshal(map[string]string{"error": err.Error(), "at": time.Now().UTC().Format(time.RFC3339)})
		if uerr := s.store.Payments.UpdateFields(ctx, p.ID, map[string]interface{}{"provider_response": datatypes.JSON(raw)}); uerr != nil {
			log.Printf("[PAYMENT] record initiate error payment=%s: %v", p.ID, uerr)
		}
		if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	fields := map[string]interface{}{}
	if len(res.ProviderResponse) > 0 {
		fields["provider_response"] = datatypes.JSON(res.ProviderResponse)
	}
	if res.PhoneNumber != "" {
		fields["phone_number"] = res.PhoneNumber
	}
	if key == "" && res.CorrelationKey != "" {
		fields[models.CorrelationColumn(method)] = res.CorrelationKey
	}
	if len(fields) > 0 {
		if err := s.store.Payments.UpdateFields(ctx, p.ID, fields); err != nil {
			return nil, err
		}
	}
	log.Printf("[PAYMENT] %s initiated order=%s payment=%s ref=%s", method, order.OrderNumber, p.ID, res.CorrelationKey)
	return &Initiation{
		PaymentID:      p.ID,
		OrderID:        order.ID,
		Method:         method,
		Status:         domain.PaymentStatusProcessing,
		CorrelationKey: res.CorrelationKey,
		Message:        res.Message,
		RedirectURL:    res.RedirectURL,
	}, nil
}

// beginGatewayAttempt moves the order's payment to PROCESSING for method, creating,
// updating in place, or replacing the existing row.
func (s *PaymentService) beginGatewayAttempt(ctx context.Context, tx *repository.Store, orderID, method, key, phone string) (*models.Payment, error) {
	order, err := tx.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	existing, err := s.existingPayment(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	switchedFromCash := false
	if existing != nil {
		if domain.IsSettled(existing.Status) {
			return nil, domain.ErrPaymentCompleted
		}
		if existing.Method != method {
			switchedFromCash = existing.Method == domain.MethodCashOnDelivery
			if err := tx.Payments.Delete(ctx, existing.ID); err != nil {
				return nil, err
			}
			log.Printf("[PAYMENT] order=%s switching %s -> %s", order.OrderNumber, existing.Method, method)
			existing = nil
		}
	}
	if !switchedFromCash && !isOneOf(order.PaymentStatus, domain.InitiablePaymentStatuses) {
		return nil, domain.ErrOrderNotPayable
	}

	col := models.CorrelationColumn(method)
	var p *models.Payment
	if existing == nil {
		p = &models.Payment{
			OrderID:     order.ID,
			Method:      method,
			Status:      domain.PaymentStatusProcessing,
			Amount:      order.Total,
			Currency:    order.Currency,
			PhoneNumber: phone,
		}
		p.SetCorrelationKey(key)
		if err := tx.Payments.Create(ctx, p); err != nil {
			return nil, err
		}
	} else {
		fields := map[string]interface{}{
			"status":        domain.PaymentStatusProcessing,
			"amount":        order.Total,
			"currency":      order.Currency,
			"error_message": "",
		}
		if phone != "" {
			fields["phone_number"] = phone
		}
		if key != "" {
			fields[col] = key
		}
		ok, err := tx.Payments.TransitionStatus(ctx, existing.ID, domain.InitiablePaymentStatuses, fields)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrPaymentCompleted
		}
		p = existing
	}
	if err := tx.Orders.SetPaymentStatus(ctx, order.ID, domain.PaymentStatusProcessing); err != nil {
		return nil, err
	}
	return p, nil
}

// SubmitManual records a buyer-reported transfer for admin review. The same reference
// may be resubmitted for the same order until it is paid, but never used by another order.
func (s *PaymentService) SubmitManual(ctx context.Context, buyerID string, in ManualSubmission) (*models.Payment, error) {
	ref := gateway.NormalizeReference(in.ReferenceNumber)
	sender := strings.TrimSpace(in.SenderName)
	if ref == "" || sender == "" {
		return nil, fmt.Errorf("%w: reference number and sender name are required", domain.ErrValidation)
	}
	if len(ref) > 128 || len(sender) > 128 {
		return nil, fmt.Errorf("%w: reference number or sender name too long", domain.ErrValidation)
	}
	order, err := s.payableOrder(ctx, buyerID, in.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferenceFree(ctx, s.store, ref, order.ID); err != nil {
		return nil, err
	}

	var proofURL string
	if in.Proof != nil && s.uploader != nil {
		proofURL, err = s.uploader.UploadImage(ctx, in.Proof, s.proofFolder, order.OrderNumber+"-"+ref)
		if err != nil {
			return nil, fmt.Errorf("upload proof: %w", err)
		}
	}

	var p *models.Payment
	err = s.withCreateRetry(ctx, func(tx *repository.Store) error {
		var err error
		p, err = s.recordManual(ctx, tx, order.ID, ref, sender, proofURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[PAYMENT] manual submitted order=%s ref=%s", order.OrderNumber, ref)
	if s.notifier != nil {
		s.notifier.Dispatch(Notice{
			Kind:     domain.NotifyManualSubmitted,
			Audience: domain.AudienceAdmin,
			OrderID:  order.ID,
			Title:    "Manual payment submitted",
			Body:     fmt.Sprintf("Order %s: reference %s from %s awaits review.", order.OrderNumber, ref, sender),
			Data: map[string]interface{}{
				"order_id":         order.ID,
				"order_number":     order.OrderNumber,
				"payment_id":       p.ID,
				"reference_number": ref,
				"sender_name":      sender,
				"amount":           p.Amount.StringFixed(2),
			},
		})
	}
	return p, nil
}

func (s *PaymentService) recordManual(ctx context.Context, tx *repository.Store, orderID, ref, sender, proofURL string) (*models.Payment, error) {
	if err := s.checkReferenceFree(ctx, tx, ref, orderID); err != nil {
		return nil, err
	}
	order, err := tx.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	existing, err := s.existingPayment(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if domain.IsSettled(existing.Status) {
			return nil, domain.ErrPaymentCompleted
		}
		if existing.Method != domain.MethodManual {
			if err := tx.Payments.Delete(ctx, existing.ID); err != nil {
				return nil, err
			}
			existing = nil
		}
	}

	if existing == nil {
		p := &models.Payment{
			OrderID:               order.ID,
			Method:                domain.MethodManual,
			Status:                domain.PaymentStatusPending,
			Amount:                order.Total,
			Currency:              order.Currency,
			ManualReferenceNumber: &ref,
			SenderName:            sender,
			ProofURL:              proofURL,
		}
		if err := tx.Payments.Create(ctx, p); err != nil {
			return nil, err
		}
		existing = p
	} else {
		fields := map[string]interface{}{
			"status":                  domain.PaymentStatusPending,
			"manual_reference_number": ref,
			"sender_name":             sender,
			"amount":                  order.Total,
			"currency":                order.Currency,
			"error_message":           "",
		}
		if proofURL != "" {
			fields["proof_url"] = proofURL
		}
		ok, err := tx.Payments.TransitionStatus(ctx, existing.ID, domain.InitiablePaymentStatuses, fields)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrPaymentCompleted
		}
		existing.ManualReferenceNumber = &ref
		existing.SenderName = sender
		existing.Status = domain.PaymentStatusPending
	}
	if err := tx.Orders.SetPaymentStatus(ctx, order.ID, domain.PaymentStatusPending); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *PaymentService) checkReferenceFree(ctx context.Context, st *repository.Store, ref, orderID string) error {
	other, err := st.Payments.GetByCorrelation(ctx, domain.MethodManual, ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.OrderID != orderID:
		return domain.ErrReferenceInUse
	}
	return nil
}

// ReviewManual applies an admin's approval or rejection through the reconciliation engine.
func (s *PaymentService) ReviewManual(ctx context.Context, req ReviewRequest) (*ReconcileResult, error) {
	p, err := s.store.Payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != domain.MethodManual || p.CorrelationKey() == "" {
		return nil, fmt.Errorf("%w: not a manual payment", domain.ErrValidation)
	}
	res, err := s.recon.Reconcile(ctx, domain.MethodManual, s.manual.Decide(p.CorrelationKey(), req.Approved, req.Reason))
	if err != nil {
		return nil, err
	}
	action := "manual_payment.reject"
	if req.Approved {
		action = "manual_payment.approve"
	}
	meta, _ := json.Marshal(map[string]interface{}{
		"disposition":      res.Disposition,
		"reason":           req.Reason,
		"reference_number": p.CorrelationKey(),
		"order_id":         p.OrderID,
	})
	if s.audit != nil {
		if err := s.audit.Create(&models.AuditLog{
			UserID:     req.AdminID,
			Action:     action,
			Resource:   "payment",
			ResourceID: p.ID,
			IP:         req.IP,
			UserAgent:  req.UserAgent,
			Metadata:   string(meta),
		}); err != nil {
			log.Printf("[PAYMENT] audit %s payment=%s: %v", action, p.ID, err)
		}
	}
	return res, nil
}

func (s *PaymentService) ListManual(ctx context.Context, status string, limit, offset int) ([]models.Payment, int64, error) {
	return s.store.Payments.ListByMethodAndStatus(ctx, domain.MethodManual, status, limit, offset)
}

// Receipt returns a PAID payment and its order. Anything else reads as not found.
func (s *PaymentService) Receipt(ctx context.Context, requesterID string, isAdmin bool, paymentID string) (*Receipt, error) {
	p, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentStatusPaid {
		return nil, domain.ErrNotFound
	}
	order, err := s.store.Orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && order.UserID != requesterID {
		return nil, domain.ErrNotFound
	}
	return &Receipt{Payment: p, Order: order}, nil
}

func (s *PaymentService) StatusForOrder(ctx context.Context, buyerID, orderID string) (*StatusView, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	v := &StatusView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
		Amount:        order.Total,
		Currency:      order.Currency,
	}
	p, err := s.existingPayment(ctx, s.store, order.ID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		v.PaymentID = p.ID
		v.Method = p.Method
		v.PaymentStatus = p.Status
		v.ReceiptNumber = p.ReceiptNumber
		v.PaidAt = p.PaidAt
		v.ErrorMessage = p.ErrorMessage
	}
	return v, nil
}

// payableOrder is ownedOrder restricted to orders that can still take payment.
func (s *PaymentService) payableOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
		return nil, domain.ErrOrderNotPayable
	}
	return order, nil
}

// ownedOrder hides other buyers' orders behind not found.
func (s *PaymentService) ownedOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != buyerID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *PaymentService) existingPayment(ctx context.Context, st *repository.Store, orderID string) (*models.Payment, error) {
	p, err := st.Payments.GetByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// withCreateRetry runs fn in a transaction, retrying when an insert lost a race on a
// unique column; the retry finds the winner's row and updates it instead.
func (s *PaymentService) withCreateRetry(ctx context.Context, fn func(tx *repository.Store) error) error {
	var err error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		err = s.store.Transaction(ctx, fn)
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		log.Printf("[PAYMENT] unique constraint race, retrying (attempt %d)", attempt+1)
	}
	return fmt.Errorf("%w: concurrent update, please retry", domain.ErrConflict)
}

func isOneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
