package domain

const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// Payment.Status and Order.PaymentStatus share these values.
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusProcessing = "PROCESSING"
	PaymentStatusPaid       = "PAID"
	PaymentStatusFailed     = "FAILED"
	PaymentStatusRefunded   = "REFUNDED"
)

// Order.Status (fulfillment).
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusRefunded   = "REFUNDED"
)

const (
	MethodMpesa          = "MPESA"
	MethodPaystack       = "PAYSTACK"
	MethodCashOnDelivery = "CASH_ON_DELIVERY"
	MethodManual         = "MANUAL"
)

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

const (
	NotifyPaymentReceived = "PAYMENT_RECEIVED"
	NotifyPaymentFailed   = "PAYMENT_FAILED"
	NotifyOrderConfirmed  = "ORDER_CONFIRMED"
	NotifyManualSubmitted = "MANUAL_PAYMENT_SUBMITTED" // admin-facing
)

// Dispositions recorded in the payment event journal.
const (
	DispositionApplied     = "APPLIED"
	DispositionDuplicate   = "DUPLICATE"
	DispositionIgnoredPaid = "IGNORED_PAID"
	DispositionIgnored     = "IGNORED"
	DispositionNotFound    = "NOT_FOUND"
	DispositionMalformed   = "MALFORMED"
)

const (
	AudienceBuyer = "BUYER"
	AudienceAdmin = "ADMIN"
)

// InitiablePaymentStatuses are the payment states from which a gateway attempt may (re)start.
var InitiablePaymentStatuses = []string{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusFailed}

// IsSettled reports whether a payment status no longer accepts automatic transitions.
func IsSettled(status string) bool {
	return status == PaymentStatusPaid || status == PaymentStatusRefunded
}
