package service

import (
	"context"
	"sync"
	"testing"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processingPush(t *testing.T, f *fixture, total int64, checkout string) (*models.Order, *models.Payment) {
	t.Helper()
	order := testutil.CreateOrder(t, f.db, "buyer-1", total)
	p := testutil.CreatePayment(t, f.db, order, &models.Payment{
		Method:         domain.MethodMpesa,
		Status:         domain.PaymentStatusProcessing,
		PushCheckoutID: testutil.StrPtr(checkout),
	})
	require.NoError(t, f.store.Orders.SetPaymentStatus(context.Background(), order.ID, domain.PaymentStatusProcessing))
	return order, p
}

func success(key string, amount int64) *gateway.Outcome {
	amt := decimal.NewFromInt(amount)
	return &gateway.Outcome{
		CorrelationKey:    key,
		Result:            domain.OutcomeSuccess,
		ReportedAmount:    &amt,
		ExternalReceiptID: "QGH12345XYZ",
		RawPayload:        []byte(`{"ok":true}`),
	}
}

func failure(key string) *gateway.Outcome {
	return &gateway.Outcome{CorrelationKey: key, Result: domain.OutcomeFailure, Message: "Request cancelled by user"}
}

func TestReconcile_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, p := processingPush(t, f, 12100, "ws_CO_replay")

	res, err := f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_replay", 12100))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionApplied, res.Disposition)
	assert.Equal(t, domain.PaymentStatusPaid, res.Payment.Status)
	require.NotNil(t, res.Payment.PaidAt)
	firstPaidAt := *res.Payment.PaidAt

	res, err = f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_replay", 12100))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionIgnoredPaid, res.Disposition)

	got, err := f.store.Payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, firstPaidAt.Equal(*got.PaidAt), "paidAt is set exactly once")
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentReceived))
	assert.Equal(t, 1, f.notifier.count(domain.NotifyOrderConfirmed))

	o, err := f.store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, o.Status)

	events, err := f.recon.EventsFor(domain.MethodMpesa, "ws_CO_replay")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.DispositionApplied, events[0].Disposition)
	assert.Equal(t, domain.DispositionIgnoredPaid, events[1].Disposition)
}

func TestReconcile_FailureThenSuccessEndsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := processingPush(t, f, 500, "ws_CO_fs")

	res, err := f.recon.Reconcile(ctx, domain.MethodMpesa, failure("ws_CO_fs"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Payment.Status)
	assert.Equal(t, "Request cancelled by user", res.Payment.ErrorMessage)
	assert.Equal(t, domain.PaymentStatusFailed, res.Order.PaymentStatus)

	res, err = f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_fs", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionApplied, res.Disposition)
	assert.Equal(t, domain.PaymentStatusPaid, res.Payment.Status)
	assert.Empty(t, res.Payment.ErrorMessage, "error cleared when leaving FAILED")

	o, _ := f.store.Orders.GetByID(ctx, order.ID)
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)
}

func TestReconcile_SuccessThenFailureStaysPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := processingPush(t, f, 500, "ws_CO_sf")

	_, err := f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_sf", 500))
	require.NoError(t, err)
	res, err := f.recon.Reconcile(ctx, domain.MethodMpesa, failure("ws_CO_sf"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionIgnoredPaid, res.Disposition)
	assert.Equal(t, domain.PaymentStatusPaid, res.Payment.Status)

	o, _ := f.store.Orders.GetByID(ctx, order.ID)
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, 0, f.notifier.count(domain.NotifyPaymentFailed))
}

func TestReconcile_DuplicateFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	processingPush(t, f, 500, "ws_CO_ff")

	res, err := f.recon.Reconcile(ctx, domain.MethodMpesa, failure("ws_CO_ff"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionApplied, res.Disposition)
	res, err = f.recon.Reconcile(ctx, domain.MethodMpesa, failure("ws_CO_ff"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionDuplicate, res.Disposition)
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentFailed))
}

func TestReconcile_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t)
	processingPush(t, f, 12100, "ws_CO_race")

	const n = 8
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.recon.Reconcile(context.Background(), domain.MethodMpesa, success("ws_CO_race", 12100))
			if assert.NoError(t, err) {
				results <- res.Disposition
			}
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for d := range results {
		if d == domain.DispositionApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentReceived))
}

func TestReconcile_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.recon.Reconcile(context.Background(), domain.MethodMpesa, success("ws_CO_unknown", 1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := f.recon.EventsFor(domain.MethodMpesa, "ws_CO_unknown")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.DispositionNotFound, events[0].Disposition)
	assert.Nil(t, events[0].PaymentID)
}

func TestReconcile_MissingKeyIsMalformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.recon.Reconcile(context.Background(), domain.MethodMpesa, &gateway.Outcome{Result: domain.OutcomeSuccess})
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestReconcile_Underpayment(t *testing.T) {
	f := newFixture(t)
	_, p := processingPush(t, f, 12100, "ws_CO_short")

	res, err := f.recon.Reconcile(context.Background(), domain.MethodMpesa, success("ws_CO_short", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionApplied, res.Disposition)
	assert.Equal(t, domain.PaymentStatusFailed, res.Payment.Status)
	assert.Equal(t, "amount mismatch: expected 12100.00, received 100.00", res.Payment.ErrorMessage)
	assert.Nil(t, res.Payment.PaidAt)
	assert.Equal(t, p.ID, res.Payment.ID)
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentFailed))
}

func TestReconcile_OverpaymentAccepted(t *testing.T) {
	f := newFixture(t)
	processingPush(t, f, 100, "ws_CO_over")

	res, err := f.recon.Reconcile(context.Background(), domain.MethodMpesa, success("ws_CO_over", 101))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, res.Payment.Status)
}

func TestReconcile_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	order := testutil.CreateOrder(t, f.db, "buyer-1", 100)
	testutil.CreatePayment(t, f.db, order, &models.Payment{
		Method: domain.MethodPaystack, Status: domain.PaymentStatusProcessing, RedirectReference: testutil.StrPtr("ref-ngn"),
	})
	out := success("ref-ngn", 100)
	out.ReportedCurrency = "NGN"

	res, err := f.recon.Reconcile(context.Background(), domain.MethodPaystack, out)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Payment.Status)
	assert.Contains(t, res.Payment.ErrorMessage, "currency mismatch")
}

func TestReconcile_FulfillmentNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed, _ := processingPush(t, f, 10, "ws_CO_conf")
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", confirmed.ID).Update("status", domain.OrderStatusConfirmed).Error)
	res, err := f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_conf", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, res.Order.Status)

	shipped, _ := processingPush(t, f, 10, "ws_CO_ship")
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", shipped.ID).Update("status", domain.OrderStatusShipped).Error)
	res, err = f.recon.Reconcile(ctx, domain.MethodMpesa, success("ws_CO_ship", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, res.Order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusShipped, res.Order.Status)
}

func TestReconcile_ManualApprovalHasNoAmountCheck(t *testing.T) {
	f := newFixture(t)
	order := testutil.CreateOrder(t, f.db, "buyer-1", 2500)
	testutil.CreatePayment(t, f.db, order, &models.Payment{
		Method: domain.MethodManual, Status: domain.PaymentStatusPending, ManualReferenceNumber: testutil.StrPtr("ABC123"),
	})

	res, err := f.recon.Reconcile(context.Background(), domain.MethodManual, f.manual.Decide("abc123", true, ""))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, res.Payment.Status)
	assert.Equal(t, "ABC123", res.Payment.ReceiptNumber)
}

func TestRecordRejected_KeepsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.recon.RecordRejected(domain.MethodMpesa, "", domain.DispositionMalformed, "bad json", []byte("not json"))

	var e models.PaymentEvent
	require.NoError(t, f.db.Where("disposition = ?", domain.DispositionMalformed).First(&e).Error)
	assert.JSONEq(t, `"not json"`, string(e.Payload))
	assert.Equal(t, "bad json", e.Detail)
}
