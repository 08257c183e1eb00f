package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"storefront/internal/gateway"
	"storefront/internal/repository"
	"storefront/internal/testutil"
	"storefront/pkg/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Dispatch(n Notice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return true
}

func (r *recordingNotifier) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}

type fakePusher struct {
	seq    atomic.Int64
	pushFn func(ctx context.Context, req payment.STKPushRequest) (*payment.STKPushResponse, error)
}

func (f *fakePusher) STKPush(ctx context.Context, req payment.STKPushRequest) (*payment.STKPushResponse, error) {
	if f.pushFn != nil {
		return f.pushFn(ctx, req)
	}
	return &payment.STKPushResponse{
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", f.seq.Add(1)),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type fakeInitializer struct{}

func (fakeInitializer) InitializeTransaction(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
	return &payment.InitializeResponse{AuthorizationURL: "https://checkout.paystack.com/" + req.Reference, Reference: req.Reference}, nil
}

type fakeUploader struct {
	folder, publicID string
}

func (f *fakeUploader) UploadImage(ctx context.Context, file io.Reader, folder, publicID string) (string, error) {
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	f.folder, f.publicID = folder, publicID
	return "https://res.cloudinary.com/demo/image/upload/" + publicID, nil
}

const webhookSecret = "sk_test_webhook"

type fixture struct {
	db       *gorm.DB
	store    *repository.Store
	notifier *recordingNotifier
	recon    *ReconciliationService
	svc      *PaymentService
	pusher   *fakePusher
	push     *gateway.PushAdapter
	redirect *gateway.RedirectAdapter
	manual   *gateway.ManualAdapter
	uploader *fakeUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	notifier := &recordingNotifier{}
	recon := NewReconciliationService(store, repository.NewPaymentEventRepository(db), notifier)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	pusher := &fakePusher{}
	push := gateway.NewPushAdapter(pusher)
	redirect := gateway.NewRedirectAdapter(fakeInitializer{}, webhookSecret, "", node)
	manual := gateway.NewManualAdapter()
	uploader := &fakeUploader{}
	svc := NewPaymentService(store, gateway.NewRegistry(push, redirect, manual), manual, recon,
		notifier, repository.NewAuditLogRepository(db), uploader, "proofs")

	return &fixture{
		db: db, store: store, notifier: notifier, recon: recon, svc: svc,
		pusher: pusher, push: push, redirect: redirect, manual: manual, uploader: uploader,
	}
}
