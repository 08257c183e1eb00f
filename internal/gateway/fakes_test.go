package gateway

import (
	"context"

	"storefront/pkg/payment"
)

type fakePusher struct {
	pushFn func(ctx context.Context, req payment.STKPushRequest) (*payment.STKPushResponse, error)
}

func (f *fakePusher) STKPush(ctx context.Context, req payment.STKPushRequest) (*payment.STKPushResponse, error) {
	return f.pushFn(ctx, req)
}

type fakeInitializer struct {
	initFn func(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error)
}

func (f *fakeInitializer) InitializeTransaction(ctx context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
	return f.initFn(ctx, req)
}
