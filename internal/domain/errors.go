package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrMalformedEvent     = errors.New("malformed event")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrValidation         = errors.New("invalid request")
)

var (
	ErrSignatureInvalid = fmt.Errorf("%w: invalid webhook signature", ErrUnauthorized)
	ErrPaymentCompleted = fmt.Errorf("%w: payment already completed", ErrConflict)
	ErrOrderNotPayable  = fmt.Errorf("%w: order is not awaiting payment", ErrConflict)
	ErrReferenceInUse   = fmt.Errorf("%w: reference number already used", ErrConflict)
)
