package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func TestClassify_CCXTErrors(t *testing.T) {
	cases := []struct {
		errType ccxt.ErrorType
		want    error
	}{
		{ccxt.RateLimitExceededErrType, ErrRateLimited},
		{ccxt.DDoSProtectionErrType, ErrRateLimited},
		{ccxt.NetworkErrorErrType, ErrNetwork},
		{ccxt.RequestTimeoutErrType, ErrNetwork},
		{ccxt.ExchangeNotAvailableErrType, ErrNetwork},
		{ccxt.OnMaintenanceErrType, ErrNetwork},
		{ccxt.AuthenticationErrorErrType, ErrAuth},
		{ccxt.PermissionDeniedErrType, ErrAuth},
		{ccxt.OrderNotFoundErrType, ErrOrderNotFound},
	}

	for _, tc := range cases {
		err := classify("bybit", &ccxt.Error{Type: tc.errType, Message: "boom"})
		if !errors.Is(err, tc.want) {
			t.Errorf("classify(%v) = %v, want %v", tc.errType, err, tc.want)
		}
	}
}

func TestClassify_UnknownCCXTErrorIsRejection(t *testing.T) {
	err := classify("bybit", &ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "margin too low"})

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Venue != "bybit" {
		t.Errorf("expected venue bybit, got %s", rejected.Venue)
	}
}

func TestClassify_ContextErrorsPassThrough(t *testing.T) {
	if err := classify("bybit", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled unchanged, got %v", err)
	}
	if err := classify("bybit", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded unchanged, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("%w: slow down", ErrRateLimited), true},
		{fmt.Errorf("%w: timeout", ErrNetwork), true},
		{fmt.Errorf("%w: bad key", ErrAuth), false},
		{&RejectedError{Venue: "bybit", Reason: "insufficient margin"}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
