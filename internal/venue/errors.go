package venue

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrRateLimited 表示交易所限频，可在退避后重试。
	ErrRateLimited = errors.New("venue: rate limited")
	// ErrNetwork 表示网络或交易所暂时不可用，可重试。
	ErrNetwork = errors.New("venue: network failure")
	// ErrAuth 表示凭证无效或权限不足，不可重试。
	ErrAuth = errors.New("venue: authentication failed")
	// ErrOrderNotFound 表示交易所不认识该订单号。
	ErrOrderNotFound = errors.New("venue: order not found")
	// ErrAlreadyFilled 表示撤单时订单已经成交。
	ErrAlreadyFilled = errors.New("venue: order already filled")
)

// RejectedError 表示交易所明确拒绝了委托，原因包括参数错误、
// 保证金不足等，重试没有意义。
type RejectedError struct {
	Venue  string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("venue: %s rejected order: %s", e.Venue, e.Reason)
}

// IsTransient 判断错误是否属于可退避重试的瞬时故障。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// classify 将 ccxt 的错误体系映射到统一的错误分类。
// 映射关系与交易所无关，交易所差异已由 ccxt 消化。
func classify(venueName string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType:
			return fmt.Errorf("%w: %s", ErrRateLimited, ccxtErr.Message)
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%w: %s", ErrNetwork, ccxtErr.Message)
		case ccxt.AuthenticationErrorErrType,
			ccxt.PermissionDeniedErrType,
			ccxt.AccountSuspendedErrType:
			return fmt.Errorf("%w: %s", ErrAuth, ccxtErr.Message)
		case ccxt.OrderNotFoundErrType:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, ccxtErr.Message)
		default:
			return &RejectedError{Venue: venueName, Reason: ccxtErr.Message}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	return err
}
