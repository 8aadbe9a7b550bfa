package report

import (
	"go.uber.org/zap"

	"arber/internal/coordinator"
)

// 终态互相区分的退出码，方便上层自动化对"亏钱回滚"与
// "什么都没发生"做出不同反应。
const (
	ExitOK              = 0
	ExitUsage           = 1
	ExitPartiallyFilled = 2
	ExitRolledBack      = 3
	ExitTimedOut        = 4
	ExitFailed          = 5
)

// ExitCode 把会话终态映射为进程退出码。
func ExitCode(state coordinator.State) int {
	switch state {
	case coordinator.StateClosed:
		return ExitOK
	case coordinator.StatePartiallyFilled:
		return ExitPartiallyFilled
	case coordinator.StateRolledBack:
		return ExitRolledBack
	case coordinator.StateTimedOut:
		return ExitTimedOut
	default:
		return ExitFailed
	}
}

// LogSession 输出会话终报。
func LogSession(logger *zap.Logger, session *coordinator.Session) {
	fields := []zap.Field{
		zap.String("session", session.ID),
		zap.String("action", string(session.Intent.Action)),
		zap.String("symbol", session.Intent.Symbol),
		zap.String("state", string(session.State)),
		zap.Duration("elapsed", session.EndedAt.Sub(session.StartedAt)),
		zap.Float64("long_filled", session.Long.Filled),
		zap.Float64("long_avg_price", session.Long.AvgPrice),
		zap.Float64("short_filled", session.Short.Filled),
		zap.Float64("short_avg_price", session.Short.AvgPrice),
	}
	if session.Shortfall > 0 {
		fields = append(fields, zap.Float64("shortfall", session.Shortfall))
	}
	if session.Imbalance > 0 {
		fields = append(fields, zap.Float64("imbalance", session.Imbalance))
	}
	if session.CompensationCost != 0 {
		fields = append(fields, zap.Float64("compensation_cost", session.CompensationCost))
	}
	if session.Err != nil {
		fields = append(fields, zap.Error(session.Err))
	}

	switch session.State {
	case coordinator.StateClosed:
		logger.Info("套利会话完成", fields...)
	case coordinator.StateTimedOut:
		logger.Info("套利会话超时，无持仓", fields...)
	default:
		logger.Warn("套利会话未完整成交", fields...)
	}
}
