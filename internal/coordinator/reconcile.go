package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"arber/internal/venue"
)

type legRef struct {
	ad     venue.Adapter
	leg    *LegOrder
	hedged bool
}

func (c *Coordinator) legPairs(session *Session) [2]legRef {
	return [2]legRef{
		{ad: c.long.Adapter, leg: &session.Long, hedged: c.long.Hedged},
		{ad: c.short.Adapter, leg: &session.Short, hedged: c.short.Hedged},
	}
}

type legUpdate struct {
	leg    *LegOrder
	update venue.OrderUpdate
}

// watch 并发轮询两腿的成交进度，任何一侧都不会阻塞另一侧。
// 首个状态更新触发 LegsPending → Reconciling。返回 true 表示
// 截止先于双腿终态到来。
func (c *Coordinator) watch(ctx context.Context, session *Session) (deadlineHit bool) {
	updates := make(chan legUpdate, 4)
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, ref := range c.legPairs(session) {
		if ref.leg.OrderID == "" || ref.leg.Status.Terminal() {
			continue
		}
		go c.pollLeg(pctx, ref.ad, ref.leg, updates)
	}

	for {
		select {
		case <-ctx.Done():
			return true
		case u := <-updates:
			c.transition(ctx, session, StateReconciling)
			applyUpdate(u.leg, u.update)
			c.recorder.RecordLeg(ctx, session.ID, *u.leg)
			if session.Long.Status.Terminal() && session.Short.Status.Terminal() {
				return false
			}
		}
	}
}

// pollLeg 轮询单腿订单状态。查询失败本身不构成交易决策，
// 截止之前无限重试。腿本身只读，状态合并在 watch 循环里完成。
func (c *Coordinator) pollLeg(ctx context.Context, ad venue.Adapter, leg *LegOrder, out chan<- legUpdate) {
	symbol, orderID := leg.Symbol, leg.OrderID

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		update, err := ad.QueryOrder(ctx, symbol, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("查询订单失败，稍后重试",
				zap.String("venue", ad.Name()),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		} else {
			select {
			case out <- legUpdate{leg: leg, update: update}:
			case <-ctx.Done():
				return
			}
			if update.Status.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// settle 在会话截止或双腿终态后做最终清算。清理动作使用独立
// 的宽限上下文：会话截止不能阻止撤单与复查，否则已成交的
// 委托会被误判为超时。
func (c *Coordinator) settle(ctx context.Context, session *Session, deadlineHit bool) {
	c.transition(ctx, session, StateReconciling)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CleanupTimeout)
	defer cancel()

	for _, ref := range c.legPairs(session) {
		if ref.leg.OrderID == "" || ref.leg.Status.Terminal() {
			continue
		}
		if err := ref.ad.CancelOrder(cctx, ref.leg.Symbol, ref.leg.OrderID); err != nil {
			switch {
			case errors.Is(err, venue.ErrAlreadyFilled), errors.Is(err, venue.ErrOrderNotFound):
				// 订单已不在场内，以复查结果为准。
			default:
				c.logger.Warn("撤单失败",
					zap.String("venue", ref.leg.Venue),
					zap.String("order_id", ref.leg.OrderID),
					zap.Error(err),
				)
			}
		}
	}

	// 交易所可能在本地取消信号之后仍然成交，宣告终态前必须复查。
	for _, ref := range c.legPairs(session) {
		if ref.leg.OrderID == "" {
			continue
		}
		c.refreshLeg(cctx, ref.ad, ref.leg)
		c.recorder.RecordLeg(cctx, session.ID, *ref.leg)
	}

	c.resolve(cctx, session, deadlineHit)
}

func (c *Coordinator) refreshLeg(ctx context.Context, ad venue.Adapter, leg *LegOrder) {
	for attempt := 0; attempt < 3; attempt++ {
		update, err := ad.QueryOrder(ctx, leg.Symbol, leg.OrderID)
		if err == nil {
			applyUpdate(leg, update)
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.PollInterval):
		}
	}
}

// resolve 由两腿的最终状态推导会话终态。终态是腿状态的纯函数，
// 没有隐藏状态。
func (c *Coordinator) resolve(cctx context.Context, session *Session, deadlineHit bool) {
	tol := c.tolerance(session)
	longFilled, shortFilled := session.Long.Filled, session.Short.Filled

	switch {
	case fullyFilled(&session.Long, tol) && fullyFilled(&session.Short, tol):
		session.Imbalance = math.Abs(longFilled - shortFilled)
		c.terminate(cctx, session, StateClosed, nil)

	case longFilled <= 0 && shortFilled <= 0:
		rejected := session.Long.Status == LegRejected || session.Short.Status == LegRejected
		if rejected && !deadlineRejected(session) {
			c.terminate(cctx, session, StateFailed, firstLegError(session))
			return
		}
		// 无成交、无交易所拒绝：截止前市场没有给出机会，没有
		// 敞口，也没有损失。
		c.logger.Info("会话超时，无任何成交",
			zap.String("session", session.ID),
			zap.Bool("deadline_hit", deadlineHit),
		)
		c.terminate(cctx, session, StateTimedOut, nil)

	case longFilled > 0 && shortFilled <= 0:
		c.rollback(cctx, session, c.legPairs(session)[0])

	case shortFilled > 0 && longFilled <= 0:
		c.rollback(cctx, session, c.legPairs(session)[1])

	default:
		c.rebalance(cctx, session)
	}
}

// rebalance 在欠量一侧补单，使双腿敞口拉平。补单次数有上限，
// 放弃后残差显式写入会话，绝不静默接受。
func (c *Coordinator) rebalance(ctx context.Context, session *Session) {
	tol := c.tolerance(session)
	closing := session.Intent.Action == ActionClose
	pairs := c.legPairs(session)

	for attempt := 1; attempt <= c.opts.MaxRebalanceAttempts; attempt++ {
		diff := session.Long.Filled - session.Short.Filled
		if math.Abs(diff) <= tol {
			break
		}

		under := pairs[0]
		if diff > 0 {
			under = pairs[1]
		}

		quantity := alignToStep(math.Abs(diff), session.StepSize)
		if quantity <= 0 {
			break
		}

		session.RebalanceAttempts = attempt
		c.logger.Info("双腿成交不平，尝试补单",
			zap.String("session", session.ID),
			zap.String("venue", under.leg.Venue),
			zap.Float64("quantity", quantity),
			zap.Int("attempt", attempt),
		)

		params := venue.OrderParams(under.leg.Venue, under.hedged, closing, under.leg.Side)
		orderID, err := under.ad.PlaceOrder(ctx, under.leg.Symbol, under.leg.OrderSide, quantity, params)
		if err != nil {
			c.logger.Warn("补单失败", zap.String("venue", under.leg.Venue), zap.Error(err))
			c.recorder.RecordDiagnostic(ctx, session.ID, "rebalance_failed", map[string]interface{}{
				"venue": under.leg.Venue, "error": err.Error(),
			})
			break
		}

		filled, avgPrice := c.awaitFill(ctx, under.ad, under.leg.Symbol, orderID)
		if filled <= 0 {
			break
		}
		mergeFill(under.leg, filled, avgPrice)
		c.recorder.RecordLeg(ctx, session.ID, *under.leg)
	}

	session.Imbalance = math.Abs(session.Long.Filled - session.Short.Filled)

	if fullyFilled(&session.Long, tol) && fullyFilled(&session.Short, tol) {
		c.terminate(ctx, session, StateClosed, nil)
		return
	}
	c.logger.Warn("会话以部分成交收场",
		zap.String("session", session.ID),
		zap.Float64("long_filled", session.Long.Filled),
		zap.Float64("short_filled", session.Short.Filled),
		zap.Float64("imbalance", session.Imbalance),
	)
	c.terminate(ctx, session, StatePartiallyFilled, nil)
}

// rollback 对唯一成交的一腿发出补偿单拉平敞口。补偿单失败时
// 升级为 Failed 并保留两腿原始状态：市场状态未知时继续盲目
// 补偿可能放大损失。
func (c *Coordinator) rollback(ctx context.Context, session *Session, filled legRef) {
	leg := filled.leg

	c.logger.Warn("单腿敞口，执行回滚",
		zap.String("session", session.ID),
		zap.String("venue", leg.Venue),
		zap.Float64("filled", leg.Filled),
	)
	c.recorder.RecordDiagnostic(ctx, session.ID, "partial_exposure", map[string]interface{}{
		"venue": leg.Venue, "filled": leg.Filled,
	})

	// 开仓回滚是把新仓位平掉，平仓回滚则是把已减掉的仓位补回来。
	closing := session.Intent.Action == ActionOpen
	params := venue.OrderParams(leg.Venue, filled.hedged, closing, leg.Side)

	compensation := LegOrder{
		Venue:     leg.Venue,
		Symbol:    leg.Symbol,
		Side:      leg.Side,
		OrderSide: leg.OrderSide.Opposite(),
		Requested: leg.Filled,
		Status:    LegPending,
	}
	c.submitLeg(ctx, filled.ad, &compensation, params)
	if compensation.Status == LegRejected {
		c.terminate(ctx, session, StateFailed, fmt.Errorf("%w: %v", ErrRollbackFailed, compensation.Err))
		return
	}

	compFilled, compPrice := c.awaitFill(ctx, filled.ad, compensation.Symbol, compensation.OrderID)
	if compFilled < leg.Filled-c.tolerance(session) {
		c.terminate(ctx, session, StateFailed,
			fmt.Errorf("%w: 补偿单仅成交 %.8f/%.8f", ErrRollbackFailed, compFilled, leg.Filled))
		return
	}

	if leg.AvgPrice > 0 && compPrice > 0 {
		if leg.OrderSide == venue.OrderSideBuy {
			session.CompensationCost = (leg.AvgPrice - compPrice) * compFilled
		} else {
			session.CompensationCost = (compPrice - leg.AvgPrice) * compFilled
		}
	}

	c.logger.Info("回滚完成",
		zap.String("session", session.ID),
		zap.Float64("compensated", compFilled),
		zap.Float64("cost", session.CompensationCost),
	)
	c.terminate(ctx, session, StateRolledBack, nil)
}

// awaitFill 轮询一笔委托直到终态或上下文结束，返回最近一次
// 观察到的成交量与均价。
func (c *Coordinator) awaitFill(ctx context.Context, ad venue.Adapter, symbol, orderID string) (float64, float64) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var last venue.OrderUpdate
	for {
		update, err := ad.QueryOrder(ctx, symbol, orderID)
		if err == nil {
			last = update
			if update.Status.Terminal() {
				return update.Filled, update.AvgPrice
			}
		}

		select {
		case <-ctx.Done():
			return last.Filled, last.AvgPrice
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) tolerance(session *Session) float64 {
	if session.StepSize > 0 {
		return session.StepSize + 1e-12
	}
	return 1e-9
}

func applyUpdate(leg *LegOrder, update venue.OrderUpdate) {
	leg.Filled = update.Filled
	if update.AvgPrice > 0 {
		leg.AvgPrice = update.AvgPrice
	}
	switch update.Status {
	case venue.StatusFilled:
		leg.Status = LegFilled
	case venue.StatusPartiallyFilled:
		leg.Status = LegPartiallyFilled
	case venue.StatusCancelled:
		leg.Status = LegCancelled
	case venue.StatusRejected:
		leg.Status = LegRejected
	default:
		leg.Status = LegSubmitted
	}
}

func mergeFill(leg *LegOrder, filled, avgPrice float64) {
	total := leg.Filled + filled
	if total > 0 && leg.AvgPrice > 0 && avgPrice > 0 {
		leg.AvgPrice = (leg.AvgPrice*leg.Filled + avgPrice*filled) / total
	} else if avgPrice > 0 {
		leg.AvgPrice = avgPrice
	}
	leg.Filled = total
}

func fullyFilled(leg *LegOrder, tol float64) bool {
	return leg.Requested > 0 && leg.Filled >= leg.Requested-tol
}

func alignToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	return math.Floor(quantity/step+1e-9) * step
}
