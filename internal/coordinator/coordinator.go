package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arber/internal/sizing"
	"arber/internal/spread"
	"arber/internal/venue"
)

// Coordinator 把两条相反方向的腿当作一个逻辑单元来提交与跟踪。
// 一个实例服务一次会话即可复用，但同一会话绝不复用。
type Coordinator struct {
	long     Leg
	short    Leg
	recorder Recorder
	logger   *zap.Logger
	opts     Options
}

// New 创建双腿协调器。
func New(long, short Leg, opts Options, recorder Recorder, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Coordinator{
		long:     long,
		short:    short,
		recorder: recorder,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// RunOpen 执行开仓会话：在 long 交易所买入、short 交易所卖出。
func (c *Coordinator) RunOpen(ctx context.Context, intent Intent) (*Session, error) {
	intent.Action = ActionOpen
	return c.run(ctx, intent)
}

// RunClose 执行平仓会话：在 long 交易所卖出、short 交易所买入。
func (c *Coordinator) RunClose(ctx context.Context, intent Intent) (*Session, error) {
	intent.Action = ActionClose
	return c.run(ctx, intent)
}

// run 驱动一次完整的会话。提交之后发生的任何交易所错误都在
// Reconciling 内消化，调用方只会拿到带着错误细节的终态会话。
func (c *Coordinator) run(ctx context.Context, intent Intent) (*Session, error) {
	if intent.Timeout <= 0 {
		return nil, fmt.Errorf("coordinator: 会话超时必须大于0")
	}
	if intent.TotalSize <= 0 {
		return nil, fmt.Errorf("coordinator: 目标数量必须大于0")
	}

	session := &Session{
		ID:        fmt.Sprintf("%s-%s-%d", intent.Action, intent.Symbol, time.Now().UnixMilli()),
		Intent:    intent,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		session.EndedAt = time.Now().UTC()
		c.recorder.RecordOutcome(context.WithoutCancel(ctx), session)
	}()

	longSymbol, err := venue.DeriveSymbol(c.long.Adapter.Name(), intent.Symbol)
	if err != nil {
		c.terminate(ctx, session, StateFailed, err)
		return session, nil
	}
	shortSymbol, err := venue.DeriveSymbol(c.short.Adapter.Name(), intent.Symbol)
	if err != nil {
		c.terminate(ctx, session, StateFailed, err)
		return session, nil
	}

	session.Long = LegOrder{
		Venue:     c.long.Adapter.Name(),
		Symbol:    longSymbol,
		Side:      venue.PositionLong,
		OrderSide: venue.OrderSideBuy,
		Status:    LegPending,
	}
	session.Short = LegOrder{
		Venue:     c.short.Adapter.Name(),
		Symbol:    shortSymbol,
		Side:      venue.PositionShort,
		OrderSide: venue.OrderSideSell,
		Status:    LegPending,
	}
	if intent.Action == ActionClose {
		session.Long.OrderSide = venue.OrderSideSell
		session.Short.OrderSide = venue.OrderSideBuy
	}

	ctx, cancel := context.WithTimeout(ctx, intent.Timeout)
	defer cancel()

	c.transition(ctx, session, StateMonitoring)

	sample, err := c.awaitTrigger(ctx, session)
	if err != nil {
		// 截止发生在监控阶段：没有任何委托，无需清理。
		if errors.Is(err, context.DeadlineExceeded) {
			c.terminate(ctx, session, StateTimedOut, nil)
			return session, nil
		}
		c.terminate(ctx, session, StateFailed, err)
		return session, nil
	}

	c.transition(ctx, session, StateTriggerArmed)

	if err := c.prepare(ctx, session, sample); err != nil {
		c.terminate(ctx, session, StateFailed, err)
		return session, nil
	}

	c.transition(ctx, session, StateLegsSubmitting)
	c.submitLegs(ctx, session)

	if session.Long.Status == LegRejected && session.Short.Status == LegRejected {
		// 两腿都没进场。截止先于提交完成不是交易所拒绝：没有
		// 敞口也没有损失，对外按超时报告。
		if deadlineRejected(session) {
			c.terminate(ctx, session, StateTimedOut, nil)
		} else {
			c.terminate(ctx, session, StateFailed, firstLegError(session))
		}
		return session, nil
	}

	deadlineHit := false
	if session.Long.Status == LegRejected || session.Short.Status == LegRejected {
		// 一腿被拒、另一腿已在场内：直接进入对账，
		// 由清算决定是回滚还是无损失败。
		c.transition(ctx, session, StateReconciling)
	} else {
		c.transition(ctx, session, StateLegsPending)
		deadlineHit = c.watch(ctx, session)
	}

	c.settle(ctx, session, deadlineHit)
	return session, nil
}

// awaitTrigger 消费价差流直到出现满足阈值的样本。边沿触发：
// 返回即停掉监控，一个合格样本只触发一轮提交。
func (c *Coordinator) awaitTrigger(ctx context.Context, session *Session) (spread.Sample, error) {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 监控方向跟随动作：开仓在 long 侧买入，平仓在 short 侧
	// 买回，两种情况下价差条件都是 spread ≥ threshold。
	buy, sell := c.long.Adapter, c.short.Adapter
	buySymbol, sellSymbol := session.Long.Symbol, session.Short.Symbol
	if session.Intent.Action == ActionClose {
		buy, sell = c.short.Adapter, c.long.Adapter
		buySymbol, sellSymbol = session.Short.Symbol, session.Long.Symbol
	}

	monitor := spread.NewMonitor(buy, sell, c.logger)
	events := monitor.Observe(mctx, buySymbol, sellSymbol, c.opts.UpdateInterval)

	for {
		select {
		case <-ctx.Done():
			return spread.Sample{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return spread.Sample{}, ctx.Err()
			}
			switch e := ev.(type) {
			case spread.Sample:
				if e.Spread >= session.Intent.Threshold {
					c.logger.Info("捕获套利机会", zap.String("session", session.ID), zap.String("sample", e.String()))
					return e, nil
				}
				c.logger.Debug("等待套利机会",
					zap.String("session", session.ID),
					zap.Float64("spread", e.Spread),
					zap.Float64("threshold", session.Intent.Threshold),
				)
			case spread.StaleQuote:
				c.logger.Warn("报价过期",
					zap.String("session", session.ID),
					zap.String("venue", e.Venue),
					zap.Duration("age", e.QuoteAge),
				)
				c.recorder.RecordDiagnostic(ctx, session.ID, "stale_quote", map[string]interface{}{
					"venue": e.Venue, "age": e.QuoteAge.String(),
				})
			case spread.FeedLost:
				c.logger.Warn("行情流中断，等待重连",
					zap.String("session", session.ID),
					zap.String("venue", e.Venue),
					zap.Duration("retry", e.Retry),
					zap.Int("attempt", e.Attempt),
				)
				c.recorder.RecordDiagnostic(ctx, session.ID, "feed_lost", map[string]interface{}{
					"venue": e.Venue, "retry": e.Retry.String(), "attempt": e.Attempt,
				})
			}
		}
	}
}

// prepare 并发拉取两侧约束并归一化数量。失败即终止，此时
// 还没有任何委托。
func (c *Coordinator) prepare(ctx context.Context, session *Session, sample spread.Sample) error {
	var longCons, shortCons venue.Constraints

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		cons, err := c.long.Adapter.InstrumentConstraints(gctx, session.Long.Symbol)
		if err != nil {
			return fmt.Errorf("读取 %s 约束失败: %w", session.Long.Venue, err)
		}
		longCons = cons
		return nil
	})
	group.Go(func() error {
		cons, err := c.short.Adapter.InstrumentConstraints(gctx, session.Short.Symbol)
		if err != nil {
			return fmt.Errorf("读取 %s 约束失败: %w", session.Short.Venue, err)
		}
		shortCons = cons
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	longPrice, shortPrice := sample.BuyAsk, sample.SellBid
	if session.Intent.Action == ActionClose {
		longPrice, shortPrice = sample.SellBid, sample.BuyAsk
	}

	plan, err := sizing.Normalize(session.Intent.TotalSize, longCons, shortCons, longPrice, shortPrice)
	if err != nil {
		return err
	}

	session.StepSize = plan.StepSize
	session.Shortfall = plan.Shortfall
	session.Long.Requested = plan.Quantity
	session.Short.Requested = plan.Quantity

	if plan.Shortfall > 0 {
		c.logger.Warn("目标数量被交易所约束裁剪",
			zap.String("session", session.ID),
			zap.Float64("requested", session.Intent.TotalSize),
			zap.Float64("achievable", plan.Quantity),
			zap.Float64("shortfall", plan.Shortfall),
		)
	}

	return nil
}

// submitLegs 并发提交两腿。顺序提交会在两次调用之间留下单边
// 敞口窗口，因此这里必须是真正的并发。
func (c *Coordinator) submitLegs(ctx context.Context, session *Session) {
	closing := session.Intent.Action == ActionClose
	longParams := venue.OrderParams(session.Long.Venue, c.long.Hedged, closing, venue.PositionLong)
	shortParams := venue.OrderParams(session.Short.Venue, c.short.Hedged, closing, venue.PositionShort)

	var group errgroup.Group
	group.Go(func() error {
		c.submitLeg(ctx, c.long.Adapter, &session.Long, longParams)
		return nil
	})
	group.Go(func() error {
		c.submitLeg(ctx, c.short.Adapter, &session.Short, shortParams)
		return nil
	})
	_ = group.Wait()

	c.recorder.RecordLeg(ctx, session.ID, session.Long)
	c.recorder.RecordLeg(ctx, session.ID, session.Short)
}

// submitLeg 提交单腿，仅对瞬时错误做有界抖动重试；明确拒绝
// 立即标记，不做无谓重试。
func (c *Coordinator) submitLeg(ctx context.Context, ad venue.Adapter, leg *LegOrder, params map[string]interface{}) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxSubmitAttempts; attempt++ {
		orderID, err := ad.PlaceOrder(ctx, leg.Symbol, leg.OrderSide, leg.Requested, params)
		if err == nil {
			leg.OrderID = orderID
			leg.Status = LegSubmitted
			return
		}

		lastErr = err
		if !venue.IsTransient(err) || attempt == c.opts.MaxSubmitAttempts {
			break
		}

		wait := c.jitterBackoff()
		c.logger.Warn("下单失败，等待重试",
			zap.String("venue", leg.Venue),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			leg.Status = LegRejected
			leg.Err = ctx.Err()
			return
		case <-time.After(wait):
		}
	}

	leg.Status = LegRejected
	leg.Err = lastErr
	c.logger.Error("下单被拒",
		zap.String("venue", leg.Venue),
		zap.String("side", string(leg.OrderSide)),
		zap.Float64("quantity", leg.Requested),
		zap.Error(lastErr),
	)
}

func (c *Coordinator) jitterBackoff() time.Duration {
	span := c.opts.SubmitBackoffMax - c.opts.SubmitBackoffMin
	if span <= 0 {
		return c.opts.SubmitBackoffMin
	}
	return c.opts.SubmitBackoffMin + time.Duration(rand.Int63n(int64(span)))
}

func (c *Coordinator) transition(ctx context.Context, session *Session, to State) {
	from := session.State
	if from == to {
		return
	}
	session.State = to
	c.logger.Info("会话状态迁移",
		zap.String("session", session.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	c.recorder.RecordTransition(ctx, session.ID, from, to)
}

func (c *Coordinator) terminate(ctx context.Context, session *Session, to State, err error) {
	session.Err = err
	c.transition(ctx, session, to)
}

// firstLegError 优先返回交易所的明确拒绝，截止类错误排在其后。
func firstLegError(session *Session) error {
	for _, err := range []error{session.Long.Err, session.Short.Err} {
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	if session.Long.Err != nil {
		return session.Long.Err
	}
	return session.Short.Err
}

// deadlineRejected 判断腿被拒是否全部源于会话截止，而非任何一家
// 交易所的明确拒绝。
func deadlineRejected(session *Session) bool {
	sawDeadline := false
	for _, err := range []error{session.Long.Err, session.Short.Err} {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		sawDeadline = true
	}
	return sawDeadline
}
