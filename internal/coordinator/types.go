package coordinator

import (
	"context"
	"errors"
	"time"

	"arber/internal/venue"
)

// ErrRollbackFailed 表示补偿单本身失败了。这是唯一需要人工
// 介入的错误类别：市场状态未知时盲目重试平仓可能放大损失，
// 协调器不再做进一步自动补救。
var ErrRollbackFailed = errors.New("coordinator: rollback failed")

// Action 区分开仓与平仓。
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// State 为会话状态机的状态。
type State string

const (
	StateIdle           State = "idle"
	StateMonitoring     State = "monitoring"
	StateTriggerArmed   State = "trigger_armed"
	StateLegsSubmitting State = "legs_submitting"
	StateLegsPending    State = "legs_pending"
	StateReconciling    State = "reconciling"

	// 终态，互不折叠：Closed 双腿完整成交；PartiallyFilled 双腿
	// 成交量不等且补单后仍有残差；RolledBack 单腿成交已用补偿单
	// 拉平；TimedOut 截止前没有任何成交；Failed 提交即被拒或补偿
	// 失败。
	StateClosed          State = "closed"
	StatePartiallyFilled State = "partially_filled"
	StateRolledBack      State = "rolled_back"
	StateFailed          State = "failed"
	StateTimedOut        State = "timed_out"
)

// Terminal 判断状态是否为终态。终态不可离开，会话不可复用。
func (s State) Terminal() bool {
	switch s {
	case StateClosed, StatePartiallyFilled, StateRolledBack, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Intent 为一次 open/close 调用的不可变输入。
type Intent struct {
	Action     Action
	LongVenue  string
	ShortVenue string
	Symbol     string
	TotalSize  float64
	Threshold  float64
	Timeout    time.Duration
}

// LegStatus 为单腿的状态。
type LegStatus string

const (
	LegPending         LegStatus = "pending"
	LegSubmitted       LegStatus = "submitted"
	LegPartiallyFilled LegStatus = "partially_filled"
	LegFilled          LegStatus = "filled"
	LegCancelled       LegStatus = "cancelled"
	LegRejected        LegStatus = "rejected"
)

// Terminal 判断单腿是否不会再变化。
func (s LegStatus) Terminal() bool {
	switch s {
	case LegFilled, LegCancelled, LegRejected:
		return true
	default:
		return false
	}
}

// LegOrder 为单腿委托的聚合视图，仅由协调器修改。
type LegOrder struct {
	Venue     string
	Symbol    string
	Side      venue.PositionSide
	OrderSide venue.OrderSide
	Requested float64
	Filled    float64
	AvgPrice  float64
	OrderID   string
	Status    LegStatus
	Err       error
}

// Session 为一次套利会话，协调器在其生命周期内独占所有权。
type Session struct {
	ID     string
	Intent Intent
	Long   LegOrder
	Short  LegOrder
	State  State

	StartedAt time.Time
	EndedAt   time.Time

	// StepSize 是两侧较粗的数量步长，也是成交量容差单位。
	StepSize float64
	// Shortfall 是归一化阶段被约束裁掉的数量。
	Shortfall float64
	// Imbalance 是终态时双腿成交量的残差，绝不静默吞掉。
	Imbalance float64
	// CompensationCost 是回滚补偿单的往返损耗（报价币计）。
	CompensationCost  float64
	RebalanceAttempts int

	Err error
}

// Recorder 消费会话过程事件，用于诊断留痕。实现不得阻塞交易路径。
type Recorder interface {
	RecordTransition(ctx context.Context, sessionID string, from, to State)
	RecordLeg(ctx context.Context, sessionID string, leg LegOrder)
	RecordDiagnostic(ctx context.Context, sessionID string, kind string, detail map[string]interface{})
	RecordOutcome(ctx context.Context, session *Session)
}

// NopRecorder 丢弃全部事件。
type NopRecorder struct{}

func (NopRecorder) RecordTransition(context.Context, string, State, State) {}

func (NopRecorder) RecordLeg(context.Context, string, LegOrder) {}

func (NopRecorder) RecordDiagnostic(context.Context, string, string, map[string]interface{}) {}

func (NopRecorder) RecordOutcome(context.Context, *Session) {}

// Options 控制协调器的重试、轮询与清理行为。
type Options struct {
	MaxSubmitAttempts    int
	MaxRebalanceAttempts int
	SubmitBackoffMin     time.Duration
	SubmitBackoffMax     time.Duration
	PollInterval         time.Duration
	UpdateInterval       time.Duration
	CleanupTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSubmitAttempts <= 0 {
		o.MaxSubmitAttempts = 3
	}
	if o.MaxRebalanceAttempts <= 0 {
		o.MaxRebalanceAttempts = 2
	}
	if o.SubmitBackoffMin <= 0 {
		o.SubmitBackoffMin = 100 * time.Millisecond
	}
	if o.SubmitBackoffMax <= 0 {
		o.SubmitBackoffMax = time.Second
	}
	if o.SubmitBackoffMin > o.SubmitBackoffMax {
		o.SubmitBackoffMax = o.SubmitBackoffMin
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = time.Second
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 30 * time.Second
	}
	return o
}

// Leg 绑定一侧的交易所适配器与账户特性。
type Leg struct {
	Adapter venue.Adapter
	Hedged  bool
}
