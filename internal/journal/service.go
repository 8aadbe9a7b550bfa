package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arber/internal/coordinator"
)

// EventType 表示会话过程事件类型。
type EventType string

const (
	EventTransition EventType = "transition"
	EventLeg        EventType = "leg"
	EventDiagnostic EventType = "diagnostic"
	EventOutcome    EventType = "outcome"
)

// Event 为一条已持久化的会话事件。
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Service 把协调器的过程事件写入 SQLite，仅用于诊断留痕；
// 协调器从不读回这些行来做决策。写入失败只记日志，绝不
// 阻断交易路径。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化事件日志，创建所需表结构。
func NewService(store *Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
CREATE INDEX IF NOT EXISTS idx_session_events_type ON session_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, sessionID string, eventType EventType, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("序列化事件失败", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	// 会话截止不应阻止留痕，写入使用不受取消影响的上下文。
	_, err = s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO session_events (session_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(eventType), string(body), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("写入事件失败", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// RecordTransition 记录状态迁移。
func (s *Service) RecordTransition(ctx context.Context, sessionID string, from, to coordinator.State) {
	s.record(ctx, sessionID, EventTransition, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

// RecordLeg 记录单腿快照。
func (s *Service) RecordLeg(ctx context.Context, sessionID string, leg coordinator.LegOrder) {
	payload := map[string]interface{}{
		"venue":     leg.Venue,
		"symbol":    leg.Symbol,
		"side":      string(leg.Side),
		"requested": leg.Requested,
		"filled":    leg.Filled,
		"avg_price": leg.AvgPrice,
		"order_id":  leg.OrderID,
		"status":    string(leg.Status),
	}
	if leg.Err != nil {
		payload["error"] = leg.Err.Error()
	}
	s.record(ctx, sessionID, EventLeg, payload)
}

// RecordDiagnostic 记录监控降级等诊断事件。
func (s *Service) RecordDiagnostic(ctx context.Context, sessionID string, kind string, detail map[string]interface{}) {
	payload := map[string]interface{}{"kind": kind}
	for k, v := range detail {
		payload[k] = v
	}
	s.record(ctx, sessionID, EventDiagnostic, payload)
}

// RecordOutcome 记录会话终态。
func (s *Service) RecordOutcome(ctx context.Context, session *coordinator.Session) {
	payload := map[string]interface{}{
		"action":             string(session.Intent.Action),
		"symbol":             session.Intent.Symbol,
		"state":              string(session.State),
		"long_filled":        session.Long.Filled,
		"short_filled":       session.Short.Filled,
		"shortfall":          session.Shortfall,
		"imbalance":          session.Imbalance,
		"compensation_cost":  session.CompensationCost,
		"rebalance_attempts": session.RebalanceAttempts,
		"started_at":         session.StartedAt.Format(time.RFC3339),
	}
	if session.Err != nil {
		payload["error"] = session.Err.Error()
	}
	s.record(ctx, session.ID, EventOutcome, payload)
}

// ListEvents 按会话检索最近事件，调试用。
func (s *Service) ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT session_id, event_type, payload, created_at FROM session_events`
	args := make([]interface{}, 0, 2)
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			sid     string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&sid, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			SessionID: sid,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}

var _ coordinator.Recorder = (*Service)(nil)
