package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flotilla/pkg/database"
	"flotilla/pkg/kafka"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
	"flotilla/pkg/pagination"
)

// EventPublisher pushes decision events onto the analytics firehose.
// Implemented by kafka.Producer; nil disables publishing.
type EventPublisher interface {
	PublishDecisionEvent(event *kafka.DecisionEvent) error
}

// Logger appends decision actions to the audit trail. Record never
// returns an error and never blocks on the firehose: a decision record
// that cannot be written must not fail the orchestration that made the
// decision. Drops are logged and counted instead.
type Logger struct {
	db        database.PostgresConn
	publisher EventPublisher
	logger    logging.Logger
}

// NewLogger creates a decision logger. publisher may be nil.
func NewLogger(db database.PostgresConn, publisher EventPublisher, logger logging.Logger) *Logger {
	return &Logger{db: db, publisher: publisher, logger: logger}
}

// Record appends one action, filling id, actor and created_at when the
// caller left them zero.
func (l *Logger) Record(ctx context.Context, action *models.DecisionAction) {
	if action == nil {
		return
	}
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.Actor == "" {
		action.Actor = "system"
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if action.SourceSignals == nil {
		action.SourceSignals = models.SignalList{}
	}

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO bosun.decision_actions
			(id, schedule_entry_id, client_id, action_type, risk_classification,
			 confidence, truth_notes, source_signals, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		action.ID, action.ScheduleEntryID, action.ClientID, string(action.ActionType),
		action.RiskClassification, action.Confidence, action.TruthNotes,
		action.SourceSignals, action.Actor, action.CreatedAt,
	); err != nil {
		decisionsDroppedTotal.Inc()
		l.logger.WithFields(logging.Fields{
			"action_id":   action.ID,
			"client_id":   action.ClientID,
			"action_type": action.ActionType,
			"error":       err,
		}).Warn("Failed to persist decision action")
	} else {
		decisionsRecordedTotal.WithLabelValues(string(action.ActionType)).Inc()
	}

	if l.publisher != nil {
		event := toEvent(action)
		go func() {
			if err := l.publisher.PublishDecisionEvent(event); err != nil {
				decisionPublishFailuresTotal.Inc()
				l.logger.WithFields(logging.Fields{
					"action_id": event.EventID,
					"error":     err,
				}).Warn("Failed to publish decision event")
			}
		}()
	}
}

func toEvent(action *models.DecisionAction) *kafka.DecisionEvent {
	event := &kafka.DecisionEvent{
		EventID:       action.ID,
		ClientID:      action.ClientID,
		ActionType:    string(action.ActionType),
		RiskLevel:     action.RiskClassification,
		Confidence:    action.Confidence,
		TruthNotes:    action.TruthNotes,
		SourceSignals: action.SourceSignals,
		Actor:         action.Actor,
		Timestamp:     action.CreatedAt,
		SchemaVersion: "1.0",
	}
	if action.ScheduleEntryID != nil {
		event.ScheduleEntryID = *action.ScheduleEntryID
	}
	return event
}

// HistoryFilter narrows the decision history query. Zero values are
// ignored.
type HistoryFilter struct {
	ScheduleEntryID string
	ActionType      string
}

// History returns a client's decision actions, newest first, with
// keyset pagination.
func (l *Logger) History(ctx context.Context, clientID string, filter HistoryFilter, params *pagination.Params) ([]models.DecisionAction, pagination.PageInfo, error) {
	if params == nil {
		params = &pagination.Params{Limit: pagination.DefaultLimit}
	}
	limit := pagination.ClampLimit(params.Limit)

	query := `
		SELECT id, schedule_entry_id, client_id, action_type, risk_classification,
		       confidence, truth_notes, source_signals, actor, created_at
		FROM bosun.decision_actions
		WHERE client_id = $1`
	args := []interface{}{clientID}

	if filter.ScheduleEntryID != "" {
		args = append(args, filter.ScheduleEntryID)
		query += fmt.Sprintf(" AND schedule_entry_id = $%d", len(args))
	}
	if filter.ActionType != "" {
		args = append(args, filter.ActionType)
		query += fmt.Sprintf(" AND action_type = $%d", len(args))
	}

	keyset := pagination.KeysetBuilder{TimestampColumn: "created_at", IDColumn: "id"}
	if cond, condArgs := keyset.Condition(params, len(args)+1); cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	query += " " + keyset.OrderBy()
	query += fmt.Sprintf(" LIMIT %d", limit+1)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pagination.PageInfo{}, fmt.Errorf("query decision history: %w", err)
	}
	defer rows.Close()

	actions := []models.DecisionAction{}
	for rows.Next() {
		var action models.DecisionAction
		var entryID sql.NullString
		var rawType string
		if err := rows.Scan(
			&action.ID,
			&entryID,
			&action.ClientID,
			&rawType,
			&action.RiskClassification,
			&action.Confidence,
			&action.TruthNotes,
			&action.SourceSignals,
			&action.Actor,
			&action.CreatedAt,
		); err != nil {
			return nil, pagination.PageInfo{}, fmt.Errorf("scan decision action: %w", err)
		}
		action.ActionType = models.ActionType(rawType)
		if entryID.Valid {
			id := entryID.String
			action.ScheduleEntryID = &id
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, pagination.PageInfo{}, fmt.Errorf("iterate decision actions: %w", err)
	}

	fetched := len(actions)
	if fetched > limit {
		actions = actions[:limit]
	}
	var info pagination.PageInfo
	if len(actions) > 0 {
		last := actions[len(actions)-1]
		info = pagination.BuildPageInfo(fetched, limit, last.CreatedAt, last.ID)
	}
	return actions, info, nil
}
