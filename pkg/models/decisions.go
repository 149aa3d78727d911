package models

import (
	"fmt"
	"time"
)

// ActionType classifies a DecisionAction in the audit trail.
type ActionType string

const (
	ActionSelectAsset      ActionType = "select_asset"
	ActionTimeChoice       ActionType = "time_choice"
	ActionPostingDecision  ActionType = "posting_decision"
	ActionConflictDetected ActionType = "conflict_detected"
	ActionFatigueCheck     ActionType = "fatigue_check"
	ActionScheduleCreated  ActionType = "schedule_created"
	ActionScheduleBlocked  ActionType = "schedule_blocked"
	ActionScheduleApproved ActionType = "schedule_approved"
	ActionScheduleExecuted ActionType = "schedule_executed"
	ActionScheduleFailed   ActionType = "schedule_failed"
)

// AllActionTypes lists every action type in a stable order.
var AllActionTypes = []ActionType{
	ActionSelectAsset,
	ActionTimeChoice,
	ActionPostingDecision,
	ActionConflictDetected,
	ActionFatigueCheck,
	ActionScheduleCreated,
	ActionScheduleBlocked,
	ActionScheduleApproved,
	ActionScheduleExecuted,
	ActionScheduleFailed,
}

// ParseActionType validates a raw action type string from an API request.
func ParseActionType(raw string) (ActionType, error) {
	a := ActionType(raw)
	for _, known := range AllActionTypes {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", raw)
}

// DecisionAction is one immutable audit record. Every decision the
// engine makes (asset picks, time choices, guardrail outcomes, human
// approvals) produces one; records are append-only and never mutated
// or deleted.
type DecisionAction struct {
	ID                 string     `json:"id"`
	ScheduleEntryID    *string    `json:"schedule_entry_id,omitempty"`
	ClientID           string     `json:"client_id"`
	ActionType         ActionType `json:"action_type"`
	RiskClassification string     `json:"risk_classification,omitempty"`
	Confidence         float64    `json:"confidence"`
	TruthNotes         string     `json:"truth_notes,omitempty"`
	SourceSignals      SignalList `json:"source_signals,omitempty"`
	Actor              string     `json:"actor"`
	CreatedAt          time.Time  `json:"created_at"`
}
