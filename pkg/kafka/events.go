package kafka

import (
	"time"
)

// DecisionsTopic is the firehose topic carrying every decision the
// orchestration engine records.
const DecisionsTopic = "bosun.decisions"

// DecisionEvent is the wire form of a decision audit record. Downstream
// analytics consumes these; the engine only produces.
type DecisionEvent struct {
	EventID         string                   `json:"event_id"`
	ScheduleEntryID string                   `json:"schedule_entry_id,omitempty"`
	ClientID        string                   `json:"client_id"`
	Channel         string                   `json:"channel,omitempty"`
	ActionType      string                   `json:"action_type"`
	RiskLevel       string                   `json:"risk_level,omitempty"`
	Confidence      float64                  `json:"confidence"`
	TruthNotes      string                   `json:"truth_notes,omitempty"`
	SourceSignals   []map[string]interface{} `json:"source_signals,omitempty"`
	Actor           string                   `json:"actor"`
	Timestamp       time.Time                `json:"timestamp"`
	SchemaVersion   string                   `json:"schema_version"`
}
