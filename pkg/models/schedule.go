package models

import (
	"fmt"
	"time"
)

// EntryStatus is the lifecycle state of a ScheduleEntry.
type EntryStatus string

const (
	// StatusPending is the initial state for every planned entry.
	StatusPending EntryStatus = "pending"
	// StatusApproved means guardrails passed at low/medium risk, or a
	// human approved a high-risk entry. The draft commitment is final.
	StatusApproved EntryStatus = "approved"
	// StatusAwaitingApproval means guardrails passed but the entry was
	// classified high risk and needs a human decision.
	StatusAwaitingApproval EntryStatus = "awaiting_approval"
	// StatusCompleted means the approved draft was executed on its day.
	StatusCompleted EntryStatus = "completed"
	// StatusBlocked is terminal: guardrails rejected the entry. The
	// reason is preserved in block_reason.
	StatusBlocked EntryStatus = "blocked"
	// StatusCancelled is terminal: a human rejected or withdrew the entry.
	StatusCancelled EntryStatus = "cancelled"
	// StatusFailed is terminal for the entry itself, but the slot is
	// retryable: the next planner pass re-evaluates it as if new.
	StatusFailed EntryStatus = "failed"
)

// AllEntryStatuses lists every lifecycle state in a stable order.
var AllEntryStatuses = []EntryStatus{
	StatusPending,
	StatusApproved,
	StatusAwaitingApproval,
	StatusCompleted,
	StatusBlocked,
	StatusCancelled,
	StatusFailed,
}

// ParseEntryStatus validates a raw status string from an API request.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	s := EntryStatus(raw)
	for _, known := range AllEntryStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown schedule status %q", raw)
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the entry state machine permits
// moving from s to next. Any non-terminal state may move to failed
// (executor errors can happen at any point before completion).
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusPending:
		switch next {
		case StatusApproved, StatusAwaitingApproval, StatusBlocked, StatusCancelled:
			return true
		}
	case StatusAwaitingApproval:
		switch next {
		case StatusApproved, StatusCancelled:
			return true
		}
	case StatusApproved:
		switch next {
		case StatusCompleted, StatusCancelled:
			return true
		}
	}
	return false
}

// RiskLevel classifies how risky committing an entry is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ScheduleEntry is a proposed or committed posting slot. Entries are
// created by the planner, mutated only by the executor, and never
// hard-deleted (cancelled entries are retained for audit).
type ScheduleEntry struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"client_id"`
	Channel         Channel     `json:"channel"`
	ScheduledTime   time.Time   `json:"scheduled_time"`
	ContentPreview  string      `json:"content_preview"`
	SelectedAssetID string      `json:"selected_asset_id"`
	RiskLevel       RiskLevel   `json:"risk_level"`
	Status          EntryStatus `json:"status"`
	BlockReason     *string     `json:"block_reason,omitempty"`
	FailureCount    int         `json:"failure_count"`
	RetryOf         *string     `json:"retry_of,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
