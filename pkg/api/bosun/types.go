package bosun

import (
	"flotilla/pkg/api/common"
)

// ErrorResponse aliases the shared error envelope so callers of this
// package need only one import.
type ErrorResponse = common.ErrorResponse

// ScheduleListQuery captures the filters accepted by the schedule
// listing endpoint. Status and channel are optional narrowing filters.
type ScheduleListQuery struct {
	ClientID string `form:"client_id" validate:"required"`
	Status   string `form:"status" validate:"omitempty"`
	Channel  string `form:"channel" validate:"omitempty"`
}

// SchedulePatchAction is the set of human actions accepted on an entry.
type SchedulePatchAction string

const (
	PatchActionApprove SchedulePatchAction = "approve"
	PatchActionCancel  SchedulePatchAction = "cancel"
)

// SchedulePatchRequest carries a human approve/cancel decision on a
// schedule entry. Actor identifies who decided; when empty the handler
// fills it from the authenticated user.
type SchedulePatchRequest struct {
	Action SchedulePatchAction `json:"action" validate:"required,oneof=approve cancel"`
	Actor  string              `json:"actor,omitempty"`
}

// SchedulerRunMode selects which batch pass to trigger.
type SchedulerRunMode string

const (
	RunModeDaily  SchedulerRunMode = "daily"
	RunModeWeekly SchedulerRunMode = "weekly"
)

// SchedulerRunRequest triggers a synchronous scheduler pass for one
// client, or for every known client when ClientID is empty.
type SchedulerRunRequest struct {
	Mode     SchedulerRunMode `json:"mode" validate:"required,oneof=daily weekly"`
	ClientID string           `json:"client_id,omitempty"`
}

// PolicyPutRequest replaces a client's content policy. An empty list
// clears all category restrictions.
type PolicyPutRequest struct {
	DisabledCategories []string `json:"disabled_categories" validate:"required,max=64,dive,min=1,max=128"`
}

// DecisionHistoryQuery captures the filters accepted by the decision
// history endpoint. Limit and cursor follow the shared keyset
// pagination contract.
type DecisionHistoryQuery struct {
	ClientID        string `form:"client_id" validate:"required"`
	ScheduleEntryID string `form:"schedule_entry_id"`
	ActionType      string `form:"action_type"`
	Limit           string `form:"limit"`
	Cursor          string `form:"cursor"`
}
