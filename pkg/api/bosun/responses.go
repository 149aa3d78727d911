package bosun

import (
	"flotilla/pkg/models"
	"flotilla/pkg/pagination"
)

// ScheduleEntryResponse represents a single schedule entry
type ScheduleEntryResponse = models.ScheduleEntry

// ScheduleListResponse represents the response from the schedule listing API
type ScheduleListResponse struct {
	Schedules []models.ScheduleEntry `json:"schedules"`
	Count     int                    `json:"count"`
}

// RunSummary represents the outcome counts of one scheduler pass
type RunSummary struct {
	Created  int `json:"created"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Failed   int `json:"failed"`
}

// SchedulerRunResponse represents the response from a synchronous scheduler run
type SchedulerRunResponse struct {
	Mode    SchedulerRunMode `json:"mode"`
	Summary RunSummary       `json:"summary"`
}

// DecisionHistoryResponse represents one page of the decision audit trail
type DecisionHistoryResponse struct {
	Decisions  []models.DecisionAction `json:"decisions"`
	Pagination pagination.PageInfo     `json:"pagination"`
}

// ChannelStateListResponse represents channel states for one client
type ChannelStateListResponse struct {
	States []models.ChannelState `json:"states"`
	Count  int                   `json:"count"`
}

// PolicyResponse represents a client's content policy
type PolicyResponse = models.ClientPolicy
