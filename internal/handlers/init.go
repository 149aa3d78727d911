package handlers

import (
	"context"

	"flotilla/internal/decisionlog"
	"flotilla/internal/jobs"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
	"flotilla/pkg/pagination"
	"flotilla/pkg/validation"
)

// ScheduleReader loads schedule entries for dashboard views.
type ScheduleReader interface {
	Get(ctx context.Context, id string) (*models.ScheduleEntry, error)
	List(ctx context.Context, clientID string, status *models.EntryStatus, channel *models.Channel) ([]models.ScheduleEntry, error)
}

// ApprovalGate applies human approve and cancel decisions through the
// same commit path the scheduler passes use.
type ApprovalGate interface {
	Approve(ctx context.Context, id, actor string) (*models.ScheduleEntry, error)
	Cancel(ctx context.Context, id, actor string) (*models.ScheduleEntry, error)
}

// PassTrigger runs a scheduler pass synchronously on demand.
type PassTrigger interface {
	Run(ctx context.Context, mode, clientID string) (*jobs.RunSummary, error)
}

// DecisionReader pages through the decision audit log.
type DecisionReader interface {
	History(ctx context.Context, clientID string, filter decisionlog.HistoryFilter, params *pagination.Params) ([]models.DecisionAction, pagination.PageInfo, error)
}

// StateReader lists per-channel posting state for a client.
type StateReader interface {
	List(ctx context.Context, clientID string) ([]models.ChannelState, error)
}

// PolicyStore reads and replaces client content policies.
type PolicyStore interface {
	Get(ctx context.Context, clientID string) (*models.ClientPolicy, error)
	Put(ctx context.Context, clientID string, disabledCategories []string) (*models.ClientPolicy, error)
}

var (
	logger        logging.Logger
	scheduleStore ScheduleReader
	approvals     ApprovalGate
	passes        PassTrigger
	decisionLog   DecisionReader
	channelStates StateReader
	policyStore   PolicyStore
	validate      *validation.RequestValidator
)

// Init initializes the handlers with the campaign engine components
func Init(log logging.Logger, entries ScheduleReader, gate ApprovalGate, trigger PassTrigger, decisions DecisionReader, states StateReader, policies PolicyStore) {
	logger = log
	scheduleStore = entries
	approvals = gate
	passes = trigger
	decisionLog = decisions
	channelStates = states
	policyStore = policies
	validate = validation.NewRequestValidator()
}
