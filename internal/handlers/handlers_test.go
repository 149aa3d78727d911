package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"flotilla/internal/decisionlog"
	"flotilla/internal/jobs"
	"flotilla/internal/schedules"
	"flotilla/pkg/models"
	"flotilla/pkg/pagination"
)

// --- Stubs ---

type listCall struct {
	clientID string
	status   *models.EntryStatus
	channel  *models.Channel
}

type scheduleReaderStub struct {
	entries    map[string]*models.ScheduleEntry
	getErr     error
	listResult []models.ScheduleEntry
	listErr    error
	listCalls  []listCall
}

func (s *scheduleReaderStub) Get(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[id]
	if !ok {
		return nil, schedules.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *scheduleReaderStub) List(ctx context.Context, clientID string, status *models.EntryStatus, channel *models.Channel) ([]models.ScheduleEntry, error) {
	s.listCalls = append(s.listCalls, listCall{clientID: clientID, status: status, channel: channel})
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listResult, nil
}

type actorCall struct {
	id    string
	actor string
}

type approvalStub struct {
	entry     *models.ScheduleEntry
	err       error
	approved  []actorCall
	cancelled []actorCall
}

func (s *approvalStub) Approve(ctx context.Context, id, actor string) (*models.ScheduleEntry, error) {
	s.approved = append(s.approved, actorCall{id: id, actor: actor})
	if s.err != nil {
		return nil, s.err
	}
	return s.entry, nil
}

func (s *approvalStub) Cancel(ctx context.Context, id, actor string) (*models.ScheduleEntry, error) {
	s.cancelled = append(s.cancelled, actorCall{id: id, actor: actor})
	if s.err != nil {
		return nil, s.err
	}
	return s.entry, nil
}

type runCall struct {
	mode     string
	clientID string
}

type passTriggerStub struct {
	summary *jobs.RunSummary
	err     error
	runs    []runCall
}

func (s *passTriggerStub) Run(ctx context.Context, mode, clientID string) (*jobs.RunSummary, error) {
	s.runs = append(s.runs, runCall{mode: mode, clientID: clientID})
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

type decisionReaderStub struct {
	decisions    []models.DecisionAction
	pageInfo     pagination.PageInfo
	err          error
	lastClientID string
	lastFilter   decisionlog.HistoryFilter
	lastParams   *pagination.Params
}

func (s *decisionReaderStub) History(ctx context.Context, clientID string, filter decisionlog.HistoryFilter, params *pagination.Params) ([]models.DecisionAction, pagination.PageInfo, error) {
	s.lastClientID = clientID
	s.lastFilter = filter
	s.lastParams = params
	if s.err != nil {
		return nil, pagination.PageInfo{}, s.err
	}
	return s.decisions, s.pageInfo, nil
}

type stateReaderStub struct {
	states []models.ChannelState
	err    error
}

func (s *stateReaderStub) List(ctx context.Context, clientID string) ([]models.ChannelState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.states, nil
}

type putCall struct {
	clientID   string
	categories []string
}

type policyStoreStub struct {
	policies map[string]*models.ClientPolicy
	getErr   error
	putErr   error
	puts     []putCall
}

func (s *policyStoreStub) Get(ctx context.Context, clientID string) (*models.ClientPolicy, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if policy, ok := s.policies[clientID]; ok {
		return policy, nil
	}
	return &models.ClientPolicy{ClientID: clientID, DisabledCategories: []string{}}, nil
}

func (s *policyStoreStub) Put(ctx context.Context, clientID string, disabledCategories []string) (*models.ClientPolicy, error) {
	s.puts = append(s.puts, putCall{clientID: clientID, categories: disabledCategories})
	if s.putErr != nil {
		return nil, s.putErr
	}
	policy := &models.ClientPolicy{
		ClientID:           clientID,
		DisabledCategories: disabledCategories,
		UpdatedAt:          time.Now(),
	}
	s.policies[clientID] = policy
	return policy, nil
}

// --- Harness ---

type handlerHarness struct {
	router    *gin.Engine
	entries   *scheduleReaderStub
	approvals *approvalStub
	passes    *passTriggerStub
	decisions *decisionReaderStub
	states    *stateReaderStub
	policies  *policyStoreStub
}

func setupHandlerTest() *handlerHarness {
	gin.SetMode(gin.TestMode)

	h := &handlerHarness{
		entries:   &scheduleReaderStub{entries: map[string]*models.ScheduleEntry{}},
		approvals: &approvalStub{},
		passes:    &passTriggerStub{summary: &jobs.RunSummary{}},
		decisions: &decisionReaderStub{},
		states:    &stateReaderStub{},
		policies:  &policyStoreStub{policies: map[string]*models.ClientPolicy{}},
	}

	log, _ := test.NewNullLogger()
	Init(log, h.entries, h.approvals, h.passes, h.decisions, h.states, h.policies)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/schedules", ListSchedules)
	v1.GET("/schedules/:id", GetSchedule)
	v1.PATCH("/schedules/:id", PatchSchedule)
	v1.POST("/scheduler/run", TriggerSchedulerRun)
	v1.GET("/scheduler/decisions", GetDecisionHistory)
	v1.GET("/channels/state", GetChannelStates)
	v1.GET("/clients/:id/policy", GetClientPolicy)
	v1.PUT("/clients/:id/policy", PutClientPolicy)
	h.router = router
	return h
}

func (h *handlerHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
}

func testEntry(id string, status models.EntryStatus) *models.ScheduleEntry {
	return &models.ScheduleEntry{
		ID:             id,
		ClientID:       "client-1",
		Channel:        models.ChannelInstagram,
		ScheduledTime:  time.Date(2026, 4, 7, 15, 0, 0, 0, time.UTC),
		ContentPreview: "Behind the scenes at the spring shoot",
		RiskLevel:      models.RiskLow,
		Status:         status,
		CreatedAt:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}
