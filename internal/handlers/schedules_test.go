package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"flotilla/internal/schedules"
	bosunapi "flotilla/pkg/api/bosun"
	"flotilla/pkg/ctxkeys"
	"flotilla/pkg/models"
)

func TestListSchedulesFiltersByStatusAndChannel(t *testing.T) {
	h := setupHandlerTest()
	h.entries.listResult = []models.ScheduleEntry{
		*testEntry("entry-1", models.StatusPending),
		*testEntry("entry-2", models.StatusApproved),
	}

	resp := h.do(t, http.MethodGet, "/api/v1/schedules?client_id=client-1&status=pending&channel=instagram", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body bosunapi.ScheduleListResponse
	decodeBody(t, resp, &body)
	if body.Count != 2 || len(body.Schedules) != 2 {
		t.Fatalf("expected 2 schedules, got count=%d len=%d", body.Count, len(body.Schedules))
	}

	if len(h.entries.listCalls) != 1 {
		t.Fatalf("expected 1 list call, got %d", len(h.entries.listCalls))
	}
	call := h.entries.listCalls[0]
	if call.clientID != "client-1" {
		t.Fatalf("client id = %q", call.clientID)
	}
	if call.status == nil || *call.status != models.StatusPending {
		t.Fatalf("status filter = %v, want pending", call.status)
	}
	if call.channel == nil || *call.channel != models.ChannelInstagram {
		t.Fatalf("channel filter = %v, want instagram", call.channel)
	}
}

func TestListSchedulesRequiresClientID(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodGet, "/api/v1/schedules", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(h.entries.listCalls) != 0 {
		t.Fatal("store should not be queried on invalid input")
	}
}

func TestListSchedulesRejectsUnknownStatus(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodGet, "/api/v1/schedules?client_id=client-1&status=archived", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListSchedulesRejectsUnknownChannel(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodGet, "/api/v1/schedules?client_id=client-1&channel=myspace", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGetScheduleReturnsEntry(t *testing.T) {
	h := setupHandlerTest()
	h.entries.entries["entry-1"] = testEntry("entry-1", models.StatusApproved)

	resp := h.do(t, http.MethodGet, "/api/v1/schedules/entry-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var entry models.ScheduleEntry
	decodeBody(t, resp, &entry)
	if entry.ID != "entry-1" || entry.Status != models.StatusApproved {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestGetScheduleNotFound(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodGet, "/api/v1/schedules/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPatchScheduleApprovesWithBodyActor(t *testing.T) {
	h := setupHandlerTest()
	h.approvals.entry = testEntry("entry-1", models.StatusApproved)

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/entry-1", bosunapi.SchedulePatchRequest{
		Action: bosunapi.PatchActionApprove,
		Actor:  "reviewer@agency.example",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	if len(h.approvals.approved) != 1 {
		t.Fatalf("expected 1 approve call, got %d", len(h.approvals.approved))
	}
	call := h.approvals.approved[0]
	if call.id != "entry-1" || call.actor != "reviewer@agency.example" {
		t.Fatalf("approve call = %+v", call)
	}

	var entry models.ScheduleEntry
	decodeBody(t, resp, &entry)
	if entry.Status != models.StatusApproved {
		t.Fatalf("status = %q, want approved", entry.Status)
	}
}

func TestPatchScheduleCancelUsesSessionActor(t *testing.T) {
	h := setupHandlerTest()
	h.approvals.entry = testEntry("entry-1", models.StatusCancelled)

	router := gin.New()
	router.PATCH("/api/v1/schedules/:id", func(c *gin.Context) {
		c.Set(string(ctxkeys.KeyEmail), "ops@flotilla.example")
	}, PatchSchedule)
	h.router = router

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/entry-1", bosunapi.SchedulePatchRequest{
		Action: bosunapi.PatchActionCancel,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	if len(h.approvals.cancelled) != 1 {
		t.Fatalf("expected 1 cancel call, got %d", len(h.approvals.cancelled))
	}
	if h.approvals.cancelled[0].actor != "ops@flotilla.example" {
		t.Fatalf("actor = %q, want session email", h.approvals.cancelled[0].actor)
	}
}

func TestPatchScheduleRequiresActor(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/entry-1", bosunapi.SchedulePatchRequest{
		Action: bosunapi.PatchActionApprove,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(h.approvals.approved) != 0 {
		t.Fatal("approve should not be called without an actor")
	}
}

func TestPatchScheduleRejectsUnknownAction(t *testing.T) {
	h := setupHandlerTest()

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/entry-1", map[string]string{
		"action": "publish",
		"actor":  "reviewer@agency.example",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPatchScheduleStatusConflict(t *testing.T) {
	h := setupHandlerTest()
	h.approvals.err = fmt.Errorf("%w: entry entry-1 is pending", schedules.ErrStatusConflict)

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/entry-1", bosunapi.SchedulePatchRequest{
		Action: bosunapi.PatchActionApprove,
		Actor:  "reviewer@agency.example",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPatchScheduleMissingEntry(t *testing.T) {
	h := setupHandlerTest()
	h.approvals.err = fmt.Errorf("%w: entry missing", schedules.ErrNotFound)

	resp := h.do(t, http.MethodPatch, "/api/v1/schedules/missing", bosunapi.SchedulePatchRequest{
		Action: bosunapi.PatchActionCancel,
		Actor:  "reviewer@agency.example",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
