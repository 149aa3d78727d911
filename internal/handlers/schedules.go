package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"flotilla/internal/schedules"
	bosunapi "flotilla/pkg/api/bosun"
	"flotilla/pkg/ctxkeys"
	"flotilla/pkg/logging"
	"flotilla/pkg/middleware"
	"flotilla/pkg/models"
)

// ListSchedules returns the schedule entries for a client, optionally
// narrowed by status and channel.
func ListSchedules(c middleware.Context) {
	var query bosunapi.ScheduleListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}
	if err := validate.ValidateScheduleListQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	var status *models.EntryStatus
	if query.Status != "" {
		parsed, err := models.ParseEntryStatus(query.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
			return
		}
		status = &parsed
	}

	var channel *models.Channel
	if query.Channel != "" {
		parsed, err := models.ParseChannel(query.Channel)
		if err != nil {
			c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
			return
		}
		channel = &parsed
	}

	entries, err := scheduleStore.List(c.Request.Context(), query.ClientID, status, channel)
	if err != nil {
		logger.WithError(err).WithField("client_id", query.ClientID).Error("Failed to list schedules")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to list schedules"})
		return
	}

	c.JSON(http.StatusOK, bosunapi.ScheduleListResponse{
		Schedules: entries,
		Count:     len(entries),
	})
}

// GetSchedule returns a single schedule entry by ID
func GetSchedule(c middleware.Context) {
	id := c.Param("id")

	entry, err := scheduleStore.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, schedules.ErrNotFound) {
			c.JSON(http.StatusNotFound, bosunapi.ErrorResponse{Error: "Schedule entry not found"})
			return
		}
		logger.WithError(err).WithField("entry_id", id).Error("Failed to load schedule entry")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to load schedule entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// PatchSchedule applies a human approve or cancel decision to an entry.
// The actor defaults to the authenticated user's email when the request
// body leaves it empty.
func PatchSchedule(c middleware.Context) {
	id := c.Param("id")

	var req bosunapi.SchedulePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}
	if err := validate.ValidateSchedulePatch(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = c.GetString(string(ctxkeys.KeyEmail))
	}
	if actor == "" {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: "Actor is required"})
		return
	}

	var (
		entry *models.ScheduleEntry
		err   error
	)
	switch req.Action {
	case bosunapi.PatchActionApprove:
		entry, err = approvals.Approve(c.Request.Context(), id, actor)
	case bosunapi.PatchActionCancel:
		entry, err = approvals.Cancel(c.Request.Context(), id, actor)
	default:
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, schedules.ErrNotFound):
			c.JSON(http.StatusNotFound, bosunapi.ErrorResponse{Error: "Schedule entry not found"})
		case errors.Is(err, schedules.ErrStatusConflict):
			c.JSON(http.StatusConflict, bosunapi.ErrorResponse{Error: err.Error()})
		default:
			logger.WithError(err).WithFields(logging.Fields{
				"entry_id": id,
				"action":   string(req.Action),
			}).Error("Failed to apply schedule decision")
			c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to apply schedule decision"})
		}
		return
	}

	middleware.GetContextLogger(c, logger).WithFields(logging.Fields{
		"entry_id": id,
		"action":   string(req.Action),
		"actor":    actor,
		"status":   string(entry.Status),
	}).Info("Schedule decision applied")

	c.JSON(http.StatusOK, entry)
}
