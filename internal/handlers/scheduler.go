package handlers

import (
	"net/http"

	"flotilla/internal/decisionlog"
	bosunapi "flotilla/pkg/api/bosun"
	"flotilla/pkg/logging"
	"flotilla/pkg/middleware"
	"flotilla/pkg/pagination"
)

// TriggerSchedulerRun runs a daily or weekly pass synchronously and
// returns the outcome counts. Long runs hold the request open, so this
// sits behind service auth rather than the dashboard routes.
func TriggerSchedulerRun(c middleware.Context) {
	var req bosunapi.SchedulerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}
	if err := validate.ValidateSchedulerRun(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	summary, err := passes.Run(c.Request.Context(), string(req.Mode), req.ClientID)
	if err != nil {
		middleware.GetContextLogger(c, logger).WithError(err).WithFields(logging.Fields{
			"mode":      string(req.Mode),
			"client_id": req.ClientID,
		}).Error("Scheduler pass failed")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Scheduler pass failed"})
		return
	}

	c.JSON(http.StatusOK, bosunapi.SchedulerRunResponse{
		Mode: req.Mode,
		Summary: bosunapi.RunSummary{
			Created:  summary.Created,
			Approved: summary.Approved,
			Blocked:  summary.Blocked,
			Failed:   summary.Failed,
		},
	})
}

// GetDecisionHistory returns one page of the decision audit trail for a
// client, newest first.
func GetDecisionHistory(c middleware.Context) {
	var query bosunapi.DecisionHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}
	if err := validate.ValidateDecisionHistoryQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	params, err := pagination.ParseQuery(query.Limit, query.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	filter := decisionlog.HistoryFilter{
		ScheduleEntryID: query.ScheduleEntryID,
		ActionType:      query.ActionType,
	}

	decisions, pageInfo, err := decisionLog.History(c.Request.Context(), query.ClientID, filter, params)
	if err != nil {
		logger.WithError(err).WithField("client_id", query.ClientID).Error("Failed to load decision history")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to load decision history"})
		return
	}

	c.JSON(http.StatusOK, bosunapi.DecisionHistoryResponse{
		Decisions:  decisions,
		Pagination: pageInfo,
	})
}
