package handlers

import (
	"net/http"

	bosunapi "flotilla/pkg/api/bosun"
	"flotilla/pkg/logging"
	"flotilla/pkg/middleware"
)

// GetClientPolicy returns a client's content policy. Clients with no
// stored policy get the empty default back.
func GetClientPolicy(c middleware.Context) {
	clientID := c.Param("id")

	policy, err := policyStore.Get(c.Request.Context(), clientID)
	if err != nil {
		logger.WithError(err).WithField("client_id", clientID).Error("Failed to load client policy")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to load client policy"})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// PutClientPolicy replaces a client's content policy. Categories are
// normalized before storage so the guardrail compares them exactly.
func PutClientPolicy(c middleware.Context) {
	clientID := c.Param("id")

	var req bosunapi.PolicyPutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}
	if err := validate.ValidatePolicyPut(&req); err != nil {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: err.Error()})
		return
	}

	policy, err := policyStore.Put(c.Request.Context(), clientID, req.DisabledCategories)
	if err != nil {
		logger.WithError(err).WithField("client_id", clientID).Error("Failed to store client policy")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to store client policy"})
		return
	}

	logger.WithFields(logging.Fields{
		"client_id":           clientID,
		"disabled_categories": len(policy.DisabledCategories),
	}).Info("Client policy updated")

	c.JSON(http.StatusOK, policy)
}
