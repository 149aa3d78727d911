package handlers

import (
	"net/http"

	bosunapi "flotilla/pkg/api/bosun"
	"flotilla/pkg/middleware"
)

// GetChannelStates returns the per-channel posting state for a client.
// Channels the client has never posted to are absent from the list.
func GetChannelStates(c middleware.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, bosunapi.ErrorResponse{Error: "client_id is required"})
		return
	}

	states, err := channelStates.List(c.Request.Context(), clientID)
	if err != nil {
		logger.WithError(err).WithField("client_id", clientID).Error("Failed to list channel states")
		c.JSON(http.StatusInternalServerError, bosunapi.ErrorResponse{Error: "Failed to list channel states"})
		return
	}

	c.JSON(http.StatusOK, bosunapi.ChannelStateListResponse{
		States: states,
		Count:  len(states),
	})
}
