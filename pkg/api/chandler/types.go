package chandler

import "flotilla/pkg/models"

// ListAssetsResponse represents the response from the asset listing API
type ListAssetsResponse struct {
	Assets []models.CandidateAsset `json:"assets"`
	Error  string                  `json:"error,omitempty"`
}
