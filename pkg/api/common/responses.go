// Package common holds the wire types shared by every service API.
package common

// ErrorResponse is the error body all endpoints return. Details carries
// optional field-level context for validation failures.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}
