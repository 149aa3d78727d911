package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"flotilla/pkg/api/bosun"
	"flotilla/pkg/models"
)

// RequestValidator performs structural and semantic validation for
// bosun API requests before they reach the campaign engine. Channel
// and status enums are checked here so invalid values never travel
// further than the HTTP boundary.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator constructs a RequestValidator with standard struct validation.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validator: validator.New(),
	}
}

// ValidateScheduleListQuery checks the schedule listing filters.
func (v *RequestValidator) ValidateScheduleListQuery(q *bosun.ScheduleListQuery) error {
	if err := v.validator.Struct(q); err != nil {
		return fmt.Errorf("query validation failed: %w", err)
	}
	if q.Status != "" {
		if _, err := models.ParseEntryStatus(q.Status); err != nil {
			return err
		}
	}
	if q.Channel != "" {
		if _, err := models.ParseChannel(q.Channel); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchedulePatch checks a human approve/cancel request.
func (v *RequestValidator) ValidateSchedulePatch(req *bosun.SchedulePatchRequest) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("patch validation failed: %w", err)
	}
	return nil
}

// ValidateSchedulerRun checks a scheduler trigger request.
func (v *RequestValidator) ValidateSchedulerRun(req *bosun.SchedulerRunRequest) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("run request validation failed: %w", err)
	}
	return nil
}

// ValidatePolicyPut checks and normalizes a policy replacement request.
// Categories are lowercased and deduplicated in place so the policy
// guardrail can compare them exactly.
func (v *RequestValidator) ValidatePolicyPut(req *bosun.PolicyPutRequest) error {
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}
	seen := make(map[string]bool, len(req.DisabledCategories))
	normalized := make([]string, 0, len(req.DisabledCategories))
	for _, category := range req.DisabledCategories {
		category = strings.ToLower(strings.TrimSpace(category))
		if category == "" {
			return fmt.Errorf("policy validation failed: blank category")
		}
		if seen[category] {
			continue
		}
		seen[category] = true
		normalized = append(normalized, category)
	}
	req.DisabledCategories = normalized
	return nil
}

// ValidateDecisionHistoryQuery checks the decision history filters.
// Limit and cursor parsing is handled by the pagination package.
func (v *RequestValidator) ValidateDecisionHistoryQuery(q *bosun.DecisionHistoryQuery) error {
	if err := v.validator.Struct(q); err != nil {
		return fmt.Errorf("query validation failed: %w", err)
	}
	if q.ActionType != "" {
		if _, err := models.ParseActionType(q.ActionType); err != nil {
			return fmt.Errorf("invalid action_type filter: %w", err)
		}
	}
	return nil
}
