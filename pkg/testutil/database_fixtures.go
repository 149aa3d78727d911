package testutil

import (
	"database/sql/driver"
	"time"

	"flotilla/pkg/models"
)

// DatabaseFixtures builds the model values and sqlmock row data shared by
// the store tests. Timestamps are fixed so expectations stay deterministic.
type DatabaseFixtures struct{}

func NewDatabaseFixtures() *DatabaseFixtures {
	return &DatabaseFixtures{}
}

// FreshChannelState creates a zero-state as produced by lazy creation
func (f *DatabaseFixtures) FreshChannelState(clientID string, channel models.Channel) *models.ChannelState {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return &models.ChannelState{
		ClientID:        clientID,
		Channel:         channel,
		FatigueScore:    0,
		MomentumScore:   0,
		VisibilityScore: 0,
		EngagementScore: 0,
		LastPostAt:      nil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// FatiguedChannelState creates a state above the fatigue block threshold
func (f *DatabaseFixtures) FatiguedChannelState(clientID string, channel models.Channel) *models.ChannelState {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	lastPost := now.Add(-6 * time.Hour)
	return &models.ChannelState{
		ClientID:        clientID,
		Channel:         channel,
		FatigueScore:    0.85,
		MomentumScore:   0.40,
		VisibilityScore: 0.55,
		EngagementScore: 0.30,
		LastPostAt:      &lastPost,
		CreatedAt:       now.Add(-30 * 24 * time.Hour),
		UpdatedAt:       now,
	}
}

// GetChannelStateColumns lists the columns channel state queries select,
// in the order the store scans them.
func (f *DatabaseFixtures) GetChannelStateColumns() []string {
	return []string{
		"client_id", "channel", "fatigue_score", "momentum_score",
		"visibility_score", "engagement_score", "last_post_at",
		"created_at", "updated_at",
	}
}

// GetChannelStateRowData flattens a ChannelState into sqlmock row values.
func (f *DatabaseFixtures) GetChannelStateRowData(state *models.ChannelState) []interface{} {
	var lastPostAt interface{}
	if state.LastPostAt != nil {
		lastPostAt = *state.LastPostAt
	}
	return []interface{}{
		state.ClientID, string(state.Channel), state.FatigueScore, state.MomentumScore,
		state.VisibilityScore, state.EngagementScore, lastPostAt,
		state.CreatedAt, state.UpdatedAt,
	}
}

// PendingScheduleEntry creates a planner-produced entry awaiting guardrails
func (f *DatabaseFixtures) PendingScheduleEntry(clientID string, channel models.Channel) *models.ScheduleEntry {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return &models.ScheduleEntry{
		ID:              "e1000000-0000-0000-0000-000000000001",
		ClientID:        clientID,
		Channel:         channel,
		ScheduledTime:   now.Add(26 * time.Hour),
		ContentPreview:  "Spring launch teaser",
		SelectedAssetID: "asset-101",
		RiskLevel:       models.RiskLow,
		Status:          models.StatusPending,
		FailureCount:    0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AwaitingApprovalEntry creates a high-risk entry waiting on a human
func (f *DatabaseFixtures) AwaitingApprovalEntry(clientID string, channel models.Channel) *models.ScheduleEntry {
	entry := f.PendingScheduleEntry(clientID, channel)
	entry.ID = "e1000000-0000-0000-0000-000000000002"
	entry.RiskLevel = models.RiskHigh
	entry.Status = models.StatusAwaitingApproval
	return entry
}

// GetScheduleEntryColumns lists the columns schedule entry queries select,
// in the order the store scans them.
func (f *DatabaseFixtures) GetScheduleEntryColumns() []string {
	return []string{
		"id", "client_id", "channel", "scheduled_time", "content_preview",
		"selected_asset_id", "risk_level", "status", "block_reason",
		"failure_count", "retry_of", "created_at", "updated_at",
	}
}

// GetScheduleEntryRowData flattens a ScheduleEntry into sqlmock row values.
func (f *DatabaseFixtures) GetScheduleEntryRowData(entry *models.ScheduleEntry) []interface{} {
	var blockReason interface{}
	if entry.BlockReason != nil {
		blockReason = *entry.BlockReason
	}
	var retryOf interface{}
	if entry.RetryOf != nil {
		retryOf = *entry.RetryOf
	}
	return []interface{}{
		entry.ID, entry.ClientID, string(entry.Channel), entry.ScheduledTime, entry.ContentPreview,
		entry.SelectedAssetID, string(entry.RiskLevel), string(entry.Status), blockReason,
		entry.FailureCount, retryOf, entry.CreatedAt, entry.UpdatedAt,
	}
}

// CandidateAssets creates a ranked-ready asset set with distinct scores.
// The first asset wins on raw score, the second is a close runner-up,
// the third is stale, the fourth lacks cited data sources.
func (f *DatabaseFixtures) CandidateAssets() []models.CandidateAsset {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.CandidateAsset{
		{
			ID:                    "asset-101",
			Title:                 "Spring launch teaser",
			Preview:               "Spring launch teaser",
			Category:              "product",
			ContentValue:          0.9,
			PredictedImpact:       0.8,
			Confidence:            0.85,
			DataSources:           []string{"crm:opportunities", "site:analytics"},
			BrandConsistencyScore: 0.95,
			CreatedAt:             base.Add(-2 * 24 * time.Hour),
		},
		{
			ID:                    "asset-102",
			Title:                 "Customer story: Harbor Goods",
			Preview:               "Customer story: Harbor Goods",
			Category:              "case_study",
			ContentValue:          0.8,
			PredictedImpact:       0.75,
			Confidence:            0.9,
			DataSources:           []string{"crm:deals"},
			BrandConsistencyScore: 0.9,
			CreatedAt:             base.Add(-5 * 24 * time.Hour),
		},
		{
			ID:                    "asset-103",
			Title:                 "Evergreen tips roundup",
			Preview:               "Evergreen tips roundup",
			Category:              "education",
			ContentValue:          0.7,
			PredictedImpact:       0.6,
			Confidence:            0.8,
			DataSources:           []string{"blog:archive"},
			BrandConsistencyScore: 0.85,
			CreatedAt:             base.Add(-45 * 24 * time.Hour),
		},
		{
			ID:                    "asset-104",
			Title:                 "Unverified market claim",
			Preview:               "Unverified market claim",
			Category:              "news",
			ContentValue:          0.95,
			PredictedImpact:       0.9,
			Confidence:            0.55,
			DataSources:           nil,
			BrandConsistencyScore: 0.8,
			CreatedAt:             base.Add(-1 * 24 * time.Hour),
		},
	}
}

// NullTimeValue is a sqlmock argument matcher for nullable timestamp
// columns. The zero value matches SQL NULL.
type NullTimeValue struct {
	Time  time.Time
	Valid bool
}

// Match reports whether the driver value is the expected time, or NULL
// when Valid is false.
func (n NullTimeValue) Match(v driver.Value) bool {
	switch val := v.(type) {
	case time.Time:
		return n.Valid && val.Equal(n.Time)
	case nil:
		return !n.Valid
	default:
		return false
	}
}
