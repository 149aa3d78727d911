package assets

import (
	"context"
	"errors"
	"testing"
	"time"

	"flotilla/pkg/models"
	"flotilla/pkg/testutil"
)

type fakeRecency struct {
	lastUsages   map[string]time.Time
	nearDupUse   *time.Time
	usagesErr    error
	nearDupCalls int
}

func (f *fakeRecency) LastUsages(ctx context.Context, clientID string, channel models.Channel, cutoff time.Time) (map[string]time.Time, error) {
	if f.usagesErr != nil {
		return nil, f.usagesErr
	}
	if f.lastUsages == nil {
		return map[string]time.Time{}, nil
	}
	return f.lastUsages, nil
}

func (f *fakeRecency) NearDuplicateLastUse(ctx context.Context, clientID string, channel models.Channel, embedding []float32, threshold float64, cutoff time.Time) (*time.Time, error) {
	f.nearDupCalls++
	return f.nearDupUse, nil
}

// selectorNow matches the fixture base date so asset ages are exact.
var selectorNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rankedIDs(ranked []models.RankedAsset) []string {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Asset.ID
	}
	return ids
}

func TestSelectRanksByScore(t *testing.T) {
	fixtures := testutil.NewDatabaseFixtures()
	selector := NewSelector(&fakeRecency{}, DefaultSelectorConfig())

	ranked, err := selector.Select(context.Background(), "client-1", models.ChannelFacebook, fixtures.CandidateAssets(), selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	// Unused everywhere, so value, impact and freshness decide. The
	// low-confidence asset still ranks first here; vetting it is the
	// guardrail layer's job, not the selector's.
	want := []string{"asset-104", "asset-101", "asset-102", "asset-103"}
	got := rankedIDs(ranked)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", got, want)
		}
	}

	if ranked[3].Freshness != 0 {
		t.Errorf("45-day-old asset freshness = %f, want 0", ranked[3].Freshness)
	}
	if ranked[0].FatiguePenalty != 0 {
		t.Errorf("unused asset fatigue penalty = %f, want 0", ranked[0].FatiguePenalty)
	}
}

func TestSelectPenalizesRecentUse(t *testing.T) {
	fixtures := testutil.NewDatabaseFixtures()
	recency := &fakeRecency{
		lastUsages: map[string]time.Time{
			"asset-104": selectorNow.Add(-7 * 24 * time.Hour),
		},
	}
	selector := NewSelector(recency, DefaultSelectorConfig())

	ranked, err := selector.Select(context.Background(), "client-1", models.ChannelFacebook, fixtures.CandidateAssets(), selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	// Used 7 of 14 lookback days ago: half the maximum penalty.
	var used models.RankedAsset
	for _, r := range ranked {
		if r.Asset.ID == "asset-104" {
			used = r
		}
	}
	if used.FatiguePenalty != 0.2 {
		t.Errorf("fatigue penalty = %f, want 0.2", used.FatiguePenalty)
	}

	want := []string{"asset-101", "asset-102", "asset-104", "asset-103"}
	got := rankedIDs(ranked)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", got, want)
		}
	}
}

func TestSelectNearDuplicateUsesLaterTimestamp(t *testing.T) {
	exactUse := selectorNow.Add(-10 * 24 * time.Hour)
	nearDupUse := selectorNow.Add(-2 * 24 * time.Hour)
	recency := &fakeRecency{
		lastUsages: map[string]time.Time{"asset-201": exactUse},
		nearDupUse: &nearDupUse,
	}
	selector := NewSelector(recency, DefaultSelectorConfig())

	candidates := []models.CandidateAsset{{
		ID:                    "asset-201",
		ContentValue:          0.8,
		PredictedImpact:       0.8,
		BrandConsistencyScore: 1.0,
		Embedding:             []float32{0.1, 0.2},
		CreatedAt:             selectorNow.Add(-3 * 24 * time.Hour),
	}}

	ranked, err := selector.Select(context.Background(), "client-1", models.ChannelLinkedIn, candidates, selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if recency.nearDupCalls != 1 {
		t.Fatalf("near-duplicate lookups = %d, want 1", recency.nearDupCalls)
	}

	// The near-duplicate use is more recent than the exact one, so it
	// drives the penalty: 2 of 14 days elapsed.
	wantPenalty := 0.4 * (1.0 - 2.0/14.0)
	if diff := ranked[0].FatiguePenalty - wantPenalty; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fatigue penalty = %f, want %f", ranked[0].FatiguePenalty, wantPenalty)
	}
}

func TestSelectSkipsNearDuplicateLookupWithoutEmbedding(t *testing.T) {
	fixtures := testutil.NewDatabaseFixtures()
	recency := &fakeRecency{}
	selector := NewSelector(recency, DefaultSelectorConfig())

	_, err := selector.Select(context.Background(), "client-1", models.ChannelFacebook, fixtures.CandidateAssets(), selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if recency.nearDupCalls != 0 {
		t.Errorf("near-duplicate lookups = %d, want 0", recency.nearDupCalls)
	}
}

func TestSelectTieBreaks(t *testing.T) {
	// All past the freshness horizon with identical scores, so ties
	// fall through to created_at, then id.
	older := selectorNow.Add(-60 * 24 * time.Hour)
	newer := selectorNow.Add(-45 * 24 * time.Hour)
	candidates := []models.CandidateAsset{
		{ID: "asset-303", ContentValue: 0.6, PredictedImpact: 0.5, BrandConsistencyScore: 1.0, CreatedAt: newer},
		{ID: "asset-302", ContentValue: 0.6, PredictedImpact: 0.5, BrandConsistencyScore: 1.0, CreatedAt: newer},
		{ID: "asset-301", ContentValue: 0.6, PredictedImpact: 0.5, BrandConsistencyScore: 1.0, CreatedAt: older},
	}
	selector := NewSelector(&fakeRecency{}, DefaultSelectorConfig())

	ranked, err := selector.Select(context.Background(), "client-1", models.ChannelReddit, candidates, selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	want := []string{"asset-301", "asset-302", "asset-303"}
	got := rankedIDs(ranked)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", got, want)
		}
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	selector := NewSelector(&fakeRecency{}, DefaultSelectorConfig())

	ranked, err := selector.Select(context.Background(), "client-1", models.ChannelFacebook, nil, selectorNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if ranked != nil {
		t.Errorf("expected nil ranking for no candidates, got %v", ranked)
	}
}

func TestSelectPropagatesUsageErrors(t *testing.T) {
	recency := &fakeRecency{usagesErr: errors.New("connection refused")}
	selector := NewSelector(recency, DefaultSelectorConfig())

	fixtures := testutil.NewDatabaseFixtures()
	_, err := selector.Select(context.Background(), "client-1", models.ChannelFacebook, fixtures.CandidateAssets(), selectorNow)
	if err == nil {
		t.Fatal("expected error when usage history is unavailable")
	}
}
