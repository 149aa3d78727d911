package assets

import (
	"context"
	"fmt"
	"sort"
	"time"

	"flotilla/pkg/models"
)

// RecencyProvider supplies the usage history the fatigue penalty is
// computed from. Implemented by UsageStore.
type RecencyProvider interface {
	LastUsages(ctx context.Context, clientID string, channel models.Channel, cutoff time.Time) (map[string]time.Time, error)
	NearDuplicateLastUse(ctx context.Context, clientID string, channel models.Channel, embedding []float32, threshold float64, cutoff time.Time) (*time.Time, error)
}

// SelectorConfig holds the scoring weights and windows.
type SelectorConfig struct {
	ValueWeight            float64
	ImpactWeight           float64
	FreshnessWeight        float64
	BrandPenaltyWeight     float64
	MaxFatiguePenalty      float64
	FatigueLookback        time.Duration
	FreshnessHorizon       time.Duration
	NearDuplicateThreshold float64
}

// DefaultSelectorConfig returns the standard scoring model
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ValueWeight:            0.35,
		ImpactWeight:           0.30,
		FreshnessWeight:        0.20,
		BrandPenaltyWeight:     0.15,
		MaxFatiguePenalty:      0.4,
		FatigueLookback:        14 * 24 * time.Hour,
		FreshnessHorizon:       30 * 24 * time.Hour,
		NearDuplicateThreshold: 0.92,
	}
}

// Selector ranks candidate assets for one (client, channel). Scores
// reward content value, predicted impact and freshness, and penalize
// recently used (or near-duplicate) assets and off-brand content.
type Selector struct {
	usage RecencyProvider
	cfg   SelectorConfig
}

// NewSelector creates a selector over the given usage history.
func NewSelector(usage RecencyProvider, cfg SelectorConfig) *Selector {
	return &Selector{usage: usage, cfg: cfg}
}

// Select scores and ranks candidates, best first. now anchors the
// freshness and recency windows so identical inputs rank identically.
func (s *Selector) Select(ctx context.Context, clientID string, channel models.Channel, candidates []models.CandidateAsset, now time.Time) ([]models.RankedAsset, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	cutoff := now.Add(-s.cfg.FatigueLookback)
	lastUsed, err := s.usage.LastUsages(ctx, clientID, channel, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load usage history: %w", err)
	}

	ranked := make([]models.RankedAsset, 0, len(candidates))
	for _, asset := range candidates {
		recency, err := s.latestUse(ctx, clientID, channel, asset, lastUsed, cutoff)
		if err != nil {
			return nil, err
		}

		freshness := s.freshness(asset.CreatedAt, now)
		fatiguePenalty := s.fatiguePenalty(recency, now)
		brandPenalty := s.cfg.BrandPenaltyWeight * (1 - asset.BrandConsistencyScore)

		score := s.cfg.ValueWeight*asset.ContentValue +
			s.cfg.ImpactWeight*asset.PredictedImpact +
			s.cfg.FreshnessWeight*freshness -
			fatiguePenalty -
			brandPenalty

		ranked = append(ranked, models.RankedAsset{
			Asset:          asset,
			Score:          score,
			Freshness:      freshness,
			FatiguePenalty: fatiguePenalty,
			BrandPenalty:   brandPenalty,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Asset.PredictedImpact != b.Asset.PredictedImpact {
			return a.Asset.PredictedImpact > b.Asset.PredictedImpact
		}
		if !a.Asset.CreatedAt.Equal(b.Asset.CreatedAt) {
			return a.Asset.CreatedAt.Before(b.Asset.CreatedAt)
		}
		return a.Asset.ID < b.Asset.ID
	})

	return ranked, nil
}

// latestUse returns the most recent use of the asset itself or of a
// near-duplicate, whichever is later. nil means unused in the window.
func (s *Selector) latestUse(ctx context.Context, clientID string, channel models.Channel, asset models.CandidateAsset, lastUsed map[string]time.Time, cutoff time.Time) (*time.Time, error) {
	var latest *time.Time
	if used, ok := lastUsed[asset.ID]; ok {
		latest = &used
	}

	if len(asset.Embedding) > 0 {
		nearDup, err := s.usage.NearDuplicateLastUse(ctx, clientID, channel, asset.Embedding, s.cfg.NearDuplicateThreshold, cutoff)
		if err != nil {
			return nil, fmt.Errorf("near-duplicate check for %s: %w", asset.ID, err)
		}
		if nearDup != nil && (latest == nil || nearDup.After(*latest)) {
			latest = nearDup
		}
	}
	return latest, nil
}

// freshness is 1.0 for brand-new assets and falls linearly to 0.0 at
// the freshness horizon.
func (s *Selector) freshness(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1.0
	}
	if age >= s.cfg.FreshnessHorizon {
		return 0.0
	}
	return 1.0 - float64(age)/float64(s.cfg.FreshnessHorizon)
}

// fatiguePenalty is maximal when the asset was just used and falls
// linearly to zero at the lookback boundary.
func (s *Selector) fatiguePenalty(lastUse *time.Time, now time.Time) float64 {
	if lastUse == nil {
		return 0.0
	}
	elapsed := now.Sub(*lastUse)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= s.cfg.FatigueLookback {
		return 0.0
	}
	return s.cfg.MaxFatiguePenalty * (1.0 - float64(elapsed)/float64(s.cfg.FatigueLookback))
}
