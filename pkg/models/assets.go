package models

import "time"

// === CHANDLER SERVICE TYPES ===

// CandidateAsset is a content asset supplied by the asset producer,
// eligible for scheduling on a channel. Scores are 0-1. Title, preview,
// category and embedding are optional; missing embeddings disable
// near-duplicate matching for that asset.
type CandidateAsset struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title,omitempty"`
	Preview               string    `json:"preview,omitempty"`
	Category              string    `json:"category,omitempty"`
	ContentValue          float64   `json:"content_value"`
	PredictedImpact       float64   `json:"predicted_impact"`
	Confidence            float64   `json:"confidence"`
	DataSources           []string  `json:"data_sources"`
	BrandConsistencyScore float64   `json:"brand_consistency_score"`
	Embedding             []float32 `json:"embedding,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// RankedAsset is a candidate asset with its computed selection score
// and the scoring components that produced it, kept for audit signals.
type RankedAsset struct {
	Asset          CandidateAsset `json:"asset"`
	Score          float64        `json:"score"`
	Freshness      float64        `json:"freshness"`
	FatiguePenalty float64        `json:"fatigue_penalty"`
	BrandPenalty   float64        `json:"brand_penalty"`
}

// === LOOKOUT SERVICE TYPES ===

// RiskSignal is the early-warning collaborator's verdict for a client.
type RiskSignal struct {
	ClientID                     string   `json:"client_id"`
	HasActiveHighSeverityWarning bool     `json:"has_active_high_severity_warning"`
	WarningReasons               []string `json:"warning_reasons,omitempty"`
}
