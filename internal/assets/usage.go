package assets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"flotilla/pkg/database"
	"flotilla/pkg/models"
)

// UsageStore tracks which assets were committed to which channel and
// when. The selector's fatigue penalty reads it back, both by exact
// asset id and by embedding similarity for near-duplicates.
type UsageStore struct {
	db database.PostgresConn
}

// NewUsageStore creates an asset usage store
func NewUsageStore(db database.PostgresConn) *UsageStore {
	return &UsageStore{db: db}
}

// RecordUsage stores one committed use of an asset. Assets without an
// embedding are stored with a NULL vector and only match by id later.
func (s *UsageStore) RecordUsage(ctx context.Context, clientID string, channel models.Channel, assetID string, embedding []float32, usedAt time.Time) error {
	if clientID == "" || assetID == "" {
		return fmt.Errorf("client id and asset id are required")
	}

	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bosun.asset_usage (id, client_id, channel, asset_id, embedding, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), clientID, string(channel), assetID, vec, usedAt); err != nil {
		return fmt.Errorf("record asset usage: %w", err)
	}
	return nil
}

// LastUsages returns the most recent use per asset id on a channel
// since cutoff.
func (s *UsageStore) LastUsages(ctx context.Context, clientID string, channel models.Channel, cutoff time.Time) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, MAX(used_at) AS last_used
		FROM bosun.asset_usage
		WHERE client_id = $1 AND channel = $2 AND used_at >= $3
		GROUP BY asset_id
	`, clientID, string(channel), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list asset usages: %w", err)
	}
	defer rows.Close()

	usages := make(map[string]time.Time)
	for rows.Next() {
		var assetID string
		var lastUsed time.Time
		if err := rows.Scan(&assetID, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan asset usage: %w", err)
		}
		usages[assetID] = lastUsed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset usages: %w", err)
	}
	return usages, nil
}

// NearDuplicateLastUse returns when an asset close enough to the given
// embedding was last used on a channel, or nil if none since cutoff.
// Closeness is cosine similarity at or above threshold.
func (s *UsageStore) NearDuplicateLastUse(ctx context.Context, clientID string, channel models.Channel, embedding []float32, threshold float64, cutoff time.Time) (*time.Time, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	var usedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT used_at
		FROM bosun.asset_usage
		WHERE client_id = $1 AND channel = $2
		  AND used_at >= $3
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $4) >= $5
		ORDER BY used_at DESC
		LIMIT 1
	`, clientID, string(channel), cutoff, pgvector.NewVector(embedding), threshold).Scan(&usedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("near-duplicate lookup: %w", err)
	}
	return &usedAt, nil
}
