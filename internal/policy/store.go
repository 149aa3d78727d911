package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"flotilla/pkg/database"
	"flotilla/pkg/models"
)

// Store manages per-client content policies. A client with no row has
// an empty policy: nothing is disabled.
type Store struct {
	db database.PostgresConn
}

// NewStore creates a policy store
func NewStore(db database.PostgresConn) *Store {
	return &Store{db: db}
}

// Get returns the policy for a client. Missing rows come back as an
// empty policy, not an error.
func (s *Store) Get(ctx context.Context, clientID string) (*models.ClientPolicy, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}

	policy := &models.ClientPolicy{ClientID: clientID, DisabledCategories: []string{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT disabled_categories, updated_at
		FROM bosun.client_policies
		WHERE client_id = $1
	`, clientID).Scan(pq.Array(&policy.DisabledCategories), &policy.UpdatedAt)
	if errors.Is(err, database.ErrNoRows) {
		return policy, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client policy: %w", err)
	}
	return policy, nil
}

// Put replaces a client's policy and returns the stored copy.
func (s *Store) Put(ctx context.Context, clientID string, disabledCategories []string) (*models.ClientPolicy, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if disabledCategories == nil {
		disabledCategories = []string{}
	}

	policy := &models.ClientPolicy{ClientID: clientID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bosun.client_policies (client_id, disabled_categories, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET
			disabled_categories = $2,
			updated_at          = NOW()
		RETURNING disabled_categories, updated_at
	`, clientID, pq.Array(disabledCategories)).Scan(pq.Array(&policy.DisabledCategories), &policy.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("put client policy: %w", err)
	}
	return policy, nil
}
