package channelstate

import (
	"context"
	"database/sql"
	"fmt"

	"flotilla/pkg/database"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// DecisionRecorder receives the fatigue_check audit records emitted
// when an update moves fatigue across a configured threshold.
type DecisionRecorder interface {
	Record(ctx context.Context, action *models.DecisionAction)
}

// Config holds the fatigue thresholds the store reports crossings for.
// The same values drive the guardrail fatigue check; main wires both
// from one place.
type Config struct {
	FatigueWarnThreshold  float64
	FatigueBlockThreshold float64
}

// DefaultConfig returns the standard fatigue thresholds
func DefaultConfig() Config {
	return Config{
		FatigueWarnThreshold:  0.5,
		FatigueBlockThreshold: 0.8,
	}
}

// Store manages per-(client, channel) posting state. All score writes
// go through single-statement upserts so concurrent writers serialize
// on the row, and every score is clamped to [0,1] in SQL.
type Store struct {
	db        database.PostgresConn
	logger    logging.Logger
	decisions DecisionRecorder
	cfg       Config
}

// NewStore creates a channel state store. decisions may be nil; the
// store then skips threshold audit records.
func NewStore(db database.PostgresConn, logger logging.Logger, decisions DecisionRecorder, cfg Config) *Store {
	return &Store{db: db, logger: logger, decisions: decisions, cfg: cfg}
}

const stateColumns = `client_id, channel, fatigue_score, momentum_score, visibility_score, engagement_score, last_post_at, created_at, updated_at`

func scanState(row interface{ Scan(...interface{}) error }) (*models.ChannelState, error) {
	var state models.ChannelState
	var channel string
	var lastPostAt sql.NullTime
	if err := row.Scan(
		&state.ClientID,
		&channel,
		&state.FatigueScore,
		&state.MomentumScore,
		&state.VisibilityScore,
		&state.EngagementScore,
		&lastPostAt,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	state.Channel = models.Channel(channel)
	if lastPostAt.Valid {
		t := lastPostAt.Time
		state.LastPostAt = &t
	}
	return &state, nil
}

// Get returns the state for one (client, channel), creating the
// zero-state row on first reference.
func (s *Store) Get(ctx context.Context, clientID string, channel models.Channel) (*models.ChannelState, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if _, err := models.ParseChannel(string(channel)); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bosun.channel_state (client_id, channel)
		VALUES ($1, $2)
		ON CONFLICT (client_id, channel) DO NOTHING
	`, clientID, string(channel)); err != nil {
		return nil, fmt.Errorf("ensure channel state: %w", err)
	}

	state, err := scanState(s.db.QueryRowContext(ctx, `
		SELECT `+stateColumns+`
		FROM bosun.channel_state
		WHERE client_id = $1 AND channel = $2
	`, clientID, string(channel)))
	if err != nil {
		return nil, fmt.Errorf("get channel state: %w", err)
	}
	return state, nil
}

// List returns all channel states for a client, ordered by channel.
func (s *Store) List(ctx context.Context, clientID string) ([]models.ChannelState, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stateColumns+`
		FROM bosun.channel_state
		WHERE client_id = $1
		ORDER BY channel
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list channel states: %w", err)
	}
	defer rows.Close()

	var states []models.ChannelState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel state: %w", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel states: %w", err)
	}
	return states, nil
}

// Update applies a bounded delta to one (client, channel) state,
// creating the row if absent. Scores are clamped to [0,1] inside the
// statement. When the write moves fatigue across the warn or block
// threshold, a fatigue_check decision is recorded.
func (s *Store) Update(ctx context.Context, clientID string, channel models.Channel, delta models.StateDelta) (*models.ChannelState, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if _, err := models.ParseChannel(string(channel)); err != nil {
		return nil, err
	}

	var previousFatigue float64
	err := s.db.QueryRowContext(ctx, `
		SELECT fatigue_score FROM bosun.channel_state
		WHERE client_id = $1 AND channel = $2
	`, clientID, string(channel)).Scan(&previousFatigue)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read channel state: %w", err)
	}

	var lastPostAt interface{}
	if delta.LastPostAt != nil {
		lastPostAt = *delta.LastPostAt
	}

	state, err := scanState(s.db.QueryRowContext(ctx, `
		INSERT INTO bosun.channel_state (client_id, channel, fatigue_score, momentum_score, visibility_score, engagement_score, last_post_at)
		VALUES ($1, $2,
			LEAST(1.0, GREATEST(0.0, $3)),
			LEAST(1.0, GREATEST(0.0, $4)),
			LEAST(1.0, GREATEST(0.0, $5)),
			LEAST(1.0, GREATEST(0.0, $6)),
			$7)
		ON CONFLICT (client_id, channel) DO UPDATE SET
			fatigue_score    = LEAST(1.0, GREATEST(0.0, bosun.channel_state.fatigue_score + $3)),
			momentum_score   = LEAST(1.0, GREATEST(0.0, bosun.channel_state.momentum_score + $4)),
			visibility_score = LEAST(1.0, GREATEST(0.0, bosun.channel_state.visibility_score + $5)),
			engagement_score = LEAST(1.0, GREATEST(0.0, bosun.channel_state.engagement_score + $6)),
			last_post_at     = COALESCE($7, bosun.channel_state.last_post_at),
			updated_at       = NOW()
		RETURNING `+stateColumns+`
	`, clientID, string(channel), delta.Fatigue, delta.Momentum, delta.Visibility, delta.Engagement, lastPostAt))
	if err != nil {
		return nil, fmt.Errorf("update channel state: %w", err)
	}

	s.recordFatigueCrossings(ctx, state, previousFatigue)
	return state, nil
}

// recordFatigueCrossings emits one fatigue_check decision per threshold
// the update moved fatigue across, in either direction.
func (s *Store) recordFatigueCrossings(ctx context.Context, state *models.ChannelState, previous float64) {
	if s.decisions == nil {
		return
	}

	thresholds := []struct {
		value          float64
		name           string
		classification string
	}{
		{s.cfg.FatigueWarnThreshold, "warn", "warning"},
		{s.cfg.FatigueBlockThreshold, "block", "blocked"},
	}

	for _, t := range thresholds {
		crossedUp := previous < t.value && state.FatigueScore >= t.value
		crossedDown := previous >= t.value && state.FatigueScore < t.value
		if !crossedUp && !crossedDown {
			continue
		}

		direction := "above"
		classification := t.classification
		if crossedDown {
			direction = "below"
			classification = "recovered"
		}
		s.decisions.Record(ctx, &models.DecisionAction{
			ClientID:           state.ClientID,
			ActionType:         models.ActionFatigueCheck,
			RiskClassification: classification,
			Confidence:         1.0,
			TruthNotes:         fmt.Sprintf("fatigue moved %s the %s threshold on %s", direction, t.name, state.Channel),
			SourceSignals: models.SignalList{
				{
					"channel":          string(state.Channel),
					"previous_fatigue": previous,
					"fatigue":          state.FatigueScore,
					"threshold":        t.value,
				},
			},
			Actor: "system",
		})
	}
}

// ActiveClients returns every client with at least one channel state
// row, ordered by client id. Scheduler passes fan out over this set.
func (s *Store) ActiveClients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT client_id
		FROM bosun.channel_state
		ORDER BY client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active clients: %w", err)
	}
	defer rows.Close()

	var clients []string
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}
		clients = append(clients, clientID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active clients: %w", err)
	}
	return clients, nil
}

// DecaySweep relaxes fatigue and momentum on every row in proportion to
// the time elapsed since its last update, flooring both at 0. Returns
// the number of rows touched. Rows updated within the last hour are
// left alone so a sweep right after a commit does not erase it.
func (s *Store) DecaySweep(ctx context.Context, fatiguePerDay, momentumPerDay float64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bosun.channel_state
		SET fatigue_score  = GREATEST(0.0, fatigue_score  - $1 * EXTRACT(EPOCH FROM (NOW() - updated_at)) / 86400.0),
		    momentum_score = GREATEST(0.0, momentum_score - $2 * EXTRACT(EPOCH FROM (NOW() - updated_at)) / 86400.0),
		    updated_at     = NOW()
		WHERE updated_at < NOW() - INTERVAL '1 hour'
	`, fatiguePerDay, momentumPerDay)
	if err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}

	touched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decay sweep rows: %w", err)
	}
	if touched > 0 {
		s.logger.WithFields(logging.Fields{
			"rows":             touched,
			"fatigue_per_day":  fatiguePerDay,
			"momentum_per_day": momentumPerDay,
		}).Info("Channel state decay sweep applied")
	}
	return touched, nil
}
