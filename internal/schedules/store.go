package schedules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flotilla/pkg/database"
	"flotilla/pkg/models"
)

var (
	// ErrNotFound means no entry exists with the given id.
	ErrNotFound = errors.New("schedule entry not found")
	// ErrStatusConflict means the entry moved to a different status
	// since it was loaded, so the requested transition no longer applies.
	ErrStatusConflict = errors.New("schedule entry status changed")
	// ErrSpacingViolation means approving would put the entry closer to
	// another committed entry on the same channel than the minimum gap.
	ErrSpacingViolation = errors.New("minimum spacing violated")
)

const maxListRows = 500

// Store persists schedule entries. Status transitions are compare-and-
// set on the current status so concurrent passes and API calls cannot
// double-apply a transition.
type Store struct {
	db database.PostgresConn
}

// NewStore creates a schedule entry store
func NewStore(db database.PostgresConn) *Store {
	return &Store{db: db}
}

const entryColumns = `id, client_id, channel, scheduled_time, content_preview, selected_asset_id, risk_level, status, block_reason, failure_count, retry_of, created_at, updated_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*models.ScheduleEntry, error) {
	var entry models.ScheduleEntry
	var channel, riskLevel, status string
	var blockReason, retryOf sql.NullString
	if err := row.Scan(
		&entry.ID,
		&entry.ClientID,
		&channel,
		&entry.ScheduledTime,
		&entry.ContentPreview,
		&entry.SelectedAssetID,
		&riskLevel,
		&status,
		&blockReason,
		&entry.FailureCount,
		&retryOf,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.Channel = models.Channel(channel)
	entry.RiskLevel = models.RiskLevel(riskLevel)
	entry.Status = models.EntryStatus(status)
	if blockReason.Valid {
		r := blockReason.String
		entry.BlockReason = &r
	}
	if retryOf.Valid {
		r := retryOf.String
		entry.RetryOf = &r
	}
	return &entry, nil
}

// Insert stores a new entry, filling in id, status and timestamps when
// the planner left them zero.
func (s *Store) Insert(ctx context.Context, entry *models.ScheduleEntry) error {
	if entry.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if !entry.Channel.IsValid() {
		return fmt.Errorf("unknown channel %q", entry.Channel)
	}
	if entry.ScheduledTime.IsZero() {
		return fmt.Errorf("scheduled time is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = models.StatusPending
	}
	if entry.RiskLevel == "" {
		entry.RiskLevel = models.RiskLow
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	var blockReason interface{}
	if entry.BlockReason != nil {
		blockReason = *entry.BlockReason
	}
	var retryOf interface{}
	if entry.RetryOf != nil {
		retryOf = *entry.RetryOf
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bosun.schedule_entries
			(id, client_id, channel, scheduled_time, content_preview, selected_asset_id,
			 risk_level, status, block_reason, failure_count, retry_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		entry.ID, entry.ClientID, string(entry.Channel), entry.ScheduledTime,
		entry.ContentPreview, entry.SelectedAssetID, string(entry.RiskLevel),
		string(entry.Status), blockReason, entry.FailureCount, retryOf,
		entry.CreatedAt, entry.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert schedule entry: %w", err)
	}
	return nil
}

// Get returns one entry by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM bosun.schedule_entries
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule entry: %w", err)
	}
	return entry, nil
}

// List returns a client's entries, optionally filtered by status and
// channel, most recent slots first.
func (s *Store) List(ctx context.Context, clientID string, status *models.EntryStatus, channel *models.Channel) ([]models.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM bosun.schedule_entries WHERE client_id = $1`
	args := []interface{}{clientID}
	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if channel != nil {
		args = append(args, string(*channel))
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY scheduled_time DESC, id LIMIT %d", maxListRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Upcoming returns the client's not-yet-terminal entries at or after
// from, earliest first. The planner treats these as occupied slots.
func (s *Store) Upcoming(ctx context.Context, clientID string, from time.Time) ([]models.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM bosun.schedule_entries
		WHERE client_id = $1 AND scheduled_time >= $2
		  AND status IN ('pending', 'awaiting_approval', 'approved')
		ORDER BY scheduled_time, id
	`, clientID, from)
	if err != nil {
		return nil, fmt.Errorf("list upcoming entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// DueForExecution returns approved entries whose slot has arrived.
func (s *Store) DueForExecution(ctx context.Context, clientID string, now time.Time) ([]models.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM bosun.schedule_entries
		WHERE client_id = $1 AND status = 'approved' AND scheduled_time <= $2
		ORDER BY scheduled_time, id
	`, clientID, now)
	if err != nil {
		return nil, fmt.Errorf("list due entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ConflictingEntries returns other live entries for the client, on any
// channel, scheduled within the window on either side of at. Used by
// the conflict guardrail to catch collisions with entries committed by
// earlier or concurrent passes.
func (s *Store) ConflictingEntries(ctx context.Context, clientID, excludeID string, at time.Time, window time.Duration) ([]models.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM bosun.schedule_entries
		WHERE client_id = $1 AND id <> $2
		  AND status IN ('pending', 'awaiting_approval', 'approved')
		  AND scheduled_time > $3::timestamptz - make_interval(secs => $4)
		  AND scheduled_time < $3::timestamptz + make_interval(secs => $4)
		ORDER BY scheduled_time, id
	`, clientID, excludeID, at, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list conflicting entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// RetryableFailures returns failed entries that have not yet spawned a
// replacement and are still under the failure cap.
func (s *Store) RetryableFailures(ctx context.Context, clientID string, maxFailures int) ([]models.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM bosun.schedule_entries f
		WHERE f.client_id = $1 AND f.status = 'failed' AND f.failure_count < $2
		  AND NOT EXISTS (
			SELECT 1 FROM bosun.schedule_entries r WHERE r.retry_of = f.id
		  )
		ORDER BY f.scheduled_time, f.id
	`, clientID, maxFailures)
	if err != nil {
		return nil, fmt.Errorf("list retryable failures: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]models.ScheduleEntry, error) {
	entries := []models.ScheduleEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule entries: %w", err)
	}
	return entries, nil
}

// TransitionStatus moves an entry from one status to another, failing
// with ErrStatusConflict when the entry is no longer in from.
// blockReason replaces the stored reason (nil clears it); risk, when
// non-nil, overwrites the placeholder level the planner wrote.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to models.EntryStatus, blockReason *string, risk *models.RiskLevel) (*models.ScheduleEntry, error) {
	var reason interface{}
	if blockReason != nil {
		reason = *blockReason
	}
	var riskLevel interface{}
	if risk != nil {
		riskLevel = string(*risk)
	}
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE bosun.schedule_entries
		SET status = $3, block_reason = $4, risk_level = COALESCE($5, risk_level), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+entryColumns+`
	`, id, string(from), string(to), reason, riskLevel))
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, id, from, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("transition schedule entry: %w", err)
	}
	return entry, nil
}

// ApproveWithSpacing moves an entry to approved only if no other
// committed entry on the same (client, channel) sits within the
// minimum gap on either side of its slot. Checking inside the UPDATE
// closes the race between concurrent planner runs for one client.
func (s *Store) ApproveWithSpacing(ctx context.Context, id string, from models.EntryStatus, spacing time.Duration, risk *models.RiskLevel) (*models.ScheduleEntry, error) {
	var riskLevel interface{}
	if risk != nil {
		riskLevel = string(*risk)
	}
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE bosun.schedule_entries AS e
		SET status = 'approved', block_reason = NULL, risk_level = COALESCE($4, risk_level), updated_at = NOW()
		WHERE e.id = $1 AND e.status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM bosun.schedule_entries o
			WHERE o.client_id = e.client_id AND o.channel = e.channel AND o.id <> e.id
			  AND o.status IN ('approved', 'completed')
			  AND o.scheduled_time > e.scheduled_time - make_interval(secs => $3)
			  AND o.scheduled_time < e.scheduled_time + make_interval(secs => $3)
		  )
		RETURNING `+entryColumns+`
	`, id, string(from), spacing.Seconds(), riskLevel))
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, id, from, ErrSpacingViolation)
	}
	if err != nil {
		return nil, fmt.Errorf("approve schedule entry: %w", err)
	}
	return entry, nil
}

// UpdateDraftAsset swaps the asset attached to a still-pending draft,
// used when a guardrail rejects the attached asset and a lower-ranked
// one takes its place.
func (s *Store) UpdateDraftAsset(ctx context.Context, id, assetID, preview string) (*models.ScheduleEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE bosun.schedule_entries
		SET selected_asset_id = $2, content_preview = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns+`
	`, id, assetID, preview))
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, id, "", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("update draft asset: %w", err)
	}
	return entry, nil
}

// MarkFailed moves a non-terminal entry to failed, recording the reason
// and bumping its failure count.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (*models.ScheduleEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE bosun.schedule_entries
		SET status = 'failed', block_reason = $2, failure_count = failure_count + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'awaiting_approval', 'approved')
		RETURNING `+entryColumns+`
	`, id, reason))
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, id, "", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("mark schedule entry failed: %w", err)
	}
	return entry, nil
}

// explainMiss turns a zero-row CAS update into the most specific error:
// missing row, status moved, or (when inStatusErr is set) the entry was
// in the expected status but the update's guard condition rejected it.
func (s *Store) explainMiss(ctx context.Context, id string, from models.EntryStatus, inStatusErr error) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if from != "" && current.Status == from && inStatusErr != nil {
		return inStatusErr
	}
	return fmt.Errorf("%w: entry %s is %s", ErrStatusConflict, id, current.Status)
}
