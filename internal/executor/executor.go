package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flotilla/internal/guardrails"
	"flotilla/internal/planner"
	"flotilla/internal/schedules"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// ScheduleStore is the slice of the schedule store the executor drives.
type ScheduleStore interface {
	Insert(ctx context.Context, entry *models.ScheduleEntry) error
	Get(ctx context.Context, id string) (*models.ScheduleEntry, error)
	TransitionStatus(ctx context.Context, id string, from, to models.EntryStatus, blockReason *string, risk *models.RiskLevel) (*models.ScheduleEntry, error)
	ApproveWithSpacing(ctx context.Context, id string, from models.EntryStatus, spacing time.Duration, risk *models.RiskLevel) (*models.ScheduleEntry, error)
	MarkFailed(ctx context.Context, id, reason string) (*models.ScheduleEntry, error)
	DueForExecution(ctx context.Context, clientID string, now time.Time) ([]models.ScheduleEntry, error)
}

// StateCommitter burns a draft commitment into channel state.
type StateCommitter interface {
	Update(ctx context.Context, clientID string, channel models.Channel, delta models.StateDelta) (*models.ChannelState, error)
}

// UsageRecorder persists asset usage for the fatigue and
// near-duplicate lookbacks.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, clientID string, channel models.Channel, assetID string, embedding []float32, usedAt time.Time) error
}

// DecisionRecorder receives the executor's audit records.
type DecisionRecorder interface {
	Record(ctx context.Context, action *models.DecisionAction)
}

// ReviewNotifier tells a human reviewer an entry needs their decision.
type ReviewNotifier interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// Config holds the commit-time knobs.
type Config struct {
	// Cadence supplies per-channel spacing for the commit-time
	// check-and-set; main wires the same tables into the planner.
	Cadence planner.Cadence
	// Deltas applied to channel state when a draft is approved. The
	// decision is final even though publishing is deferred, so the
	// commitment costs fatigue immediately.
	CommitFatigueDelta    float64
	CommitMomentumDelta   float64
	CommitVisibilityDelta float64
	// MaxFailures is the consecutive-failure count that escalates a
	// slot to manual intervention and stops auto-retry.
	MaxFailures int
	// ReviewerEmail receives awaiting-approval notifications. Empty
	// disables them.
	ReviewerEmail string
}

// DefaultConfig returns the standard commit configuration
func DefaultConfig() Config {
	return Config{
		Cadence:               planner.DefaultCadence(),
		CommitFatigueDelta:    0.15,
		CommitMomentumDelta:   0.10,
		CommitVisibilityDelta: 0.05,
		MaxFailures:           3,
	}
}

// Executor applies guardrail verdicts to draft entries and drives the
// entry state machine. It never calls a publishing API; completing an
// entry hands the draft off, nothing more.
type Executor struct {
	schedules ScheduleStore
	states    StateCommitter
	usage     UsageRecorder
	decisions DecisionRecorder
	notifier  ReviewNotifier
	logger    logging.Logger
	cfg       Config
}

// NewExecutor creates an executor. notifier may be nil; reviewers then
// rely on the dashboard alone.
func NewExecutor(scheduleStore ScheduleStore, states StateCommitter, usage UsageRecorder, decisions DecisionRecorder, notifier ReviewNotifier, logger logging.Logger, cfg Config) *Executor {
	return &Executor{
		schedules: scheduleStore,
		states:    states,
		usage:     usage,
		decisions: decisions,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateDraft persists a planned entry and records its creation.
func (e *Executor) CreateDraft(ctx context.Context, entry *models.ScheduleEntry) error {
	if err := e.schedules.Insert(ctx, entry); err != nil {
		return fmt.Errorf("create draft: %w", err)
	}

	signals := map[string]interface{}{
		"channel":           string(entry.Channel),
		"scheduled_time":    entry.ScheduledTime.Format(time.RFC3339),
		"selected_asset_id": entry.SelectedAssetID,
	}
	if entry.RetryOf != nil {
		signals["retry_of"] = *entry.RetryOf
	}
	entryID := entry.ID
	e.record(ctx, &models.DecisionAction{
		ScheduleEntryID:    &entryID,
		ClientID:           entry.ClientID,
		ActionType:         models.ActionScheduleCreated,
		RiskClassification: string(entry.RiskLevel),
		Confidence:         1.0,
		TruthNotes:         fmt.Sprintf("draft created for %s at %s", entry.Channel, entry.ScheduledTime.Format(time.RFC3339)),
		SourceSignals:      models.SignalList{signals},
		Actor:              "system",
	})
	return nil
}

// Commit applies a guardrail verdict to a pending draft. Blocked and
// review outcomes are status moves; approval also burns the slot into
// channel state and usage history. Persistence trouble marks the entry
// failed for re-planning instead of surfacing an error; only a
// concurrent status change propagates to the caller.
func (e *Executor) Commit(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, verdict *guardrails.Verdict) (*models.ScheduleEntry, error) {
	if verdict == nil {
		return nil, fmt.Errorf("verdict is required")
	}
	if !verdict.Allowed {
		return e.block(ctx, entry, verdict)
	}
	// High risk never auto-approves, whatever else passed.
	if verdict.RiskLevel == models.RiskHigh {
		return e.routeToReview(ctx, entry, verdict)
	}
	return e.approve(ctx, entry, asset, verdict.RiskLevel, "system")
}

func (e *Executor) block(ctx context.Context, entry *models.ScheduleEntry, verdict *guardrails.Verdict) (*models.ScheduleEntry, error) {
	reason := strings.Join(verdict.Reasons, "; ")
	risk := verdict.RiskLevel
	blocked, err := e.schedules.TransitionStatus(ctx, entry.ID, models.StatusPending, models.StatusBlocked, &reason, &risk)
	if errors.Is(err, schedules.ErrStatusConflict) || errors.Is(err, schedules.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return e.failEntry(ctx, entry, "persistence error: "+err.Error())
	}

	entryID := blocked.ID
	e.record(ctx, &models.DecisionAction{
		ScheduleEntryID:    &entryID,
		ClientID:           blocked.ClientID,
		ActionType:         models.ActionScheduleBlocked,
		RiskClassification: string(risk),
		Confidence:         1.0,
		TruthNotes:         reason,
		SourceSignals: models.SignalList{
			{
				"channel":        string(blocked.Channel),
				"scheduled_time": blocked.ScheduledTime.Format(time.RFC3339),
				"reasons":        verdict.Reasons,
				"warnings":       verdict.Warnings,
			},
		},
		Actor: "system",
	})
	entriesCommittedTotal.WithLabelValues(string(models.StatusBlocked)).Inc()
	e.logger.WithFields(logging.Fields{
		"entry_id":  blocked.ID,
		"client_id": blocked.ClientID,
		"channel":   blocked.Channel,
		"reason":    reason,
	}).Info("Schedule entry blocked")
	return blocked, nil
}

func (e *Executor) routeToReview(ctx context.Context, entry *models.ScheduleEntry, verdict *guardrails.Verdict) (*models.ScheduleEntry, error) {
	risk := verdict.RiskLevel
	waiting, err := e.schedules.TransitionStatus(ctx, entry.ID, models.StatusPending, models.StatusAwaitingApproval, nil, &risk)
	if errors.Is(err, schedules.ErrStatusConflict) || errors.Is(err, schedules.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return e.failEntry(ctx, entry, "persistence error: "+err.Error())
	}

	e.notifyReviewer(waiting, verdict)
	entriesCommittedTotal.WithLabelValues(string(models.StatusAwaitingApproval)).Inc()
	e.logger.WithFields(logging.Fields{
		"entry_id":  waiting.ID,
		"client_id": waiting.ClientID,
		"channel":   waiting.Channel,
		"warnings":  strings.Join(verdict.Warnings, "; "),
	}).Info("Schedule entry routed to human review")
	return waiting, nil
}

// approve is the shared commit tail for the batch path (from pending)
// and the human path (from awaiting_approval). An empty risk keeps the
// stored level.
func (e *Executor) approve(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, risk models.RiskLevel, actor string) (*models.ScheduleEntry, error) {
	spacing := e.cfg.Cadence.SpacingFor(entry.Channel)
	var riskPtr *models.RiskLevel
	if risk != "" {
		riskPtr = &risk
	}
	approved, err := e.schedules.ApproveWithSpacing(ctx, entry.ID, entry.Status, spacing, riskPtr)
	if errors.Is(err, schedules.ErrSpacingViolation) {
		return e.failEntry(ctx, entry, "minimum spacing violated at commit")
	}
	if errors.Is(err, schedules.ErrStatusConflict) || errors.Is(err, schedules.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return e.failEntry(ctx, entry, "persistence error: "+err.Error())
	}

	scheduledAt := approved.ScheduledTime
	delta := models.StateDelta{
		Fatigue:    e.cfg.CommitFatigueDelta,
		Momentum:   e.cfg.CommitMomentumDelta,
		Visibility: e.cfg.CommitVisibilityDelta,
		LastPostAt: &scheduledAt,
	}
	state, err := e.states.Update(ctx, approved.ClientID, approved.Channel, delta)
	if err != nil {
		return e.failEntry(ctx, approved, "persistence error: channel state update: "+err.Error())
	}
	channelFatigueGauge.WithLabelValues(state.ClientID, string(state.Channel)).Set(state.FatigueScore)
	if approved.SelectedAssetID != "" {
		var embedding []float32
		if asset != nil {
			embedding = asset.Embedding
		}
		if err := e.usage.RecordUsage(ctx, approved.ClientID, approved.Channel, approved.SelectedAssetID, embedding, approved.ScheduledTime); err != nil {
			return e.failEntry(ctx, approved, "persistence error: asset usage: "+err.Error())
		}
	}

	confidence := 1.0
	if asset != nil {
		confidence = asset.Confidence
	}
	entryID := approved.ID
	e.record(ctx, &models.DecisionAction{
		ScheduleEntryID:    &entryID,
		ClientID:           approved.ClientID,
		ActionType:         models.ActionScheduleApproved,
		RiskClassification: string(approved.RiskLevel),
		Confidence:         confidence,
		TruthNotes:         fmt.Sprintf("approved for %s at %s", approved.Channel, approved.ScheduledTime.Format(time.RFC3339)),
		SourceSignals: models.SignalList{
			{
				"channel":        string(approved.Channel),
				"scheduled_time": approved.ScheduledTime.Format(time.RFC3339),
				"asset_id":       approved.SelectedAssetID,
			},
		},
		Actor: actor,
	})
	entriesCommittedTotal.WithLabelValues(string(models.StatusApproved)).Inc()
	e.logger.WithFields(logging.Fields{
		"entry_id":  approved.ID,
		"client_id": approved.ClientID,
		"channel":   approved.Channel,
		"risk":      approved.RiskLevel,
		"actor":     actor,
	}).Info("Schedule entry approved")
	return approved, nil
}

// Approve applies a human decision to an awaiting entry. The slot is
// spacing-checked again; the review may have outlived its gap.
func (e *Executor) Approve(ctx context.Context, id, actor string) (*models.ScheduleEntry, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	entry, err := e.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusAwaitingApproval {
		return nil, fmt.Errorf("%w: entry %s is %s", schedules.ErrStatusConflict, id, entry.Status)
	}
	return e.approve(ctx, entry, nil, "", actor)
}

// Cancel withdraws an entry on a human's behalf. Cancelling an entry
// that is already terminal is an idempotent no-op; the attempt is
// still logged.
func (e *Executor) Cancel(ctx context.Context, id, actor string) (*models.ScheduleEntry, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	entry, err := e.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status.IsTerminal() {
		e.logger.WithFields(logging.Fields{
			"entry_id": entry.ID,
			"status":   entry.Status,
			"actor":    actor,
		}).Info("Cancel on terminal entry ignored")
		e.recordCancel(ctx, entry, actor, fmt.Sprintf("cancel attempted on %s entry", entry.Status))
		return entry, nil
	}

	cancelled, err := e.schedules.TransitionStatus(ctx, entry.ID, entry.Status, models.StatusCancelled, nil, nil)
	if err != nil {
		return nil, err
	}
	e.recordCancel(ctx, cancelled, actor, "entry cancelled")
	e.logger.WithFields(logging.Fields{
		"entry_id": cancelled.ID,
		"actor":    actor,
	}).Info("Schedule entry cancelled")
	return cancelled, nil
}

// recordCancel logs a human cancel. The action enum has no dedicated
// cancel type; a human cancel is a posting decision made by a person.
func (e *Executor) recordCancel(ctx context.Context, entry *models.ScheduleEntry, actor, notes string) {
	entryID := entry.ID
	e.record(ctx, &models.DecisionAction{
		ScheduleEntryID:    &entryID,
		ClientID:           entry.ClientID,
		ActionType:         models.ActionPostingDecision,
		RiskClassification: string(entry.RiskLevel),
		Confidence:         1.0,
		TruthNotes:         notes,
		SourceSignals: models.SignalList{
			{
				"channel": string(entry.Channel),
				"status":  string(entry.Status),
			},
		},
		Actor: actor,
	})
}

// ExecuteDue completes every approved entry whose time has come. This
// is the draft hand-off; nothing external is called. Entries that
// cannot be completed are marked failed and picked up by re-planning.
func (e *Executor) ExecuteDue(ctx context.Context, clientID string, now time.Time) (int, error) {
	due, err := e.schedules.DueForExecution(ctx, clientID, now)
	if err != nil {
		return 0, fmt.Errorf("load due entries: %w", err)
	}

	executed := 0
	for i := range due {
		entry := &due[i]
		completed, err := e.schedules.TransitionStatus(ctx, entry.ID, models.StatusApproved, models.StatusCompleted, nil, nil)
		if errors.Is(err, schedules.ErrStatusConflict) || errors.Is(err, schedules.ErrNotFound) {
			e.logger.WithFields(logging.Fields{
				"entry_id": entry.ID,
				"error":    err.Error(),
			}).Info("Due entry moved concurrently, skipping")
			continue
		}
		if err != nil {
			if _, failErr := e.failEntry(ctx, entry, "persistence error: "+err.Error()); failErr != nil {
				e.logger.WithFields(logging.Fields{
					"entry_id": entry.ID,
					"error":    failErr.Error(),
				}).Error("Could not fail due entry")
			}
			continue
		}

		executed++
		entriesCommittedTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
		entryID := completed.ID
		e.record(ctx, &models.DecisionAction{
			ScheduleEntryID:    &entryID,
			ClientID:           completed.ClientID,
			ActionType:         models.ActionScheduleExecuted,
			RiskClassification: string(completed.RiskLevel),
			Confidence:         1.0,
			TruthNotes:         fmt.Sprintf("draft executed for %s at %s", completed.Channel, completed.ScheduledTime.Format(time.RFC3339)),
			SourceSignals: models.SignalList{
				{
					"channel":        string(completed.Channel),
					"scheduled_time": completed.ScheduledTime.Format(time.RFC3339),
					"asset_id":       completed.SelectedAssetID,
				},
			},
			Actor: "system",
		})
	}
	return executed, nil
}

// failEntry marks an entry failed and bumps its failure count. When
// the count reaches the cap, a manual-intervention escalation is
// recorded and the slot leaves the auto-retry pool.
func (e *Executor) failEntry(ctx context.Context, entry *models.ScheduleEntry, reason string) (*models.ScheduleEntry, error) {
	failed, err := e.schedules.MarkFailed(ctx, entry.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("mark failed after %q: %w", reason, err)
	}

	entryID := failed.ID
	e.record(ctx, &models.DecisionAction{
		ScheduleEntryID:    &entryID,
		ClientID:           failed.ClientID,
		ActionType:         models.ActionScheduleFailed,
		RiskClassification: string(failed.RiskLevel),
		Confidence:         1.0,
		TruthNotes:         reason,
		SourceSignals: models.SignalList{
			{
				"channel":       string(failed.Channel),
				"failure_count": failed.FailureCount,
			},
		},
		Actor: "system",
	})
	entriesCommittedTotal.WithLabelValues(string(models.StatusFailed)).Inc()
	e.logger.WithFields(logging.Fields{
		"entry_id":      failed.ID,
		"client_id":     failed.ClientID,
		"channel":       failed.Channel,
		"failure_count": failed.FailureCount,
		"reason":        reason,
	}).Warn("Schedule entry failed")

	if failed.FailureCount >= e.cfg.MaxFailures {
		e.record(ctx, &models.DecisionAction{
			ScheduleEntryID:    &entryID,
			ClientID:           failed.ClientID,
			ActionType:         models.ActionScheduleFailed,
			RiskClassification: string(models.RiskHigh),
			Confidence:         1.0,
			TruthNotes:         fmt.Sprintf("needs manual intervention after %d failures", failed.FailureCount),
			SourceSignals: models.SignalList{
				{
					"channel":       string(failed.Channel),
					"failure_count": failed.FailureCount,
				},
			},
			Actor: "system",
		})
		e.logger.WithFields(logging.Fields{
			"entry_id":      failed.ID,
			"client_id":     failed.ClientID,
			"failure_count": failed.FailureCount,
		}).Error("Slot needs manual intervention")
	}
	return failed, nil
}

func (e *Executor) notifyReviewer(entry *models.ScheduleEntry, verdict *guardrails.Verdict) {
	if e.notifier == nil || e.cfg.ReviewerEmail == "" {
		return
	}
	subject := fmt.Sprintf("Review needed: %s post for %s", entry.Channel, entry.ClientID)
	body := fmt.Sprintf("<p>Entry %s on %s at %s was classified %s risk and needs a decision.</p>",
		entry.ID, entry.Channel, entry.ScheduledTime.Format(time.RFC3339), entry.RiskLevel)
	if len(verdict.Warnings) > 0 {
		body += fmt.Sprintf("<p>Warnings: %s</p>", strings.Join(verdict.Warnings, "; "))
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.notifier.SendMail(ctx, e.cfg.ReviewerEmail, subject, body); err != nil {
			e.logger.WithFields(logging.Fields{
				"entry_id": entry.ID,
				"error":    err.Error(),
			}).Warn("Reviewer notification failed")
		}
	}()
}

func (e *Executor) record(ctx context.Context, action *models.DecisionAction) {
	if e.decisions != nil {
		e.decisions.Record(ctx, action)
	}
}
