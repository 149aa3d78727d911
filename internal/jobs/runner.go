package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flotilla/internal/guardrails"
	"flotilla/internal/planner"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// Planner builds the weekly slot layout and finds retry slots.
type Planner interface {
	PlanWeek(ctx context.Context, clientID string, channels []models.Channel, weekStart time.Time, horizon time.Duration) (*planner.PlanResult, error)
	NextSlot(ctx context.Context, clientID string, channel models.Channel, after, horizonEnd time.Time) (time.Time, bool, error)
}

// Evaluator runs the guardrail checks for one draft.
type Evaluator interface {
	Evaluate(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, state *models.ChannelState) *guardrails.Verdict
}

// Committer is the slice of the executor the passes drive.
type Committer interface {
	CreateDraft(ctx context.Context, entry *models.ScheduleEntry) error
	Commit(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, verdict *guardrails.Verdict) (*models.ScheduleEntry, error)
	ExecuteDue(ctx context.Context, clientID string, now time.Time) (int, error)
}

// ScheduleSource supplies the schedule-store operations the passes
// need beyond what the executor wraps.
type ScheduleSource interface {
	UpdateDraftAsset(ctx context.Context, id, assetID, preview string) (*models.ScheduleEntry, error)
	RetryableFailures(ctx context.Context, clientID string, maxFailures int) ([]models.ScheduleEntry, error)
}

// StateSource supplies channel state reads and maintenance.
type StateSource interface {
	Get(ctx context.Context, clientID string, channel models.Channel) (*models.ChannelState, error)
	ActiveClients(ctx context.Context) ([]string, error)
	DecaySweep(ctx context.Context, fatiguePerDay, momentumPerDay float64) (int64, error)
}

// AssetSource lists candidate assets for a channel.
type AssetSource interface {
	ListAssets(ctx context.Context, clientID string, channel models.Channel) ([]models.CandidateAsset, error)
}

// AssetRanker scores and orders candidates.
type AssetRanker interface {
	Select(ctx context.Context, clientID string, channel models.Channel, candidates []models.CandidateAsset, now time.Time) ([]models.RankedAsset, error)
}

// DecisionRecorder receives the runner's audit records.
type DecisionRecorder interface {
	Record(ctx context.Context, action *models.DecisionAction)
}

// RunSummary is the outcome of one scheduler pass.
type RunSummary struct {
	Created  int `json:"created"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Failed   int `json:"failed"`
}

func (s *RunSummary) merge(other RunSummary) {
	s.Created += other.Created
	s.Approved += other.Approved
	s.Blocked += other.Blocked
	s.Failed += other.Failed
}

func (s *RunSummary) tally(status models.EntryStatus) {
	switch status {
	case models.StatusApproved:
		s.Approved++
	case models.StatusBlocked:
		s.Blocked++
	case models.StatusFailed:
		s.Failed++
	}
}

// RunnerConfig holds the runner's collaborators and knobs. Zero-value
// knobs get defaults in NewRunner.
type RunnerConfig struct {
	Planner   Planner
	Evaluator Evaluator
	Committer Committer
	Schedules ScheduleSource
	States    StateSource
	Assets    AssetSource
	Ranker    AssetRanker
	Decisions DecisionRecorder
	Logger    logging.Logger

	PlanHorizon         time.Duration // default 7 days
	Concurrency         int           // per-client fan-out limit, default 4
	MaxAssetRetries     int           // next-ranked swaps per slot, default 3
	MaxFailures         int           // auto-retry cutoff, default 3
	FatigueDecayPerDay  float64       // default 0.05
	MomentumDecayPerDay float64       // default 0.02
}

// Runner executes the daily and weekly scheduler passes. Passes are
// idempotent batch operations; clients are isolated, so one client's
// failure never aborts the rest of the pass.
type Runner struct {
	planner   Planner
	evaluator Evaluator
	committer Committer
	schedules ScheduleSource
	states    StateSource
	assets    AssetSource
	ranker    AssetRanker
	decisions DecisionRecorder
	logger    logging.Logger

	horizon             time.Duration
	concurrency         int
	maxAssetRetries     int
	maxFailures         int
	fatigueDecayPerDay  float64
	momentumDecayPerDay float64
}

// NewRunner creates a pass runner.
func NewRunner(cfg RunnerConfig) *Runner {
	horizon := cfg.PlanHorizon
	if horizon == 0 {
		horizon = 7 * 24 * time.Hour
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}
	maxAssetRetries := cfg.MaxAssetRetries
	if maxAssetRetries == 0 {
		maxAssetRetries = 3
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	fatigueDecay := cfg.FatigueDecayPerDay
	if fatigueDecay == 0 {
		fatigueDecay = 0.05
	}
	momentumDecay := cfg.MomentumDecayPerDay
	if momentumDecay == 0 {
		momentumDecay = 0.02
	}
	return &Runner{
		planner:             cfg.Planner,
		evaluator:           cfg.Evaluator,
		committer:           cfg.Committer,
		schedules:           cfg.Schedules,
		states:              cfg.States,
		assets:              cfg.Assets,
		ranker:              cfg.Ranker,
		decisions:           cfg.Decisions,
		logger:              cfg.Logger,
		horizon:             horizon,
		concurrency:         concurrency,
		maxAssetRetries:     maxAssetRetries,
		maxFailures:         maxFailures,
		fatigueDecayPerDay:  fatigueDecay,
		momentumDecayPerDay: momentumDecay,
	}
}

// Run dispatches a pass by mode. clientID narrows the pass to one
// client; empty runs every active client.
func (r *Runner) Run(ctx context.Context, mode, clientID string) (*RunSummary, error) {
	switch mode {
	case "daily":
		return r.RunDaily(ctx, clientID)
	case "weekly":
		return r.RunWeekly(ctx, clientID)
	default:
		return nil, fmt.Errorf("unknown pass mode %q", mode)
	}
}

// RunWeekly plans the next horizon for each client and commits the
// resulting drafts through the guardrails.
func (r *Runner) RunWeekly(ctx context.Context, clientID string) (*RunSummary, error) {
	start := time.Now()
	defer func() {
		passDurationSeconds.WithLabelValues("weekly").Observe(time.Since(start).Seconds())
	}()

	clients, err := r.resolveClients(ctx, clientID)
	if err != nil {
		return nil, err
	}
	// Truncated so re-triggering within the hour replans the same window.
	weekStart := start.UTC().Truncate(time.Hour)

	total := &RunSummary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			summary, err := r.planClient(gctx, client, weekStart)
			if err != nil {
				passClientFailuresTotal.WithLabelValues("weekly").Inc()
				r.logger.WithFields(logging.Fields{
					"client_id": client,
					"error":     err.Error(),
				}).Error("Weekly pass failed for client")
				return nil
			}
			mu.Lock()
			total.merge(summary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.logger.WithFields(logging.Fields{
		"clients":  len(clients),
		"created":  total.Created,
		"approved": total.Approved,
		"blocked":  total.Blocked,
		"failed":   total.Failed,
	}).Info("Weekly pass complete")
	return total, nil
}

// RunDaily decays channel state, executes due drafts, and replans
// retryable failures.
func (r *Runner) RunDaily(ctx context.Context, clientID string) (*RunSummary, error) {
	start := time.Now()
	defer func() {
		passDurationSeconds.WithLabelValues("daily").Observe(time.Since(start).Seconds())
	}()

	if _, err := r.states.DecaySweep(ctx, r.fatigueDecayPerDay, r.momentumDecayPerDay); err != nil {
		r.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Decay sweep failed")
	}

	clients, err := r.resolveClients(ctx, clientID)
	if err != nil {
		return nil, err
	}
	now := start.UTC()

	total := &RunSummary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			summary, err := r.executeClient(gctx, client, now)
			if err != nil {
				passClientFailuresTotal.WithLabelValues("daily").Inc()
				r.logger.WithFields(logging.Fields{
					"client_id": client,
					"error":     err.Error(),
				}).Error("Daily pass failed for client")
				return nil
			}
			mu.Lock()
			total.merge(summary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.logger.WithFields(logging.Fields{
		"clients":  len(clients),
		"created":  total.Created,
		"approved": total.Approved,
		"blocked":  total.Blocked,
		"failed":   total.Failed,
	}).Info("Daily pass complete")
	return total, nil
}

func (r *Runner) resolveClients(ctx context.Context, clientID string) ([]string, error) {
	if clientID != "" {
		return []string{clientID}, nil
	}
	clients, err := r.states.ActiveClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve clients: %w", err)
	}
	return clients, nil
}

// planClient runs the weekly pass for one client. Drafts are inserted
// before evaluation, in planner order, so the conflict guardrail sees
// every sibling of the same pass.
func (r *Runner) planClient(ctx context.Context, clientID string, weekStart time.Time) (RunSummary, error) {
	summary := RunSummary{}

	result, err := r.planner.PlanWeek(ctx, clientID, nil, weekStart, r.horizon)
	if err != nil {
		return summary, fmt.Errorf("plan week: %w", err)
	}
	summary.Blocked += result.SlotsBlocked

	for _, planned := range result.Entries {
		if err := r.committer.CreateDraft(ctx, planned.Entry); err != nil {
			summary.Failed++
			r.logger.WithFields(logging.Fields{
				"client_id": clientID,
				"channel":   planned.Entry.Channel,
				"error":     err.Error(),
			}).Error("Draft insert failed")
			continue
		}
		summary.Created++
		entriesPlannedTotal.WithLabelValues(string(planned.Entry.Channel)).Inc()

		committed, err := r.commitDraft(ctx, planned.Entry, planned.Candidates, planned.AssetIndex, planned.AssetsUnavailable)
		if err != nil {
			r.logger.WithFields(logging.Fields{
				"client_id": clientID,
				"entry_id":  planned.Entry.ID,
				"error":     err.Error(),
			}).Warn("Draft commit skipped")
			continue
		}
		summary.tally(committed.Status)
	}
	return summary, nil
}

// executeClient runs the daily pass for one client: hand off due
// drafts, then replan failed slots still under the retry cap.
func (r *Runner) executeClient(ctx context.Context, clientID string, now time.Time) (RunSummary, error) {
	summary := RunSummary{}

	executed, err := r.committer.ExecuteDue(ctx, clientID, now)
	if err != nil {
		return summary, err
	}

	failures, err := r.schedules.RetryableFailures(ctx, clientID, r.maxFailures)
	if err != nil {
		return summary, fmt.Errorf("list retryable failures: %w", err)
	}
	for i := range failures {
		summary.merge(r.retryFailure(ctx, &failures[i], now))
	}

	if executed > 0 || len(failures) > 0 {
		r.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"executed":  executed,
			"retried":   len(failures),
		}).Info("Daily pass handled client")
	}
	return summary, nil
}

// retryFailure replans one failed slot as if new: fresh slot, fresh
// top-ranked asset, full guardrail evaluation. The replacement carries
// the failure count forward so repeated failures still escalate.
func (r *Runner) retryFailure(ctx context.Context, failed *models.ScheduleEntry, now time.Time) RunSummary {
	summary := RunSummary{}

	candidates, assetsUnavailable := r.rankAssets(ctx, failed.ClientID, failed.Channel, now)

	slot, ok, err := r.planner.NextSlot(ctx, failed.ClientID, failed.Channel, now, now.Add(r.horizon))
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": failed.ClientID,
			"entry_id":  failed.ID,
			"error":     err.Error(),
		}).Error("Retry slot lookup failed")
		return summary
	}
	if !ok {
		// No replacement created; the original stays in the retry pool
		// until the horizon opens up.
		if r.decisions != nil {
			r.decisions.Record(ctx, &models.DecisionAction{
				ClientID:   failed.ClientID,
				ActionType: models.ActionScheduleBlocked,
				Confidence: 1.0,
				TruthNotes: "no available slot",
				SourceSignals: models.SignalList{
					{
						"channel":  string(failed.Channel),
						"retry_of": failed.ID,
					},
				},
				Actor: "system",
			})
		}
		summary.Blocked++
		return summary
	}

	replacement := &models.ScheduleEntry{
		ID:            uuid.New().String(),
		ClientID:      failed.ClientID,
		Channel:       failed.Channel,
		ScheduledTime: slot,
		Status:        models.StatusPending,
		RiskLevel:     models.RiskLow,
		FailureCount:  failed.FailureCount,
		RetryOf:       &failed.ID,
	}
	assetIdx := -1
	if len(candidates) > 0 {
		replacement.SelectedAssetID = candidates[0].Asset.ID
		replacement.ContentPreview = previewFor(&candidates[0].Asset)
		assetIdx = 0
	}

	if err := r.committer.CreateDraft(ctx, replacement); err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": failed.ClientID,
			"entry_id":  failed.ID,
			"error":     err.Error(),
		}).Error("Retry draft insert failed")
		return summary
	}
	summary.Created++
	entriesPlannedTotal.WithLabelValues(string(replacement.Channel)).Inc()

	committed, err := r.commitDraft(ctx, replacement, candidates, assetIdx, assetsUnavailable)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": failed.ClientID,
			"entry_id":  replacement.ID,
			"error":     err.Error(),
		}).Warn("Retry commit skipped")
		return summary
	}
	summary.tally(committed.Status)
	return summary
}

func (r *Runner) rankAssets(ctx context.Context, clientID string, channel models.Channel, now time.Time) ([]models.RankedAsset, bool) {
	assets, err := r.assets.ListAssets(ctx, clientID, channel)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"channel":   channel,
			"error":     err.Error(),
		}).Warn("Asset producer unavailable for retry")
		return nil, true
	}
	ranked, err := r.ranker.Select(ctx, clientID, channel, assets, now)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"channel":   channel,
			"error":     err.Error(),
		}).Warn("Asset ranking failed for retry")
		return nil, true
	}
	return ranked, false
}

// commitDraft evaluates a persisted draft and commits the verdict.
// Asset-scoped rejections are retried with the next-ranked candidates,
// bounded; exhausting the candidates blocks the slot.
func (r *Runner) commitDraft(ctx context.Context, entry *models.ScheduleEntry, candidates []models.RankedAsset, assetIdx int, assetsUnavailable bool) (*models.ScheduleEntry, error) {
	var asset *models.CandidateAsset
	if assetIdx >= 0 && assetIdx < len(candidates) {
		asset = &candidates[assetIdx].Asset
	}

	if asset == nil && assetsUnavailable {
		verdict := &guardrails.Verdict{
			Allowed:   false,
			RiskLevel: models.RiskHigh,
			Reasons:   []string{"asset source unavailable"},
		}
		return r.committer.Commit(ctx, entry, nil, verdict)
	}

	// Fetched fresh rather than reusing the planner's snapshot: earlier
	// commits in the same pass already moved fatigue.
	state, err := r.states.Get(ctx, entry.ClientID, entry.Channel)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"client_id": entry.ClientID,
			"channel":   entry.Channel,
			"error":     err.Error(),
		}).Warn("Channel state unavailable at commit, evaluating without it")
		state = nil
	}

	verdict := r.evaluator.Evaluate(ctx, entry, asset, state)
	attempts := 0
	for !verdict.Allowed && verdict.AssetRecoverable() && attempts < r.maxAssetRetries {
		next, ok := alternativeCandidate(candidates, assetIdx, attempts)
		if !ok {
			break
		}
		updated, err := r.schedules.UpdateDraftAsset(ctx, entry.ID, next.Asset.ID, previewFor(&next.Asset))
		if err != nil {
			return nil, fmt.Errorf("swap draft asset: %w", err)
		}
		entry = updated
		asset = &next.Asset
		attempts++
		r.logger.WithFields(logging.Fields{
			"entry_id": entry.ID,
			"asset_id": next.Asset.ID,
			"attempt":  attempts,
		}).Info("Retrying slot with next-ranked asset")
		verdict = r.evaluator.Evaluate(ctx, entry, asset, state)
	}
	if !verdict.Allowed && verdict.AssetRecoverable() && attempts > 0 {
		verdict = &guardrails.Verdict{
			Allowed:   false,
			RiskLevel: models.RiskHigh,
			Reasons:   []string{"no suitable asset"},
		}
	}
	return r.committer.Commit(ctx, entry, asset, verdict)
}

// alternativeCandidate returns the n-th ranked candidate excluding the
// one originally attached.
func alternativeCandidate(candidates []models.RankedAsset, originalIdx, n int) (*models.RankedAsset, bool) {
	seen := 0
	for i := range candidates {
		if i == originalIdx {
			continue
		}
		if seen == n {
			return &candidates[i], true
		}
		seen++
	}
	return nil, false
}

func previewFor(asset *models.CandidateAsset) string {
	if asset.Preview != "" {
		return asset.Preview
	}
	return asset.Title
}
