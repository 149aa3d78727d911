package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"flotilla/internal/guardrails"
	"flotilla/internal/planner"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

type fakeRunnerPlanner struct {
	mu       sync.Mutex
	results  map[string]*planner.PlanResult
	planErr  map[string]error
	planned  []string
	nextSlot time.Time
	nextOK   bool
	nextErr  error
}

func (f *fakeRunnerPlanner) PlanWeek(ctx context.Context, clientID string, channels []models.Channel, weekStart time.Time, horizon time.Duration) (*planner.PlanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planned = append(f.planned, clientID)
	if err := f.planErr[clientID]; err != nil {
		return nil, err
	}
	if result, ok := f.results[clientID]; ok {
		return result, nil
	}
	return &planner.PlanResult{}, nil
}

func (f *fakeRunnerPlanner) NextSlot(ctx context.Context, clientID string, channel models.Channel, after, horizonEnd time.Time) (time.Time, bool, error) {
	return f.nextSlot, f.nextOK, f.nextErr
}

type fakeRunnerEvaluator struct {
	mu       sync.Mutex
	verdicts map[string]*guardrails.Verdict
	calls    []string
}

func (f *fakeRunnerEvaluator) Evaluate(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, state *models.ChannelState) *guardrails.Verdict {
	key := ""
	if asset != nil {
		key = asset.ID
	}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if verdict, ok := f.verdicts[key]; ok {
		return verdict
	}
	return &guardrails.Verdict{Allowed: true, RiskLevel: models.RiskLow}
}

type commitCall struct {
	entry   *models.ScheduleEntry
	asset   *models.CandidateAsset
	verdict *guardrails.Verdict
}

type fakeCommitter struct {
	mu       sync.Mutex
	drafts   []*models.ScheduleEntry
	draftErr error
	commits  []commitCall
	executed map[string]int
	execErr  error
}

func (f *fakeCommitter) CreateDraft(ctx context.Context, entry *models.ScheduleEntry) error {
	if f.draftErr != nil {
		return f.draftErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.drafts = append(f.drafts, &cp)
	return nil
}

func (f *fakeCommitter) Commit(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, verdict *guardrails.Verdict) (*models.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{entry: entry, asset: asset, verdict: verdict})

	out := *entry
	switch {
	case !verdict.Allowed:
		out.Status = models.StatusBlocked
		reason := strings.Join(verdict.Reasons, "; ")
		out.BlockReason = &reason
		out.RiskLevel = verdict.RiskLevel
	case verdict.RiskLevel == models.RiskHigh:
		out.Status = models.StatusAwaitingApproval
		out.RiskLevel = verdict.RiskLevel
	default:
		out.Status = models.StatusApproved
		out.RiskLevel = verdict.RiskLevel
	}
	return &out, nil
}

func (f *fakeCommitter) ExecuteDue(ctx context.Context, clientID string, now time.Time) (int, error) {
	if f.execErr != nil {
		return 0, f.execErr
	}
	return f.executed[clientID], nil
}

func (f *fakeCommitter) lastCommit(t *testing.T) commitCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commits) == 0 {
		t.Fatal("expected at least one commit")
	}
	return f.commits[len(f.commits)-1]
}

type swapCall struct {
	id      string
	assetID string
	preview string
}

type fakeScheduleSource struct {
	mu       sync.Mutex
	entries  map[string]*models.ScheduleEntry
	swaps    []swapCall
	swapErr  error
	failures map[string][]models.ScheduleEntry
	failErr  error
}

func newFakeScheduleSource() *fakeScheduleSource {
	return &fakeScheduleSource{
		entries:  map[string]*models.ScheduleEntry{},
		failures: map[string][]models.ScheduleEntry{},
	}
}

func (f *fakeScheduleSource) UpdateDraftAsset(ctx context.Context, id, assetID, preview string) (*models.ScheduleEntry, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps = append(f.swaps, swapCall{id: id, assetID: assetID, preview: preview})
	entry, ok := f.entries[id]
	if !ok {
		return nil, fmt.Errorf("unknown entry %s", id)
	}
	cp := *entry
	cp.SelectedAssetID = assetID
	cp.ContentPreview = preview
	return &cp, nil
}

func (f *fakeScheduleSource) RetryableFailures(ctx context.Context, clientID string, maxFailures int) ([]models.ScheduleEntry, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.failures[clientID], nil
}

type fakeStateSource struct {
	mu          sync.Mutex
	states      map[models.Channel]*models.ChannelState
	stateErr    error
	clients     []string
	clientsErr  error
	clientCalls int
	sweeps      [][2]float64
}

func (f *fakeStateSource) Get(ctx context.Context, clientID string, channel models.Channel) (*models.ChannelState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if state, ok := f.states[channel]; ok {
		return state, nil
	}
	return &models.ChannelState{ClientID: clientID, Channel: channel}, nil
}

func (f *fakeStateSource) ActiveClients(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientCalls++
	if f.clientsErr != nil {
		return nil, f.clientsErr
	}
	return f.clients, nil
}

func (f *fakeStateSource) DecaySweep(ctx context.Context, fatiguePerDay, momentumPerDay float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, [2]float64{fatiguePerDay, momentumPerDay})
	return 3, nil
}

type fakeRunnerAssets struct {
	byChannel map[models.Channel][]models.CandidateAsset
	err       error
}

func (f *fakeRunnerAssets) ListAssets(ctx context.Context, clientID string, channel models.Channel) ([]models.CandidateAsset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byChannel[channel], nil
}

type fakeRunnerRanker struct {
	err error
}

func (f *fakeRunnerRanker) Select(ctx context.Context, clientID string, channel models.Channel, candidates []models.CandidateAsset, now time.Time) ([]models.RankedAsset, error) {
	if f.err != nil {
		return nil, f.err
	}
	ranked := make([]models.RankedAsset, 0, len(candidates))
	for _, candidate := range candidates {
		ranked = append(ranked, models.RankedAsset{Asset: candidate, Score: candidate.ContentValue})
	}
	return ranked, nil
}

type recordedDecisions struct {
	mu      sync.Mutex
	actions []*models.DecisionAction
}

func (r *recordedDecisions) Record(ctx context.Context, action *models.DecisionAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *recordedDecisions) byType(t models.ActionType) []*models.DecisionAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DecisionAction
	for _, action := range r.actions {
		if action.ActionType == t {
			out = append(out, action)
		}
	}
	return out
}

type runnerFixture struct {
	runner    *Runner
	planner   *fakeRunnerPlanner
	evaluator *fakeRunnerEvaluator
	committer *fakeCommitter
	schedules *fakeScheduleSource
	states    *fakeStateSource
	assets    *fakeRunnerAssets
	ranker    *fakeRunnerRanker
	decisions *recordedDecisions
}

func newTestRunner(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		planner:   &fakeRunnerPlanner{results: map[string]*planner.PlanResult{}, planErr: map[string]error{}},
		evaluator: &fakeRunnerEvaluator{verdicts: map[string]*guardrails.Verdict{}},
		committer: &fakeCommitter{executed: map[string]int{}},
		schedules: newFakeScheduleSource(),
		states:    &fakeStateSource{states: map[models.Channel]*models.ChannelState{}, clients: []string{"client-1"}},
		assets:    &fakeRunnerAssets{byChannel: map[models.Channel][]models.CandidateAsset{}},
		ranker:    &fakeRunnerRanker{},
		decisions: &recordedDecisions{},
	}
	f.runner = NewRunner(RunnerConfig{
		Planner:   f.planner,
		Evaluator: f.evaluator,
		Committer: f.committer,
		Schedules: f.schedules,
		States:    f.states,
		Assets:    f.assets,
		Ranker:    f.ranker,
		Decisions: f.decisions,
		Logger:    logging.NewLogger(),
	})
	return f
}

func plannedEntry(id string, channel models.Channel, at time.Time, assets ...models.CandidateAsset) *planner.PlannedEntry {
	entry := &models.ScheduleEntry{
		ID:            id,
		ClientID:      "client-1",
		Channel:       channel,
		ScheduledTime: at,
		Status:        models.StatusPending,
		RiskLevel:     models.RiskLow,
	}
	planned := &planner.PlannedEntry{Entry: entry, AssetIndex: -1}
	for _, asset := range assets {
		planned.Candidates = append(planned.Candidates, models.RankedAsset{Asset: asset, Score: asset.ContentValue})
	}
	if len(planned.Candidates) > 0 {
		planned.AssetIndex = 0
		entry.SelectedAssetID = planned.Candidates[0].Asset.ID
		entry.ContentPreview = planned.Candidates[0].Asset.Preview
	}
	return planned
}

func recoverableRejection(reason string) *guardrails.Verdict {
	return &guardrails.Verdict{
		Allowed:   false,
		RiskLevel: models.RiskHigh,
		Reasons:   []string{reason},
	}
}

func hardRejection(reason string) *guardrails.Verdict {
	return &guardrails.Verdict{
		Allowed:   false,
		RiskLevel: models.RiskHigh,
		Reasons:   []string{reason},
		Checks:    []guardrails.CheckResult{{Name: "fatigue", Passed: false, Reason: reason}},
	}
}

func TestRunWeeklyCommitsPlannedEntries(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	f.planner.results["client-1"] = &planner.PlanResult{
		Entries: []*planner.PlannedEntry{
			plannedEntry("entry-1", models.ChannelFacebook, monday,
				models.CandidateAsset{ID: "asset-1", Preview: "Spring launch recap", ContentValue: 0.9, Confidence: 0.9}),
			plannedEntry("entry-2", models.ChannelInstagram, monday.Add(4*time.Hour),
				models.CandidateAsset{ID: "asset-2", Preview: "Behind the scenes", ContentValue: 0.8, Confidence: 0.8}),
		},
	}

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}

	if summary.Created != 2 || summary.Approved != 2 || summary.Blocked != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(f.committer.drafts) != 2 {
		t.Fatalf("expected 2 drafts inserted, got %d", len(f.committer.drafts))
	}
	if len(f.committer.commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(f.committer.commits))
	}
	if f.committer.commits[0].asset == nil || f.committer.commits[0].asset.ID != "asset-1" {
		t.Errorf("first commit should carry asset-1, got %+v", f.committer.commits[0].asset)
	}
	if f.states.clientCalls != 0 {
		t.Errorf("scoped run must not enumerate active clients, got %d calls", f.states.clientCalls)
	}
}

func TestRunWeeklyCountsPlannerDrops(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	f.planner.results["client-1"] = &planner.PlanResult{
		Entries: []*planner.PlannedEntry{
			plannedEntry("entry-1", models.ChannelFacebook, monday,
				models.CandidateAsset{ID: "asset-1", ContentValue: 0.9, Confidence: 0.9}),
		},
		SlotsBlocked: 2,
	}

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}
	if summary.Blocked != 2 {
		t.Errorf("planner drops should count as blocked, got %d", summary.Blocked)
	}
	if summary.Created != 1 || summary.Approved != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestRunWeeklyBlocksWhenAssetSourceUnavailable(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	planned := plannedEntry("entry-1", models.ChannelFacebook, monday)
	planned.AssetsUnavailable = true
	f.planner.results["client-1"] = &planner.PlanResult{Entries: []*planner.PlannedEntry{planned}}

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}

	if summary.Created != 1 || summary.Blocked != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(f.evaluator.calls) != 0 {
		t.Errorf("guardrails must not run without an asset source, got %d calls", len(f.evaluator.calls))
	}
	commit := f.committer.lastCommit(t)
	if commit.verdict.Allowed {
		t.Fatal("expected a blocking verdict")
	}
	if len(commit.verdict.Reasons) != 1 || commit.verdict.Reasons[0] != "asset source unavailable" {
		t.Errorf("verdict reasons = %v", commit.verdict.Reasons)
	}
}

func TestCommitDraftSwapsAssetUntilAccepted(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	planned := plannedEntry("entry-1", models.ChannelFacebook, monday,
		models.CandidateAsset{ID: "asset-1", Preview: "First pick", ContentValue: 0.9, Confidence: 0.4},
		models.CandidateAsset{ID: "asset-2", Preview: "Second pick", ContentValue: 0.8, Confidence: 0.9},
		models.CandidateAsset{ID: "asset-3", Preview: "Third pick", ContentValue: 0.7, Confidence: 0.9})
	f.planner.results["client-1"] = &planner.PlanResult{Entries: []*planner.PlannedEntry{planned}}
	f.schedules.entries["entry-1"] = planned.Entry
	f.evaluator.verdicts["asset-1"] = recoverableRejection("insufficient evidence: asset confidence 0.40 below 0.50")

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}

	if summary.Approved != 1 {
		t.Fatalf("expected the slot approved with the second asset, got %+v", summary)
	}
	if len(f.schedules.swaps) != 1 {
		t.Fatalf("expected 1 asset swap, got %d", len(f.schedules.swaps))
	}
	if f.schedules.swaps[0].assetID != "asset-2" || f.schedules.swaps[0].preview != "Second pick" {
		t.Errorf("unexpected swap %+v", f.schedules.swaps[0])
	}
	commit := f.committer.lastCommit(t)
	if commit.asset == nil || commit.asset.ID != "asset-2" {
		t.Errorf("commit should carry the replacement asset, got %+v", commit.asset)
	}
	if commit.entry.SelectedAssetID != "asset-2" {
		t.Errorf("committed entry should reference asset-2, got %q", commit.entry.SelectedAssetID)
	}
}

func TestCommitDraftExhaustsCandidates(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	planned := plannedEntry("entry-1", models.ChannelFacebook, monday,
		models.CandidateAsset{ID: "asset-1", ContentValue: 0.9, Confidence: 0.4},
		models.CandidateAsset{ID: "asset-2", ContentValue: 0.8, Confidence: 0.4})
	f.planner.results["client-1"] = &planner.PlanResult{Entries: []*planner.PlannedEntry{planned}}
	f.schedules.entries["entry-1"] = planned.Entry
	f.evaluator.verdicts["asset-1"] = recoverableRejection("insufficient evidence: asset confidence 0.40 below 0.50")
	f.evaluator.verdicts["asset-2"] = recoverableRejection("insufficient evidence: asset confidence 0.40 below 0.50")

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}

	if summary.Blocked != 1 {
		t.Fatalf("expected the slot blocked, got %+v", summary)
	}
	if len(f.schedules.swaps) != 1 {
		t.Fatalf("expected 1 swap before exhaustion, got %d", len(f.schedules.swaps))
	}
	commit := f.committer.lastCommit(t)
	if len(commit.verdict.Reasons) != 1 || commit.verdict.Reasons[0] != "no suitable asset" {
		t.Errorf("exhaustion reason = %v", commit.verdict.Reasons)
	}
}

func TestCommitDraftKeepsHardRejection(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	planned := plannedEntry("entry-1", models.ChannelFacebook, monday,
		models.CandidateAsset{ID: "asset-1", ContentValue: 0.9, Confidence: 0.9},
		models.CandidateAsset{ID: "asset-2", ContentValue: 0.8, Confidence: 0.9})
	f.planner.results["client-1"] = &planner.PlanResult{Entries: []*planner.PlannedEntry{planned}}
	f.schedules.entries["entry-1"] = planned.Entry
	reason := "fatigue 0.85 at or above block threshold 0.80 on facebook"
	f.evaluator.verdicts["asset-1"] = hardRejection(reason)

	summary, err := f.runner.RunWeekly(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunWeekly: %v", err)
	}

	if summary.Blocked != 1 {
		t.Fatalf("expected the slot blocked, got %+v", summary)
	}
	if len(f.schedules.swaps) != 0 {
		t.Errorf("a non-asset rejection must not trigger swaps, got %d", len(f.schedules.swaps))
	}
	commit := f.committer.lastCommit(t)
	if len(commit.verdict.Reasons) != 1 || commit.verdict.Reasons[0] != reason {
		t.Errorf("verdict reasons = %v", commit.verdict.Reasons)
	}
}

func TestRunWeeklyIsolatesFailingClient(t *testing.T) {
	f := newTestRunner(t)
	monday := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	f.states.clients = []string{"client-a", "client-b"}
	f.planner.planErr["client-a"] = errors.New("connection refused")
	result := &planner.PlanResult{
		Entries: []*planner.PlannedEntry{
			plannedEntry("entry-1", models.ChannelFacebook, monday,
				models.CandidateAsset{ID: "asset-1", ContentValue: 0.9, Confidence: 0.9}),
		},
	}
	result.Entries[0].Entry.ClientID = "client-b"
	f.planner.results["client-b"] = result

	summary, err := f.runner.RunWeekly(context.Background(), "")
	if err != nil {
		t.Fatalf("one failing client must not abort the pass: %v", err)
	}

	if summary.Created != 1 || summary.Approved != 1 {
		t.Fatalf("expected only the healthy client's work, got %+v", summary)
	}
	if f.states.clientCalls != 1 {
		t.Errorf("expected one active-client lookup, got %d", f.states.clientCalls)
	}
	if len(f.planner.planned) != 2 {
		t.Errorf("both clients should be planned, got %v", f.planner.planned)
	}
}

func TestRunDailySweepsExecutesAndRetries(t *testing.T) {
	f := newTestRunner(t)

	failedID := "entry-failed"
	f.committer.executed["client-1"] = 3
	f.schedules.failures["client-1"] = []models.ScheduleEntry{
		{
			ID:            failedID,
			ClientID:      "client-1",
			Channel:       models.ChannelFacebook,
			ScheduledTime: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
			Status:        models.StatusFailed,
			FailureCount:  1,
		},
	}
	f.assets.byChannel[models.ChannelFacebook] = []models.CandidateAsset{
		{ID: "asset-9", Preview: "Fresh angle", ContentValue: 0.9, Confidence: 0.9},
	}
	f.planner.nextSlot = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	f.planner.nextOK = true

	summary, err := f.runner.RunDaily(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}

	if len(f.states.sweeps) != 1 || f.states.sweeps[0] != [2]float64{0.05, 0.02} {
		t.Fatalf("expected one decay sweep with defaults, got %v", f.states.sweeps)
	}
	if summary.Created != 1 || summary.Approved != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(f.committer.drafts) != 1 {
		t.Fatalf("expected 1 replacement draft, got %d", len(f.committer.drafts))
	}
	replacement := f.committer.drafts[0]
	if replacement.RetryOf == nil || *replacement.RetryOf != failedID {
		t.Errorf("replacement should reference the failed entry, got %v", replacement.RetryOf)
	}
	if replacement.FailureCount != 1 {
		t.Errorf("failure count must carry forward, got %d", replacement.FailureCount)
	}
	if replacement.SelectedAssetID != "asset-9" || replacement.ContentPreview != "Fresh angle" {
		t.Errorf("replacement should take the top-ranked asset, got %+v", replacement)
	}
	if !replacement.ScheduledTime.Equal(f.planner.nextSlot) {
		t.Errorf("replacement time = %s, want %s", replacement.ScheduledTime, f.planner.nextSlot)
	}
}

func TestRunDailyRetryWithoutSlotRecordsBlocked(t *testing.T) {
	f := newTestRunner(t)

	f.schedules.failures["client-1"] = []models.ScheduleEntry{
		{
			ID:           "entry-failed",
			ClientID:     "client-1",
			Channel:      models.ChannelYouTube,
			Status:       models.StatusFailed,
			FailureCount: 1,
		},
	}
	f.planner.nextOK = false

	summary, err := f.runner.RunDaily(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}

	if summary.Blocked != 1 || summary.Created != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(f.committer.drafts) != 0 {
		t.Errorf("no replacement should be drafted without a slot")
	}
	blocked := f.decisions.byType(models.ActionScheduleBlocked)
	if len(blocked) != 1 {
		t.Fatalf("expected 1 schedule_blocked action, got %d", len(blocked))
	}
	if blocked[0].TruthNotes != "no available slot" {
		t.Errorf("blocked notes = %q", blocked[0].TruthNotes)
	}
}

func TestRunDispatchesByMode(t *testing.T) {
	f := newTestRunner(t)

	if _, err := f.runner.Run(context.Background(), "weekly", "client-1"); err != nil {
		t.Fatalf("weekly dispatch: %v", err)
	}
	if len(f.planner.planned) != 1 {
		t.Fatalf("expected one plan call, got %d", len(f.planner.planned))
	}
	if _, err := f.runner.Run(context.Background(), "daily", "client-1"); err != nil {
		t.Fatalf("daily dispatch: %v", err)
	}
	if _, err := f.runner.Run(context.Background(), "hourly", "client-1"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
