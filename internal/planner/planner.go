package planner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	chandlercli "flotilla/pkg/clients/chandler"
	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// StateProvider supplies channel posting state for throttling.
type StateProvider interface {
	Get(ctx context.Context, clientID string, channel models.Channel) (*models.ChannelState, error)
}

// AssetSource supplies the candidate assets for one (client, channel).
type AssetSource interface {
	ListAssets(ctx context.Context, clientID string, channel models.Channel) ([]models.CandidateAsset, error)
}

// AssetRanker scores and orders candidate assets.
type AssetRanker interface {
	Select(ctx context.Context, clientID string, channel models.Channel, candidates []models.CandidateAsset, now time.Time) ([]models.RankedAsset, error)
}

// ScheduleReader exposes the committed schedule the planner must not
// collide with.
type ScheduleReader interface {
	Upcoming(ctx context.Context, clientID string, from time.Time) ([]models.ScheduleEntry, error)
}

// DecisionRecorder receives the planner's audit records.
type DecisionRecorder interface {
	Record(ctx context.Context, action *models.DecisionAction)
}

// Config holds the planning knobs.
type Config struct {
	Cadence Cadence
	// FatigueWarnThreshold is where soft throttling starts. Matches
	// the guardrail warn threshold; main wires both from one place.
	FatigueWarnThreshold float64
	// ConflictWindow is how close two drafts on different channels may
	// sit before they count as competing for the same audience moment.
	ConflictWindow time.Duration
	// MaxConflictSweeps bounds the push-and-recheck loop. Conflicts
	// still unresolved after the last sweep are left for the guardrail
	// conflict check to reject.
	MaxConflictSweeps int
}

// DefaultConfig returns the standard planning configuration
func DefaultConfig() Config {
	return Config{
		Cadence:              DefaultCadence(),
		FatigueWarnThreshold: 0.5,
		ConflictWindow:       30 * time.Minute,
		MaxConflictSweeps:    16,
	}
}

// PlannedEntry pairs a draft entry with the ranked assets for its
// channel, so the caller can fall back to the next-ranked asset when a
// guardrail rejects the attached one. AssetIndex is the entry's
// position in Candidates, or -1 when no asset could be attached.
// AssetsUnavailable distinguishes "the producer had nothing" from "the
// producer could not be reached"; the latter blocks the entry with an
// explicit reason instead of a generic evidence failure.
type PlannedEntry struct {
	Entry             *models.ScheduleEntry
	Candidates        []models.RankedAsset
	AssetIndex        int
	AssetsUnavailable bool
}

// PlanResult is the outcome of one planning pass.
type PlanResult struct {
	Entries []*PlannedEntry
	// SlotsBlocked counts demand the pass had to drop, each drop
	// already recorded as a schedule_blocked decision.
	SlotsBlocked int
}

// Planner turns per-channel cadence rules and channel state into draft
// schedule entries. It only proposes; committing drafts is the
// executor's job, and rejecting them is the guardrail layer's.
type Planner struct {
	states    StateProvider
	assets    AssetSource
	ranker    AssetRanker
	schedules ScheduleReader
	decisions DecisionRecorder
	logger    logging.Logger
	cfg       Config
}

// NewPlanner creates a planner
func NewPlanner(states StateProvider, assets AssetSource, ranker AssetRanker, schedules ScheduleReader, decisions DecisionRecorder, logger logging.Logger, cfg Config) *Planner {
	return &Planner{
		states:    states,
		assets:    assets,
		ranker:    ranker,
		schedules: schedules,
		decisions: decisions,
		logger:    logger,
		cfg:       cfg,
	}
}

// PlanWeek builds draft entries for every requested channel across
// [weekStart, weekStart+horizon). The pass is idempotent: demand
// already covered by live entries inside the window is not re-planned.
// Entries come back pending, sorted by scheduled time, each with the
// ranked asset list for its channel.
func (p *Planner) PlanWeek(ctx context.Context, clientID string, channels []models.Channel, weekStart time.Time, horizon time.Duration) (*PlanResult, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if len(channels) == 0 {
		channels = models.AllChannels
	}
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	weekStart = weekStart.UTC()
	horizonEnd := weekStart.Add(horizon)

	existing, err := p.schedules.Upcoming(ctx, clientID, weekStart)
	if err != nil {
		return nil, fmt.Errorf("load upcoming schedule: %w", err)
	}
	occupied := make(map[models.Channel][]time.Time)
	live := make(map[models.Channel]int)
	for _, entry := range existing {
		at := entry.ScheduledTime.UTC()
		occupied[entry.Channel] = append(occupied[entry.Channel], at)
		if !at.Before(weekStart) && at.Before(horizonEnd) {
			live[entry.Channel]++
		}
	}

	ordered := p.orderChannels(channels)

	result := &PlanResult{}
	for _, channel := range ordered {
		entries, blocked := p.planChannel(ctx, clientID, channel, weekStart, horizonEnd, occupied[channel], live[channel])
		result.Entries = append(result.Entries, entries...)
		result.SlotsBlocked += blocked
	}

	var dropped int
	result.Entries, dropped = p.resolveConflicts(ctx, result.Entries, occupied, horizonEnd)
	result.SlotsBlocked += dropped

	sort.Slice(result.Entries, func(i, j int) bool {
		a, b := result.Entries[i].Entry, result.Entries[j].Entry
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		pa, pb := p.cfg.Cadence.PriorityOf(a.Channel), p.cfg.Cadence.PriorityOf(b.Channel)
		if pa != pb {
			return pa < pb
		}
		return a.ID < b.ID
	})

	p.logger.WithFields(logging.Fields{
		"client_id": clientID,
		"channels":  len(ordered),
		"entries":   len(result.Entries),
		"blocked":   result.SlotsBlocked,
	}).Info("Weekly plan built")
	return result, nil
}

// orderChannels dedupes and validates the requested channels, then
// orders them by conflict priority so planning output is deterministic
// for a given request.
func (p *Planner) orderChannels(channels []models.Channel) []models.Channel {
	seen := make(map[models.Channel]bool, len(channels))
	ordered := make([]models.Channel, 0, len(channels))
	for _, channel := range channels {
		if seen[channel] {
			continue
		}
		if !channel.IsValid() {
			p.logger.WithFields(logging.Fields{"channel": channel}).Warn("Skipping unknown channel in plan request")
			continue
		}
		seen[channel] = true
		ordered = append(ordered, channel)
	}
	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := p.cfg.Cadence.PriorityOf(ordered[i]), p.cfg.Cadence.PriorityOf(ordered[j])
		if pi != pj {
			return pi < pj
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

func (p *Planner) planChannel(ctx context.Context, clientID string, channel models.Channel, weekStart, horizonEnd time.Time, occupied []time.Time, liveCount int) ([]*PlannedEntry, int) {
	target, ok := p.targetCount(ctx, clientID, channel, horizonEnd.Sub(weekStart))
	if !ok {
		p.recordDropped(ctx, clientID, nil, "channel state unavailable", map[string]interface{}{
			"channel": string(channel),
		})
		return nil, 1
	}
	remaining := target - liveCount
	if remaining <= 0 {
		return nil, 0
	}

	ranked, assetsUnavailable := p.rankAssets(ctx, clientID, channel, weekStart)

	spacing := p.cfg.Cadence.SpacingFor(channel)
	step := horizonEnd.Sub(weekStart) / time.Duration(remaining)
	placed := append([]time.Time(nil), occupied...)

	var entries []*PlannedEntry
	blocked := 0
	attached := 0
	for i := 0; i < remaining; i++ {
		anchor := weekStart.Add(time.Duration(i) * step)
		slot, ok := p.findSlot(channel, anchor, horizonEnd, spacing, placed)
		if !ok {
			blocked++
			p.recordDropped(ctx, clientID, nil, "no available slot", map[string]interface{}{
				"channel": string(channel),
				"anchor":  anchor.Format(time.RFC3339),
			})
			continue
		}
		placed = append(placed, slot)

		entry := &models.ScheduleEntry{
			ID:            uuid.New().String(),
			ClientID:      clientID,
			Channel:       channel,
			ScheduledTime: slot,
			RiskLevel:     models.RiskLow,
			Status:        models.StatusPending,
		}
		planned := &PlannedEntry{Entry: entry, Candidates: ranked, AssetIndex: -1, AssetsUnavailable: assetsUnavailable}
		if len(ranked) > 0 {
			idx := attached % len(ranked)
			attachAsset(entry, ranked[idx])
			planned.AssetIndex = idx
			attached++
			p.recordAssetChoice(ctx, entry, ranked[idx], idx, len(ranked))
		}
		p.recordTimeChoice(ctx, entry, anchor, spacing)
		entries = append(entries, planned)
	}
	return entries, blocked
}

// targetCount scales the channel's weekly frequency to the horizon and
// throttles it proportionally to 1-fatigue once fatigue is past the
// warn threshold. Throttling is soft; only the guardrail layer blocks.
// The second return is false when channel state could not be read.
func (p *Planner) targetCount(ctx context.Context, clientID string, channel models.Channel, horizon time.Duration) (int, bool) {
	freq := p.cfg.Cadence.WeeklyFrequency[channel]
	if freq <= 0 {
		return 0, true
	}
	demand := float64(freq) * horizon.Hours() / (7 * 24)

	state, err := p.states.Get(ctx, clientID, channel)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"channel":   channel,
			"error":     err.Error(),
		}).Warn("Channel state unavailable, dropping channel from plan")
		return 0, false
	}
	if state.FatigueScore > p.cfg.FatigueWarnThreshold {
		demand *= 1 - state.FatigueScore
	}
	return int(math.Round(demand)), true
}

// rankAssets fetches and ranks the channel's candidates. Failures are
// logged and produce an empty ranking with the unavailable flag set;
// affected slots are still planned and surface as per-entry guardrail
// failures, not as a lost channel.
func (p *Planner) rankAssets(ctx context.Context, clientID string, channel models.Channel, now time.Time) ([]models.RankedAsset, bool) {
	candidates, err := p.assets.ListAssets(ctx, clientID, channel)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"channel":   channel,
			"error":     err.Error(),
		}).Warn("Asset producer unavailable, planning slots without assets")
		return nil, true
	}
	ranked, err := p.ranker.Select(ctx, clientID, channel, candidates, now)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"client_id": clientID,
			"channel":   channel,
			"error":     err.Error(),
		}).Warn("Asset ranking failed, planning slots without assets")
		return nil, true
	}
	return ranked, false
}

// NextSlot returns the channel's next optimal-hour slot after the
// given time that keeps spacing from every live entry, bounded by
// horizonEnd. The daily pass uses it to re-home failed slots.
func (p *Planner) NextSlot(ctx context.Context, clientID string, channel models.Channel, after, horizonEnd time.Time) (time.Time, bool, error) {
	spacing := p.cfg.Cadence.SpacingFor(channel)
	existing, err := p.schedules.Upcoming(ctx, clientID, after.Add(-spacing))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load upcoming schedule: %w", err)
	}
	var placed []time.Time
	for _, entry := range existing {
		if entry.Channel == channel {
			placed = append(placed, entry.ScheduledTime.UTC())
		}
	}
	slot, ok := p.findSlot(channel, after.UTC(), horizonEnd, spacing, placed)
	return slot, ok, nil
}

// findSlot returns the first optimal-hour slot at or after anchor that
// stays inside the horizon and keeps the channel's minimum spacing
// from every already-placed time.
func (p *Planner) findSlot(channel models.Channel, anchor, horizonEnd time.Time, spacing time.Duration, placed []time.Time) (time.Time, bool) {
	hours := p.cfg.Cadence.HoursFor(channel)
	for slot := nextOptimalTime(anchor, hours); slot.Before(horizonEnd); slot = nextOptimalTime(slot.Add(time.Minute), hours) {
		if spacingOK(slot, placed, spacing) {
			return slot, true
		}
	}
	return time.Time{}, false
}

// nextOptimalTime returns the earliest optimal-hour time at or after t.
func nextOptimalTime(t time.Time, hours []int) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for {
		for _, hour := range hours {
			candidate := day.Add(time.Duration(hour) * time.Hour)
			if !candidate.Before(t) {
				return candidate
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

func spacingOK(slot time.Time, placed []time.Time, spacing time.Duration) bool {
	for _, at := range placed {
		gap := slot.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap < spacing {
			return false
		}
	}
	return true
}

func attachAsset(entry *models.ScheduleEntry, pick models.RankedAsset) {
	entry.SelectedAssetID = pick.Asset.ID
	entry.ContentPreview = pick.Asset.Preview
	if entry.ContentPreview == "" {
		entry.ContentPreview = pick.Asset.Title
	}
}

// resolveConflicts groups drafts landing within the conflict window of
// each other, keeps the highest-priority channel in each group, and
// pushes the rest to their channel's next valid slot. Pushing can
// create new overlaps, so the sweep repeats until stable or the sweep
// budget runs out; drafts pushed past the horizon are dropped and
// recorded.
func (p *Planner) resolveConflicts(ctx context.Context, entries []*PlannedEntry, occupied map[models.Channel][]time.Time, horizonEnd time.Time) ([]*PlannedEntry, int) {
	dropped := 0
	for sweep := 0; sweep < p.cfg.MaxConflictSweeps; sweep++ {
		groups := conflictGroups(entries, p.cfg.ConflictWindow)
		if len(groups) == 0 {
			return entries, dropped
		}

		drop := make(map[*PlannedEntry]bool)
		for _, group := range groups {
			keep := p.keepEntry(group)
			for _, planned := range group {
				if planned == keep || drop[planned] {
					continue
				}
				entry := planned.Entry
				oldTime := entry.ScheduledTime
				spacing := p.cfg.Cadence.SpacingFor(entry.Channel)
				placed := channelTimes(entries, occupied, entry.Channel, planned, drop)
				slot, ok := p.findSlot(entry.Channel, oldTime.Add(time.Minute), horizonEnd, spacing, placed)
				if !ok {
					drop[planned] = true
					entryID := entry.ID
					p.recordDropped(ctx, entry.ClientID, &entryID, "no available slot", map[string]interface{}{
						"channel":       string(entry.Channel),
						"original_time": oldTime.Format(time.RFC3339),
						"conflict_with": keep.Entry.ID,
					})
					continue
				}
				entry.ScheduledTime = slot
				p.recordConflict(ctx, entry, keep.Entry, oldTime)
			}
		}

		if len(drop) > 0 {
			kept := entries[:0]
			for _, planned := range entries {
				if !drop[planned] {
					kept = append(kept, planned)
				}
			}
			entries = kept
			dropped += len(drop)
		}
	}

	if remaining := conflictGroups(entries, p.cfg.ConflictWindow); len(remaining) > 0 {
		p.logger.WithFields(logging.Fields{
			"groups": len(remaining),
		}).Warn("Timing conflicts left unresolved after sweep budget, guardrails will reject them")
	}
	return entries, dropped
}

// conflictGroups clusters drafts whose scheduled times chain within
// the conflict window, transitively. A cluster of one is no conflict.
func conflictGroups(entries []*PlannedEntry, window time.Duration) [][]*PlannedEntry {
	sorted := append([]*PlannedEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Entry, sorted[j].Entry
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		return a.ID < b.ID
	})

	var groups [][]*PlannedEntry
	var current []*PlannedEntry
	for _, planned := range sorted {
		if len(current) > 0 && planned.Entry.ScheduledTime.Sub(current[len(current)-1].Entry.ScheduledTime) < window {
			current = append(current, planned)
			continue
		}
		if len(current) > 1 {
			groups = append(groups, current)
		}
		current = []*PlannedEntry{planned}
	}
	if len(current) > 1 {
		groups = append(groups, current)
	}
	return groups
}

// keepEntry picks the group member that holds its slot: highest
// channel priority, then earliest time, then lowest id.
func (p *Planner) keepEntry(group []*PlannedEntry) *PlannedEntry {
	keep := group[0]
	for _, planned := range group[1:] {
		pc, kc := p.cfg.Cadence.PriorityOf(planned.Entry.Channel), p.cfg.Cadence.PriorityOf(keep.Entry.Channel)
		if pc < kc {
			keep = planned
			continue
		}
		if pc > kc {
			continue
		}
		if planned.Entry.ScheduledTime.Before(keep.Entry.ScheduledTime) {
			keep = planned
		} else if planned.Entry.ScheduledTime.Equal(keep.Entry.ScheduledTime) && planned.Entry.ID < keep.Entry.ID {
			keep = planned
		}
	}
	return keep
}

// channelTimes collects every time the channel is already committed to:
// live entries plus this pass's drafts, minus the draft being moved and
// any draft already marked for dropping.
func channelTimes(entries []*PlannedEntry, occupied map[models.Channel][]time.Time, channel models.Channel, skip *PlannedEntry, drop map[*PlannedEntry]bool) []time.Time {
	times := append([]time.Time(nil), occupied[channel]...)
	for _, planned := range entries {
		if planned == skip || drop[planned] || planned.Entry.Channel != channel {
			continue
		}
		times = append(times, planned.Entry.ScheduledTime)
	}
	return times
}

func (p *Planner) recordAssetChoice(ctx context.Context, entry *models.ScheduleEntry, pick models.RankedAsset, rank, total int) {
	if p.decisions == nil {
		return
	}
	entryID := entry.ID
	p.decisions.Record(ctx, &models.DecisionAction{
		ScheduleEntryID: &entryID,
		ClientID:        entry.ClientID,
		ActionType:      models.ActionSelectAsset,
		Confidence:      pick.Asset.Confidence,
		TruthNotes:      fmt.Sprintf("ranked %d of %d candidates for %s", rank+1, total, entry.Channel),
		SourceSignals: models.SignalList{
			{
				"asset_id":        pick.Asset.ID,
				"score":           pick.Score,
				"freshness":       pick.Freshness,
				"fatigue_penalty": pick.FatiguePenalty,
				"brand_penalty":   pick.BrandPenalty,
				"rank":            rank + 1,
			},
		},
		Actor: "system",
	})
}

func (p *Planner) recordTimeChoice(ctx context.Context, entry *models.ScheduleEntry, anchor time.Time, spacing time.Duration) {
	if p.decisions == nil {
		return
	}
	entryID := entry.ID
	p.decisions.Record(ctx, &models.DecisionAction{
		ScheduleEntryID: &entryID,
		ClientID:        entry.ClientID,
		ActionType:      models.ActionTimeChoice,
		Confidence:      1.0,
		TruthNotes:      fmt.Sprintf("slot %s chosen from optimal hours for %s", entry.ScheduledTime.Format(time.RFC3339), entry.Channel),
		SourceSignals: models.SignalList{
			{
				"channel":         string(entry.Channel),
				"scheduled_time":  entry.ScheduledTime.Format(time.RFC3339),
				"anchor":          anchor.Format(time.RFC3339),
				"spacing_seconds": spacing.Seconds(),
			},
		},
		Actor: "system",
	})
}

func (p *Planner) recordConflict(ctx context.Context, moved, kept *models.ScheduleEntry, oldTime time.Time) {
	if p.decisions == nil {
		return
	}
	entryID := moved.ID
	p.decisions.Record(ctx, &models.DecisionAction{
		ScheduleEntryID: &entryID,
		ClientID:        moved.ClientID,
		ActionType:      models.ActionConflictDetected,
		Confidence:      1.0,
		TruthNotes: fmt.Sprintf("%s slot at %s conflicted with %s, moved to %s",
			moved.Channel, oldTime.Format(time.RFC3339), kept.Channel, moved.ScheduledTime.Format(time.RFC3339)),
		SourceSignals: models.SignalList{
			{
				"kept_entry_id": kept.ID,
				"kept_channel":  string(kept.Channel),
				"original_time": oldTime.Format(time.RFC3339),
				"moved_to":      moved.ScheduledTime.Format(time.RFC3339),
			},
		},
		Actor: "system",
	})
}

func (p *Planner) recordDropped(ctx context.Context, clientID string, entryID *string, reason string, signals map[string]interface{}) {
	if p.decisions == nil {
		return
	}
	p.decisions.Record(ctx, &models.DecisionAction{
		ScheduleEntryID: entryID,
		ClientID:        clientID,
		ActionType:      models.ActionScheduleBlocked,
		Confidence:      1.0,
		TruthNotes:      reason,
		SourceSignals:   models.SignalList{signals},
		Actor:           "system",
	})
}

// ChandlerAssets adapts the asset producer's HTTP client to the
// AssetSource the planner consumes.
type ChandlerAssets struct {
	Client *chandlercli.Client
}

func (a ChandlerAssets) ListAssets(ctx context.Context, clientID string, channel models.Channel) ([]models.CandidateAsset, error) {
	resp, err := a.Client.ListAssets(ctx, clientID, channel)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("asset producer rejected request: %s", resp.Error)
	}
	return resp.Assets, nil
}
