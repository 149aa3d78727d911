package guardrails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flotilla/pkg/logging"
	"flotilla/pkg/models"
)

// PolicyProvider returns the client's content policy.
type PolicyProvider interface {
	Get(ctx context.Context, clientID string) (*models.ClientPolicy, error)
}

// SignalProvider returns the external early-warning signal for a client.
type SignalProvider interface {
	GetSignal(ctx context.Context, clientID string) (*models.RiskSignal, error)
}

// ConflictProvider returns committed entries colliding with a slot.
type ConflictProvider interface {
	ConflictingEntries(ctx context.Context, clientID, excludeID string, at time.Time, window time.Duration) ([]models.ScheduleEntry, error)
}

// DecisionRecorder receives the posting_decision audit record emitted
// for every evaluation.
type DecisionRecorder interface {
	Record(ctx context.Context, action *models.DecisionAction)
}

// Config holds the guardrail thresholds. The fatigue thresholds are
// shared with the channel state store; main wires both from one place.
type Config struct {
	FatigueWarnThreshold  float64
	FatigueBlockThreshold float64
	MinAssetConfidence    float64
	HighRiskConfidence    float64
	MediumRiskConfidence  float64
	ConflictWindow        time.Duration
	CollaboratorTimeout   time.Duration
}

// DefaultConfig returns the standard guardrail thresholds
func DefaultConfig() Config {
	return Config{
		FatigueWarnThreshold:  0.5,
		FatigueBlockThreshold: 0.8,
		MinAssetConfidence:    0.5,
		HighRiskConfidence:    0.6,
		MediumRiskConfidence:  0.75,
		ConflictWindow:        30 * time.Minute,
		CollaboratorTimeout:   10 * time.Second,
	}
}

// CheckResult is the outcome of one independent guardrail check.
type CheckResult struct {
	Name   string
	Passed bool
	Warned bool
	Reason string

	// assetScoped failures can pass with a different asset, so the
	// planner may retry the slot instead of blocking it outright.
	assetScoped bool
}

// Verdict is the combined outcome of all checks for one entry.
type Verdict struct {
	Allowed   bool
	RiskLevel models.RiskLevel
	Reasons   []string
	Warnings  []string
	Checks    []CheckResult
}

// AssetRecoverable reports whether every failed check could pass with a
// different asset attached to the same slot.
func (v *Verdict) AssetRecoverable() bool {
	if v.Allowed {
		return false
	}
	for _, check := range v.Checks {
		if !check.Passed && !check.assetScoped {
			return false
		}
	}
	return true
}

// Evaluator runs the independent guardrail checks for a proposed entry.
// Provider failures never pass silently: an unavailable collaborator or
// store fails its check, and the entry is blocked rather than guessed at.
type Evaluator struct {
	policies  PolicyProvider
	signals   SignalProvider
	conflicts ConflictProvider
	decisions DecisionRecorder
	logger    logging.Logger
	cfg       Config
}

// NewEvaluator creates a guardrail evaluator. decisions may be nil.
func NewEvaluator(policies PolicyProvider, signals SignalProvider, conflicts ConflictProvider, decisions DecisionRecorder, logger logging.Logger, cfg Config) *Evaluator {
	return &Evaluator{
		policies:  policies,
		signals:   signals,
		conflicts: conflicts,
		decisions: decisions,
		logger:    logger,
		cfg:       cfg,
	}
}

// Evaluate runs every check and derives the verdict. All checks run
// regardless of earlier failures so the audit record and block reason
// carry the complete picture, not just the first problem found.
func (e *Evaluator) Evaluate(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, state *models.ChannelState) *Verdict {
	checks := []CheckResult{
		e.checkFatigue(state),
		e.checkPolicy(ctx, entry.ClientID, asset),
		e.checkTruthLayer(asset),
		e.checkConflict(ctx, entry),
		e.checkRiskSignal(ctx, entry.ClientID),
	}

	verdict := &Verdict{Allowed: true, Checks: checks}
	for _, check := range checks {
		if !check.Passed {
			verdict.Allowed = false
			verdict.Reasons = append(verdict.Reasons, check.Reason)
		} else if check.Warned {
			verdict.Warnings = append(verdict.Warnings, check.Reason)
		}
	}
	verdict.RiskLevel = e.deriveRisk(verdict, asset)

	e.recordVerdict(ctx, entry, asset, verdict)
	return verdict
}

func (e *Evaluator) checkFatigue(state *models.ChannelState) CheckResult {
	result := CheckResult{Name: "fatigue", Passed: true}
	if state == nil {
		return result
	}
	switch {
	case state.FatigueScore >= e.cfg.FatigueBlockThreshold:
		result.Passed = false
		result.Reason = fmt.Sprintf("fatigue %.2f at or above block threshold %.2f on %s",
			state.FatigueScore, e.cfg.FatigueBlockThreshold, state.Channel)
	case state.FatigueScore >= e.cfg.FatigueWarnThreshold:
		result.Warned = true
		result.Reason = fmt.Sprintf("fatigue %.2f above warning threshold %.2f on %s",
			state.FatigueScore, e.cfg.FatigueWarnThreshold, state.Channel)
	}
	return result
}

func (e *Evaluator) checkPolicy(ctx context.Context, clientID string, asset *models.CandidateAsset) CheckResult {
	result := CheckResult{Name: "policy", Passed: true, assetScoped: true}
	if asset == nil || asset.Category == "" {
		return result
	}
	policy, err := e.policies.Get(ctx, clientID)
	if err != nil {
		e.logger.WithFields(logging.Fields{"client_id": clientID, "error": err}).
			Warn("Policy lookup failed, failing policy check closed")
		result.Passed = false
		result.assetScoped = false
		result.Reason = "client policy unavailable"
		return result
	}
	if policy.CategoryDisabled(asset.Category) {
		result.Passed = false
		result.Reason = fmt.Sprintf("content category %q is disabled by client policy", asset.Category)
	}
	return result
}

func (e *Evaluator) checkTruthLayer(asset *models.CandidateAsset) CheckResult {
	result := CheckResult{Name: "truth_layer", Passed: true, assetScoped: true}
	if asset == nil {
		result.Passed = false
		result.Reason = "insufficient evidence: no candidate asset attached"
		return result
	}
	var problems []string
	if asset.Confidence < e.cfg.MinAssetConfidence {
		problems = append(problems, fmt.Sprintf("asset confidence %.2f below %.2f", asset.Confidence, e.cfg.MinAssetConfidence))
	}
	if len(asset.DataSources) == 0 {
		problems = append(problems, "asset cites no data sources")
	}
	if len(problems) > 0 {
		result.Passed = false
		result.Reason = "insufficient evidence: " + strings.Join(problems, ", ")
	}
	return result
}

func (e *Evaluator) checkConflict(ctx context.Context, entry *models.ScheduleEntry) CheckResult {
	result := CheckResult{Name: "conflict", Passed: true}
	conflicts, err := e.conflicts.ConflictingEntries(ctx, entry.ClientID, entry.ID, entry.ScheduledTime, e.cfg.ConflictWindow)
	if err != nil {
		e.logger.WithFields(logging.Fields{"client_id": entry.ClientID, "entry_id": entry.ID, "error": err}).
			Warn("Conflict lookup failed, failing conflict check closed")
		result.Passed = false
		result.Reason = "conflict check unavailable"
		return result
	}
	if len(conflicts) > 0 {
		other := conflicts[0]
		result.Passed = false
		result.Reason = fmt.Sprintf("unresolved timing conflict with %s entry at %s",
			other.Channel, other.ScheduledTime.UTC().Format(time.RFC3339))
	}
	return result
}

func (e *Evaluator) checkRiskSignal(ctx context.Context, clientID string) CheckResult {
	result := CheckResult{Name: "risk_signal", Passed: true}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
	defer cancel()

	signal, err := e.signals.GetSignal(ctx, clientID)
	if err != nil {
		e.logger.WithFields(logging.Fields{"client_id": clientID, "error": err}).
			Warn("Risk signal lookup failed, failing risk check closed")
		result.Passed = false
		result.Reason = "risk signal unavailable"
		return result
	}
	if signal.HasActiveHighSeverityWarning {
		result.Passed = false
		result.Reason = "active high-severity warning"
		if len(signal.WarningReasons) > 0 {
			result.Reason += ": " + strings.Join(signal.WarningReasons, ", ")
		}
	}
	return result
}

// deriveRisk classifies the entry. Blocked entries are always high:
// something was bad enough to stop. Allowed entries are high on low
// asset confidence or any warning, and those never auto-approve.
func (e *Evaluator) deriveRisk(verdict *Verdict, asset *models.CandidateAsset) models.RiskLevel {
	if !verdict.Allowed {
		return models.RiskHigh
	}
	confidence := 0.0
	if asset != nil {
		confidence = asset.Confidence
	}
	if confidence < e.cfg.HighRiskConfidence || len(verdict.Warnings) > 0 {
		return models.RiskHigh
	}
	if confidence < e.cfg.MediumRiskConfidence {
		return models.RiskMedium
	}
	return models.RiskLow
}

func (e *Evaluator) recordVerdict(ctx context.Context, entry *models.ScheduleEntry, asset *models.CandidateAsset, verdict *Verdict) {
	if e.decisions == nil {
		return
	}

	signals := make(models.SignalList, 0, len(verdict.Checks))
	for _, check := range verdict.Checks {
		signal := map[string]interface{}{
			"check":  check.Name,
			"passed": check.Passed,
		}
		if check.Warned {
			signal["warned"] = true
		}
		if check.Reason != "" {
			signal["reason"] = check.Reason
		}
		signals = append(signals, signal)
	}
	if asset != nil {
		signals = append(signals, map[string]interface{}{
			"asset_id":   asset.ID,
			"confidence": asset.Confidence,
		})
	}

	notes := "all guardrail checks passed"
	if len(verdict.Reasons) > 0 {
		notes = strings.Join(verdict.Reasons, "; ")
	} else if len(verdict.Warnings) > 0 {
		notes = "passed with warnings: " + strings.Join(verdict.Warnings, "; ")
	}

	confidence := 0.0
	if asset != nil {
		confidence = asset.Confidence
	}

	var entryID *string
	if entry.ID != "" {
		id := entry.ID
		entryID = &id
	}
	e.decisions.Record(ctx, &models.DecisionAction{
		ScheduleEntryID:    entryID,
		ClientID:           entry.ClientID,
		ActionType:         models.ActionPostingDecision,
		RiskClassification: string(verdict.RiskLevel),
		Confidence:         confidence,
		TruthNotes:         notes,
		SourceSignals:      signals,
		Actor:              "system",
	})
}
