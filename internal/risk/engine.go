package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/traces"
	"github.com/mbd888/tiltcheck/internal/trust"
)

// DefaultLookback is the behavioral signal window.
const DefaultLookback = 24 * time.Hour

// Engine computes sus scores and trust summaries.
type Engine struct {
	trust      TrustSource
	signals    SignalSource
	store      eventlog.Store
	dispatcher Dispatcher
	weights    Weights
	lookback   time.Duration
	now        func() time.Time
}

// NewEngine creates a risk engine. signals may be nil, in which case only
// scam reports contribute to the sus score.
func NewEngine(trustSrc TrustSource, signals SignalSource, store eventlog.Store) *Engine {
	return &Engine{
		trust:    trustSrc,
		signals:  signals,
		store:    store,
		weights:  DefaultWeights,
		lookback: DefaultLookback,
		now:      time.Now,
	}
}

// WithWeights overrides the sus weights.
func (e *Engine) WithWeights(w Weights) *Engine {
	e.weights = w
	return e
}

// WithReportPenalty overrides the per-report sus penalty.
func (e *Engine) WithReportPenalty(p int) *Engine {
	if p > 0 {
		e.weights.ScamReport = p
	}
	return e
}

// WithLookback overrides the behavioral signal window.
func (e *Engine) WithLookback(d time.Duration) *Engine {
	if d > 0 {
		e.lookback = d
	}
	return e
}

// WithDispatcher sets where urgent summaries are sent.
func (e *Engine) WithDispatcher(d Dispatcher) *Engine {
	e.dispatcher = d
	return e
}

// ComputeSusScore scores userID, logs high scores to the suspicious
// activity table and caches the score on the user's record.
func (e *Engine) ComputeSusScore(ctx context.Context, userID string) (_ *SusScore, retErr error) {
	ctx, span := traces.StartSpan(ctx, "risk.ComputeSusScore", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	if err := trust.ValidateUserID("userId", userID); err != nil {
		return nil, err
	}
	confirmed, err := e.trust.ConfirmedReportsAgainst(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}

	var sig session.Signals
	if e.signals != nil {
		if sig, err = e.signals.Signals(ctx, userID, e.lookback); err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
	}

	score, factors := ComputeSus(e.weights, confirmed, sig)
	sus := &SusScore{
		UserID:           userID,
		Score:            score,
		Factors:          factors,
		ConfirmedReports: confirmed,
		Signals:          sig,
		EvaluatedAt:      e.now(),
	}
	metrics.SusScores.Observe(float64(score))

	if score >= HighRiskThreshold {
		metrics.HighRiskFlagsTotal.Inc()
		entry := SuspiciousEntry{
			ID:        idgen.WithPrefix(idgen.PrefixLog),
			UserID:    userID,
			SusScore:  score,
			Factors:   factors,
			Timestamp: sus.EvaluatedAt,
		}
		if err := eventlog.AppendCapped(ctx, e.store, eventlog.TableSuspiciousActivity, userID, entry, eventlog.MaxSuspiciousEntries); err != nil {
			logging.L(ctx).Warn("failed to log suspicious activity", "user_id", userID, "sus_score", score, "error", err)
		}
	}

	if err := e.trust.CacheSusScore(ctx, userID, score); err != nil {
		return nil, fmt.Errorf("cache sus score: %w", err)
	}
	return sus, nil
}

// Summary combines the trust and sus scores into a risk classification.
// A summary calling for urgent support or more goes to the dispatcher
// when its classification differs from the user's previous one.
func (e *Engine) Summary(ctx context.Context, userID string) (_ *TrustSummary, retErr error) {
	ctx, span := traces.StartSpan(ctx, "risk.Summary", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	ts, err := e.trust.ComputeTrustScore(ctx, userID)
	if err != nil {
		return nil, err
	}
	sus, err := e.ComputeSusScore(ctx, userID)
	if err != nil {
		return nil, err
	}

	level := Classify(ts.Total, sus.Score)
	summary := &TrustSummary{
		UserID:            userID,
		TrustScore:        ts.Total,
		Tier:              ts.Tier,
		SusScore:          sus.Score,
		RiskLevel:         level,
		InterventionLevel: InterventionFor(level),
		Breakdown:         ts.Breakdown,
		SusFactors:        sus.Factors,
		EvaluatedAt:       sus.EvaluatedAt,
	}

	changed, err := e.recordState(ctx, summary)
	if err != nil {
		logging.L(ctx).Warn("failed to record risk state", "user_id", userID, "error", err)
		return summary, nil
	}
	if changed && summary.InterventionLevel.AtLeast(InterventionUrgent) {
		logging.L(ctx).Warn("user flagged for intervention", "user_id", userID,
			"risk_level", level, "intervention", summary.InterventionLevel, "sus_score", sus.Score)
		if e.dispatcher != nil {
			e.dispatcher.DispatchRisk(ctx, summary)
		}
	}
	return summary, nil
}

// riskState is the last classification Summary saw for a user.
type riskState struct {
	RiskLevel         RiskLevel         `json:"riskLevel"`
	InterventionLevel InterventionLevel `json:"interventionLevel"`
	ChangedAt         time.Time         `json:"changedAt"`
}

// recordState stores the summary's classification and reports whether it
// differs from the previous one. A user seen for the first time counts as
// changed.
func (e *Engine) recordState(ctx context.Context, s *TrustSummary) (bool, error) {
	var changed bool
	err := eventlog.UpdateJSON(ctx, e.store, eventlog.TableRiskState, s.UserID, func(cur riskState, exists bool) (riskState, error) {
		// Backends may retry fn.
		changed = false
		if exists && cur.RiskLevel == s.RiskLevel && cur.InterventionLevel == s.InterventionLevel {
			return cur, nil
		}
		changed = true
		return riskState{RiskLevel: s.RiskLevel, InterventionLevel: s.InterventionLevel, ChangedAt: s.EvaluatedAt}, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SuspiciousActivity returns the user's suspicious log, newest last.
// limit <= 0 returns everything kept.
func (e *Engine) SuspiciousActivity(ctx context.Context, userID string, limit int) ([]SuspiciousEntry, error) {
	list, err := eventlog.LoadList[SuspiciousEntry](ctx, e.store, eventlog.TableSuspiciousActivity, userID)
	if err != nil {
		return nil, err
	}
	return eventlog.Tail(list, limit), nil
}

// ReportFiled re-evaluates the target of a report that counts against it
// so the intervention goes out without waiting for the next refresh.
func (e *Engine) ReportFiled(ctx context.Context, report *trust.ScamReport) {
	if !report.CountsAgainstTarget() {
		return
	}
	if _, err := e.Summary(ctx, report.TargetID); err != nil {
		logging.L(ctx).Warn("failed to re-evaluate reported user",
			"user_id", report.TargetID, "report_id", report.ReportID, "error", err)
	}
}
