package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/syncutil"
	"github.com/mbd888/tiltcheck/internal/traces"
)

// MaxUserIDLength bounds user identifiers.
const MaxUserIDLength = 128

// Options tune the registry.
type Options struct {
	// MinReporterTrust is the trust a user needs before filing reports.
	MinReporterTrust int
	// RepeatAwards awards points again when an active type is re-verified.
	// Off by default: re-verification only refreshes VerifiedAt.
	RepeatAwards bool
	// VerificationTimeout bounds each external verification call.
	VerificationTimeout time.Duration
}

// DefaultOptions are used by NewRegistry.
var DefaultOptions = Options{
	MinReporterTrust:    200,
	VerificationTimeout: 10 * time.Second,
}

// ReportListener is told about new and reviewed reports after the
// registry has committed them and released its locks.
type ReportListener interface {
	ReportFiled(ctx context.Context, report *ScamReport)
}

// Registry records verifications, proof actions and scam reports.
type Registry struct {
	store     eventlog.Store
	locks     *syncutil.KeyedMutex
	calc      *Calculator
	verifiers map[VerificationType]Verifier
	listeners []ReportListener
	opts      Options
	now       func() time.Time
}

// NewRegistry creates a registry over store. locks serializes access per
// user and may be shared with other services that write user records.
func NewRegistry(store eventlog.Store, locks *syncutil.KeyedMutex) *Registry {
	if locks == nil {
		locks = syncutil.NewKeyedMutex()
	}
	return &Registry{
		store:     store,
		locks:     locks,
		calc:      NewCalculator(),
		verifiers: DefaultVerifiers(nil, nil),
		opts:      DefaultOptions,
		now:       time.Now,
	}
}

// WithOptions replaces the registry options. Zero values keep defaults.
func (r *Registry) WithOptions(o Options) *Registry {
	if o.MinReporterTrust <= 0 {
		o.MinReporterTrust = DefaultOptions.MinReporterTrust
	}
	if o.VerificationTimeout <= 0 {
		o.VerificationTimeout = DefaultOptions.VerificationTimeout
	}
	r.opts = o
	return r
}

// WithVerifier overrides the verifier for one type.
func (r *Registry) WithVerifier(t VerificationType, v Verifier) *Registry {
	r.verifiers[t] = v
	return r
}

// WithListener adds a report listener.
func (r *Registry) WithListener(l ReportListener) *Registry {
	r.listeners = append(r.listeners, l)
	return r
}

// Calculator returns the calculator used for scoring.
func (r *Registry) Calculator() *Calculator { return r.calc }

// ValidateUserID rejects empty and oversized user IDs, naming field in
// the error.
func ValidateUserID(field, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return apperr.Invalid(field, "is required")
	case len(id) > MaxUserIDLength:
		return apperr.Invalid(field, "exceeds %d characters", MaxUserIDLength)
	}
	return nil
}

// RecordVerification verifies payload for type t and appends the event to
// the user's record. Every type other than contract needs the base
// verification first.
func (r *Registry) RecordVerification(ctx context.Context, userID string, t VerificationType, payload map[string]string) (_ *VerificationEvent, retErr error) {
	ctx, span := traces.StartSpan(ctx, "trust.RecordVerification", traces.UserID(userID), traces.VerificationType(string(t)))
	defer func() { traces.End(span, retErr) }()

	if err := ValidateUserID("userId", userID); err != nil {
		return nil, err
	}
	verifier, ok := r.verifiers[t]
	if !ok || !ValidVerificationType(t) {
		return nil, apperr.Invalid("type", "unknown verification type %q", t)
	}

	// Cheap precondition check before calling out; repeated under the lock.
	rec, err := r.load(ctx, userID)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return nil, err
	}
	if err := r.checkCanVerify(rec, t); err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, r.opts.VerificationTimeout)
	result, err := verifier.Verify(vctx, userID, payload)
	cancel()
	if err != nil {
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			var xe *apperr.ExternalServiceError
			if !errors.As(err, &xe) {
				err = apperr.External(string(t), err)
			}
		}
		metrics.VerificationsTotal.WithLabelValues(string(t), ResultFailed).Inc()
		r.audit(ctx, userID, Action{Action: ActionVerification, Type: string(t), Result: ResultFailed,
			Detail: map[string]string{"error": err.Error()}})
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	var (
		event     VerificationEvent
		refreshed bool
	)
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, userID, func(cur UserRecord, exists bool) (UserRecord, error) {
		if !exists {
			cur = UserRecord{UserID: userID, Active: true, CreatedAt: now}
		}
		if err := r.checkCanVerify(&cur, t); err != nil {
			return cur, err
		}

		if i := cur.activeEvent(t); i >= 0 && !r.opts.RepeatAwards {
			cur.VerificationEvents[i].VerifiedAt = now
			cur.VerificationEvents[i].Payload = result.Payload
			if result.Reference != "" {
				cur.VerificationEvents[i].Reference = result.Reference
			}
			event = cur.VerificationEvents[i]
			refreshed = true
		} else {
			event = VerificationEvent{
				Type:               t,
				Payload:            result.Payload,
				VerifiedAt:         now,
				TrustPointsAwarded: VerificationPoints[t],
				Status:             EventActive,
				Reference:          result.Reference,
			}
			cur.VerificationEvents = append(cur.VerificationEvents, event)
		}
		if t == VerificationContract {
			cur.BaseVerified = true
		}
		cur.LastUpdated = now
		return cur, nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	action := Action{Action: ActionVerification, Type: string(t), Result: ResultOK, Points: event.TrustPointsAwarded}
	if refreshed {
		action.Action, action.Result, action.Points = ActionReverify, ResultPointsSkipped, 0
	}
	if event.Reference != "" {
		action.Detail = map[string]string{"reference": event.Reference}
	}
	r.audit(ctx, userID, action)
	metrics.VerificationsTotal.WithLabelValues(string(t), action.Result).Inc()

	logging.L(ctx).Info("verification recorded",
		"user_id", userID, "type", t, "points", action.Points, "refreshed", refreshed)
	return &event, nil
}

// checkCanVerify requires an active record with the base verification,
// unless t is the base verification itself. A nil record is a new user.
func (r *Registry) checkCanVerify(rec *UserRecord, t VerificationType) error {
	if rec != nil && rec.UserID != "" && !rec.Active {
		return apperr.ErrUserInactive
	}
	if t == VerificationContract {
		return nil
	}
	if rec == nil || !rec.BaseVerified {
		return apperr.ErrBaseVerificationRequired
	}
	return nil
}

// RecordProofAction appends an evidence-backed proof action.
func (r *Registry) RecordProofAction(ctx context.Context, userID string, t ProofType, evidenceRefs []string) (_ *ProofAction, retErr error) {
	ctx, span := traces.StartSpan(ctx, "trust.RecordProofAction", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	if err := ValidateUserID("userId", userID); err != nil {
		return nil, err
	}
	if !ValidProofType(t) {
		return nil, apperr.Invalid("type", "unknown proof type %q", t)
	}
	refs := make([]string, 0, len(evidenceRefs))
	for _, ref := range evidenceRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, apperr.Invalid("evidenceRefs", "at least one evidence reference is required")
	}

	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	proof := ProofAction{
		ID:           idgen.WithPrefix(idgen.PrefixProof),
		Type:         t,
		Points:       ProofPoints[t],
		EvidenceRefs: refs,
		VerifiedAt:   now,
	}
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, userID, func(cur UserRecord, exists bool) (UserRecord, error) {
		if !exists || !cur.BaseVerified {
			return cur, apperr.ErrBaseVerificationRequired
		}
		if !cur.Active {
			return cur, apperr.ErrUserInactive
		}
		cur.DegenProofActions = append(cur.DegenProofActions, proof)
		cur.LastUpdated = now
		return cur, nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	r.audit(ctx, userID, Action{Action: ActionProof, Type: string(t), Result: ResultOK, Points: proof.Points,
		Detail: map[string]string{"proof_id": proof.ID}})
	metrics.ProofActionsTotal.WithLabelValues(string(t)).Inc()
	return &proof, nil
}

// ReportScam files a report from one user against another. The reporter
// needs the base verification and at least MinReporterTrust. An unknown
// target gets an unverified record so the report sticks once they join.
func (r *Registry) ReportScam(ctx context.Context, req ReportRequest) (_ *ScamReport, retErr error) {
	ctx, span := traces.StartSpan(ctx, "trust.ReportScam", traces.UserID(req.ReporterID))
	defer func() { traces.End(span, retErr) }()

	if err := ValidateUserID("reporterId", req.ReporterID); err != nil {
		return nil, err
	}
	if err := ValidateUserID("targetId", req.TargetID); err != nil {
		return nil, err
	}
	if req.ReporterID == req.TargetID {
		return nil, apperr.Invalid("targetId", "users cannot report themselves")
	}
	if req.EvidenceLevel < MinEvidenceLevel || req.EvidenceLevel > MaxEvidenceLevel {
		return nil, apperr.Invalid("evidenceLevel", "must be between %d and %d", MinEvidenceLevel, MaxEvidenceLevel)
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return nil, apperr.Invalid("description", "is required")
	}
	scamType := strings.TrimSpace(req.ScamType)
	if scamType == "" {
		scamType = "unspecified"
	}

	unlock, err := r.locks.LockMany(ctx, req.ReporterID, req.TargetID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	reporter, err := r.load(ctx, req.ReporterID)
	if errors.Is(err, eventlog.ErrNotFound) || (err == nil && !reporter.BaseVerified) {
		return nil, apperr.ErrBaseVerificationRequired
	}
	if err != nil {
		return nil, err
	}
	if !reporter.Active {
		return nil, apperr.ErrUserInactive
	}
	score, err := r.scoreLocked(ctx, reporter)
	if err != nil {
		return nil, err
	}
	if score.Total < r.opts.MinReporterTrust {
		return nil, &apperr.PreconditionError{
			Code:    apperr.ErrInsufficientTrust.Code,
			Message: fmt.Sprintf("trust score %d is below the %d required to file reports", score.Total, r.opts.MinReporterTrust),
			Hint:    apperr.ErrInsufficientTrust.Hint,
		}
	}

	now := r.now()
	status := ReportUnderReview
	if req.EvidenceLevel >= PenaltyEvidenceLevel {
		status = ReportConfirmed
	}
	report := &ScamReport{
		ReportID:      idgen.WithPrefix(idgen.PrefixReport),
		ReporterID:    req.ReporterID,
		TargetID:      req.TargetID,
		ScamType:      scamType,
		Description:   desc,
		Evidence:      req.Evidence,
		EvidenceLevel: req.EvidenceLevel,
		Status:        status,
		TrustImpact:   TrustImpact(req.EvidenceLevel),
		ReportedAt:    now,
	}

	// Records first, report document last: a record that points at a
	// report which was never saved scores as if the report did not exist.
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, req.TargetID, func(cur UserRecord, exists bool) (UserRecord, error) {
		if !exists {
			cur = UserRecord{UserID: req.TargetID, Active: true, CreatedAt: now}
		}
		cur.ScamReportsReceived = addID(cur.ScamReportsReceived, report.ReportID)
		cur.LastUpdated = now
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, req.ReporterID, func(cur UserRecord, _ bool) (UserRecord, error) {
		cur.ScamReportsMade = addID(cur.ScamReportsMade, report.ReportID)
		cur.LastUpdated = now
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	if err := eventlog.SaveJSON(ctx, r.store, eventlog.TableScamReports, report.ReportID, report); err != nil {
		return nil, err
	}

	unlock()
	unlock = nil

	detail := map[string]string{"report_id": report.ReportID, "evidence_level": strconv.Itoa(report.EvidenceLevel)}
	r.audit(ctx, req.ReporterID, Action{Action: ActionReportFiled, Type: scamType, Result: string(status), Detail: detail})
	r.audit(ctx, req.TargetID, Action{Action: ActionReportTarget, Type: scamType, Result: string(status), Detail: detail})
	metrics.ScamReportsTotal.WithLabelValues(strconv.Itoa(report.EvidenceLevel)).Inc()

	logging.L(ctx).Info("scam report filed",
		"report_id", report.ReportID, "reporter_id", report.ReporterID,
		"target_id", report.TargetID, "evidence_level", report.EvidenceLevel, "status", status)
	r.notify(ctx, report)
	return report, nil
}

// ReviewReport applies a moderator decision to a report.
func (r *Registry) ReviewReport(ctx context.Context, reportID string, req ReviewRequest) (_ *ScamReport, retErr error) {
	ctx, span := traces.StartSpan(ctx, "trust.ReviewReport", traces.ReportID(reportID))
	defer func() { traces.End(span, retErr) }()

	switch req.Status {
	case ReportUnderReview, ReportConfirmed, ReportDismissed:
	default:
		return nil, apperr.Invalid("status", "must be one of under_review, confirmed, dismissed")
	}
	if req.EvidenceLevel != 0 && (req.EvidenceLevel < MinEvidenceLevel || req.EvidenceLevel > MaxEvidenceLevel) {
		return nil, apperr.Invalid("evidenceLevel", "must be between %d and %d", MinEvidenceLevel, MaxEvidenceLevel)
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		return nil, apperr.Invalid("reviewer", "is required")
	}

	current, err := r.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	unlock, err := r.locks.LockMany(ctx, current.ReporterID, current.TargetID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	var updated ScamReport
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableScamReports, reportID, func(cur ScamReport, exists bool) (ScamReport, error) {
		if !exists {
			return cur, fmt.Errorf("report %s: %w", reportID, apperr.ErrNotFound)
		}
		cur.Status = req.Status
		if req.EvidenceLevel != 0 {
			cur.EvidenceLevel = req.EvidenceLevel
			cur.TrustImpact = TrustImpact(req.EvidenceLevel)
		}
		if cur.Status == ReportConfirmed && cur.EvidenceLevel < PenaltyEvidenceLevel {
			return cur, apperr.Invalid("evidenceLevel", "must be at least %d to confirm a report", PenaltyEvidenceLevel)
		}
		cur.ReviewedAt = &now
		cur.ReviewedBy = req.Reviewer
		updated = cur
		return cur, nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	r.audit(ctx, updated.TargetID, Action{Action: ActionReportReview, Type: updated.ScamType, Result: string(updated.Status),
		Detail: map[string]string{"report_id": reportID, "reviewer": req.Reviewer}})
	if updated.CountsAgainstTarget() && !current.CountsAgainstTarget() {
		r.notify(ctx, &updated)
	}
	return &updated, nil
}

func (r *Registry) notify(ctx context.Context, report *ScamReport) {
	for _, l := range r.listeners {
		l.ReportFiled(ctx, report)
	}
}

// GetRecord returns the stored record for userID.
func (r *Registry) GetRecord(ctx context.Context, userID string) (*UserRecord, error) {
	return r.load(ctx, userID)
}

// GetReport returns a report by ID.
func (r *Registry) GetReport(ctx context.Context, reportID string) (*ScamReport, error) {
	rep, err := eventlog.LoadJSON[ScamReport](ctx, r.store, eventlog.TableScamReports, reportID)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListReports returns the reports a user made and received.
func (r *Registry) ListReports(ctx context.Context, userID string) (*Reports, error) {
	rec, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	made, received, err := r.reportsFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Reports{Made: made, Received: received}, nil
}

// ConfirmedReportsAgainst counts the reports received by userID that
// weigh on its scores. Unknown users have none.
func (r *Registry) ConfirmedReportsAgainst(ctx context.Context, userID string) (int, error) {
	rec, err := r.load(ctx, userID)
	if errors.Is(err, eventlog.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	received, err := r.loadReports(ctx, rec.ScamReportsReceived)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rep := range received {
		if rep.CountsAgainstTarget() {
			n++
		}
	}
	return n, nil
}

// VerificationLog returns the most recent audit entries, newest last.
// limit <= 0 returns everything kept.
func (r *Registry) VerificationLog(ctx context.Context, userID string, limit int) ([]Action, error) {
	entries, err := eventlog.LoadList[Action](ctx, r.store, eventlog.TableVerificationActions, userID)
	if err != nil {
		return nil, err
	}
	return eventlog.Tail(entries, limit), nil
}

// Deactivate marks a user inactive. Records are never deleted.
func (r *Registry) Deactivate(ctx context.Context, userID string) error {
	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	err = eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, userID, func(cur UserRecord, exists bool) (UserRecord, error) {
		if !exists {
			return cur, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
		}
		cur.Active = false
		cur.LastUpdated = r.now()
		return cur, nil
	})
	unlock()
	if err != nil {
		return err
	}
	r.audit(ctx, userID, Action{Action: ActionDeactivated, Result: ResultOK})
	return nil
}

// ComputeTrustScore scores userID from the stored record and caches the
// total on the record when it changed. Unknown users score zero.
func (r *Registry) ComputeTrustScore(ctx context.Context, userID string) (_ *Score, retErr error) {
	ctx, span := traces.StartSpan(ctx, "trust.ComputeTrustScore", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	if err := ValidateUserID("userId", userID); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := r.load(ctx, userID)
	if errors.Is(err, eventlog.ErrNotFound) {
		score := r.calc.Compute(nil, nil, nil)
		score.UserID = userID
		return &score, nil
	}
	if err != nil {
		return nil, err
	}

	score, err := r.scoreLocked(ctx, rec)
	if err != nil {
		return nil, err
	}
	if score.Total != rec.TrustScore {
		err := r.setCached(ctx, userID, func(u *UserRecord) { u.TrustScore = score.Total })
		if err != nil {
			return nil, err
		}
	}
	return &score, nil
}

// CacheSusScore stores the latest sus score on an existing record.
func (r *Registry) CacheSusScore(ctx context.Context, userID string, sus int) error {
	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return r.setCached(ctx, userID, func(u *UserRecord) { u.SusScore = sus })
}

var errNoRecord = errors.New("no record")

// setCached requires the user lock. Missing records are left alone.
func (r *Registry) setCached(ctx context.Context, userID string, set func(*UserRecord)) error {
	err := eventlog.UpdateJSON(ctx, r.store, eventlog.TableTrustScores, userID, func(cur UserRecord, exists bool) (UserRecord, error) {
		if !exists {
			return cur, errNoRecord
		}
		set(&cur)
		return cur, nil
	})
	if errors.Is(err, errNoRecord) {
		return nil
	}
	return err
}

// Users lists every user with a stored record.
func (r *Registry) Users(ctx context.Context) ([]string, error) {
	return r.store.Keys(ctx, eventlog.TableTrustScores)
}

func (r *Registry) scoreLocked(ctx context.Context, rec *UserRecord) (Score, error) {
	made, received, err := r.reportsFor(ctx, rec)
	if err != nil {
		return Score{}, err
	}
	return r.calc.Compute(rec, made, received), nil
}

func (r *Registry) reportsFor(ctx context.Context, rec *UserRecord) (made, received []ScamReport, err error) {
	if made, err = r.loadReports(ctx, rec.ScamReportsMade); err != nil {
		return nil, nil, err
	}
	if received, err = r.loadReports(ctx, rec.ScamReportsReceived); err != nil {
		return nil, nil, err
	}
	return made, received, nil
}

// loadReports skips IDs with no stored report.
func (r *Registry) loadReports(ctx context.Context, ids []string) ([]ScamReport, error) {
	out := make([]ScamReport, 0, len(ids))
	for _, id := range ids {
		rep, err := eventlog.LoadJSON[ScamReport](ctx, r.store, eventlog.TableScamReports, id)
		if errors.Is(err, eventlog.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (r *Registry) load(ctx context.Context, userID string) (*UserRecord, error) {
	rec, err := eventlog.LoadJSON[UserRecord](ctx, r.store, eventlog.TableTrustScores, userID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// audit appends to the verification_actions log. The event it describes
// is already committed, so a failed append is logged and not returned.
func (r *Registry) audit(ctx context.Context, userID string, a Action) {
	a.ID = idgen.WithPrefix(idgen.PrefixLog)
	a.Timestamp = r.now()
	err := eventlog.AppendCapped(ctx, r.store, eventlog.TableVerificationActions, userID, a, eventlog.MaxVerificationActions)
	if err != nil {
		logging.L(ctx).Warn("verification audit append failed",
			slog.String("user_id", userID), slog.String("action", a.Action), slog.Any("error", err))
	}
}
