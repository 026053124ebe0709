package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/syncutil"
	"github.com/mbd888/tiltcheck/internal/traces"
	"github.com/shopspring/decimal"
)

// DefaultTimeAlert is how long a session runs before the time-at-table alert.
const DefaultTimeAlert = 180 * time.Minute

// Listener is told about alerts and archived sessions. Calls happen after
// the user's lock is released and must not block for long.
type Listener interface {
	AlertRaised(ctx context.Context, userID string, alert Alert)
	SessionEnded(ctx context.Context, summary *Summary)
}

// Monitor owns every live session.
type Monitor struct {
	store     eventlog.Store
	locks     *syncutil.KeyedMutex
	detectors []Detector
	listeners []Listener
	loc       *time.Location
	timeAlert time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMonitor creates a monitor that archives finished sessions to store.
func NewMonitor(store eventlog.Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:     store,
		locks:     syncutil.NewKeyedMutex(),
		detectors: DefaultDetectors(),
		loc:       time.UTC,
		timeAlert: DefaultTimeAlert,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// WithDetectors replaces the detector set.
func (m *Monitor) WithDetectors(d ...Detector) *Monitor {
	m.detectors = d
	return m
}

// WithListener adds a listener for alerts and archived sessions.
func (m *Monitor) WithListener(l Listener) *Monitor {
	m.listeners = append(m.listeners, l)
	return m
}

// WithLocation sets the timezone used for late-night detection.
func (m *Monitor) WithLocation(loc *time.Location) *Monitor {
	if loc != nil {
		m.loc = loc
	}
	return m
}

// WithTimeAlert sets how long a session runs before the time-at-table alert.
func (m *Monitor) WithTimeAlert(d time.Duration) *Monitor {
	if d > 0 {
		m.timeAlert = d
	}
	return m
}

func (m *Monitor) get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

func (m *Monitor) put(userID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		delete(m.sessions, userID)
		return
	}
	m.sessions[userID] = s
}

// Start opens a session. An existing session is archived first with
// EndReason replaced.
func (m *Monitor) Start(ctx context.Context, userID, platform string, bankroll decimal.Decimal) (_ *Session, retErr error) {
	ctx, span := traces.StartSpan(ctx, "session.Start", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	platform = strings.TrimSpace(platform)
	switch {
	case strings.TrimSpace(userID) == "":
		return nil, apperr.Invalid("userId", "is required")
	case platform == "":
		return nil, apperr.Invalid("platform", "is required")
	case !bankroll.IsPositive():
		return nil, apperr.Invalid("bankroll", "must be greater than zero")
	}

	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var replaced *Summary
	if prev := m.get(userID); prev != nil {
		replaced = m.summarize(prev, now, EndReasonReplaced)
		if err := m.archive(ctx, replaced); err != nil {
			unlock()
			return nil, err
		}
		prev.timer.Stop()
	} else {
		metrics.ActiveSessions.Inc()
	}

	s := &Session{
		ID:            idgen.WithPrefix(idgen.PrefixSession),
		UserID:        userID,
		Platform:      platform,
		BankrollStart: bankroll,
		Balance:       bankroll,
		StartedAt:     now,
		MaxStake:      decimal.Zero,
		MinStake:      decimal.Zero,
		TotalWagered:  decimal.Zero,
		NetPnL:        decimal.Zero,
	}
	sessionID := s.ID
	s.timer = time.AfterFunc(m.timeAlert, func() { m.raiseTimeAlert(userID, sessionID) })
	m.put(userID, s)
	snap := s.snapshot()
	unlock()

	if replaced != nil {
		metrics.SessionsEndedTotal.WithLabelValues(string(replaced.Grade), string(replaced.EndReason)).Inc()
		m.ended(ctx, replaced)
	}
	logging.L(ctx).Info("session started", "user_id", userID, "session_id", s.ID, "platform", platform,
		"bankroll", bankroll.String(), "replaced", replaced != nil)
	return snap, nil
}

// LogBet applies a bet to the active session and runs the detectors.
func (m *Monitor) LogBet(ctx context.Context, userID string, in BetInput) (_ *BetResult, retErr error) {
	ctx, span := traces.StartSpan(ctx, "session.LogBet", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	switch {
	case !in.Stake.IsPositive():
		return nil, apperr.Invalid("stake", "must be greater than zero")
	case in.Payout.IsNegative():
		return nil, apperr.Invalid("payout", "must not be negative")
	case in.Outcome != OutcomeWin && in.Outcome != OutcomeLoss:
		return nil, apperr.Invalid("outcome", "must be win or loss")
	}

	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	s := m.get(userID)
	if s == nil {
		unlock()
		return nil, apperr.ErrNoActiveSession
	}

	now := m.now()
	bet := Bet{Stake: in.Stake, Outcome: in.Outcome, Payout: in.Payout, Timestamp: now}
	if in.Outcome == OutcomeWin {
		bet.NetResult = in.Payout.Sub(in.Stake)
		s.ConsecutiveWins++
		s.ConsecutiveLosses = 0
	} else {
		bet.NetResult = in.Stake.Neg()
		s.ConsecutiveLosses++
		s.ConsecutiveWins = 0
	}
	s.Balance = s.Balance.Add(bet.NetResult)
	s.NetPnL = s.NetPnL.Add(bet.NetResult)
	s.TotalWagered = s.TotalWagered.Add(in.Stake)
	if len(s.Bets) == 0 || in.Stake.GreaterThan(s.MaxStake) {
		s.MaxStake = in.Stake
	}
	if len(s.Bets) == 0 || in.Stake.LessThan(s.MinStake) {
		s.MinStake = in.Stake
	}

	dc := &DetectContext{Session: s, Bet: bet, Now: now}
	var fired []Alert
	for _, d := range m.detectors {
		if a := d.Detect(dc); a != nil {
			a.ID = idgen.WithPrefix(idgen.PrefixAlert)
			a.Timestamp = now
			fired = append(fired, *a)
		}
	}

	s.Bets = append(s.Bets, bet)
	s.Alerts = append(s.Alerts, fired...)
	result := &BetResult{
		Bet:               bet,
		Alerts:            fired,
		Balance:           s.Balance,
		NetPnL:            s.NetPnL,
		TotalBets:         len(s.Bets),
		ConsecutiveLosses: s.ConsecutiveLosses,
		ConsecutiveWins:   s.ConsecutiveWins,
	}
	unlock()

	for _, a := range fired {
		m.alert(ctx, userID, a)
	}
	return result, nil
}

// End archives and discards the active session.
func (m *Monitor) End(ctx context.Context, userID string) (_ *Summary, retErr error) {
	ctx, span := traces.StartSpan(ctx, "session.End", traces.UserID(userID))
	defer func() { traces.End(span, retErr) }()

	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}

	s := m.get(userID)
	if s == nil {
		unlock()
		return nil, apperr.ErrNoActiveSession
	}
	summary := m.summarize(s, m.now(), EndReasonEnded)
	if err := m.archive(ctx, summary); err != nil {
		unlock()
		return nil, err
	}
	s.timer.Stop()
	m.put(userID, nil)
	unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionsEndedTotal.WithLabelValues(string(summary.Grade), string(summary.EndReason)).Inc()
	m.ended(ctx, summary)
	logging.L(ctx).Info("session ended", "user_id", userID, "session_id", summary.SessionID,
		"grade", summary.Grade, "net_pnl", summary.NetPnL.String(), "alerts", summary.AlertCount)
	return summary, nil
}

// Status returns a live view of the active session.
func (m *Monitor) Status(ctx context.Context, userID string) (*Status, error) {
	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s := m.get(userID)
	if s == nil {
		return nil, apperr.ErrNoActiveSession
	}

	now := m.now()
	score, level := LiveRisk(s, now)
	st := &Status{
		Session:         s.snapshot(),
		DurationMinutes: now.Sub(s.StartedAt).Minutes(),
		RiskScore:       score,
		RiskLevel:       level,
		Insight:         insights[level],
	}
	if len(s.Bets) > 0 {
		wins := 0
		for _, b := range s.Bets {
			if b.Outcome == OutcomeWin {
				wins++
			}
		}
		st.WinRate = float64(wins) / float64(len(s.Bets)) * 100
	}
	return st, nil
}

// History returns archived summaries, newest last. limit <= 0 returns all.
func (m *Monitor) History(ctx context.Context, userID string, limit int) ([]Summary, error) {
	list, err := eventlog.LoadList[Summary](ctx, m.store, eventlog.TableSessionHistory, userID)
	if err != nil {
		return nil, err
	}
	return eventlog.Tail(list, limit), nil
}

// Signals summarizes the user's behavior over the lookback window: the
// active session plus archived sessions that ended inside the window.
func (m *Monitor) Signals(ctx context.Context, userID string, lookback time.Duration) (Signals, error) {
	var sig Signals
	history, err := m.History(ctx, userID, 0)
	if err != nil {
		return sig, err
	}

	now := m.now()
	since := now.Add(-lookback)
	platforms := make(map[string]struct{})

	for _, h := range history {
		if h.EndedAt.Before(since) {
			continue
		}
		platforms[strings.ToLower(h.Platform)] = struct{}{}
		sig.HighVelocityAlerts += h.AlertCounts[AlertHighVelocity]
		sig.LossSequenceAlerts += h.AlertCounts[AlertLossSequence]
		sig.StakeEscalationAlerts += h.AlertCounts[AlertStakeEscalation]
		sig.LongestSessionMinutes = max(sig.LongestSessionMinutes, h.DurationMinutes)
	}

	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return sig, err
	}
	defer unlock()

	if s := m.get(userID); s != nil {
		sig.ActiveSession = true
		platforms[strings.ToLower(s.Platform)] = struct{}{}
		sig.BetsLast5Min = betsSince(s.Bets, now.Add(-5*time.Minute))
		sig.ConsecutiveLosses = s.ConsecutiveLosses
		sig.LongestSessionMinutes = max(sig.LongestSessionMinutes, now.Sub(s.StartedAt).Minutes())
		for _, a := range s.Alerts {
			if a.Timestamp.Before(since) {
				continue
			}
			switch a.Type {
			case AlertHighVelocity:
				sig.HighVelocityAlerts++
			case AlertLossSequence:
				sig.LossSequenceAlerts++
			case AlertStakeEscalation:
				sig.StakeEscalationAlerts++
			}
		}
		for _, b := range s.Bets {
			if h := b.Timestamp.In(m.loc).Hour(); h < 5 {
				sig.LateNightBets++
			}
		}
	}
	sig.Platforms = len(platforms)
	return sig, nil
}

// Close stops every session timer. Live sessions are dropped, not archived.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.timer.Stop()
		delete(m.sessions, id)
		metrics.ActiveSessions.Dec()
	}
}

func (m *Monitor) raiseTimeAlert(userID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unlock, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return
	}
	s := m.get(userID)
	if s == nil || s.ID != sessionID || s.hasAlert(AlertTimeAtTable) {
		unlock()
		return
	}
	now := m.now()
	a := Alert{
		ID:        idgen.WithPrefix(idgen.PrefixAlert),
		Type:      AlertTimeAtTable,
		Severity:  SeverityMedium,
		Evidence:  map[string]any{"minutes": int(now.Sub(s.StartedAt).Minutes())},
		Timestamp: now,
	}
	s.Alerts = append(s.Alerts, a)
	unlock()

	m.alert(logging.WithLogger(ctx, m.logger), userID, a)
}

func (m *Monitor) summarize(s *Session, now time.Time, reason EndReason) *Summary {
	counts := make(map[AlertType]int)
	for _, a := range s.Alerts {
		counts[a.Type]++
	}
	discipline := DisciplineScore(s, now)
	return &Summary{
		SessionID:       s.ID,
		UserID:          s.UserID,
		Platform:        s.Platform,
		StartedAt:       s.StartedAt,
		EndedAt:         now,
		DurationMinutes: now.Sub(s.StartedAt).Minutes(),
		Bankroll:        s.BankrollStart,
		FinalBalance:    s.Balance,
		NetPnL:          s.NetPnL,
		TotalBets:       len(s.Bets),
		TotalWagered:    s.TotalWagered,
		MaxStake:        s.MaxStake,
		AlertCount:      len(s.Alerts),
		AlertCounts:     counts,
		Grade:           GradeFor(discipline, len(s.Alerts)),
		DisciplineScore: discipline,
		EndReason:       reason,
	}
}

func (m *Monitor) archive(ctx context.Context, summary *Summary) error {
	return eventlog.AppendCapped(ctx, m.store, eventlog.TableSessionHistory, summary.UserID, *summary, eventlog.MaxSessionHistory)
}

func (m *Monitor) alert(ctx context.Context, userID string, a Alert) {
	metrics.SessionAlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	logging.L(ctx).Warn("tilt alert", "user_id", userID, "alert_type", a.Type, "severity", a.Severity)
	for _, l := range m.listeners {
		l.AlertRaised(ctx, userID, a)
	}
}

func (m *Monitor) ended(ctx context.Context, summary *Summary) {
	for _, l := range m.listeners {
		l.SessionEnded(ctx, summary)
	}
}
