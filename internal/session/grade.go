package session

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Grade is the letter grade of a finished session.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
	GradeF     Grade = "F"
)

var hundred = decimal.NewFromInt(100)

// DisciplineScore rates a session 0..100: 15 off per alert, 20 off when
// the largest stake topped 10% of the bankroll, up to 30 off for the
// percentage lost and 15 off for sessions over three hours.
func DisciplineScore(s *Session, now time.Time) int {
	score := 100.0
	score -= 15 * float64(len(s.Alerts))

	if s.MaxStake.GreaterThan(s.BankrollStart.Div(decimal.NewFromInt(10))) {
		score -= 20
	}

	if s.BankrollStart.IsPositive() && s.NetPnL.IsNegative() {
		lossPct := s.NetPnL.Neg().Div(s.BankrollStart).Mul(hundred).InexactFloat64()
		score -= math.Min(lossPct, 30)
	}

	if now.Sub(s.StartedAt) > 3*time.Hour {
		score -= 15
	}

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// GradeFor turns a discipline score and alert count into a letter grade.
func GradeFor(discipline, alerts int) Grade {
	switch {
	case discipline >= 90 && alerts == 0:
		return GradeAPlus
	case discipline >= 80 && alerts <= 1:
		return GradeA
	case discipline >= 70 && alerts <= 2:
		return GradeB
	case discipline >= 60 && alerts <= 3:
		return GradeC
	case discipline >= 50:
		return GradeD
	default:
		return GradeF
	}
}

var insights = map[RiskLevel]string{
	RiskCritical: "Multiple red flags detected. Consider ending your session and taking a break.",
	RiskHigh:     "Some concerning patterns emerging. Time to slow down and reassess your approach.",
	RiskModerate: "You're doing okay, but stay vigilant. Discipline is like a muscle, keep exercising it.",
	RiskLow:      "Looking good! You're showing great discipline and control.",
}

// LiveRisk scores a running session: 20 per alert, up to 30 for a shrinking
// balance, up to 25 for a losing streak and up to 20 for time at the table.
func LiveRisk(s *Session, now time.Time) (int, RiskLevel) {
	score := 20 * len(s.Alerts)

	if s.BankrollStart.IsPositive() {
		pct := s.Balance.Div(s.BankrollStart).Mul(hundred)
		switch {
		case pct.LessThanOrEqual(decimal.NewFromInt(50)):
			score += 30
		case pct.LessThanOrEqual(decimal.NewFromInt(75)):
			score += 15
		}
	}

	switch {
	case s.ConsecutiveLosses >= 5:
		score += 25
	case s.ConsecutiveLosses >= 3:
		score += 15
	}

	switch minutes := now.Sub(s.StartedAt).Minutes(); {
	case minutes > 180:
		score += 20
	case minutes > 120:
		score += 10
	}

	switch {
	case score >= 70:
		return score, RiskCritical
	case score >= 40:
		return score, RiskHigh
	case score >= 20:
		return score, RiskModerate
	default:
		return score, RiskLow
	}
}
