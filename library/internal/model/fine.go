package model

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Policy holds the lending rules that are not fixed by the tier ceiling.
type Policy struct {
	FinePerDay float64
	// FineLimit blocks borrowing once outstanding fines exceed it. Zero disables the check.
	FineLimit float64
	LoanDays  map[Tier]int
}

func DefaultPolicy() Policy {
	return Policy{
		FinePerDay: 0.5,
		FineLimit:  10,
		LoanDays: map[Tier]int{
			TierBasic:   14,
			TierPremium: 21,
			TierVIP:     30,
		},
	}
}

func (p Policy) LoanPeriod(tier Tier) time.Duration {
	return time.Duration(p.LoanDays[tier]) * day
}

// BorrowingBlocked reports whether fines keep the user from borrowing.
func (p Policy) BorrowingBlocked(fines float64) bool {
	return p.FineLimit > 0 && fines > p.FineLimit
}

// DaysBetween counts calendar days (UTC) from a to b, negative when b is before a.
func DaysBetween(a, b time.Time) int {
	from := a.UTC().Truncate(day)
	to := b.UTC().Truncate(day)
	return int(to.Sub(from) / day)
}

// ComputeFine charges dailyRate for every whole day returned is past due.
func ComputeFine(due, returned time.Time, dailyRate float64) float64 {
	overdue := DaysBetween(due, returned)
	if overdue <= 0 {
		return 0
	}
	return RoundCurrency(float64(overdue) * dailyRate)
}

func RoundCurrency(amount float64) float64 {
	return math.Round(amount*100) / 100
}
