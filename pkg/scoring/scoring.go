// Package scoring derives interest, risk and credit figures from a debtor's
// history. Every function is pure: the caller supplies the current time.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/aretw0/tally/pkg/core"
)

const day = 24 * time.Hour

// Horizons used to normalise durations into [0,1].
const (
	StaleAfter  = 90 * day  // no payment for this long is maximal risk
	MatureAfter = 365 * day // history this long earns full credit
)

// Risk weights, summing to 1.
const (
	WeightUtilisation = 0.35
	WeightStaleness   = 0.30
	WeightBroken      = 0.20
	WeightUnpaid      = 0.15
)

// Credit weights, summing to 1.
const (
	WeightPaymentRatio = 0.35
	WeightKeptRatio    = 0.30
	WeightRecency      = 0.20
	WeightHistory      = 0.15
)

// Credit score bounds.
const (
	MinCredit = 300
	MaxCredit = 850
)

// Level buckets a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// SimpleInterest returns principal × rate × days/365, rounded to the nearest
// minor unit. Non-positive inputs yield zero.
func SimpleInterest(principal int64, annualRatePct float64, days int) int64 {
	if principal <= 0 || annualRatePct <= 0 || days <= 0 {
		return 0
	}
	return int64(math.Round(float64(principal) * annualRatePct / 100 * float64(days) / 365))
}

// AccruedInterest is the simple interest on the outstanding balance since the
// last payment, or since the first debt when nothing was paid yet.
func AccruedInterest(d core.Debtor, annualRatePct float64, now time.Time) int64 {
	if d.Balance <= 0 {
		return 0
	}
	since, ok := d.LastPayment()
	if !ok {
		if since, ok = d.FirstDebt(); !ok {
			return 0
		}
	}
	return SimpleInterest(d.Balance, annualRatePct, int(now.Sub(since)/day))
}

// RiskFactors are the normalised inputs of a risk score, each in [0,1]
// where 1 is worst.
type RiskFactors struct {
	Utilisation float64 `json:"utilisation" yaml:"utilisation"`
	Staleness   float64 `json:"staleness" yaml:"staleness"`
	Broken      float64 `json:"broken" yaml:"broken"`
	Unpaid      float64 `json:"unpaid" yaml:"unpaid"`
}

// RiskScore is the outcome of Risk.
type RiskScore struct {
	DebtorID string      `json:"debtor_id" yaml:"debtor_id"`
	Score    float64     `json:"score" yaml:"score"` // 0 (safe) to 100
	Level    Level       `json:"level" yaml:"level"`
	Factors  RiskFactors `json:"factors" yaml:"factors"`
}

// Risk scores how likely a debtor is not to pay back.
func Risk(d core.Debtor, now time.Time) RiskScore {
	f := RiskFactors{
		Utilisation: utilisation(d),
		Staleness:   staleness(d, now),
		Broken:      1 - keptRatio(d, 1),
		Unpaid:      1 - paymentRatio(d),
	}
	score := 100 * (WeightUtilisation*f.Utilisation +
		WeightStaleness*f.Staleness +
		WeightBroken*f.Broken +
		WeightUnpaid*f.Unpaid)
	score = math.Round(score*10) / 10

	return RiskScore{DebtorID: d.ID, Score: score, Level: levelOf(score), Factors: f}
}

func levelOf(score float64) Level {
	switch {
	case score < 34:
		return LevelLow
	case score < 67:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Credit rates a debtor between MinCredit and MaxCredit.
func Credit(d core.Debtor, now time.Time) int {
	recency := 1 - staleness(d, now)
	if _, paid := d.LastPayment(); !paid && d.Balance == 0 {
		// No activity at all is neutral rather than perfect.
		recency = 0.5
	}
	w := WeightPaymentRatio*paymentRatio(d) +
		WeightKeptRatio*keptRatio(d, 0.5) +
		WeightRecency*recency +
		WeightHistory*history(d, now)
	return MinCredit + int(math.Round(w*(MaxCredit-MinCredit)))
}

// RankByRisk scores every live debtor and orders them riskiest first.
func RankByRisk(debtors []core.Debtor, now time.Time) []RiskScore {
	out := make([]RiskScore, 0, len(debtors))
	for _, d := range debtors {
		if d.Deleted {
			continue
		}
		out = append(out, Risk(d, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// utilisation is the share of the credit limit in use. Without a limit any
// outstanding balance counts as half used.
func utilisation(d core.Debtor) float64 {
	if d.Balance <= 0 {
		return 0
	}
	if d.CreditLimit <= 0 {
		return 0.5
	}
	return clamp(float64(d.Balance) / float64(d.CreditLimit))
}

// staleness grows from 0 to 1 over StaleAfter since the last payment (or the
// first debt). A settled debtor is never stale.
func staleness(d core.Debtor, now time.Time) float64 {
	if d.Balance <= 0 {
		return 0
	}
	since, ok := d.LastPayment()
	if !ok {
		if since, ok = d.FirstDebt(); !ok {
			return 0
		}
	}
	return clamp(float64(now.Sub(since)) / float64(StaleAfter))
}

// paymentRatio is paid / borrowed; a debtor who never borrowed scores 1.
func paymentRatio(d core.Debtor) float64 {
	debt, paid := d.Totals()
	if debt == 0 {
		return 1
	}
	return clamp(float64(paid) / float64(debt))
}

// keptRatio is kept / resolved promises, or fallback when none are resolved.
func keptRatio(d core.Debtor, fallback float64) float64 {
	var kept, broken int
	for _, p := range d.Promises {
		switch p.Status {
		case core.PromiseKept:
			kept++
		case core.PromiseBroken:
			broken++
		}
	}
	if kept+broken == 0 {
		return fallback
	}
	return float64(kept) / float64(kept+broken)
}

func history(d core.Debtor, now time.Time) float64 {
	first := d.CreatedAt
	for _, tx := range d.Transactions {
		if first.IsZero() || tx.CreatedAt.Before(first) {
			first = tx.CreatedAt
		}
	}
	if first.IsZero() {
		return 0
	}
	return clamp(float64(now.Sub(first)) / float64(MatureAfter))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
