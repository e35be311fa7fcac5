// Package report turns a market's debtors into summaries, calendars and
// export files.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/scoring"
)

// DefaultTop is how many debtors Summarize lists by default.
const DefaultTop = 5

// Line is one debtor in a summary.
type Line struct {
	ID      string        `json:"id" yaml:"id"`
	Name    string        `json:"name" yaml:"name"`
	Balance int64         `json:"balance" yaml:"balance"`
	Risk    scoring.Level `json:"risk" yaml:"risk"`
}

// Summary aggregates a market.
type Summary struct {
	Market          string    `json:"market" yaml:"market"`
	GeneratedAt     time.Time `json:"generated_at" yaml:"generated_at"`
	Debtors         int       `json:"debtors" yaml:"debtors"`
	WithBalance     int       `json:"with_balance" yaml:"with_balance"`
	TotalDebt       int64     `json:"total_debt" yaml:"total_debt"`
	TotalPaid       int64     `json:"total_paid" yaml:"total_paid"`
	Outstanding     int64     `json:"outstanding" yaml:"outstanding"`
	PendingPromises int       `json:"pending_promises" yaml:"pending_promises"`
	OverduePromises int       `json:"overdue_promises" yaml:"overdue_promises"`
	HighRisk        int       `json:"high_risk" yaml:"high_risk"`
	Top             []Line    `json:"top" yaml:"top"`
}

// Summarize aggregates the live debtors of a market. top bounds the list of
// largest balances; zero means DefaultTop.
func Summarize(market string, debtors []core.Debtor, now time.Time, top int) Summary {
	if top <= 0 {
		top = DefaultTop
	}
	s := Summary{Market: market, GeneratedAt: now.UTC(), Top: []Line{}}

	var lines []Line
	for _, d := range debtors {
		if d.Deleted {
			continue
		}
		s.Debtors++
		debt, paid := d.Totals()
		s.TotalDebt += debt
		s.TotalPaid += paid
		s.Outstanding += d.Balance
		for _, p := range d.Promises {
			if p.Status == core.PromisePending {
				s.PendingPromises++
			}
			if p.Overdue(now) {
				s.OverduePromises++
			}
		}
		risk := scoring.Risk(d, now)
		if risk.Level == scoring.LevelHigh {
			s.HighRisk++
		}
		if d.Balance > 0 {
			s.WithBalance++
			lines = append(lines, Line{ID: d.ID, Name: d.Name, Balance: d.Balance, Risk: risk.Level})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Balance > lines[j].Balance })
	if len(lines) > top {
		lines = lines[:top]
	}
	s.Top = append(s.Top, lines...)
	return s
}

// Day is one cell of the activity heatmap.
type Day struct {
	Date  string `json:"date" yaml:"date"` // YYYY-MM-DD
	Debt  int64  `json:"debt" yaml:"debt"`
	Paid  int64  `json:"paid" yaml:"paid"`
	Count int    `json:"count" yaml:"count"`
}

// Heatmap returns one entry per calendar day in [from, to], in UTC, with the
// debt and payment totals of that day. Days without activity are included.
func Heatmap(debtors []core.Debtor, from, to time.Time) []Day {
	start := truncateDay(from)
	end := truncateDay(to)
	if end.Before(start) {
		return []Day{}
	}

	idx := make(map[string]int)
	var days []Day
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		idx[key] = len(days)
		days = append(days, Day{Date: key})
	}

	for _, d := range debtors {
		for _, tx := range d.Transactions {
			i, ok := idx[tx.CreatedAt.UTC().Format(time.DateOnly)]
			if !ok {
				continue
			}
			switch tx.Kind {
			case core.TxDebt:
				days[i].Debt += tx.Amount
			case core.TxPayment:
				days[i].Paid += tx.Amount
			}
			days[i].Count++
		}
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CSVHeader is the first row written by WriteCSV.
var CSVHeader = []string{"id", "name", "phone", "balance", "credit_limit", "total_debt", "total_paid", "last_payment", "risk_score", "risk_level", "credit_score"}

// WriteCSV exports the live debtors with their scores.
func WriteCSV(w io.Writer, debtors []core.Debtor, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, d := range debtors {
		if d.Deleted {
			continue
		}
		debt, paid := d.Totals()
		last := ""
		if t, ok := d.LastPayment(); ok {
			last = t.UTC().Format(time.RFC3339)
		}
		risk := scoring.Risk(d, now)
		row := []string{
			d.ID,
			d.Name,
			d.Phone,
			strconv.FormatInt(d.Balance, 10),
			strconv.FormatInt(d.CreditLimit, 10),
			strconv.FormatInt(debt, 10),
			strconv.FormatInt(paid, 10),
			last,
			strconv.FormatFloat(risk.Score, 'f', 1, 64),
			string(risk.Level),
			strconv.Itoa(scoring.Credit(d, now)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteYAML encodes v as YAML with two-space indentation.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
