package kpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
)

// Trend directions. A change beyond trendThreshold percent in either direction is a trend.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

var (
	trendThreshold = decimal.NewFromInt(5)
	hundred        = decimal.NewFromInt(100)
)

// ErrNoData is returned when a trend is requested over an empty raw table.
var ErrNoData = errors.New("no raw data available")

// Period is an inclusive range of calendar dates.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Days is the number of calendar days covered.
func (p Period) Days() int {
	return int(model.Day(p.End).Sub(model.Day(p.Start)).Hours()/24) + 1
}

// PeriodMetrics are the raw totals and ratios of one period.
type PeriodMetrics struct {
	Period      Period              `json:"period"`
	Spend       decimal.Decimal     `json:"spend"`
	Conversions int64               `json:"conversions"`
	CAC         decimal.NullDecimal `json:"cac"`
	ROAS        decimal.NullDecimal `json:"roas"`
}

// Comparison is the change of one metric between two periods.
type Comparison struct {
	Metric         string          `json:"metric"`
	Current        decimal.Decimal `json:"current"`
	Previous       decimal.Decimal `json:"previous"`
	AbsoluteChange decimal.Decimal `json:"absolute_change"`
	PercentChange  decimal.Decimal `json:"percent_change"`
	Trend          string          `json:"trend"`
}

// PeriodComparison holds both periods and the metrics that could be compared.
type PeriodComparison struct {
	Current     PeriodMetrics `json:"current"`
	Previous    PeriodMetrics `json:"previous"`
	Comparisons []Comparison  `json:"comparisons"`
}

// Summary renders the comparisons on one line.
func (pc *PeriodComparison) Summary() string {
	if len(pc.Comparisons) == 0 {
		return "No data available for comparison"
	}
	parts := make([]string, 0, len(pc.Comparisons))
	for _, c := range pc.Comparisons {
		switch c.Metric {
		case "CAC":
			parts = append(parts, fmt.Sprintf("CAC: $%s vs $%s (%s%%, %s)",
				c.Current.StringFixed(2), c.Previous.StringFixed(2), signed(c.PercentChange), c.Trend))
		default:
			parts = append(parts, fmt.Sprintf("%s: %sx vs %sx (%s%%, %s)",
				c.Metric, c.Current.StringFixed(2), c.Previous.StringFixed(2), signed(c.PercentChange), c.Trend))
		}
	}
	return strings.Join(parts, " | ")
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(1)
	if !d.IsNegative() {
		return "+" + s
	}
	return s
}

// trendOf classifies a percentage change.
func trendOf(pct decimal.Decimal) string {
	switch {
	case pct.GreaterThan(trendThreshold):
		return TrendUp
	case pct.LessThan(trendThreshold.Neg()):
		return TrendDown
	default:
		return TrendStable
	}
}

// PeriodMetrics totals raw data over p.
func (e *Engine) PeriodMetrics(ctx context.Context, p Period) (PeriodMetrics, error) {
	start, end := model.Day(p.Start), model.Day(p.End)
	rows, err := e.store.AggregateRaw(ctx, 0, store.RawFilter{Start: &start, End: &end})
	if err != nil {
		return PeriodMetrics{}, fmt.Errorf("period metrics %s: %w", p.Label, err)
	}
	pm := PeriodMetrics{Period: p, Spend: decimal.Zero}
	if len(rows) == 0 {
		return pm, nil
	}
	pm.Spend = rows[0].Spend
	pm.Conversions = rows[0].Conversions
	pm.CAC = CAC(pm.Spend, pm.Conversions)
	pm.ROAS = ROAS(Revenue(pm.Conversions, e.rate), pm.Spend)
	return pm, nil
}

// ComparePeriods compares CAC and ROAS of current against previous. A metric is
// compared only when it is defined and non-zero in the previous period.
func (e *Engine) ComparePeriods(ctx context.Context, current, previous Period) (*PeriodComparison, error) {
	cur, err := e.PeriodMetrics(ctx, current)
	if err != nil {
		return nil, err
	}
	prev, err := e.PeriodMetrics(ctx, previous)
	if err != nil {
		return nil, err
	}
	pc := &PeriodComparison{Current: cur, Previous: prev, Comparisons: []Comparison{}}
	for _, m := range []struct {
		name      string
		cur, prev decimal.NullDecimal
	}{
		{"CAC", cur.CAC, prev.CAC},
		{"ROAS", cur.ROAS, prev.ROAS},
	} {
		if !m.cur.Valid || !m.prev.Valid || m.prev.Decimal.IsZero() {
			continue
		}
		change := m.cur.Decimal.Sub(m.prev.Decimal)
		pct := change.Div(m.prev.Decimal).Mul(hundred).Round(2)
		pc.Comparisons = append(pc.Comparisons, Comparison{
			Metric:         m.name,
			Current:        m.cur.Decimal,
			Previous:       m.prev.Decimal,
			AbsoluteChange: change,
			PercentChange:  pct,
			Trend:          trendOf(pct),
		})
	}
	return pc, nil
}

// latestDate is the most recent raw data date.
func (e *Engine) latestDate(ctx context.Context) (time.Time, error) {
	stats, err := e.store.TableStats(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if stats.TotalRecords == 0 || stats.LatestDate.IsZero() {
		return time.Time{}, ErrNoData
	}
	return model.Day(stats.LatestDate), nil
}

// LastNDays compares the n days ending at the latest raw date with the n days before them.
func (e *Engine) LastNDays(ctx context.Context, n int) (*PeriodComparison, error) {
	if n <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", n)
	}
	latest, err := e.latestDate(ctx)
	if err != nil {
		return nil, err
	}
	current := Period{Start: latest.AddDate(0, 0, -(n - 1)), End: latest, Label: fmt.Sprintf("Last %d Days", n)}
	prevEnd := current.Start.AddDate(0, 0, -1)
	previous := Period{Start: prevEnd.AddDate(0, 0, -(n - 1)), End: prevEnd, Label: fmt.Sprintf("Prior %d Days", n)}
	return e.ComparePeriods(ctx, current, previous)
}

// DailyPoint is one day of the daily trend.
type DailyPoint struct {
	Date        time.Time           `json:"date"`
	Spend       decimal.Decimal     `json:"spend"`
	Conversions int64               `json:"conversions"`
	CAC         decimal.NullDecimal `json:"cac"`
	ROAS        decimal.NullDecimal `json:"roas"`
}

// DailyTrend returns per-day metrics for the days ending at the latest raw date, newest first.
func (e *Engine) DailyTrend(ctx context.Context, days int) ([]DailyPoint, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	latest, err := e.latestDate(ctx)
	if err != nil {
		return nil, err
	}
	start := latest.AddDate(0, 0, -(days - 1))
	rows, err := e.store.AggregateRaw(ctx, model.NewDimensionSet([]model.Dimension{model.DimDate}),
		store.RawFilter{Start: &start, End: &latest})
	if err != nil {
		return nil, fmt.Errorf("daily trend: %w", err)
	}
	out := make([]DailyPoint, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, DailyPoint{
			Date:        r.Key.Date,
			Spend:       r.Spend,
			Conversions: r.Conversions,
			CAC:         CAC(r.Spend, r.Conversions),
			ROAS:        ROAS(Revenue(r.Conversions, e.rate), r.Spend),
		})
	}
	return out, nil
}
