// Package kpi computes customer acquisition cost, return on ad spend and revenue.
package kpi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rounding places for each metric.
const (
	cacPlaces     = 4
	roasPlaces    = 4
	revenuePlaces = 2
)

// Informational notes attached by Compute. They never make a result invalid.
const (
	NoteCACDivisionByZero  = "CAC calculation: Division by zero (no conversions)"
	NoteROASDivisionByZero = "ROAS calculation: Division by zero (no spend)"
)

// DefaultRevenuePerConversion is the assumed revenue of one conversion.
var DefaultRevenuePerConversion = decimal.NewFromInt(100)

// CAC is spend per conversion, half-up at 4 places. It is null when there are
// no conversions; negative spend counts as zero.
func CAC(spend decimal.Decimal, conversions int64) decimal.NullDecimal {
	if conversions <= 0 {
		return decimal.NullDecimal{}
	}
	if spend.IsNegative() {
		spend = decimal.Zero
	}
	return decimal.NewNullDecimal(spend.DivRound(decimal.NewFromInt(conversions), cacPlaces))
}

// ROAS is revenue per unit of spend, half-up at 4 places. It is null when spend
// is not positive; negative revenue counts as zero.
func ROAS(revenue, spend decimal.Decimal) decimal.NullDecimal {
	if !spend.IsPositive() {
		return decimal.NullDecimal{}
	}
	if revenue.IsNegative() {
		revenue = decimal.Zero
	}
	return decimal.NewNullDecimal(revenue.DivRound(spend, roasPlaces))
}

// Revenue is conversions times rate, half-up at 2 places. Negative conversions count as zero.
func Revenue(conversions int64, rate decimal.Decimal) decimal.Decimal {
	if conversions < 0 {
		conversions = 0
	}
	return decimal.NewFromInt(conversions).Mul(rate).Round(revenuePlaces)
}

// Computation bundles the three metrics for one spend/conversion pair.
type Computation struct {
	TotalSpend       decimal.Decimal     `json:"total_spend"`
	TotalConversions int64               `json:"total_conversions"`
	CAC              decimal.NullDecimal `json:"cac"`
	ROAS             decimal.NullDecimal `json:"roas"`
	Revenue          decimal.Decimal     `json:"revenue"`
	Notes            []string            `json:"notes,omitempty"`
	ComputedAt       time.Time           `json:"computed_at"`
}

// HasErrors reports whether a division-by-zero note is attached.
func (c Computation) HasErrors() bool {
	return len(c.Notes) > 0
}

// Compute derives CAC, revenue and ROAS. Division by zero yields the defined
// null or zero value and a note.
func Compute(spend decimal.Decimal, conversions int64, rate decimal.Decimal, now time.Time) Computation {
	c := Computation{
		TotalSpend:       spend,
		TotalConversions: conversions,
		ComputedAt:       now,
	}
	c.CAC = CAC(spend, conversions)
	c.Revenue = Revenue(conversions, rate)
	c.ROAS = ROAS(c.Revenue, spend)
	if conversions == 0 {
		c.Notes = append(c.Notes, NoteCACDivisionByZero)
	}
	if spend.IsZero() {
		c.Notes = append(c.Notes, NoteROASDivisionByZero)
	}
	return c
}
