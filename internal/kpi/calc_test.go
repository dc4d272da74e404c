package kpi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var calcTime = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullString(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "null"
	}
	return d.Decimal.StringFixed(places)
}

func TestCAC(t *testing.T) {
	testCases := []struct {
		name        string
		spend       string
		conversions int64
		want        string
	}{
		{"even", "100.00", 5, "20.0000"},
		{"half-up precision", "100.00", 3, "33.3333"},
		{"rounds half up", "0.00005", 1, "0.0001"},
		{"two thirds", "200", 3, "66.6667"},
		{"no conversions", "100", 0, "null"},
		{"negative conversions", "100", -2, "null"},
		{"zero spend", "0", 5, "0.0000"},
		{"negative spend clamps", "-50", 5, "0.0000"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nullString(CAC(dec(tc.spend), tc.conversions), 4))
		})
	}
}

func TestCACNegativeSpendEqualsZeroSpend(t *testing.T) {
	for _, c := range []int64{1, 3, 7, 1000} {
		assert.Equal(t, CAC(decimal.Zero, c), CAC(dec("-12.5"), c))
	}
}

func TestROAS(t *testing.T) {
	testCases := []struct {
		name    string
		revenue string
		spend   string
		want    string
	}{
		{"basic", "500", "100", "5.0000"},
		{"fraction", "100", "300", "0.3333"},
		{"zero revenue", "0", "100", "0.0000"},
		{"negative revenue clamps", "-10", "100", "0.0000"},
		{"zero spend", "500", "0", "null"},
		{"negative spend", "500", "-1", "null"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nullString(ROAS(dec(tc.revenue), dec(tc.spend)), 4))
		})
	}
}

func TestRevenue(t *testing.T) {
	assert.Equal(t, "500.00", Revenue(5, DefaultRevenuePerConversion).StringFixed(2))
	assert.Equal(t, "0.00", Revenue(-3, DefaultRevenuePerConversion).StringFixed(2))
	assert.Equal(t, "37.04", Revenue(3, dec("12.345")).StringFixed(2))
}

func TestComputeScenarios(t *testing.T) {
	testCases := []struct {
		name        string
		spend       string
		conversions int64
		cac         string
		roas        string
		revenue     string
		notes       []string
	}{
		{"both defined", "100.00", 5, "20.0000", "5.0000", "500.00", nil},
		{"no conversions", "100.00", 0, "null", "0.0000", "0.00", []string{NoteCACDivisionByZero}},
		{"no spend", "0.00", 5, "0.0000", "null", "500.00", []string{NoteROASDivisionByZero}},
		{"nothing", "0", 0, "null", "null", "0.00", []string{NoteCACDivisionByZero, NoteROASDivisionByZero}},
		{"precision", "100.00", 3, "33.3333", "3.0000", "300.00", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Compute(dec(tc.spend), tc.conversions, DefaultRevenuePerConversion, calcTime)
			assert.Equal(t, tc.cac, nullString(c.CAC, 4))
			assert.Equal(t, tc.roas, nullString(c.ROAS, 4))
			assert.Equal(t, tc.revenue, c.Revenue.StringFixed(2))
			assert.Equal(t, tc.notes, c.Notes)
			assert.Equal(t, len(tc.notes) > 0, c.HasErrors())
			assert.Equal(t, calcTime, c.ComputedAt)
		})
	}
}
