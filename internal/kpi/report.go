package kpi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
)

// Report names a predefined breakdown of raw spend.
type Report string

// Predefined reports.
const (
	ReportDaily    Report = "daily_metrics"
	ReportPlatform Report = "platform_performance"
	ReportCampaign Report = "campaign_analysis"
	ReportCountry  Report = "country_performance"
	ReportDevice   Report = "device_performance"
	ReportAccount  Report = "account_summary"
)

// Reports lists every predefined report.
var Reports = []Report{ReportDaily, ReportPlatform, ReportCampaign, ReportCountry, ReportDevice, ReportAccount}

// ParseReport returns the report called name.
func ParseReport(name string) (Report, error) {
	for _, r := range Reports {
		if string(r) == name {
			return r, nil
		}
	}
	names := make([]string, len(Reports))
	for i, r := range Reports {
		names[i] = string(r)
	}
	return "", fmt.Errorf("unknown report '%s': must be one of %s", name, strings.Join(names, ", "))
}

func (r Report) dimensions() []model.Dimension {
	switch r {
	case ReportDaily:
		return []model.Dimension{model.DimDate}
	case ReportPlatform:
		return []model.Dimension{model.DimPlatform}
	case ReportCampaign:
		return []model.Dimension{model.DimPlatform, model.DimCampaign}
	case ReportCountry:
		return []model.Dimension{model.DimCountry}
	case ReportDevice:
		return []model.Dimension{model.DimDevice}
	case ReportAccount:
		return []model.Dimension{model.DimAccount}
	}
	return nil
}

var reportMeasures = []string{"total_spend", "total_conversions", "revenue", "cac", "roas"}

// Columns is the export column order of the report's rows.
func (r Report) Columns() []string {
	switch r {
	case ReportDaily:
		return []string{"date", "total_spend", "total_conversions", "total_clicks", "total_impressions", "revenue", "cac", "roas"}
	case ReportPlatform:
		return append(append([]string{"platform"}, reportMeasures...), "days_with_data", "avg_daily_spend")
	case ReportCampaign:
		return append(append([]string{"campaign", "platform"}, reportMeasures...), "days_with_data")
	case ReportAccount:
		return append(append([]string{"account"}, reportMeasures...), "days_with_data", "campaign_count", "platform_count")
	}
	var cols []string
	for _, d := range r.dimensions() {
		cols = append(cols, d.String())
	}
	return append(append(cols, reportMeasures...), "days_with_data")
}

// ReportRow is one group of a report. Dimensions the report does not group by
// hold model.AllValue (zero time for the date).
type ReportRow struct {
	Key              model.DimensionKey
	TotalSpend       decimal.Decimal
	TotalConversions int64
	TotalClicks      int64
	TotalImpressions int64
	Revenue          decimal.Decimal
	CAC              decimal.NullDecimal
	ROAS             decimal.NullDecimal
	DaysWithData     int64
	AvgDailySpend    decimal.Decimal
	CampaignCount    int64
	PlatformCount    int64
}

// Map renders the row with every column any report can select.
func (r ReportRow) Map() map[string]interface{} {
	return map[string]interface{}{
		"date":              r.Key.DateLabel(),
		"platform":          r.Key.Platform,
		"account":           r.Key.Account,
		"campaign":          r.Key.Campaign,
		"country":           r.Key.Country,
		"device":            r.Key.Device,
		"total_spend":       r.TotalSpend.StringFixed(2),
		"total_conversions": r.TotalConversions,
		"total_clicks":      r.TotalClicks,
		"total_impressions": r.TotalImpressions,
		"revenue":           r.Revenue.StringFixed(2),
		"cac":               model.NullString(r.CAC, cacPlaces),
		"roas":              model.NullString(r.ROAS, roasPlaces),
		"days_with_data":    r.DaysWithData,
		"avg_daily_spend":   r.AvgDailySpend.StringFixed(2),
		"campaign_count":    r.CampaignCount,
		"platform_count":    r.PlatformCount,
	}
}

// Report runs a predefined breakdown over raw spend in the inclusive date range.
// The daily report is ordered newest first; the others by total spend, highest first.
func (e *Engine) Report(ctx context.Context, r Report, start, end *time.Time) ([]ReportRow, error) {
	dims := r.dimensions()
	if dims == nil {
		return nil, fmt.Errorf("unknown report '%s'", r)
	}
	groups, err := e.store.AggregateRaw(ctx, model.NewDimensionSet(dims), store.RawFilter{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", r, err)
	}

	rows := make([]ReportRow, 0, len(groups))
	for _, g := range groups {
		revenue := Revenue(g.Conversions, e.rate)
		row := ReportRow{
			Key:              g.Key,
			TotalSpend:       g.Spend,
			TotalConversions: g.Conversions,
			TotalClicks:      g.Clicks,
			TotalImpressions: g.Impressions,
			Revenue:          revenue,
			CAC:              CAC(g.Spend, g.Conversions),
			ROAS:             ROAS(revenue, g.Spend),
			DaysWithData:     g.Days,
			AvgDailySpend:    decimal.Zero,
			CampaignCount:    g.Campaigns,
			PlatformCount:    g.Platforms,
		}
		if g.Days > 0 {
			row.AvgDailySpend = g.Spend.DivRound(decimal.NewFromInt(g.Days), revenuePlaces)
		}
		rows = append(rows, row)
	}

	if r == ReportDaily {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Key.Date.After(rows[j].Key.Date) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalSpend.GreaterThan(rows[j].TotalSpend) })
	}
	logging.Logf(logging.Debug, "Report %s returned %d rows", r, len(rows))
	return rows, nil
}
