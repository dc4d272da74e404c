package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllValue marks a string dimension that was collapsed during aggregation.
const AllValue = "ALL"

// DateLayout is the canonical calendar date layout used for storage and display.
const DateLayout = "2006-01-02"

// Known enumeration values for raw spend rows.
const (
	PlatformMeta   = "Meta"
	PlatformGoogle = "Google"

	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"

	CountryUS = "US"
	CountryCA = "CA"
	CountryBR = "BR"
	CountryMX = "MX"
)

// RequiredColumns lists the header names every spend file must carry.
var RequiredColumns = []string{
	"date", "platform", "account", "campaign", "country", "device",
	"spend", "clicks", "impressions", "conversions",
}

// SpendRecord is one validated advertising-spend observation.
type SpendRecord struct {
	Date        time.Time       `json:"date" validate:"required"`
	Platform    string          `json:"platform" validate:"required"`
	Account     string          `json:"account" validate:"required"`
	Campaign    string          `json:"campaign" validate:"required"`
	Country     string          `json:"country" validate:"required"`
	Device      string          `json:"device" validate:"required"`
	Spend       decimal.Decimal `json:"spend" validate:"gte=0"`
	Clicks      int64           `json:"clicks" validate:"gte=0"`
	Impressions int64           `json:"impressions" validate:"gte=0"`
	Conversions int64           `json:"conversions" validate:"gte=0"`
}

// TaggedRecord is a SpendRecord stamped with ingestion provenance.
type TaggedRecord struct {
	SpendRecord
	LoadTimestamp  time.Time `json:"load_timestamp" validate:"required"`
	SourceFileName string    `json:"source_file_name" validate:"required,max=255"`
	BatchID        string    `json:"batch_id" validate:"required,max=100"`
}

// DimensionKey identifies one KPI row. Collapsed string dimensions hold AllValue
// and a collapsed date is the zero time.
type DimensionKey struct {
	Date     time.Time `json:"date"`
	Platform string    `json:"platform"`
	Account  string    `json:"account"`
	Campaign string    `json:"campaign"`
	Country  string    `json:"country"`
	Device   string    `json:"device"`
}

// DateLabel renders the key date, or AllValue when the date is collapsed.
func (k DimensionKey) DateLabel() string {
	return FormatDate(k.Date)
}

// KPIRecord is a computed metric tuple for one dimension key.
type KPIRecord struct {
	DimensionKey
	TotalSpend       decimal.Decimal     `json:"total_spend"`
	TotalConversions int64               `json:"total_conversions"`
	TotalClicks      int64               `json:"total_clicks"`
	TotalImpressions int64               `json:"total_impressions"`
	CAC              decimal.NullDecimal `json:"cac"`
	ROAS             decimal.NullDecimal `json:"roas"`
	Revenue          decimal.Decimal     `json:"revenue"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Map flattens the record into a column map for the tabular writers.
func (r KPIRecord) Map() map[string]interface{} {
	return map[string]interface{}{
		"date":              r.DateLabel(),
		"platform":          r.Platform,
		"account":           r.Account,
		"campaign":          r.Campaign,
		"country":           r.Country,
		"device":            r.Device,
		"total_spend":       r.TotalSpend.StringFixed(2),
		"total_conversions": r.TotalConversions,
		"total_clicks":      r.TotalClicks,
		"total_impressions": r.TotalImpressions,
		"cac":               NullString(r.CAC, 4),
		"roas":              NullString(r.ROAS, 4),
		"revenue":           r.Revenue.StringFixed(2),
		"created_at":        r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// KPIColumns is the export column order of KPIRecord.Map.
var KPIColumns = []string{
	"date", "platform", "account", "campaign", "country", "device",
	"total_spend", "total_conversions", "total_clicks", "total_impressions",
	"cac", "roas", "revenue", "created_at",
}

// FormatDate formats a calendar date, rendering the zero time as AllValue.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return AllValue
	}
	return t.Format(DateLayout)
}

// NullString formats a nullable decimal with fixed places, or "" when null.
func NullString(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(places)
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
