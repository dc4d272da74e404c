package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDimensions(t *testing.T) {
	testCases := []struct {
		name    string
		input   []string
		want    []Dimension
		wantErr string
	}{
		{name: "empty defaults to all", input: nil, want: AllDimensions},
		{name: "case and space insensitive", input: []string{" Date", "PLATFORM"}, want: []Dimension{DimDate, DimPlatform}},
		{name: "order preserved", input: []string{"device", "country"}, want: []Dimension{DimDevice, DimCountry}},
		{name: "unknown rejected", input: []string{"date", "region"}, wantErr: "unknown dimension 'region'"},
		{name: "duplicate rejected", input: []string{"account", "Account"}, wantErr: "listed more than once"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDimensions(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDimensionString(t *testing.T) {
	assert.Equal(t, "campaign", DimCampaign.String())
	assert.Equal(t, "Dimension(9)", Dimension(9).String())
	assert.False(t, Dimension(-1).Valid())
}

func TestProjectAndSignature(t *testing.T) {
	rec := SpendRecord{
		Date:     time.Date(2025, 6, 3, 15, 4, 0, 0, time.UTC),
		Platform: PlatformMeta, Account: "acme", Campaign: "spring",
		Country: CountryUS, Device: DeviceMobile, Spend: decimal.NewFromInt(10),
	}

	set := NewDimensionSet([]Dimension{DimPlatform, DimDate})
	key := rec.Project(set)

	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), key.Date)
	assert.Equal(t, PlatformMeta, key.Platform)
	assert.Equal(t, AllValue, key.Account)
	assert.Equal(t, AllValue, key.Device)
	assert.Equal(t, set, key.Signature())
	assert.Equal(t, []Dimension{DimDate, DimPlatform}, set.Dimensions())

	collapsed := rec.Project(NewDimensionSet(nil))
	assert.True(t, collapsed.Date.IsZero())
	assert.Equal(t, "ALL", collapsed.DateLabel())
	assert.Equal(t, DimensionSet(0), collapsed.Signature())
}

func TestKPIRecordMap(t *testing.T) {
	r := KPIRecord{
		DimensionKey: DimensionKey{Platform: "Google", Account: AllValue, Campaign: AllValue, Country: AllValue, Device: AllValue},
		TotalSpend:   decimal.RequireFromString("100.5"),
		CAC:          decimal.NullDecimal{},
		ROAS:         decimal.NewNullDecimal(decimal.RequireFromString("4.97512")),
		Revenue:      decimal.NewFromInt(500),
	}
	m := r.Map()
	assert.Equal(t, "ALL", m["date"])
	assert.Equal(t, "100.50", m["total_spend"])
	assert.Equal(t, "", m["cac"])
	assert.Equal(t, "4.9751", m["roas"])
	assert.Equal(t, "500.00", m["revenue"])
}
