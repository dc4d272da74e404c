package model

import (
	"fmt"
	"strings"
)

// Dimension is one of the six grouping columns of a KPI key.
type Dimension int

const (
	DimDate Dimension = iota
	DimPlatform
	DimAccount
	DimCampaign
	DimCountry
	DimDevice
)

// AllDimensions is the default grouping, in key order.
var AllDimensions = []Dimension{DimDate, DimPlatform, DimAccount, DimCampaign, DimCountry, DimDevice}

var dimensionNames = [...]string{"date", "platform", "account", "campaign", "country", "device"}

// String returns the column name of the dimension.
func (d Dimension) String() string {
	if d < DimDate || d > DimDevice {
		return fmt.Sprintf("Dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// Valid reports whether d is one of the declared dimensions.
func (d Dimension) Valid() bool {
	return d >= DimDate && d <= DimDevice
}

// ParseDimension resolves a column name (case-insensitive) to a Dimension.
func ParseDimension(name string) (Dimension, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range dimensionNames {
		if candidate == n {
			return Dimension(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dimension '%s' (valid: %s)", name, strings.Join(dimensionNames[:], ", "))
}

// ParseDimensions resolves a list of names, rejecting unknown and repeated entries.
// An empty list yields AllDimensions.
func ParseDimensions(names []string) ([]Dimension, error) {
	if len(names) == 0 {
		return append([]Dimension(nil), AllDimensions...), nil
	}
	seen := make(map[Dimension]bool, len(names))
	dims := make([]Dimension, 0, len(names))
	for _, name := range names {
		d, err := ParseDimension(name)
		if err != nil {
			return nil, err
		}
		if seen[d] {
			return nil, fmt.Errorf("dimension '%s' listed more than once", d)
		}
		seen[d] = true
		dims = append(dims, d)
	}
	return dims, nil
}

// DimensionSet is a bitmask of grouped dimensions.
type DimensionSet uint8

// NewDimensionSet builds a set from a list of dimensions.
func NewDimensionSet(dims []Dimension) DimensionSet {
	var s DimensionSet
	for _, d := range dims {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether d is grouped in the set.
func (s DimensionSet) Has(d Dimension) bool {
	return s&(1<<uint(d)) != 0
}

// Dimensions lists the set's members in key order.
func (s DimensionSet) Dimensions() []Dimension {
	out := make([]Dimension, 0, len(AllDimensions))
	for _, d := range AllDimensions {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Signature returns the set of dimensions that are not collapsed in k.
func (k DimensionKey) Signature() DimensionSet {
	var s DimensionSet
	if !k.Date.IsZero() {
		s |= 1 << uint(DimDate)
	}
	for d, v := range map[Dimension]string{
		DimPlatform: k.Platform, DimAccount: k.Account, DimCampaign: k.Campaign,
		DimCountry: k.Country, DimDevice: k.Device,
	} {
		if v != AllValue {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Project collapses every dimension of the record not present in s.
func (r SpendRecord) Project(s DimensionSet) DimensionKey {
	k := DimensionKey{
		Platform: AllValue, Account: AllValue, Campaign: AllValue,
		Country: AllValue, Device: AllValue,
	}
	if s.Has(DimDate) {
		k.Date = Day(r.Date)
	}
	if s.Has(DimPlatform) {
		k.Platform = r.Platform
	}
	if s.Has(DimAccount) {
		k.Account = r.Account
	}
	if s.Has(DimCampaign) {
		k.Campaign = r.Campaign
	}
	if s.Has(DimCountry) {
		k.Country = r.Country
	}
	if s.Has(DimDevice) {
		k.Device = r.Device
	}
	return k
}
