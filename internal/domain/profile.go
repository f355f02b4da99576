package domain

import "time"

// BehavioralProfile is the statistical and relational baseline of a transaction population.
type BehavioralProfile struct {
	Amounts AmountStats `json:"amounts"`

	HourHistogram    [24]int `json:"hourHistogram"`
	WeekdayHistogram [7]int  `json:"weekdayHistogram"` // index 0 = Sunday
	MonthHistogram   [12]int `json:"monthHistogram"`   // index 0 = January

	Vendors    map[string]*VendorProfile   `json:"vendors"`
	Categories map[string]*CategoryProfile `json:"categories"`

	Velocity Velocity `json:"velocity"`

	// Period spans the valid timestamps of the population. PeriodEnd is the
	// reference "now" for age-based checks.
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// AmountStats holds the central moments of absolute amounts.
type AmountStats struct {
	Count    int     `json:"count"`
	Total    float64 `json:"total"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"stdDev"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"` // excess kurtosis
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// VendorProfile aggregates one vendor's activity, keyed by canonical vendor key.
type VendorProfile struct {
	Vendor    string    `json:"vendor"`
	Total     float64   `json:"total"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	IsNew     bool      `json:"isNew"`
}

// CategoryProfile aggregates one category's activity.
type CategoryProfile struct {
	Category   string  `json:"category"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stdDev"`
	Percentage float64 `json:"percentage"` // share of total absolute value, 0-100
}

// Velocity is spending speed over the profile period.
type Velocity struct {
	Days     float64 `json:"days"`
	PerDay   float64 `json:"perDay"`
	PerWeek  float64 `json:"perWeek"`
	PerMonth float64 `json:"perMonth"`
}

// Vendor returns the vendor profile for key, or nil.
func (p *BehavioralProfile) Vendor(key string) *VendorProfile {
	if p == nil || p.Vendors == nil {
		return nil
	}
	return p.Vendors[key]
}
