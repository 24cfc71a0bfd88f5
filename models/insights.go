package models

// Staleness compares a property's time on market with its city average.
type Staleness string

const (
	StalenessMuchFresher Staleness = "much_fresher"
	StalenessFresher     Staleness = "fresher"
	StalenessAverage     Staleness = "average"
	StalenessStale       Staleness = "stale"
)

// ClassifyStaleness buckets days against the city average: under half the
// average is much fresher, under the average is fresher, under one and a half
// times the average is average, anything else is stale.
func ClassifyStaleness(days int, cityAvgDays float64) Staleness {
	d := float64(days)
	switch {
	case d < cityAvgDays*0.5:
		return StalenessMuchFresher
	case d < cityAvgDays:
		return StalenessFresher
	case d < cityAvgDays*1.5:
		return StalenessAverage
	default:
		return StalenessStale
	}
}

// MarketInsights compares one candidate against the ledger's view of its
// city. Every field is optional; nil means the inputs were unavailable.
type MarketInsights struct {
	DaysOnMarket         *int       `json:"days_on_market,omitempty"`
	CityAvgPrice         *int       `json:"city_avg_price,omitempty"`
	CityPropertyCount    *int       `json:"city_property_count,omitempty"`
	PriceVsAvg           *float64   `json:"price_vs_avg,omitempty"`
	PriceVsAvgPercent    *float64   `json:"price_vs_avg_percent,omitempty"`
	CityAvgPricePerSqft  *float64   `json:"city_avg_price_per_sqft,omitempty"`
	PropertyPricePerSqft *float64   `json:"property_price_per_sqft,omitempty"`
	PricePerSqftVsAvg    *float64   `json:"price_per_sqft_vs_avg,omitempty"`
	CityAvgDaysOnMarket  *float64   `json:"city_avg_days_on_market,omitempty"`
	StalenessVsAvg       *Staleness `json:"staleness_vs_avg,omitempty"`
}

// BelowAverageBy reports whether the candidate is priced more than pct
// percent under its city average.
func (m MarketInsights) BelowAverageBy(pct float64) bool {
	return m.PriceVsAvgPercent != nil && *m.PriceVsAvgPercent < -pct
}
