package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house-hunter/models"
)

func seedCity(t *testing.T, l *Ledger) {
	t.Helper()
	require.NoError(t, l.UpsertObservation(property("A1", "Akron", 200000, 1000), nil))
	require.NoError(t, l.UpsertObservation(property("A2", "Akron", 300000, 2000), nil))
	// No price: must not drag the averages down.
	require.NoError(t, l.UpsertObservation(property("A3", "Akron", 0, 0), nil))
	require.NoError(t, l.UpsertObservation(property("K1", "Kent", 900000, 3000), nil))
}

func TestMarketInsightsCityComparison(t *testing.T) {
	l, _ := newTestLedger(t)
	seedCity(t, l)

	in := l.MarketInsights(property("NEW", "Akron", 225000, 1500))

	assert.Nil(t, in.DaysOnMarket, "unknown property has no days on market")
	require.NotNil(t, in.CityAvgPrice)
	assert.Equal(t, 250000, *in.CityAvgPrice)
	require.NotNil(t, in.CityPropertyCount)
	assert.Equal(t, 2, *in.CityPropertyCount)
	require.NotNil(t, in.PriceVsAvg)
	assert.InDelta(t, -25000, *in.PriceVsAvg, 1e-6)
	require.NotNil(t, in.PriceVsAvgPercent)
	assert.InDelta(t, -10, *in.PriceVsAvgPercent, 1e-6)
	assert.True(t, in.BelowAverageBy(5))

	require.NotNil(t, in.CityAvgPricePerSqft)
	assert.InDelta(t, 175, *in.CityAvgPricePerSqft, 1e-6)
	require.NotNil(t, in.PropertyPricePerSqft)
	assert.InDelta(t, 150, *in.PropertyPricePerSqft, 1e-6)
	require.NotNil(t, in.PricePerSqftVsAvg)
	assert.InDelta(t, -25, *in.PricePerSqftVsAvg, 1e-6)
}

func TestMarketInsightsOmitsSqftMetricsWithoutSqft(t *testing.T) {
	l, _ := newTestLedger(t)
	seedCity(t, l)

	in := l.MarketInsights(property("NEW", "Akron", 275000, 0))

	assert.Nil(t, in.CityAvgPricePerSqft)
	assert.Nil(t, in.PropertyPricePerSqft)
	assert.Nil(t, in.PricePerSqftVsAvg)
	require.NotNil(t, in.PriceVsAvg)
	assert.InDelta(t, 25000, *in.PriceVsAvg, 1e-6)
	require.NotNil(t, in.PriceVsAvgPercent)
	assert.InDelta(t, 10, *in.PriceVsAvgPercent, 1e-6)
}

func TestMarketInsightsWithoutPriceOrCity(t *testing.T) {
	l, _ := newTestLedger(t)
	seedCity(t, l)

	noPrice := l.MarketInsights(property("NEW", "Akron", 0, 1500))
	assert.NotNil(t, noPrice.CityAvgPrice)
	assert.Nil(t, noPrice.PriceVsAvg)
	assert.Nil(t, noPrice.PriceVsAvgPercent)
	assert.Nil(t, noPrice.PropertyPricePerSqft)

	noCity := l.MarketInsights(property("A1", "", 200000, 1000))
	assert.NotNil(t, noCity.DaysOnMarket)
	assert.Nil(t, noCity.CityAvgPrice)
	assert.Nil(t, noCity.CityAvgDaysOnMarket)

	unknownCity := l.MarketInsights(property("NEW", "Nowhere", 200000, 1000))
	assert.Equal(t, models.MarketInsights{}, unknownCity)
}

func TestMarketInsightsStaleness(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("OLD", "Parma", 250000, 1500), nil))
	clock.Advance(10 * day)
	require.NoError(t, l.UpsertObservation(property("NEW", "Parma", 250000, 1500), nil))

	fresh := l.MarketInsights(property("NEW", "Parma", 250000, 1500))
	require.NotNil(t, fresh.CityAvgDaysOnMarket)
	assert.InDelta(t, 5.0, *fresh.CityAvgDaysOnMarket, 1e-9)
	require.NotNil(t, fresh.DaysOnMarket)
	assert.Equal(t, 0, *fresh.DaysOnMarket)
	require.NotNil(t, fresh.StalenessVsAvg)
	assert.Equal(t, models.StalenessMuchFresher, *fresh.StalenessVsAvg)

	stale := l.MarketInsights(property("OLD", "Parma", 250000, 1500))
	require.NotNil(t, stale.StalenessVsAvg)
	assert.Equal(t, models.StalenessStale, *stale.StalenessVsAvg)
}

func TestMarketInsightsSkipsCityAgeWhenEverythingIsNew(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.UpsertObservation(property("P1", "Parma", 250000, 1500), nil))

	in := l.MarketInsights(property("P1", "Parma", 250000, 1500))
	require.NotNil(t, in.DaysOnMarket)
	assert.Nil(t, in.CityAvgDaysOnMarket)
	assert.Nil(t, in.StalenessVsAvg)
}

func TestStatistics(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("OLD", "Akron", 300000, 1500), nil))
	clock.Advance(10 * day)

	passed := &models.ReviewResult{PropertyID: "A1", Passes: true, ReviewTimestamp: clock.Now()}
	failed := &models.ReviewResult{PropertyID: "A2", Passes: false, Reasons: []string{"Has a pool"}, ReviewTimestamp: clock.Now()}
	require.NoError(t, l.UpsertObservation(property("A1", "Akron", 300000, 1500), passed))
	require.NoError(t, l.UpsertObservation(property("A2", "Akron", 250000, 1500), failed))
	require.NoError(t, l.UpsertObservation(property("K1", "Kent", 200000, 1500), nil))
	require.NoError(t, l.MarkNotified("A1", "telegram", true, ""))

	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("K1", "Kent", 190000, 1500), nil))

	stats := l.Statistics()
	assert.Equal(t, 4, stats.TotalProperties)
	assert.Equal(t, 1, stats.PropertiesNotified)
	assert.Equal(t, 1, stats.PropertiesPassed)
	assert.Equal(t, map[string]int{"Akron": 3, "Kent": 1}, stats.ByCity)
	assert.Equal(t, 3, stats.LastSevenDays)
	assert.Equal(t, 1, stats.PriceDropsLastSevenDays)
}
