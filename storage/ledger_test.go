package storage

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house-hunter/models"
	"house-hunter/utils"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Ensure single connection to avoid separate in-memory DBs per connection.
	db.SetMaxOpenConns(1)

	clock := &fakeClock{t: baseTime}
	l, err := NewLedger(db, "sqlite3", utils.NewNopLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, clock
}

func countRows(t *testing.T, l *Ledger, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, l.db.QueryRow(query, args...).Scan(&n))
	return n
}

func property(id, city string, price, sqft int) *models.PropertyData {
	return &models.PropertyData{
		PropertyID:   id,
		Address:      id + " Main St",
		City:         city,
		State:        "OH",
		ZipCode:      "44145",
		Price:        price,
		Beds:         3,
		Baths:        2.5,
		Sqft:         sqft,
		YearBuilt:    1995,
		PropertyType: "single_family",
		ListingURL:   "https://listings.example.com/" + id,
	}
}

func TestUpsertKeepsOneRecordPerProperty(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 295000, 1800), nil))

	assert.Equal(t, 1, countRows(t, l, `SELECT COUNT(*) FROM seen_properties WHERE property_id = $1`, "P1"))
	assert.Equal(t, 3, countRows(t, l, `SELECT COUNT(*) FROM price_history WHERE property_id = $1`, "P1"))

	recs := l.RecentProperties(7, false)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].FirstSeen.Equal(baseTime), "first_seen %v", recs[0].FirstSeen)
	assert.True(t, recs[0].LastSeen.Equal(baseTime.Add(2*time.Hour)), "last_seen %v", recs[0].LastSeen)
	assert.Equal(t, 295000, recs[0].Price)
	assert.Nil(t, recs[0].NotifiedAt)
}

func TestUpsertWithoutPriceKeepsStoredPrice(t *testing.T) {
	l, _ := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 0, 1800), nil))

	recs := l.RecentProperties(7, false)
	require.Len(t, recs, 1)
	assert.Equal(t, 300000, recs[0].Price)
	assert.Equal(t, 1, countRows(t, l, `SELECT COUNT(*) FROM price_history`))
}

func TestUpsertStoresReviewAndPayload(t *testing.T) {
	l, _ := newTestLedger(t)

	p := property("P1", "Westlake", 300000, 1800)
	p.RawData = json.RawMessage(`{"listing_id":"P1","tags":["a","b"],"nested":{"x":1}}`)
	require.NoError(t, l.UpsertObservation(p, nil))

	review := &models.ReviewResult{
		PropertyID:      "P1",
		Passes:          true,
		Reasons:         []string{},
		Concerns:        []string{"roof age unknown"},
		ReviewTimestamp: baseTime,
	}
	require.NoError(t, l.UpsertObservation(p, review))

	recs := l.RecentProperties(7, false)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Review)
	assert.True(t, recs[0].Review.Passes)
	assert.Equal(t, []string{"roof age unknown"}, recs[0].Review.Concerns)
	require.NotNil(t, recs[0].ReviewPasses)
	assert.True(t, *recs[0].ReviewPasses)
	assert.JSONEq(t, string(p.RawData), string(recs[0].RawData))
	assert.Equal(t, string(p.RawData), string(recs[0].RawData))

	// A later observation without a review keeps the stored verdict.
	require.NoError(t, l.UpsertObservation(p, nil))
	recs = l.RecentProperties(7, false)
	require.NotNil(t, recs[0].ReviewPasses)
	assert.True(t, *recs[0].ReviewPasses)

	// A later review replaces the stored one.
	rejected := &models.ReviewResult{
		PropertyID:      "P1",
		Passes:          false,
		Reasons:         []string{"flood zone"},
		Concerns:        []string{},
		ReviewTimestamp: baseTime.Add(time.Hour),
	}
	require.NoError(t, l.UpsertObservation(p, rejected))
	recs = l.RecentProperties(7, false)
	require.NotNil(t, recs[0].ReviewPasses)
	assert.False(t, *recs[0].ReviewPasses)
	require.NotNil(t, recs[0].Review)
	assert.Equal(t, []string{"flood zone"}, recs[0].Review.Reasons)
}

func TestUpsertRejectsMissingID(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.UpsertObservation(property("", "Westlake", 300000, 1800), nil)
	assert.Error(t, err)
	assert.Equal(t, 0, countRows(t, l, `SELECT COUNT(*) FROM price_history`))
}

func TestUpsertRollsBackPriceSampleOnFailure(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.db.Exec(`DROP TABLE seen_properties`)
	require.NoError(t, err)

	err = l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil)
	require.Error(t, err)
	assert.Equal(t, 0, countRows(t, l, `SELECT COUNT(*) FROM price_history`))
}

func TestUpsertNeverTouchesNotifiedAt(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.MarkNotified("P1", "telegram", true, ""))
	clock.Advance(24 * time.Hour)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 290000, 1800), nil))

	recs := l.RecentProperties(7, true)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].NotifiedAt)
	assert.True(t, recs[0].NotifiedAt.Equal(baseTime))
}

func TestSeenAndNotified(t *testing.T) {
	l, _ := newTestLedger(t)

	assert.False(t, l.HasBeenSeen("P1"))
	assert.False(t, l.HasBeenNotified("P1"))

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	assert.True(t, l.HasBeenSeen("P1"))
	assert.False(t, l.HasBeenNotified("P1"))

	require.NoError(t, l.MarkNotified("P1", "telegram", true, ""))
	assert.True(t, l.HasBeenNotified("P1"))
}

func TestMarkNotifiedKeepsFirstTimestampAndLogsEveryAttempt(t *testing.T) {
	l, clock := newTestLedger(t)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))

	require.NoError(t, l.MarkNotified("P1", "telegram", false, "chat not found"))
	clock.Advance(time.Hour)
	require.NoError(t, l.MarkNotified("P1", "telegram", true, ""))

	recs := l.RecentProperties(7, true)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].NotifiedAt.Equal(baseTime))

	events := l.NotificationEvents("P1")
	require.Len(t, events, 2)
	assert.False(t, events[0].Success)
	assert.Equal(t, "chat not found", events[0].ErrorMessage)
	assert.True(t, events[1].Success)
	assert.Empty(t, events[1].ErrorMessage)
	assert.Equal(t, "telegram", events[1].Channel)
}

func TestLogNotificationAndNotifiedSince(t *testing.T) {
	l, clock := newTestLedger(t)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))

	assert.False(t, l.NotifiedSince("P1", "price_drop", baseTime))

	require.NoError(t, l.LogNotification("P1", "price_drop", true, ""))
	assert.True(t, l.NotifiedSince("P1", "price_drop", baseTime))
	assert.False(t, l.NotifiedSince("P1", "price_drop", baseTime.Add(time.Minute)))
	assert.False(t, l.NotifiedSince("P1", "telegram", baseTime))
	assert.False(t, l.HasBeenNotified("P1"))

	clock.Advance(time.Hour)
	require.NoError(t, l.LogNotification("P1", "price_drop", false, "timeout"))
	assert.False(t, l.NotifiedSince("P1", "price_drop", clock.Now()))
}

func TestRecordPriceSampleDetectsDrops(t *testing.T) {
	l, clock := newTestLedger(t)

	drop, err := l.RecordPriceSample("P1", 300000)
	require.NoError(t, err)
	assert.Nil(t, drop)

	clock.Advance(time.Hour)
	drop, err = l.RecordPriceSample("P1", 280000)
	require.NoError(t, err)
	require.NotNil(t, drop)
	assert.Equal(t, 300000, drop.OldPrice)
	assert.Equal(t, 280000, drop.NewPrice)
	assert.Equal(t, 20000, drop.DropAmount)
	assert.InDelta(t, 6.67, drop.DropPercent, 0.01)

	clock.Advance(time.Hour)
	drop, err = l.RecordPriceSample("P1", 280000)
	require.NoError(t, err)
	assert.Nil(t, drop, "unchanged price is not a drop")

	clock.Advance(time.Hour)
	drop, err = l.RecordPriceSample("P1", 290000)
	require.NoError(t, err)
	assert.Nil(t, drop, "increase is not a drop")

	assert.Equal(t, 4, countRows(t, l, `SELECT COUNT(*) FROM price_history WHERE property_id = $1`, "P1"))
}

func TestPriceDropsOnlyCountLatestMovement(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	clock.Advance(3 * day)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 280000, 1800), nil))

	drops := l.PropertiesWithPriceDrops(2.0)
	require.Len(t, drops, 1)
	assert.Equal(t, "P1", drops[0].PropertyID)
	assert.Equal(t, 300000, drops[0].OldPrice)
	assert.Equal(t, 280000, drops[0].NewPrice)
	assert.True(t, drops[0].DropDate.Equal(clock.Now()))

	clock.Advance(2 * day)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 295000, 1800), nil))

	assert.Empty(t, l.PropertiesWithPriceDrops(2.0))
}

func TestPriceDropsThresholdOrderAndWindow(t *testing.T) {
	l, clock := newTestLedger(t)

	// Old drop that falls outside the seven day window.
	require.NoError(t, l.UpsertObservation(property("OLD", "Westlake", 300000, 1800), nil))
	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("OLD", "Westlake", 200000, 1800), nil))

	clock.Advance(10 * day)
	for _, p := range []*models.PropertyData{
		property("SMALL", "Westlake", 200000, 1800),
		property("MID", "Westlake", 200000, 1800),
		property("BIG", "Westlake", 200000, 1800),
	} {
		require.NoError(t, l.UpsertObservation(p, nil))
	}
	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("SMALL", "Westlake", 197000, 1800), nil)) // 1.5%
	require.NoError(t, l.UpsertObservation(property("MID", "Westlake", 190000, 1800), nil))   // 5%
	require.NoError(t, l.UpsertObservation(property("BIG", "Westlake", 180000, 1800), nil))   // 10%

	drops := l.PropertiesWithPriceDrops(2.0)
	require.Len(t, drops, 2)
	assert.Equal(t, "BIG", drops[0].PropertyID)
	assert.Equal(t, "MID", drops[1].PropertyID)

	assert.Len(t, l.PropertiesWithPriceDrops(1.0), 3)
}

func TestDaysOnMarket(t *testing.T) {
	l, clock := newTestLedger(t)

	assert.Nil(t, l.DaysOnMarket("P1"))

	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	clock.Advance(4*day + 23*time.Hour)

	days := l.DaysOnMarket("P1")
	require.NotNil(t, days)
	assert.Equal(t, 4, *days)
}

func TestRecentPropertiesWindowAndOrder(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("OLD", "Westlake", 300000, 1800), nil))
	clock.Advance(10 * day)
	require.NoError(t, l.UpsertObservation(property("A", "Westlake", 300000, 1800), nil))
	clock.Advance(time.Hour)
	require.NoError(t, l.UpsertObservation(property("B", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.MarkNotified("A", "telegram", true, ""))

	recs := l.RecentProperties(7, false)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].PropertyID)
	assert.Equal(t, "A", recs[1].PropertyID)

	notified := l.RecentProperties(7, true)
	require.Len(t, notified, 1)
	assert.Equal(t, "A", notified[0].PropertyID)
}

func TestRecentPropertiesSkipsMalformedPayload(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.UpsertObservation(property("GOOD", "Westlake", 300000, 1800), nil))

	_, err := l.db.Exec(`
		INSERT INTO seen_properties (property_id, first_seen, last_seen, raw_data)
		VALUES ($1, $2, $3, $4)`, "BAD", baseTime, baseTime, "{not json")
	require.NoError(t, err)

	recs := l.RecentProperties(7, false)
	require.Len(t, recs, 1)
	assert.Equal(t, "GOOD", recs[0].PropertyID)
}

func TestCleanupRetentionBoundary(t *testing.T) {
	l, clock := newTestLedger(t)

	require.NoError(t, l.UpsertObservation(property("STALE", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.UpsertObservation(property("KEPT", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.MarkNotified("KEPT", "telegram", true, ""))

	clock.Advance(89 * day)
	require.NoError(t, l.UpsertObservation(property("FRESH", "Westlake", 300000, 1800), nil))

	clock.Advance(2 * day)
	deleted, err := l.CleanupOldEntries(90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.False(t, l.HasBeenSeen("STALE"))
	assert.True(t, l.HasBeenSeen("KEPT"))
	assert.True(t, l.HasBeenNotified("KEPT"))
	assert.True(t, l.HasBeenSeen("FRESH"))
	assert.Equal(t, 0, countRows(t, l, `SELECT COUNT(*) FROM price_history WHERE property_id = $1`, "STALE"))

	// Notified history survives any age.
	clock.Advance(1000 * day)
	_, err = l.CleanupOldEntries(90)
	require.NoError(t, err)
	assert.True(t, l.HasBeenNotified("KEPT"))
}

func TestReadsDegradeWhenStorageFails(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.UpsertObservation(property("P1", "Westlake", 300000, 1800), nil))
	require.NoError(t, l.db.Close())

	assert.False(t, l.HasBeenSeen("P1"))
	assert.False(t, l.HasBeenNotified("P1"))
	assert.Nil(t, l.DaysOnMarket("P1"))
	assert.Empty(t, l.RecentProperties(7, false))
	assert.Empty(t, l.PropertiesWithPriceDrops(1.0))
	assert.Equal(t, models.MarketInsights{}, l.MarketInsights(property("P1", "Westlake", 300000, 1800)))
	assert.Equal(t, models.Statistics{}, l.Statistics())

	assert.Error(t, l.UpsertObservation(property("P2", "Westlake", 300000, 1800), nil))
	assert.Error(t, l.MarkNotified("P1", "telegram", true, ""))

	deleted, err := l.CleanupOldEntries(90)
	assert.Error(t, err)
	assert.Zero(t, deleted)
}

func TestUnsupportedDriver(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewLedger(db, "mysql", utils.NewNopLogger())
	assert.Error(t, err)
}
