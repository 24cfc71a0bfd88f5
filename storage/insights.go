package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"house-hunter/models"
)

// insightInput is the read-only context shared by every insight metric.
type insightInput struct {
	propertyID string
	city       string
	price      int
	sqft       int
	now        time.Time
}

// insightMetric fills in its part of the insights. A failing metric only
// loses its own fields.
type insightMetric struct {
	name    string
	compute func(l *Ledger, in insightInput, out *models.MarketInsights) error
}

// Order matters: staleness needs days on market computed first.
var insightMetrics = []insightMetric{
	{name: "days on market", compute: daysOnMarketMetric},
	{name: "city price", compute: cityPriceMetric},
	{name: "price per sqft", compute: pricePerSqftMetric},
	{name: "city days on market", compute: cityDaysOnMarketMetric},
}

// MarketInsights compares p with the other properties of its city.
func (l *Ledger) MarketInsights(p *models.PropertyData) models.MarketInsights {
	var out models.MarketInsights
	if p == nil {
		return out
	}

	in := insightInput{
		propertyID: p.PropertyID,
		city:       p.City,
		price:      p.Price,
		sqft:       p.Sqft,
		now:        l.clock(),
	}
	for _, m := range insightMetrics {
		if err := m.compute(l, in, &out); err != nil {
			l.logger.Warn("[ledger] Insight %q for %s failed: %v", m.name, p.PropertyID, err)
		}
	}
	return out
}

func daysOnMarketMetric(l *Ledger, in insightInput, out *models.MarketInsights) error {
	if in.propertyID == "" {
		return nil
	}
	out.DaysOnMarket = l.DaysOnMarket(in.propertyID)
	return nil
}

func cityPriceMetric(l *Ledger, in insightInput, out *models.MarketInsights) error {
	if in.city == "" {
		return nil
	}

	var avg sql.NullFloat64
	var count int
	err := l.db.QueryRow(
		`SELECT AVG(price), COUNT(*) FROM seen_properties WHERE city = $1 AND price > 0`, in.city,
	).Scan(&avg, &count)
	if err != nil {
		return err
	}
	if !avg.Valid || avg.Float64 <= 0 || count == 0 {
		return nil
	}

	cityAvg := int(avg.Float64)
	out.CityAvgPrice = &cityAvg
	out.CityPropertyCount = &count

	if in.price > 0 {
		diff := float64(in.price) - avg.Float64
		diffPercent := diff / avg.Float64 * 100
		out.PriceVsAvg = &diff
		out.PriceVsAvgPercent = &diffPercent
	}
	return nil
}

func pricePerSqftMetric(l *Ledger, in insightInput, out *models.MarketInsights) error {
	if in.city == "" || in.sqft <= 0 {
		return nil
	}

	var avg sql.NullFloat64
	err := l.db.QueryRow(`
		SELECT AVG(price * 1.0 / sqft) FROM seen_properties
		WHERE city = $1 AND sqft > 0 AND price > 0`, in.city,
	).Scan(&avg)
	if err != nil {
		return err
	}
	if !avg.Valid || avg.Float64 <= 0 {
		return nil
	}

	cityAvg := round(avg.Float64, 2)
	out.CityAvgPricePerSqft = &cityAvg

	if in.price > 0 {
		own := float64(in.price) / float64(in.sqft)
		ownRounded := round(own, 2)
		diff := round(own-avg.Float64, 2)
		out.PropertyPricePerSqft = &ownRounded
		out.PricePerSqftVsAvg = &diff
	}
	return nil
}

func cityDaysOnMarketMetric(l *Ledger, in insightInput, out *models.MarketInsights) error {
	if in.city == "" {
		return nil
	}

	rows, err := l.db.Query(`SELECT first_seen FROM seen_properties WHERE city = $1`, in.city)
	if err != nil {
		return err
	}
	defer rows.Close()

	var total float64
	var n int
	for rows.Next() {
		var firstSeen time.Time
		if err := rows.Scan(&firstSeen); err != nil {
			return fmt.Errorf("scan first_seen: %w", err)
		}
		total += in.now.Sub(firstSeen).Hours() / 24
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	avgDays := round(total/float64(n), 1)
	if avgDays <= 0 {
		return nil
	}
	out.CityAvgDaysOnMarket = &avgDays

	if out.DaysOnMarket != nil {
		s := models.ClassifyStaleness(*out.DaysOnMarket, avgDays)
		out.StalenessVsAvg = &s
	}
	return nil
}

// Statistics summarises the ledger. Any storage failure yields an empty
// summary.
func (l *Ledger) Statistics() models.Statistics {
	stats, err := l.statistics()
	if err != nil {
		l.logger.Error("[ledger] statistics: %v", err)
		return models.Statistics{}
	}
	return stats
}

func (l *Ledger) statistics() (models.Statistics, error) {
	stats := models.Statistics{ByCity: make(map[string]int)}
	weekAgo := l.clock().Add(-7 * day)

	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.TotalProperties, `SELECT COUNT(*) FROM seen_properties`, nil},
		{&stats.PropertiesNotified, `SELECT COUNT(*) FROM seen_properties WHERE notified_at IS NOT NULL`, nil},
		{&stats.PropertiesPassed, `SELECT COUNT(*) FROM seen_properties WHERE review_passes = $1`, []interface{}{true}},
		{&stats.LastSevenDays, `SELECT COUNT(*) FROM seen_properties WHERE first_seen >= $1`, []interface{}{weekAgo}},
	}
	for _, c := range counts {
		if err := l.db.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return models.Statistics{}, err
		}
	}

	rows, err := l.db.Query(`SELECT city, COUNT(*) FROM seen_properties GROUP BY city`)
	if err != nil {
		return models.Statistics{}, err
	}
	for rows.Next() {
		var city string
		var n int
		if err := rows.Scan(&city, &n); err != nil {
			rows.Close()
			return models.Statistics{}, err
		}
		stats.ByCity[city] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return models.Statistics{}, err
	}
	rows.Close()

	stats.PriceDropsLastSevenDays = len(l.PropertiesWithPriceDrops(1.0))
	return stats, nil
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
