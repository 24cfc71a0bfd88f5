package notify

import (
	"context"
	"sort"
	"strings"

	"house-hunter/models"
	"house-hunter/utils"
)

// Channel names recorded in the notification log.
const (
	ChannelMatch       = "match"
	ChannelClosestMiss = "closest_miss"
	ChannelPriceDrop   = "price_drop"
)

// Notifier delivers alerts about properties. Implementations decide how the
// message is formatted and where it goes.
type Notifier interface {
	NotifyMatch(ctx context.Context, p *models.PropertyData, review *models.ReviewResult, insights models.MarketInsights) error
	NotifyClosestMiss(ctx context.Context, p *models.PropertyData, review *models.ReviewResult, score float64, totalFound int) error
	NotifyPriceDrop(ctx context.Context, drop models.PriceDropRecord) error
	NotifyError(ctx context.Context, summary, details string) error
	NotifyWeeklySummary(ctx context.Context, stats models.Statistics) error
}

// LogNotifier writes every alert to the application log.
type LogNotifier struct {
	logger    *utils.Logger
	homeState string
}

// NewLogNotifier creates a LogNotifier. homeState is printed on address
// lines whose listing carries no state.
func NewLogNotifier(logger *utils.Logger, homeState string) *LogNotifier {
	return &LogNotifier{logger: logger, homeState: homeState}
}

func (n *LogNotifier) addressLine(address, city, state string) string {
	if state == "" {
		state = n.homeState
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{address, city, state} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (n *LogNotifier) NotifyMatch(ctx context.Context, p *models.PropertyData, review *models.ReviewResult, insights models.MarketInsights) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("[notify] MATCH %s | $%d | %d bd / %.1f ba | %s",
		n.addressLine(p.Address, p.City, p.State), p.Price, p.Beds, p.Baths, p.ListingURL)
	if insights.PriceVsAvgPercent != nil {
		n.logger.Info("[notify]   %.1f%% vs %s average", *insights.PriceVsAvgPercent, p.City)
	}
	if review != nil && len(review.Concerns) > 0 {
		n.logger.Info("[notify]   concerns: %s", strings.Join(review.Concerns, "; "))
	}
	return nil
}

func (n *LogNotifier) NotifyClosestMiss(ctx context.Context, p *models.PropertyData, review *models.ReviewResult, score float64, totalFound int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("[notify] No matches among %d properties. Closest miss: %s | $%d (score %.1f)",
		totalFound, n.addressLine(p.Address, p.City, p.State), p.Price, score)
	if review != nil && len(review.Reasons) > 0 {
		n.logger.Info("[notify]   rejected for: %s", strings.Join(review.Reasons, "; "))
	}
	return nil
}

func (n *LogNotifier) NotifyPriceDrop(ctx context.Context, drop models.PriceDropRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("[notify] PRICE DROP %s | $%d → $%d (-%.1f%%)",
		n.addressLine(drop.Address, drop.City, drop.State), drop.OldPrice, drop.NewPrice, drop.DropPercent)
	return nil
}

func (n *LogNotifier) NotifyError(ctx context.Context, summary, details string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Error("[notify] %s\n%s", summary, details)
	return nil
}

// NotifyWeeklySummary reports ledger totals, busiest cities first.
func (n *LogNotifier) NotifyWeeklySummary(ctx context.Context, stats models.Statistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("[notify] WEEKLY SUMMARY %d tracked | %d new this week | %d passed | %d notified | %d price drops",
		stats.TotalProperties, stats.LastSevenDays, stats.PropertiesPassed,
		stats.PropertiesNotified, stats.PriceDropsLastSevenDays)

	cities := make([]string, 0, len(stats.ByCity))
	for city := range stats.ByCity {
		cities = append(cities, city)
	}
	sort.Slice(cities, func(i, j int) bool {
		if stats.ByCity[cities[i]] != stats.ByCity[cities[j]] {
			return stats.ByCity[cities[i]] > stats.ByCity[cities[j]]
		}
		return cities[i] < cities[j]
	})
	for _, city := range cities {
		n.logger.Info("[notify]   %s: %d", city, stats.ByCity[city])
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
