package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"house-hunter/models"
	"house-hunter/utils"
)

const topDropsLimit = 5

// StatsSource is the read side of the ledger the report draws from.
type StatsSource interface {
	Statistics() models.Statistics
	PropertiesWithPriceDrops(minDropPercent float64) []models.PriceDropRecord
	RecentProperties(windowDays int, onlyNotified bool) []models.PropertyRecord
}

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// SetOutput redirects the printed report.
func (s *InsightService) SetOutput(w io.Writer) {
	s.out = w
}

func (s *InsightService) Generate(src StatsSource, windowDays int, minDropPercent float64) *models.InsightReport {
	report := &models.InsightReport{
		Stats:      src.Statistics(),
		Recent:     src.RecentProperties(windowDays, false),
		WindowDays: windowDays,
	}

	drops := src.PropertiesWithPriceDrops(minDropPercent)
	if len(drops) > topDropsLimit {
		drops = drops[:topDropsLimit]
	}
	report.TopDrops = drops

	s.logger.Debug("[insights] %d properties, %d recent, %d drops",
		report.Stats.TotalProperties, len(report.Recent), len(report.TopDrops))
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏠 HOUSE HUNTER LEDGER\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Properties tracked     : \033[1m%d\033[0m\n", r.Stats.TotalProperties)
	fmt.Fprintf(w, "  Notified               : \033[1m%d\033[0m\n", r.Stats.PropertiesNotified)
	fmt.Fprintf(w, "  Passed review          : \033[1m%d\033[0m\n", r.Stats.PropertiesPassed)
	fmt.Fprintf(w, "  New in last 7 days     : \033[1m%d\033[0m\n", r.Stats.LastSevenDays)
	fmt.Fprintf(w, "  Price drops (7 days)   : \033[1m%d\033[0m\n", r.Stats.PriceDropsLastSevenDays)
	fmt.Fprintln(w)

	// Price drops
	fmt.Fprintf(w, "\033[1;33m  Biggest Price Drops\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopDrops) == 0 {
		fmt.Fprintf(w, "  No recent price drops\n")
	} else {
		for i, d := range r.TopDrops {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-34s %s → %s \033[1;32m(-%.1f%%)\033[0m\n",
				i+1, truncate(d.Address, 32), dollars(d.OldPrice), dollars(d.NewPrice), d.DropPercent)
		}
	}
	fmt.Fprintln(w)

	// Recent
	fmt.Fprintf(w, "\033[1;33m  Seen in the last %d days\033[0m\n", r.WindowDays)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Recent) == 0 {
		fmt.Fprintf(w, "  Nothing new\n")
	} else {
		for _, p := range r.Recent {
			mark := " "
			if p.NotifiedAt != nil {
				mark = "✉"
			}
			fmt.Fprintf(w, "  %s %-36s %-14s %s\n",
				mark, truncate(p.Address, 34), truncate(p.City, 14), dollars(p.Price))
		}
	}
	fmt.Fprintln(w)

	// By city
	fmt.Fprintf(w, "\033[1;33m  Properties by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Stats.ByCity) == 0 {
		fmt.Fprintf(w, "  No city data\n")
	} else {
		// Sort cities by count descending
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.Stats.ByCity {
			if city != "" {
				cities = append(cities, cityCount{city, cnt})
			}
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count != cities[j].count {
				return cities[i].count > cities[j].count
			}
			return cities[i].city < cities[j].city
		})
		for _, cc := range cities {
			bar := strings.Repeat("█", cc.count)
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(cc.city, 28), bar, cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
