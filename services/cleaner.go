package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"house-hunter/models"
	"house-hunter/utils"
)

var (
	// numberRegexp captures the first numeric value, commas included
	numberRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// suffixRegexp captures a "325k" or "1.2m" abbreviation, only on the first number
	suffixRegexp = regexp.MustCompile(`^\D*?(\d[\d,]*(?:\.\d+)?)\s*([km])\b`)
)

// Cleaner transforms raw feed records into validated PropertyData.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean drops records without an id, keeps the first record per id and
// normalises text and numeric fields.
func (c *Cleaner) Clean(raw []*models.RawProperty) []*models.PropertyData {
	seen := utils.NewIDSet()
	result := make([]*models.PropertyData, 0, len(raw))

	for _, r := range raw {
		id := strings.TrimSpace(r.PropertyID)
		if id == "" {
			c.logger.Warn("[cleaner] Dropping property with empty id: %s", r.Address)
			continue
		}

		if !seen.Add(id) {
			c.logger.Debug("[cleaner] Duplicate property skipped: %s", id)
			continue
		}

		price := c.parsePrice(string(r.RawPrice))
		if price == 0 {
			price = c.parsePrice(string(r.RawListPrice))
		}

		p := &models.PropertyData{
			PropertyID:       id,
			Address:          normaliseText(r.Address),
			City:             normaliseText(r.City),
			State:            strings.ToUpper(normaliseText(r.State)),
			ZipCode:          normaliseText(r.ZipCode),
			Price:            price,
			Beds:             nonNegative(r.Beds),
			Baths:            max(r.Baths, 0),
			Sqft:             c.parseSqft(string(r.RawSqft)),
			YearBuilt:        nonNegative(r.YearBuilt),
			LotSize:          nonNegative(r.LotSize),
			PropertyType:     normaliseText(r.PropertyType),
			Description:      normaliseText(r.Description),
			ListingURL:       strings.TrimSpace(r.ListingURL),
			PhotoURL:         strings.TrimSpace(r.PhotoURL),
			HasBasement:      r.HasBasement,
			BasementFinished: r.BasementFinished,
			HasPool:          r.HasPool,
			HasBathtub:       r.HasBathtub,
			RawData:          r.Raw,
		}

		result = append(result, p)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d properties (%d unique ids, dropped %d)",
		len(raw), len(result), seen.Size(), len(raw)-len(result))
	return result
}

// parsePrice extracts a whole-dollar price.
// Examples:
//
//	"$325,000"  → 325000
//	"325000"    → 325000
//	"$325K"     → 325000
//	"$1.2M"     → 1200000
//	"$349,900 (was $359k)" → 349900
//	"Contact agent" → 0
func (c *Cleaner) parsePrice(raw string) int {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0
	}

	if m := suffixRegexp.FindStringSubmatch(raw); len(m) == 3 {
		val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil {
			mult := 1000.0
			if m[2] == "m" {
				mult = 1000000
			}
			c.logger.Debug("[cleaner] Abbreviated price detected: %q", raw)
			return int(val*mult + 0.5)
		}
	}

	return parseWhole(raw)
}

// parseSqft extracts living area from values like "1,850 sqft".
func (c *Cleaner) parseSqft(raw string) int {
	return parseWhole(strings.ToLower(raw))
}

func parseWhole(raw string) int {
	match := numberRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	val, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || val < 0 {
		return 0
	}
	return int(val + 0.5)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
