package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"house-hunter/config"
	"house-hunter/models"
	"house-hunter/utils"
)

// maxAgeYears is the age beyond which a house is rejected outright.
const maxAgeYears = 100

// Reviewer decides whether a property is worth reporting.
type Reviewer interface {
	Review(ctx context.Context, p *models.PropertyData) (*models.ReviewResult, error)
}

// RuleReviewer applies the cheap, deterministic checks: price bounds,
// excluded cities, age, property type and pools.
type RuleReviewer struct {
	minPrice    int
	maxPrice    int
	avoidCities []string
	logger      *utils.Logger
	now         func() time.Time
}

// NewRuleReviewer creates a RuleReviewer from the configured policy.
func NewRuleReviewer(policy config.Policy, avoidCities []string, logger *utils.Logger) *RuleReviewer {
	return &RuleReviewer{
		minPrice:    policy.MinPrice,
		maxPrice:    policy.MaxPrice,
		avoidCities: avoidCities,
		logger:      logger,
		now:         time.Now,
	}
}

// Review returns a failing result with one reason per violated rule, or a
// passing one when nothing is wrong. A missing price is not a rejection.
func (r *RuleReviewer) Review(ctx context.Context, p *models.PropertyData) (*models.ReviewResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reasons, missing []string

	switch {
	case p.Price <= 0:
		missing = append(missing, "Price information missing")
	case p.Price < r.minPrice:
		reasons = append(reasons, fmt.Sprintf("Price %s is below minimum %s", dollars(p.Price), dollars(r.minPrice)))
	case p.Price > r.maxPrice:
		reasons = append(reasons, fmt.Sprintf("Price %s is above maximum %s", dollars(p.Price), dollars(r.maxPrice)))
	}

	if city := strings.TrimSpace(p.City); city != "" && r.avoided(city) {
		reasons = append(reasons, fmt.Sprintf("Located in %s (excluded area)", city))
	}

	if p.YearBuilt > 0 && p.YearBuilt < r.now().Year()-maxAgeYears {
		reasons = append(reasons, "Over 100 years old")
	}

	propType := strings.ToLower(strings.TrimSpace(p.PropertyType))
	if propType != "" && !strings.Contains(propType, "single") && !strings.Contains(propType, "house") {
		reasons = append(reasons, fmt.Sprintf("Property type is %s (not single-family)", propType))
	}

	if models.IsTrue(p.HasPool) {
		reasons = append(reasons, "Has a pool (dealbreaker)")
	}

	result := &models.ReviewResult{
		PropertyID:      p.PropertyID,
		Passes:          len(reasons) == 0,
		Reasons:         reasons,
		Concerns:        []string{},
		MissingInfo:     missing,
		ReviewTimestamp: r.now().UTC(),
	}
	if result.Reasons == nil {
		result.Reasons = []string{}
	}
	if result.MissingInfo == nil {
		result.MissingInfo = []string{}
	}

	if !result.Passes {
		r.logger.Debug("[reviewer] %s rejected: %s", p.PropertyID, strings.Join(reasons, "; "))
	}
	return result, nil
}

func (r *RuleReviewer) avoided(city string) bool {
	for _, c := range r.avoidCities {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}

var _ Reviewer = (*RuleReviewer)(nil)

// dollars formats whole dollars with thousands separators: 350000 -> $350,000.
func dollars(n int) string {
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	b.WriteByte('$')
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	return b.String()
}
