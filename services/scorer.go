package services

import (
	"math"
	"strings"

	"house-hunter/config"
	"house-hunter/models"
	"house-hunter/utils"
)

const (
	baseScore = 100.0

	finishedBasementBonus = 10.0
	noPoolBonus           = 5.0
	modernBuildBonus      = 5.0
	largeHomeBonus        = 3.0
	belowMarketBonus      = 10.0

	modernBuildYear    = 2000
	largeHomeSqft      = 1500
	belowMarketPercent = 5.0

	// overMaxFallbackPenalty applies to "above maximum" when the price is unknown.
	overMaxFallbackPenalty = 15.0
	overMaxPenaltyCap      = 20.0
)

// PenaltyRule deducts a penalty from a candidate whose rejection reason
// contains any of Patterns (case-insensitive).
type PenaltyRule struct {
	Patterns []string
	Penalty  func(p *models.PropertyData) float64
}

// Matches reports whether reason contains one of the rule's patterns.
func (r PenaltyRule) Matches(reason string) bool {
	lower := strings.ToLower(reason)
	for _, pattern := range r.Patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// PenaltyRules is an ordered rule table; the first rule matching a reason
// decides its penalty.
type PenaltyRules []PenaltyRule

// PenaltyFor returns the penalty for a single rejection reason, zero when no
// rule matches.
func (rules PenaltyRules) PenaltyFor(reason string, p *models.PropertyData) float64 {
	for _, rule := range rules {
		if rule.Matches(reason) {
			return rule.Penalty(p)
		}
	}
	return 0
}

// DefaultPenaltyRules is the dealbreaker table, worst first.
func DefaultPenaltyRules(maxPrice int) PenaltyRules {
	return PenaltyRules{
		{Patterns: []string{"pool"}, Penalty: fixedPenalty(50)},
		{Patterns: []string{"cleveland", "parma"}, Penalty: fixedPenalty(40)},
		{Patterns: []string{"100 years old", "century"}, Penalty: fixedPenalty(35)},
		{Patterns: []string{"not single-family"}, Penalty: fixedPenalty(30)},
		{Patterns: []string{"unfinished basement"}, Penalty: fixedPenalty(25)},
		{Patterns: []string{"above maximum"}, Penalty: overMaxPenalty(maxPrice)},
		{Patterns: []string{"below minimum"}, Penalty: fixedPenalty(10)},
	}
}

func fixedPenalty(v float64) func(*models.PropertyData) float64 {
	return func(*models.PropertyData) float64 { return v }
}

// overMaxPenalty charges two points per $10k over the maximum, capped at 20.
func overMaxPenalty(maxPrice int) func(*models.PropertyData) float64 {
	return func(p *models.PropertyData) float64 {
		if p == nil || p.Price <= 0 {
			return overMaxFallbackPenalty
		}
		overage := p.Price - maxPrice
		if overage <= 0 {
			return 0
		}
		return math.Min(overMaxPenaltyCap, float64(overage)/10000*2)
	}
}

// Candidate pairs a scraped property with its review.
type Candidate struct {
	Property *models.PropertyData
	Review   *models.ReviewResult
}

// ClosestMiss is the best rejected candidate of a run.
type ClosestMiss struct {
	Candidate
	Score    float64
	Insights models.MarketInsights
}

// MarketLookup is what the scorer needs from the ledger.
type MarketLookup interface {
	HasBeenNotified(propertyID string) bool
	MarketInsights(p *models.PropertyData) models.MarketInsights
}

// MissScorer ranks rejected candidates so that the least bad one can be
// reported when nothing passes review.
type MissScorer struct {
	rules  PenaltyRules
	logger *utils.Logger
}

// NewMissScorer builds a scorer with the default rule table for policy.
func NewMissScorer(policy config.Policy, logger *utils.Logger) *MissScorer {
	return NewMissScorerWithRules(DefaultPenaltyRules(policy.MaxPrice), logger)
}

// NewMissScorerWithRules builds a scorer with a custom rule table.
func NewMissScorerWithRules(rules PenaltyRules, logger *utils.Logger) *MissScorer {
	return &MissScorer{rules: rules, logger: logger}
}

// Score starts at 100, subtracts one penalty per rejection reason and adds
// bonuses for desirable features.
func (s *MissScorer) Score(p *models.PropertyData, review *models.ReviewResult, insights models.MarketInsights) float64 {
	score := baseScore

	if review != nil {
		for _, reason := range review.Reasons {
			score -= s.rules.PenaltyFor(reason, p)
		}
	}

	if p != nil {
		if models.IsTrue(p.BasementFinished) {
			score += finishedBasementBonus
		}
		if !models.IsTrue(p.HasPool) {
			score += noPoolBonus
		}
		if p.YearBuilt >= modernBuildYear {
			score += modernBuildBonus
		}
		if p.Sqft >= largeHomeSqft {
			score += largeHomeBonus
		}
	}

	if insights.BelowAverageBy(belowMarketPercent) {
		score += belowMarketBonus
	}

	return score
}

// SelectClosestMiss returns the highest scoring rejected candidate that has
// not been notified yet. On equal scores the earlier candidate wins. It
// returns nil when no candidate qualifies.
func (s *MissScorer) SelectClosestMiss(candidates []Candidate, lookup MarketLookup) *ClosestMiss {
	var best *ClosestMiss

	for _, c := range candidates {
		if c.Property == nil || c.Review == nil || c.Review.Passes {
			continue
		}

		if lookup.HasBeenNotified(c.Property.PropertyID) {
			s.logger.Info("[scorer] Skipping already notified property: %s", c.Property.Address)
			continue
		}

		insights := lookup.MarketInsights(c.Property)
		score := s.Score(c.Property, c.Review, insights)

		if best == nil || score > best.Score {
			best = &ClosestMiss{Candidate: c, Score: score, Insights: insights}
			s.logger.Debug("[scorer] New closest match: %s (score: %.2f)", c.Property.Address, score)
		}
	}

	return best
}
