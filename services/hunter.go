package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"house-hunter/config"
	"house-hunter/models"
	"house-hunter/notify"
	"house-hunter/storage"
	"house-hunter/utils"
)

// maxErrorDetails caps how many failures are spelled out in the error summary.
const maxErrorDetails = 3

// Lister fetches the current batch of scraped listings.
type Lister interface {
	List(ctx context.Context) ([]*models.RawProperty, error)
}

// RunError records a failed workflow step.
type RunError struct {
	Stage string
	Err   error
}

func (e RunError) String() string {
	return e.Stage + ": " + e.Err.Error()
}

// RunResult summarises one pass of the workflow.
type RunResult struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	TestMode    bool

	Found           int
	Passed          []string
	Notified        []string
	ClosestMiss     *ClosestMiss
	PriceDropAlerts int
	Errors          []RunError
}

func (r *RunResult) addError(stage string, err error) {
	r.Errors = append(r.Errors, RunError{Stage: stage, Err: err})
}

// Hunter runs the list, clean, review, record and notify workflow.
type Hunter struct {
	lister   Lister
	cleaner  *Cleaner
	reviewer Reviewer
	scorer   *MissScorer
	ledger   storage.PropertyLedger
	snapshot storage.SnapshotWriter
	notifier notify.Notifier

	policy         config.Policy
	maxConcurrency int
	rateLimitMs    int
	logger         *utils.Logger
}

// NewHunter wires the workflow. The snapshot writer is optional.
func NewHunter(
	cfg *config.Config,
	lister Lister,
	reviewer Reviewer,
	ledger storage.PropertyLedger,
	snapshot storage.SnapshotWriter,
	notifier notify.Notifier,
	logger *utils.Logger,
) *Hunter {
	return &Hunter{
		lister:         lister,
		cleaner:        NewCleaner(logger),
		reviewer:       reviewer,
		scorer:         NewMissScorer(cfg.Policy, logger),
		ledger:         ledger,
		snapshot:       snapshot,
		notifier:       notifier,
		policy:         cfg.Policy,
		maxConcurrency: cfg.MaxConcurrency,
		rateLimitMs:    cfg.RateLimitMs,
		logger:         logger,
	}
}

// Run executes one pass. In test mode everything is recorded but no
// notification is sent.
func (h *Hunter) Run(ctx context.Context, testMode bool) *RunResult {
	res := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		TestMode:  testMode,
	}
	h.logger.Info("[hunter] Run %s starting (test mode: %t)", res.RunID, testMode)

	raw, err := h.lister.List(ctx)
	if err != nil {
		h.logger.Error("[hunter] Listing failed: %v", err)
		res.addError("list", err)
	}

	properties := h.cleaner.Clean(raw)
	res.Found = len(properties)

	reviews := h.review(ctx, properties, res)
	h.record(properties, reviews, res)

	if testMode {
		h.logger.Info("[hunter] Notifications disabled, skipping")
	} else {
		h.notify(ctx, properties, reviews, res)
		h.alertPriceDrops(ctx, res)
		h.reportErrors(ctx, res)
	}

	res.CompletedAt = time.Now().UTC()
	h.logger.Info("[hunter] Run %s done: %d found, %d passed, %d notified, %d price drop alerts, %d errors",
		res.RunID, res.Found, len(res.Passed), len(res.Notified), res.PriceDropAlerts, len(res.Errors))
	return res
}

// review runs the reviewer over every property on the worker pool. A review
// that fails is replaced by a rejection carrying the failure as its reason.
func (h *Hunter) review(ctx context.Context, properties []*models.PropertyData, res *RunResult) []*models.ReviewResult {
	reviews := make([]*models.ReviewResult, len(properties))
	pool := utils.NewWorkerPool(h.maxConcurrency, h.rateLimitMs)

	var mu sync.Mutex
	for i, p := range properties {
		pool.Submit(func() {
			review, err := h.reviewer.Review(ctx, p)
			if err != nil || review == nil {
				if err == nil {
					err = fmt.Errorf("reviewer returned no result")
				}
				h.logger.Warn("[hunter] Review of %s failed: %v", p.PropertyID, err)
				mu.Lock()
				res.addError("review", fmt.Errorf("%s: %w", p.PropertyID, err))
				mu.Unlock()
				review = &models.ReviewResult{
					PropertyID:      p.PropertyID,
					Reasons:         []string{"Review failed: " + err.Error()},
					Concerns:        []string{},
					MissingInfo:     []string{},
					ReviewTimestamp: time.Now().UTC(),
				}
			}
			reviews[i] = review
		})
	}
	pool.Wait()

	for i, r := range reviews {
		if r.Passes {
			res.Passed = append(res.Passed, properties[i].PropertyID)
		}
	}
	h.logger.Info("[hunter] Reviewed %d properties, %d passed", len(properties), len(res.Passed))
	return reviews
}

// record writes one observation per property.
func (h *Hunter) record(properties []*models.PropertyData, reviews []*models.ReviewResult, res *RunResult) {
	for i, p := range properties {
		if err := h.ledger.UpsertObservation(p, reviews[i]); err != nil {
			h.logger.Error("[hunter] Failed to record %s: %v", p.PropertyID, err)
			res.addError("ledger", err)
		}
	}

	if h.snapshot == nil || len(properties) == 0 {
		return
	}
	if err := h.snapshot.WriteSnapshot(res.RunID, properties); err != nil {
		h.logger.Error("[hunter] Snapshot write failed: %v", err)
		res.addError("snapshot", err)
	}
}

// notify alerts on every passing property not notified before. When nothing
// passed, the closest miss is surfaced instead.
func (h *Hunter) notify(ctx context.Context, properties []*models.PropertyData, reviews []*models.ReviewResult, res *RunResult) {
	if len(res.Passed) == 0 {
		if len(properties) > 0 {
			h.notifyClosestMiss(ctx, properties, reviews, res)
		}
		return
	}

	for i, p := range properties {
		review := reviews[i]
		if !review.Passes {
			continue
		}
		if h.ledger.HasBeenNotified(p.PropertyID) {
			h.logger.Debug("[hunter] Already notified: %s", p.PropertyID)
			continue
		}

		insights := h.ledger.MarketInsights(p)
		err := h.notifier.NotifyMatch(ctx, p, review, insights)
		if h.settle(p.PropertyID, notify.ChannelMatch, err, res) {
			res.Notified = append(res.Notified, p.PropertyID)
		}
	}
	h.logger.Info("[hunter] Sent %d notifications", len(res.Notified))
}

func (h *Hunter) notifyClosestMiss(ctx context.Context, properties []*models.PropertyData, reviews []*models.ReviewResult, res *RunResult) {
	h.logger.Info("[hunter] No properties passed review, finding closest match")

	candidates := make([]Candidate, len(properties))
	for i, p := range properties {
		candidates[i] = Candidate{Property: p, Review: reviews[i]}
	}

	miss := h.scorer.SelectClosestMiss(candidates, h.ledger)
	if miss == nil {
		h.logger.Info("[hunter] No new properties to report, skipping notification")
		return
	}

	res.ClosestMiss = miss
	err := h.notifier.NotifyClosestMiss(ctx, miss.Property, miss.Review, miss.Score, len(properties))
	if h.settle(miss.Property.PropertyID, notify.ChannelClosestMiss, err, res) {
		res.Notified = append(res.Notified, miss.Property.PropertyID)
	}
}

// settle records the outcome of a delivery. A success stamps the property as
// notified; a failure is only logged so the next run tries again.
func (h *Hunter) settle(propertyID, channel string, sendErr error, res *RunResult) bool {
	if sendErr != nil {
		h.logger.Error("[hunter] %s notification for %s failed: %v", channel, propertyID, sendErr)
		res.addError("notify", sendErr)
		if err := h.ledger.LogNotification(propertyID, channel, false, sendErr.Error()); err != nil {
			res.addError("ledger", err)
		}
		return false
	}

	if err := h.ledger.MarkNotified(propertyID, channel, true, ""); err != nil {
		h.logger.Error("[hunter] Failed to mark %s as notified: %v", propertyID, err)
		res.addError("ledger", err)
	}
	return true
}

// alertPriceDrops sends one alert per drop for properties that were never
// notified as a match.
func (h *Hunter) alertPriceDrops(ctx context.Context, res *RunResult) {
	h.logger.Info("[hunter] Checking for price drops...")

	for _, drop := range h.ledger.PropertiesWithPriceDrops(h.policy.DropThresholdPercent) {
		id := drop.PropertyID
		if h.ledger.HasBeenNotified(id) {
			continue
		}
		if h.ledger.NotifiedSince(id, notify.ChannelPriceDrop, drop.DropDate) {
			h.logger.Debug("[hunter] Price drop for %s already alerted", id)
			continue
		}

		sendErr := h.notifier.NotifyPriceDrop(ctx, drop)
		errMsg := ""
		if sendErr != nil {
			h.logger.Error("[hunter] Price drop alert for %s failed: %v", id, sendErr)
			res.addError("notify", sendErr)
			errMsg = sendErr.Error()
		} else {
			res.PriceDropAlerts++
		}
		if err := h.ledger.LogNotification(id, notify.ChannelPriceDrop, sendErr == nil, errMsg); err != nil {
			res.addError("ledger", err)
		}
	}

	h.logger.Info("[hunter] Sent %d price drop notifications", res.PriceDropAlerts)
}

func (h *Hunter) reportErrors(ctx context.Context, res *RunResult) {
	if len(res.Errors) == 0 {
		return
	}

	summary := fmt.Sprintf("%d error(s) occurred during workflow", len(res.Errors))
	lines := make([]string, 0, maxErrorDetails)
	for i, e := range res.Errors {
		if i == maxErrorDetails {
			break
		}
		lines = append(lines, e.String())
	}

	if err := h.notifier.NotifyError(ctx, summary, strings.Join(lines, "\n")); err != nil {
		h.logger.Error("[hunter] Failed to send error notification: %v", err)
	}
}
