package storage

import (
	"time"

	"house-hunter/models"
)

// PropertyLedger is the surface the workflow needs from the ledger.
type PropertyLedger interface {
	HasBeenSeen(propertyID string) bool
	HasBeenNotified(propertyID string) bool
	NotifiedSince(propertyID, channel string, since time.Time) bool
	UpsertObservation(p *models.PropertyData, review *models.ReviewResult) error
	MarkNotified(propertyID, channel string, success bool, errorMessage string) error
	LogNotification(propertyID, channel string, success bool, errorMessage string) error
	PropertiesWithPriceDrops(minDropPercent float64) []models.PriceDropRecord
	MarketInsights(p *models.PropertyData) models.MarketInsights
	CleanupOldEntries(retentionDays int) (int64, error)
}

// SnapshotWriter persists the properties observed during one run.
type SnapshotWriter interface {
	WriteSnapshot(runID string, properties []*models.PropertyData) error
	Close() error
}

var (
	_ PropertyLedger = (*Ledger)(nil)
	_ SnapshotWriter = (*CSVWriter)(nil)
)
