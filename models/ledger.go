package models

import (
	"encoding/json"
	"time"
)

// PropertyRecord is the ledger's persisted view of one listing.
type PropertyRecord struct {
	ID           int64
	PropertyID   string
	Address      string
	City         string
	State        string
	ZipCode      string
	Price        int
	Beds         int
	Baths        float64
	Sqft         int
	YearBuilt    int
	FirstSeen    time.Time
	LastSeen     time.Time
	NotifiedAt   *time.Time
	Review       *ReviewResult
	ReviewPasses *bool
	ListingURL   string
	RawData      json.RawMessage
}

// PriceDrop describes a price decrease between two consecutive samples.
type PriceDrop struct {
	OldPrice    int
	NewPrice    int
	DropAmount  int
	DropPercent float64
}

// NewPriceDrop returns a PriceDrop when newPrice is strictly lower than a
// positive oldPrice, nil otherwise.
func NewPriceDrop(oldPrice, newPrice int) *PriceDrop {
	if oldPrice <= 0 || newPrice >= oldPrice {
		return nil
	}
	amount := oldPrice - newPrice
	return &PriceDrop{
		OldPrice:    oldPrice,
		NewPrice:    newPrice,
		DropAmount:  amount,
		DropPercent: float64(amount) / float64(oldPrice) * 100,
	}
}

// PriceDropRecord is a property whose most recent price movement was a drop.
type PriceDropRecord struct {
	PropertyRecord
	PriceDrop
	DropDate time.Time
}

// NotificationEvent is one row of the notification audit log.
type NotificationEvent struct {
	ID           int64
	PropertyID   string
	SentAt       time.Time
	Channel      string
	Success      bool
	ErrorMessage string
}

// Statistics summarises the ledger contents.
type Statistics struct {
	TotalProperties         int
	PropertiesNotified      int
	PropertiesPassed        int
	ByCity                  map[string]int
	LastSevenDays           int
	PriceDropsLastSevenDays int
}

// InsightReport is what the statistics report prints.
type InsightReport struct {
	Stats      Statistics
	TopDrops   []PriceDropRecord
	Recent     []PropertyRecord
	WindowDays int
}
