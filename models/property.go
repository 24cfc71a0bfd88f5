package models

import (
	"encoding/json"
	"time"
)

// PropertyData is one scraped listing as handed over by the listing source.
// Zero numeric values mean the source did not report the field.
type PropertyData struct {
	PropertyID       string          `json:"property_id" validate:"required"`
	Address          string          `json:"address"`
	City             string          `json:"city"`
	State            string          `json:"state"`
	ZipCode          string          `json:"zip_code"`
	Price            int             `json:"price" validate:"gte=0"`
	Beds             int             `json:"beds,omitempty" validate:"gte=0"`
	Baths            float64         `json:"baths,omitempty" validate:"gte=0"`
	Sqft             int             `json:"sqft,omitempty" validate:"gte=0"`
	YearBuilt        int             `json:"year_built,omitempty" validate:"gte=0"`
	LotSize          int             `json:"lot_size,omitempty"`
	PropertyType     string          `json:"property_type"`
	Description      string          `json:"description,omitempty"`
	ListingURL       string          `json:"listing_url,omitempty"`
	PhotoURL         string          `json:"photo_url,omitempty"`
	HasBasement      *bool           `json:"has_basement,omitempty"`
	BasementFinished *bool           `json:"basement_finished,omitempty"`
	HasPool          *bool           `json:"has_pool,omitempty"`
	HasBathtub       *bool           `json:"has_bathtub,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

// ReviewResult is the verdict of a reviewer for a single property.
type ReviewResult struct {
	PropertyID      string    `json:"property_id"`
	Passes          bool      `json:"passes"`
	Reasons         []string  `json:"reasons"`
	Concerns        []string  `json:"concerns"`
	MissingInfo     []string  `json:"missing_info"`
	ReviewTimestamp time.Time `json:"review_timestamp"`
}

// Bool returns a pointer to b, for populating the tri-state flags.
func Bool(b bool) *bool {
	return &b
}

// IsTrue reports whether a tri-state flag is set and true.
func IsTrue(b *bool) bool {
	return b != nil && *b
}
