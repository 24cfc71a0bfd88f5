package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// LooseString accepts a JSON string, number or null. Listing feeds are not
// consistent about quoting numeric fields ("$325,000" vs 325000).
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = LooseString(str)
		return nil
	}
	*s = LooseString(data)
	return nil
}

// RawProperty is a listing exactly as read from the feed, before cleaning.
type RawProperty struct {
	PropertyID       string      `json:"property_id"`
	Address          string      `json:"address"`
	City             string      `json:"city"`
	State            string      `json:"state"`
	ZipCode          string      `json:"zip_code"`
	RawPrice         LooseString `json:"price"`
	RawListPrice     LooseString `json:"list_price"`
	Beds             int         `json:"beds"`
	Baths            float64     `json:"baths"`
	RawSqft          LooseString `json:"sqft"`
	YearBuilt        int         `json:"year_built"`
	LotSize          int         `json:"lot_size"`
	PropertyType     string      `json:"property_type"`
	Description      string      `json:"description"`
	ListingURL       string      `json:"listing_url"`
	PhotoURL         string      `json:"photo_url"`
	HasBasement      *bool       `json:"has_basement"`
	BasementFinished *bool       `json:"basement_finished"`
	HasPool          *bool       `json:"has_pool"`
	HasBathtub       *bool       `json:"has_bathtub"`

	// Raw is the untouched record, kept as the property's payload.
	Raw       json.RawMessage `json:"-"`
	ScrapedAt time.Time       `json:"-"`
}
