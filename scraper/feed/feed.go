// Package feed reads scraped listings from a JSON file dropped by the
// listing collector.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"house-hunter/models"
	"house-hunter/utils"
)

// FileFeed lists properties from a JSON array on disk.
type FileFeed struct {
	path   string
	logger *utils.Logger
	now    func() time.Time
}

// New creates a FileFeed reading path.
func New(path string, logger *utils.Logger) *FileFeed {
	return &FileFeed{path: path, logger: logger, now: time.Now}
}

// List returns every record in the feed. Records that are not JSON objects
// are skipped with a warning; a missing or unreadable file is an error.
func (f *FileFeed) List(ctx context.Context) ([]*models.RawProperty, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", f.path, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("feed: decode %s: %w", f.path, err)
	}

	scrapedAt := f.now().UTC()
	result := make([]*models.RawProperty, 0, len(records))
	for i, rec := range records {
		var p models.RawProperty
		if err := json.Unmarshal(rec, &p); err != nil {
			f.logger.Warn("[feed] Skipping record %d: %v", i, err)
			continue
		}
		p.Raw = rec
		p.ScrapedAt = scrapedAt
		result = append(result, &p)
	}

	f.logger.Info("[feed] Loaded %d properties from %s", len(result), f.path)
	return result, nil
}
