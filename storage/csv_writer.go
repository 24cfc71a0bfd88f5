package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"house-hunter/models"
)

// CSVWriter appends observed properties to a CSV file, one row per property
// per run, keeping the raw payload verbatim. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	now    func() time.Time
}

var snapshotHeader = []string{
	"run_id", "observed_at", "property_id", "address", "city", "state", "zip_code",
	"price", "beds", "baths", "sqft", "year_built", "property_type", "listing_url", "raw_data",
}

// NewCSVWriter opens (or creates) the CSV file at the given path, writing
// the header row when the file is new. Intermediate directories are created
// automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(snapshotHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w, now: time.Now}, nil
}

// WriteSnapshot appends one row per property for the given run.
func (c *CSVWriter) WriteSnapshot(runID string, properties []*models.PropertyData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	observedAt := c.now().UTC().Format(time.RFC3339)
	for _, p := range properties {
		row := []string{
			runID,
			observedAt,
			p.PropertyID,
			p.Address,
			p.City,
			p.State,
			p.ZipCode,
			strconv.Itoa(p.Price),
			strconv.Itoa(p.Beds),
			strconv.FormatFloat(p.Baths, 'f', -1, 64),
			strconv.Itoa(p.Sqft),
			strconv.Itoa(p.YearBuilt),
			p.PropertyType,
			p.ListingURL,
			string(p.RawData),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
