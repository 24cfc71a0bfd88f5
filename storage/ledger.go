package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"house-hunter/models"
	"house-hunter/utils"
)

const (
	day = 24 * time.Hour

	// priceDropWindow bounds how old the latest sample of a drop may be.
	priceDropWindow = 7 * day
)

var (
	validate = validator.New()

	errMalformedPayload = errors.New("malformed stored payload")
)

// DBExecutor lets helpers run against either *sql.DB or *sql.Tx.
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Ledger is the durable record of every property observed, its price history
// and its notification state. Reads never fail: storage errors are logged and
// a zero value is returned. Writes run in a single transaction each.
type Ledger struct {
	db      *sql.DB
	dialect dialect
	logger  *utils.Logger
	now     func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for every timestamp the ledger
// writes or compares against.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// OpenLedger connects to the configured backend, waits for it to answer and
// runs schema migrations.
func OpenLedger(ctx context.Context, driver, dsn string, logger *utils.Logger, maxRetries int, opts ...Option) (*Ledger, error) {
	if driver == "sqlite3" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("storage: create ledger dir: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: maxRetries, BaseDelay: 2 * time.Second, Logger: logger}
	if err := retry.Do(ctx, "ledger ping", db.Ping); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	if driver == "sqlite3" {
		// One writer at a time; also keeps :memory: databases on a single connection.
		db.SetMaxOpenConns(1)
	}

	l, err := NewLedger(db, driver, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("[ledger] Connected (%s)", driver)
	return l, nil
}

// NewLedger wraps an already opened database and migrates the schema.
func NewLedger(db *sql.DB, driver string, logger *utils.Logger, opts ...Option) (*Ledger, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		db:      db,
		dialect: d,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

// withTx runs fn inside a transaction, rolling back on any error.
func (l *Ledger) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.Begin()
	if err != nil {
		l.logger.Error("[ledger] %s: begin transaction: %v", op, err)
		return fmt.Errorf("storage: %s: begin: %w", op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		l.logger.Error("[ledger] %s failed, rolled back: %v", op, err)
		return fmt.Errorf("storage: %s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		l.logger.Error("[ledger] %s: commit: %v", op, err)
		return fmt.Errorf("storage: %s: commit: %w", op, err)
	}
	return nil
}

// HasBeenSeen reports whether a record exists for propertyID.
func (l *Ledger) HasBeenSeen(propertyID string) bool {
	return l.exists("has been seen",
		`SELECT 1 FROM seen_properties WHERE property_id = $1`, propertyID)
}

// HasBeenNotified reports whether propertyID exists and has been notified.
func (l *Ledger) HasBeenNotified(propertyID string) bool {
	return l.exists("has been notified",
		`SELECT 1 FROM seen_properties WHERE property_id = $1 AND notified_at IS NOT NULL`, propertyID)
}

// NotifiedSince reports whether a successful notification of the given
// channel was logged for propertyID at or after since.
func (l *Ledger) NotifiedSince(propertyID, channel string, since time.Time) bool {
	return l.exists("notified since", `
		SELECT 1 FROM notification_history
		WHERE property_id = $1 AND notification_type = $2 AND success = $3 AND sent_at >= $4
		LIMIT 1`,
		propertyID, channel, true, since.UTC())
}

func (l *Ledger) exists(op, query string, args ...interface{}) bool {
	var one int
	err := l.db.QueryRow(query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		l.logger.Error("[ledger] %s: %v", op, err)
		return false
	}
	return true
}

// RecordPriceSample appends a price sample for propertyID and returns the
// drop relative to the previous sample, if the price went down.
func (l *Ledger) RecordPriceSample(propertyID string, price int) (*models.PriceDrop, error) {
	var drop *models.PriceDrop
	err := l.withTx("record price sample", func(tx *sql.Tx) error {
		var err error
		drop, err = l.recordPriceSample(tx, propertyID, price, l.clock())
		return err
	})
	if err != nil {
		return nil, err
	}
	return drop, nil
}

func (l *Ledger) recordPriceSample(ex DBExecutor, propertyID string, price int, at time.Time) (*models.PriceDrop, error) {
	var previous int
	err := ex.QueryRow(`
		SELECT price FROM price_history
		WHERE property_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`, propertyID).Scan(&previous)
	hasPrevious := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read last price: %w", err)
	}

	if _, err := ex.Exec(
		`INSERT INTO price_history (property_id, price, recorded_at) VALUES ($1, $2, $3)`,
		propertyID, price, at,
	); err != nil {
		return nil, fmt.Errorf("insert price sample: %w", err)
	}

	if !hasPrevious {
		return nil, nil
	}
	drop := models.NewPriceDrop(previous, price)
	if drop != nil {
		l.logger.Info("[ledger] Price drop detected for %s: $%d -> $%d (-$%d, -%.1f%%)",
			propertyID, drop.OldPrice, drop.NewPrice, drop.DropAmount, drop.DropPercent)
	}
	return drop, nil
}

// UpsertObservation records one observation of a property: a price sample
// when a price is known, then either a new record or a refresh of last_seen
// and price on the existing one. A later review wins: a supplied review
// replaces the stored verdict and a nil review keeps it.
// notified_at and first_seen are never touched on update. Either everything
// is written or nothing is.
func (l *Ledger) UpsertObservation(p *models.PropertyData, review *models.ReviewResult) error {
	if p == nil {
		return errors.New("storage: upsert observation: nil property")
	}
	if err := validate.Struct(p); err != nil {
		l.logger.Warn("[ledger] Rejecting observation: %v", err)
		return fmt.Errorf("storage: upsert observation: %w", err)
	}

	var reviewJSON, reviewPasses interface{}
	if review != nil {
		b, err := json.Marshal(review)
		if err != nil {
			return fmt.Errorf("storage: encode review: %w", err)
		}
		reviewJSON = string(b)
		reviewPasses = review.Passes
	}

	var rawData interface{}
	if len(p.RawData) > 0 {
		rawData = string(p.RawData)
	}

	now := l.clock()
	err := l.withTx("upsert observation", func(tx *sql.Tx) error {
		if p.Price > 0 {
			if _, err := l.recordPriceSample(tx, p.PropertyID, p.Price, now); err != nil {
				return err
			}
		}

		_, err := tx.Exec(`
			INSERT INTO seen_properties (
				property_id, address, city, state, zip_code,
				price, beds, baths, sqft, year_built,
				first_seen, last_seen, review_result, review_passes, listing_url, raw_data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (property_id) DO UPDATE SET
				last_seen     = excluded.last_seen,
				price         = CASE WHEN excluded.price > 0 THEN excluded.price ELSE seen_properties.price END,
				review_result = COALESCE(excluded.review_result, seen_properties.review_result),
				review_passes = COALESCE(excluded.review_passes, seen_properties.review_passes)`,
			p.PropertyID, p.Address, p.City, p.State, p.ZipCode,
			p.Price, p.Beds, p.Baths, p.Sqft, p.YearBuilt,
			now, now, reviewJSON, reviewPasses, p.ListingURL, rawData,
		)
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Debug("[ledger] Observed property %s", p.PropertyID)
	return nil
}

// MarkNotified stamps notified_at (kept at its first value if already set)
// and appends a notification event.
func (l *Ledger) MarkNotified(propertyID, channel string, success bool, errorMessage string) error {
	now := l.clock()
	err := l.withTx("mark notified", func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE seen_properties SET notified_at = COALESCE(notified_at, $1) WHERE property_id = $2`,
			now, propertyID,
		); err != nil {
			return fmt.Errorf("stamp notified_at: %w", err)
		}
		return insertNotificationEvent(tx, propertyID, channel, success, errorMessage, now)
	})
	if err != nil {
		return err
	}

	l.logger.Info("[ledger] Marked property as notified: %s (%s, success=%t)", propertyID, channel, success)
	return nil
}

// LogNotification appends a notification event without changing the record.
func (l *Ledger) LogNotification(propertyID, channel string, success bool, errorMessage string) error {
	now := l.clock()
	return l.withTx("log notification", func(tx *sql.Tx) error {
		return insertNotificationEvent(tx, propertyID, channel, success, errorMessage, now)
	})
}

func insertNotificationEvent(ex DBExecutor, propertyID, channel string, success bool, errorMessage string, at time.Time) error {
	var errText interface{}
	if errorMessage != "" {
		errText = errorMessage
	}
	_, err := ex.Exec(`
		INSERT INTO notification_history (property_id, sent_at, notification_type, success, error_message)
		VALUES ($1, $2, $3, $4, $5)`,
		propertyID, at, channel, success, errText,
	)
	if err != nil {
		return fmt.Errorf("insert notification event: %w", err)
	}
	return nil
}

// NotificationEvents returns the audit log for propertyID, oldest first.
func (l *Ledger) NotificationEvents(propertyID string) []models.NotificationEvent {
	rows, err := l.db.Query(`
		SELECT id, property_id, sent_at, notification_type, success, error_message
		FROM notification_history
		WHERE property_id = $1
		ORDER BY sent_at, id`, propertyID)
	if err != nil {
		l.logger.Error("[ledger] notification events: %v", err)
		return nil
	}
	defer rows.Close()

	var events []models.NotificationEvent
	for rows.Next() {
		var e models.NotificationEvent
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.SentAt, &e.Channel, &e.Success, &errText); err != nil {
			l.logger.Error("[ledger] notification events: scan: %v", err)
			return nil
		}
		e.ErrorMessage = errText.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		l.logger.Error("[ledger] notification events: %v", err)
		return nil
	}
	return events
}

var recordColumns = []string{
	"id", "property_id", "address", "city", "state", "zip_code",
	"price", "beds", "baths", "sqft", "year_built",
	"first_seen", "last_seen", "notified_at",
	"review_result", "review_passes", "listing_url", "raw_data",
}

func columnList(alias string) string {
	if alias == "" {
		return strings.Join(recordColumns, ", ")
	}
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one seen_properties row followed by any extra columns.
// Stored JSON payloads are validated; a corrupt one yields errMalformedPayload.
func scanRecord(s rowScanner, extra ...interface{}) (models.PropertyRecord, error) {
	var (
		r            models.PropertyRecord
		notifiedAt   sql.NullTime
		reviewResult sql.NullString
		reviewPasses sql.NullBool
		rawData      sql.NullString
	)
	dest := []interface{}{
		&r.ID, &r.PropertyID, &r.Address, &r.City, &r.State, &r.ZipCode,
		&r.Price, &r.Beds, &r.Baths, &r.Sqft, &r.YearBuilt,
		&r.FirstSeen, &r.LastSeen, &notifiedAt,
		&reviewResult, &reviewPasses, &r.ListingURL, &rawData,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}

	if notifiedAt.Valid {
		t := notifiedAt.Time
		r.NotifiedAt = &t
	}
	if reviewPasses.Valid {
		b := reviewPasses.Bool
		r.ReviewPasses = &b
	}
	if reviewResult.Valid && reviewResult.String != "" {
		var review models.ReviewResult
		if err := json.Unmarshal([]byte(reviewResult.String), &review); err != nil {
			return r, fmt.Errorf("%w: review_result of %s: %v", errMalformedPayload, r.PropertyID, err)
		}
		r.Review = &review
	}
	if rawData.Valid && rawData.String != "" {
		if !json.Valid([]byte(rawData.String)) {
			return r, fmt.Errorf("%w: raw_data of %s", errMalformedPayload, r.PropertyID)
		}
		r.RawData = json.RawMessage(rawData.String)
	}
	return r, nil
}

// RecentProperties returns records first seen within the trailing window,
// newest first. Records with corrupt payloads are skipped and logged.
func (l *Ledger) RecentProperties(windowDays int, onlyNotified bool) []models.PropertyRecord {
	query := `SELECT ` + columnList("") + ` FROM seen_properties WHERE first_seen >= $1`
	if onlyNotified {
		query += ` AND notified_at IS NOT NULL`
	}
	query += ` ORDER BY first_seen DESC, id DESC`

	cutoff := l.clock().Add(-time.Duration(windowDays) * day)
	rows, err := l.db.Query(query, cutoff)
	if err != nil {
		l.logger.Error("[ledger] recent properties: %v", err)
		return nil
	}
	defer rows.Close()

	var out []models.PropertyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if errors.Is(err, errMalformedPayload) {
			l.logger.Warn("[ledger] Skipping record: %v", err)
			continue
		}
		if err != nil {
			l.logger.Error("[ledger] recent properties: scan: %v", err)
			return nil
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		l.logger.Error("[ledger] recent properties: %v", err)
		return nil
	}
	return out
}

// PropertiesWithPriceDrops returns properties whose latest sample, recorded
// within the last seven days, is lower than the sample immediately before it
// by at least minDropPercent. Only the most recent movement counts. Results
// are ordered by drop percentage, largest first.
func (l *Ledger) PropertiesWithPriceDrops(minDropPercent float64) []models.PriceDropRecord {
	cutoff := l.clock().Add(-priceDropWindow)
	rows, err := l.db.Query(`
		SELECT `+columnList("sp")+`, prior.price, latest.price, latest.recorded_at
		FROM seen_properties sp
		JOIN price_history latest ON latest.property_id = sp.property_id
			AND latest.recorded_at = (
				SELECT MAX(h.recorded_at) FROM price_history h
				WHERE h.property_id = sp.property_id
			)
		JOIN price_history prior ON prior.property_id = sp.property_id
			AND prior.recorded_at = (
				SELECT MAX(h.recorded_at) FROM price_history h
				WHERE h.property_id = sp.property_id AND h.recorded_at < latest.recorded_at
			)
		WHERE latest.recorded_at >= $1 AND latest.price < prior.price
		ORDER BY sp.property_id, latest.id DESC, prior.id DESC`, cutoff)
	if err != nil {
		l.logger.Error("[ledger] price drops: %v", err)
		return nil
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var out []models.PriceDropRecord
	for rows.Next() {
		var oldPrice, newPrice int
		var dropDate time.Time
		r, err := scanRecord(rows, &oldPrice, &newPrice, &dropDate)
		if errors.Is(err, errMalformedPayload) {
			l.logger.Warn("[ledger] Skipping record: %v", err)
			continue
		}
		if err != nil {
			l.logger.Error("[ledger] price drops: scan: %v", err)
			return nil
		}

		// Samples sharing a timestamp produce duplicate rows; the highest ids win.
		if _, dup := seen[r.PropertyID]; dup {
			continue
		}
		seen[r.PropertyID] = struct{}{}

		drop := models.NewPriceDrop(oldPrice, newPrice)
		if drop == nil || drop.DropPercent < minDropPercent {
			continue
		}
		out = append(out, models.PriceDropRecord{
			PropertyRecord: r,
			PriceDrop:      *drop,
			DropDate:       dropDate,
		})
	}
	if err := rows.Err(); err != nil {
		l.logger.Error("[ledger] price drops: %v", err)
		return nil
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DropPercent > out[j].DropPercent
	})
	return out
}

// DaysOnMarket returns whole days since propertyID was first seen, or nil
// when the property is unknown.
func (l *Ledger) DaysOnMarket(propertyID string) *int {
	var firstSeen time.Time
	err := l.db.QueryRow(
		`SELECT first_seen FROM seen_properties WHERE property_id = $1`, propertyID,
	).Scan(&firstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		l.logger.Error("[ledger] days on market: %v", err)
		return nil
	}
	days := wholeDays(l.clock().Sub(firstSeen))
	return &days
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / day)
}

// CleanupOldEntries deletes records first seen more than retentionDays ago
// that were never notified, together with their price history. Notified
// records are kept forever.
func (l *Ledger) CleanupOldEntries(retentionDays int) (int64, error) {
	cutoff := l.clock().Add(-time.Duration(retentionDays) * day)

	var deleted int64
	err := l.withTx("cleanup old entries", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM price_history WHERE property_id IN (
				SELECT property_id FROM seen_properties
				WHERE first_seen < $1 AND notified_at IS NULL
			)`, cutoff); err != nil {
			return fmt.Errorf("delete price history: %w", err)
		}

		res, err := tx.Exec(
			`DELETE FROM seen_properties WHERE first_seen < $1 AND notified_at IS NULL`, cutoff)
		if err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("[ledger] Cleaned up %d old entries", deleted)
	return deleted, nil
}
