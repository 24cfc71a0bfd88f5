package storage

import "fmt"

// dialect captures the DDL differences between the supported backends.
// Queries use $N placeholders in ascending order, which both lib/pq and
// go-sqlite3 bind positionally.
type dialect struct {
	name   string
	schema []string
}

var sqliteDialect = dialect{
	name: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS seen_properties (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id   TEXT      UNIQUE NOT NULL,
			address       TEXT      NOT NULL DEFAULT '',
			city          TEXT      NOT NULL DEFAULT '',
			state         TEXT      NOT NULL DEFAULT '',
			zip_code      TEXT      NOT NULL DEFAULT '',
			price         INTEGER   NOT NULL DEFAULT 0,
			beds          INTEGER   NOT NULL DEFAULT 0,
			baths         REAL      NOT NULL DEFAULT 0,
			sqft          INTEGER   NOT NULL DEFAULT 0,
			year_built    INTEGER   NOT NULL DEFAULT 0,
			first_seen    TIMESTAMP NOT NULL,
			last_seen     TIMESTAMP NOT NULL,
			notified_at   TIMESTAMP,
			review_result TEXT,
			review_passes BOOLEAN,
			listing_url   TEXT      NOT NULL DEFAULT '',
			raw_data      TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id TEXT      NOT NULL,
			price       INTEGER   NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_history (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id       TEXT      NOT NULL,
			sent_at           TIMESTAMP NOT NULL,
			notification_type TEXT      NOT NULL DEFAULT '',
			success           BOOLEAN   NOT NULL,
			error_message     TEXT
		)`,
	},
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS seen_properties (
			id            BIGSERIAL PRIMARY KEY,
			property_id   TEXT             UNIQUE NOT NULL,
			address       TEXT             NOT NULL DEFAULT '',
			city          TEXT             NOT NULL DEFAULT '',
			state         TEXT             NOT NULL DEFAULT '',
			zip_code      TEXT             NOT NULL DEFAULT '',
			price         INTEGER          NOT NULL DEFAULT 0,
			beds          INTEGER          NOT NULL DEFAULT 0,
			baths         DOUBLE PRECISION NOT NULL DEFAULT 0,
			sqft          INTEGER          NOT NULL DEFAULT 0,
			year_built    INTEGER          NOT NULL DEFAULT 0,
			first_seen    TIMESTAMPTZ      NOT NULL,
			last_seen     TIMESTAMPTZ      NOT NULL,
			notified_at   TIMESTAMPTZ,
			review_result TEXT,
			review_passes BOOLEAN,
			listing_url   TEXT             NOT NULL DEFAULT '',
			raw_data      TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id          BIGSERIAL PRIMARY KEY,
			property_id TEXT        NOT NULL,
			price       INTEGER     NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_history (
			id                BIGSERIAL PRIMARY KEY,
			property_id       TEXT        NOT NULL,
			sent_at           TIMESTAMPTZ NOT NULL,
			notification_type TEXT        NOT NULL DEFAULT '',
			success           BOOLEAN     NOT NULL,
			error_message     TEXT
		)`,
	},
}

// Indexes are portable between both backends.
var commonIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_seen_notified_at ON seen_properties(notified_at)`,
	`CREATE INDEX IF NOT EXISTS idx_seen_city ON seen_properties(city)`,
	`CREATE INDEX IF NOT EXISTS idx_seen_first_seen ON seen_properties(first_seen)`,
	`CREATE INDEX IF NOT EXISTS idx_price_history_property ON price_history(property_id, recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_property ON notification_history(property_id, notification_type)`,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3":
		return sqliteDialect, nil
	case "postgres":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("storage: unsupported driver %q", driver)
	}
}

func (l *Ledger) migrate() error {
	stmts := append(append([]string{}, l.dialect.schema...), commonIndexes...)
	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
