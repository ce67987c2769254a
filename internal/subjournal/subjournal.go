// Package subjournal implements the durable subscription journal of
// SPEC_FULL §3.8: a local row per open subscription, (service,
// ticker, tag, bds, opened_at), so a restarted SubscriptionChannel
// can replay its open-subscription set against a freshly (re)connected
// session instead of relying on the application to remember what it
// had subscribed to.
//
// Grounded on the teacher's repository package: golang-migrate/v4
// drives schema creation from embedded .sql files exactly like
// internal/repository/migration.go, and every query is built with
// Masterminds/squirrel and run through a jmoiron/sqlx.DB exactly like
// internal/repository/job.go. Subscription identity is relational
// (service, ticker, tag), not a time series, so a small embedded
// sqlite3 table fits better here than the teacher's checkpoint-file
// format used for metric data.
package subjournal

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marketfeed/rtcore/internal/rtlog"
)

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

// Entry is one durable subscription-journal row.
type Entry struct {
	Service       string    `db:"service"`
	Ticker        string    `db:"ticker"`
	Tag           uint64    `db:"tag"`
	BDS           bool      `db:"bds"`
	OpenedAtUnix  int64     `db:"opened_at"`
	OpenedAt      time.Time `db:"-"`
}

// Journal is a sqlite3-backed durable record of a channel's currently
// open subscriptions.
type Journal struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite3 database at path and
// migrates it to the latest schema version.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("subjournal: opening %s: %w", path, err)
	}

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("subjournal: migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("subjournal: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("subjournal: migration setup: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("subjournal: applying migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record upserts the journal row for (service, ticker), marking it
// open with the given tag and bds flag.
func (j *Journal) Record(service, ticker string, tag uint64, bds bool) error {
	query, args, err := sq.Insert("subscription").
		Columns("service", "ticker", "tag", "bds", "opened_at").
		Values(service, ticker, tag, bds, time.Now().Unix()).
		Suffix("ON CONFLICT(service, ticker) DO UPDATE SET tag=excluded.tag, bds=excluded.bds, opened_at=excluded.opened_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = j.db.Exec(query, args...)
	return err
}

// Remove deletes the journal row for (service, ticker), if present.
func (j *Journal) Remove(service, ticker string) error {
	query, args, err := sq.Delete("subscription").
		Where(sq.Eq{"service": service, "ticker": ticker}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = j.db.Exec(query, args...)
	return err
}

// All returns every currently-journaled subscription, in no
// particular order, for replay against a freshly (re)connected
// SubscriptionChannel.
func (j *Journal) All() ([]Entry, error) {
	query, args, err := sq.Select("service", "ticker", "tag", "bds", "opened_at").
		From("subscription").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []Entry
	if err := j.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].OpenedAt = time.Unix(rows[i].OpenedAtUnix, 0).UTC()
	}
	return rows, nil
}

// Compact runs VACUUM to reclaim space left by deleted rows; intended
// to be driven periodically by internal/runtime's scheduler per
// SPEC_FULL §2 row 16/18 (journalCompactionInterval).
func (j *Journal) Compact() error {
	if _, err := j.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("subjournal: vacuum: %w", err)
	}
	rtlog.Debug("subjournal: compaction complete")
	return nil
}
