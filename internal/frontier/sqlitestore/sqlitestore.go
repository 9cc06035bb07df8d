// Package sqlitestore implements frontier.Store backed by SQLite,
// selected instead of jsonstore whenever frontierEnableSqlite is true
// — the same single-connection, single-writer-lane shape the Evidence
// Index uses, applied here to two small row-per-key tables instead of
// one JSON blob.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier/jsonstore"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS frontier_queries (
	query_key     TEXT PRIMARY KEY,
	last_seen_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS frontier_urls (
	url_key       TEXT PRIMARY KEY,
	last_status   INTEGER NOT NULL,
	last_fetch_at INTEGER NOT NULL,
	not_before    INTEGER NOT NULL,
	repeat_count  INTEGER NOT NULL,
	fields_found  INTEGER NOT NULL
);
`

type mutation struct {
	apply func(*sql.Tx) error
	done  chan error
}

// Store is the sqlite-backed Frontier Store.
type Store struct {
	cfg       frontier.Config
	db        *sql.DB
	mutations chan mutation
	stop      chan struct{}
}

// Open creates or opens the frontier database at path and starts its
// writer-lane goroutine.
func Open(cfg frontier.Config, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create frontier store directory: %w", err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open frontier store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate frontier store: %w", err)
	}

	s := &Store{cfg: cfg, db: db, mutations: make(chan mutation, 64), stop: make(chan struct{})}
	go s.writerLoop()
	return s, nil
}

func (s *Store) writerLoop() {
	for {
		select {
		case m := <-s.mutations:
			tx, err := s.db.Begin()
			if err == nil {
				err = m.apply(tx)
				if err == nil {
					err = tx.Commit()
				} else {
					tx.Rollback()
				}
			}
			m.done <- err
		case <-s.stop:
			return
		}
	}
}

func (s *Store) mutate(apply func(*sql.Tx) error) error {
	done := make(chan error, 1)
	s.mutations <- mutation{apply: apply, done: done}
	return <-done
}

// ShouldSkipQuery implements frontier.Store.
func (s *Store) ShouldSkipQuery(productID, query string) bool {
	key := productID + "|" + strings.Join(strings.Fields(strings.ToLower(query)), " ")
	var lastSeen int64
	err := s.db.QueryRow(`SELECT last_seen_at FROM frontier_queries WHERE query_key = ?`, key).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		logging.FrontierError("ShouldSkipQuery lookup: %v", err)
		return false
	}
	return time.Since(time.Unix(lastSeen, 0)) < s.cfg.QueryCooldown
}

// ShouldSkipURL implements frontier.Store.
func (s *Store) ShouldSkipURL(rawURL string) (bool, frontier.SkipReason) {
	canon := jsonstore.Canonicalize(rawURL, s.cfg.StripTrackingParams)
	var status, repeatCount int
	var notBefore int64
	err := s.db.QueryRow(
		`SELECT last_status, not_before, repeat_count FROM frontier_urls WHERE url_key = ?`, canon,
	).Scan(&status, &notBefore, &repeatCount)
	if err == sql.ErrNoRows {
		return false, frontier.SkipNone
	}
	if err != nil {
		logging.FrontierError("ShouldSkipURL lookup: %v", err)
		return false, frontier.SkipNone
	}
	if time.Now().Before(time.Unix(notBefore, 0)) {
		switch {
		case status == 410:
			return true, frontier.SkipStatus410
		case status == 429:
			return true, frontier.SkipStatus429
		case status == 404 && repeatCount >= 2:
			return true, frontier.SkipStatus404Repeated
		case status == 404:
			return true, frontier.SkipStatus404
		}
	}
	return false, frontier.SkipNone
}

// RecordQuery implements frontier.Store.
func (s *Store) RecordQuery(productID, query string) error {
	key := productID + "|" + strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return s.mutate(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO frontier_queries (query_key, last_seen_at) VALUES (?, ?)
			 ON CONFLICT(query_key) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
			key, time.Now().Unix())
		return err
	})
}

// RecordFetch implements frontier.Store.
func (s *Store) RecordFetch(productID, rawURL string, status int, fieldsFound int) error {
	canon := jsonstore.Canonicalize(rawURL, s.cfg.StripTrackingParams)
	return s.mutate(func(tx *sql.Tx) error {
		var prevStatus, prevRepeat, prevFields int
		err := tx.QueryRow(
			`SELECT last_status, repeat_count, fields_found FROM frontier_urls WHERE url_key = ?`, canon,
		).Scan(&prevStatus, &prevRepeat, &prevFields)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		repeat := 0
		if err == nil && prevStatus == status {
			repeat = prevRepeat + 1
		}

		var notBefore time.Time
		switch status {
		case 404:
			cooldown := s.cfg.Cooldown404
			if repeat >= 2 {
				cooldown = s.cfg.Cooldown404Repeat * time.Duration(1<<uint(min(repeat-2, 10)))
			}
			notBefore = time.Now().Add(cooldown)
		case 410:
			notBefore = time.Now().Add(s.cfg.Cooldown410)
		case 429:
			notBefore = time.Now().Add(s.cfg.Cooldown429Base * time.Duration(1<<uint(min(repeat, 10))))
		default:
			notBefore = time.Now()
		}

		_, err = tx.Exec(
			`INSERT INTO frontier_urls (url_key, last_status, last_fetch_at, not_before, repeat_count, fields_found)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(url_key) DO UPDATE SET
			   last_status = excluded.last_status,
			   last_fetch_at = excluded.last_fetch_at,
			   not_before = excluded.not_before,
			   repeat_count = excluded.repeat_count,
			   fields_found = frontier_urls.fields_found + excluded.fields_found`,
			canon, status, time.Now().Unix(), notBefore.Unix(), repeat, fieldsFound)
		if err == nil {
			logging.FrontierDebug("recorded fetch %s status=%d repeat=%d", canon, status, repeat)
		}
		return err
	})
}

// SnapshotForProduct implements frontier.Store.
func (s *Store) SnapshotForProduct(productID string) frontier.Snapshot {
	var snap frontier.Snapshot
	row := s.db.QueryRow(`SELECT COUNT(*) FROM frontier_queries WHERE query_key LIKE ?`, productID+"|%")
	row.Scan(&snap.QueryCount)

	s.db.QueryRow(`SELECT COUNT(*) FROM frontier_urls`).Scan(&snap.URLCount)
	s.db.QueryRow(`SELECT COALESCE(SUM(fields_found), 0) FROM frontier_urls`).Scan(&snap.FieldYield)
	return snap
}

// Close stops the writer-lane goroutine and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	return s.db.Close()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
