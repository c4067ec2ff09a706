package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"touchbridge/internal/bridge"
	"touchbridge/internal/geom"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// Store represents the SQLite transition journal.
type Store struct {
	db *sql.DB
}

var _ bridge.Recorder = (*Store)(nil)

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordTransition implements bridge.Recorder. The session row is created on
// first use and closed by the teardown transition.
func (s *Store) RecordTransition(t bridge.Transition) error {
	region, err := encodeRegion(t.Region)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := t.Time.UnixNano()
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_ns) VALUES (?, ?)`,
		t.SessionID, ts,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO transitions (session_id, time_ns, from_phase, to_phase, app_id, region, region_area, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, ts, t.From.String(), t.To.String(), t.ApplicationID, region, t.Region.Area(), t.Reason,
	); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	update := `UPDATE sessions SET transitions = transitions + 1 WHERE id = ?`
	args := []any{t.SessionID}
	if t.Reason == bridge.ReasonTeardown {
		update = `UPDATE sessions SET transitions = transitions + 1, ended_ns = ? WHERE id = ?`
		args = []any{ts, t.SessionID}
	}
	if _, err := tx.Exec(update, args...); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit()
}

// List returns transitions matching f, newest first.
func (s *Store) List(f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.ApplicationID != "" {
		where = append(where, "app_id = ?")
		args = append(args, f.ApplicationID)
	}
	if !f.Since.IsZero() {
		where = append(where, "time_ns >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := `SELECT id, session_id, time_ns, from_phase, to_phase, app_id, region, reason FROM transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY time_ns DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     int64
			region string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &ts, &e.From, &e.To, &e.ApplicationID, &region, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.Time = time.Unix(0, ts)
		if e.Region, err = decodeRegion(region); err != nil {
			return nil, fmt.Errorf("transition %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Session returns the summary of one session.
func (s *Store) Session(id string) (*Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
	)
	err := s.db.QueryRow(
		`SELECT id, started_ns, ended_ns, transitions FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &started, &ended, &sess.Transitions)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.Started = time.Unix(0, started)
	if ended.Valid {
		sess.Ended = time.Unix(0, ended.Int64)
	}
	return &sess, nil
}

// Sessions returns the most recent sessions, newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_ns, ended_ns, transitions FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.Transitions); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Started = time.Unix(0, started)
		if ended.Valid {
			sess.Ended = time.Unix(0, ended.Int64)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Prune deletes transitions older than cutoff and sessions left without any.
// It returns the number of transitions removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM transitions WHERE time_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete transitions: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.Exec(`
		DELETE FROM sessions
		WHERE started_ns < ? AND id NOT IN (SELECT DISTINCT session_id FROM transitions)`,
		cutoff.UnixNano(),
	); err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func encodeRegion(r geom.Region) (string, error) {
	rects := make([][4]int, 0, len(r.Rects()))
	for _, rc := range r.Rects() {
		rects = append(rects, [4]int{rc.Min.X, rc.Min.Y, rc.Max.X, rc.Max.Y})
	}
	data, err := json.Marshal(rects)
	if err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}
	return string(data), nil
}

func decodeRegion(s string) (geom.Region, error) {
	var rects [][4]int
	if err := json.Unmarshal([]byte(s), &rects); err != nil {
		return geom.Region{}, fmt.Errorf("decode region: %w", err)
	}
	var r geom.Region
	for _, rc := range rects {
		r = r.Union(geom.R(rc[0], rc[1], rc[2], rc[3]))
	}
	return r, nil
}
