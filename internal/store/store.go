// Package store keeps a SQLite history of cycle outcomes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/luhtfiimanal/go-sensor-termio/driver"
	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS outcomes (
		outcome_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		kind TEXT NOT NULL,
		sensor_id INTEGER,
		measure_id INTEGER,
		value DOUBLE,
		raw TEXT,
		error TEXT,
		elapsed_ms INTEGER,
		length INTEGER,
		recorded_at TIMESTAMP NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS outcomes_run_kind ON outcomes (run_id, kind);
`

// Store appends outcomes of one run to a SQLite database.
type Store struct {
	db    *sql.DB
	runID uuid.UUID
	log   zerolog.Logger
}

// Open creates or opens the database at path and registers a new run.
func Open(ctx context.Context, path, device string, mode driver.Mode, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// one writer; the driver goroutine is the only caller
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &Store{db: db, runID: uuid.New(), log: log}
	_, err = db.ExecContext(ctx,
		"INSERT INTO runs (run_id, device, mode, started_at) VALUES (?, ?, ?, ?)",
		s.runID.String(), device, mode.String(), time.Now().UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: register run: %w", err)
	}
	log.Debug().Str("path", path).Stringer("run", s.runID).Msg("outcome history opened")
	return s, nil
}

// RunID identifies the rows written by this Store.
func (s *Store) RunID() uuid.UUID {
	return s.runID
}

// Report records o, logging instead of returning a failure.
func (s *Store) Report(o driver.Outcome) {
	if err := s.Record(context.Background(), o); err != nil {
		s.log.Error().Err(err).Uint64("cycle", o.Cycle).Msg("failed to store outcome")
	}
}

// Record inserts one outcome row.
func (s *Store) Record(ctx context.Context, o driver.Outcome) error {
	var (
		sensor, measure sql.NullInt64
		value           sql.NullFloat64
		raw, errText    sql.NullString
		elapsed, length sql.NullInt64
	)
	switch o.Kind {
	case driver.KindReading:
		sensor = sql.NullInt64{Int64: int64(o.Reading.SensorID), Valid: true}
		measure = sql.NullInt64{Int64: int64(o.Reading.MeasureID), Valid: true}
		value = sql.NullFloat64{Float64: o.Reading.Value, Valid: true}
	case driver.KindMalformed, driver.KindOverflowed:
		raw = sql.NullString{String: frame.Escape(o.Raw), Valid: true}
		length = sql.NullInt64{Int64: int64(o.Length), Valid: true}
	case driver.KindTimedOut:
		elapsed = sql.NullInt64{Int64: o.Elapsed.Milliseconds(), Valid: true}
		length = sql.NullInt64{Int64: int64(o.Length), Valid: true}
	}
	if o.Err != nil {
		errText = sql.NullString{String: o.Err.Error(), Valid: true}
	}
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, cycle, kind, sensor_id, measure_id, value, raw, error, elapsed_ms, length, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID.String(), int64(o.Cycle), o.Kind.String(),
		sensor, measure, value, raw, errText, elapsed, length, at.UTC())
	if err != nil {
		return fmt.Errorf("store: insert outcome (cycle %d): %w", o.Cycle, err)
	}
	return nil
}

// Counts returns the number of outcomes of this run per kind name.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY kind", s.runID.String())
	if err != nil {
		return nil, fmt.Errorf("store: count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: count outcomes: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// ErrNoReading is returned by Latest when the database holds no reading.
var ErrNoReading = errors.New("store: no reading recorded")

// Latest returns the most recent reading of any run, so that a restarted
// process can serve the last known value before its first cycle completes.
func (s *Store) Latest(ctx context.Context) (driver.Outcome, error) {
	var (
		o     = driver.Outcome{Kind: driver.KindReading}
		cycle int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cycle, sensor_id, measure_id, value, recorded_at FROM outcomes
		WHERE kind = ?
		ORDER BY outcome_id DESC LIMIT 1`,
		driver.KindReading.String()).Scan(&cycle, &o.Reading.SensorID, &o.Reading.MeasureID, &o.Reading.Value, &o.At)
	if errors.Is(err, sql.ErrNoRows) {
		return driver.Outcome{}, ErrNoReading
	}
	if err != nil {
		return driver.Outcome{}, fmt.Errorf("store: latest reading: %w", err)
	}
	o.Cycle = uint64(cycle)
	return o, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
