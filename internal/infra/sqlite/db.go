// Package sqlite persists the decision log: one row per daemon run, per
// control-loop iteration, and per adjustment outcome. WAL mode for
// crash-safe writes alongside concurrent status reads.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// Decision outcome values stored in the decisions table.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at dir/silkd.db. Enables WAL mode,
// foreign keys, and a 5-second busy timeout. modernc only honors
// _pragma-style DSN parameters; mattn-style _journal_mode keys are
// silently dropped.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "silkd.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			config     TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS iterations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			taken_at    INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			processes   INTEGER NOT NULL,
			groups      INTEGER NOT NULL,
			applied     INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			errors      INTEGER NOT NULL,
			load_level  REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_iterations_taken ON iterations(taken_at)`,
		`CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, seq)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			iteration_id INTEGER NOT NULL REFERENCES iterations(id) ON DELETE CASCADE,
			target_kind  TEXT NOT NULL,
			target_id    TEXT NOT NULL,
			class        TEXT NOT NULL,
			reason       TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_iteration ON decisions(iteration_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Runs ───────────────────────────────────────────────────────────────────

// BeginRun records the start of one daemon run.
func (d *DB) BeginRun(id string, startedAt time.Time, config string) error {
	_, err := d.db.Exec(
		`INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)`,
		id, startedAt.Unix(), config,
	)
	return err
}

// ─── Iterations ─────────────────────────────────────────────────────────────

// IterationStats is one control-loop iteration as stored.
type IterationStats struct {
	Seq       uint64        `json:"seq"`
	TakenAt   time.Time     `json:"taken_at"`
	Duration  time.Duration `json:"duration"`
	Processes int           `json:"processes"`
	Groups    int           `json:"groups"`
	Applied   int           `json:"applied"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	LoadLevel float64       `json:"load_level"`
}

// LogIteration inserts one iteration row and returns its id for decision
// attribution.
func (d *DB) LogIteration(runID string, st IterationStats) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO iterations (run_id, seq, taken_at, duration_us, processes, groups, applied, skipped, errors, load_level)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, st.Seq, st.TakenAt.Unix(), st.Duration.Microseconds(),
		st.Processes, st.Groups, st.Applied, st.Skipped, st.Errors, st.LoadLevel,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecentIterations returns the newest iterations first.
func (d *DB) RecentIterations(limit int) ([]IterationStats, error) {
	rows, err := d.db.Query(
		`SELECT seq, taken_at, duration_us, processes, groups, applied, skipped, errors, load_level
		 FROM iterations ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IterationStats
	for rows.Next() {
		var st IterationStats
		var takenAt, durationUS int64
		if err := rows.Scan(&st.Seq, &takenAt, &durationUS, &st.Processes,
			&st.Groups, &st.Applied, &st.Skipped, &st.Errors, &st.LoadLevel); err != nil {
			return nil, err
		}
		st.TakenAt = time.Unix(takenAt, 0)
		st.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, st)
	}
	return out, rows.Err()
}

// ─── Decisions ──────────────────────────────────────────────────────────────

// Decision is one per-target outcome as stored.
type Decision struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
	Class      string `json:"class"`
	Reason     string `json:"reason"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// LogDecisions inserts the iteration's decision rows in one transaction.
func (d *DB) LogDecisions(iterationID int64, decisions []Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO decisions (iteration_id, target_kind, target_id, class, reason, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, dec := range decisions {
		if _, err := stmt.Exec(iterationID, dec.TargetKind, dec.TargetID,
			dec.Class, dec.Reason, dec.Outcome, dec.Error); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// IterationDecisions returns the decision rows of one iteration in insert
// order.
func (d *DB) IterationDecisions(iterationID int64) ([]Decision, error) {
	rows, err := d.db.Query(
		`SELECT target_kind, target_id, class, reason, outcome, error
		 FROM decisions WHERE iteration_id = ? ORDER BY id`, iterationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var dec Decision
		if err := rows.Scan(&dec.TargetKind, &dec.TargetID, &dec.Class,
			&dec.Reason, &dec.Outcome, &dec.Error); err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, rows.Err()
}

// ─── Retention ──────────────────────────────────────────────────────────────

// Prune removes iterations older than the retention window; cascades take
// their decisions, and runs with no iterations left go too. Returns how
// many iterations were removed.
func (d *DB) Prune(retain time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retain).Unix()

	result, err := d.db.Exec(`DELETE FROM iterations WHERE taken_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	removed, _ := result.RowsAffected()

	_, err = d.db.Exec(
		`DELETE FROM runs WHERE started_at < ?
		 AND id NOT IN (SELECT DISTINCT run_id FROM iterations)`, cutoff,
	)
	return removed, err
}
