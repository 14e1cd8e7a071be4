// Package resultdb persists benchmark runs in a sqlite database, so
// detection rates from different samplers, surveys and measurers can be
// compared after the fact.
package resultdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aromazyl/BlendingToolKit/pkg/metrics"
)

// Store wraps a sqlite database holding one row per run, one row per
// blend summary, and the run's efficiency matrix.
type Store struct {
	db *sql.DB
}

// Run is the stored header of one benchmark run.
type Run struct {
	ID          string
	Created     time.Time
	Measurer    string
	MaxNumber   int
	MatchRadius float64
	Config      string // yaml dump of the run configuration
	Blends      int    // summaries recorded so far
}

// Open opens (or creates) the results database at path. Use ":memory:"
// for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db '%s': %v", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		created_at   DATETIME NOT NULL,
		measurer     TEXT NOT NULL,
		max_number   INTEGER NOT NULL,
		match_radius REAL NOT NULL,
		config       TEXT
	);
	CREATE TABLE IF NOT EXISTS blends (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		n_true      INTEGER NOT NULL,
		n_detected  INTEGER NOT NULL,
		n_matched   INTEGER NOT NULL,
		n_spurious  INTEGER NOT NULL,
		n_missed    INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS efficiency (
		run_id     TEXT NOT NULL,
		n_detected INTEGER NOT NULL,
		n_true     INTEGER NOT NULL,
		pct        REAL NOT NULL
	)`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create results schema: %v", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records a new run header and returns its generated id.
func (s *Store) CreateRun(measurer string, maxNumber int, radius float64, config string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, created_at, measurer, max_number, match_radius, config)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), measurer, maxNumber, radius, config)
	if err != nil {
		return "", fmt.Errorf("create run: %v", err)
	}
	return id, nil
}

// AddSummaries appends per-blend summaries to a run, preserving order
// across calls.
func (s *Store) AddSummaries(runID string, sums []metrics.Summary) error {
	if len(sums) == 0 {
		return nil
	}

	var seq int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blends WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return fmt.Errorf("count blends for run '%s': %v", runID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert for run '%s': %v", runID, err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO blends (run_id, seq, n_true, n_detected, n_matched, n_spurious, n_missed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare blend insert: %v", err)
	}
	defer stmt.Close()

	for i, sum := range sums {
		row := sum.Row()
		if _, err := stmt.Exec(runID, seq+i, row[0], row[1], row[2], row[3], row[4]); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert blend %d for run '%s': %v", seq+i, runID, err)
		}
	}

	return tx.Commit()
}

// SaveEfficiency stores a run's efficiency matrix, replacing any
// previous one.
func (s *Store) SaveEfficiency(runID string, m [][]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin efficiency save for run '%s': %v", runID, err)
	}
	if _, err := tx.Exec(`DELETE FROM efficiency WHERE run_id = ?`, runID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear efficiency for run '%s': %v", runID, err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO efficiency (run_id, n_detected, n_true, pct) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare efficiency insert: %v", err)
	}
	defer stmt.Close()

	for j, row := range m {
		for i, pct := range row {
			if _, err := stmt.Exec(runID, j, i, pct); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert efficiency cell [%d][%d] for run '%s': %v", j, i, runID, err)
			}
		}
	}

	return tx.Commit()
}

// SaveReport persists a finished report under a fresh run id.
func (s *Store) SaveReport(r *metrics.Report, config string) (string, error) {
	id, err := s.CreateRun(r.Measurer, r.MaxNumber, r.Radius, config)
	if err != nil {
		return "", err
	}
	if err := s.AddSummaries(id, r.Summaries); err != nil {
		return "", err
	}
	if err := s.SaveEfficiency(id, r.Efficiency()); err != nil {
		return "", err
	}
	return id, nil
}

// ListRuns returns all run headers, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.created_at, r.measurer, r.max_number, r.match_radius, r.config,
		        COUNT(b.run_id)
		 FROM runs r LEFT JOIN blends b ON b.run_id = r.id
		 GROUP BY r.id
		 ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %v", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Created, &r.Measurer, &r.MaxNumber,
			&r.MatchRadius, &r.Config, &r.Blends); err != nil {
			return nil, fmt.Errorf("scan run row: %v", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summaries returns a run's per-blend summaries in insertion order.
func (s *Store) Summaries(runID string) ([]metrics.Summary, error) {
	rows, err := s.db.Query(
		`SELECT n_true, n_detected, n_matched, n_spurious, n_missed
		 FROM blends WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("load blends for run '%s': %v", runID, err)
	}
	defer rows.Close()

	var sums []metrics.Summary
	for rows.Next() {
		var sum metrics.Summary
		if err := rows.Scan(&sum.NumTrue, &sum.NumDetected, &sum.NumMatched,
			&sum.NumSpurious, &sum.NumMissed); err != nil {
			return nil, fmt.Errorf("scan blend row: %v", err)
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// Totals sums a run's summaries in SQL.
func (s *Store) Totals(runID string) (metrics.Summary, error) {
	var sum metrics.Summary
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(n_true), 0), COALESCE(SUM(n_detected), 0),
		        COALESCE(SUM(n_matched), 0), COALESCE(SUM(n_spurious), 0),
		        COALESCE(SUM(n_missed), 0)
		 FROM blends WHERE run_id = ?`, runID).
		Scan(&sum.NumTrue, &sum.NumDetected, &sum.NumMatched, &sum.NumSpurious, &sum.NumMissed)
	if err != nil {
		return metrics.Summary{}, fmt.Errorf("total blends for run '%s': %v", runID, err)
	}
	return sum, nil
}

// Efficiency rebuilds a run's stored efficiency matrix. Returns nil if
// none was saved.
func (s *Store) Efficiency(runID string) ([][]float64, error) {
	rows, err := s.db.Query(
		`SELECT n_detected, n_true, pct FROM efficiency
		 WHERE run_id = ? ORDER BY n_detected, n_true`, runID)
	if err != nil {
		return nil, fmt.Errorf("load efficiency for run '%s': %v", runID, err)
	}
	defer rows.Close()

	type cell struct {
		j, i int
		pct  float64
	}
	var cells []cell
	maxJ, maxI := -1, -1
	for rows.Next() {
		var c cell
		if err := rows.Scan(&c.j, &c.i, &c.pct); err != nil {
			return nil, fmt.Errorf("scan efficiency row: %v", err)
		}
		if c.j > maxJ {
			maxJ = c.j
		}
		if c.i > maxI {
			maxI = c.i
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}

	m := make([][]float64, maxJ+1)
	for j := range m {
		m[j] = make([]float64, maxI+1)
	}
	for _, c := range cells {
		m[c.j][c.i] = c.pct
	}
	return m, nil
}
