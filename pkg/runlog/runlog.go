// Package runlog records training runs, per-step losses and generated
// samples in a SQLite file.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"microgpt-go/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at REAL NOT NULL,
	finished_at REAL,
	config_json TEXT NOT NULL,
	num_params INTEGER NOT NULL,
	vocab_size INTEGER NOT NULL,
	num_docs INTEGER NOT NULL,
	final_loss REAL
);
CREATE TABLE IF NOT EXISTS steps(
	run_id INTEGER NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	loss REAL,
	lr REAL NOT NULL,
	doc TEXT NOT NULL,
	PRIMARY KEY(run_id, step)
);
CREATE TABLE IF NOT EXISTS samples(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	temperature REAL NOT NULL,
	text TEXT NOT NULL
);`

// Store is a run log backed by one SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates the database at path if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the training loop and the HTTP handlers share it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func now() float64 { return float64(time.Now().UnixMilli()) / 1000.0 }

func nullable(x float64) sql.NullFloat64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

// StartRun inserts a run row and returns its id.
func (s *Store) StartRun(opts model.Options, info model.InitInfo) (int64, error) {
	cfg, err := json.Marshal(opts)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		"INSERT INTO runs(started_at, config_json, num_params, vocab_size, num_docs) VALUES(?,?,?,?,?)",
		now(), string(cfg), info.NumParams, info.VocabSize, info.NumDocs)
	if err != nil {
		return 0, fmt.Errorf("runlog: start run: %w", err)
	}
	return res.LastInsertId()
}

// RecordStep stores one step. A non-finite loss is stored as NULL.
func (s *Store) RecordStep(runID int64, r model.StepResult) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO steps(run_id, step, loss, lr, doc) VALUES(?,?,?,?,?)",
		runID, r.Step, nullable(r.Loss), r.LearningRate, r.Doc)
	if err != nil {
		return fmt.Errorf("runlog: record step %d: %w", r.Step, err)
	}
	return nil
}

func (s *Store) RecordSample(runID int64, step int, temperature float64, text string) error {
	_, err := s.db.Exec(
		"INSERT INTO samples(run_id, step, temperature, text) VALUES(?,?,?,?)",
		runID, step, temperature, text)
	if err != nil {
		return fmt.Errorf("runlog: record sample: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(runID int64, finalLoss float64) error {
	_, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, final_loss = ? WHERE id = ?",
		now(), nullable(finalLoss), runID)
	if err != nil {
		return fmt.Errorf("runlog: finish run %d: %w", runID, err)
	}
	return nil
}

// Run is one row of the runs table.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is open
	Options    model.Options
	NumParams  int
	VocabSize  int
	NumDocs    int
	Steps      int
	FinalLoss  sql.NullFloat64
}

func fromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Runs lists every run, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.started_at, r.finished_at, r.config_json, r.num_params, r.vocab_size, r.num_docs,
			r.final_loss, (SELECT COUNT(*) FROM steps st WHERE st.run_id = r.id)
		FROM runs r ORDER BY r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  float64
			finished sql.NullFloat64
			cfg      string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &cfg, &r.NumParams, &r.VocabSize, &r.NumDocs, &r.FinalLoss, &r.Steps); err != nil {
			return nil, err
		}
		r.StartedAt = fromUnix(started)
		if finished.Valid {
			r.FinishedAt = fromUnix(finished.Float64)
		}
		if err := json.Unmarshal([]byte(cfg), &r.Options); err != nil {
			return nil, fmt.Errorf("runlog: run %d config: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LossHistory returns the recorded losses of a run in step order. NULL
// losses come back as NaN.
func (s *Store) LossHistory(runID int64) ([]float64, error) {
	rows, err := s.db.Query("SELECT loss FROM steps WHERE run_id = ? ORDER BY step", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var l sql.NullFloat64
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		if l.Valid {
			out = append(out, l.Float64)
		} else {
			out = append(out, math.NaN())
		}
	}
	return out, rows.Err()
}

// Samples returns the texts generated during a run, oldest first.
func (s *Store) Samples(runID int64) ([]string, error) {
	rows, err := s.db.Query("SELECT text FROM samples WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}
