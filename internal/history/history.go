// Package history mirrors finished jobs into a sqlite database, so an
// operator can look at past runs after the in-memory job table is gone.
// The mirror is an observer: queue operation never depends on it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ffstamp/ffstamp/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress REAL NOT NULL,
	created_at INTEGER NOT NULL,
	started_at INTEGER DEFAULT NULL,
	finished_at INTEGER DEFAULT NULL,
	output_format TEXT NOT NULL,
	encoder TEXT NOT NULL,
	files_json TEXT NOT NULL,
	outputs_json TEXT NOT NULL,
	log TEXT NOT NULL
)`

// Entry is one mirrored job row.
type Entry struct {
	ID           string
	Status       model.JobStatus
	Progress     float64
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	OutputFormat string
	Encoder      model.Encoder
	Files        []string
	Outputs      []string
	Log          []string
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func rollback(ctx context.Context, tx *sql.Tx, id string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "rolling back transaction failed", slog.String("job_id", id))
	}
}

// Record upserts one job snapshot. The queue calls it whenever a job reaches
// a terminal state, so replaying the same id just refreshes the row.
func (s *Store) Record(ctx context.Context, snap model.JobSnapshot) error {
	files, err := json.Marshal(snap.Files)
	if err != nil {
		return fmt.Errorf("encoding files: %w", err)
	}
	outputs, err := json.Marshal(snap.Outputs)
	if err != nil {
		return fmt.Errorf("encoding outputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, snap.ID)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, status, progress, created_at, started_at, finished_at,
			output_format, encoder, files_json, outputs_json, log)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			outputs_json = excluded.outputs_json,
			log = excluded.log;`,
		snap.ID,
		string(snap.Status),
		snap.Progress,
		snap.CreatedAt.Unix(),
		unixOrNil(snap.StartedAt),
		unixOrNil(snap.FinishedAt),
		snap.OutputFormat,
		string(snap.Encoder),
		string(files),
		string(outputs),
		strings.Join(snap.Log, "\n"),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns one mirrored job or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, progress, created_at, started_at, finished_at,
			output_format, encoder, files_json, outputs_json, log
		 FROM jobs WHERE id=?`, id,
	)
	entry, err := scanEntry(row.Scan)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Entry{}, model.ErrNotFound
	case err != nil:
		return Entry{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return entry, nil
}

// List returns mirrored jobs newest first, at most limit rows when limit is
// positive.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT id, status, progress, created_at, started_at, finished_at,
			output_format, encoder, files_json, outputs_json, log
		 FROM jobs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows failed: %w", err)
	}
	return entries, nil
}

// PruneOlderThan deletes rows whose job finished before cutoff and reports
// how many went away.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE COALESCE(finished_at, created_at) < ?`, cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("executing sql delete failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	return n, nil
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var (
		entry      Entry
		status     string
		encoder    string
		createdAt  int64
		startedAt  sql.NullInt64
		finishedAt sql.NullInt64
		files      string
		outputs    string
		logText    string
	)
	err := scan(
		&entry.ID,
		&status,
		&entry.Progress,
		&createdAt,
		&startedAt,
		&finishedAt,
		&entry.OutputFormat,
		&encoder,
		&files,
		&outputs,
		&logText,
	)
	if err != nil {
		return Entry{}, err
	}

	entry.Status = model.JobStatus(status)
	entry.Encoder = model.Encoder(encoder)
	entry.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		entry.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		entry.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(files), &entry.Files); err != nil {
		return Entry{}, fmt.Errorf("decoding files: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &entry.Outputs); err != nil {
		return Entry{}, fmt.Errorf("decoding outputs: %w", err)
	}
	if logText != "" {
		entry.Log = strings.Split(logText, "\n")
	}
	return entry, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
