package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FlowTagger/internal/model"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is the format of CURRENT_TIMESTAMP.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Store keeps the results of past runs in SQLite.
type Store struct {
	*sql.DB
	path string
}

// Run is a stored result with its metadata.
type Run struct {
	ID        int64
	Timestamp string
	CreatedAt time.Time
	Result    *model.Result
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close() // Close error less important than schema error
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SaveRun stores result and its count tables in one transaction and returns the run id.
func (s *Store) SaveRun(ctx context.Context, timestamp string, result *model.Result) (int64, error) {
	malformed, err := json.Marshal(result.Malformed)
	if err != nil {
		return 0, fmt.Errorf("failed to encode malformed reasons: %w", err)
	}
	failed, err := json.Marshal(result.FailedChunks)
	if err != nil {
		return 0, fmt.Errorf("failed to encode failed chunks: %w", err)
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_timestamp, records, malformed, malformed_reasons,
			lookup_rows, lookup_entries, lookup_invalid_rows, lookup_overridden,
			chunks, failed_chunks, incomplete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, timestamp, int64(result.Records), int64(result.MalformedTotal()), string(malformed),
		result.Lookup.Rows, result.Lookup.Entries, result.Lookup.InvalidRows, result.Lookup.Overridden,
		result.Chunks, string(failed), result.Incomplete)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	tagStmt, err := tx.PrepareContext(ctx, "INSERT INTO tag_counts (run_id, tag, count) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare tag insert: %w", err)
	}
	defer tagStmt.Close()
	for tag, n := range result.TagCounts {
		if _, err := tagStmt.ExecContext(ctx, runID, tag, int64(n)); err != nil {
			return 0, fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}

	pairStmt, err := tx.PrepareContext(ctx, "INSERT INTO pair_counts (run_id, dst_port, protocol, count) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare pair insert: %w", err)
	}
	defer pairStmt.Close()
	for key, n := range result.PairCounts {
		if _, err := pairStmt.ExecContext(ctx, runID, int(key.DstPort), key.Protocol, int64(n)); err != nil {
			return 0, fmt.Errorf("failed to insert pair %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// LoadRun reads a stored run back into a result.
func (s *Store) LoadRun(ctx context.Context, runID int64) (*Run, error) {
	run := &Run{ID: runID}
	result := &model.Result{
		TagCounts:  make(model.Counter[string]),
		PairCounts: make(model.Counter[model.PairKey]),
		Malformed:  make(model.Counter[string]),
	}

	var records int64
	var createdAt string
	var malformedJSON, failedJSON sql.NullString
	err := s.QueryRowContext(ctx, `
		SELECT run_timestamp, created_at, records, malformed_reasons,
			lookup_rows, lookup_entries, lookup_invalid_rows, lookup_overridden,
			chunks, failed_chunks, incomplete
		FROM runs WHERE run_id = ?
	`, runID).Scan(&run.Timestamp, &createdAt, &records, &malformedJSON,
		&result.Lookup.Rows, &result.Lookup.Entries, &result.Lookup.InvalidRows, &result.Lookup.Overridden,
		&result.Chunks, &failedJSON, &result.Incomplete)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %d: %w", runID, err)
	}
	result.Records = uint64(records)
	if run.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}

	if malformedJSON.Valid && malformedJSON.String != "" {
		if err := json.Unmarshal([]byte(malformedJSON.String), &result.Malformed); err != nil {
			return nil, fmt.Errorf("failed to decode malformed reasons: %w", err)
		}
	}
	if failedJSON.Valid && failedJSON.String != "" && failedJSON.String != "null" {
		if err := json.Unmarshal([]byte(failedJSON.String), &result.FailedChunks); err != nil {
			return nil, fmt.Errorf("failed to decode failed chunks: %w", err)
		}
	}

	if err := s.loadTags(ctx, runID, result.TagCounts); err != nil {
		return nil, err
	}
	if err := s.loadPairs(ctx, runID, result.PairCounts); err != nil {
		return nil, err
	}

	run.Result = result
	return run, nil
}

func (s *Store) loadTags(ctx context.Context, runID int64, into model.Counter[string]) error {
	rows, err := s.QueryContext(ctx, "SELECT tag, count FROM tag_counts WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		var n int64
		if err := rows.Scan(&tag, &n); err != nil {
			return fmt.Errorf("failed to scan tag row: %w", err)
		}
		into[tag] = uint64(n)
	}
	return rows.Err()
}

func (s *Store) loadPairs(ctx context.Context, runID int64, into model.Counter[model.PairKey]) error {
	rows, err := s.QueryContext(ctx, "SELECT dst_port, protocol, count FROM pair_counts WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var port int
		var protocol string
		var n int64
		if err := rows.Scan(&port, &protocol, &n); err != nil {
			return fmt.Errorf("failed to scan pair row: %w", err)
		}
		into[model.PairKey{DstPort: uint16(port), Protocol: protocol}] = uint64(n)
	}
	return rows.Err()
}

// LatestRunID returns the id of the most recent run.
func (s *Store) LatestRunID(ctx context.Context) (int64, error) {
	var id int64
	err := s.QueryRowContext(ctx, "SELECT run_id FROM runs ORDER BY run_id DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrRunNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query latest run: %w", err)
	}
	return id, nil
}
