//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"fewseg/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveEvalRun(ctx context.Context, record model.EvalRunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEvalRun(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO eval_runs (eval_id, run_index, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(eval_id, run_index) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.EvalID, record.RunIndex, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetEvalRun(ctx context.Context, evalID string, runIndex int) (model.EvalRunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.EvalRunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM eval_runs WHERE eval_id = ? AND run_index = ?`, evalID, runIndex).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvalRunRecord{}, false, nil
		}
		return model.EvalRunRecord{}, false, err
	}

	record, err := DecodeEvalRun(payload)
	if err != nil {
		return model.EvalRunRecord{}, false, fmt.Errorf("decode eval run %s/%d: %w", evalID, runIndex, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListEvalRuns(ctx context.Context, evalID string) ([]model.EvalRunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM eval_runs WHERE eval_id = ? ORDER BY run_index`, evalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EvalRunRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := DecodeEvalRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode eval run for %s: %w", evalID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveReport(ctx context.Context, record model.EvalReportRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeReport(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO reports (eval_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(eval_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.EvalID, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetReport(ctx context.Context, evalID string) (model.EvalReportRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.EvalReportRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE eval_id = ?`, evalID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvalReportRecord{}, false, nil
		}
		return model.EvalReportRecord{}, false, err
	}

	record, err := DecodeReport(payload)
	if err != nil {
		return model.EvalReportRecord{}, false, fmt.Errorf("decode report %s: %w", evalID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context) ([]model.EvalReportRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM reports ORDER BY eval_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EvalReportRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := DecodeReport(payload)
		if err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS eval_runs (
			eval_id TEXT NOT NULL,
			run_index INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (eval_id, run_index)
		);
		CREATE TABLE IF NOT EXISTS reports (
			eval_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
