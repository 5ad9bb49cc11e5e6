package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"envplan/internal/enterprise"

	_ "github.com/mattn/go-sqlite3"
)

// totalKey is the user_id row holding the day's global count.
const totalKey = ""

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS enterprises (
			id TEXT PRIMARY KEY,
			name TEXT,
			data JSON,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS generation_runs (
			id TEXT PRIMARY KEY,
			enterprise_id TEXT,
			mode TEXT,
			user_id TEXT,
			success INTEGER,
			error_count INTEGER,
			result JSON,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS llm_usage (
			day TEXT,
			user_id TEXT,
			count INTEGER,
			PRIMARY KEY (day, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_enterprise ON generation_runs(enterprise_id, created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- EnterpriseStore Implementation ---

func (s *SQLiteStore) SaveEnterprise(ctx context.Context, id string, blob enterprise.Blob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode enterprise %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enterprises (id, name, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			data=excluded.data,
			updated_at=excluded.updated_at
	`, id, enterprise.CompanyName(blob), data, time.Now().UTC())
	return err
}

func (s *SQLiteStore) GetEnterprise(ctx context.Context, id string) (enterprise.Blob, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM enterprises WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("enterprise %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return enterprise.DecodeBytes(data)
}

func (s *SQLiteStore) ListEnterprises(ctx context.Context) ([]EnterpriseRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, updated_at FROM enterprises ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query enterprises: %w", err)
	}
	defer rows.Close()

	var out []EnterpriseRecord
	for rows.Next() {
		var r EnterpriseRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enterprise: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- RunStore Implementation ---

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_runs (id, enterprise_id, mode, user_id, success, error_count, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.EnterpriseID, run.Mode, run.UserID, run.Success, run.ErrorCount, run.Result, run.CreatedAt)
	return err
}

const runColumns = "id, enterprise_id, mode, user_id, success, error_count, result, created_at"

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := sc.Scan(&r.ID, &r.EnterpriseID, &r.Mode, &r.UserID, &r.Success, &r.ErrorCount, &r.Result, &r.CreatedAt)
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, enterpriseID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + runColumns + " FROM generation_runs"
	args := []any{}
	if enterpriseID != "" {
		query += " WHERE enterprise_id = ?"
		args = append(args, enterpriseID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM generation_runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// --- UsageStore Implementation ---

// SaveUsage replaces the stored counters of day.
func (s *SQLiteStore) SaveUsage(ctx context.Context, day string, total int, users map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM llm_usage WHERE day = ?", day); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO llm_usage (day, user_id, count) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, day, totalKey, total); err != nil {
		return err
	}
	for user, n := range users {
		if user == totalKey {
			continue
		}
		if _, err := stmt.ExecContext(ctx, day, user, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadUsage(ctx context.Context, day string) (int, map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, count FROM llm_usage WHERE day = ?", day)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	total := 0
	users := map[string]int{}
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return 0, nil, err
		}
		if user == totalKey {
			total = n
			continue
		}
		users[user] = n
	}
	return total, users, rows.Err()
}
