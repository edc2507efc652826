// Package store keeps the history of finished benchmark runs in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

var ErrNotFound = errors.New("not found")

// RunRow is a summary of a stored run.
type RunRow struct {
	ID       int
	RunID    string
	TestType string
	DiskPath string
	Status   model.Status
	Success  *bool
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run_id: %q, test_type: %q, disk_path: %q, status: %s", r.RunID, r.TestType, r.DiskPath, r.Status)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			test_type TEXT NOT NULL,
			disk_path TEXT NOT NULL,
			status TEXT NOT NULL,
			success BOOLEAN DEFAULT NULL,
			started_at INTEGER NOT NULL,
			record TEXT NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// History stores run records in a sqlite database.
type History struct {
	db *sql.DB
}

func Open(ctx context.Context, dbPath string) (*History, error) {
	db, err := InitDB(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", dbPath, err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func rollback(ctx context.Context, tx *sql.Tx, runID string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("run_id", runID))
	}
}

// Save inserts rec or replaces a stored record with the same run id.
func (h *History) Save(ctx context.Context, rec model.RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}
	var success *bool
	if rec.Result != nil {
		s := rec.Result.Success()
		success = &s
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, rec.RunID)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, test_type, disk_path, status, success, started_at, record)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			success = excluded.success,
			record = excluded.record;`,
		rec.RunID, rec.TestType, rec.DiskPath, string(rec.Status), success, rec.StartedAt.UnixNano(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the record of runID or ErrNotFound.
func (h *History) Get(ctx context.Context, runID string) (model.RunRecord, error) {
	var raw string
	err := h.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE run_id=?`, runID,
	).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.RunRecord{}, ErrNotFound
	case err != nil:
		return model.RunRecord{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	var rec model.RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.RunRecord{}, fmt.Errorf("decoding run record %s: %w", runID, err)
	}
	return rec, nil
}

// List returns summaries of at most limit runs, newest first. Zero limit
// means all.
func (h *History) List(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, run_id, test_type, disk_path, status, success
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		var r RunRow
		var status string
		if err := rows.Scan(&r.ID, &r.RunID, &r.TestType, &r.DiskPath, &status, &r.Success); err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		r.Status = model.Status(status)
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

func (h *History) Delete(ctx context.Context, runID string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, runID)

	result, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE run_id=?`, runID,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}

	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}
