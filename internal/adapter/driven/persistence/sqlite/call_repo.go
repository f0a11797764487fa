package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// CallRecordRepository keeps call records in a single SQLite file.
// Timestamps are unix nanoseconds in UTC, 0 for unset.
type CallRecordRepository struct {
	db *sql.DB
}

func Open(path string) (*CallRecordRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps status updates serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			room_id     TEXT PRIMARY KEY,
			caller_id   TEXT NOT NULL,
			callee_id   TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			accepted_at INTEGER NOT NULL DEFAULT 0,
			declined_at INTEGER NOT NULL DEFAULT 0,
			ended_at    INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	log.Info().Str("path", path).Msg("Call store opened")
	return &CallRecordRepository{db: db}, nil
}

func (r *CallRecordRepository) Close() error {
	return r.db.Close()
}

func (r *CallRecordRepository) Create(ctx context.Context, rec domain.CallRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO calls (room_id, caller_id, callee_id, status, created_at, accepted_at, declined_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id) DO NOTHING`,
		rec.RoomID, rec.CallerID, rec.CalleeID, rec.Status,
		nanos(rec.CreatedAt), nanos(rec.AcceptedAt), nanos(rec.DeclinedAt), nanos(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.RoomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call %s: %w", rec.RoomID, domain.ErrAlreadyExists)
	}
	return nil
}

func (r *CallRecordRepository) Get(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	return get(ctx, r.db, roomID)
}

// UpdateStatus applies the transition inside a transaction; the UPDATE also checks the
// status it read so a concurrent writer cannot be overwritten.
func (r *CallRecordRepository) UpdateStatus(ctx context.Context, roomID domain.RoomID, status domain.CallStatus, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := get(ctx, tx, roomID)
	if err != nil {
		return err
	}
	from := rec.Status
	if err := rec.Transition(status, at); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE calls SET status = ?, accepted_at = ?, declined_at = ?, ended_at = ?
		WHERE room_id = ? AND status = ?`,
		rec.Status, nanos(rec.AcceptedAt), nanos(rec.DeclinedAt), nanos(rec.EndedAt),
		roomID, from,
	)
	if err != nil {
		return fmt.Errorf("update call %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: call %s changed concurrently", domain.ErrInvalidTransition, roomID)
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q querier, roomID domain.RoomID) (domain.CallRecord, error) {
	var (
		rec                                domain.CallRecord
		created, accepted, declined, ended int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT room_id, caller_id, callee_id, status, created_at, accepted_at, declined_at, ended_at
		FROM calls WHERE room_id = ?`, roomID,
	).Scan(&rec.RoomID, &rec.CallerID, &rec.CalleeID, &rec.Status, &created, &accepted, &declined, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallRecord{}, fmt.Errorf("call %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("select call %s: %w", roomID, err)
	}
	rec.CreatedAt = fromNanos(created)
	rec.AcceptedAt = fromNanos(accepted)
	rec.DeclinedAt = fromNanos(declined)
	rec.EndedAt = fromNanos(ended)
	return rec, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
