package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"vault_payday/internal/domain/payday"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned by Delete when no row matches the identity.
var ErrRecordNotFound = fmt.Errorf("payday record not found")

// SQLitePaydayRepository persists payday records in a single file-backed
// SQLite table, upserting by identity.
type SQLitePaydayRepository struct {
	db   *sql.DB
	path string
}

func NewSQLitePaydayRepository(db *sql.DB, path string) *SQLitePaydayRepository {
	return &SQLitePaydayRepository{db: db, path: path}
}

func (r *SQLitePaydayRepository) Load(ctx context.Context, identity uuid.UUID, fallbackName string) (*payday.Record, error) {
	query := `SELECT identity, display_name, minutes_played, pending_balance, last_updated, total_paydays
              FROM payday_data WHERE identity = ?`

	var (
		rawIdentity string
		lastUpdated int64
		rec         payday.Record
	)
	err := r.db.QueryRowContext(ctx, query, identity.String()).Scan(
		&rawIdentity, &rec.DisplayName, &rec.AccruedMinutes, &rec.PendingBalance, &lastUpdated, &rec.CycleCount)
	if err != nil {
		if err == sql.ErrNoRows {
			// First sighting of this identity: create, save and return a
			// zeroed record so Load never reports "not found".
			fresh := payday.NewRecord(identity, fallbackName)
			if err := r.Save(ctx, fresh); err != nil {
				return nil, fmt.Errorf("error saving fresh payday record: %w", err)
			}
			return fresh, nil
		}
		return nil, fmt.Errorf("error loading payday record: %w", err)
	}

	rec.Identity, err = uuid.Parse(rawIdentity)
	if err != nil {
		return nil, fmt.Errorf("error parsing stored identity %q: %w", rawIdentity, err)
	}
	rec.LastUpdated = time.UnixMilli(lastUpdated)
	return &rec, nil
}

func (r *SQLitePaydayRepository) Save(ctx context.Context, record *payday.Record) error {
	query := `INSERT INTO payday_data
              (identity, display_name, minutes_played, pending_balance, last_updated, total_paydays)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(identity) DO UPDATE SET
                  display_name = excluded.display_name,
                  minutes_played = excluded.minutes_played,
                  pending_balance = excluded.pending_balance,
                  last_updated = excluded.last_updated,
                  total_paydays = excluded.total_paydays`

	_, err := r.db.ExecContext(ctx, query,
		record.Identity.String(),
		record.DisplayName,
		record.AccruedMinutes,
		record.PendingBalance,
		record.LastUpdated.UnixMilli(),
		record.CycleCount,
	)
	if err != nil {
		return fmt.Errorf("error saving payday record for %s: %w", record.Identity, err)
	}
	return nil
}

func (r *SQLitePaydayRepository) Delete(ctx context.Context, identity uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payday_data WHERE identity = ?`, identity.String())
	if err != nil {
		return fmt.Errorf("error deleting payday record for %s: %w", identity, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted rows for %s: %w", identity, err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *SQLitePaydayRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payday_data`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting payday records: %w", err)
	}
	return count, nil
}

func (r *SQLitePaydayRepository) CountWithPendingBalance(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payday_data WHERE pending_balance > 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting pending payouts: %w", err)
	}
	return count, nil
}

func (r *SQLitePaydayRepository) SumCompletedCycles(ctx context.Context) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_paydays), 0) FROM payday_data`).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("error summing completed cycles: %w", err)
	}
	return sum, nil
}

// Backup copies the database file into dir with a timestamped name and
// returns the backup path.
func (r *SQLitePaydayRepository) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating backup directory: %w", err)
	}

	// Flush WAL content into the main file so the copy is complete.
	if _, err := r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", fmt.Errorf("error checkpointing database before backup: %w", err)
	}

	src, err := os.Open(r.path)
	if err != nil {
		return "", fmt.Errorf("error opening database file for backup: %w", err)
	}
	defer src.Close()

	backupPath := filepath.Join(dir, fmt.Sprintf("payday_backup_%d.db", time.Now().UnixMilli()))
	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("error creating backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("error copying database file: %w", err)
	}
	return backupPath, nil
}
