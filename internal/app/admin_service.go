package app

import (
	"context"
	"fmt"

	"vault_payday/internal/domain/payday"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BackupStore is implemented by stores that can snapshot themselves to disk.
type BackupStore interface {
	Backup(ctx context.Context, dir string) (string, error)
}

// ProgressInfo is the read model returned by Info.
type ProgressInfo struct {
	Record           payday.Record
	RemainingMinutes int64
	ProgressPercent  float64
	Ready            bool
}

// Stats aggregates cache and store counters for the admin surface.
type Stats struct {
	Active         int   `json:"active"`
	Tracked        int   `json:"tracked"`
	PendingPayouts int   `json:"pendingPayouts"`
	TotalCycles    int64 `json:"totalCycles"`
}

// AdminService is the thin orchestration layer for overrides and reads over
// the active cache and the persistent store.
type AdminService struct {
	cache            *Cache
	repo             payday.Repository
	backups          BackupStore
	backupDir        string
	thresholdMinutes int64
	log              *logrus.Logger
}

func NewAdminService(cache *Cache, repo payday.Repository, backups BackupStore, backupDir string, thresholdMinutes int64, log *logrus.Logger) *AdminService {
	return &AdminService{
		cache:            cache,
		repo:             repo,
		backups:          backups,
		backupDir:        backupDir,
		thresholdMinutes: thresholdMinutes,
		log:              log,
	}
}

// Reset zeroes the principal's accrued minutes and pending balance.
func (s *AdminService) Reset(ctx context.Context, identity uuid.UUID) error {
	if err := s.cache.AdminReset(ctx, identity); err != nil {
		return err
	}
	s.log.WithField("identity", identity).Info("Admin reset payday progress")
	return nil
}

// SetTime overwrites the principal's accrued minutes. Values outside
// [0, threshold] are rejected with ErrMinutesOutOfRange.
func (s *AdminService) SetTime(ctx context.Context, identity uuid.UUID, minutes int64) error {
	if err := s.cache.AdminSetTime(ctx, identity, minutes); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"identity": identity,
		"minutes":  minutes,
	}).Info("Admin set payday time")
	return nil
}

// Info returns a snapshot of the principal's progress. Pure read.
func (s *AdminService) Info(ctx context.Context, identity uuid.UUID) (*ProgressInfo, error) {
	rec, err := s.cache.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &ProgressInfo{
		Record:           *rec,
		RemainingMinutes: rec.RemainingMinutes(s.thresholdMinutes),
		ProgressPercent:  rec.ProgressPercent(s.thresholdMinutes),
		Ready:            rec.ReadyForPayout(s.thresholdMinutes),
	}, nil
}

// AggregateStats composes cache and store counts. Pure read.
func (s *AdminService) AggregateStats(ctx context.Context) (*Stats, error) {
	tracked, err := s.repo.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tracked records: %w", err)
	}
	pending, err := s.repo.CountWithPendingBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending payouts: %w", err)
	}
	cycles, err := s.repo.SumCompletedCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum completed cycles: %w", err)
	}
	return &Stats{
		Active:         s.cache.ActiveCount(),
		Tracked:        tracked,
		PendingPayouts: pending,
		TotalCycles:    cycles,
	}, nil
}

// Backup snapshots the persistent store to the configured backup directory.
func (s *AdminService) Backup(ctx context.Context) (string, error) {
	if s.backups == nil {
		return "", fmt.Errorf("store does not support backups")
	}
	path, err := s.backups.Backup(ctx, s.backupDir)
	if err != nil {
		return "", fmt.Errorf("backup failed: %w", err)
	}
	s.log.WithField("path", path).Info("Database backup created")
	return path, nil
}
