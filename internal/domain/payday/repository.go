package payday

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the operations for persisting and retrieving Records.
// Implementations serialize their own storage access; callers issue independent
// load/save calls and treat failures as retryable.
type Repository interface {
	// Load returns the stored record for identity. When no record exists a
	// zeroed one is created with fallbackName, saved, and returned: Load never
	// reports "not found" for a valid identity.
	Load(ctx context.Context, identity uuid.UUID, fallbackName string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, identity uuid.UUID) error
	CountAll(ctx context.Context) (int, error)
	CountWithPendingBalance(ctx context.Context) (int, error)
	SumCompletedCycles(ctx context.Context) (int64, error)
}
