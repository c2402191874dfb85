package economy

import (
	"context"

	"github.com/google/uuid"
)

// Depositor is the external disbursement sink. A returned error means the
// deposit did not happen and the caller may retry later.
type Depositor interface {
	Deposit(ctx context.Context, identity uuid.UUID, amount float64) error
}

// Notifier delivers best-effort progress messages to a principal. Delivery is
// not guaranteed and callers ignore failures.
type Notifier interface {
	Notify(identity uuid.UUID, message string)
}
