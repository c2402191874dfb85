package payday

import (
	"time"

	"github.com/google/uuid"
)

// Record is the per-principal payday aggregate: accrued active minutes and the
// monetary balance redirected from intercepted payments, plus cycle bookkeeping.
// Identity is the stable key; DisplayName is informational and may change.
type Record struct {
	Identity       uuid.UUID
	DisplayName    string
	AccruedMinutes int64
	PendingBalance float64
	LastUpdated    time.Time
	CycleCount     int64
}

// NewRecord returns a zeroed record for a principal seen for the first time.
func NewRecord(identity uuid.UUID, displayName string) *Record {
	return &Record{
		Identity:    identity,
		DisplayName: displayName,
		LastUpdated: time.Now(),
	}
}

func (r *Record) touch() {
	r.LastUpdated = time.Now()
}

// AddMinutes folds played time into the current cycle.
func (r *Record) AddMinutes(minutes int64) {
	r.AccruedMinutes += minutes
	r.touch()
}

// AddPendingBalance accumulates an intercepted payment amount.
func (r *Record) AddPendingBalance(amount float64) {
	r.PendingBalance += amount
	r.touch()
}

// SetDisplayName updates the cached label without affecting identity.
func (r *Record) SetDisplayName(name string) {
	r.DisplayName = name
	r.touch()
}

// SetMinutes overwrites the accrued minutes; range checks are the caller's job.
func (r *Record) SetMinutes(minutes int64) {
	r.AccruedMinutes = minutes
	r.touch()
}

// ResetCycle completes a payday cycle: minutes and pending balance go back to
// zero and the completed-cycle counter advances. A zero-balance crossing still
// counts as a completed cycle.
func (r *Record) ResetCycle() {
	r.AccruedMinutes = 0
	r.PendingBalance = 0
	r.CycleCount++
	r.touch()
}

// ResetProgress is the administrative reset: minutes and balance are zeroed
// but the completed-cycle counter is left alone.
func (r *Record) ResetProgress() {
	r.AccruedMinutes = 0
	r.PendingBalance = 0
	r.touch()
}

// ReadyForPayout reports whether the accrued minutes have crossed the threshold.
func (r *Record) ReadyForPayout(thresholdMinutes int64) bool {
	return r.AccruedMinutes >= thresholdMinutes
}

// RemainingMinutes returns how many minutes are left in the current cycle.
func (r *Record) RemainingMinutes(thresholdMinutes int64) int64 {
	if remaining := thresholdMinutes - r.AccruedMinutes; remaining > 0 {
		return remaining
	}
	return 0
}

// ProgressPercent returns cycle completion in the range [0, 100].
func (r *Record) ProgressPercent(thresholdMinutes int64) float64 {
	if thresholdMinutes <= 0 {
		return 100.0
	}
	pct := float64(r.AccruedMinutes) / float64(thresholdMinutes) * 100.0
	if pct > 100.0 {
		return 100.0
	}
	return pct
}
