package app

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"vault_payday/internal/domain/economy"
	"vault_payday/internal/domain/payday"
	"vault_payday/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PermissionSource answers permission-node checks for a principal.
type PermissionSource interface {
	Has(identity uuid.UUID, node string) bool
}

// EngineConfig carries the validated tick and payout settings. Construction
// happens from infra config, which rejects non-positive values at startup.
type EngineConfig struct {
	ThresholdMinutes      int64
	TickInterval          time.Duration
	MaxPerTick            int
	AutoSaveOnTick        bool
	MultipliersEnabled    bool
	PermissionMultipliers map[string]float64
}

// Engine drives the periodic payday pass: advance accrued minutes for active
// principals, detect threshold crossings and disburse the multiplier-adjusted
// pending balance.
type Engine struct {
	cache     *Cache
	depositor economy.Depositor
	perms     PermissionSource
	notifier  economy.Notifier
	metrics   *metrics.Metrics
	log       *logrus.Logger
	cfg       EngineConfig

	// cursor rotates the starting point across ticks so a population larger
	// than MaxPerTick is still covered eventually.
	cursor int
}

func NewEngine(cache *Cache, depositor economy.Depositor, perms PermissionSource, notifier economy.Notifier, m *metrics.Metrics, log *logrus.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		cache:     cache,
		depositor: depositor,
		perms:     perms,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Tick runs one accrual/payout pass over the principals that are both cached
// and connected. Records cached only because an offline credit landed on them
// accrue nothing. The scheduler guarantees ticks do not overlap, so the
// rotation cursor needs no locking.
func (e *Engine) Tick(ctx context.Context) {
	ids := e.cache.ConnectedIdentities()
	e.metrics.SetActivePrincipals(len(ids))
	if len(ids) == 0 {
		return
	}

	// Map iteration order is random; sort so the cursor walks a stable ring.
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	minutesToAdd := int64(e.cfg.TickInterval/time.Second) / 60
	if minutesToAdd < 1 {
		minutesToAdd = 1
	}

	limit := e.cfg.MaxPerTick
	if limit > len(ids) {
		limit = len(ids)
	}

	start := e.cursor % len(ids)
	for i := 0; i < limit; i++ {
		e.processTick(ctx, ids[(start+i)%len(ids)], minutesToAdd)
	}
	e.cursor = start + limit

	e.log.WithFields(logrus.Fields{
		"processed": limit,
		"active":    len(ids),
	}).Debug("Payday tick completed")
}

func (e *Engine) processTick(ctx context.Context, identity uuid.UUID, minutesToAdd int64) {
	var (
		paidOut bool
		touched bool
	)
	touched = e.cache.Update(identity, func(rec *payday.Record) {
		rec.AddMinutes(minutesToAdd)
		if !rec.ReadyForPayout(e.cfg.ThresholdMinutes) {
			return
		}

		if rec.PendingBalance <= 0 {
			// A zero-balance crossing still completes the cycle.
			rec.ResetCycle()
			e.metrics.ZeroBalanceCycle()
			paidOut = true
			return
		}

		amount := rec.PendingBalance * e.multiplierFor(identity)
		if err := e.depositor.Deposit(ctx, identity, amount); err != nil {
			// Nothing is reset: the threshold condition still holds and the
			// payout is re-attempted on the next tick.
			e.metrics.PayoutFailed()
			e.log.WithError(err).WithFields(logrus.Fields{
				"identity": identity,
				"amount":   amount,
			}).Warn("Disbursement failed, will retry next tick")
			return
		}

		rec.ResetCycle()
		paidOut = true
		e.metrics.PayoutCompleted(amount)
		e.log.WithFields(logrus.Fields{
			"identity": identity,
			"name":     rec.DisplayName,
			"amount":   fmt.Sprintf("%.2f", amount),
		}).Info("Payday processed")
		e.notifier.Notify(identity, fmt.Sprintf("Payday! You received %.2f after %d minutes.", amount, e.cfg.ThresholdMinutes))
	})

	if touched && (paidOut || e.cfg.AutoSaveOnTick) {
		e.cache.SaveAsync(identity)
	}
}

// multiplierFor returns the payout multiplier for a principal: at least 1.0,
// raised to the highest matched permission-tier multiplier when enabled.
func (e *Engine) multiplierFor(identity uuid.UUID) float64 {
	if !e.cfg.MultipliersEnabled {
		return 1.0
	}
	multiplier := 1.0
	for node, value := range e.cfg.PermissionMultipliers {
		if value > multiplier && e.perms.Has(identity, node) {
			multiplier = value
		}
	}
	return multiplier
}
