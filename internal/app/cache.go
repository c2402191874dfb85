package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vault_payday/internal/domain/payday"
	"vault_payday/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Application-level errors surfaced to the admin/query callers.
var (
	ErrNotActive         = errors.New("no active payday record for identity")
	ErrNegativeAmount    = errors.New("credit amount must not be negative")
	ErrMinutesOutOfRange = errors.New("minutes outside the allowed cycle range")
)

// Presence reports which principals are currently connected. It is the
// host system's view, used to gate cache-miss loads and to reconcile the
// cache against missed disconnect notifications.
type Presence interface {
	// Lookup returns the current display name of a connected principal;
	// ok is false when the principal is not connected.
	Lookup(identity uuid.UUID) (name string, ok bool)
	Connected() []uuid.UUID
}

const storeOpTimeout = 10 * time.Second

// cacheEntry guards a single principal's record. All mutations of a record
// go through the entry mutex, so per-identity operations serialize without
// a cache-wide lock. gen counts mutations; evicted flips once, under mu,
// when the entry leaves the map. A caller that took the pointer before the
// eviction must re-fetch instead of writing into the orphan.
type cacheEntry struct {
	mu      sync.Mutex
	rec     *payday.Record
	gen     uint64
	evicted bool
}

// Cache is the authoritative in-memory view of currently-relevant payday
// records. The backing store lags behind it; on conflict the cache wins.
type Cache struct {
	repo             payday.Repository
	presence         Presence
	metrics          *metrics.Metrics
	log              *logrus.Logger
	thresholdMinutes int64

	mu          sync.RWMutex
	entries     map[uuid.UUID]*cacheEntry
	connectedAt map[uuid.UUID]time.Time

	now func() time.Time
}

func NewCache(repo payday.Repository, presence Presence, m *metrics.Metrics, log *logrus.Logger, thresholdMinutes int64) *Cache {
	return &Cache{
		repo:             repo,
		presence:         presence,
		metrics:          m,
		log:              log,
		thresholdMinutes: thresholdMinutes,
		entries:          make(map[uuid.UUID]*cacheEntry),
		connectedAt:      make(map[uuid.UUID]time.Time),
		now:              time.Now,
	}
}

// OnConnect records the connect time and loads the principal's record in the
// background. A reconnect while the record is still cached is a no-op. Until
// the load resolves the record is simply not yet available to readers.
func (c *Cache) OnConnect(identity uuid.UUID, displayName string) {
	c.mu.Lock()
	if _, connected := c.connectedAt[identity]; connected {
		c.mu.Unlock()
		return
	}
	c.connectedAt[identity] = c.now()
	_, cached := c.entries[identity]
	c.mu.Unlock()

	if cached {
		// Disconnect/reconnect race: the record never left the cache.
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()

		rec, err := c.repo.Load(ctx, identity, displayName)
		if err != nil {
			c.metrics.StoreError()
			c.log.WithError(err).WithField("identity", identity).Error("Failed to load payday record on connect")
			return
		}
		if !c.install(identity, rec) {
			c.log.WithField("identity", identity).Debug("Discarding loaded record, principal disconnected during load")
		}
	}()
}

// install places a freshly loaded record into the cache, unless the principal
// disconnected while the load was in flight or another load won the race.
func (c *Cache) install(identity uuid.UUID, rec *payday.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, connected := c.connectedAt[identity]; !connected {
		return false
	}
	if _, cached := c.entries[identity]; cached {
		return false
	}
	c.entries[identity] = &cacheEntry{rec: rec}
	return true
}

// OnDisconnect folds the final partial session into accrued minutes, saves the
// record, and evicts it. The save happens before eviction so an immediate
// reconnect never observes a store that is missing the folded session time.
func (c *Cache) OnDisconnect(ctx context.Context, identity uuid.UUID) {
	c.mu.Lock()
	joinedAt, hadJoinTime := c.connectedAt[identity]
	delete(c.connectedAt, identity)
	ent := c.entries[identity]
	c.mu.Unlock()

	if ent == nil {
		// Load still in flight; install will notice the missing connect time.
		return
	}

	if hadJoinTime {
		if minutes := int64(c.now().Sub(joinedAt) / time.Minute); minutes > 0 {
			ent.mu.Lock()
			orphaned := ent.evicted
			if !orphaned {
				ent.rec.AddMinutes(minutes)
				ent.gen++
			}
			ent.mu.Unlock()
			if orphaned {
				// Reconciliation evicted the entry between the lookup and the
				// fold; the session remainder goes through the store instead.
				c.foldOffline(ctx, identity, minutes)
				return
			}
		}
	}

	if err := c.evict(ctx, identity, ent); err != nil {
		c.log.WithError(err).WithField("identity", identity).Error("Failed to save payday record on disconnect")
	}
}

// evict persists the entry and removes it from the map, unless the record was
// mutated while the save was in flight or the principal reconnected. In both
// cases the entry stays cached so the late mutation is never lost; a failed
// save also keeps it, to be retried by reconciliation or the next flush.
func (c *Cache) evict(ctx context.Context, identity uuid.UUID, ent *cacheEntry) error {
	ent.mu.Lock()
	if ent.evicted {
		ent.mu.Unlock()
		return nil
	}
	gen := ent.gen
	snapshot := *ent.rec
	ent.mu.Unlock()

	if err := c.repo.Save(ctx, &snapshot); err != nil {
		c.metrics.StoreError()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, reconnected := c.connectedAt[identity]; reconnected {
		return nil
	}
	if c.entries[identity] != ent {
		return nil
	}
	ent.mu.Lock()
	if ent.gen != gen {
		ent.mu.Unlock()
		return nil
	}
	ent.evicted = true
	ent.mu.Unlock()
	delete(c.entries, identity)
	return nil
}

// foldOffline applies session minutes straight to the store for a principal
// whose entry already left the cache.
func (c *Cache) foldOffline(ctx context.Context, identity uuid.UUID, minutes int64) {
	rec, err := c.repo.Load(ctx, identity, identity.String())
	if err == nil {
		rec.AddMinutes(minutes)
		err = c.repo.Save(ctx, rec)
	}
	if err != nil {
		c.metrics.StoreError()
		c.log.WithError(err).WithField("identity", identity).Error("Failed to persist session minutes after eviction")
	}
}

func (c *Cache) entry(identity uuid.UUID) *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[identity]
}

// loadAndInstall is the synchronous cache-miss fallback. It blocks on the
// store and installs the loaded record unless a concurrent load beat it.
func (c *Cache) loadAndInstall(ctx context.Context, identity uuid.UUID, displayName string) (*cacheEntry, error) {
	rec, err := c.repo.Load(ctx, identity, displayName)
	if err != nil {
		c.metrics.StoreError()
		return nil, fmt.Errorf("payday data unavailable for %s: %w", identity, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ent, cached := c.entries[identity]
	if !cached {
		ent = &cacheEntry{rec: rec}
		c.entries[identity] = ent
	}
	return ent, nil
}

// Get returns a snapshot of the active record. On a cache miss for a
// connected principal it falls back to a synchronous load; for anyone else
// it reports ErrNotActive, which is distinct from a zero-valued record.
func (c *Cache) Get(ctx context.Context, identity uuid.UUID) (*payday.Record, error) {
	for {
		ent := c.entry(identity)
		if ent == nil {
			name, connected := c.presence.Lookup(identity)
			if !connected {
				return nil, ErrNotActive
			}
			var err error
			if ent, err = c.loadAndInstall(ctx, identity, name); err != nil {
				return nil, err
			}
		}

		ent.mu.Lock()
		if ent.evicted {
			ent.mu.Unlock()
			continue
		}
		snapshot := *ent.rec
		ent.mu.Unlock()
		return &snapshot, nil
	}
}

// CreditPending adds amount to the principal's pending balance, loading the
// record first when it is not cached. The credit is never silently dropped:
// if the load fails the error propagates to the caller, and a credit landing
// while the entry is being evicted re-fetches a live entry.
func (c *Cache) CreditPending(ctx context.Context, identity uuid.UUID, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}

	for {
		ent := c.entry(identity)
		connected := true
		if ent == nil {
			var name string
			if name, connected = c.presence.Lookup(identity); !connected {
				name = identity.String()
			}
			var err error
			if ent, err = c.loadAndInstall(ctx, identity, name); err != nil {
				return err
			}
		}

		ent.mu.Lock()
		if ent.evicted {
			ent.mu.Unlock()
			continue
		}
		ent.rec.AddPendingBalance(amount)
		ent.gen++
		ent.mu.Unlock()

		if !connected {
			// The principal is offline, so no disconnect will persist this.
			c.SaveAsync(identity)
		}
		return nil
	}
}

// Update runs fn against the active record under its entry lock. It reports
// false when the identity has no active record.
func (c *Cache) Update(identity uuid.UUID, fn func(rec *payday.Record)) bool {
	for {
		ent := c.entry(identity)
		if ent == nil {
			return false
		}
		ent.mu.Lock()
		if ent.evicted {
			ent.mu.Unlock()
			continue
		}
		fn(ent.rec)
		ent.gen++
		ent.mu.Unlock()
		return true
	}
}

// AdminReset zeroes accrued minutes and pending balance of the active record.
func (c *Cache) AdminReset(ctx context.Context, identity uuid.UUID) error {
	var snapshot payday.Record
	if !c.Update(identity, func(rec *payday.Record) {
		rec.ResetProgress()
		snapshot = *rec
	}) {
		return ErrNotActive
	}

	if err := c.repo.Save(ctx, &snapshot); err != nil {
		// Transient store errors do not roll back the cache.
		c.metrics.StoreError()
		c.log.WithError(err).WithField("identity", identity).Error("Failed to persist admin reset")
	}
	return nil
}

// AdminSetTime overwrites the accrued minutes of the active record. Input
// outside [0, threshold] is rejected and the record is left untouched.
func (c *Cache) AdminSetTime(ctx context.Context, identity uuid.UUID, minutes int64) error {
	if minutes < 0 || minutes > c.thresholdMinutes {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrMinutesOutOfRange, minutes, c.thresholdMinutes)
	}
	var snapshot payday.Record
	if !c.Update(identity, func(rec *payday.Record) {
		rec.SetMinutes(minutes)
		snapshot = *rec
	}) {
		return ErrNotActive
	}

	if err := c.repo.Save(ctx, &snapshot); err != nil {
		c.metrics.StoreError()
		c.log.WithError(err).WithField("identity", identity).Error("Failed to persist admin set-time")
	}
	return nil
}

// ConnectedIdentities snapshots the identities that are both cached and
// connected. Entries installed by credits to offline principals are excluded;
// they wait for reconciliation, they do not accrue time.
func (c *Cache) ConnectedIdentities() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(c.entries))
	for id := range c.entries {
		if _, connected := c.connectedAt[id]; connected {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveCount returns the number of cached records.
func (c *Cache) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save synchronously persists the active record for identity.
func (c *Cache) Save(ctx context.Context, identity uuid.UUID) error {
	for {
		ent := c.entry(identity)
		if ent == nil {
			return ErrNotActive
		}
		ent.mu.Lock()
		if ent.evicted {
			ent.mu.Unlock()
			continue
		}
		snapshot := *ent.rec
		ent.mu.Unlock()
		return c.repo.Save(ctx, &snapshot)
	}
}

// SaveAsync persists the active record without blocking the caller.
// Persistence failures are logged, not fatal; the cache stays authoritative.
func (c *Cache) SaveAsync(identity uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := c.Save(ctx, identity); err != nil && !errors.Is(err, ErrNotActive) {
			c.metrics.StoreError()
			c.log.WithError(err).WithField("identity", identity).Warn("Async payday save failed")
		}
	}()
}

// EvictInactive reconciles the cache against the presence source, dropping
// entries whose principal is no longer connected. It guards against missed
// disconnect notifications; records are saved before leaving the cache, and
// a record whose save fails stays cached for the next pass.
func (c *Cache) EvictInactive(ctx context.Context) {
	connected := make(map[uuid.UUID]struct{})
	for _, id := range c.presence.Connected() {
		connected[id] = struct{}{}
	}

	c.mu.Lock()
	stale := make(map[uuid.UUID]*cacheEntry)
	for id, ent := range c.entries {
		if _, ok := connected[id]; !ok {
			stale[id] = ent
		}
	}
	for id := range c.connectedAt {
		if _, ok := connected[id]; !ok {
			delete(c.connectedAt, id)
		}
	}
	c.mu.Unlock()

	for id, ent := range stale {
		if err := c.evict(ctx, id, ent); err != nil {
			c.log.WithError(err).WithField("identity", id).Warn("Failed to save record evicted by reconciliation")
		}
	}

	if len(stale) > 0 {
		c.log.WithField("evicted", len(stale)).Info("Cache reconciliation evicted stale entries")
	}
}

// Flush synchronously saves every active record and clears the cache. Called
// at shutdown after the tick and reconciliation jobs have stopped.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	entries := make(map[uuid.UUID]*cacheEntry, len(c.entries))
	for id, ent := range c.entries {
		entries[id] = ent
	}
	c.connectedAt = make(map[uuid.UUID]time.Time)
	c.mu.Unlock()

	var firstErr error
	for id, ent := range entries {
		if err := c.evict(ctx, id, ent); err != nil {
			c.log.WithError(err).WithField("identity", id).Error("Failed to flush payday record at shutdown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
