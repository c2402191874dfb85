package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"vault_payday/internal/domain/payday"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(repo *fakeRepo, presence *fakePresence) *Cache {
	return NewCache(repo, presence, nil, testLogger(), 60)
}

func waitForActive(t *testing.T, c *Cache, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.ActiveCount() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOnConnectLoadsRecord(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()
	presence.connect(id, "steve")

	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.Identity)
	assert.Equal(t, "steve", rec.DisplayName)
}

func TestOnConnectReconnectIsNoop(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()
	presence.connect(id, "steve")

	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	// Mutate the cached record, then "reconnect": the cached entry must
	// survive and the mutation must not be overwritten by a reload.
	require.NoError(t, cache.CreditPending(context.Background(), id, 4.5))
	cache.OnConnect(id, "steve")

	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, rec.PendingBalance, 0.001)
}

func TestDisconnectBeforeLoadResolvesDoesNotResurrect(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	release := make(chan struct{})
	repo.blockLoad = release

	presence.connect(id, "steve")
	cache.OnConnect(id, "steve")

	presence.disconnect(id)
	cache.OnDisconnect(context.Background(), id)

	close(release)

	// The load completion must not install an entry for a principal that
	// already disconnected.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, cache.ActiveCount())
}

func TestDisconnectFoldsSessionMinutes(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	current := time.Now()
	cache.now = func() time.Time { return current }

	presence.connect(id, "steve")
	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	// 5 minutes 30 seconds of session time folds in as 5 whole minutes.
	current = current.Add(5*time.Minute + 30*time.Second)
	presence.disconnect(id)
	cache.OnDisconnect(context.Background(), id)

	assert.Zero(t, cache.ActiveCount())
	stored, ok := repo.stored(id)
	require.True(t, ok)
	assert.EqualValues(t, 5, stored.AccruedMinutes)
}

func TestDisconnectThenReconnectKeepsMinutes(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	presence.connect(id, "steve")
	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	cache.Update(id, func(rec *payday.Record) { rec.AddMinutes(42) })

	presence.disconnect(id)
	cache.OnDisconnect(context.Background(), id)
	assert.Zero(t, cache.ActiveCount())

	presence.connect(id, "steve")
	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 42, rec.AccruedMinutes)
}

func TestCreditDuringDisconnectSaveIsNotLost(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	presence.connect(id, "steve")
	cache.OnConnect(id, "steve")
	waitForActive(t, cache, 1)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	repo.mu.Lock()
	repo.saveStarted, repo.saveRelease = started, release
	repo.mu.Unlock()

	presence.disconnect(id)
	done := make(chan struct{})
	go func() {
		cache.OnDisconnect(context.Background(), id)
		close(done)
	}()

	// The disconnect snapshot is taken; land a credit while its save is
	// still in flight.
	<-started
	require.NoError(t, cache.CreditPending(context.Background(), id, 10.0))

	repo.ungateSaves()
	close(release)
	<-done

	// The record was mutated after the snapshot, so the entry must stay
	// cached with the credit intact instead of being torn out from under it.
	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rec.PendingBalance, 0.001)

	// Reconciliation then evicts and persists the credited record.
	cache.EvictInactive(context.Background())
	assert.Zero(t, cache.ActiveCount())
	stored, ok := repo.stored(id)
	require.True(t, ok)
	assert.InDelta(t, 10.0, stored.PendingBalance, 0.001)
}

func TestCycleResetDuringDisconnectSaveIsNotRolledBack(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()
	rec := payday.NewRecord(id, "steve")
	rec.AddMinutes(60)
	rec.AddPendingBalance(10.0)
	installRecord(cache, rec)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	repo.mu.Lock()
	repo.saveStarted, repo.saveRelease = started, release
	repo.mu.Unlock()

	done := make(chan struct{})
	go func() {
		cache.OnDisconnect(context.Background(), id)
		close(done)
	}()

	// A payout completes between the disconnect snapshot and its save. The
	// cycle reset must survive the eviction, otherwise the store keeps the
	// pre-payout balance and the next session pays it out a second time.
	<-started
	require.True(t, cache.Update(id, func(r *payday.Record) { r.ResetCycle() }))

	repo.ungateSaves()
	close(release)
	<-done

	got, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, got.PendingBalance)
	assert.EqualValues(t, 1, got.CycleCount)

	cache.EvictInactive(context.Background())
	stored, ok := repo.stored(id)
	require.True(t, ok)
	assert.Zero(t, stored.PendingBalance)
	assert.EqualValues(t, 1, stored.CycleCount)
}

func TestOfflineCreditIsPersistedWithoutDisconnect(t *testing.T) {
	repo := newFakeRepo()
	cache := newTestCache(repo, newFakePresence())
	id := uuid.New()

	// No presence, so no disconnect will ever fold this record back to the
	// store; the credit path saves it on its own.
	require.NoError(t, cache.CreditPending(context.Background(), id, 7.5))

	require.Eventually(t, func() bool {
		stored, ok := repo.stored(id)
		return ok && stored.PendingBalance > 7.4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentCreditPendingLosesNothing(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()
	presence.connect(id, "steve")
	installRecord(cache, payday.NewRecord(id, "steve"))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.CreditPending(context.Background(), id, 1.25))
		}()
	}
	wg.Wait()

	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, workers*1.25, rec.PendingBalance, 0.001)
}

func TestCreditPendingLoadsOnMiss(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	// Not connected and not cached: the credit still lands on a freshly
	// loaded record rather than being dropped.
	require.NoError(t, cache.CreditPending(context.Background(), id, 7.5))

	assert.Equal(t, 1, cache.ActiveCount())
	var balance float64
	cache.Update(id, func(rec *payday.Record) { balance = rec.PendingBalance })
	assert.InDelta(t, 7.5, balance, 0.001)
}

func TestCreditPendingRejectsNegativeAmount(t *testing.T) {
	cache := newTestCache(newFakeRepo(), newFakePresence())
	err := cache.CreditPending(context.Background(), uuid.New(), -1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
	assert.Zero(t, cache.ActiveCount())
}

func TestCreditPendingLoadFailurePropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.failLoad = true
	cache := newTestCache(repo, newFakePresence())

	err := cache.CreditPending(context.Background(), uuid.New(), 5)
	assert.Error(t, err)
}

func TestGetNotConnectedReturnsNotActive(t *testing.T) {
	cache := newTestCache(newFakeRepo(), newFakePresence())
	_, err := cache.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestGetFallsBackToSynchronousLoad(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()

	seed := payday.NewRecord(id, "steve")
	seed.AddMinutes(17)
	require.NoError(t, repo.Save(context.Background(), seed))

	// Connected but not cached (e.g. the connect notification was missed).
	presence.connect(id, "steve")
	rec, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 17, rec.AccruedMinutes)
	assert.Equal(t, 1, cache.ActiveCount())
}

func TestAdminSetTimeRejectsOutOfRange(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)
	id := uuid.New()
	rec := payday.NewRecord(id, "steve")
	rec.AddMinutes(10)
	installRecord(cache, rec)

	err := cache.AdminSetTime(context.Background(), id, 1000)
	assert.ErrorIs(t, err, ErrMinutesOutOfRange)
	err = cache.AdminSetTime(context.Background(), id, -1)
	assert.ErrorIs(t, err, ErrMinutesOutOfRange)

	// State untouched by the rejected inputs.
	var minutes int64
	cache.Update(id, func(r *payday.Record) { minutes = r.AccruedMinutes })
	assert.EqualValues(t, 10, minutes)

	require.NoError(t, cache.AdminSetTime(context.Background(), id, 60))
	cache.Update(id, func(r *payday.Record) { minutes = r.AccruedMinutes })
	assert.EqualValues(t, 60, minutes)
}

func TestAdminOpsOnInactiveIdentity(t *testing.T) {
	cache := newTestCache(newFakeRepo(), newFakePresence())
	id := uuid.New()

	assert.ErrorIs(t, cache.AdminReset(context.Background(), id), ErrNotActive)
	assert.ErrorIs(t, cache.AdminSetTime(context.Background(), id, 10), ErrNotActive)
}

func TestAdminResetZeroesProgress(t *testing.T) {
	repo := newFakeRepo()
	cache := newTestCache(repo, newFakePresence())
	id := uuid.New()
	rec := payday.NewRecord(id, "steve")
	rec.AddMinutes(30)
	rec.AddPendingBalance(12)
	rec.CycleCount = 2
	installRecord(cache, rec)

	require.NoError(t, cache.AdminReset(context.Background(), id))

	got, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, got.AccruedMinutes)
	assert.Zero(t, got.PendingBalance)
	assert.EqualValues(t, 2, got.CycleCount)

	stored, ok := repo.stored(id)
	require.True(t, ok)
	assert.Zero(t, stored.AccruedMinutes)
}

func TestEvictInactiveSavesAndDrops(t *testing.T) {
	repo := newFakeRepo()
	presence := newFakePresence()
	cache := newTestCache(repo, presence)

	gone := payday.NewRecord(uuid.New(), "gone")
	gone.AddMinutes(9)
	installRecord(cache, gone)

	staying := payday.NewRecord(uuid.New(), "staying")
	installRecord(cache, staying)
	presence.connect(staying.Identity, "staying")

	cache.EvictInactive(context.Background())

	assert.Equal(t, 1, cache.ActiveCount())
	stored, ok := repo.stored(gone.Identity)
	require.True(t, ok)
	assert.EqualValues(t, 9, stored.AccruedMinutes)
}

func TestFlushSavesEverythingAndClears(t *testing.T) {
	repo := newFakeRepo()
	cache := newTestCache(repo, newFakePresence())

	for i := 0; i < 3; i++ {
		rec := payday.NewRecord(uuid.New(), "p")
		rec.AddMinutes(int64(i + 1))
		installRecord(cache, rec)
	}

	require.NoError(t, cache.Flush(context.Background()))
	assert.Zero(t, cache.ActiveCount())

	count, err := repo.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
