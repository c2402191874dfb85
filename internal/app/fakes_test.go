package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"vault_payday/internal/domain/payday"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeRepo is an in-memory payday.Repository. blockLoad, when set, makes
// Load wait until the channel is closed, to exercise in-flight load races.
// saveStarted/saveRelease gate Save the same way: Save signals saveStarted,
// then waits for saveRelease before touching the records map.
type fakeRepo struct {
	mu          sync.Mutex
	records     map[uuid.UUID]payday.Record
	failLoad    bool
	failSave    bool
	saveCount   int
	blockLoad   chan struct{}
	saveStarted chan struct{}
	saveRelease chan struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]payday.Record)}
}

func (f *fakeRepo) Load(ctx context.Context, identity uuid.UUID, fallbackName string) (*payday.Record, error) {
	f.mu.Lock()
	block := f.blockLoad
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return nil, errors.New("load failed")
	}
	if stored, ok := f.records[identity]; ok {
		rec := stored
		return &rec, nil
	}
	fresh := payday.NewRecord(identity, fallbackName)
	f.records[identity] = *fresh
	return fresh, nil
}

func (f *fakeRepo) Save(ctx context.Context, record *payday.Record) error {
	f.mu.Lock()
	started, release := f.saveStarted, f.saveRelease
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("save failed")
	}
	f.records[record.Identity] = *record
	f.saveCount++
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, identity uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, identity)
	return nil
}

func (f *fakeRepo) CountAll(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeRepo) CountWithPendingBalance(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.records {
		if rec.PendingBalance > 0 {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) SumCompletedCycles(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, rec := range f.records {
		sum += rec.CycleCount
	}
	return sum, nil
}

func (f *fakeRepo) ungateSaves() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveStarted, f.saveRelease = nil, nil
}

func (f *fakeRepo) stored(identity uuid.UUID) (payday.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[identity]
	return rec, ok
}

// fakePresence is a settable connected-principal view.
type fakePresence struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
}

func newFakePresence() *fakePresence {
	return &fakePresence{names: make(map[uuid.UUID]string)}
}

func (f *fakePresence) connect(identity uuid.UUID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[identity] = name
}

func (f *fakePresence) disconnect(identity uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.names, identity)
}

func (f *fakePresence) Lookup(identity uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[identity]
	return name, ok
}

func (f *fakePresence) Connected() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.names))
	for id := range f.names {
		ids = append(ids, id)
	}
	return ids
}

// fakePerms grants permission nodes per identity.
type fakePerms struct {
	grants map[uuid.UUID]map[string]struct{}
}

func newFakePerms() *fakePerms {
	return &fakePerms{grants: make(map[uuid.UUID]map[string]struct{})}
}

func (f *fakePerms) grant(identity uuid.UUID, node string) {
	if f.grants[identity] == nil {
		f.grants[identity] = make(map[string]struct{})
	}
	f.grants[identity][node] = struct{}{}
}

func (f *fakePerms) Has(identity uuid.UUID, node string) bool {
	_, ok := f.grants[identity][node]
	return ok
}

type depositCall struct {
	identity uuid.UUID
	amount   float64
}

// fakeDepositor records deposits and can be told to fail.
type fakeDepositor struct {
	mu    sync.Mutex
	calls []depositCall
	err   error
}

func (f *fakeDepositor) Deposit(ctx context.Context, identity uuid.UUID, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, depositCall{identity: identity, amount: amount})
	return nil
}

func (f *fakeDepositor) deposits() []depositCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]depositCall(nil), f.calls...)
}

func (f *fakeDepositor) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeNotifier collects messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(identity uuid.UUID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

// installRecord seeds the cache with an active, connected record, bypassing
// the connect-driven load.
func installRecord(c *Cache, rec *payday.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.Identity] = &cacheEntry{rec: rec}
	c.connectedAt[rec.Identity] = c.now()
}
