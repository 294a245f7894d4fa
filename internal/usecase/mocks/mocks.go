package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

// MemoryTxManager hands out MemoryTx values. Stores write through immediately
// and register an undo step, so a rollback restores the previous state.
type MemoryTxManager struct {
	BeginFunc func(ctx context.Context) (usecase.Transaction, error)

	mu        sync.Mutex
	commits   int
	rollbacks int
}

func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (m *MemoryTxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	return &MemoryTx{manager: m}, nil
}

// Commits returns the number of committed transactions.
func (m *MemoryTxManager) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns the number of transactions that were rolled back before commit.
func (m *MemoryTxManager) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// MemoryTx is an in-memory transaction with an undo log.
type MemoryTx struct {
	CommitFunc func(ctx context.Context) error

	manager *MemoryTxManager
	mu      sync.Mutex
	undo    []func()
	done    bool
}

// OnRollback registers fn to run if the transaction does not commit.
func (t *MemoryTx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

func (t *MemoryTx) Commit(ctx context.Context) error {
	if t.CommitFunc != nil {
		if err := t.CommitFunc(ctx); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.undo = nil
	if t.manager != nil {
		t.manager.mu.Lock()
		t.manager.commits++
		t.manager.mu.Unlock()
	}
	return nil
}

func (t *MemoryTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	if t.manager != nil {
		t.manager.mu.Lock()
		t.manager.rollbacks++
		t.manager.mu.Unlock()
	}
	return nil
}

func onRollback(tx usecase.Transaction, fn func()) {
	if mtx, ok := tx.(*MemoryTx); ok {
		mtx.OnRollback(fn)
	}
}

// MemoryEventStore is an in-memory implementation of EventStore.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[domain.AccountID][]domain.AccountEvent

	LoadEventsFunc             func(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID) ([]domain.AccountEvent, error)
	LoadEventsAfterVersionFunc func(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, version int64) ([]domain.AccountEvent, error)
	AppendEventsFunc           func(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, expectedVersion int64, events []domain.AccountEvent) error
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[domain.AccountID][]domain.AccountEvent)}
}

func (m *MemoryEventStore) LoadEvents(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID) ([]domain.AccountEvent, error) {
	if m.LoadEventsFunc != nil {
		return m.LoadEventsFunc(ctx, tx, accountID)
	}
	return m.Events(accountID), nil
}

func (m *MemoryEventStore) LoadEventsAfterVersion(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, version int64) ([]domain.AccountEvent, error) {
	if m.LoadEventsAfterVersionFunc != nil {
		return m.LoadEventsAfterVersionFunc(ctx, tx, accountID, version)
	}
	var out []domain.AccountEvent
	for _, e := range m.Events(accountID) {
		if e.Meta().Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryEventStore) AppendEvents(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, expectedVersion int64, events []domain.AccountEvent) error {
	if m.AppendEventsFunc != nil {
		return m.AppendEventsFunc(ctx, tx, accountID, expectedVersion, events)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.events[accountID]
	if v := domain.LastVersion(current); v != expectedVersion {
		return fmt.Errorf("%w: account %s at version %d, expected %d",
			domain.ErrConcurrencyConflict, accountID, v, expectedVersion)
	}
	for i, e := range events {
		if e.Meta().Version != expectedVersion+int64(i)+1 {
			return fmt.Errorf("%w: event version %d", domain.ErrNonContiguousVersion, e.Meta().Version)
		}
	}

	m.events[accountID] = append(append([]domain.AccountEvent(nil), current...), events...)
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.events[accountID] = current
	})
	return nil
}

// Events returns a copy of the stored stream.
func (m *MemoryEventStore) Events(accountID domain.AccountID) []domain.AccountEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.AccountEvent(nil), m.events[accountID]...)
}

// Seed stores events directly, bypassing the version check.
func (m *MemoryEventStore) Seed(accountID domain.AccountID, events ...domain.AccountEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[accountID] = append(m.events[accountID], events...)
}

// MemorySnapshotStore is an in-memory implementation of SnapshotStore.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[domain.AccountID]domain.AccountSnapshot
	saves     int

	LoadFunc         func(ctx context.Context, accountID domain.AccountID) (*domain.AccountSnapshot, error)
	SaveSnapshotFunc func(ctx context.Context, snapshot domain.AccountSnapshot) error
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[domain.AccountID]domain.AccountSnapshot)}
}

func (m *MemorySnapshotStore) Load(ctx context.Context, accountID domain.AccountID) (*domain.AccountSnapshot, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, accountID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if snap, ok := m.snapshots[accountID]; ok {
		return &snap, nil
	}
	return nil, nil
}

func (m *MemorySnapshotStore) SaveSnapshot(ctx context.Context, snapshot domain.AccountSnapshot) error {
	if m.SaveSnapshotFunc != nil {
		return m.SaveSnapshotFunc(ctx, snapshot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.snapshots[snapshot.AccountID]; ok && existing.Version >= snapshot.Version {
		return nil
	}
	m.snapshots[snapshot.AccountID] = snapshot
	m.saves++
	return nil
}

// Saves returns how many snapshots were stored.
func (m *MemorySnapshotStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// MemoryEventPublisher records published events, forgetting them on rollback.
type MemoryEventPublisher struct {
	mu        sync.Mutex
	published []domain.AccountEvent

	PublishFunc func(ctx context.Context, tx usecase.Transaction, events []domain.AccountEvent) error
}

func NewMemoryEventPublisher() *MemoryEventPublisher {
	return &MemoryEventPublisher{}
}

func (m *MemoryEventPublisher) Publish(ctx context.Context, tx usecase.Transaction, events []domain.AccountEvent) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, tx, events)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.published)
	m.published = append(m.published, events...)
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.published = m.published[:before]
	})
	return nil
}

func (m *MemoryEventPublisher) Published() []domain.AccountEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AccountEvent(nil), m.published...)
}

type transactionKey struct {
	accountID     domain.AccountID
	transactionID domain.TransactionID
}

// MemoryProcessedTransactionStore is an in-memory implementation of ProcessedTransactionStore.
type MemoryProcessedTransactionStore struct {
	mu           sync.Mutex
	fingerprints map[transactionKey]string

	RegisterFunc func(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID, fingerprint string, occurredAt time.Time) (usecase.TransactionStatus, error)
}

func NewMemoryProcessedTransactionStore() *MemoryProcessedTransactionStore {
	return &MemoryProcessedTransactionStore{fingerprints: make(map[transactionKey]string)}
}

func (m *MemoryProcessedTransactionStore) Register(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID, fingerprint string, occurredAt time.Time) (usecase.TransactionStatus, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, tx, accountID, transactionID, fingerprint, occurredAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := transactionKey{accountID, transactionID}
	if stored, ok := m.fingerprints[key]; ok {
		if stored != fingerprint {
			return usecase.TransactionCommitted, fmt.Errorf("%w: %s", domain.ErrTransactionIDConflict, transactionID)
		}
		return usecase.TransactionNoEffect, nil
	}
	m.fingerprints[key] = fingerprint
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.fingerprints, key)
	})
	return usecase.TransactionCommitted, nil
}

// Count returns the number of registered transactions.
func (m *MemoryProcessedTransactionStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fingerprints)
}

type reservationKey struct {
	accountID     domain.AccountID
	reservationID domain.ReservationID
}

// MemoryProcessedReservationStore is an in-memory implementation of ProcessedReservationStore.
type MemoryProcessedReservationStore struct {
	mu     sync.Mutex
	phases map[reservationKey]domain.ReservationPhase
	byTx   map[transactionKey]domain.ReservationID

	UpdatePhaseFunc func(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error
}

func NewMemoryProcessedReservationStore() *MemoryProcessedReservationStore {
	return &MemoryProcessedReservationStore{
		phases: make(map[reservationKey]domain.ReservationPhase),
		byTx:   make(map[transactionKey]domain.ReservationID),
	}
}

func (m *MemoryProcessedReservationStore) LookupPhase(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, reservationID domain.ReservationID) (domain.ReservationPhase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	phase, ok := m.phases[reservationKey{accountID, reservationID}]
	return phase, ok, nil
}

func (m *MemoryProcessedReservationStore) LookupReservationByTransaction(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID) (domain.ReservationID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTx[transactionKey{accountID, transactionID}]
	return id, ok, nil
}

func (m *MemoryProcessedReservationStore) Register(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, transactionID domain.TransactionID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := reservationKey{accountID, reservationID}
	tk := transactionKey{accountID, transactionID}
	if _, ok := m.phases[rk]; ok {
		return nil
	}
	m.phases[rk] = phase
	m.byTx[tk] = reservationID
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.phases, rk)
		delete(m.byTx, tk)
	})
	return nil
}

func (m *MemoryProcessedReservationStore) UpdatePhase(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, reservationID domain.ReservationID, phase domain.ReservationPhase, occurredAt time.Time) error {
	if m.UpdatePhaseFunc != nil {
		return m.UpdatePhaseFunc(ctx, tx, accountID, reservationID, phase, occurredAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := reservationKey{accountID, reservationID}
	previous, ok := m.phases[rk]
	if !ok {
		return fmt.Errorf("%w: reservation %s not registered", domain.ErrInconsistentState, reservationID)
	}
	m.phases[rk] = phase
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.phases[rk] = previous
	})
	return nil
}

// SetPhase writes a phase directly, bypassing the transaction.
func (m *MemoryProcessedReservationStore) SetPhase(accountID domain.AccountID, reservationID domain.ReservationID, phase domain.ReservationPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[reservationKey{accountID, reservationID}] = phase
}

// MemoryBalanceStore implements both BalanceProjector and BalanceReader.
type MemoryBalanceStore struct {
	mu    sync.RWMutex
	views map[domain.AccountID]domain.AccountBalanceView
}

func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{views: make(map[domain.AccountID]domain.AccountBalanceView)}
}

func (m *MemoryBalanceStore) Project(ctx context.Context, tx usecase.Transaction, accountID domain.AccountID, events []domain.AccountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *domain.AccountBalanceView
	previous, ok := m.views[accountID]
	if ok {
		current = &previous
	}
	next, err := domain.ProjectBalance(current, events)
	if err != nil {
		return err
	}
	m.views[accountID] = next
	onRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ok {
			m.views[accountID] = previous
		} else {
			delete(m.views, accountID)
		}
	})
	return nil
}

func (m *MemoryBalanceStore) GetBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view, ok := m.views[accountID]
	if !ok {
		return nil, domain.ErrAccountBalanceNotFound
	}
	return &view, nil
}

// Put stores a view directly.
func (m *MemoryBalanceStore) Put(view domain.AccountBalanceView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[view.AccountID] = view
}

// SequentialIDGenerator returns predictable ids.
type SequentialIDGenerator struct {
	mu           sync.Mutex
	accounts     int
	events       int
	reservations int
}

func NewSequentialIDGenerator() *SequentialIDGenerator {
	return &SequentialIDGenerator{}
}

func (g *SequentialIDGenerator) NewAccountID() domain.AccountID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts++
	return domain.AccountID(fmt.Sprintf("account-%d", g.accounts))
}

func (g *SequentialIDGenerator) NewEventID() domain.EventID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events++
	return domain.EventID(fmt.Sprintf("event-%d", g.events))
}

func (g *SequentialIDGenerator) NewReservationID() domain.ReservationID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reservations++
	return domain.ReservationID(fmt.Sprintf("reservation-%d", g.reservations))
}

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// MemoryIdempotencyStore is an in-memory implementation of IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	CheckAndSetFunc func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	UpdateFunc      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		data: make(map[string][]byte),
	}
}

func (m *MemoryIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if m.CheckAndSetFunc != nil {
		return m.CheckAndSetFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return true, existing, nil
	}
	if response != nil {
		m.data[key] = response
	} else {
		m.data[key] = []byte("processing")
	}
	return false, nil, nil
}

func (m *MemoryIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

func (m *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Get returns the stored value for key.
func (m *MemoryIdempotencyStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}
