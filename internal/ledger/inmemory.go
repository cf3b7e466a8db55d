package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-memory Store for tests and development.
// Each wallet has an exclusive lock held by a unit of work until it commits or
// rolls back, mirroring row locks in Postgres.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	locks        map[string]chan struct{}
	transactions []Transaction
	byID         map[string]int
	byKey        map[string]int
	outbox       []outboxEntry
	lockTimeout  time.Duration
}

type outboxEntry struct {
	event Event
	sent  bool
}

// NewMemoryStore creates an empty store. lockTimeout bounds lock waits; zero waits until ctx ends.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		wallets:     make(map[string]Wallet),
		locks:       make(map[string]chan struct{}),
		byID:        make(map[string]int),
		byKey:       make(map[string]int),
		lockTimeout: lockTimeout,
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func (s *MemoryStore) CreateWallet(_ context.Context, w Wallet) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if _, exists := s.wallets[w.ID]; exists {
		return Wallet{}, fmt.Errorf("wallet %s already exists", w.ID)
	}
	ts := now()
	w.CreatedAt, w.UpdatedAt = ts, ts
	s.wallets[w.ID] = w
	s.locks[w.ID] = make(chan struct{}, 1)
	return w, nil
}

func (s *MemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) WalletsByOwner(_ context.Context, ownerID string) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallets := []Wallet{}
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets, nil
}

func (s *MemoryStore) Transaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.transactions[idx], nil
}

func (s *MemoryStore) TransactionByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[key]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.transactions[idx], nil
}

func (s *MemoryStore) TransactionsForWallet(_ context.Context, walletID string, opts ListOptions) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := []Transaction{}
	skipped := 0
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.SourceWalletID != walletID && t.DestinationWalletID != walletID {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(txs) == opts.Limit {
			break
		}
		txs = append(txs, t)
	}
	return txs, nil
}

// Begin opens a unit of work. Locks are taken lazily by GetForUpdate.
func (s *MemoryStore) Begin(_ context.Context) (UnitOfWork, error) {
	return &memUnitOfWork{store: s, staged: make(map[string]Wallet, 2)}, nil
}

// Deliver hands up to limit pending events to send in commit order, marking
// each one sent when send succeeds. It stops at the first failure.
func (s *MemoryStore) Deliver(ctx context.Context, limit int, send func(context.Context, Event) error) (int, error) {
	s.mu.RLock()
	pending := make([]int, 0, limit)
	for i := range s.outbox {
		if len(pending) == limit {
			break
		}
		if !s.outbox[i].sent {
			pending = append(pending, i)
		}
	}
	s.mu.RUnlock()

	delivered := 0
	for _, idx := range pending {
		s.mu.RLock()
		e := s.outbox[idx].event
		s.mu.RUnlock()
		if err := send(ctx, e); err != nil {
			return delivered, err
		}
		s.mu.Lock()
		s.outbox[idx].sent = true
		s.mu.Unlock()
		delivered++
	}
	return delivered, nil
}

// PendingEvents returns the events not yet delivered.
func (s *MemoryStore) PendingEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []Event
	for _, entry := range s.outbox {
		if !entry.sent {
			events = append(events, entry.event)
		}
	}
	return events
}

func (s *MemoryStore) lock(ctx context.Context, id string) error {
	s.mu.RLock()
	ch, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return ErrWalletNotFound
	}

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-timeout:
		return newError(KindContention, ErrContention.Message, fmt.Errorf("lock wait on wallet %s exceeded %s", id, s.lockTimeout))
	case <-ctx.Done():
		return newError(KindContention, ErrContention.Message, ctx.Err())
	}
}

func (s *MemoryStore) unlock(id string) {
	s.mu.RLock()
	ch := s.locks[id]
	s.mu.RUnlock()
	<-ch
}

type memUnitOfWork struct {
	store    *MemoryStore
	held     []string
	staged   map[string]Wallet
	appended []Transaction
	events   []Event
	done     bool
}

func (u *memUnitOfWork) isHeld(id string) bool {
	for _, h := range u.held {
		if h == id {
			return true
		}
	}
	return false
}

func (u *memUnitOfWork) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	if u.done {
		return Wallet{}, fmt.Errorf("unit of work already finished")
	}
	if !u.isHeld(id) {
		if err := u.store.lock(ctx, id); err != nil {
			return Wallet{}, err
		}
		u.held = append(u.held, id)
	}
	if w, ok := u.staged[id]; ok {
		return w, nil
	}
	return u.store.Wallet(ctx, id)
}

func (u *memUnitOfWork) WriteBalance(ctx context.Context, id string, balance decimal.Decimal) (Wallet, error) {
	if !u.isHeld(id) {
		return Wallet{}, fmt.Errorf("write balance: wallet %s is not locked by this unit of work", id)
	}
	if balance.IsNegative() {
		return Wallet{}, fmt.Errorf("write balance: negative balance %s for wallet %s", balance.String(), id)
	}
	w, err := u.GetForUpdate(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	w.Balance = balance
	w.UpdatedAt = now()
	u.staged[id] = w
	return w, nil
}

func (u *memUnitOfWork) Append(_ context.Context, t Transaction) (Transaction, error) {
	if t.IdempotencyKey != "" {
		if _, found := u.findKey(t.IdempotencyKey); found {
			return Transaction{}, errDuplicateIdempotencyKey
		}
	}
	t.ID = uuid.NewString()
	t.CreatedAt = now()
	u.appended = append(u.appended, t)
	return t, nil
}

func (u *memUnitOfWork) FindByIdempotencyKey(_ context.Context, key string) (Transaction, bool, error) {
	t, found := u.findKey(key)
	return t, found, nil
}

func (u *memUnitOfWork) findKey(key string) (Transaction, bool) {
	for _, t := range u.appended {
		if t.IdempotencyKey == key {
			return t, true
		}
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if idx, ok := u.store.byKey[key]; ok {
		return u.store.transactions[idx], true
	}
	return Transaction{}, false
}

func (u *memUnitOfWork) Enqueue(_ context.Context, e Event) error {
	u.events = append(u.events, e)
	return nil
}

// Commit applies staged writes atomically. On a duplicate idempotency key
// nothing is applied and the locks stay held until Rollback.
func (u *memUnitOfWork) Commit(_ context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already finished")
	}
	s := u.store
	s.mu.Lock()
	for _, t := range u.appended {
		if t.IdempotencyKey == "" {
			continue
		}
		if _, exists := s.byKey[t.IdempotencyKey]; exists {
			s.mu.Unlock()
			return errDuplicateIdempotencyKey
		}
	}
	for id, w := range u.staged {
		s.wallets[id] = w
	}
	for _, t := range u.appended {
		s.byID[t.ID] = len(s.transactions)
		if t.IdempotencyKey != "" {
			s.byKey[t.IdempotencyKey] = len(s.transactions)
		}
		s.transactions = append(s.transactions, t)
	}
	for _, e := range u.events {
		s.outbox = append(s.outbox, outboxEntry{event: e})
	}
	s.mu.Unlock()

	u.release()
	return nil
}

func (u *memUnitOfWork) Rollback(_ context.Context) error {
	if u.done {
		return nil
	}
	u.release()
	return nil
}

func (u *memUnitOfWork) release() {
	for _, id := range u.held {
		u.store.unlock(id)
	}
	u.held = nil
	u.done = true
}
