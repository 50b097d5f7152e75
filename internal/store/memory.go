package store

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

var (
	_ vault.AssetLedger    = (*MemoryLedger)(nil)
	_ vault.AccessRegistry = (*MemoryRegistry)(nil)
)

// MemoryLedger is an AssetLedger kept in process memory.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[domain.Asset]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[domain.Asset]uint64)}
}

func (l *MemoryLedger) Balance(_ context.Context, asset domain.Asset) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset], nil
}

func (l *MemoryLedger) Credit(_ context.Context, asset domain.Asset, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[asset]
	if balance > math.MaxUint64-amount {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "credit %s: balance overflow", asset)
	}
	balance += amount
	l.balances[asset] = balance
	return balance, nil
}

func (l *MemoryLedger) Debit(_ context.Context, asset domain.Asset, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[asset]
	if amount > balance {
		return 0, errors.Wrapf(vault.ErrInsufficientBalance, "debit %d %s from %d", amount, asset, balance)
	}
	balance -= amount
	l.balances[asset] = balance
	return balance, nil
}

// MemoryRegistry is an AccessRegistry kept in process memory. Members are
// listed in the order they were granted.
type MemoryRegistry struct {
	mu      sync.Mutex
	members map[domain.Role][]domain.Principal
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{members: make(map[domain.Role][]domain.Principal)}
}

func (r *MemoryRegistry) HasRole(_ context.Context, p domain.Principal, role domain.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index(p, role) >= 0, nil
}

func (r *MemoryRegistry) Grant(_ context.Context, p domain.Principal, role domain.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index(p, role) >= 0 {
		return false, nil
	}
	r.members[role] = append(r.members[role], p)
	return true, nil
}

func (r *MemoryRegistry) Revoke(_ context.Context, p domain.Principal, role domain.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(p, role)
	if i < 0 {
		return false, nil
	}
	m := r.members[role]
	r.members[role] = append(m[:i:i], m[i+1:]...)
	return true, nil
}

func (r *MemoryRegistry) MemberCount(_ context.Context, role domain.Role) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.members[role])), nil
}

func (r *MemoryRegistry) Members(_ context.Context, role domain.Role) ([]domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Principal, len(r.members[role]))
	copy(out, r.members[role])
	return out, nil
}

func (r *MemoryRegistry) index(p domain.Principal, role domain.Role) int {
	for i, m := range r.members[role] {
		if m == p {
			return i
		}
	}
	return -1
}
