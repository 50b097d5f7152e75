package vault

import (
	"context"
	"sync"
	"time"

	observable "github.com/GianlucaGuarini/go-observable"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// Clock returns the current time. Tests replace it to drive the delay window.
type Clock func() time.Time

type Option func(*Vault)

func WithClock(c Clock) Option {
	return func(v *Vault) { v.now = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// WithSettings sets the initial quorum and delay. They are not checked
// against the voter count, so the access registry may be filled later.
func WithSettings(s domain.Settings) Option {
	return func(v *Vault) { v.settings = s }
}

// Vault releases pooled balances once enough voters approve a withdrawal.
// Every exported method runs under one lock, so each call is atomic with
// respect to all vault state.
type Vault struct {
	mu sync.Mutex

	ledger   AssetLedger
	access   AccessRegistry
	requests *registry
	machine  *machine
	settings domain.Settings

	now    Clock
	log    *zap.Logger
	events *observable.Observable
}

func New(ledger AssetLedger, access AccessRegistry, opts ...Option) *Vault {
	v := &Vault{
		ledger:   ledger,
		access:   access,
		requests: newRegistry(),
		settings: domain.Settings{RequiredApproveVotes: 1},
		now:      time.Now,
		log:      zap.NewNop(),
		events:   observable.New(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.machine = newMachine(&v.settings)
	v.machine.gate = adminGate(v.machine.gate)
	return v
}

// Subscribe calls fn for every event of the given kinds, or of every kind
// when none are given. Callbacks run synchronously inside the vault call that
// emits the event and must not call back into the vault.
func (v *Vault) Subscribe(fn func(domain.Event), kinds ...domain.EventKind) {
	if len(kinds) == 0 {
		kinds = domain.EventKinds
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// One On per name: observable prepends the event name to the arguments
	// of callbacks registered for several names at once.
	for _, k := range kinds {
		v.events.On(string(k), fn)
	}
}

// emit runs after the state change it reports has been applied. A failing
// subscriber is logged and never undoes or interrupts that change.
func (v *Vault) emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = v.now()
	}
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("event subscriber panicked", zap.String("event", string(ev.Kind)),
				fieldRequest(ev.RequestID), zap.Any("panic", r))
		}
	}()
	v.events.Trigger(string(ev.Kind), ev)
}

func (v *Vault) requireRole(ctx context.Context, caller domain.Principal, role domain.Role) error {
	if caller == "" {
		return ErrUnauthorized
	}
	ok, err := v.access.HasRole(ctx, caller, role)
	if err != nil {
		return errors.Wrapf(err, "check %s role", role)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Request returns request id, or the zero value when it does not exist.
func (v *Vault) Request(id uint64) domain.WithdrawalRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.get(id)
}

func (v *Vault) AdminData(id uint64) domain.AdminData {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.adminData(id)
}

// VotedVoters returns the voters of request id in the order they voted.
func (v *Vault) VotedVoters(id uint64) []domain.Principal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.votedVoters(id)
}

// RequestsByCreator returns the live request ids p created, oldest first.
func (v *Vault) RequestsByCreator(p domain.Principal) []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.requestsByCreator(p)
}

func (v *Vault) Settings() domain.Settings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings
}

// NextRequestID is the id the next created request will get.
func (v *Vault) NextRequestID() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.lastID + 1
}

// PendingCount is the number of live requests.
func (v *Vault) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.len()
}

func fieldRequest(id uint64) zap.Field { return zap.Uint64("request_id", id) }
func fieldCaller(p domain.Principal) zap.Field { return zap.String("caller", string(p)) }
func fieldAsset(a domain.Asset) zap.Field { return zap.String("asset", string(a)) }
func fieldAmount(n uint64) zap.Field { return zap.Uint64("amount", n) }
func fieldBalance(n uint64) zap.Field { return zap.Uint64("balance", n) }
