package vault_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/store"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

const (
	admin   domain.Principal = "admin"
	outside domain.Principal = "outsider"
	dest    domain.Principal = "recipient"
	assetA  domain.Asset     = "A"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) at(sec int64) { c.t = epoch.Add(time.Duration(sec) * time.Second) }

type fixture struct {
	ctx    context.Context
	v      *vault.Vault
	ledger *store.MemoryLedger
	access *store.MemoryRegistry
	clock  *testClock
}

func voter(i int) domain.Principal {
	return domain.Principal(fmt.Sprintf("voter-%d", i))
}

func newFixture(t *testing.T, voters int, quorum uint64, delay time.Duration) *fixture {
	t.Helper()
	return newFixtureWithLedger(t, store.NewMemoryLedger(), voters, quorum, delay)
}

func newFixtureWithLedger(t *testing.T, ledger vault.AssetLedger, voters int, quorum uint64, delay time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		ctx:    context.Background(),
		access: store.NewMemoryRegistry(),
		clock:  &testClock{t: epoch},
	}
	if ml, ok := ledger.(*store.MemoryLedger); ok {
		f.ledger = ml
	}

	_, err := f.access.Grant(f.ctx, admin, domain.RoleAdministrator)
	require.NoError(t, err)
	for i := 1; i <= voters; i++ {
		_, err := f.access.Grant(f.ctx, voter(i), domain.RoleVoter)
		require.NoError(t, err)
	}

	f.v = vault.New(ledger, f.access,
		vault.WithClock(f.clock.now),
		vault.WithSettings(domain.Settings{RequiredApproveVotes: quorum, WithdrawalDelay: delay}),
	)
	return f
}

func (f *fixture) deposit(t *testing.T, amount uint64) {
	t.Helper()
	_, err := f.v.Deposit(f.ctx, outside, assetA, amount)
	require.NoError(t, err)
}

func (f *fixture) create(t *testing.T, amount uint64) uint64 {
	t.Helper()
	id, err := f.v.CreateWithdrawalRequest(f.ctx, voter(1), dest, assetA, amount)
	require.NoError(t, err)
	return id
}

func (f *fixture) vote(t *testing.T, i int, id uint64, approve bool) {
	t.Helper()
	require.NoError(t, f.v.Vote(f.ctx, voter(i), id, approve))
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) record(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	f := newFixture(t, 3, 1, 0)
	f.deposit(t, 1000)

	first := f.create(t, 10)
	second := f.create(t, 10)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	require.NoError(t, f.v.ForceDelete(f.ctx, admin, second))
	require.NoError(t, f.v.ForceDelete(f.ctx, admin, first))

	third := f.create(t, 10)
	require.Equal(t, uint64(3), third)
	require.Equal(t, uint64(4), f.v.NextRequestID())
}

func TestCreateWithdrawalRequestValidation(t *testing.T) {
	f := newFixture(t, 3, 1, 0)
	f.deposit(t, 100)

	_, err := f.v.CreateWithdrawalRequest(f.ctx, outside, dest, assetA, 10)
	require.True(t, errors.Is(err, vault.ErrUnauthorized))

	_, err = f.v.CreateWithdrawalRequest(f.ctx, voter(1), "", assetA, 10)
	require.True(t, errors.Is(err, vault.ErrInvalidDestination))

	_, err = f.v.CreateWithdrawalRequest(f.ctx, voter(1), dest, assetA, 101)
	require.True(t, errors.Is(err, vault.ErrInsufficientBalance))

	_, err = f.v.CreateWithdrawalRequest(f.ctx, voter(1), dest, "B", 1)
	require.True(t, errors.Is(err, vault.ErrInsufficientBalance))

	require.Equal(t, uint64(1), f.v.NextRequestID())
	require.Empty(t, f.v.RequestsByCreator(voter(1)))

	id := f.create(t, 100)
	req := f.v.Request(id)
	require.True(t, req.Exists())
	require.Equal(t, voter(1), req.Creator)
	require.Equal(t, dest, req.To)
	require.Equal(t, uint64(100), req.Amount)
	require.Equal(t, epoch, req.LastImpactfulVoteTime)
	require.Equal(t, domain.AdminData{}, f.v.AdminData(id))
	require.Equal(t, []uint64{id}, f.v.RequestsByCreator(voter(1)))
}

func TestConcurrentRequestsMayOvercommit(t *testing.T) {
	f := newFixture(t, 3, 1, 0)
	f.deposit(t, 100)

	first := f.create(t, 80)
	second := f.create(t, 80)

	f.vote(t, 1, first, true)
	f.vote(t, 1, second, true)
	require.NoError(t, f.v.Process(f.ctx, voter(1), first))

	err := f.v.Process(f.ctx, voter(1), second)
	require.True(t, errors.Is(err, vault.ErrInsufficientBalance))
	require.Equal(t, vault.KindInsufficientBalance, vault.KindOf(err))
	require.True(t, f.v.Request(second).Exists())
}

func TestDuplicateVoteLeavesTallies(t *testing.T) {
	f := newFixture(t, 3, 2, 0)
	f.deposit(t, 100)
	id := f.create(t, 10)

	f.vote(t, 1, id, true)
	before := f.v.Request(id)

	for _, approve := range []bool{true, false} {
		err := f.v.Vote(f.ctx, voter(1), id, approve)
		require.True(t, errors.Is(err, vault.ErrDuplicateVote))
	}

	require.Equal(t, before, f.v.Request(id))
	require.Equal(t, []domain.Principal{voter(1)}, f.v.VotedVoters(id))
}

func TestVoteRequiresVoterAndExistingRequest(t *testing.T) {
	f := newFixture(t, 3, 1, 0)
	f.deposit(t, 100)
	id := f.create(t, 10)

	require.True(t, errors.Is(f.v.Vote(f.ctx, outside, id, true), vault.ErrUnauthorized))
	require.True(t, errors.Is(f.v.Vote(f.ctx, admin, id, true), vault.ErrUnauthorized))
	require.True(t, errors.Is(f.v.Vote(f.ctx, voter(1), id+1, true), vault.ErrRequestNotFound))
	require.Empty(t, f.v.VotedVoters(id))
}

func TestQuorumFreezesDelayStart(t *testing.T) {
	f := newFixture(t, 4, 3, time.Minute)
	f.deposit(t, 100)
	id := f.create(t, 10)

	f.clock.at(0)
	f.vote(t, 1, id, true)
	f.clock.at(10)
	f.vote(t, 2, id, true)
	f.clock.at(25)
	f.vote(t, 3, id, true)

	require.Equal(t, epoch.Add(10*time.Second), f.v.Request(id).LastImpactfulVoteTime)

	f.clock.at(40)
	f.vote(t, 4, id, false)

	req := f.v.Request(id)
	require.Equal(t, epoch.Add(10*time.Second), req.LastImpactfulVoteTime)
	require.Equal(t, uint64(3), req.ApproveVoteCount)
	require.Equal(t, uint64(1), req.DenyVoteCount)
	require.Equal(t, []domain.Principal{voter(1), voter(2), voter(3), voter(4)}, f.v.VotedVoters(id))
}

func TestDenyVotesBeforeQuorumMoveDelayStart(t *testing.T) {
	f := newFixture(t, 3, 2, time.Minute)
	f.deposit(t, 100)
	id := f.create(t, 10)

	f.clock.at(5)
	f.vote(t, 1, id, false)
	require.Equal(t, epoch.Add(5*time.Second), f.v.Request(id).LastImpactfulVoteTime)
}

func TestQuorumReachedFiresOnce(t *testing.T) {
	f := newFixture(t, 4, 2, 0)
	f.deposit(t, 100)

	rec := &recorder{}
	f.v.Subscribe(rec.record)

	id := f.create(t, 10)
	f.vote(t, 1, id, true)
	f.vote(t, 2, id, true)
	f.vote(t, 3, id, true)
	f.vote(t, 4, id, false)

	require.Eventually(t, func() bool {
		return rec.count(domain.EventVoteCast) == 4 &&
			rec.count(domain.EventQuorumReached) == 1 &&
			rec.count(domain.EventRequestCreated) == 1
	}, time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return rec.count(domain.EventQuorumReached) > 1 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestEligibilityGating(t *testing.T) {
	f := newFixture(t, 3, 1, 600*time.Second)
	f.deposit(t, 1000)

	f.clock.at(100)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)

	f.clock.at(600)
	ok, err := f.v.IsEligible(f.ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrDelayNotElapsed))

	f.clock.at(700)
	ok, err = f.v.IsEligible(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))
}

func TestAcceleratedSkipsDelay(t *testing.T) {
	f := newFixture(t, 3, 1, 600*time.Second)
	f.deposit(t, 1000)

	f.clock.at(100)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)
	require.NoError(t, f.v.SetAccelerated(f.ctx, admin, id, true))
	require.True(t, f.v.AdminData(id).Accelerated)

	f.clock.at(101)
	require.NoError(t, f.v.Process(f.ctx, voter(2), id))
}

func TestAcceleratedDoesNotBypassQuorum(t *testing.T) {
	f := newFixture(t, 3, 2, time.Hour)
	f.deposit(t, 1000)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)
	require.NoError(t, f.v.SetAccelerated(f.ctx, admin, id, true))

	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrQuorumNotMet))
}

func TestPauseDominates(t *testing.T) {
	f := newFixture(t, 3, 1, 10*time.Second)
	f.deposit(t, 1000)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)

	paused, err := f.v.TogglePause(f.ctx, admin, id)
	require.NoError(t, err)
	require.True(t, paused)

	f.clock.at(60)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrRequestPaused))

	require.NoError(t, f.v.SetAccelerated(f.ctx, admin, id, true))
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrRequestPaused))

	paused, err = f.v.TogglePause(f.ctx, admin, id)
	require.NoError(t, err)
	require.False(t, paused)
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))
}

func TestProcessCheckOrder(t *testing.T) {
	f := newFixture(t, 3, 2, time.Minute)
	f.deposit(t, 1000)
	id := f.create(t, 10)
	_, err := f.v.TogglePause(f.ctx, admin, id)
	require.NoError(t, err)

	require.True(t, errors.Is(f.v.Process(f.ctx, outside, id), vault.ErrUnauthorized))
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id+1), vault.ErrRequestNotFound))
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrQuorumNotMet))

	f.vote(t, 1, id, true)
	f.vote(t, 2, id, true)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrDelayNotElapsed))

	f.clock.at(120)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrRequestPaused))
}

func TestDenyVotesDoNotBlockProcessing(t *testing.T) {
	f := newFixture(t, 5, 2, 0)
	f.deposit(t, 1000)
	id := f.create(t, 10)

	f.vote(t, 1, id, false)
	f.vote(t, 2, id, false)
	f.vote(t, 3, id, false)
	f.vote(t, 4, id, true)
	f.vote(t, 5, id, true)

	require.NoError(t, f.v.Process(f.ctx, voter(1), id))
}

func TestWithdrawalScenario(t *testing.T) {
	f := newFixture(t, 3, 3, 60*time.Second)
	f.deposit(t, 1000)

	id, err := f.v.CreateWithdrawalRequest(f.ctx, voter(1), "X", assetA, 400)
	require.NoError(t, err)

	f.clock.at(0)
	f.vote(t, 1, id, true)
	f.clock.at(5)
	f.vote(t, 2, id, true)
	f.clock.at(12)
	f.vote(t, 3, id, true)

	f.clock.at(13)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrDelayNotElapsed))

	f.clock.at(73)
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))

	balance, err := f.v.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(600), balance)
	require.False(t, f.v.Request(id).Exists())
}

func TestProcessDeletesRequest(t *testing.T) {
	f := newFixture(t, 3, 1, 0)
	f.deposit(t, 1000)

	rec := &recorder{}
	f.v.Subscribe(rec.record, domain.EventRequestProcessed, domain.EventRequestDeleted)

	keep := f.create(t, 10)
	id := f.create(t, 10)
	f.vote(t, 2, id, true)
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))

	require.Equal(t, domain.WithdrawalRequest{}, f.v.Request(id))
	require.Empty(t, f.v.VotedVoters(id))
	require.Equal(t, domain.AdminData{}, f.v.AdminData(id))
	require.Equal(t, []uint64{keep}, f.v.RequestsByCreator(voter(1)))
	require.Equal(t, 1, f.v.PendingCount())

	err := f.v.Process(f.ctx, voter(1), id)
	require.True(t, errors.Is(err, vault.ErrRequestNotFound))

	require.Eventually(t, func() bool { return rec.count(domain.EventRequestProcessed) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, rec.count(domain.EventRequestDeleted))
}

func TestForceDeleteClearsState(t *testing.T) {
	f := newFixture(t, 3, 2, 0)
	f.deposit(t, 1000)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)
	_, err := f.v.TogglePause(f.ctx, admin, id)
	require.NoError(t, err)

	require.True(t, errors.Is(f.v.ForceDelete(f.ctx, voter(1), id), vault.ErrUnauthorized))
	require.NoError(t, f.v.ForceDelete(f.ctx, admin, id))

	require.False(t, f.v.Request(id).Exists())
	require.Empty(t, f.v.VotedVoters(id))
	require.Equal(t, domain.AdminData{}, f.v.AdminData(id))
	require.Empty(t, f.v.RequestsByCreator(voter(1)))

	require.True(t, errors.Is(f.v.ForceDelete(f.ctx, admin, id), vault.ErrRequestNotFound))
	require.True(t, errors.Is(f.v.Vote(f.ctx, voter(2), id, true), vault.ErrRequestNotFound))

	balance, err := f.v.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance)
}

type failingLedger struct {
	*store.MemoryLedger
	fail bool
}

func (l *failingLedger) Debit(ctx context.Context, asset domain.Asset, amount uint64) (uint64, error) {
	if l.fail {
		return 0, errors.New("asset contract rejected transfer")
	}
	return l.MemoryLedger.Debit(ctx, asset, amount)
}

func TestLedgerFailureKeepsRequest(t *testing.T) {
	ledger := &failingLedger{MemoryLedger: store.NewMemoryLedger(), fail: true}
	f := newFixtureWithLedger(t, ledger, 3, 2, 0)
	f.deposit(t, 1000)

	id := f.create(t, 400)
	f.vote(t, 1, id, true)
	f.vote(t, 2, id, false)
	f.vote(t, 3, id, true)
	before := f.v.Request(id)

	err := f.v.Process(f.ctx, voter(1), id)
	require.True(t, errors.Is(err, vault.ErrLedgerTransferFailed))
	require.Equal(t, vault.KindLedgerTransferFailed, vault.KindOf(err))

	require.Equal(t, before, f.v.Request(id))
	require.Len(t, f.v.VotedVoters(id), 3)
	require.Equal(t, []uint64{id}, f.v.RequestsByCreator(voter(1)))

	ledger.fail = false
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))
	balance, err := ledger.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(600), balance)
}

func TestBalanceConservation(t *testing.T) {
	f := newFixture(t, 3, 2, 0)
	f.deposit(t, 500)

	amounts := []uint64{100, 0, 250, 150}
	var ids []uint64
	for _, a := range amounts {
		ids = append(ids, f.create(t, a))
	}

	remaining := uint64(500)
	for i, id := range ids {
		f.vote(t, 1, id, true)
		f.vote(t, 2, id, true)
		require.NoError(t, f.v.Process(f.ctx, voter(3), id))

		remaining -= amounts[i]
		balance, err := f.v.Balance(f.ctx, assetA)
		require.NoError(t, err)
		require.Equal(t, remaining, balance)
	}
	require.Equal(t, uint64(0), remaining)
}

func TestSetRequiredApproveVotes(t *testing.T) {
	f := newFixture(t, 3, 1, 0)

	require.True(t, errors.Is(f.v.SetRequiredApproveVotes(f.ctx, voter(1), 2), vault.ErrUnauthorized))
	require.True(t, errors.Is(f.v.SetRequiredApproveVotes(f.ctx, admin, 4), vault.ErrInvalidQuorum))
	require.True(t, errors.Is(f.v.SetRequiredApproveVotes(f.ctx, admin, 0), vault.ErrInvalidQuorum))
	require.Equal(t, uint64(1), f.v.Settings().RequiredApproveVotes)

	require.NoError(t, f.v.SetRequiredApproveVotes(f.ctx, admin, 3))
	require.Equal(t, uint64(3), f.v.Settings().RequiredApproveVotes)
}

func TestSetWithdrawalDelay(t *testing.T) {
	f := newFixture(t, 3, 1, time.Hour)
	f.deposit(t, 100)

	require.True(t, errors.Is(f.v.SetWithdrawalDelay(f.ctx, admin, -time.Second), vault.ErrInvalidDelay))
	require.True(t, errors.Is(f.v.SetWithdrawalDelay(f.ctx, voter(1), 0), vault.ErrUnauthorized))
	require.Equal(t, time.Hour, f.v.Settings().WithdrawalDelay)

	id := f.create(t, 10)
	f.vote(t, 1, id, true)
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrDelayNotElapsed))

	require.NoError(t, f.v.SetWithdrawalDelay(f.ctx, admin, 0))
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))
}

func TestOverrideLastImpactfulVoteTime(t *testing.T) {
	f := newFixture(t, 3, 1, time.Hour)
	f.deposit(t, 100)
	id := f.create(t, 10)
	f.vote(t, 1, id, true)

	require.True(t, errors.Is(f.v.OverrideLastImpactfulVoteTime(f.ctx, voter(1), id, epoch), vault.ErrUnauthorized))

	require.NoError(t, f.v.OverrideLastImpactfulVoteTime(f.ctx, admin, id, epoch.Add(-2*time.Hour)))
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))

	id = f.create(t, 10)
	f.vote(t, 1, id, true)
	future := epoch.Add(24 * time.Hour)
	require.NoError(t, f.v.OverrideLastImpactfulVoteTime(f.ctx, admin, id, future))
	require.Equal(t, future, f.v.Request(id).LastImpactfulVoteTime)

	f.clock.at(int64((2 * time.Hour).Seconds()))
	require.True(t, errors.Is(f.v.Process(f.ctx, voter(1), id), vault.ErrDelayNotElapsed))
}

func TestAdminOperationsOnMissingRequest(t *testing.T) {
	f := newFixture(t, 3, 1, 0)

	_, err := f.v.TogglePause(f.ctx, admin, 42)
	require.True(t, errors.Is(err, vault.ErrRequestNotFound))
	require.True(t, errors.Is(f.v.SetAccelerated(f.ctx, admin, 42, true), vault.ErrRequestNotFound))
	require.True(t, errors.Is(f.v.OverrideLastImpactfulVoteTime(f.ctx, admin, 42, epoch), vault.ErrRequestNotFound))
	_, err = f.v.IsEligible(f.ctx, 42)
	require.True(t, errors.Is(err, vault.ErrRequestNotFound))
}

func TestVoterMembership(t *testing.T) {
	f := newFixture(t, 2, 2, 0)
	f.deposit(t, 100)

	rec := &recorder{}
	f.v.Subscribe(rec.record, domain.EventVoterAdded, domain.EventVoterRemoved)

	require.True(t, errors.Is(f.v.AddVoter(f.ctx, voter(1), voter(3)), vault.ErrUnauthorized))
	require.True(t, errors.Is(f.v.AddVoter(f.ctx, admin, ""), vault.ErrInvalidPrincipal))

	require.True(t, errors.Is(f.v.RemoveVoter(f.ctx, admin, voter(1)), vault.ErrInvalidQuorum))
	require.True(t, errors.Is(f.v.RemoveVoter(f.ctx, admin, voter(9)), vault.ErrVoterNotFound))

	require.NoError(t, f.v.AddVoter(f.ctx, admin, voter(3)))
	require.NoError(t, f.v.AddVoter(f.ctx, admin, voter(3)))

	id := f.create(t, 10)
	f.vote(t, 2, id, true)
	require.NoError(t, f.v.RemoveVoter(f.ctx, admin, voter(1)))

	// The creator lost the role, but the request and the cast vote stand.
	require.True(t, f.v.Request(id).Exists())
	require.True(t, errors.Is(f.v.Vote(f.ctx, voter(1), id, true), vault.ErrUnauthorized))
	f.vote(t, 3, id, true)
	require.NoError(t, f.v.Process(f.ctx, voter(2), id))

	require.Eventually(t, func() bool {
		return rec.count(domain.EventVoterRemoved) == 1 && rec.count(domain.EventVoterAdded) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t, 1, 1, 0)

	_, err := f.v.Deposit(f.ctx, outside, "", 10)
	require.True(t, errors.Is(err, vault.ErrInvalidAsset))
	_, err = f.v.Deposit(f.ctx, outside, assetA, 0)
	require.True(t, errors.Is(err, vault.ErrInvalidAmount))
	require.Equal(t, vault.KindInvalidInput, vault.KindOf(err))

	balance, err := f.v.Deposit(f.ctx, outside, assetA, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10), balance)

	balance, err = f.v.Deposit(f.ctx, outside, assetA, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(15), balance)

	err = f.v.ReceiveValue(f.ctx, assetA, 10)
	require.True(t, errors.Is(err, vault.ErrUnsupportedOperation))
	balance, err = f.v.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(15), balance)
}

func TestConcurrentVoting(t *testing.T) {
	const voters = 50
	f := newFixture(t, voters, voters/2, 0)
	f.deposit(t, 1000)
	id := f.create(t, 10)

	rec := &recorder{}
	f.v.Subscribe(rec.record, domain.EventQuorumReached)

	var wg sync.WaitGroup
	for i := 1; i <= voters; i++ {
		for attempt := 0; attempt < 2; attempt++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := f.v.Vote(f.ctx, voter(i), id, i%5 != 0)
				if err != nil {
					assert.True(t, errors.Is(err, vault.ErrDuplicateVote))
				}
			}(i)
		}
	}
	wg.Wait()

	req := f.v.Request(id)
	require.Equal(t, uint64(40), req.ApproveVoteCount)
	require.Equal(t, uint64(10), req.DenyVoteCount)
	require.Len(t, f.v.VotedVoters(id), voters)

	require.Eventually(t, func() bool { return rec.count(domain.EventQuorumReached) == 1 }, time.Second, 10*time.Millisecond)

	var processed, notFound int
	var mu sync.Mutex
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := f.v.Process(f.ctx, voter(i), id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				processed++
			} else if errors.Is(err, vault.ErrRequestNotFound) {
				notFound++
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, processed)
	require.Equal(t, 9, notFound)
}

func TestAllKindSubscriberSeesLifecycle(t *testing.T) {
	f := newFixture(t, 2, 1, 0)

	rec := &recorder{}
	f.v.Subscribe(rec.record)

	f.deposit(t, 100)
	id := f.create(t, 40)
	f.vote(t, 1, id, true)
	require.NoError(t, f.v.Process(f.ctx, voter(1), id))

	err := f.v.Process(f.ctx, voter(1), id)
	require.True(t, errors.Is(err, vault.ErrRequestNotFound))

	balance, err := f.v.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(60), balance)

	require.Equal(t, 1, rec.count(domain.EventDeposited))
	require.Equal(t, 1, rec.count(domain.EventRequestCreated))
	require.Equal(t, 1, rec.count(domain.EventVoteCast))
	require.Equal(t, 1, rec.count(domain.EventQuorumReached))
	require.Equal(t, 1, rec.count(domain.EventRequestProcessed))
}

func TestFailingSubscriberDoesNotSplitProcess(t *testing.T) {
	f := newFixture(t, 2, 1, 0)
	f.v.Subscribe(func(domain.Event) { panic("subscriber failure") })

	_, err := f.v.Deposit(f.ctx, outside, assetA, 100)
	require.NoError(t, err)
	id := f.create(t, 40)
	f.vote(t, 1, id, true)

	require.NotPanics(t, func() {
		require.NoError(t, f.v.Process(f.ctx, voter(1), id))
	})
	require.False(t, f.v.Request(id).Exists())

	err = f.v.Process(f.ctx, voter(1), id)
	require.True(t, errors.Is(err, vault.ErrRequestNotFound))

	balance, err := f.v.Balance(f.ctx, assetA)
	require.NoError(t, err)
	require.Equal(t, uint64(60), balance)
}

func TestLoweringQuorumSignalsReached(t *testing.T) {
	f := newFixture(t, 3, 3, 0)
	f.deposit(t, 100)

	rec := &recorder{}
	f.v.Subscribe(rec.record, domain.EventQuorumReached)

	twoVotes := f.create(t, 10)
	oneVote := f.create(t, 10)
	f.vote(t, 1, twoVotes, true)
	f.vote(t, 2, twoVotes, true)
	f.vote(t, 1, oneVote, true)
	require.Equal(t, 0, rec.count(domain.EventQuorumReached))

	require.NoError(t, f.v.SetRequiredApproveVotes(f.ctx, admin, 2))
	require.Equal(t, 1, rec.count(domain.EventQuorumReached))
	require.NoError(t, f.v.Process(f.ctx, voter(1), twoVotes))

	// Reaching the lowered quorum by vote still signals once.
	f.vote(t, 2, oneVote, true)
	require.Equal(t, 2, rec.count(domain.EventQuorumReached))

	require.NoError(t, f.v.SetRequiredApproveVotes(f.ctx, admin, 1))
	require.Equal(t, 2, rec.count(domain.EventQuorumReached))
}
