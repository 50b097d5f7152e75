package vault

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// gate decides whether a request that has met quorum may be processed at
// now. It returns nil when processing is allowed.
type gate func(e *entry, now time.Time) error

// machine holds the voting rules. Its gate starts as the plain delay check
// and may be wrapped by the admin layer when the vault is built.
type machine struct {
	settings *domain.Settings
	gate     gate
}

func newMachine(settings *domain.Settings) *machine {
	m := &machine{settings: settings}
	m.gate = m.delayGate
	return m
}

func (m *machine) quorumMet(e *entry) bool {
	return e.req.ApproveVoteCount >= m.settings.RequiredApproveVotes
}

func (m *machine) delayGate(e *entry, now time.Time) error {
	if now.Sub(e.req.LastImpactfulVoteTime) >= m.settings.WithdrawalDelay {
		return nil
	}
	return ErrDelayNotElapsed
}

// vote records a ballot and reports whether it is the one that first brought
// the request to quorum. The delay clock follows every vote cast while the
// request is below quorum and freezes once quorum is reached.
func (m *machine) vote(e *entry, voter domain.Principal, approve bool, now time.Time) (bool, error) {
	if e.voters.has(voter) {
		return false, ErrDuplicateVote
	}

	if approve {
		e.req.ApproveVoteCount++
	} else {
		e.req.DenyVoteCount++
	}
	e.voters.add(voter)

	if !m.quorumMet(e) {
		e.req.LastImpactfulVoteTime = now
		return false, nil
	}
	if e.quorumSignalled {
		return false, nil
	}
	e.quorumSignalled = true
	return true, nil
}

func (m *machine) check(e *entry, now time.Time) error {
	if !m.quorumMet(e) {
		return ErrQuorumNotMet
	}
	return m.gate(e, now)
}

// CreateWithdrawalRequest opens a request to send amount of asset to to. The
// caller must be a voter and the vault must currently hold at least amount.
func (v *Vault) CreateWithdrawalRequest(ctx context.Context, caller, to domain.Principal, asset domain.Asset, amount uint64) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleVoter); err != nil {
		return 0, err
	}
	if to == "" {
		return 0, ErrInvalidDestination
	}
	if asset == "" {
		return 0, ErrInvalidAsset
	}
	if err := v.checkBalance(ctx, asset, amount); err != nil {
		return 0, err
	}

	now := v.now()
	e := v.requests.create(caller, to, asset, amount, now)

	v.log.Info("withdrawal request created",
		fieldRequest(e.req.ID), fieldCaller(caller), zap.String("to", string(to)),
		fieldAsset(asset), fieldAmount(amount))
	v.emit(domain.Event{
		Kind:      domain.EventRequestCreated,
		RequestID: e.req.ID,
		Actor:     caller,
		Principal: to,
		Asset:     asset,
		Amount:    amount,
	})
	return e.req.ID, nil
}

// Vote casts caller's approve or deny vote on request id. Votes cannot be
// changed or retracted.
func (v *Vault) Vote(ctx context.Context, caller domain.Principal, id uint64, approve bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleVoter); err != nil {
		return err
	}
	e, err := v.requests.lookup(id)
	if err != nil {
		return err
	}

	reached, err := v.machine.vote(e, caller, approve, v.now())
	if err != nil {
		return err
	}

	v.log.Info("vote cast", fieldRequest(id), fieldCaller(caller), zap.Bool("approve", approve),
		zap.Uint64("approve_votes", e.req.ApproveVoteCount), zap.Uint64("deny_votes", e.req.DenyVoteCount))
	v.emit(domain.Event{Kind: domain.EventVoteCast, RequestID: id, Actor: caller, Flag: approve})

	if reached {
		v.log.Info("quorum reached", fieldRequest(id), zap.Time("delay_start", e.req.LastImpactfulVoteTime))
		v.emit(domain.Event{Kind: domain.EventQuorumReached, RequestID: id, Quorum: e.req.ApproveVoteCount})
	}
	return nil
}

// IsEligible reports whether request id could be processed right now.
func (v *Vault) IsEligible(ctx context.Context, id uint64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.requests.lookup(id)
	if err != nil {
		return false, err
	}
	return v.machine.check(e, v.now()) == nil, nil
}

// Process debits the ledger for an eligible request and removes it before any
// event is emitted. If the debit fails the request is left exactly as it was.
func (v *Vault) Process(ctx context.Context, caller domain.Principal, id uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleVoter); err != nil {
		return err
	}
	e, err := v.requests.lookup(id)
	if err != nil {
		return err
	}
	if err := v.machine.check(e, v.now()); err != nil {
		return err
	}

	req := e.req
	if err := v.debit(ctx, req); err != nil {
		v.log.Warn("withdrawal debit rejected", fieldRequest(id), fieldAsset(req.Asset), fieldAmount(req.Amount), zap.Error(err))
		return err
	}

	v.requests.delete(id)

	v.log.Info("withdrawal processed", fieldRequest(id), fieldCaller(caller),
		zap.String("to", string(req.To)), fieldAsset(req.Asset), fieldAmount(req.Amount))
	v.emit(domain.Event{
		Kind:      domain.EventRequestProcessed,
		RequestID: id,
		Actor:     caller,
		Principal: req.To,
		Asset:     req.Asset,
		Amount:    req.Amount,
	})
	return nil
}
