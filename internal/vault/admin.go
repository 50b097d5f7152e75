package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// adminGate layers the per-request admin flags over next. Acceleration
// skips next entirely; a pause blocks regardless of what next decided.
func adminGate(next gate) gate {
	return func(e *entry, now time.Time) error {
		if !e.admin.Accelerated {
			if err := next(e, now); err != nil {
				return err
			}
		}
		if e.admin.Paused {
			return ErrRequestPaused
		}
		return nil
	}
}

// TogglePause flips the paused flag of request id and returns the new value.
func (v *Vault) TogglePause(ctx context.Context, caller domain.Principal, id uint64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.adminLookup(ctx, caller, id)
	if err != nil {
		return false, err
	}
	e.admin.Paused = !e.admin.Paused

	v.log.Info("withdrawal pause toggled", fieldRequest(id), fieldCaller(caller), zap.Bool("paused", e.admin.Paused))
	v.emit(domain.Event{Kind: domain.EventPauseToggled, RequestID: id, Actor: caller, Flag: e.admin.Paused})
	return e.admin.Paused, nil
}

// SetAccelerated sets whether request id may skip the withdrawal delay. It
// does not bypass quorum or a pause.
func (v *Vault) SetAccelerated(ctx context.Context, caller domain.Principal, id uint64, accelerated bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.adminLookup(ctx, caller, id)
	if err != nil {
		return err
	}
	e.admin.Accelerated = accelerated

	v.log.Info("withdrawal acceleration set", fieldRequest(id), fieldCaller(caller), zap.Bool("accelerated", accelerated))
	v.emit(domain.Event{Kind: domain.EventAccelerateToggled, RequestID: id, Actor: caller, Flag: accelerated})
	return nil
}

// ForceDelete removes request id whatever its votes or timing.
func (v *Vault) ForceDelete(ctx context.Context, caller domain.Principal, id uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.adminLookup(ctx, caller, id); err != nil {
		return err
	}
	v.requests.delete(id)

	v.log.Info("withdrawal request deleted", fieldRequest(id), fieldCaller(caller))
	v.emit(domain.Event{Kind: domain.EventRequestDeleted, RequestID: id, Actor: caller})
	return nil
}

// OverrideLastImpactfulVoteTime moves the start of request id's delay window
// to ts. ts is not checked against the current time: administrators may
// place it in the past or the future.
func (v *Vault) OverrideLastImpactfulVoteTime(ctx context.Context, caller domain.Principal, id uint64, ts time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.adminLookup(ctx, caller, id)
	if err != nil {
		return err
	}
	prev := e.req.LastImpactfulVoteTime
	e.req.LastImpactfulVoteTime = ts

	v.log.Info("last impactful vote time overridden", fieldRequest(id), fieldCaller(caller),
		zap.Time("previous", prev), zap.Time("current", ts))
	return nil
}

// SetRequiredApproveVotes changes the quorum for every request. n must be at
// least 1 and no more than the current number of voters. Requests the new
// quorum qualifies for the first time get their quorum-reached event here.
func (v *Vault) SetRequiredApproveVotes(ctx context.Context, caller domain.Principal, n uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleAdministrator); err != nil {
		return err
	}
	voters, err := v.access.MemberCount(ctx, domain.RoleVoter)
	if err != nil {
		return errors.Wrap(err, "count voters")
	}
	if n == 0 || n > voters {
		return ErrInvalidQuorum
	}
	v.settings.RequiredApproveVotes = n

	v.log.Info("quorum updated", fieldCaller(caller), zap.Uint64("required_approve_votes", n))
	v.emit(domain.Event{Kind: domain.EventQuorumUpdated, Actor: caller, Quorum: n})

	// A lower quorum can qualify requests without a new vote.
	for _, e := range v.requests.sorted() {
		if e.quorumSignalled || !v.machine.quorumMet(e) {
			continue
		}
		e.quorumSignalled = true
		v.log.Info("quorum reached", fieldRequest(e.req.ID), zap.Time("delay_start", e.req.LastImpactfulVoteTime))
		v.emit(domain.Event{Kind: domain.EventQuorumReached, RequestID: e.req.ID, Quorum: e.req.ApproveVoteCount})
	}
	return nil
}

// SetWithdrawalDelay changes the delay every request waits after reaching
// quorum. Zero makes requests processable as soon as quorum is met.
func (v *Vault) SetWithdrawalDelay(ctx context.Context, caller domain.Principal, d time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleAdministrator); err != nil {
		return err
	}
	if d < 0 {
		return ErrInvalidDelay
	}
	v.settings.WithdrawalDelay = d

	v.log.Info("withdrawal delay updated", fieldCaller(caller), zap.Duration("delay", d))
	v.emit(domain.Event{Kind: domain.EventDelayUpdated, Actor: caller, Delay: d})
	return nil
}

// AddVoter grants the voter role to p. Adding an existing voter is a no-op.
func (v *Vault) AddVoter(ctx context.Context, caller, p domain.Principal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleAdministrator); err != nil {
		return err
	}
	if p == "" {
		return ErrInvalidPrincipal
	}
	changed, err := v.access.Grant(ctx, p, domain.RoleVoter)
	if err != nil {
		return errors.Wrap(err, "grant voter")
	}
	if !changed {
		return nil
	}

	v.log.Info("voter added", fieldCaller(caller), zap.String("voter", string(p)))
	v.emit(domain.Event{Kind: domain.EventVoterAdded, Actor: caller, Principal: p})
	return nil
}

// RemoveVoter revokes the voter role from p. Requests p created and votes p
// cast stay valid. Removal fails if it would leave fewer voters than the
// quorum requires.
func (v *Vault) RemoveVoter(ctx context.Context, caller, p domain.Principal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRole(ctx, caller, domain.RoleAdministrator); err != nil {
		return err
	}
	isVoter, err := v.access.HasRole(ctx, p, domain.RoleVoter)
	if err != nil {
		return errors.Wrap(err, "check voter role")
	}
	if !isVoter {
		return ErrVoterNotFound
	}
	voters, err := v.access.MemberCount(ctx, domain.RoleVoter)
	if err != nil {
		return errors.Wrap(err, "count voters")
	}
	if voters-1 < v.settings.RequiredApproveVotes {
		return ErrInvalidQuorum
	}
	if _, err := v.access.Revoke(ctx, p, domain.RoleVoter); err != nil {
		return errors.Wrap(err, "revoke voter")
	}

	v.log.Info("voter removed", fieldCaller(caller), zap.String("voter", string(p)))
	v.emit(domain.Event{Kind: domain.EventVoterRemoved, Actor: caller, Principal: p})
	return nil
}

func (v *Vault) adminLookup(ctx context.Context, caller domain.Principal, id uint64) (*entry, error) {
	if err := v.requireRole(ctx, caller, domain.RoleAdministrator); err != nil {
		return nil, err
	}
	return v.requests.lookup(id)
}
