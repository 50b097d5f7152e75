package vault

import (
	"context"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// AssetLedger tracks how much of each asset the vault holds. Credit and
// Debit either apply fully or fail without side effects; Debit reports a
// short balance as ErrInsufficientBalance.
type AssetLedger interface {
	Balance(ctx context.Context, asset domain.Asset) (uint64, error)
	Credit(ctx context.Context, asset domain.Asset, amount uint64) (uint64, error)
	Debit(ctx context.Context, asset domain.Asset, amount uint64) (uint64, error)
}

// AccessRegistry holds role membership. Grant and Revoke report whether
// membership changed.
type AccessRegistry interface {
	HasRole(ctx context.Context, p domain.Principal, role domain.Role) (bool, error)
	Grant(ctx context.Context, p domain.Principal, role domain.Role) (bool, error)
	Revoke(ctx context.Context, p domain.Principal, role domain.Role) (bool, error)
	MemberCount(ctx context.Context, role domain.Role) (uint64, error)
	Members(ctx context.Context, role domain.Role) ([]domain.Principal, error)
}

// Deposit credits amount of asset to the vault and returns the new balance.
// It is the only way value enters the vault.
func (v *Vault) Deposit(ctx context.Context, caller domain.Principal, asset domain.Asset, amount uint64) (uint64, error) {
	if asset == "" {
		return 0, ErrInvalidAsset
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.ledger.Credit(ctx, asset, amount)
	if err != nil {
		return 0, ledgerError(err, "credit")
	}

	v.log.Info("deposit recorded", fieldAsset(asset), fieldAmount(amount), fieldBalance(balance), fieldCaller(caller))
	v.emit(domain.Event{Kind: domain.EventDeposited, Actor: caller, Asset: asset, Amount: amount, Balance: balance})
	return balance, nil
}

// ReceiveValue rejects value sent to the vault outside Deposit, since the
// ledger would not track it.
func (v *Vault) ReceiveValue(ctx context.Context, asset domain.Asset, amount uint64) error {
	return ErrUnsupportedOperation
}

func (v *Vault) Balance(ctx context.Context, asset domain.Asset) (uint64, error) {
	if asset == "" {
		return 0, ErrInvalidAsset
	}
	balance, err := v.ledger.Balance(ctx, asset)
	if err != nil {
		return 0, ledgerError(err, "balance")
	}
	return balance, nil
}

// debit moves the request's amount out of the ledger. The caller deletes the
// request only if debit succeeds.
func (v *Vault) debit(ctx context.Context, req domain.WithdrawalRequest) error {
	if _, err := v.ledger.Debit(ctx, req.Asset, req.Amount); err != nil {
		return ledgerError(err, "debit")
	}
	return nil
}

func (v *Vault) checkBalance(ctx context.Context, asset domain.Asset, amount uint64) error {
	balance, err := v.ledger.Balance(ctx, asset)
	if err != nil {
		return ledgerError(err, "balance")
	}
	if amount > balance {
		return ErrInsufficientBalance
	}
	return nil
}
