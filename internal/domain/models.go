package domain

import (
	"time"
)

// Principal identifies an account that can hold roles or receive assets.
// The empty Principal is the null principal.
type Principal string

// Asset identifies a fungible asset held by the vault. The empty Asset is invalid.
type Asset string

type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleVoter         Role = "voter"
)

// WithdrawalRequest is one approval cycle for moving Amount of Asset to To.
// A request whose Creator is the null principal does not exist.
type WithdrawalRequest struct {
	ID                    uint64    `json:"id"`
	Creator               Principal `json:"creator"`
	To                    Principal `json:"to"`
	Asset                 Asset     `json:"asset"`
	Amount                uint64    `json:"amount"`
	ApproveVoteCount      uint64    `json:"approve_vote_count"`
	DenyVoteCount         uint64    `json:"deny_vote_count"`
	LastImpactfulVoteTime time.Time `json:"last_impactful_vote_time"`
}

func (r WithdrawalRequest) Exists() bool {
	return r.Creator != ""
}

// AdminData holds the administrative flags attached to a live request.
type AdminData struct {
	Paused      bool `json:"paused"`
	Accelerated bool `json:"accelerated"`
}

// Settings are the process-wide voting parameters.
type Settings struct {
	RequiredApproveVotes uint64        `json:"required_approve_votes"`
	WithdrawalDelay      time.Duration `json:"withdrawal_delay"`
}
