package models

import (
	"time"

	"github.com/punchamoorthee/quorumvault/internal/domain"
)

// DepositRequest is the payload for POST /deposits.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type BalanceResponse struct {
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

// CreateWithdrawalRequest is the payload for POST /withdrawals.
type CreateWithdrawalRequest struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type VoteRequest struct {
	Approve bool `json:"approve"`
}

type AcceleratedRequest struct {
	Accelerated bool `json:"accelerated"`
}

type TimestampRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

type QuorumRequest struct {
	RequiredApproveVotes uint64 `json:"required_approve_votes"`
}

type DelayRequest struct {
	DelaySeconds int64 `json:"delay_seconds"`
}

type VoterRequest struct {
	Principal string `json:"principal"`
}

// Withdrawal is a request together with its admin flags.
type Withdrawal struct {
	domain.WithdrawalRequest
	Paused      bool `json:"paused"`
	Accelerated bool `json:"accelerated"`
}

func NewWithdrawal(r domain.WithdrawalRequest, a domain.AdminData) Withdrawal {
	return Withdrawal{WithdrawalRequest: r, Paused: a.Paused, Accelerated: a.Accelerated}
}

type EligibilityResponse struct {
	ID       uint64 `json:"id"`
	Eligible bool   `json:"eligible"`
}

type PauseResponse struct {
	ID     uint64 `json:"id"`
	Paused bool   `json:"paused"`
}

type SettingsResponse struct {
	RequiredApproveVotes uint64 `json:"required_approve_votes"`
	DelaySeconds         int64  `json:"delay_seconds"`
	NextRequestID        uint64 `json:"next_request_id"`
}

// ErrorResponse carries the vault error code when there is one.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint   `json:"code,omitempty"`
}
