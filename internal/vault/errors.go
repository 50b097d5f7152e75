package vault

import (
	"github.com/pkg/errors"
)

// Kind groups errors by how a caller should react to them.
type Kind uint

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindUnauthorized
	KindDuplicateVote
	KindQuorumNotMet
	KindDelayNotElapsed
	KindRequestPaused
	KindInsufficientBalance
	KindLedgerTransferFailed
	KindUnsupported
)

type Error struct {
	Code    uint   `json:"code"`
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code uint, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

var (
	ErrInvalidDestination = newError(100, KindInvalidInput, "destination must not be the null principal")
	ErrInvalidAsset       = newError(101, KindInvalidInput, "asset must not be empty")
	ErrInvalidAmount      = newError(102, KindInvalidInput, "amount must be positive")
	ErrInvalidQuorum      = newError(103, KindInvalidInput, "quorum must be between 1 and the number of voters")
	ErrInvalidDelay       = newError(104, KindInvalidInput, "withdrawal delay must not be negative")
	ErrInvalidPrincipal   = newError(105, KindInvalidInput, "principal must not be empty")

	ErrRequestNotFound = newError(200, KindNotFound, "withdrawal request not found")
	ErrVoterNotFound   = newError(201, KindNotFound, "voter not found")

	ErrUnauthorized = newError(300, KindUnauthorized, "caller lacks the required role")

	ErrDuplicateVote = newError(400, KindDuplicateVote, "voter already voted on this request")

	ErrQuorumNotMet    = newError(500, KindQuorumNotMet, "approve votes below quorum")
	ErrDelayNotElapsed = newError(501, KindDelayNotElapsed, "withdrawal delay has not elapsed")
	ErrRequestPaused   = newError(502, KindRequestPaused, "withdrawal request is paused")

	ErrInsufficientBalance  = newError(600, KindInsufficientBalance, "insufficient balance")
	ErrLedgerTransferFailed = newError(601, KindLedgerTransferFailed, "ledger transfer failed")

	ErrUnsupportedOperation = newError(700, KindUnsupported, "value must enter the vault through deposit")
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the numeric code of the first *Error in err's chain, or 0.
func CodeOf(err error) uint {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// ledgerError keeps classified ledger failures as they are and marks
// everything else as a failed transfer.
func ledgerError(err error, op string) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return errors.Wrapf(ErrLedgerTransferFailed, "%s: %v", op, err)
}
