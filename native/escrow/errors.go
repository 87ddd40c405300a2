package escrow

import (
	"encoding/hex"
	"errors"
	"fmt"

	"escrowd/native/common"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	ErrAgreementNotFound = errors.New("escrow: agreement not found")

	ErrNotDepositor   = errors.New("escrow: caller is not the depositor")
	ErrNotBeneficiary = errors.New("escrow: caller is not the beneficiary")
	ErrNotParty       = errors.New("escrow: caller is neither depositor nor beneficiary")
	ErrNotArbitrator  = errors.New("escrow: caller is not the agreed arbitrator")
	ErrNotOwner       = errors.New("escrow: caller is not the pool owner")
	ErrNotAuthorized  = errors.New("escrow: caller may not view this agreement")

	ErrInvalidStatus    = errors.New("escrow: operation not allowed in current status")
	ErrNoDispute        = errors.New("escrow: dispute record missing")
	ErrNoPoolArbitrator = errors.New("escrow: no pool arbitrator assigned")
	ErrAlreadyAssigned  = errors.New("escrow: pool arbitrator already assigned")

	ErrTooEarly              = errors.New("escrow: too early")
	ErrReleaseBeforeGrace    = errors.New("escrow: funds released only after deadline plus grace period")
	ErrDisputeBeforeDeadline = errors.New("escrow: cannot dispute before deadline")

	ErrArbitratorMismatch = errors.New("escrow: arbitrator proposal mismatch")

	ErrFundsNotAvailable  = errors.New("escrow: funds not available")
	ErrWithdrawProhibited = errors.New("escrow: withdraw prohibited")
	ErrWithdrawInProgress = errors.New("escrow: withdrawal already in progress")
	ErrInsufficientFunds  = errors.New("escrow: insufficient balance")

	ErrAlreadyInPool           = errors.New("escrow: arbitrator already in pool")
	ErrNotInPool               = errors.New("escrow: arbitrator not in pool")
	ErrArbitratorHasAgreements = errors.New("escrow: arbitrator has active agreements")
	ErrPoolEmpty               = errors.New("escrow: no eligible arbitrator in pool")

	ErrZeroBeneficiary      = errors.New("escrow: beneficiary must not be the zero address")
	ErrSameParty            = errors.New("escrow: depositor and beneficiary must differ")
	ErrZeroArbitrator       = errors.New("escrow: arbitrator must not be the zero address")
	ErrArbitratorIsParty    = errors.New("escrow: arbitrator must not be a party to the agreement")
	ErrPercentageOutOfRange = errors.New("escrow: percentage out of range")
	ErrInvalidAmount        = errors.New("escrow: amount must be positive")
	ErrDeadlineOverflow     = errors.New("escrow: deadline computation overflows")
)

// StatusError reports an operation attempted in a status the workflow does
// not allow.
type StatusError struct {
	Operation Operation
	Status    Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("escrow: %s not allowed in status %s", e.Operation, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// ArbitratorMismatchError is returned when the beneficiary's confirmation
// differs from the depositor's recorded proposal. Both values are carried so
// clients can reconcile.
type ArbitratorMismatchError struct {
	ExistingArbitrator [20]byte
	ExistingFee        uint32
	ProposedArbitrator [20]byte
	ProposedFee        uint32
}

func (e *ArbitratorMismatchError) Error() string {
	return fmt.Sprintf("escrow: arbitrator proposal mismatch: recorded %s@%d, proposed %s@%d",
		hex.EncodeToString(e.ExistingArbitrator[:]), e.ExistingFee,
		hex.EncodeToString(e.ProposedArbitrator[:]), e.ProposedFee)
}

func (e *ArbitratorMismatchError) Unwrap() error { return ErrArbitratorMismatch }

// WithdrawError identifies the caller and agreement status of a rejected
// withdrawal. Reason is ErrWithdrawProhibited or ErrFundsNotAvailable.
type WithdrawError struct {
	Caller [20]byte
	Status Status
	Reason error
}

func (e *WithdrawError) Error() string {
	return fmt.Sprintf("%v: caller %s, status %s", e.Reason, hex.EncodeToString(e.Caller[:]), e.Status)
}

func (e *WithdrawError) Unwrap() error { return e.Reason }

// ErrorKind groups errors by the action a caller should take.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindAuthorization
	KindState
	KindTiming
	KindConflict
	KindAccounting
	KindPool
	KindPaused
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindTiming:
		return "timing"
	case KindConflict:
		return "conflict"
	case KindAccounting:
		return "accounting"
	case KindPool:
		return "pool"
	case KindPaused:
		return "paused"
	default:
		return "internal"
	}
}

// Retryable reports whether resubmitting the same call later can succeed
// without any other party acting.
func (k ErrorKind) Retryable() bool { return k == KindTiming }

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, common.ErrModulePaused):
		return KindPaused
	case errors.Is(err, ErrAgreementNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotDepositor), errors.Is(err, ErrNotBeneficiary), errors.Is(err, ErrNotParty),
		errors.Is(err, ErrNotArbitrator), errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotAuthorized):
		return KindAuthorization
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrNoDispute), errors.Is(err, ErrNoPoolArbitrator),
		errors.Is(err, ErrAlreadyAssigned):
		return KindState
	case errors.Is(err, ErrTooEarly), errors.Is(err, ErrReleaseBeforeGrace), errors.Is(err, ErrDisputeBeforeDeadline):
		return KindTiming
	case errors.Is(err, ErrArbitratorMismatch):
		return KindConflict
	case errors.Is(err, ErrFundsNotAvailable), errors.Is(err, ErrWithdrawProhibited),
		errors.Is(err, ErrWithdrawInProgress), errors.Is(err, ErrInsufficientFunds):
		return KindAccounting
	case errors.Is(err, ErrAlreadyInPool), errors.Is(err, ErrNotInPool), errors.Is(err, ErrArbitratorHasAgreements),
		errors.Is(err, ErrPoolEmpty):
		return KindPool
	case errors.Is(err, ErrZeroBeneficiary), errors.Is(err, ErrSameParty), errors.Is(err, ErrZeroArbitrator),
		errors.Is(err, ErrArbitratorIsParty), errors.Is(err, ErrPercentageOutOfRange), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrDeadlineOverflow):
		return KindInvalid
	default:
		return KindInternal
	}
}
