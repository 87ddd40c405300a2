package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of an agreement.
type Status uint8

const (
	// StatusUnknown is the zero value and never persisted.
	StatusUnknown Status = iota
	// StatusFunded marks agreements created by the depositor and awaiting the
	// beneficiary's decision. Funds may still be added.
	StatusFunded
	// StatusCanceled marks agreements withdrawn by the depositor before the
	// beneficiary approved them.
	StatusCanceled
	// StatusRejected marks agreements declined by the beneficiary.
	StatusRejected
	// StatusActive marks agreements approved by the beneficiary.
	StatusActive
	// StatusRefunded marks active agreements the beneficiary gave back.
	StatusRefunded
	// StatusClosed marks agreements whose funds were released to the
	// beneficiary.
	StatusClosed
	// StatusDisputed marks agreements under the dispute resolution ladder.
	StatusDisputed
	// StatusResolved marks disputes settled by the arbitrator.
	StatusResolved
	// StatusUnresolved marks disputes settled by the forced split.
	StatusUnresolved
)

var statusNames = map[Status]string{
	StatusFunded:     "funded",
	StatusCanceled:   "canceled",
	StatusRejected:   "rejected",
	StatusActive:     "active",
	StatusRefunded:   "refunded",
	StatusClosed:     "closed",
	StatusDisputed:   "disputed",
	StatusResolved:   "resolved",
	StatusUnresolved: "unresolved",
}

// String returns the lowercase status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further status transition is possible. Terminal
// agreements only accept withdrawals.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusRejected, StatusRefunded, StatusClosed, StatusResolved, StatusUnresolved:
		return true
	default:
		return false
	}
}

// ParseStatus converts a status name back into its enum value.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for status, candidate := range statusNames {
		if candidate == trimmed {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("escrow: unknown status %q", name)
}

// Agreement captures a single escrow agreement between a depositor and a
// beneficiary. Amount is the value currently held for the agreement; it only
// grows through funding and only shrinks through withdrawal or a dispute split.
type Agreement struct {
	ID           uint64
	Status       Status
	Amount       *big.Int
	Depositor    [20]byte
	Beneficiary  [20]byte
	StartDate    int64
	DeadlineDate int64
	DetailsHash  string
}

// Clone returns a deep copy of the agreement so callers can safely mutate
// the copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Amount = cloneBigInt(a.Amount)
	return &clone
}

// SanitizeAgreement validates the supplied agreement and returns a cloned
// instance with a non-nil amount. The original value is not mutated.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("escrow: nil agreement")
	}
	clone := a.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("escrow: agreement id must be positive")
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: agreement amount must be non-negative")
	}
	if clone.Beneficiary == ([20]byte{}) {
		return nil, ErrZeroBeneficiary
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid agreement status: %d", clone.Status)
	}
	return clone, nil
}

// AgreementDetails is the role-gated view returned by GetAgreementDetails.
type AgreementDetails struct {
	DetailsHash  string
	Amount       *big.Int
	StartDate    int64
	DeadlineDate int64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
