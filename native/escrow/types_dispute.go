package escrow

import "math/big"

// Dispute tracks the arbitration of a single disputed agreement. The three
// amounts are populated once the dispute is settled and always sum to the
// agreement amount at the time of the split.
type Dispute struct {
	Arbitrator     [20]byte
	FeePercentage  uint32
	Agreed         bool
	StartDate      int64
	AssignedDate   int64
	RefundAmount   *big.Int
	FeeAmount      *big.Int
	ReleasedAmount *big.Int
}

func newDispute(now int64, fee uint32) *Dispute {
	return &Dispute{
		FeePercentage:  fee,
		StartDate:      now,
		RefundAmount:   big.NewInt(0),
		FeeAmount:      big.NewInt(0),
		ReleasedAmount: big.NewInt(0),
	}
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.RefundAmount = cloneBigInt(d.RefundAmount)
	clone.FeeAmount = cloneBigInt(d.FeeAmount)
	clone.ReleasedAmount = cloneBigInt(d.ReleasedAmount)
	return &clone
}

// HasArbitrator reports whether an arbitrator has been proposed or assigned.
func (d *Dispute) HasArbitrator() bool {
	return d != nil && d.Arbitrator != ([20]byte{})
}

// PoolAssigned reports whether the current arbitrator was force-assigned from
// the pool.
func (d *Dispute) PoolAssigned() bool {
	return d != nil && d.AssignedDate != 0
}

// Role identifies which party a withdrawal pays out to.
type Role uint8

const (
	RoleNone Role = iota
	RoleDepositor
	RoleBeneficiary
	RoleArbitrator
)

func (r Role) String() string {
	switch r {
	case RoleDepositor:
		return "depositor"
	case RoleBeneficiary:
		return "beneficiary"
	case RoleArbitrator:
		return "arbitrator"
	default:
		return "none"
	}
}
