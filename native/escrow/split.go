package escrow

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Split is the three-way partition of a disputed amount.
type Split struct {
	Fee      *big.Int
	Refund   *big.Int
	Released *big.Int
}

// Sum returns Fee+Refund+Released.
func (s Split) Sum() *big.Int {
	total := cloneBigInt(s.Fee)
	total.Add(total, cloneBigInt(s.Refund))
	return total.Add(total, cloneBigInt(s.Released))
}

// ComputeSplit partitions amount for an arbitrator decision. The fee is
// taken first, the refund is a share of what remains, and the released
// bucket absorbs every truncation remainder so the parts always sum to amount.
func ComputeSplit(amount *big.Int, feePercentage, refundPercentage uint32) (Split, error) {
	if feePercentage > PercentageScale || refundPercentage > PercentageScale {
		return Split{}, ErrPercentageOutOfRange
	}
	total, err := toUint256(amount)
	if err != nil {
		return Split{}, err
	}
	scale := uint256.NewInt(uint64(PercentageScale))
	fee, overflow := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(uint64(feePercentage)), scale)
	if overflow {
		return Split{}, fmt.Errorf("escrow: fee computation overflows")
	}
	remaining := new(uint256.Int).Sub(total, fee)
	refund, overflow := new(uint256.Int).MulDivOverflow(remaining, uint256.NewInt(uint64(refundPercentage)), scale)
	if overflow {
		return Split{}, fmt.Errorf("escrow: refund computation overflows")
	}
	released := new(uint256.Int).Sub(remaining, refund)
	return Split{Fee: fee.ToBig(), Refund: refund.ToBig(), Released: released.ToBig()}, nil
}

// ComputeForcedSplit partitions amount when the arbitrator failed to act:
// no fee, refundPercentage of the amount back to the depositor and the rest
// released to the beneficiary.
func ComputeForcedSplit(amount *big.Int, refundPercentage uint32) (Split, error) {
	return ComputeSplit(amount, 0, refundPercentage)
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("escrow: negative amount")
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("escrow: amount exceeds 256 bits")
	}
	return out, nil
}
