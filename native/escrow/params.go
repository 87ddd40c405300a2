package escrow

import "fmt"

const (
	// PercentageScale is the fixed-point denominator of every percentage:
	// 1_000_000 is 100%.
	PercentageScale uint32 = 1_000_000

	secondsPerDay int64 = 24 * 60 * 60
)

// Params holds the timing windows and default percentages of the dispute
// ladder. Durations are in seconds.
type Params struct {
	DefaultDeadline            int64
	ReleaseGracePeriod         int64
	AgreePeriod                int64
	ResolvePeriod              int64
	DefaultFeePercentage       uint32
	UnresolvedRefundPercentage uint32
}

// DefaultParams returns the production parameters: a 30 day default
// deadline, a 3 day release grace period, 2 day agree and resolve windows,
// a 1% arbitrator fee and a 50/50 forced split.
func DefaultParams() Params {
	return Params{
		DefaultDeadline:            30 * secondsPerDay,
		ReleaseGracePeriod:         3 * secondsPerDay,
		AgreePeriod:                2 * secondsPerDay,
		ResolvePeriod:              2 * secondsPerDay,
		DefaultFeePercentage:       10_000,
		UnresolvedRefundPercentage: 500_000,
	}
}

// Validate rejects negative windows and out of range percentages.
func (p Params) Validate() error {
	if p.DefaultDeadline < 0 || p.ReleaseGracePeriod < 0 || p.AgreePeriod < 0 || p.ResolvePeriod < 0 {
		return fmt.Errorf("escrow params: periods must be non-negative")
	}
	if p.DefaultFeePercentage > PercentageScale {
		return fmt.Errorf("escrow params: default fee %d: %w", p.DefaultFeePercentage, ErrPercentageOutOfRange)
	}
	if p.UnresolvedRefundPercentage > PercentageScale {
		return fmt.Errorf("escrow params: unresolved refund %d: %w", p.UnresolvedRefundPercentage, ErrPercentageOutOfRange)
	}
	return nil
}

// addSeconds returns ts+delta, saturating at the int64 bounds.
func addSeconds(ts, delta int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if delta > 0 && ts > maxInt64-delta {
		return maxInt64
	}
	return ts + delta
}
