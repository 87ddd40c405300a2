package escrow

import (
	"encoding/binary"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SelectionContext carries the inputs a selector may use to pick a pool
// arbitrator.
type SelectionContext struct {
	AgreementID uint64
	Caller      [20]byte
	Now         int64
}

// ArbitratorSelector picks one of the eligible pool members. Candidates are
// in pool insertion order and never empty.
type ArbitratorSelector interface {
	Select(candidates [][20]byte, ctx SelectionContext) (int, error)
}

// FirstEntrySelector always picks the earliest-added eligible member.
type FirstEntrySelector struct{}

// Select implements ArbitratorSelector.
func (FirstEntrySelector) Select(candidates [][20]byte, _ SelectionContext) (int, error) {
	if len(candidates) == 0 {
		return 0, ErrPoolEmpty
	}
	return 0, nil
}

// EntropySelector picks keccak256(now || agreementID || caller) modulo the
// number of candidates. The inputs are known to the caller in advance, so the
// choice is predictable and must not be relied on where unpredictability
// matters.
type EntropySelector struct{}

// Select implements ArbitratorSelector.
func (EntropySelector) Select(candidates [][20]byte, ctx SelectionContext) (int, error) {
	if len(candidates) == 0 {
		return 0, ErrPoolEmpty
	}
	buf := make([]byte, 16+len(ctx.Caller))
	binary.BigEndian.PutUint64(buf[0:8], uint64(ctx.Now))
	binary.BigEndian.PutUint64(buf[8:16], ctx.AgreementID)
	copy(buf[16:], ctx.Caller[:])
	digest := new(uint256.Int).SetBytes(ethcrypto.Keccak256(buf))
	idx := new(uint256.Int).Mod(digest, uint256.NewInt(uint64(len(candidates))))
	return int(idx.Uint64()), nil
}

// ParseSelector resolves a configured policy name.
func ParseSelector(name string) (ArbitratorSelector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first", "first-entry":
		return FirstEntrySelector{}, nil
	case "entropy", "pseudo-random":
		return EntropySelector{}, nil
	default:
		return nil, fmt.Errorf("escrow: unknown arbitrator selector %q", name)
	}
}
