package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/native/escrow"
)

// EscrowVaultAddress is the account that custodies every agreement's funds.
var EscrowVaultAddress = moduleAddress("module/escrow/vault")

func moduleAddress(label string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(label))[12:])
	return out
}

func idBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func agreementStorageKey(id uint64) []byte {
	return prefixedKey(agreementRecordPrefix, idBytes(id))
}

func disputeStorageKey(id uint64) []byte {
	return prefixedKey(disputeRecordPrefix, idBytes(id))
}

func poolAssignmentKey(addr [20]byte) []byte {
	return prefixedKey(poolAssignmentPrefix, addr[:])
}

type storedAgreement struct {
	ID           uint64
	Status       uint8
	Amount       *big.Int
	Depositor    [20]byte
	Beneficiary  [20]byte
	StartDate    *big.Int
	DeadlineDate *big.Int
	DetailsHash  string
}

func newStoredAgreement(a *escrow.Agreement) *storedAgreement {
	amount := big.NewInt(0)
	if a.Amount != nil {
		amount = new(big.Int).Set(a.Amount)
	}
	return &storedAgreement{
		ID:           a.ID,
		Status:       uint8(a.Status),
		Amount:       amount,
		Depositor:    a.Depositor,
		Beneficiary:  a.Beneficiary,
		StartDate:    big.NewInt(a.StartDate),
		DeadlineDate: big.NewInt(a.DeadlineDate),
		DetailsHash:  a.DetailsHash,
	}
}

func (s *storedAgreement) toAgreement() (*escrow.Agreement, error) {
	out := &escrow.Agreement{
		ID:          s.ID,
		Status:      escrow.Status(s.Status),
		Amount:      big.NewInt(0),
		Depositor:   s.Depositor,
		Beneficiary: s.Beneficiary,
		DetailsHash: s.DetailsHash,
	}
	if s.Amount != nil {
		out.Amount.Set(s.Amount)
	}
	if s.StartDate != nil {
		out.StartDate = s.StartDate.Int64()
	}
	if s.DeadlineDate != nil {
		out.DeadlineDate = s.DeadlineDate.Int64()
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid stored status %d", s.Status)
	}
	return out, nil
}

type storedDispute struct {
	Arbitrator     [20]byte
	FeePercentage  uint32
	Agreed         bool
	StartDate      *big.Int
	AssignedDate   *big.Int
	RefundAmount   *big.Int
	FeeAmount      *big.Int
	ReleasedAmount *big.Int
}

func newStoredDispute(d *escrow.Dispute) *storedDispute {
	return &storedDispute{
		Arbitrator:     d.Arbitrator,
		FeePercentage:  d.FeePercentage,
		Agreed:         d.Agreed,
		StartDate:      big.NewInt(d.StartDate),
		AssignedDate:   big.NewInt(d.AssignedDate),
		RefundAmount:   nonNil(d.RefundAmount),
		FeeAmount:      nonNil(d.FeeAmount),
		ReleasedAmount: nonNil(d.ReleasedAmount),
	}
}

func (s *storedDispute) toDispute() *escrow.Dispute {
	out := &escrow.Dispute{
		Arbitrator:     s.Arbitrator,
		FeePercentage:  s.FeePercentage,
		Agreed:         s.Agreed,
		RefundAmount:   nonNil(s.RefundAmount),
		FeeAmount:      nonNil(s.FeeAmount),
		ReleasedAmount: nonNil(s.ReleasedAmount),
	}
	if s.StartDate != nil {
		out.StartDate = s.StartDate.Int64()
	}
	if s.AssignedDate != nil {
		out.AssignedDate = s.AssignedDate.Int64()
	}
	return out
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// NextAgreementID increments and returns the agreement sequence. The first
// identifier is 1.
func (m *Manager) NextAgreementID() (uint64, error) {
	var current uint64
	if _, err := m.decode(agreementSequenceKey, &current); err != nil {
		return 0, fmt.Errorf("escrow: load sequence: %w", err)
	}
	if current == ^uint64(0) {
		return 0, fmt.Errorf("escrow: agreement sequence exhausted")
	}
	current++
	if err := m.encode(agreementSequenceKey, current); err != nil {
		return 0, err
	}
	return current, nil
}

// LastAgreementID returns the highest identifier assigned so far.
func (m *Manager) LastAgreementID() (uint64, error) {
	var current uint64
	if _, err := m.decode(agreementSequenceKey, &current); err != nil {
		return 0, err
	}
	return current, nil
}

// AgreementPut validates and stores the agreement record.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	sanitized, err := escrow.SanitizeAgreement(a)
	if err != nil {
		return err
	}
	return m.encode(agreementStorageKey(sanitized.ID), newStoredAgreement(sanitized))
}

// AgreementGet loads the agreement record.
func (m *Manager) AgreementGet(id uint64) (*escrow.Agreement, bool, error) {
	var stored storedAgreement
	ok, err := m.decode(agreementStorageKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	agreement, err := stored.toAgreement()
	if err != nil {
		return nil, false, err
	}
	return agreement, true, nil
}

// DisputePut stores the dispute record of agreement id.
func (m *Manager) DisputePut(id uint64, d *escrow.Dispute) error {
	if d == nil {
		return fmt.Errorf("escrow: nil dispute")
	}
	return m.encode(disputeStorageKey(id), newStoredDispute(d))
}

// DisputeGet loads the dispute record of agreement id.
func (m *Manager) DisputeGet(id uint64) (*escrow.Dispute, bool, error) {
	var stored storedDispute
	ok, err := m.decode(disputeStorageKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toDispute(), true, nil
}

// PoolMembers returns the arbitrator pool in insertion order.
func (m *Manager) PoolMembers() ([][20]byte, error) {
	var members [][20]byte
	if _, err := m.decode(poolMembersKey, &members); err != nil {
		return nil, err
	}
	if members == nil {
		members = [][20]byte{}
	}
	return members, nil
}

// PoolPutMembers replaces the arbitrator pool.
func (m *Manager) PoolPutMembers(members [][20]byte) error {
	if members == nil {
		members = [][20]byte{}
	}
	return m.encode(poolMembersKey, members)
}

// PoolAssignments returns how many pool-assigned disputes addr holds.
func (m *Manager) PoolAssignments(addr [20]byte) (uint64, error) {
	var count uint64
	if _, err := m.decode(poolAssignmentKey(addr), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// PoolSetAssignments records the assignment count of addr.
func (m *Manager) PoolSetAssignments(addr [20]byte, count uint64) error {
	return m.encode(poolAssignmentKey(addr), count)
}

// EscrowVaultAddress returns the custody account of the escrow module.
func (m *Manager) EscrowVaultAddress() [20]byte {
	return EscrowVaultAddress
}
