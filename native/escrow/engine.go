package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/native/common"
)

// ModuleName is the pause-guard key of the escrow engine.
const ModuleName = "escrow"

// Vault moves value between substrate accounts. Transfers are all-or-nothing:
// an error means no balance changed.
type Vault interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

type engineState interface {
	Vault
	NextAgreementID() (uint64, error)
	AgreementPut(*Agreement) error
	AgreementGet(id uint64) (*Agreement, bool, error)
	DisputePut(id uint64, d *Dispute) error
	DisputeGet(id uint64) (*Dispute, bool, error)
	PoolMembers() ([][20]byte, error)
	PoolPutMembers(members [][20]byte) error
	PoolAssignments(addr [20]byte) (uint64, error)
	PoolSetAssignments(addr [20]byte, count uint64) error
	EscrowVaultAddress() [20]byte
	GetAccount(addr [20]byte) (*types.Account, error)
}

// Engine wires the agreement ledger, the dispute ladder and the arbitrator
// pool with external state, the value-transfer vault and event emitters.
// The engine assumes callers are serialised by the hosting node; the only
// internal lock guards in-flight withdrawals against re-entry.
type Engine struct {
	state    engineState
	vault    Vault
	emitter  events.Emitter
	pauses   common.PauseView
	selector ArbitratorSelector
	params   Params
	owner    [20]byte
	nowFn    func() int64

	withdrawMu  sync.Mutex
	withdrawing map[withdrawKey]struct{}
}

type withdrawKey struct {
	id   uint64
	role Role
}

// NewEngine creates an escrow engine with default parameters, a no-op
// emitter and first-entry arbitrator selection.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		selector:    FirstEntrySelector{},
		params:      DefaultParams(),
		nowFn:       func() int64 { return time.Now().Unix() },
		withdrawing: make(map[withdrawKey]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault overrides the value-transfer backend. Passing nil restores the
// state's own accounts.
func (e *Engine) SetVault(v Vault) { e.vault = v }

// SetOwner configures the identity allowed to manage the arbitrator pool.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// Owner returns the configured pool owner.
func (e *Engine) Owner() [20]byte { return e.owner }

// SetParams replaces the ladder parameters after validating them.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// Params returns the active ladder parameters.
func (e *Engine) Params() Params { return e.params }

// SetSelector configures the pool selection policy. Passing nil restores
// first-entry selection.
func (e *Engine) SetSelector(s ArbitratorSelector) {
	if s == nil {
		e.selector = FirstEntrySelector{}
		return
	}
	e.selector = s
}

// SetPauses wires the module pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, ModuleName)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.vault != nil {
		return e.vault.Transfer(from, to, amount)
	}
	return e.state.Transfer(from, to, amount)
}

func (e *Engine) loadAgreement(id uint64) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, ok, err := e.state.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAgreementNotFound, id)
	}
	return agreement, nil
}

func (e *Engine) loadDispute(id uint64) (*Dispute, error) {
	dispute, ok, err := e.state.DisputeGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return dispute, nil
}

// transition validates op against the workflow and returns the next status.
func transition(a *Agreement, op Operation) (Status, error) {
	return NextStatus(a.Status, op)
}

func requireDepositor(a *Agreement, caller [20]byte) error {
	if caller != a.Depositor {
		return ErrNotDepositor
	}
	return nil
}

func requireBeneficiary(a *Agreement, caller [20]byte) error {
	if caller != a.Beneficiary {
		return ErrNotBeneficiary
	}
	return nil
}

func requireParty(a *Agreement, caller [20]byte) error {
	if caller != a.Depositor && caller != a.Beneficiary {
		return ErrNotParty
	}
	return nil
}

// CreateAgreement records a new agreement funded with value from the caller,
// who becomes the depositor. A nil deadline defaults to now plus the default
// deadline period.
func (e *Engine) CreateAgreement(caller [20]byte, value *big.Int, beneficiary [20]byte, detailsHash string, deadline *int64) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if beneficiary == ([20]byte{}) {
		return nil, ErrZeroBeneficiary
	}
	if beneficiary == caller {
		return nil, ErrSameParty
	}
	amount := cloneBigInt(value)
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	var deadlineDate int64
	if deadline != nil {
		deadlineDate = *deadline
	} else {
		const maxInt64 = int64(^uint64(0) >> 1)
		if now > maxInt64-e.params.DefaultDeadline {
			return nil, ErrDeadlineOverflow
		}
		deadlineDate = now + e.params.DefaultDeadline
	}
	if err := e.transfer(caller, e.state.EscrowVaultAddress(), amount); err != nil {
		return nil, err
	}
	id, err := e.state.NextAgreementID()
	if err != nil {
		return nil, err
	}
	agreement := &Agreement{
		ID:           id,
		Status:       StatusFunded,
		Amount:       amount,
		Depositor:    caller,
		Beneficiary:  beneficiary,
		StartDate:    now,
		DeadlineDate: deadlineDate,
		DetailsHash:  detailsHash,
	}
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewAgreementEvent(EventTypeAgreementCreated, agreement))
	return agreement.Clone(), nil
}

// AddFunds tops up a funded agreement with value from the depositor.
func (e *Engine) AddFunds(caller [20]byte, id uint64, value *big.Int) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if err := requireDepositor(agreement, caller); err != nil {
		return nil, err
	}
	if _, err := transition(agreement, OpAddFunds); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	added := cloneBigInt(value)
	if err := e.transfer(caller, e.state.EscrowVaultAddress(), added); err != nil {
		return nil, err
	}
	agreement.Amount.Add(agreement.Amount, added)
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(agreement, added))
	return agreement.Clone(), nil
}

// CancelAgreement lets the depositor withdraw the offer before the
// beneficiary approves it.
func (e *Engine) CancelAgreement(caller [20]byte, id uint64) (*Agreement, error) {
	return e.simpleTransition(caller, id, OpCancel, requireDepositor, EventTypeAgreementCanceled)
}

// ApproveAgreement lets the beneficiary accept a funded agreement.
func (e *Engine) ApproveAgreement(caller [20]byte, id uint64) (*Agreement, error) {
	return e.simpleTransition(caller, id, OpApprove, requireBeneficiary, EventTypeAgreementApproved)
}

// RejectAgreement lets the beneficiary decline a funded agreement.
func (e *Engine) RejectAgreement(caller [20]byte, id uint64) (*Agreement, error) {
	return e.simpleTransition(caller, id, OpReject, requireBeneficiary, EventTypeAgreementRejected)
}

// RefundAgreement lets the beneficiary hand an active agreement's funds back
// to the depositor.
func (e *Engine) RefundAgreement(caller [20]byte, id uint64) (*Agreement, error) {
	return e.simpleTransition(caller, id, OpRefund, requireBeneficiary, EventTypeAgreementRefunded)
}

func (e *Engine) simpleTransition(caller [20]byte, id uint64, op Operation, check func(*Agreement, [20]byte) error, eventType string) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if err := check(agreement, caller); err != nil {
		return nil, err
	}
	next, err := transition(agreement, op)
	if err != nil {
		return nil, err
	}
	agreement.Status = next
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewAgreementEvent(eventType, agreement))
	return agreement.Clone(), nil
}

// ReleaseFunds closes an active agreement in favour of the beneficiary. The
// depositor may release at any time; the beneficiary only once the deadline
// plus the grace period has passed, leaving the depositor time to dispute.
func (e *Engine) ReleaseFunds(caller [20]byte, id uint64) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(agreement, caller); err != nil {
		return nil, err
	}
	next, err := transition(agreement, OpRelease)
	if err != nil {
		return nil, err
	}
	if caller == agreement.Beneficiary {
		opensAt := addSeconds(agreement.DeadlineDate, e.params.ReleaseGracePeriod)
		if e.now() < opensAt {
			return nil, fmt.Errorf("%w (opens at %d)", ErrReleaseBeforeGrace, opensAt)
		}
	}
	agreement.Status = next
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewAgreementEvent(EventTypeAgreementClosed, agreement))
	return agreement.Clone(), nil
}

// RaiseDispute moves an active agreement past its deadline into the dispute
// ladder and opens the agree-on-arbitrator window.
func (e *Engine) RaiseDispute(caller [20]byte, id uint64) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if err := requireDepositor(agreement, caller); err != nil {
		return nil, err
	}
	next, err := transition(agreement, OpRaiseDispute)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now <= agreement.DeadlineDate {
		return nil, fmt.Errorf("%w (deadline %d)", ErrDisputeBeforeDeadline, agreement.DeadlineDate)
	}
	dispute := newDispute(now, e.params.DefaultFeePercentage)
	agreement.Status = next
	if err := e.state.DisputePut(id, dispute); err != nil {
		return nil, err
	}
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewDisputeRaisedEvent(agreement, dispute))
	return agreement.Clone(), nil
}
