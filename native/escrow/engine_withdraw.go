package escrow

import (
	"math/big"
)

// bucket is a claimable balance together with the record that owns it.
type bucket struct {
	role   Role
	amount *big.Int
	// onDispute is set when the balance lives on the dispute record rather
	// than the agreement.
	onDispute bool
}

// roleOf resolves which role the caller plays in the agreement. The dispute
// arbitrator only counts once an arbitrator has been agreed or assigned.
func roleOf(a *Agreement, d *Dispute, caller [20]byte) Role {
	switch {
	case caller == a.Depositor:
		return RoleDepositor
	case caller == a.Beneficiary:
		return RoleBeneficiary
	case d != nil && d.Agreed && d.HasArbitrator() && caller == d.Arbitrator:
		return RoleArbitrator
	default:
		return RoleNone
	}
}

// claimable maps (role, status) onto the balance bucket the role may withdraw.
// ok is false when the combination never pays out.
func claimable(role Role, a *Agreement, d *Dispute) (bucket, bool) {
	switch role {
	case RoleBeneficiary:
		switch a.Status {
		case StatusClosed:
			return bucket{role: role, amount: a.Amount}, true
		case StatusResolved, StatusUnresolved:
			if d != nil {
				return bucket{role: role, amount: d.ReleasedAmount, onDispute: true}, true
			}
		}
	case RoleDepositor:
		switch a.Status {
		case StatusCanceled, StatusRejected, StatusRefunded:
			return bucket{role: role, amount: a.Amount}, true
		case StatusResolved, StatusUnresolved:
			if d != nil {
				return bucket{role: role, amount: d.RefundAmount, onDispute: true}, true
			}
		}
	case RoleArbitrator:
		if a.Status == StatusResolved && d != nil {
			return bucket{role: role, amount: d.FeeAmount, onDispute: true}, true
		}
	}
	return bucket{}, false
}

// loadForWithdraw loads the agreement with its dispute record, if any, and
// resolves the caller's role.
func (e *Engine) loadForWithdraw(caller [20]byte, id uint64) (*Agreement, *Dispute, Role, error) {
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, nil, RoleNone, err
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return nil, nil, RoleNone, err
	}
	return agreement, dispute, roleOf(agreement, dispute, caller), nil
}

// checkBucket returns the caller's claimable bucket or a WithdrawError
// describing why nothing can be claimed.
func checkBucket(caller [20]byte, role Role, a *Agreement, d *Dispute) (bucket, error) {
	b, ok := claimable(role, a, d)
	if !ok {
		return bucket{}, &WithdrawError{Caller: caller, Status: a.Status, Reason: ErrWithdrawProhibited}
	}
	if b.amount == nil || b.amount.Sign() <= 0 {
		return bucket{}, &WithdrawError{Caller: caller, Status: a.Status, Reason: ErrFundsNotAvailable}
	}
	return b, nil
}

// WithdrawFunds pays the caller's claimable balance out of the escrow vault.
// The bucket is zeroed and persisted before the transfer; a failed transfer
// restores it. Concurrent or re-entrant withdrawals of the same bucket fail
// with ErrWithdrawInProgress.
func (e *Engine) WithdrawFunds(caller [20]byte, id uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, dispute, role, err := e.loadForWithdraw(caller, id)
	if err != nil {
		return nil, err
	}
	release, err := e.acquireWithdraw(id, role)
	if err != nil {
		return nil, err
	}
	defer release()
	b, err := checkBucket(caller, role, agreement, dispute)
	if err != nil {
		return nil, err
	}

	payout := cloneBigInt(b.amount)
	b.amount.SetInt64(0)
	if err := e.persistBucket(agreement, dispute, b); err != nil {
		b.amount.Set(payout)
		return nil, err
	}
	if err := e.transfer(e.state.EscrowVaultAddress(), caller, payout); err != nil {
		b.amount.Set(payout)
		if rerr := e.persistBucket(agreement, dispute, b); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	e.emit(NewWithdrawnEvent(id, b.role, caller, payout))
	return payout, nil
}

func (e *Engine) persistBucket(agreement *Agreement, dispute *Dispute, b bucket) error {
	if b.onDispute {
		return e.state.DisputePut(agreement.ID, dispute)
	}
	return e.state.AgreementPut(agreement)
}

func (e *Engine) acquireWithdraw(id uint64, role Role) (func(), error) {
	key := withdrawKey{id: id, role: role}
	e.withdrawMu.Lock()
	defer e.withdrawMu.Unlock()
	if e.withdrawing == nil {
		e.withdrawing = make(map[withdrawKey]struct{})
	}
	if _, busy := e.withdrawing[key]; busy {
		return nil, ErrWithdrawInProgress
	}
	e.withdrawing[key] = struct{}{}
	return func() {
		e.withdrawMu.Lock()
		delete(e.withdrawing, key)
		e.withdrawMu.Unlock()
	}, nil
}
