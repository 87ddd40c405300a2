package escrow

import "math/big"

// GetAgreementStatus returns the status of an agreement. It is not access
// restricted.
func (e *Engine) GetAgreementStatus(id uint64) (Status, error) {
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return StatusUnknown, err
	}
	return agreement.Status, nil
}

// GetAgreementDetails returns the document reference, amount and dates of an
// agreement. Only the parties and the dispute arbitrator may read them.
func (e *Engine) GetAgreementDetails(caller [20]byte, id uint64) (*AgreementDetails, error) {
	agreement, _, err := e.loadViewable(caller, id)
	if err != nil {
		return nil, err
	}
	return &AgreementDetails{
		DetailsHash:  agreement.DetailsHash,
		Amount:       cloneBigInt(agreement.Amount),
		StartDate:    agreement.StartDate,
		DeadlineDate: agreement.DeadlineDate,
	}, nil
}

func (e *Engine) loadViewable(caller [20]byte, id uint64) (*Agreement, *Dispute, error) {
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, nil, err
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return nil, nil, err
	}
	if caller == agreement.Depositor || caller == agreement.Beneficiary {
		return agreement, dispute, nil
	}
	if dispute.HasArbitrator() && caller == dispute.Arbitrator {
		return agreement, dispute, nil
	}
	return nil, nil, ErrNotAuthorized
}

// GetWithdrawBalance returns the amount the caller could withdraw right now.
// It fails with the same WithdrawError WithdrawFunds would return when the
// balance is zero or the role cannot claim in the current status.
func (e *Engine) GetWithdrawBalance(caller [20]byte, id uint64) (*big.Int, error) {
	agreement, dispute, role, err := e.loadForWithdraw(caller, id)
	if err != nil {
		return nil, err
	}
	b, err := checkBucket(caller, role, agreement, dispute)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(b.amount), nil
}

// GetAgreement returns a copy of the full agreement record.
func (e *Engine) GetAgreement(id uint64) (*Agreement, error) {
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	return agreement.Clone(), nil
}

// GetDispute returns a copy of the dispute record of an agreement. The same
// identities that may read the agreement details may read the dispute.
func (e *Engine) GetDispute(caller [20]byte, id uint64) (*Dispute, error) {
	_, dispute, err := e.loadViewable(caller, id)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, ErrNoDispute
	}
	return dispute.Clone(), nil
}

// Balance returns the substrate balance of addr.
func (e *Engine) Balance(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(account.Balance), nil
}
