package core

import (
	"math/big"

	"escrowd/native/escrow"
)

// CreateAgreement opens an agreement funded with value from caller.
func (n *Node) CreateAgreement(caller [20]byte, value *big.Int, beneficiary [20]byte, detailsHash string, deadline *int64) (*escrow.Agreement, error) {
	var out *escrow.Agreement
	err := n.execute("create_agreement", caller, value, func(e *escrow.Engine) error {
		agreement, err := e.CreateAgreement(caller, value, beneficiary, detailsHash, deadline)
		out = agreement
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) AddFunds(caller [20]byte, id uint64, value *big.Int) (*escrow.Agreement, error) {
	return n.agreementCall("add_funds", caller, value, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.AddFunds(caller, id, value)
	})
}

func (n *Node) CancelAgreement(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("cancel_agreement", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.CancelAgreement(caller, id)
	})
}

func (n *Node) ApproveAgreement(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("approve_agreement", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.ApproveAgreement(caller, id)
	})
}

func (n *Node) RejectAgreement(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("reject_agreement", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.RejectAgreement(caller, id)
	})
}

func (n *Node) RefundAgreement(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("refund_agreement", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.RefundAgreement(caller, id)
	})
}

func (n *Node) ReleaseFunds(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("release_funds", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.ReleaseFunds(caller, id)
	})
}

func (n *Node) RaiseDispute(caller [20]byte, id uint64) (*escrow.Agreement, error) {
	return n.agreementCall("raise_dispute", caller, nil, func(e *escrow.Engine) (*escrow.Agreement, error) {
		return e.RaiseDispute(caller, id)
	})
}

// RegisterArbitrator proposes or confirms an arbitrator. After the agree
// window it falls through to pool assignment.
func (n *Node) RegisterArbitrator(caller [20]byte, id uint64, arbitrator [20]byte, feePercentage uint32) (*escrow.Dispute, error) {
	return n.disputeCall("register_arbitrator", caller, func(e *escrow.Engine) (*escrow.Dispute, error) {
		return e.RegisterArbitrator(caller, id, arbitrator, feePercentage)
	})
}

func (n *Node) AssignArbitrator(caller [20]byte, id uint64) (*escrow.Dispute, error) {
	return n.disputeCall("assign_arbitrator", caller, func(e *escrow.Engine) (*escrow.Dispute, error) {
		return e.AssignArbitrator(caller, id)
	})
}

func (n *Node) ResolveDispute(caller [20]byte, id uint64, refundPercentage uint32) (*escrow.Dispute, error) {
	return n.disputeCall("resolve_dispute", caller, func(e *escrow.Engine) (*escrow.Dispute, error) {
		return e.ResolveDispute(caller, id, refundPercentage)
	})
}

// ForceSplit settles an idle pool-assigned dispute with the fixed split.
func (n *Node) ForceSplit(caller [20]byte, id uint64) (*escrow.Dispute, error) {
	return n.disputeCall("force_split", caller, func(e *escrow.Engine) (*escrow.Dispute, error) {
		return e.ForceSplit(caller, id)
	})
}

// WithdrawFunds pays the caller's bucket out of the vault.
func (n *Node) WithdrawFunds(caller [20]byte, id uint64) (*big.Int, error) {
	var paid *big.Int
	err := n.execute("withdraw_funds", caller, nil, func(e *escrow.Engine) error {
		amount, err := e.WithdrawFunds(caller, id)
		paid = amount
		return err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (n *Node) AddArbitrator(caller, arbitrator [20]byte) error {
	return n.execute("add_arbitrator", caller, nil, func(e *escrow.Engine) error {
		return e.AddArbitrator(caller, arbitrator)
	})
}

func (n *Node) RemoveArbitrator(caller, arbitrator [20]byte) error {
	return n.execute("remove_arbitrator", caller, nil, func(e *escrow.Engine) error {
		return e.RemoveArbitrator(caller, arbitrator)
	})
}

func (n *Node) agreementCall(op string, caller [20]byte, value *big.Int, fn func(*escrow.Engine) (*escrow.Agreement, error)) (*escrow.Agreement, error) {
	var out *escrow.Agreement
	err := n.execute(op, caller, value, func(e *escrow.Engine) error {
		agreement, err := fn(e)
		out = agreement
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) disputeCall(op string, caller [20]byte, fn func(*escrow.Engine) (*escrow.Dispute, error)) (*escrow.Dispute, error) {
	var out *escrow.Dispute
	err := n.execute(op, caller, nil, func(e *escrow.Engine) error {
		dispute, err := fn(e)
		out = dispute
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
