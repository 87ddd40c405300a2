package core

import (
	"math/big"

	"escrowd/native/escrow"
)

// Queries run under the state lock so they never observe a half-applied
// call, but they never commit.

func (n *Node) GetAgreementStatus(id uint64) (escrow.Status, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.GetAgreementStatus(id)
}

func (n *Node) GetAgreementDetails(caller [20]byte, id uint64) (*escrow.AgreementDetails, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.GetAgreementDetails(caller, id)
}

func (n *Node) GetWithdrawBalance(caller [20]byte, id uint64) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.GetWithdrawBalance(caller, id)
}

func (n *Node) GetAgreement(id uint64) (*escrow.Agreement, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.GetAgreement(id)
}

func (n *Node) GetDispute(caller [20]byte, id uint64) (*escrow.Dispute, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.GetDispute(caller, id)
}

func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Balance(addr)
}

func (n *Node) PoolMembers() ([][20]byte, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.PoolMembers()
}

func (n *Node) AssignedCount(arbitrator [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.AssignedCount(arbitrator)
}

// LastAgreementID returns the highest agreement identifier issued so far.
func (n *Node) LastAgreementID() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.LastAgreementID()
}

// VaultAddress returns the account that custodies escrowed funds.
func (n *Node) VaultAddress() [20]byte { return n.manager.EscrowVaultAddress() }

// Owner returns the pool owner identity.
func (n *Node) Owner() [20]byte { return n.engine.Owner() }

// Params returns the active ladder parameters.
func (n *Node) Params() escrow.Params { return n.engine.Params() }
