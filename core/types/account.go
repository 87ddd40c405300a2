package types

import "math/big"

// Account is the substrate balance record of a single identity. The escrow
// vault is an Account like any other.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Copy returns a deep copy with a non-nil balance.
func (a *Account) Copy() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance.Set(a.Balance)
	}
	return clone
}
