package state

import (
	"fmt"
	"math/big"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountStorageKey(addr [20]byte) []byte {
	return prefixedKey(accountRecordPrefix, addr[:])
}

// GetAccount returns the account stored under addr. Unknown accounts are
// returned with a zero balance.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.decode(accountStorageKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: stored.Nonce, Balance: nonNil(stored.Balance)}, nil
}

// PutAccount stores the account under addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := nonNil(account.Balance)
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	return m.encode(accountStorageKey(addr), &storedAccount{Nonce: account.Nonce, Balance: balance})
}

// Credit mints amount into addr. It is used for genesis allocations only.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance.Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// Transfer moves amount from one account to another. Either both balances
// change or neither does.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer")
	}
	if from == to {
		return nil
	}
	src, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if src.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", escrow.ErrInsufficientFunds, src.Balance, amount)
	}
	dst, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	src.Balance.Sub(src.Balance, amount)
	src.Nonce++
	dst.Balance.Add(dst.Balance, amount)
	if err := m.PutAccount(from, src); err != nil {
		return err
	}
	return m.PutAccount(to, dst)
}
