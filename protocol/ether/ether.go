// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ether is the capital ledger. Every wei the protocol holds sits in
// an account balance here; module accounts hold escrow and pooled capital.
package ether

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
)

// Ledger tracks per-account wei balances in state.
type Ledger struct {
	state *state.State
}

func New(st *state.State) *Ledger {
	return &Ledger{state: st}
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(addr poolfi.Address) (*big.Int, error) {
	return l.state.GetBalance(addr)
}

// Credit adds amount to addr.
func (l *Ledger) Credit(addr poolfi.Address, amount *big.Int) error {
	balance, err := l.state.GetBalance(addr)
	if err != nil {
		return err
	}
	l.state.SetBalance(addr, balance.Add(balance, amount))
	return nil
}

// Debit removes amount from addr. Overdraft reverts with CodeCapacity.
func (l *Ledger) Debit(addr poolfi.Address, amount *big.Int) error {
	balance, err := l.state.GetBalance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return reverts.Capacity("insufficient balance")
	}
	l.state.SetBalance(addr, balance.Sub(balance, amount))
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to poolfi.Address, amount *big.Int) error {
	if err := l.Debit(from, amount); err != nil {
		return err
	}
	return l.Credit(to, amount)
}
