// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package reth implements the receipt token users hold against pooled capital.
// The oracle exchange rate prices a receipt unit in underlying wei over
// poolfi.CalcBase.
package reth

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

var (
	balanceBase      = storage.Slot("reth-balances")
	totalSupplySlot  = storage.Slot("reth-total-supply")
	exchangeRateSlot = storage.Slot("reth-exchange-rate")
)

// Token is the receipt token ledger.
type Token struct {
	ctx         *storage.Context
	totalSupply *storage.Uint256
	rate        *storage.Uint256
}

func New(ctx *storage.Context) *Token {
	return &Token{
		ctx:         ctx,
		totalSupply: storage.NewUint256(ctx, totalSupplySlot),
		rate:        storage.NewUint256(ctx, exchangeRateSlot),
	}
}

func (t *Token) balanceCell(addr poolfi.Address) *storage.Uint256 {
	return storage.NewUint256(t.ctx, poolfi.Blake2b(addr.Bytes(), balanceBase.Bytes()))
}

// BalanceOf returns the receipt balance of addr.
func (t *Token) BalanceOf(addr poolfi.Address) (*big.Int, error) {
	return t.balanceCell(addr).Get()
}

// TotalSupply returns the outstanding receipt supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	return t.totalSupply.Get()
}

// Mint issues amount of receipts to addr.
func (t *Token) Mint(addr poolfi.Address, amount *big.Int) error {
	if err := t.balanceCell(addr).Add(amount); err != nil {
		return err
	}
	return t.totalSupply.Add(amount)
}

// BurnFrom destroys amount of receipts held by addr.
func (t *Token) BurnFrom(addr poolfi.Address, amount *big.Int) error {
	cell := t.balanceCell(addr)
	balance, err := cell.Get()
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return reverts.Capacity("insufficient receipt balance")
	}
	cell.Set(balance.Sub(balance, amount))
	return t.totalSupply.Sub(amount)
}

// ExchangeRate returns the underlying wei value of CalcBase receipts. An unset
// rate reads as 1:1.
func (t *Token) ExchangeRate() (*big.Int, error) {
	rate, err := t.rate.Get()
	if err != nil {
		return nil, err
	}
	if rate.Sign() == 0 {
		return new(big.Int).Set(poolfi.CalcBase), nil
	}
	return rate, nil
}

// SetExchangeRate overwrites the oracle exchange rate.
func (t *Token) SetExchangeRate(rate *big.Int) error {
	if rate.Sign() <= 0 {
		return reverts.Precondition("exchange rate must be positive")
	}
	t.rate.Set(rate)
	return nil
}

// UnderlyingValue converts a receipt amount to underlying wei at the current
// rate, rounding down.
func (t *Token) UnderlyingValue(rethAmount *big.Int) (*big.Int, error) {
	rate, err := t.ExchangeRate()
	if err != nil {
		return nil, err
	}
	v := new(big.Int).Mul(rethAmount, rate)
	return v.Div(v, poolfi.CalcBase), nil
}
