// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package reth

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

func newTestToken(t *testing.T) *Token {
	store, err := kv.NewMem()
	require.NoError(t, err)
	st := state.New(store)
	return New(storage.NewContext(poolfi.BytesToAddress([]byte("reth")), st))
}

func TestMintBurn(t *testing.T) {
	token := newTestToken(t)
	holder := poolfi.BytesToAddress([]byte("holder"))

	require.NoError(t, token.Mint(holder, big.NewInt(1000)))
	require.NoError(t, token.BurnFrom(holder, big.NewInt(300)))

	balance, err := token.BalanceOf(holder)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(700), balance)

	supply, err := token.TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(700), supply)
}

func TestBurnInsufficient(t *testing.T) {
	token := newTestToken(t)
	holder := poolfi.BytesToAddress([]byte("holder"))

	require.NoError(t, token.Mint(holder, big.NewInt(100)))

	err := token.BurnFrom(holder, big.NewInt(101))
	require.Error(t, err)
	assert.Equal(t, reverts.CodeCapacity, reverts.CodeOf(err))
}

func TestExchangeRateDefault(t *testing.T) {
	token := newTestToken(t)

	rate, err := token.ExchangeRate()
	require.NoError(t, err)
	assert.Equal(t, poolfi.CalcBase, rate)
}

func TestUnderlyingValue(t *testing.T) {
	token := newTestToken(t)

	// 1.05 underlying per receipt
	require.NoError(t, token.SetExchangeRate(big.NewInt(105e16)))

	v, err := token.UnderlyingValue(new(big.Int).Mul(big.NewInt(10), poolfi.Ether))
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(105), big.NewInt(1e17)), v)
}

func TestSetExchangeRateRejectsZero(t *testing.T) {
	token := newTestToken(t)

	err := token.SetExchangeRate(new(big.Int))
	require.Error(t, err)
	assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))
}
