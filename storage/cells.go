// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
)

// Uint256 is a wrapper for storage and retrieval of an unsigned big integer,
// similar to storing an uint256 in a smart contract.
type Uint256 struct {
	ctx *Context
	pos poolfi.Bytes32
}

func NewUint256(ctx *Context, pos poolfi.Bytes32) *Uint256 {
	return &Uint256{ctx: ctx, pos: pos}
}

func (u *Uint256) Get() (*big.Int, error) {
	stored, err := u.ctx.state.GetStorage(u.ctx.address, u.pos)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(stored.Bytes()), nil
}

func (u *Uint256) Set(value *big.Int) {
	u.ctx.state.SetStorage(u.ctx.address, u.pos, poolfi.BytesToBytes32(value.Bytes()))
}

func (u *Uint256) Add(value *big.Int) error {
	stored, err := u.Get()
	if err != nil {
		return err
	}
	u.Set(stored.Add(stored, value))
	return nil
}

func (u *Uint256) Sub(value *big.Int) error {
	stored, err := u.Get()
	if err != nil {
		return err
	}
	u.Set(stored.Sub(stored, value))
	return nil
}

// Uint64 is a wrapper for storage and retrieval of an uint64 counter.
type Uint64 struct {
	inner *Uint256
}

func NewUint64(ctx *Context, pos poolfi.Bytes32) *Uint64 {
	return &Uint64{inner: NewUint256(ctx, pos)}
}

func (u *Uint64) Get() (uint64, error) {
	v, err := u.inner.Get()
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (u *Uint64) Set(value uint64) {
	u.inner.Set(new(big.Int).SetUint64(value))
}

// Address is a wrapper for storage and retrieval of an address.
type Address struct {
	ctx *Context
	pos poolfi.Bytes32
}

func NewAddress(ctx *Context, pos poolfi.Bytes32) *Address {
	return &Address{ctx: ctx, pos: pos}
}

func (a *Address) Get() (poolfi.Address, error) {
	stored, err := a.ctx.state.GetStorage(a.ctx.address, a.pos)
	if err != nil {
		return poolfi.Address{}, err
	}
	return poolfi.BytesToAddress(stored.Bytes()), nil
}

func (a *Address) Set(addr poolfi.Address) {
	a.ctx.state.SetStorage(a.ctx.address, a.pos, poolfi.BytesToBytes32(addr.Bytes()))
}

// Bytes32 is a wrapper for storage and retrieval of a [32]byte.
type Bytes32 struct {
	ctx *Context
	pos poolfi.Bytes32
}

func NewBytes32(ctx *Context, pos poolfi.Bytes32) *Bytes32 {
	return &Bytes32{ctx: ctx, pos: pos}
}

func (b *Bytes32) Get() (poolfi.Bytes32, error) {
	return b.ctx.state.GetStorage(b.ctx.address, b.pos)
}

func (b *Bytes32) Set(value poolfi.Bytes32) {
	b.ctx.state.SetStorage(b.ctx.address, b.pos, value)
}

// Flag is a wrapper for storage and retrieval of a bool.
type Flag struct {
	inner *Uint256
}

func NewFlag(ctx *Context, pos poolfi.Bytes32) *Flag {
	return &Flag{inner: NewUint256(ctx, pos)}
}

func (f *Flag) Get() (bool, error) {
	v, err := f.inner.Get()
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

func (f *Flag) Set(value bool) {
	if value {
		f.inner.Set(big.NewInt(1))
	} else {
		f.inner.Set(new(big.Int))
	}
}
