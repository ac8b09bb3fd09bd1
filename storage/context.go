// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"encoding/binary"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/state"
)

// Context scopes typed storage cells to one module account of the state.
type Context struct {
	address poolfi.Address
	state   *state.State
}

func NewContext(address poolfi.Address, state *state.State) *Context {
	return &Context{
		address: address,
		state:   state,
	}
}

func (c *Context) State() *state.State {
	return c.state
}

func (c *Context) Address() poolfi.Address {
	return c.address
}

// Key is anything usable as a mapping key.
type Key interface {
	Bytes() []byte
}

// Uint64Key adapts an uint64 to a mapping Key.
type Uint64Key uint64

func (k Uint64Key) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

// Slot derives a storage slot position from a name.
func Slot(name string) poolfi.Bytes32 {
	return poolfi.BytesToBytes32([]byte(name))
}
