// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/poolfi/poolfi/poolfi"
)

// Mapping is a key/value storage abstraction, similar to a mapping in
// Solidity. Values are rlp encoded; a missing key decodes to the zero value.
type Mapping[K Key, V any] struct {
	ctx     *Context
	basePos poolfi.Bytes32
}

func NewMapping[K Key, V any](ctx *Context, pos poolfi.Bytes32) *Mapping[K, V] {
	return &Mapping[K, V]{ctx: ctx, basePos: pos}
}

func (m *Mapping[K, V]) position(key K) poolfi.Bytes32 {
	return poolfi.Blake2b(key.Bytes(), m.basePos.Bytes())
}

func (m *Mapping[K, V]) Get(key K) (value V, err error) {
	err = m.ctx.state.DecodeStorage(m.ctx.address, m.position(key), func(raw []byte) error {
		if reflect.ValueOf(value).Kind() == reflect.Ptr {
			value = reflect.New(reflect.TypeOf(value).Elem()).Interface().(V)
		}
		if len(raw) == 0 {
			return nil
		}
		return rlp.DecodeBytes(raw, &value)
	})
	return
}

func (m *Mapping[K, V]) Set(key K, value V) error {
	return m.ctx.state.EncodeStorage(m.ctx.address, m.position(key), func() ([]byte, error) {
		return rlp.EncodeToBytes(value)
	})
}

// Clear removes the value stored for key.
func (m *Mapping[K, V]) Clear(key K) error {
	return m.ctx.state.EncodeStorage(m.ctx.address, m.position(key), func() ([]byte, error) {
		return nil, nil
	})
}
