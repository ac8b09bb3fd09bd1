// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package storage

import (
	"github.com/pkg/errors"

	"github.com/poolfi/poolfi/poolfi"
)

// List is an append-only ordered list in storage. Entries keep their index for
// the lifetime of the list, so index-based enumeration stays stable.
type List[V any] struct {
	length  *Uint64
	entries *Mapping[Uint64Key, V]
}

func NewList[V any](ctx *Context, pos poolfi.Bytes32) *List[V] {
	return &List[V]{
		length:  NewUint64(ctx, poolfi.Blake2b(pos.Bytes(), []byte("length"))),
		entries: NewMapping[Uint64Key, V](ctx, poolfi.Blake2b(pos.Bytes(), []byte("entries"))),
	}
}

// Len returns the number of entries.
func (l *List[V]) Len() (uint64, error) {
	return l.length.Get()
}

// Append adds a value at the end of the list and returns its index.
func (l *List[V]) Append(value V) (uint64, error) {
	length, err := l.length.Get()
	if err != nil {
		return 0, err
	}
	if err := l.entries.Set(Uint64Key(length), value); err != nil {
		return 0, err
	}
	l.length.Set(length + 1)
	return length, nil
}

// Get returns the value at the given index.
func (l *List[V]) Get(index uint64) (value V, err error) {
	length, err := l.length.Get()
	if err != nil {
		return value, err
	}
	if index >= length {
		return value, errors.New("list index out of range")
	}
	return l.entries.Get(Uint64Key(index))
}

// Set overwrites the value at an existing index.
func (l *List[V]) Set(index uint64, value V) error {
	length, err := l.length.Get()
	if err != nil {
		return err
	}
	if index >= length {
		return errors.New("list index out of range")
	}
	return l.entries.Set(Uint64Key(index), value)
}
