// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/stackedmap"
)

var (
	storagePrefix = []byte("s")
	balancePrefix = []byte("b")
)

// Error is the error caused by state access failure.
type Error struct {
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state: %v", e.cause)
}

// State manages the ledger state: per-module storage slots and per-account
// balances, with checkpoint/revert semantics on top of a key-value store.
type State struct {
	store kv.GetPutter
	sm    *stackedmap.StackedMap
}

type storageKey struct {
	addr poolfi.Address
	key  poolfi.Bytes32
}

type balanceKey poolfi.Address

// New create a state object backed by the given store.
func New(store kv.GetPutter) *State {
	s := &State{store: store}
	s.sm = stackedmap.New(s.cacheGetter)
	// base layer, never reverted
	s.sm.Push()
	return s
}

// cacheGetter implements stackedmap.MapGetter.
func (s *State) cacheGetter(key any) (any, bool, error) {
	switch k := key.(type) {
	case storageKey:
		raw, err := s.load(append(append([]byte{}, storagePrefix...), append(k.addr.Bytes(), k.key.Bytes()...)...))
		if err != nil {
			return nil, false, err
		}
		return rlp.RawValue(raw), true, nil
	case balanceKey:
		raw, err := s.load(append(append([]byte{}, balancePrefix...), k[:]...))
		if err != nil {
			return nil, false, err
		}
		return new(big.Int).SetBytes(raw), true, nil
	}
	panic(fmt.Errorf("unexpected key type %+v", key))
}

func (s *State) load(key []byte) ([]byte, error) {
	val, err := s.store.Get(key)
	if err != nil {
		if s.store.IsNotFound(err) {
			return nil, nil
		}
		return nil, &Error{err}
	}
	return val, nil
}

// GetBalance returns the balance of the given account.
func (s *State) GetBalance(addr poolfi.Address) (*big.Int, error) {
	v, _, err := s.sm.Get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

// SetBalance sets the balance of the given account.
func (s *State) SetBalance(addr poolfi.Address, balance *big.Int) {
	s.sm.Put(balanceKey(addr), new(big.Int).Set(balance))
}

// GetRawStorage returns the raw rlp value stored at (addr, key).
func (s *State) GetRawStorage(addr poolfi.Address, key poolfi.Bytes32) (rlp.RawValue, error) {
	v, _, err := s.sm.Get(storageKey{addr, key})
	if err != nil {
		return nil, err
	}
	return v.(rlp.RawValue), nil
}

// SetRawStorage sets the raw rlp value at (addr, key). Empty raw clears the slot.
func (s *State) SetRawStorage(addr poolfi.Address, key poolfi.Bytes32, raw rlp.RawValue) {
	s.sm.Put(storageKey{addr, key}, raw)
}

// GetStorage returns the bytes32 value stored at (addr, key).
func (s *State) GetStorage(addr poolfi.Address, key poolfi.Bytes32) (poolfi.Bytes32, error) {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return poolfi.Bytes32{}, err
	}
	if len(raw) == 0 {
		return poolfi.Bytes32{}, nil
	}
	var content []byte
	if err := rlp.DecodeBytes(raw, &content); err != nil {
		return poolfi.Bytes32{}, &Error{err}
	}
	return poolfi.BytesToBytes32(content), nil
}

// SetStorage sets the bytes32 value at (addr, key). Zero value clears the slot.
func (s *State) SetStorage(addr poolfi.Address, key, value poolfi.Bytes32) {
	if value.IsZero() {
		s.SetRawStorage(addr, key, nil)
		return
	}
	trimmed := 0
	for trimmed < 32 && value[trimmed] == 0 {
		trimmed++
	}
	raw, _ := rlp.EncodeToBytes(value[trimmed:])
	s.SetRawStorage(addr, key, raw)
}

// EncodeStorage sets the storage value encoded by the given enc function.
// An empty encoded value clears the slot.
func (s *State) EncodeStorage(addr poolfi.Address, key poolfi.Bytes32, enc func() ([]byte, error)) error {
	raw, err := enc()
	if err != nil {
		return &Error{err}
	}
	s.SetRawStorage(addr, key, raw)
	return nil
}

// DecodeStorage decodes the storage value at (addr, key) using the given dec
// function. dec receives nil when the slot is empty.
func (s *State) DecodeStorage(addr poolfi.Address, key poolfi.Bytes32, dec func([]byte) error) error {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return err
	}
	if err := dec(raw); err != nil {
		return &Error{err}
	}
	return nil
}

// NewCheckpoint makes a checkpoint of the current state.
// It returns the checkpoint to be passed to RevertTo.
func (s *State) NewCheckpoint() int {
	return s.sm.Push()
}

// RevertTo reverts the state to the given checkpoint.
func (s *State) RevertTo(checkpoint int) {
	s.sm.PopTo(checkpoint)
}

// Commit writes all accumulated changes to the backing store in one batch.
func (s *State) Commit() error {
	batch := s.store.NewBatch()
	var werr error
	s.sm.Journal(func(k, v any) bool {
		switch key := k.(type) {
		case storageKey:
			full := append(append([]byte{}, storagePrefix...), append(key.addr.Bytes(), key.key.Bytes()...)...)
			raw := v.(rlp.RawValue)
			if len(raw) == 0 {
				werr = batch.Delete(full)
			} else {
				werr = batch.Put(full, raw)
			}
		case balanceKey:
			full := append(append([]byte{}, balancePrefix...), key[:]...)
			bal := v.(*big.Int)
			if bal.Sign() == 0 {
				werr = batch.Delete(full)
			} else {
				werr = batch.Put(full, bal.Bytes())
			}
		}
		return werr == nil
	})
	if werr != nil {
		return &Error{werr}
	}
	if err := batch.Write(); err != nil {
		return &Error{err}
	}
	// the journal is flushed, so drop the accumulated layers; later reads
	// fall through to the backing store
	s.sm = stackedmap.New(s.cacheGetter)
	s.sm.Push()
	return nil
}
