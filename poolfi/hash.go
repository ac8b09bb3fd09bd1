// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package poolfi

import (
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// NewBlake2b returns blake2b-256 hash.
func NewBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// Blake2b computes blake2b-256 checksum for given data.
// Used to derive storage slot positions.
func Blake2b(data ...[]byte) (h Bytes32) {
	if len(data) == 1 {
		return blake2b.Sum256(data[0])
	}
	hasher := blake2bPool.Get().(hash.Hash)
	for _, b := range data {
		hasher.Write(b)
	}
	hasher.Sum(h[:0])
	hasher.Reset()
	blake2bPool.Put(hasher)
	return
}

var blake2bPool = sync.Pool{
	New: func() any { return NewBlake2b() },
}

type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

var keccak256Pool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256().(keccakState) },
}

// Keccak256 computes keccak256 checksum for given data.
// Used for merkle leaves and nodes to stay proof-compatible with the
// settlement tooling.
func Keccak256(data ...[]byte) (h Bytes32) {
	hasher := keccak256Pool.Get().(keccakState)
	for _, b := range data {
		hasher.Write(b)
	}
	hasher.Read(h[:])
	hasher.Reset()
	keccak256Pool.Put(hasher)
	return
}
