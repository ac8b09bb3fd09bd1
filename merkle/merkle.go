// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package merkle implements the reward distribution proof scheme. Leaves bind
// a claim index, an account and a cumulative amount; interior nodes hash the
// sorted pair of their children, so proofs carry no left/right flags.
package merkle

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/poolfi/poolfi/poolfi"
)

// Leaf computes the leaf hash of a claim entry. The index and amount are
// encoded as 32-byte big-endian words, the account as its raw 20 bytes.
func Leaf(index uint64, account poolfi.Address, amount *big.Int) poolfi.Bytes32 {
	var buf [84]byte
	new(big.Int).SetUint64(index).FillBytes(buf[:32])
	copy(buf[32:52], account.Bytes())
	amount.FillBytes(buf[52:])
	return poolfi.Keccak256(buf[:])
}

func hashPair(a, b poolfi.Bytes32) poolfi.Bytes32 {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return poolfi.Keccak256(a.Bytes(), b.Bytes())
}

// VerifyProof reports whether proof links leaf to root.
func VerifyProof(root poolfi.Bytes32, leaf poolfi.Bytes32, proof []poolfi.Bytes32) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// Tree is a full in-memory merkle tree over a fixed leaf set. It exists for
// proof generation in tooling and tests; verification never needs it.
type Tree struct {
	leaves []poolfi.Bytes32
	layers [][]poolfi.Bytes32
}

// NewTree builds a tree over the given leaves. Leaves are sorted before
// layering so the root is independent of insertion order.
func NewTree(leaves []poolfi.Bytes32) *Tree {
	sorted := make([]poolfi.Bytes32, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0
	})

	layers := [][]poolfi.Bytes32{sorted}
	for cur := sorted; len(cur) > 1; {
		next := make([]poolfi.Bytes32, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, hashPair(cur[i], cur[i+1]))
			} else {
				// odd node carries up unchanged
				next = append(next, cur[i])
			}
		}
		layers = append(layers, next)
		cur = next
	}
	return &Tree{leaves: sorted, layers: layers}
}

// Root returns the tree root. An empty tree has a zero root.
func (t *Tree) Root() (root poolfi.Bytes32) {
	if len(t.leaves) == 0 {
		return
	}
	return t.layers[len(t.layers)-1][0]
}

// Proof returns the sibling path of the given leaf, or false when the leaf is
// not in the tree.
func (t *Tree) Proof(leaf poolfi.Bytes32) ([]poolfi.Bytes32, bool) {
	idx := sort.Search(len(t.leaves), func(i int) bool {
		return bytes.Compare(t.leaves[i].Bytes(), leaf.Bytes()) >= 0
	})
	if idx >= len(t.leaves) || t.leaves[idx] != leaf {
		return nil, false
	}

	var proof []poolfi.Bytes32
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		idx /= 2
	}
	return proof, true
}
