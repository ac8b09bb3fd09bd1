// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package distributor

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/merkle"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

type stakedStub struct {
	count      uint64
	collateral *big.Int
}

func (s *stakedStub) LightStaked() (uint64, *big.Int, error) {
	return s.count, s.collateral, nil
}

type fixture struct {
	ledger *ether.Ledger
	staked *stakedStub
	dist   *Distributor
}

func newFixture(t *testing.T) *fixture {
	store, err := kv.NewMem()
	require.NoError(t, err)
	st := state.New(store)

	set := settings.New(storage.NewContext(poolfi.BytesToAddress([]byte("settings")), st))
	require.NoError(t, set.Initialize())

	ledger := ether.New(st)
	staked := &stakedStub{collateral: new(big.Int)}
	dist := New(storage.NewContext(poolfi.ModuleDistributor, st), set, ledger, staked)
	return &fixture{ledger: ledger, staked: staked, dist: dist}
}

func fromEthers(n int64, d int64) *big.Int {
	// n/d ethers
	v := new(big.Int).Mul(big.NewInt(n), poolfi.Ether)
	return v.Div(v, big.NewInt(d))
}

func TestDistributeFee(t *testing.T) {
	f := newFixture(t)
	// one staked light validator with 4 ether collateral
	f.staked.count = 1
	f.staked.collateral = new(big.Int).Mul(big.NewInt(4), poolfi.Ether)

	require.NoError(t, f.dist.DistributeFee(new(big.Int).Mul(big.NewInt(35), poolfi.Ether)))

	// 35 - 3.5 platform = 31.5; node cut 31.5*4/32 = 3.9375; depositors 27.5625
	pool, err := f.ledger.Balance(poolfi.ModuleUserDeposit)
	require.NoError(t, err)
	assert.Equal(t, fromEthers(275625, 10000), pool)

	claimable, err := f.ledger.Balance(poolfi.ModuleDistributor)
	require.NoError(t, err)
	assert.Equal(t, fromEthers(74375, 10000), claimable)
}

func TestDistributeFeeNoStakedLight(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.dist.DistributeFee(new(big.Int).Mul(big.NewInt(10), poolfi.Ether)))

	// no node cut, only the platform rate
	pool, err := f.ledger.Balance(poolfi.ModuleUserDeposit)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(9), poolfi.Ether), pool)

	claimable, err := f.ledger.Balance(poolfi.ModuleDistributor)
	require.NoError(t, err)
	assert.Equal(t, poolfi.Ether, claimable)
}

func TestDistributeSuperNodeFee(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.dist.DistributeSuperNodeFee(new(big.Int).Mul(big.NewInt(3), poolfi.Ether)))

	// 3 - 0.3 platform = 2.7; node cut 0.27; depositors 2.43
	pool, err := f.ledger.Balance(poolfi.ModuleUserDeposit)
	require.NoError(t, err)
	assert.Equal(t, fromEthers(243, 100), pool)

	claimable, err := f.ledger.Balance(poolfi.ModuleDistributor)
	require.NoError(t, err)
	assert.Equal(t, fromEthers(57, 100), claimable)
}

func TestSetMerkleRootSequential(t *testing.T) {
	f := newFixture(t)
	root := poolfi.BytesToBytes32([]byte("root0"))

	require.NoError(t, f.dist.SetMerkleRoot(0, root))

	got, err := f.dist.MerkleRoot(0)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	err = f.dist.SetMerkleRoot(0, poolfi.BytesToBytes32([]byte("other")))
	require.Error(t, err)
	assert.Equal(t, reverts.CodeDuplicate, reverts.CodeOf(err))

	err = f.dist.SetMerkleRoot(2, root)
	require.Error(t, err)
	assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))

	require.NoError(t, f.dist.SetMerkleRoot(1, root))
	count, err := f.dist.EpochCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

type claimEntry struct {
	index   uint64
	account poolfi.Address
	amount  *big.Int
}

func publishEpoch(t *testing.T, f *fixture, epoch uint64, entries []claimEntry) *merkle.Tree {
	leaves := make([]poolfi.Bytes32, len(entries))
	total := new(big.Int)
	for i, e := range entries {
		leaves[i] = merkle.Leaf(e.index, e.account, e.amount)
		total.Add(total, e.amount)
	}
	tree := merkle.NewTree(leaves)
	require.NoError(t, f.dist.SetMerkleRoot(epoch, tree.Root()))
	require.NoError(t, f.ledger.Credit(poolfi.ModuleDistributor, total))
	return tree
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	acc1 := poolfi.BytesToAddress([]byte("acc1"))
	acc2 := poolfi.BytesToAddress([]byte("acc2"))
	entries := []claimEntry{
		{0, acc1, big.NewInt(1000)},
		{1, acc2, big.NewInt(2000)},
	}
	tree := publishEpoch(t, f, 0, entries)

	proof1, ok := tree.Proof(merkle.Leaf(0, acc1, big.NewInt(1000)))
	require.True(t, ok)
	proof2, ok := tree.Proof(merkle.Leaf(1, acc2, big.NewInt(2000)))
	require.True(t, ok)

	require.NoError(t, f.dist.Claim(
		[]uint64{0, 0},
		[]uint64{0, 1},
		[]poolfi.Address{acc1, acc2},
		[]*big.Int{big.NewInt(1000), big.NewInt(2000)},
		[][]poolfi.Bytes32{proof1, proof2},
	))

	balance, err := f.ledger.Balance(acc2)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2000), balance)

	claimed, err := f.dist.IsClaimed(0, 1)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimReplay(t *testing.T) {
	f := newFixture(t)
	acc := poolfi.BytesToAddress([]byte("acc1"))
	entries := []claimEntry{{7, acc, big.NewInt(500)}}
	tree := publishEpoch(t, f, 0, entries)

	proof, ok := tree.Proof(merkle.Leaf(7, acc, big.NewInt(500)))
	require.True(t, ok)

	claim := func() error {
		return f.dist.Claim([]uint64{0}, []uint64{7}, []poolfi.Address{acc}, []*big.Int{big.NewInt(500)}, [][]poolfi.Bytes32{proof})
	}
	require.NoError(t, claim())

	err := claim()
	require.Error(t, err)
	assert.Equal(t, reverts.CodeDuplicate, reverts.CodeOf(err))
}

func TestClaimBadProof(t *testing.T) {
	f := newFixture(t)
	acc := poolfi.BytesToAddress([]byte("acc1"))
	entries := []claimEntry{{0, acc, big.NewInt(500)}}
	tree := publishEpoch(t, f, 0, entries)

	proof, ok := tree.Proof(merkle.Leaf(0, acc, big.NewInt(500)))
	require.True(t, ok)

	// inflated amount fails proof verification
	err := f.dist.Claim([]uint64{0}, []uint64{0}, []poolfi.Address{acc}, []*big.Int{big.NewInt(501)}, [][]poolfi.Bytes32{proof})
	require.Error(t, err)
	assert.Equal(t, reverts.CodeProof, reverts.CodeOf(err))

	claimed, err := f.dist.IsClaimed(0, 0)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimRejectsMalformedAmounts(t *testing.T) {
	f := newFixture(t)
	acc := poolfi.BytesToAddress([]byte("acc1"))
	entries := []claimEntry{{0, acc, big.NewInt(500)}}
	tree := publishEpoch(t, f, 0, entries)

	proof, ok := tree.Proof(merkle.Leaf(0, acc, big.NewInt(500)))
	require.True(t, ok)

	oversized := new(big.Int).Lsh(big.NewInt(1), 300)
	for _, amount := range []*big.Int{nil, new(big.Int), big.NewInt(-1), oversized} {
		err := f.dist.Claim([]uint64{0}, []uint64{0}, []poolfi.Address{acc}, []*big.Int{amount}, [][]poolfi.Bytes32{proof})
		require.Error(t, err)
		assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))
	}

	claimed, err := f.dist.IsClaimed(0, 0)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimUnpublishedEpoch(t *testing.T) {
	f := newFixture(t)
	acc := poolfi.BytesToAddress([]byte("acc1"))

	err := f.dist.Claim([]uint64{3}, []uint64{0}, []poolfi.Address{acc}, []*big.Int{big.NewInt(1)}, [][]poolfi.Bytes32{nil})
	require.Error(t, err)
	assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))
}
