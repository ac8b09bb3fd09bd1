// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package withdrawal

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/reth"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

type fixture struct {
	set    *settings.Settings
	ledger *ether.Ledger
	token  *reth.Token
	queue  *Queue
}

func newFixture(t *testing.T) *fixture {
	store, err := kv.NewMem()
	require.NoError(t, err)
	st := state.New(store)

	set := settings.New(storage.NewContext(poolfi.BytesToAddress([]byte("settings")), st))
	require.NoError(t, set.Initialize())

	ledger := ether.New(st)
	token := reth.New(storage.NewContext(poolfi.BytesToAddress([]byte("reth")), st))
	queue := New(storage.NewContext(poolfi.ModuleWithdrawal, st), set, ledger, token)
	return &fixture{set: set, ledger: ledger, token: token, queue: queue}
}

func ethers(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), poolfi.Ether)
}

func TestCurrentCycle(t *testing.T) {
	f := newFixture(t)

	cycle, err := f.queue.CurrentCycle(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cycle)

	cycle, err = f.queue.CurrentCycle(poolfi.DefaultCycleSeconds*3 + 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cycle)
}

func TestInstantUnstake(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))

	require.NoError(t, f.token.Mint(user, ethers(5)))
	require.NoError(t, f.ledger.Credit(poolfi.ModuleUserDeposit, ethers(20)))

	index, instant, err := f.queue.Unstake(user, ethers(5), 1000)
	require.NoError(t, err)
	assert.True(t, instant)
	assert.Equal(t, uint64(0), index)

	balance, err := f.ledger.Balance(user)
	require.NoError(t, err)
	assert.Equal(t, ethers(5), balance)

	receipts, err := f.token.BalanceOf(user)
	require.NoError(t, err)
	assert.Equal(t, 0, receipts.Sign())

	pool, err := f.ledger.Balance(poolfi.ModuleUserDeposit)
	require.NoError(t, err)
	assert.Equal(t, ethers(15), pool)
}

func TestQueuedUnstake(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))

	require.NoError(t, f.token.Mint(user, ethers(8)))

	index, instant, err := f.queue.Unstake(user, ethers(5), 1000)
	require.NoError(t, err)
	assert.False(t, instant)
	assert.Equal(t, uint64(1), index)

	index, _, err = f.queue.Unstake(user, ethers(3), 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	missing, err := f.queue.TotalMissing()
	require.NoError(t, err)
	assert.Equal(t, ethers(8), missing)

	req, err := f.queue.Request(1)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, user, req.Owner)
	assert.Equal(t, ethers(5), req.Amount)
	assert.False(t, req.Withdrawn)
}

func TestUnstakeAtExchangeRate(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))

	// 1.05 underlying per receipt
	require.NoError(t, f.token.SetExchangeRate(big.NewInt(105e16)))
	require.NoError(t, f.token.Mint(user, ethers(4)))
	require.NoError(t, f.ledger.Credit(poolfi.ModuleUserDeposit, ethers(20)))

	_, instant, err := f.queue.Unstake(user, ethers(4), 1000)
	require.NoError(t, err)
	assert.True(t, instant)

	balance, err := f.ledger.Balance(user)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(42), big.NewInt(1e17)), balance)
}

func TestUserCycleCap(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))

	require.NoError(t, f.token.Mint(user, ethers(20)))
	require.NoError(t, f.ledger.Credit(poolfi.ModuleUserDeposit, ethers(100)))

	_, _, err := f.queue.Unstake(user, ethers(6), 1000)
	require.NoError(t, err)

	// 6 + 6 breaches the 10 ether per-user cap; nothing settles
	_, _, err = f.queue.Unstake(user, ethers(6), 1000)
	require.Error(t, err)
	assert.Equal(t, reverts.CodeCapacity, reverts.CodeOf(err))
	assert.Equal(t, "user withdraw limit reached", reverts.ReasonOf(err))

	receipts, err := f.token.BalanceOf(user)
	require.NoError(t, err)
	assert.Equal(t, ethers(14), receipts)

	// the counter resets in the next cycle
	_, _, err = f.queue.Unstake(user, ethers(6), 1000+poolfi.DefaultCycleSeconds)
	require.NoError(t, err)
}

func TestGlobalCycleCap(t *testing.T) {
	f := newFixture(t)
	user1 := poolfi.BytesToAddress([]byte("user1"))
	user2 := poolfi.BytesToAddress([]byte("user2"))

	f.set.Set(settings.KeyWithdrawLimitPerCycle, ethers(10))
	require.NoError(t, f.token.Mint(user1, ethers(10)))
	require.NoError(t, f.token.Mint(user2, ethers(10)))
	require.NoError(t, f.ledger.Credit(poolfi.ModuleUserDeposit, ethers(100)))

	_, _, err := f.queue.Unstake(user1, ethers(7), 1000)
	require.NoError(t, err)

	_, _, err = f.queue.Unstake(user2, ethers(4), 1000)
	require.Error(t, err)
	assert.Equal(t, "withdraw limit reached", reverts.ReasonOf(err))

	_, _, err = f.queue.Unstake(user2, ethers(3), 1000)
	require.NoError(t, err)
}

func queueRequests(t *testing.T, f *fixture, user poolfi.Address, amounts ...int64) {
	total := int64(0)
	for _, a := range amounts {
		total += a
	}
	require.NoError(t, f.token.Mint(user, ethers(total)))
	for i, a := range amounts {
		// spread over cycles to stay under the per-user cap
		_, instant, err := f.queue.Unstake(user, ethers(a), uint64(i)*poolfi.DefaultCycleSeconds)
		require.NoError(t, err)
		require.False(t, instant)
	}
}

func TestDistributeWithdrawals(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))
	queueRequests(t, f, user, 5, 3, 4)

	// gap: frontier is 0, so reconciliation must start at 1
	err := f.queue.DistributeWithdrawals(1, ethers(8), ethers(1), 2, 3)
	require.Error(t, err)
	assert.Equal(t, "reconciliation must be contiguous", reverts.ReasonOf(err))

	// user share must cover the reconciled requests
	err = f.queue.DistributeWithdrawals(1, ethers(7), ethers(1), 1, 2)
	require.Error(t, err)
	assert.Equal(t, "user share below reconciled amount", reverts.ReasonOf(err))

	require.NoError(t, f.queue.DistributeWithdrawals(1, ethers(10), ethers(1), 1, 2))

	frontier, err := f.queue.Frontier()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), frontier)

	// 8 reserved for requests 1-2, excess 2 to the pool
	pool, err := f.ledger.Balance(poolfi.ModuleUserDeposit)
	require.NoError(t, err)
	assert.Equal(t, ethers(2), pool)

	settle, err := f.ledger.Balance(poolfi.ModuleWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, ethers(8), settle)

	claimable, err := f.ledger.Balance(poolfi.ModuleDistributor)
	require.NoError(t, err)
	assert.Equal(t, ethers(1), claimable)

	missing, err := f.queue.TotalMissing()
	require.NoError(t, err)
	assert.Equal(t, ethers(4), missing)

	// cycle id may not go backwards
	err = f.queue.DistributeWithdrawals(0, ethers(4), new(big.Int), 3, 3)
	require.Error(t, err)
	assert.Equal(t, "reconciled cycle must not decrease", reverts.ReasonOf(err))

	// range may not outrun issued requests
	err = f.queue.DistributeWithdrawals(2, ethers(8), new(big.Int), 3, 4)
	require.Error(t, err)
	assert.Equal(t, "reconciliation beyond issued requests", reverts.ReasonOf(err))

	require.NoError(t, f.queue.DistributeWithdrawals(2, ethers(4), new(big.Int), 3, 3))
	missing, err = f.queue.TotalMissing()
	require.NoError(t, err)
	assert.Equal(t, 0, missing.Sign())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	user := poolfi.BytesToAddress([]byte("user1"))
	other := poolfi.BytesToAddress([]byte("user2"))
	queueRequests(t, f, user, 5, 3)

	// nothing reconciled yet
	err := f.queue.Withdraw(user, []uint64{1})
	require.Error(t, err)
	assert.Equal(t, "request not yet claimable", reverts.ReasonOf(err))

	require.NoError(t, f.queue.DistributeWithdrawals(1, ethers(8), new(big.Int), 1, 2))

	err = f.queue.Withdraw(other, []uint64{1})
	require.Error(t, err)
	assert.Equal(t, reverts.CodeUnauthorized, reverts.CodeOf(err))

	require.NoError(t, f.queue.Withdraw(user, []uint64{1, 2}))

	balance, err := f.ledger.Balance(user)
	require.NoError(t, err)
	assert.Equal(t, ethers(8), balance)

	err = f.queue.Withdraw(user, []uint64{2})
	require.Error(t, err)
	assert.Equal(t, reverts.CodeDuplicate, reverts.CodeOf(err))

	err = f.queue.Withdraw(user, []uint64{9})
	require.Error(t, err)
	assert.Equal(t, "request not found", reverts.ReasonOf(err))
}

func TestNotifyValidatorExit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.queue.NotifyValidatorExit(5, 3, []uint64{11, 12}))
	require.NoError(t, f.queue.NotifyValidatorExit(5, 4, []uint64{13}))

	list, err := f.queue.Ejected(5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 12, 13}, list)

	start, err := f.queue.EjectedStartCycle()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), start)

	err = f.queue.NotifyValidatorExit(6, 2, []uint64{14})
	require.Error(t, err)
	assert.Equal(t, "ejected start cycle must not decrease", reverts.ReasonOf(err))

	err = f.queue.NotifyValidatorExit(6, 4, nil)
	require.Error(t, err)
	assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))
}
