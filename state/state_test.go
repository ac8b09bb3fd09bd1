// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
)

func newTestState(t *testing.T) (*State, kv.GetPutCloser) {
	store, err := kv.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestStorage(t *testing.T) {
	st, _ := newTestState(t)

	addr := poolfi.BytesToAddress([]byte("module"))
	key := poolfi.Blake2b([]byte("slot"))

	v, err := st.GetStorage(addr, key)
	assert.NoError(t, err)
	assert.True(t, v.IsZero())

	want := poolfi.BytesToBytes32([]byte{1, 2, 3})
	st.SetStorage(addr, key, want)

	v, err = st.GetStorage(addr, key)
	assert.NoError(t, err)
	assert.Equal(t, want, v)

	st.SetStorage(addr, key, poolfi.Bytes32{})
	v, _ = st.GetStorage(addr, key)
	assert.True(t, v.IsZero())
}

func TestBalance(t *testing.T) {
	st, _ := newTestState(t)

	addr := poolfi.BytesToAddress([]byte("acc"))
	bal, err := st.GetBalance(addr)
	assert.NoError(t, err)
	assert.Equal(t, 0, bal.Sign())

	st.SetBalance(addr, big.NewInt(100))
	bal, _ = st.GetBalance(addr)
	assert.Equal(t, big.NewInt(100), bal)
}

func TestCheckpointRevert(t *testing.T) {
	st, _ := newTestState(t)

	addr := poolfi.BytesToAddress([]byte("acc"))
	st.SetBalance(addr, big.NewInt(1))

	chk := st.NewCheckpoint()
	st.SetBalance(addr, big.NewInt(2))
	bal, _ := st.GetBalance(addr)
	assert.Equal(t, big.NewInt(2), bal)

	st.RevertTo(chk)
	bal, _ = st.GetBalance(addr)
	assert.Equal(t, big.NewInt(1), bal)
}

func TestCommitDropsLayers(t *testing.T) {
	st, _ := newTestState(t)

	addr := poolfi.BytesToAddress([]byte("acc"))
	for i := 1; i <= 10; i++ {
		chk := st.NewCheckpoint()
		st.SetBalance(addr, big.NewInt(int64(i)))
		require.NoError(t, st.Commit())
		assert.Equal(t, chk, st.NewCheckpoint())
		st.RevertTo(chk)
	}

	// committed values stay visible through the reset layers
	bal, err := st.GetBalance(addr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), bal)

	// checkpoint/revert still works after commits
	chk := st.NewCheckpoint()
	st.SetBalance(addr, big.NewInt(99))
	st.RevertTo(chk)
	bal, _ = st.GetBalance(addr)
	assert.Equal(t, big.NewInt(10), bal)
}

func TestCommitReload(t *testing.T) {
	st, store := newTestState(t)

	addr := poolfi.BytesToAddress([]byte("acc"))
	key := poolfi.Blake2b([]byte("slot"))
	st.SetBalance(addr, big.NewInt(42))
	st.SetStorage(addr, key, poolfi.BytesToBytes32([]byte{9}))
	require.NoError(t, st.Commit())

	reloaded := New(store)
	bal, err := reloaded.GetBalance(addr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), bal)
	v, err := reloaded.GetStorage(addr, key)
	require.NoError(t, err)
	assert.Equal(t, poolfi.BytesToBytes32([]byte{9}), v)
}
