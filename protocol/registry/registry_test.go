// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	store, err := kv.NewMem()
	require.NoError(t, err)
	st := state.New(store)
	return New(storage.NewContext(poolfi.BytesToAddress([]byte("registry")), st))
}

func TestRegister(t *testing.T) {
	reg := newTestRegistry(t)
	operator := poolfi.BytesToAddress([]byte("op1"))
	pub1 := poolfi.BytesToPubkey([]byte("pub1"))
	pub2 := poolfi.BytesToPubkey([]byte("pub2"))

	idx, err := reg.Register(operator, pub1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)

	idx, err = reg.Register(operator, pub2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	count, err := reg.PubkeyCount(operator)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	got, err := reg.PubkeyAt(operator, 0)
	require.NoError(t, err)
	assert.Equal(t, pub1, got)

	owner, err := reg.OwnerOf(pub2)
	require.NoError(t, err)
	assert.Equal(t, operator, owner)
}

func TestRegisterDuplicatePubkey(t *testing.T) {
	reg := newTestRegistry(t)
	pub := poolfi.BytesToPubkey([]byte("pub1"))

	_, err := reg.Register(poolfi.BytesToAddress([]byte("op1")), pub)
	require.NoError(t, err)

	_, err = reg.Register(poolfi.BytesToAddress([]byte("op2")), pub)
	require.Error(t, err)
	assert.Equal(t, reverts.CodeDuplicate, reverts.CodeOf(err))
}

func TestTrustedRole(t *testing.T) {
	reg := newTestRegistry(t)
	op1 := poolfi.BytesToAddress([]byte("op1"))
	op2 := poolfi.BytesToAddress([]byte("op2"))

	require.NoError(t, reg.SetTrusted(op1, true))
	require.NoError(t, reg.SetTrusted(op2, true))
	// idempotent
	require.NoError(t, reg.SetTrusted(op1, true))

	count, err := reg.TrustedCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	trusted, err := reg.IsTrusted(op1)
	require.NoError(t, err)
	assert.True(t, trusted)

	require.NoError(t, reg.SetTrusted(op1, false))
	count, err = reg.TrustedCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSuperClass(t *testing.T) {
	reg := newTestRegistry(t)
	op := poolfi.BytesToAddress([]byte("op1"))

	super, err := reg.IsSuper(op)
	require.NoError(t, err)
	assert.False(t, super)

	require.NoError(t, reg.SetSuper(op, true))
	super, err = reg.IsSuper(op)
	require.NoError(t, err)
	assert.True(t, super)

	// class change keeps the trusted flag
	require.NoError(t, reg.SetTrusted(op, true))
	require.NoError(t, reg.SetSuper(op, false))
	trusted, err := reg.IsTrusted(op)
	require.NoError(t, err)
	assert.True(t, trusted)
}
