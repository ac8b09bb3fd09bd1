// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/registry"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

func newTestPolicy(t *testing.T) (*Policy, *registry.Registry) {
	store, err := kv.NewMem()
	require.NoError(t, err)
	st := state.New(store)
	reg := registry.New(storage.NewContext(poolfi.BytesToAddress([]byte("registry")), st))
	return New(storage.NewContext(poolfi.BytesToAddress([]byte("auth")), st), reg), reg
}

func TestGovernance(t *testing.T) {
	policy, _ := newTestPolicy(t)
	gov := poolfi.BytesToAddress([]byte("gov"))
	intruder := poolfi.BytesToAddress([]byte("intruder"))

	require.NoError(t, policy.Initialize(gov))
	// second initialize keeps the first governance
	require.NoError(t, policy.Initialize(intruder))

	got, err := policy.Governance()
	require.NoError(t, err)
	assert.Equal(t, gov, got)

	assert.NoError(t, policy.RequireGovernance(gov))
	err = policy.RequireGovernance(intruder)
	require.Error(t, err)
	assert.Equal(t, reverts.CodeUnauthorized, reverts.CodeOf(err))
}

func TestTransferGovernance(t *testing.T) {
	policy, _ := newTestPolicy(t)
	gov := poolfi.BytesToAddress([]byte("gov"))
	next := poolfi.BytesToAddress([]byte("next"))

	require.NoError(t, policy.Initialize(gov))

	err := policy.TransferGovernance(next, next)
	require.Error(t, err)
	assert.Equal(t, reverts.CodeUnauthorized, reverts.CodeOf(err))

	err = policy.TransferGovernance(gov, poolfi.Address{})
	require.Error(t, err)
	assert.Equal(t, reverts.CodePrecondition, reverts.CodeOf(err))

	require.NoError(t, policy.TransferGovernance(gov, next))
	assert.NoError(t, policy.RequireGovernance(next))
	assert.Error(t, policy.RequireGovernance(gov))
}

func TestTrustedVoter(t *testing.T) {
	policy, reg := newTestPolicy(t)
	voter := poolfi.BytesToAddress([]byte("voter"))

	err := policy.RequireTrustedVoter(voter)
	require.Error(t, err)
	assert.Equal(t, "trusted voter only", reverts.ReasonOf(err))

	require.NoError(t, reg.SetTrusted(voter, true))
	assert.NoError(t, policy.RequireTrustedVoter(voter))
}
