// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package settings holds the governed protocol parameters as key/value pairs
// in state. Writes are gated behind governance at the protocol facade.
package settings

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/storage"
)

// Parameter keys.
const (
	KeyDepositEnabled            = "deposit-enabled"
	KeySuperDepositEnabled       = "super-deposit-enabled"
	KeyLightDepositIncrement     = "light-deposit-increment"
	KeySuperDepositIncrement     = "super-deposit-increment"
	KeyPlatformFeeRate           = "platform-fee-rate"
	KeySuperNodeFeeRate          = "super-node-fee-rate"
	KeyConsensusThreshold        = "consensus-threshold"
	KeySuperNodePubkeyLimit      = "super-node-pubkey-limit"
	KeyWithdrawLimitPerCycle     = "withdraw-limit-per-cycle"
	KeyUserWithdrawLimitPerCycle = "user-withdraw-limit-per-cycle"
	KeyCycleSeconds              = "cycle-seconds"
)

// DefaultSuperNodePubkeyLimit caps how many pubkeys one super node may run.
const DefaultSuperNodePubkeyLimit = 50

var initializedSlot = storage.Slot("settings-initialized")

// Settings is the parameter store.
type Settings struct {
	ctx *storage.Context
}

// New creates the parameter store over a storage context.
func New(ctx *storage.Context) *Settings {
	return &Settings{ctx: ctx}
}

func (s *Settings) slot(key string) poolfi.Bytes32 {
	return poolfi.Blake2b([]byte("settings"), []byte(key))
}

// Get returns the value of the given parameter. Unset parameters read as zero.
func (s *Settings) Get(key string) (*big.Int, error) {
	return storage.NewUint256(s.ctx, s.slot(key)).Get()
}

// Set overwrites the value of the given parameter.
func (s *Settings) Set(key string, value *big.Int) {
	storage.NewUint256(s.ctx, s.slot(key)).Set(value)
}

// GetBool reads a flag parameter; any non-zero value is true.
func (s *Settings) GetBool(key string) (bool, error) {
	v, err := s.Get(key)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// SetBool writes a flag parameter.
func (s *Settings) SetBool(key string, value bool) {
	if value {
		s.Set(key, big.NewInt(1))
	} else {
		s.Set(key, new(big.Int))
	}
}

// Initialize installs the default parameters. It runs once per store; later
// calls are no-ops so reopening a data dir keeps governed overrides.
func (s *Settings) Initialize() error {
	done := storage.NewFlag(s.ctx, initializedSlot)
	if set, err := done.Get(); err != nil {
		return err
	} else if set {
		return nil
	}

	s.SetBool(KeyDepositEnabled, true)
	s.SetBool(KeySuperDepositEnabled, true)
	s.Set(KeyLightDepositIncrement, poolfi.DefaultLightNodeDepositIncrement)
	s.Set(KeySuperDepositIncrement, poolfi.DefaultSuperNodeDepositIncrement)
	s.Set(KeyPlatformFeeRate, poolfi.DefaultPlatformFeeRate)
	s.Set(KeySuperNodeFeeRate, poolfi.DefaultSuperNodeFeeRate)
	s.Set(KeyConsensusThreshold, poolfi.DefaultConsensusThreshold)
	s.Set(KeySuperNodePubkeyLimit, big.NewInt(DefaultSuperNodePubkeyLimit))
	s.Set(KeyWithdrawLimitPerCycle, new(big.Int).Mul(big.NewInt(100), poolfi.Ether))
	s.Set(KeyUserWithdrawLimitPerCycle, new(big.Int).Mul(big.NewInt(10), poolfi.Ether))
	s.Set(KeyCycleSeconds, big.NewInt(poolfi.DefaultCycleSeconds))

	done.Set(true)
	return nil
}
