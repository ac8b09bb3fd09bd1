// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package poolfi

import "math/big"

// Fixed-point base for all protocol rates and ratios. A rate of 1e17 over
// CalcBase is 10%.
var CalcBase = big.NewInt(1e18)

// Ether is the wei value of one unit of underlying capital.
var Ether = big.NewInt(1e18)

// ValidatorFundingTarget is the full beacon deposit required to activate one
// validator, in wei.
var ValidatorFundingTarget = new(big.Int).Mul(big.NewInt(32), Ether)

// Default deposit increments posted by node operators per validator, in wei.
// The remainder up to ValidatorFundingTarget is supplied by pooled user capital.
var (
	DefaultLightNodeDepositIncrement = new(big.Int).Mul(big.NewInt(4), Ether)
	DefaultSuperNodeDepositIncrement = new(big.Int).Mul(big.NewInt(1), Ether)
)

// Default governed rates, over CalcBase.
var (
	DefaultPlatformFeeRate    = big.NewInt(1e17) // 10% flat platform cut
	DefaultSuperNodeFeeRate   = big.NewInt(1e17) // 10% of remainder to super nodes
	DefaultConsensusThreshold = big.NewInt(5e17) // half of trusted voters
)

// DefaultCycleSeconds is the length of one withdrawal cycle.
const DefaultCycleSeconds = 86400

// Well-known module accounts on the capital ledger. Addresses are derived from
// the module names, mirroring how implementations are looked up by name.
var (
	ModuleUserDeposit = BytesToAddress([]byte("poolfi-user-deposit"))
	ModuleDistributor = BytesToAddress([]byte("poolfi-distributor"))
	ModuleStakePool   = BytesToAddress([]byte("poolfi-stake-pool"))
	ModuleWithdrawal  = BytesToAddress([]byte("poolfi-withdrawal"))
)
