// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package distributor splits protocol rewards between depositors, node
// operators and the platform, and settles operator rewards through sequential
// merkle epochs with bitmap-guarded claims.
package distributor

import (
	"math/big"

	"github.com/prysmaticlabs/go-bitfield"

	"github.com/poolfi/poolfi/log"
	"github.com/poolfi/poolfi/merkle"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

var logger = log.WithContext("pkg", "distributor")

// StakedReader reports the staked light validators backing the fee ratio.
type StakedReader interface {
	LightStaked() (count uint64, collateral *big.Int, err error)
}

var (
	rootsBase      = storage.Slot("distributor-merkle-roots")
	claimedBase    = storage.Slot("distributor-claimed-bitmaps")
	epochCountSlot = storage.Slot("distributor-epoch-count")
)

// Distributor is the reward splitter and claim settler.
type Distributor struct {
	ctx        *storage.Context
	settings   *settings.Settings
	ledger     *ether.Ledger
	staked     StakedReader
	roots      *storage.Mapping[storage.Uint64Key, poolfi.Bytes32]
	claimed    *storage.Mapping[storage.Uint64Key, []byte]
	epochCount *storage.Uint64
}

func New(ctx *storage.Context, set *settings.Settings, ledger *ether.Ledger, staked StakedReader) *Distributor {
	return &Distributor{
		ctx:        ctx,
		settings:   set,
		ledger:     ledger,
		staked:     staked,
		roots:      storage.NewMapping[storage.Uint64Key, poolfi.Bytes32](ctx, rootsBase),
		claimed:    storage.NewMapping[storage.Uint64Key, []byte](ctx, claimedBase),
		epochCount: storage.NewUint64(ctx, epochCountSlot),
	}
}

func (d *Distributor) platformCut(amount *big.Int) (*big.Int, error) {
	rate, err := d.settings.Get(settings.KeyPlatformFeeRate)
	if err != nil {
		return nil, err
	}
	cut := new(big.Int).Mul(amount, rate)
	return cut.Div(cut, poolfi.CalcBase), nil
}

func (d *Distributor) settle(amount, platformCut, nodeCut *big.Int) error {
	depositorShare := new(big.Int).Sub(amount, platformCut)
	depositorShare.Sub(depositorShare, nodeCut)

	if err := d.ledger.Credit(poolfi.ModuleUserDeposit, depositorShare); err != nil {
		return err
	}
	claimable := new(big.Int).Add(platformCut, nodeCut)
	return d.ledger.Credit(d.ctx.Address(), claimable)
}

// DistributeFee splits light-validator rewards. The platform takes its flat
// rate off the top; node operators take the share matching their collateral
// ratio across staked light validators; the rest accrues to the pool.
func (d *Distributor) DistributeFee(amount *big.Int) error {
	if amount.Sign() <= 0 {
		return reverts.Precondition("fee amount must be positive")
	}
	platformCut, err := d.platformCut(amount)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(amount, platformCut)

	count, collateral, err := d.staked.LightStaked()
	if err != nil {
		return err
	}
	nodeCut := new(big.Int)
	if count > 0 {
		nodeCut.Mul(remainder, collateral)
		divisor := new(big.Int).Mul(poolfi.ValidatorFundingTarget, new(big.Int).SetUint64(count))
		nodeCut.Div(nodeCut, divisor)
	}

	logger.Debug("fee distributed", "amount", amount, "platform", platformCut, "node", nodeCut)
	return d.settle(amount, platformCut, nodeCut)
}

// DistributeSuperNodeFee splits super-validator rewards. Super validators
// carry no collateral after staking, so their operators take a flat governed
// rate of the remainder instead of a collateral ratio.
func (d *Distributor) DistributeSuperNodeFee(amount *big.Int) error {
	if amount.Sign() <= 0 {
		return reverts.Precondition("fee amount must be positive")
	}
	platformCut, err := d.platformCut(amount)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(amount, platformCut)

	rate, err := d.settings.Get(settings.KeySuperNodeFeeRate)
	if err != nil {
		return err
	}
	nodeCut := new(big.Int).Mul(remainder, rate)
	nodeCut.Div(nodeCut, poolfi.CalcBase)

	logger.Debug("super node fee distributed", "amount", amount, "platform", platformCut, "node", nodeCut)
	return d.settle(amount, platformCut, nodeCut)
}

// EpochCount returns how many merkle epochs have been published.
func (d *Distributor) EpochCount() (uint64, error) {
	return d.epochCount.Get()
}

// MerkleRoot returns the published root of an epoch.
func (d *Distributor) MerkleRoot(epoch uint64) (poolfi.Bytes32, error) {
	count, err := d.epochCount.Get()
	if err != nil {
		return poolfi.Bytes32{}, err
	}
	if epoch >= count {
		return poolfi.Bytes32{}, reverts.Precondition("merkle epoch not published")
	}
	return d.roots.Get(storage.Uint64Key(epoch))
}

// SetMerkleRoot publishes the claim root of the next epoch. Epochs are
// strictly sequential and a published root is immutable.
func (d *Distributor) SetMerkleRoot(epoch uint64, root poolfi.Bytes32) error {
	count, err := d.epochCount.Get()
	if err != nil {
		return err
	}
	if epoch < count {
		return reverts.Duplicate("merkle root already published")
	}
	if epoch > count {
		return reverts.Precondition("merkle epoch out of order")
	}
	if err := d.roots.Set(storage.Uint64Key(epoch), root); err != nil {
		return err
	}
	d.epochCount.Set(count + 1)
	logger.Debug("merkle root published", "epoch", epoch, "root", root)
	return nil
}

// IsClaimed reports whether the claim at the given epoch and leaf index has
// been settled.
func (d *Distributor) IsClaimed(epoch, index uint64) (bool, error) {
	raw, err := d.claimed.Get(storage.Uint64Key(epoch))
	if err != nil {
		return false, err
	}
	bitmap := bitfield.Bitlist(raw)
	if len(raw) == 0 || index >= bitmap.Len() {
		return false, nil
	}
	return bitmap.BitAt(index), nil
}

func (d *Distributor) setClaimed(epoch, index uint64) error {
	raw, err := d.claimed.Get(storage.Uint64Key(epoch))
	if err != nil {
		return err
	}
	bitmap := bitfield.Bitlist(raw)
	if len(raw) == 0 || index >= bitmap.Len() {
		grown := bitfield.NewBitlist(index + 1)
		if len(raw) > 0 {
			for _, i := range bitmap.BitIndices() {
				grown.SetBitAt(uint64(i), true)
			}
		}
		bitmap = grown
	}
	bitmap.SetBitAt(index, true)
	return d.claimed.Set(storage.Uint64Key(epoch), bitmap)
}

// Claim settles a batch of operator reward claims. The batch is all or
// nothing: one bad proof or replayed leaf fails every claim in it.
func (d *Distributor) Claim(epochs, indices []uint64, accounts []poolfi.Address, amounts []*big.Int, proofs [][]poolfi.Bytes32) error {
	n := len(epochs)
	if n == 0 {
		return reverts.Precondition("empty claim batch")
	}
	if len(indices) != n || len(accounts) != n || len(amounts) != n || len(proofs) != n {
		return reverts.Precondition("claim batch length mismatch")
	}

	for i := 0; i < n; i++ {
		// Leaf encodes the amount as a 32-byte word
		if amounts[i] == nil || amounts[i].Sign() <= 0 || amounts[i].BitLen() > 256 {
			return reverts.Precondition("invalid claim amount")
		}
		root, err := d.MerkleRoot(epochs[i])
		if err != nil {
			return err
		}
		leaf := merkle.Leaf(indices[i], accounts[i], amounts[i])
		if !merkle.VerifyProof(root, leaf, proofs[i]) {
			return reverts.Proof("invalid claim proof")
		}
		claimed, err := d.IsClaimed(epochs[i], indices[i])
		if err != nil {
			return err
		}
		if claimed {
			return reverts.Duplicate("reward already claimed")
		}
		if err := d.setClaimed(epochs[i], indices[i]); err != nil {
			return err
		}
		if err := d.ledger.Transfer(d.ctx.Address(), accounts[i], amounts[i]); err != nil {
			return err
		}
		logger.Debug("reward claimed", "epoch", epochs[i], "index", indices[i], "account", accounts[i], "amount", amounts[i])
	}
	return nil
}
