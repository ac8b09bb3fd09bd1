// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package deposit abstracts the beacon deposit registry. Deposits are
// irreversible; the protocol only ever appends to it.
package deposit

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/storage"
)

// Contract receives validator funding calls.
type Contract interface {
	Deposit(pubkey poolfi.Pubkey, withdrawalCredentials poolfi.Bytes32, signature []byte, depositDataRoot poolfi.Bytes32, amount *big.Int) error
}

var (
	amountBase = storage.Slot("deposit-amounts")
	countBase  = storage.Slot("deposit-counts")
)

// Recorder is a state-backed Contract that keeps per-pubkey cumulative
// deposited amount and call count, so the funding history stays auditable.
type Recorder struct {
	ctx *storage.Context
}

func NewRecorder(ctx *storage.Context) *Recorder {
	return &Recorder{ctx: ctx}
}

func (r *Recorder) amountCell(pubkey poolfi.Pubkey) *storage.Uint256 {
	return storage.NewUint256(r.ctx, poolfi.Blake2b(pubkey.Bytes(), amountBase.Bytes()))
}

func (r *Recorder) countCell(pubkey poolfi.Pubkey) *storage.Uint64 {
	return storage.NewUint64(r.ctx, poolfi.Blake2b(pubkey.Bytes(), countBase.Bytes()))
}

// Deposit records an irreversible beacon deposit for pubkey.
func (r *Recorder) Deposit(pubkey poolfi.Pubkey, _ poolfi.Bytes32, _ []byte, _ poolfi.Bytes32, amount *big.Int) error {
	if err := r.amountCell(pubkey).Add(amount); err != nil {
		return err
	}
	count, err := r.countCell(pubkey).Get()
	if err != nil {
		return err
	}
	r.countCell(pubkey).Set(count + 1)
	return nil
}

// DepositedAmount returns the cumulative amount deposited for pubkey.
func (r *Recorder) DepositedAmount(pubkey poolfi.Pubkey) (*big.Int, error) {
	return r.amountCell(pubkey).Get()
}

// DepositCount returns how many deposit calls pubkey received.
func (r *Recorder) DepositCount(pubkey poolfi.Pubkey) (uint64, error) {
	return r.countCell(pubkey).Get()
}
