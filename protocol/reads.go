// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package protocol

import (
	"math/big"

	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/stakepool"
	"github.com/poolfi/poolfi/protocol/withdrawal"
)

// Summary is a point-in-time view of the pool and queue.
type Summary struct {
	PoolBalance     *big.Int `json:"poolBalance"`
	RethSupply      *big.Int `json:"rethSupply"`
	ExchangeRate    *big.Int `json:"exchangeRate"`
	QueueHead       uint64   `json:"queueHead"`
	QueueTail       uint64   `json:"queueTail"`
	LightStaked     uint64   `json:"lightStaked"`
	LightCollateral *big.Int `json:"lightCollateral"`
	SuperStaked     uint64   `json:"superStaked"`
	RequestCount    uint64   `json:"requestCount"`
	Frontier        uint64   `json:"frontier"`
	TotalMissing    *big.Int `json:"totalMissing"`
	ReconciledCycle uint64   `json:"reconciledCycle"`
	CurrentCycle    uint64   `json:"currentCycle"`
	EpochCount      uint64   `json:"epochCount"`
}

// OperatorInfo is an operator record with its pubkey count.
type OperatorInfo struct {
	Trusted     bool   `json:"trusted"`
	Super       bool   `json:"super"`
	PubkeyCount uint64 `json:"pubkeyCount"`
}

// Summary returns the pool/queue overview.
func (p *Protocol) Summary() (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Summary{}
	var err error
	if s.PoolBalance, err = p.ledger.Balance(poolfi.ModuleUserDeposit); err != nil {
		return nil, err
	}
	if s.RethSupply, err = p.token.TotalSupply(); err != nil {
		return nil, err
	}
	if s.ExchangeRate, err = p.token.ExchangeRate(); err != nil {
		return nil, err
	}
	if s.QueueHead, s.QueueTail, err = p.pool.MatchQueue(); err != nil {
		return nil, err
	}
	if s.LightStaked, s.LightCollateral, err = p.pool.LightStaked(); err != nil {
		return nil, err
	}
	if s.SuperStaked, err = p.pool.SuperStakedCount(); err != nil {
		return nil, err
	}
	if s.RequestCount, err = p.queue.RequestCount(); err != nil {
		return nil, err
	}
	if s.Frontier, err = p.queue.Frontier(); err != nil {
		return nil, err
	}
	if s.TotalMissing, err = p.queue.TotalMissing(); err != nil {
		return nil, err
	}
	if s.ReconciledCycle, err = p.queue.ReconciledCycle(); err != nil {
		return nil, err
	}
	if s.CurrentCycle, err = p.queue.CurrentCycle(p.now()); err != nil {
		return nil, err
	}
	if s.EpochCount, err = p.dist.EpochCount(); err != nil {
		return nil, err
	}
	return s, nil
}

// Operator returns an operator's record and pubkey count.
func (p *Protocol) Operator(operator poolfi.Address) (*OperatorInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, err := p.registry.Operator(operator)
	if err != nil {
		return nil, err
	}
	count, err := p.registry.PubkeyCount(operator)
	if err != nil {
		return nil, err
	}
	return &OperatorInfo{Trusted: record.Trusted, Super: record.Super, PubkeyCount: count}, nil
}

// OperatorPubkeys pages through an operator's ordered pubkey list.
func (p *Protocol) OperatorPubkeys(operator poolfi.Address, from, limit uint64) ([]poolfi.Pubkey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, err := p.registry.PubkeyCount(operator)
	if err != nil {
		return nil, err
	}
	pubkeys := []poolfi.Pubkey{}
	for i := from; i < count && uint64(len(pubkeys)) < limit; i++ {
		pubkey, err := p.registry.PubkeyAt(operator, i)
		if err != nil {
			return nil, err
		}
		pubkeys = append(pubkeys, pubkey)
	}
	return pubkeys, nil
}

// Validator returns a validator's lifecycle record, nil when unknown.
func (p *Protocol) Validator(pubkey poolfi.Pubkey) (*stakepool.Validator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Validator(pubkey)
}

// DepositedAmount returns the cumulative beacon deposit recorded for pubkey.
func (p *Protocol) DepositedAmount(pubkey poolfi.Pubkey) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorder.DepositedAmount(pubkey)
}

// Request returns a withdrawal request by index, nil when never issued.
func (p *Protocol) Request(index uint64) (*withdrawal.Request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Request(index)
}

// MerkleRoot returns a published epoch root.
func (p *Protocol) MerkleRoot(epoch uint64) (poolfi.Bytes32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dist.MerkleRoot(epoch)
}

// IsClaimed reports whether a reward leaf has been claimed.
func (p *Protocol) IsClaimed(epoch, index uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dist.IsClaimed(epoch, index)
}

// Ejected returns the validator indices ejected in a cycle.
func (p *Protocol) Ejected(cycleID uint64) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Ejected(cycleID)
}

// Balance returns the ledger balance of an account.
func (p *Protocol) Balance(addr poolfi.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Balance(addr)
}

// RethBalance returns the receipt token balance of an account.
func (p *Protocol) RethBalance(addr poolfi.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token.BalanceOf(addr)
}

// Setting returns the value of a protocol parameter.
func (p *Protocol) Setting(key string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.Get(key)
}

// Governance returns the governance account.
func (p *Protocol) Governance() (poolfi.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy.Governance()
}
