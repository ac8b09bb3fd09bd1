// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package withdrawal runs the unstake queue: cycle-capped receipt burns,
// queued requests when the pool runs dry, strictly contiguous reconciliation
// and per-request claims.
package withdrawal

import (
	"math/big"

	"github.com/poolfi/poolfi/log"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/reth"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

var logger = log.WithContext("pkg", "withdrawal")

// Request is one queued withdrawal. Indices start at 1; a request becomes
// claimable once reconciliation advances the frontier past it.
type Request struct {
	Owner     poolfi.Address
	Amount    *big.Int
	Cycle     uint64
	Withdrawn bool
}

type cycleUsage struct {
	Cycle  uint64
	Amount *big.Int
}

var (
	requestsBase     = storage.Slot("withdrawal-requests")
	requestCountSlot = storage.Slot("withdrawal-request-count")
	frontierSlot     = storage.Slot("withdrawal-frontier")
	totalMissingSlot = storage.Slot("withdrawal-total-missing")
	globalUsageSlot  = storage.Slot("withdrawal-cycle-usage")
	userUsageBase    = storage.Slot("withdrawal-user-cycle-usage")
	reconciledSlot   = storage.Slot("withdrawal-reconciled-cycle")
	ejectedBase      = storage.Slot("withdrawal-ejected")
	ejectedStartSlot = storage.Slot("withdrawal-ejected-start-cycle")
)

// Queue is the withdrawal queue.
type Queue struct {
	ctx          *storage.Context
	settings     *settings.Settings
	ledger       *ether.Ledger
	token        *reth.Token
	requests     *storage.Mapping[storage.Uint64Key, *Request]
	requestCount *storage.Uint64
	frontier     *storage.Uint64
	totalMissing *storage.Uint256
	globalUsage  *storage.Mapping[storage.Uint64Key, *cycleUsage]
	userUsage    *storage.Mapping[poolfi.Address, *cycleUsage]
	reconciled   *storage.Uint64
	ejected      *storage.Mapping[storage.Uint64Key, []uint64]
	ejectedStart *storage.Uint64
}

func New(ctx *storage.Context, set *settings.Settings, ledger *ether.Ledger, token *reth.Token) *Queue {
	return &Queue{
		ctx:          ctx,
		settings:     set,
		ledger:       ledger,
		token:        token,
		requests:     storage.NewMapping[storage.Uint64Key, *Request](ctx, requestsBase),
		requestCount: storage.NewUint64(ctx, requestCountSlot),
		frontier:     storage.NewUint64(ctx, frontierSlot),
		totalMissing: storage.NewUint256(ctx, totalMissingSlot),
		globalUsage:  storage.NewMapping[storage.Uint64Key, *cycleUsage](ctx, globalUsageSlot),
		userUsage:    storage.NewMapping[poolfi.Address, *cycleUsage](ctx, userUsageBase),
		reconciled:   storage.NewUint64(ctx, reconciledSlot),
		ejected:      storage.NewMapping[storage.Uint64Key, []uint64](ctx, ejectedBase),
		ejectedStart: storage.NewUint64(ctx, ejectedStartSlot),
	}
}

// CurrentCycle derives the withdrawal cycle of a unix timestamp.
func (q *Queue) CurrentCycle(now uint64) (uint64, error) {
	seconds, err := q.settings.Get(settings.KeyCycleSeconds)
	if err != nil {
		return 0, err
	}
	return now / seconds.Uint64(), nil
}

// usage counters reset lazily when the derived cycle moves past the stored one
func usedInCycle(u *cycleUsage, cycle uint64) *big.Int {
	if u == nil || u.Cycle != cycle || u.Amount == nil {
		return new(big.Int)
	}
	return u.Amount
}

func (q *Queue) checkCap(key string, used, attempt *big.Int, reason string) error {
	limit, err := q.settings.Get(key)
	if err != nil {
		return err
	}
	if new(big.Int).Add(used, attempt).Cmp(limit) > 0 {
		return reverts.Capacity(reason)
	}
	return nil
}

// Unstake burns rethAmount of the user's receipts against the oracle rate.
// The payout is instant when the pool covers it; otherwise a queue request is
// issued and its index returned. Both per-cycle caps apply to the attempted
// amount in full, so an unstake never settles partially.
func (q *Queue) Unstake(user poolfi.Address, rethAmount *big.Int, now uint64) (index uint64, instant bool, err error) {
	if rethAmount == nil || rethAmount.Sign() <= 0 {
		return 0, false, reverts.Precondition("unstake amount must be positive")
	}
	underlying, err := q.token.UnderlyingValue(rethAmount)
	if err != nil {
		return 0, false, err
	}
	cycle, err := q.CurrentCycle(now)
	if err != nil {
		return 0, false, err
	}

	global, err := q.globalUsage.Get(storage.Uint64Key(0))
	if err != nil {
		return 0, false, err
	}
	globalUsed := usedInCycle(global, cycle)
	if err := q.checkCap(settings.KeyWithdrawLimitPerCycle, globalUsed, underlying, "withdraw limit reached"); err != nil {
		return 0, false, err
	}
	userUsed, err := q.userUsage.Get(user)
	if err != nil {
		return 0, false, err
	}
	perUser := usedInCycle(userUsed, cycle)
	if err := q.checkCap(settings.KeyUserWithdrawLimitPerCycle, perUser, underlying, "user withdraw limit reached"); err != nil {
		return 0, false, err
	}

	if err := q.token.BurnFrom(user, rethAmount); err != nil {
		return 0, false, err
	}

	if err := q.globalUsage.Set(storage.Uint64Key(0), &cycleUsage{Cycle: cycle, Amount: new(big.Int).Add(globalUsed, underlying)}); err != nil {
		return 0, false, err
	}
	if err := q.userUsage.Set(user, &cycleUsage{Cycle: cycle, Amount: new(big.Int).Add(perUser, underlying)}); err != nil {
		return 0, false, err
	}

	pool, err := q.ledger.Balance(poolfi.ModuleUserDeposit)
	if err != nil {
		return 0, false, err
	}
	if pool.Cmp(underlying) >= 0 {
		if err := q.ledger.Transfer(poolfi.ModuleUserDeposit, user, underlying); err != nil {
			return 0, false, err
		}
		logger.Debug("instant unstake", "user", user, "amount", underlying)
		return 0, true, nil
	}

	count, err := q.requestCount.Get()
	if err != nil {
		return 0, false, err
	}
	index = count + 1
	if err := q.requests.Set(storage.Uint64Key(index), &Request{Owner: user, Amount: underlying, Cycle: cycle}); err != nil {
		return 0, false, err
	}
	q.requestCount.Set(index)
	if err := q.totalMissing.Add(underlying); err != nil {
		return 0, false, err
	}
	logger.Debug("unstake queued", "user", user, "amount", underlying, "index", index)
	return index, false, nil
}

// DistributeWithdrawals reconciles beacon-side withdrawals into the queue.
// The range [fromIndex, toIndex] must start right after the frontier and stay
// within issued requests; the reconciled requests' funds park in the queue's
// settlement account, any excess user share tops up the pool and the node
// share accrues to the distributor's claimable account.
func (q *Queue) DistributeWithdrawals(cycleID uint64, userShare, nodeShare *big.Int, fromIndex, toIndex uint64) error {
	frontier, err := q.frontier.Get()
	if err != nil {
		return err
	}
	if fromIndex != frontier+1 {
		return reverts.Precondition("reconciliation must be contiguous")
	}
	if toIndex < fromIndex {
		return reverts.Precondition("empty reconciliation range")
	}
	count, err := q.requestCount.Get()
	if err != nil {
		return err
	}
	if toIndex > count {
		return reverts.Precondition("reconciliation beyond issued requests")
	}
	lastCycle, err := q.reconciled.Get()
	if err != nil {
		return err
	}
	if cycleID < lastCycle {
		return reverts.Precondition("reconciled cycle must not decrease")
	}

	reserved := new(big.Int)
	for i := fromIndex; i <= toIndex; i++ {
		req, err := q.requests.Get(storage.Uint64Key(i))
		if err != nil {
			return err
		}
		reserved.Add(reserved, req.Amount)
	}
	if userShare.Cmp(reserved) < 0 {
		return reverts.Precondition("user share below reconciled amount")
	}

	if err := q.ledger.Credit(q.ctx.Address(), reserved); err != nil {
		return err
	}
	excess := new(big.Int).Sub(userShare, reserved)
	if err := q.ledger.Credit(poolfi.ModuleUserDeposit, excess); err != nil {
		return err
	}
	if err := q.ledger.Credit(poolfi.ModuleDistributor, nodeShare); err != nil {
		return err
	}

	missing, err := q.totalMissing.Get()
	if err != nil {
		return err
	}
	missing.Sub(missing, reserved)
	if missing.Sign() < 0 {
		missing.SetInt64(0)
	}
	q.totalMissing.Set(missing)

	q.frontier.Set(toIndex)
	q.reconciled.Set(cycleID)
	logger.Debug("withdrawals reconciled", "cycle", cycleID, "from", fromIndex, "to", toIndex, "reserved", reserved)
	return nil
}

// Withdraw claims reconciled requests for their owner.
func (q *Queue) Withdraw(user poolfi.Address, indices []uint64) error {
	if len(indices) == 0 {
		return reverts.Precondition("empty claim batch")
	}
	frontier, err := q.frontier.Get()
	if err != nil {
		return err
	}
	count, err := q.requestCount.Get()
	if err != nil {
		return err
	}
	for _, index := range indices {
		if index == 0 || index > count {
			return reverts.Precondition("request not found")
		}
		if index > frontier {
			return reverts.Precondition("request not yet claimable")
		}
		req, err := q.requests.Get(storage.Uint64Key(index))
		if err != nil {
			return err
		}
		if req.Owner != user {
			return reverts.Unauthorized("not request owner")
		}
		if req.Withdrawn {
			return reverts.Duplicate("request already withdrawn")
		}
		req.Withdrawn = true
		if err := q.requests.Set(storage.Uint64Key(index), req); err != nil {
			return err
		}
		if err := q.ledger.Transfer(q.ctx.Address(), user, req.Amount); err != nil {
			return err
		}
		logger.Debug("request withdrawn", "user", user, "index", index, "amount", req.Amount)
	}
	return nil
}

// NotifyValidatorExit records which validators a cycle ejects to cover queued
// withdrawals. Bookkeeping only; no funds move.
func (q *Queue) NotifyValidatorExit(cycleID, ejectedStartCycle uint64, validatorIndices []uint64) error {
	if len(validatorIndices) == 0 {
		return reverts.Precondition("empty validator batch")
	}
	start, err := q.ejectedStart.Get()
	if err != nil {
		return err
	}
	if ejectedStartCycle < start {
		return reverts.Precondition("ejected start cycle must not decrease")
	}
	list, err := q.ejected.Get(storage.Uint64Key(cycleID))
	if err != nil {
		return err
	}
	list = append(list, validatorIndices...)
	if err := q.ejected.Set(storage.Uint64Key(cycleID), list); err != nil {
		return err
	}
	q.ejectedStart.Set(ejectedStartCycle)
	return nil
}

// Request returns a queued request by index, nil when never issued.
func (q *Queue) Request(index uint64) (*Request, error) {
	count, err := q.requestCount.Get()
	if err != nil {
		return nil, err
	}
	if index == 0 || index > count {
		return nil, nil
	}
	return q.requests.Get(storage.Uint64Key(index))
}

// RequestCount returns how many requests have been issued.
func (q *Queue) RequestCount() (uint64, error) {
	return q.requestCount.Get()
}

// Frontier returns the highest claimable request index.
func (q *Queue) Frontier() (uint64, error) {
	return q.frontier.Get()
}

// TotalMissing returns the queued amount not yet covered by reconciliation.
func (q *Queue) TotalMissing() (*big.Int, error) {
	return q.totalMissing.Get()
}

// ReconciledCycle returns the cycle id of the latest reconciliation.
func (q *Queue) ReconciledCycle() (uint64, error) {
	return q.reconciled.Get()
}

// Ejected returns the validator indices ejected in a cycle.
func (q *Queue) Ejected(cycleID uint64) ([]uint64, error) {
	return q.ejected.Get(storage.Uint64Key(cycleID))
}

// EjectedStartCycle returns the latest reported ejection start cycle.
func (q *Queue) EjectedStartCycle() (uint64, error) {
	return q.ejectedStart.Get()
}
