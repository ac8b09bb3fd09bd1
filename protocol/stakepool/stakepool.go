// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package stakepool runs the per-validator funding lifecycle: node deposits,
// FIFO matching against pooled user capital, credential voting and the final
// beacon top-up. Validator records are never deleted.
package stakepool

import (
	"math/big"

	"github.com/poolfi/poolfi/log"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/deposit"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/registry"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

var logger = log.WithContext("pkg", "stakepool")

// Class is the funding class of a validator, fixed at node deposit time.
type Class uint8

const (
	ClassLight Class = iota
	ClassSuper
)

func (c Class) String() string {
	if c == ClassSuper {
		return "super"
	}
	return "light"
}

// Status is the lifecycle state of a validator.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusNodeDeposited
	StatusUserMatched
	StatusStaked
	StatusOffBoard
	StatusCanWithdraw
	StatusWithdrawn
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusNodeDeposited:
		return "node-deposited"
	case StatusUserMatched:
		return "user-matched"
	case StatusStaked:
		return "staked"
	case StatusOffBoard:
		return "off-board"
	case StatusCanWithdraw:
		return "can-withdraw"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusExited:
		return "exited"
	default:
		return "empty"
	}
}

// Validator is the lifecycle record of one pubkey.
type Validator struct {
	Operator           poolfi.Address
	Class              Class
	Status             Status
	CreatedAt          uint64 // global creation ordinal, orders the match queue
	NodeDeposit        *big.Int
	UserDeposit        *big.Int
	CredentialsMatched bool
	InitialDeposited   bool
	TopUpDeposited     bool
	ProvidedBy         *poolfi.Address `rlp:"nil"`
	ProvidedAmount     *big.Int
}

// WithdrawalCredentials is the credential bound to every protocol validator.
var WithdrawalCredentials = poolfi.Blake2b([]byte("withdrawal-credentials"), poolfi.ModuleWithdrawal.Bytes())

var (
	validatorsBase   = storage.Slot("stakepool-validators")
	queueEntriesBase = storage.Slot("stakepool-queue-entries")
	queueHeadSlot    = storage.Slot("stakepool-queue-head")
	queueTailSlot    = storage.Slot("stakepool-queue-tail")
	ordinalSlot      = storage.Slot("stakepool-ordinal")
	ballotsBase      = storage.Slot("stakepool-ballots")
	agreeBase        = storage.Slot("stakepool-agree-counts")

	lightCountSlot      = storage.Slot("stakepool-light-staked-count")
	lightCollateralSlot = storage.Slot("stakepool-light-staked-collateral")
	superCountSlot      = storage.Slot("stakepool-super-staked-count")
)

// ballot encoding: 0 none, 1 voted mismatch, 2 voted match
const (
	ballotNone uint64 = iota
	ballotMismatch
	ballotMatch
)

// Pool drives the validator lifecycle over the capital ledger.
type Pool struct {
	ctx        *storage.Context
	settings   *settings.Settings
	registry   *registry.Registry
	ledger     *ether.Ledger
	deposits   deposit.Contract
	validators *storage.Mapping[poolfi.Pubkey, *Validator]
	queue      *storage.Mapping[storage.Uint64Key, poolfi.Pubkey]
	queueHead  *storage.Uint64
	queueTail  *storage.Uint64
	ordinal    *storage.Uint64
}

func New(ctx *storage.Context, set *settings.Settings, reg *registry.Registry, ledger *ether.Ledger, deposits deposit.Contract) *Pool {
	return &Pool{
		ctx:        ctx,
		settings:   set,
		registry:   reg,
		ledger:     ledger,
		deposits:   deposits,
		validators: storage.NewMapping[poolfi.Pubkey, *Validator](ctx, validatorsBase),
		queue:      storage.NewMapping[storage.Uint64Key, poolfi.Pubkey](ctx, queueEntriesBase),
		queueHead:  storage.NewUint64(ctx, queueHeadSlot),
		queueTail:  storage.NewUint64(ctx, queueTailSlot),
		ordinal:    storage.NewUint64(ctx, ordinalSlot),
	}
}

// Validator returns the lifecycle record of pubkey, nil when none exists.
func (p *Pool) Validator(pubkey poolfi.Pubkey) (*Validator, error) {
	v, err := p.validators.Get(pubkey)
	if err != nil {
		return nil, err
	}
	if v == nil || v.Status == StatusEmpty {
		return nil, nil
	}
	return v, nil
}

func (p *Pool) mustValidator(pubkey poolfi.Pubkey) (*Validator, error) {
	v, err := p.Validator(pubkey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, reverts.Precondition("validator not found")
	}
	return v, nil
}

// MatchQueue returns the head and tail indices of the FIFO match queue.
func (p *Pool) MatchQueue() (head, tail uint64, err error) {
	if head, err = p.queueHead.Get(); err != nil {
		return
	}
	tail, err = p.queueTail.Get()
	return
}

func (p *Pool) classParams(class Class) (enabledKey, incrementKey string) {
	if class == ClassSuper {
		return settings.KeySuperDepositEnabled, settings.KeySuperDepositIncrement
	}
	return settings.KeyDepositEnabled, settings.KeyLightDepositIncrement
}

// NodeDeposit registers the given pubkeys for operator, issues their initial
// beacon deposits funded by the operator's value, enqueues them for user
// capital matching and runs the matcher.
func (p *Pool) NodeDeposit(operator poolfi.Address, value *big.Int, pubkeys []poolfi.Pubkey, sigs [][]byte, roots []poolfi.Bytes32) error {
	if len(pubkeys) == 0 {
		return reverts.Precondition("empty pubkey batch")
	}
	if len(sigs) != len(pubkeys) || len(roots) != len(pubkeys) {
		return reverts.Precondition("pubkey batch length mismatch")
	}

	super, err := p.registry.IsSuper(operator)
	if err != nil {
		return err
	}
	class := ClassLight
	if super {
		class = ClassSuper
	}

	enabledKey, incrementKey := p.classParams(class)
	enabled, err := p.settings.GetBool(enabledKey)
	if err != nil {
		return err
	}
	if !enabled {
		return reverts.Precondition("node deposits disabled")
	}
	increment, err := p.settings.Get(incrementKey)
	if err != nil {
		return err
	}

	expected := new(big.Int).Mul(increment, big.NewInt(int64(len(pubkeys))))
	if value.Cmp(expected) != 0 {
		return reverts.Precondition("deposit value mismatch")
	}

	if class == ClassSuper {
		limit, err := p.settings.Get(settings.KeySuperNodePubkeyLimit)
		if err != nil {
			return err
		}
		count, err := p.registry.PubkeyCount(operator)
		if err != nil {
			return err
		}
		if new(big.Int).SetUint64(count + uint64(len(pubkeys))).Cmp(limit) > 0 {
			return reverts.Capacity("super node pubkey limit reached")
		}
	}

	for i, pubkey := range pubkeys {
		if _, err := p.registry.Register(operator, pubkey); err != nil {
			return err
		}
		ord, err := p.ordinal.Get()
		if err != nil {
			return err
		}
		p.ordinal.Set(ord + 1)

		v := &Validator{
			Operator:         operator,
			Class:            class,
			Status:           StatusNodeDeposited,
			CreatedAt:        ord,
			NodeDeposit:      new(big.Int).Set(increment),
			UserDeposit:      new(big.Int),
			InitialDeposited: true,
			ProvidedAmount:   new(big.Int),
		}
		if err := p.validators.Set(pubkey, v); err != nil {
			return err
		}
		if err := p.deposits.Deposit(pubkey, WithdrawalCredentials, sigs[i], roots[i], increment); err != nil {
			return err
		}

		tail, err := p.queueTail.Get()
		if err != nil {
			return err
		}
		if err := p.queue.Set(storage.Uint64Key(tail), pubkey); err != nil {
			return err
		}
		p.queueTail.Set(tail + 1)

		logger.Debug("node deposit", "pubkey", pubkey, "operator", operator, "class", class, "ordinal", ord)
	}

	return p.AssignDeposits()
}

// AssignDeposits matches queued validators against pooled user capital in
// creation order. It stops at the first validator the pool cannot cover, so
// matching stays strictly FIFO.
func (p *Pool) AssignDeposits() error {
	head, err := p.queueHead.Get()
	if err != nil {
		return err
	}
	tail, err := p.queueTail.Get()
	if err != nil {
		return err
	}

	for ; head < tail; head++ {
		pubkey, err := p.queue.Get(storage.Uint64Key(head))
		if err != nil {
			return err
		}
		v, err := p.Validator(pubkey)
		if err != nil {
			return err
		}
		if v == nil || v.Status != StatusNodeDeposited {
			// off-boarded while queued, skip
			if err := p.queue.Clear(storage.Uint64Key(head)); err != nil {
				return err
			}
			continue
		}

		matchAmount := new(big.Int).Sub(poolfi.ValidatorFundingTarget, v.NodeDeposit)
		pool, err := p.ledger.Balance(poolfi.ModuleUserDeposit)
		if err != nil {
			return err
		}
		if pool.Cmp(matchAmount) < 0 {
			break
		}

		if err := p.ledger.Transfer(poolfi.ModuleUserDeposit, p.ctx.Address(), matchAmount); err != nil {
			return err
		}
		v.UserDeposit = matchAmount
		v.Status = StatusUserMatched
		if err := p.validators.Set(pubkey, v); err != nil {
			return err
		}
		if err := p.queue.Clear(storage.Uint64Key(head)); err != nil {
			return err
		}
		logger.Debug("user capital matched", "pubkey", pubkey, "amount", matchAmount)
	}

	p.queueHead.Set(head)
	return nil
}

func (p *Pool) ballotCell(voter poolfi.Address, pubkey poolfi.Pubkey) *storage.Uint64 {
	return storage.NewUint64(p.ctx, poolfi.Blake2b(voter.Bytes(), pubkey.Bytes(), ballotsBase.Bytes()))
}

func (p *Pool) agreeCell(pubkey poolfi.Pubkey) *storage.Uint64 {
	return storage.NewUint64(p.ctx, poolfi.Blake2b(pubkey.Bytes(), agreeBase.Bytes()))
}

// VoteWithdrawalCredentials records the voter's credential verdicts. A voter
// may change an earlier verdict; an identical re-vote is a no-op. Once quorum
// marks a pubkey matched, further votes on it fail.
func (p *Pool) VoteWithdrawalCredentials(voter poolfi.Address, pubkeys []poolfi.Pubkey, matches []bool) error {
	if len(pubkeys) == 0 || len(matches) != len(pubkeys) {
		return reverts.Precondition("vote batch length mismatch")
	}

	threshold, err := p.settings.Get(settings.KeyConsensusThreshold)
	if err != nil {
		return err
	}
	trustedCount, err := p.registry.TrustedCount()
	if err != nil {
		return err
	}

	for i, pubkey := range pubkeys {
		v, err := p.mustValidator(pubkey)
		if err != nil {
			return err
		}
		if v.CredentialsMatched {
			return reverts.Duplicate("credentials already matched")
		}

		ballot := ballotMismatch
		if matches[i] {
			ballot = ballotMatch
		}
		cell := p.ballotCell(voter, pubkey)
		prev, err := cell.Get()
		if err != nil {
			return err
		}
		if prev == ballot {
			continue
		}
		cell.Set(ballot)

		agree := p.agreeCell(pubkey)
		count, err := agree.Get()
		if err != nil {
			return err
		}
		if prev == ballotMatch {
			count--
		}
		if ballot == ballotMatch {
			count++
		}
		agree.Set(count)

		// quorum: agree/trusted >= threshold/CalcBase
		lhs := new(big.Int).Mul(new(big.Int).SetUint64(count), poolfi.CalcBase)
		rhs := new(big.Int).Mul(new(big.Int).SetUint64(trustedCount), threshold)
		if trustedCount > 0 && lhs.Cmp(rhs) >= 0 {
			v.CredentialsMatched = true
			if err := p.validators.Set(pubkey, v); err != nil {
				return err
			}
			logger.Debug("credentials matched", "pubkey", pubkey, "agree", count, "trusted", trustedCount)
		}
	}
	return nil
}

// Stake issues the beacon top-up deposit from matched user capital and moves
// the validator to Staked. Super-class validators hand their node increment to
// the pool and become fully user funded.
func (p *Pool) Stake(operator poolfi.Address, pubkeys []poolfi.Pubkey, sigs [][]byte, roots []poolfi.Bytes32) error {
	if len(pubkeys) == 0 {
		return reverts.Precondition("empty pubkey batch")
	}
	if len(sigs) != len(pubkeys) || len(roots) != len(pubkeys) {
		return reverts.Precondition("pubkey batch length mismatch")
	}

	for i, pubkey := range pubkeys {
		v, err := p.mustValidator(pubkey)
		if err != nil {
			return err
		}
		if v.Operator != operator {
			return reverts.Unauthorized("not pubkey owner")
		}
		if v.TopUpDeposited {
			return reverts.Duplicate("already staked")
		}
		if v.Status != StatusUserMatched {
			return reverts.Precondition("validator not matched")
		}
		if !v.CredentialsMatched {
			return reverts.Precondition("credentials not matched")
		}

		topUp := new(big.Int).Sub(poolfi.ValidatorFundingTarget, v.NodeDeposit)
		if err := p.ledger.Debit(p.ctx.Address(), topUp); err != nil {
			return err
		}
		if err := p.deposits.Deposit(pubkey, WithdrawalCredentials, sigs[i], roots[i], topUp); err != nil {
			return err
		}

		if v.Class == ClassSuper {
			// the node increment is released back to the pool; the
			// validator is now carried entirely by user capital
			if err := p.ledger.Credit(poolfi.ModuleUserDeposit, v.NodeDeposit); err != nil {
				return err
			}
			v.UserDeposit = new(big.Int).Set(poolfi.ValidatorFundingTarget)
			v.NodeDeposit = new(big.Int)
		}

		v.TopUpDeposited = true
		v.Status = StatusStaked
		if err := p.validators.Set(pubkey, v); err != nil {
			return err
		}
		if err := p.addStaked(v); err != nil {
			return err
		}
		logger.Debug("validator staked", "pubkey", pubkey, "class", v.Class)
	}
	return nil
}

func (p *Pool) addStaked(v *Validator) error {
	if v.Class == ClassSuper {
		count, err := storage.NewUint64(p.ctx, superCountSlot).Get()
		if err != nil {
			return err
		}
		storage.NewUint64(p.ctx, superCountSlot).Set(count + 1)
		return nil
	}
	count, err := storage.NewUint64(p.ctx, lightCountSlot).Get()
	if err != nil {
		return err
	}
	storage.NewUint64(p.ctx, lightCountSlot).Set(count + 1)
	return storage.NewUint256(p.ctx, lightCollateralSlot).Add(v.NodeDeposit)
}

func (p *Pool) removeStaked(v *Validator) error {
	if v.Class == ClassSuper {
		count, err := storage.NewUint64(p.ctx, superCountSlot).Get()
		if err != nil {
			return err
		}
		storage.NewUint64(p.ctx, superCountSlot).Set(count - 1)
		return nil
	}
	count, err := storage.NewUint64(p.ctx, lightCountSlot).Get()
	if err != nil {
		return err
	}
	storage.NewUint64(p.ctx, lightCountSlot).Set(count - 1)
	return storage.NewUint256(p.ctx, lightCollateralSlot).Sub(v.NodeDeposit)
}

// LightStaked returns the count of staked light validators and their summed
// node collateral. The distributor's fee ratio reads from here.
func (p *Pool) LightStaked() (count uint64, collateral *big.Int, err error) {
	if count, err = storage.NewUint64(p.ctx, lightCountSlot).Get(); err != nil {
		return
	}
	collateral, err = storage.NewUint256(p.ctx, lightCollateralSlot).Get()
	return
}

// SuperStakedCount returns the count of staked super validators.
func (p *Pool) SuperStakedCount() (uint64, error) {
	return storage.NewUint64(p.ctx, superCountSlot).Get()
}

// OffBoard pulls a light validator out of the match queue before user capital
// binds to it.
func (p *Pool) OffBoard(operator poolfi.Address, pubkey poolfi.Pubkey) error {
	v, err := p.mustValidator(pubkey)
	if err != nil {
		return err
	}
	if v.Operator != operator {
		return reverts.Unauthorized("not pubkey owner")
	}
	if v.Class != ClassLight {
		return reverts.Precondition("only light validators can off-board")
	}
	if v.Status != StatusNodeDeposited {
		return reverts.Precondition("validator already matched")
	}
	v.Status = StatusOffBoard
	if err := p.validators.Set(pubkey, v); err != nil {
		return err
	}
	logger.Debug("validator off-boarded", "pubkey", pubkey)
	return nil
}

// ProvideNodeDepositToken escrows a replacement for an off-boarded validator's
// node deposit, clearing its operator to withdraw.
func (p *Pool) ProvideNodeDepositToken(provider poolfi.Address, pubkey poolfi.Pubkey, value *big.Int) error {
	v, err := p.mustValidator(pubkey)
	if err != nil {
		return err
	}
	if v.Status != StatusOffBoard {
		return reverts.Precondition("validator not off-boarded")
	}
	if v.ProvidedBy != nil {
		return reverts.Duplicate("node deposit already provided")
	}
	if value.Cmp(v.NodeDeposit) != 0 {
		return reverts.Precondition("provided value must equal node deposit")
	}
	if err := p.ledger.Credit(p.ctx.Address(), value); err != nil {
		return err
	}
	provided := provider
	v.ProvidedBy = &provided
	v.ProvidedAmount = new(big.Int).Set(value)
	v.Status = StatusCanWithdraw
	return p.validators.Set(pubkey, v)
}

// WithdrawNodeDepositToken pays the escrowed replacement out to the off-boarded
// operator and closes the record.
func (p *Pool) WithdrawNodeDepositToken(operator poolfi.Address, pubkey poolfi.Pubkey) error {
	v, err := p.mustValidator(pubkey)
	if err != nil {
		return err
	}
	if v.Operator != operator {
		return reverts.Unauthorized("not pubkey owner")
	}
	if v.Status != StatusCanWithdraw {
		return reverts.Precondition("node deposit not withdrawable")
	}
	if err := p.ledger.Transfer(p.ctx.Address(), operator, v.ProvidedAmount); err != nil {
		return err
	}
	v.Status = StatusWithdrawn
	if err := p.validators.Set(pubkey, v); err != nil {
		return err
	}
	logger.Debug("node deposit withdrawn", "pubkey", pubkey, "operator", operator)
	return nil
}

// MarkExited records beacon-side validator exits and releases their weight
// from the staked totals. Moves no funds.
func (p *Pool) MarkExited(pubkeys []poolfi.Pubkey) error {
	if len(pubkeys) == 0 {
		return reverts.Precondition("empty pubkey batch")
	}
	for _, pubkey := range pubkeys {
		v, err := p.mustValidator(pubkey)
		if err != nil {
			return err
		}
		if v.Status != StatusStaked {
			return reverts.Precondition("validator not staked")
		}
		if err := p.removeStaked(v); err != nil {
			return err
		}
		v.Status = StatusExited
		if err := p.validators.Set(pubkey, v); err != nil {
			return err
		}
		logger.Debug("validator exited", "pubkey", pubkey)
	}
	return nil
}
