// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package protocol wires the liquid-staking subsystems over one ledger state
// and serializes every mutating operation: checkpoint, authorize, execute,
// then commit or roll back in full.
package protocol

import (
	"math/big"
	"sync"
	"time"

	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/log"
	"github.com/poolfi/poolfi/metrics"
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/auth"
	"github.com/poolfi/poolfi/protocol/deposit"
	"github.com/poolfi/poolfi/protocol/distributor"
	"github.com/poolfi/poolfi/protocol/ether"
	"github.com/poolfi/poolfi/protocol/events"
	"github.com/poolfi/poolfi/protocol/registry"
	"github.com/poolfi/poolfi/protocol/reth"
	"github.com/poolfi/poolfi/protocol/settings"
	"github.com/poolfi/poolfi/protocol/stakepool"
	"github.com/poolfi/poolfi/protocol/withdrawal"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/state"
	"github.com/poolfi/poolfi/storage"
)

var (
	logger = log.WithContext("pkg", "protocol")

	metricOps         = metrics.CounterVec("protocol_operations_total", []string{"op", "result"})
	metricPoolBalance = metrics.Gauge("protocol_pool_balance_gwei")
)

// Options configures a Protocol instance.
type Options struct {
	// Governance is the bootstrap governance account.
	Governance poolfi.Address
	// TrustedVoters are granted the trusted-voter role at startup.
	TrustedVoters []poolfi.Address
	// Now supplies unix time; defaults to the wall clock.
	Now func() uint64
	// Events receives committed operation events; defaults to a no-op sink.
	Events events.Sink
	// DepositContract overrides the beacon deposit collaborator; defaults to
	// the state-backed recorder.
	DepositContract deposit.Contract
	// SettingsOverrides are applied over the defaults at startup.
	SettingsOverrides map[string]*big.Int
}

// Protocol is the facade over the staking subsystems.
type Protocol struct {
	mu    sync.Mutex
	state *state.State
	now   func() uint64
	sink  events.Sink

	settings *settings.Settings
	ledger   *ether.Ledger
	token    *reth.Token
	registry *registry.Registry
	recorder *deposit.Recorder
	pool     *stakepool.Pool
	dist     *distributor.Distributor
	queue    *withdrawal.Queue
	policy   *auth.Policy
}

// New builds the protocol over the given store and commits its genesis setup.
func New(store kv.GetPutter, opts Options) (*Protocol, error) {
	st := state.New(store)

	set := settings.New(storage.NewContext(poolfi.BytesToAddress([]byte("poolfi-settings")), st))
	ledger := ether.New(st)
	token := reth.New(storage.NewContext(poolfi.BytesToAddress([]byte("poolfi-reth")), st))
	reg := registry.New(storage.NewContext(poolfi.BytesToAddress([]byte("poolfi-registry")), st))
	recorder := deposit.NewRecorder(storage.NewContext(poolfi.BytesToAddress([]byte("poolfi-deposit")), st))

	contract := opts.DepositContract
	if contract == nil {
		contract = recorder
	}
	pool := stakepool.New(storage.NewContext(poolfi.ModuleStakePool, st), set, reg, ledger, contract)
	dist := distributor.New(storage.NewContext(poolfi.ModuleDistributor, st), set, ledger, pool)
	queue := withdrawal.New(storage.NewContext(poolfi.ModuleWithdrawal, st), set, ledger, token)
	policy := auth.New(storage.NewContext(poolfi.BytesToAddress([]byte("poolfi-auth")), st), reg)

	now := opts.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	sink := opts.Events
	if sink == nil {
		sink = events.NopSink{}
	}

	p := &Protocol{
		state:    st,
		now:      now,
		sink:     sink,
		settings: set,
		ledger:   ledger,
		token:    token,
		registry: reg,
		recorder: recorder,
		pool:     pool,
		dist:     dist,
		queue:    queue,
		policy:   policy,
	}

	if err := set.Initialize(); err != nil {
		return nil, err
	}
	for key, value := range opts.SettingsOverrides {
		set.Set(key, value)
	}
	if err := policy.Initialize(opts.Governance); err != nil {
		return nil, err
	}
	for _, voter := range opts.TrustedVoters {
		if err := reg.SetTrusted(voter, true); err != nil {
			return nil, err
		}
	}
	if err := st.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

// run serializes one mutating operation with full rollback on failure.
func (p *Protocol) run(op string, fn func() ([]events.Event, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	checkpoint := p.state.NewCheckpoint()
	evs, err := fn()
	if err != nil {
		p.state.RevertTo(checkpoint)
		metricOps.AddWithLabel(1, map[string]string{"op": op, "result": "reverted"})
		logger.Debug("operation reverted", "op", op, "err", err)
		return err
	}
	if err := p.state.Commit(); err != nil {
		p.state.RevertTo(checkpoint)
		metricOps.AddWithLabel(1, map[string]string{"op": op, "result": "failed"})
		return err
	}
	metricOps.AddWithLabel(1, map[string]string{"op": op, "result": "committed"})
	for _, ev := range evs {
		p.sink.Publish(ev)
	}
	if balance, err := p.ledger.Balance(poolfi.ModuleUserDeposit); err == nil {
		metricPoolBalance.Set(new(big.Int).Div(balance, big.NewInt(1e9)).Int64())
	}
	return nil
}

// UserDeposit takes a user's capital into the pool, mints receipt tokens at
// the oracle rate and immediately tries to match queued validators.
func (p *Protocol) UserDeposit(user poolfi.Address, value *big.Int) error {
	return p.run("user_deposit", func() ([]events.Event, error) {
		if value == nil || value.Sign() <= 0 {
			return nil, reverts.Precondition("deposit value must be positive")
		}
		enabled, err := p.settings.GetBool(settings.KeyDepositEnabled)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, reverts.Precondition("user deposits disabled")
		}
		rate, err := p.token.ExchangeRate()
		if err != nil {
			return nil, err
		}
		minted := new(big.Int).Mul(value, poolfi.CalcBase)
		minted.Div(minted, rate)

		if err := p.ledger.Credit(poolfi.ModuleUserDeposit, value); err != nil {
			return nil, err
		}
		if err := p.token.Mint(user, minted); err != nil {
			return nil, err
		}
		if err := p.pool.AssignDeposits(); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "UserDeposit", Actor: user, Amount: value}}, nil
	})
}

// NodeDeposit registers and initially funds new validators for an operator.
func (p *Protocol) NodeDeposit(operator poolfi.Address, value *big.Int, pubkeys []poolfi.Pubkey, sigs [][]byte, roots []poolfi.Bytes32) error {
	return p.run("node_deposit", func() ([]events.Event, error) {
		if err := p.pool.NodeDeposit(operator, value, pubkeys, sigs, roots); err != nil {
			return nil, err
		}
		evs := make([]events.Event, 0, len(pubkeys))
		for _, pubkey := range pubkeys {
			evs = append(evs, events.Event{Name: "NodeDeposit", Entity: pubkey.String(), Actor: operator, State: stakepool.StatusNodeDeposited.String()})
		}
		return evs, nil
	})
}

// VoteWithdrawalCredentials records a trusted voter's credential verdicts.
func (p *Protocol) VoteWithdrawalCredentials(voter poolfi.Address, pubkeys []poolfi.Pubkey, matches []bool) error {
	return p.run("vote_withdrawal_credentials", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.pool.VoteWithdrawalCredentials(voter, pubkeys, matches); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "VoteWithdrawalCredentials", Actor: voter}}, nil
	})
}

// Stake issues the top-up beacon deposits for matched validators.
func (p *Protocol) Stake(operator poolfi.Address, pubkeys []poolfi.Pubkey, sigs [][]byte, roots []poolfi.Bytes32) error {
	return p.run("stake", func() ([]events.Event, error) {
		if err := p.pool.Stake(operator, pubkeys, sigs, roots); err != nil {
			return nil, err
		}
		evs := make([]events.Event, 0, len(pubkeys))
		for _, pubkey := range pubkeys {
			evs = append(evs, events.Event{Name: "Stake", Entity: pubkey.String(), Actor: operator, State: stakepool.StatusStaked.String()})
		}
		return evs, nil
	})
}

// OffBoard pulls an unmatched light validator out of the queue.
func (p *Protocol) OffBoard(operator poolfi.Address, pubkey poolfi.Pubkey) error {
	return p.run("off_board", func() ([]events.Event, error) {
		if err := p.pool.OffBoard(operator, pubkey); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "OffBoard", Entity: pubkey.String(), Actor: operator, State: stakepool.StatusOffBoard.String()}}, nil
	})
}

// ProvideNodeDepositToken escrows the replacement for an off-boarded
// validator's node deposit.
func (p *Protocol) ProvideNodeDepositToken(provider poolfi.Address, pubkey poolfi.Pubkey, value *big.Int) error {
	return p.run("provide_node_deposit_token", func() ([]events.Event, error) {
		if err := p.pool.ProvideNodeDepositToken(provider, pubkey, value); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "ProvideNodeDepositToken", Entity: pubkey.String(), Actor: provider, Amount: value, State: stakepool.StatusCanWithdraw.String()}}, nil
	})
}

// WithdrawNodeDepositToken pays an off-boarded operator its node deposit back.
func (p *Protocol) WithdrawNodeDepositToken(operator poolfi.Address, pubkey poolfi.Pubkey) error {
	return p.run("withdraw_node_deposit_token", func() ([]events.Event, error) {
		if err := p.pool.WithdrawNodeDepositToken(operator, pubkey); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "WithdrawNodeDepositToken", Entity: pubkey.String(), Actor: operator, State: stakepool.StatusWithdrawn.String()}}, nil
	})
}

// MarkExited records beacon-side exits reported by a trusted voter.
func (p *Protocol) MarkExited(voter poolfi.Address, pubkeys []poolfi.Pubkey) error {
	return p.run("mark_exited", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.pool.MarkExited(pubkeys); err != nil {
			return nil, err
		}
		evs := make([]events.Event, 0, len(pubkeys))
		for _, pubkey := range pubkeys {
			evs = append(evs, events.Event{Name: "MarkExited", Entity: pubkey.String(), Actor: voter, State: stakepool.StatusExited.String()})
		}
		return evs, nil
	})
}

// DistributeFee splits light-validator rewards reported by a trusted voter.
func (p *Protocol) DistributeFee(voter poolfi.Address, amount *big.Int) error {
	return p.run("distribute_fee", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.dist.DistributeFee(amount); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "DistributeFee", Actor: voter, Amount: amount}}, nil
	})
}

// DistributeSuperNodeFee splits super-validator rewards reported by a trusted
// voter.
func (p *Protocol) DistributeSuperNodeFee(voter poolfi.Address, amount *big.Int) error {
	return p.run("distribute_super_node_fee", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.dist.DistributeSuperNodeFee(amount); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "DistributeSuperNodeFee", Actor: voter, Amount: amount}}, nil
	})
}

// SetMerkleRoot publishes the next reward epoch's claim root.
func (p *Protocol) SetMerkleRoot(caller poolfi.Address, epoch uint64, root poolfi.Bytes32) error {
	return p.run("set_merkle_root", func() ([]events.Event, error) {
		if err := p.policy.RequireGovernance(caller); err != nil {
			if err := p.policy.RequireTrustedVoter(caller); err != nil {
				return nil, err
			}
		}
		if err := p.dist.SetMerkleRoot(epoch, root); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "SetMerkleRoot", Entity: root.String(), Actor: caller}}, nil
	})
}

// Claim settles a batch of reward claims against published merkle epochs.
func (p *Protocol) Claim(epochs, indices []uint64, accounts []poolfi.Address, amounts []*big.Int, proofs [][]poolfi.Bytes32) error {
	return p.run("claim", func() ([]events.Event, error) {
		if err := p.dist.Claim(epochs, indices, accounts, amounts, proofs); err != nil {
			return nil, err
		}
		evs := make([]events.Event, 0, len(accounts))
		for i := range accounts {
			evs = append(evs, events.Event{Name: "Claim", Actor: accounts[i], Amount: amounts[i]})
		}
		return evs, nil
	})
}

// Unstake burns a user's receipt tokens for underlying capital.
func (p *Protocol) Unstake(user poolfi.Address, rethAmount *big.Int) (index uint64, instant bool, err error) {
	err = p.run("unstake", func() ([]events.Event, error) {
		var err error
		index, instant, err = p.queue.Unstake(user, rethAmount, p.now())
		if err != nil {
			return nil, err
		}
		return []events.Event{{Name: "Unstake", Actor: user, Amount: rethAmount}}, nil
	})
	return
}

// DistributeWithdrawals reconciles beacon-side withdrawals into the queue.
func (p *Protocol) DistributeWithdrawals(voter poolfi.Address, cycleID uint64, userShare, nodeShare *big.Int, fromIndex, toIndex uint64) error {
	return p.run("distribute_withdrawals", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.queue.DistributeWithdrawals(cycleID, userShare, nodeShare, fromIndex, toIndex); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "DistributeWithdrawals", Actor: voter, Amount: userShare}}, nil
	})
}

// Withdraw claims reconciled withdrawal requests.
func (p *Protocol) Withdraw(user poolfi.Address, indices []uint64) error {
	return p.run("withdraw", func() ([]events.Event, error) {
		if err := p.queue.Withdraw(user, indices); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "Withdraw", Actor: user}}, nil
	})
}

// NotifyValidatorExit records a cycle's ejected validators.
func (p *Protocol) NotifyValidatorExit(voter poolfi.Address, cycleID, ejectedStartCycle uint64, validatorIndices []uint64) error {
	return p.run("notify_validator_exit", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.queue.NotifyValidatorExit(cycleID, ejectedStartCycle, validatorIndices); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "NotifyValidatorExit", Actor: voter}}, nil
	})
}

// SetOperatorClass switches an operator between light and super class.
func (p *Protocol) SetOperatorClass(caller, operator poolfi.Address, super bool) error {
	return p.run("set_operator_class", func() ([]events.Event, error) {
		if err := p.policy.RequireGovernance(caller); err != nil {
			return nil, err
		}
		if err := p.registry.SetSuper(operator, super); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "SetOperatorClass", Entity: operator.String(), Actor: caller}}, nil
	})
}

// SetTrustedVoter grants or revokes the trusted-voter role.
func (p *Protocol) SetTrustedVoter(caller, operator poolfi.Address, trusted bool) error {
	return p.run("set_trusted_voter", func() ([]events.Event, error) {
		if err := p.policy.RequireGovernance(caller); err != nil {
			return nil, err
		}
		if err := p.registry.SetTrusted(operator, trusted); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "SetTrustedVoter", Entity: operator.String(), Actor: caller}}, nil
	})
}

// SetSettings overwrites a governed protocol parameter.
func (p *Protocol) SetSettings(caller poolfi.Address, key string, value *big.Int) error {
	return p.run("set_settings", func() ([]events.Event, error) {
		if err := p.policy.RequireGovernance(caller); err != nil {
			return nil, err
		}
		p.settings.Set(key, value)
		return []events.Event{{Name: "SetSettings", Entity: key, Actor: caller, Amount: value}}, nil
	})
}

// SetExchangeRate publishes the oracle receipt-token exchange rate.
func (p *Protocol) SetExchangeRate(voter poolfi.Address, rate *big.Int) error {
	return p.run("set_exchange_rate", func() ([]events.Event, error) {
		if err := p.policy.RequireTrustedVoter(voter); err != nil {
			return nil, err
		}
		if err := p.token.SetExchangeRate(rate); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "SetExchangeRate", Actor: voter, Amount: rate}}, nil
	})
}

// TransferGovernance hands governance to a new account.
func (p *Protocol) TransferGovernance(caller, next poolfi.Address) error {
	return p.run("transfer_governance", func() ([]events.Event, error) {
		if err := p.policy.TransferGovernance(caller, next); err != nil {
			return nil, err
		}
		return []events.Event{{Name: "TransferGovernance", Entity: next.String(), Actor: caller}}, nil
	})
}
