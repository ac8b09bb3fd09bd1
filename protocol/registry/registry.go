// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry tracks node operators, their classes and the pubkeys they
// run. Pubkey lists are append-only, so an index handed out once stays valid
// forever.
package registry

import (
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

// Operator is one node operator record.
type Operator struct {
	Trusted bool
	Super   bool
}

var (
	operatorsBase    = storage.Slot("registry-operators")
	pubkeyListBase   = storage.Slot("registry-pubkeys")
	ownersBase       = storage.Slot("registry-owners")
	trustedCountSlot = storage.Slot("registry-trusted-count")
)

// Registry is the operator/pubkey store.
type Registry struct {
	ctx          *storage.Context
	operators    *storage.Mapping[poolfi.Address, Operator]
	owners       *storage.Mapping[poolfi.Pubkey, poolfi.Address]
	trustedCount *storage.Uint64
}

func New(ctx *storage.Context) *Registry {
	return &Registry{
		ctx:          ctx,
		operators:    storage.NewMapping[poolfi.Address, Operator](ctx, operatorsBase),
		owners:       storage.NewMapping[poolfi.Pubkey, poolfi.Address](ctx, ownersBase),
		trustedCount: storage.NewUint64(ctx, trustedCountSlot),
	}
}

func (r *Registry) pubkeyList(operator poolfi.Address) *storage.List[poolfi.Pubkey] {
	return storage.NewList[poolfi.Pubkey](r.ctx, poolfi.Blake2b(operator.Bytes(), pubkeyListBase.Bytes()))
}

// Register binds pubkey to operator and appends it to the operator's ordered
// pubkey list, returning its index. A pubkey registers at most once.
func (r *Registry) Register(operator poolfi.Address, pubkey poolfi.Pubkey) (uint64, error) {
	owner, err := r.owners.Get(pubkey)
	if err != nil {
		return 0, err
	}
	if !owner.IsZero() {
		return 0, reverts.Duplicate("pubkey already registered")
	}
	if err := r.owners.Set(pubkey, operator); err != nil {
		return 0, err
	}
	return r.pubkeyList(operator).Append(pubkey)
}

// Operator returns the operator record. Unknown operators read as the zero
// record, i.e. untrusted light class.
func (r *Registry) Operator(operator poolfi.Address) (Operator, error) {
	return r.operators.Get(operator)
}

// SetTrusted grants or revokes the trusted-voter role. Idempotent.
func (r *Registry) SetTrusted(operator poolfi.Address, trusted bool) error {
	record, err := r.operators.Get(operator)
	if err != nil {
		return err
	}
	if record.Trusted == trusted {
		return nil
	}
	record.Trusted = trusted
	if err := r.operators.Set(operator, record); err != nil {
		return err
	}
	count, err := r.trustedCount.Get()
	if err != nil {
		return err
	}
	if trusted {
		r.trustedCount.Set(count + 1)
	} else {
		r.trustedCount.Set(count - 1)
	}
	return nil
}

// SetSuper sets the operator's node class. Idempotent.
func (r *Registry) SetSuper(operator poolfi.Address, super bool) error {
	record, err := r.operators.Get(operator)
	if err != nil {
		return err
	}
	if record.Super == super {
		return nil
	}
	record.Super = super
	return r.operators.Set(operator, record)
}

// IsTrusted reports whether operator holds the trusted-voter role.
func (r *Registry) IsTrusted(operator poolfi.Address) (bool, error) {
	record, err := r.operators.Get(operator)
	return record.Trusted, err
}

// IsSuper reports whether operator runs super-class validators.
func (r *Registry) IsSuper(operator poolfi.Address) (bool, error) {
	record, err := r.operators.Get(operator)
	return record.Super, err
}

// TrustedCount returns how many operators hold the trusted-voter role.
func (r *Registry) TrustedCount() (uint64, error) {
	return r.trustedCount.Get()
}

// OwnerOf returns the operator a pubkey is bound to, zero when unregistered.
func (r *Registry) OwnerOf(pubkey poolfi.Pubkey) (poolfi.Address, error) {
	return r.owners.Get(pubkey)
}

// PubkeyCount returns how many pubkeys the operator has registered.
func (r *Registry) PubkeyCount(operator poolfi.Address) (uint64, error) {
	return r.pubkeyList(operator).Len()
}

// PubkeyAt returns the operator's pubkey at the given registration index.
func (r *Registry) PubkeyAt(operator poolfi.Address, index uint64) (poolfi.Pubkey, error) {
	return r.pubkeyList(operator).Get(index)
}
