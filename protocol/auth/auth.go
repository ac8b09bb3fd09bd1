// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package auth gates privileged entry points: governance for parameter and
// role changes, trusted voters for oracle-style reports.
package auth

import (
	"github.com/poolfi/poolfi/poolfi"
	"github.com/poolfi/poolfi/protocol/registry"
	"github.com/poolfi/poolfi/reverts"
	"github.com/poolfi/poolfi/storage"
)

var governanceSlot = storage.Slot("auth-governance")

// Policy answers who may call what.
type Policy struct {
	governance *storage.Address
	registry   *registry.Registry
}

func New(ctx *storage.Context, reg *registry.Registry) *Policy {
	return &Policy{
		governance: storage.NewAddress(ctx, governanceSlot),
		registry:   reg,
	}
}

// Initialize installs the governance account. It only takes effect while no
// governance is set.
func (p *Policy) Initialize(governance poolfi.Address) error {
	current, err := p.governance.Get()
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return nil
	}
	p.governance.Set(governance)
	return nil
}

// Governance returns the governance account.
func (p *Policy) Governance() (poolfi.Address, error) {
	return p.governance.Get()
}

// TransferGovernance hands governance to a new account.
func (p *Policy) TransferGovernance(caller, next poolfi.Address) error {
	if err := p.RequireGovernance(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return reverts.Precondition("governance must not be zero")
	}
	p.governance.Set(next)
	return nil
}

// RequireGovernance fails unless caller is the governance account.
func (p *Policy) RequireGovernance(caller poolfi.Address) error {
	governance, err := p.governance.Get()
	if err != nil {
		return err
	}
	if caller != governance || caller.IsZero() {
		return reverts.Unauthorized("governance only")
	}
	return nil
}

// RequireTrustedVoter fails unless caller holds the trusted-voter role.
func (p *Policy) RequireTrustedVoter(caller poolfi.Address) error {
	trusted, err := p.registry.IsTrusted(caller)
	if err != nil {
		return err
	}
	if !trusted {
		return reverts.Unauthorized("trusted voter only")
	}
	return nil
}
