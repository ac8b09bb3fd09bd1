// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package reverts defines the operation failure type. A revert means the
// operation must have no effect; the facade rolls the state back to the
// pre-operation checkpoint whenever one is returned.
package reverts

import "errors"

// Code classifies a failure so callers can react without parsing reasons.
type Code uint8

const (
	// CodePrecondition wrong status, disabled entry point, out-of-range index.
	CodePrecondition Code = iota + 1
	// CodeDuplicate already claimed, already staked, already matched.
	CodeDuplicate
	// CodeCapacity per-cycle cap hit or insufficient liquidity; retry smaller or later.
	CodeCapacity
	// CodeProof merkle proof mismatch.
	CodeProof
	// CodeUnauthorized caller lacks the required role.
	CodeUnauthorized
)

func (c Code) String() string {
	switch c {
	case CodePrecondition:
		return "precondition violation"
	case CodeDuplicate:
		return "duplicate operation"
	case CodeCapacity:
		return "capacity exceeded"
	case CodeProof:
		return "proof invalid"
	case CodeUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// ErrRevert is an operation failure with a machine-checkable code and a
// distinct reason string.
type ErrRevert struct {
	code   Code
	reason string
}

func New(code Code, reason string) *ErrRevert {
	return &ErrRevert{code: code, reason: reason}
}

// Precondition builds a CodePrecondition revert.
func Precondition(reason string) *ErrRevert { return New(CodePrecondition, reason) }

// Duplicate builds a CodeDuplicate revert.
func Duplicate(reason string) *ErrRevert { return New(CodeDuplicate, reason) }

// Capacity builds a CodeCapacity revert.
func Capacity(reason string) *ErrRevert { return New(CodeCapacity, reason) }

// Proof builds a CodeProof revert.
func Proof(reason string) *ErrRevert { return New(CodeProof, reason) }

// Unauthorized builds a CodeUnauthorized revert.
func Unauthorized(reason string) *ErrRevert { return New(CodeUnauthorized, reason) }

func (e *ErrRevert) Error() string {
	return e.reason
}

// Code returns the failure class.
func (e *ErrRevert) Code() Code {
	return e.code
}

// IsRevert reports whether err is (or wraps) an operation revert.
func IsRevert(err error) bool {
	var re *ErrRevert
	return errors.As(err, &re)
}

// CodeOf returns the failure class of err, or 0 when err is not a revert.
func CodeOf(err error) Code {
	var re *ErrRevert
	if errors.As(err, &re) {
		return re.code
	}
	return 0
}

// ReasonOf returns the distinct reason of err, or "" when err is not a revert.
func ReasonOf(err error) string {
	var re *ErrRevert
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}
