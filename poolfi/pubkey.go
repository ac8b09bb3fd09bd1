// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package poolfi

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// PubkeyLength length of a validator public key in bytes.
const PubkeyLength = 48

// Pubkey is a BLS validator public key. It identifies a validator for its
// whole lifetime and is immutable once registered.
type Pubkey [PubkeyLength]byte

var (
	_ json.Marshaler   = (*Pubkey)(nil)
	_ json.Unmarshaler = (*Pubkey)(nil)
)

// String implements the stringer interface.
func (p Pubkey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// Bytes returns byte slice form of pubkey.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// IsZero returns if pubkey is all zero bytes.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// MarshalJSON implements json.Marshaler.
func (p *Pubkey) MarshalJSON() ([]byte, error) {
	if p == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pubkey) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	parsed, err := ParsePubkey(hexStr)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePubkey converts a string presented pubkey into Pubkey type.
func ParsePubkey(s string) (Pubkey, error) {
	if len(s) == PubkeyLength*2 {
	} else if len(s) == PubkeyLength*2+2 {
		if strings.ToLower(s[:2]) != "0x" {
			return Pubkey{}, errors.New("invalid prefix")
		}
		s = s[2:]
	} else {
		return Pubkey{}, errors.New("invalid length")
	}

	var p Pubkey
	if _, err := hex.Decode(p[:], []byte(s)); err != nil {
		return Pubkey{}, err
	}
	return p, nil
}

// BytesToPubkey converts bytes slice into pubkey.
// If b is not of pubkey length, the result is cropped or left-extended.
func BytesToPubkey(b []byte) Pubkey {
	var p Pubkey
	if len(b) > PubkeyLength {
		b = b[len(b)-PubkeyLength:]
	}
	copy(p[PubkeyLength-len(b):], b)
	return p
}
