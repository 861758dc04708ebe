// Package address derives deterministic account addresses from business keys.
//
// Derivation follows the Solana program-derived-address scheme so that any
// client holding the program IDs can recompute an address without asking the
// server: sha256(seeds || bump || program || "ProgramDerivedAddress"), with the
// bump searched downward from 255 until the digest is off the ed25519 curve.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	Size       = 32
	MaxSeeds   = 16
	MaxSeedLen = 32
	pdaMarker  = "ProgramDerivedAddress"
)

var (
	ErrSeedTooLong  = errors.New("seed exceeds 32 bytes")
	ErrTooManySeeds = errors.New("too many seeds")
	ErrOnCurve      = errors.New("derived address is on the ed25519 curve")
	ErrNoBump       = errors.New("unable to find a viable bump")
)

// Address is a 32-byte account identity. Wallet identities and derived
// addresses share the type.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

func Parse(s string) (Address, error) {
	if s == "" {
		return Address{}, errors.New("address is empty")
	}
	b, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != Size {
		return Address{}, fmt.Errorf("invalid address %q: decoded to %d bytes, want %d", s, len(b), Size)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return base58.Encode(a[:]) }

func (a Address) IsZero() bool { return a == Zero }

func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Str encodes a string seed as its raw UTF-8 bytes.
func Str(s string) []byte { return []byte(s) }

// Key encodes an account identity seed.
func Key(a Address) []byte { return a.Bytes() }

// Nonce encodes a u64 as 8 little-endian bytes.
func Nonce(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// OnCurve reports whether b decodes to a valid ed25519 point.
func OnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Create hashes seeds under program and fails if the result is a valid
// public key.
func Create(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return Address{}, ErrSeedTooLong
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	var out Address
	copy(out[:], h.Sum(nil))
	if OnCurve(out[:]) {
		return Address{}, ErrOnCurve
	}
	return out, nil
}

// Find returns the first off-curve address and its bump, searching from 255.
func Find(seeds [][]byte, program Address) (Address, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return Address{}, 0, ErrTooManySeeds
	}
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return Address{}, 0, ErrSeedTooLong
		}
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := Create(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoBump
}
