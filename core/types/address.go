package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// AddressVersion is the NEO 2 address version byte.
const AddressVersion byte = 0x17

// AddressLength is the size of a script hash.
const AddressLength = 20

var ErrInvalidAddress = errors.New("types: invalid address")

// Address is a 20-byte script hash in the byte order used for storage keys.
type Address [AddressLength]byte

// AddressFromBytes copies a 20-byte script hash.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress accepts the base58check form ("A...") or a 40 character hex
// script hash with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if raw, version, err := base58.CheckDecode(trimmed); err == nil {
		if version != AddressVersion {
			return Address{}, fmt.Errorf("%w: version 0x%02x", ErrInvalidAddress, version)
		}
		return AddressFromBytes(raw)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, trimmed)
	}
	return AddressFromBytes(raw)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns a copy of the raw script hash.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool { return a == Address{} }

// String renders the base58check address.
func (a Address) String() string {
	return base58.CheckEncode(a[:], AddressVersion)
}

func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// MarshalText lets addresses appear in YAML/TOML/JSON documents.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
