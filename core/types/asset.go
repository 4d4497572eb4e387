package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AssetKind distinguishes where custody of an asset lives.
type AssetKind uint8

const (
	// AssetExternal is a NEP5 token held by a separate token contract; ids
	// are the token's 20-byte script hash.
	AssetExternal AssetKind = iota + 1
	// AssetNative is a NEO/GAS style system asset backed by transaction
	// outputs; ids are 32 bytes.
	AssetNative
)

const (
	ExternalAssetIDLength = 20
	NativeAssetIDLength   = 32
)

var ErrInvalidAssetID = errors.New("types: asset id must be 20 or 32 bytes")

// AssetRef is an asset id classified once at the boundary. The zero value is
// not a valid asset. AssetRef is comparable and usable as a map key.
type AssetRef struct {
	kind AssetKind
	id   string
}

// ParseAssetRef classifies raw by length.
func ParseAssetRef(raw []byte) (AssetRef, error) {
	switch len(raw) {
	case ExternalAssetIDLength:
		return AssetRef{kind: AssetExternal, id: string(raw)}, nil
	case NativeAssetIDLength:
		return AssetRef{kind: AssetNative, id: string(raw)}, nil
	default:
		return AssetRef{}, fmt.Errorf("%w: got %d", ErrInvalidAssetID, len(raw))
	}
}

// ParseAssetHex decodes a hex asset id (optional 0x prefix).
func ParseAssetHex(s string) (AssetRef, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return AssetRef{}, fmt.Errorf("%w: %v", ErrInvalidAssetID, err)
	}
	return ParseAssetRef(raw)
}

// MustAsset is ParseAssetHex for constants and tests.
func MustAsset(s string) AssetRef {
	a, err := ParseAssetHex(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ExternalAsset wraps a token contract script hash.
func ExternalAsset(handle Address) AssetRef {
	return AssetRef{kind: AssetExternal, id: string(handle[:])}
}

// NativeAsset wraps a 32-byte system asset id.
func NativeAsset(id [32]byte) AssetRef {
	return AssetRef{kind: AssetNative, id: string(id[:])}
}

func (a AssetRef) Kind() AssetKind  { return a.kind }
func (a AssetRef) IsExternal() bool { return a.kind == AssetExternal }
func (a AssetRef) IsNative() bool   { return a.kind == AssetNative }
func (a AssetRef) IsZero() bool     { return a.kind == 0 }

// Bytes returns a copy of the raw id.
func (a AssetRef) Bytes() []byte { return []byte(a.id) }

// Handle returns the token contract of an external asset.
func (a AssetRef) Handle() (Address, bool) {
	if !a.IsExternal() {
		return Address{}, false
	}
	var out Address
	copy(out[:], a.id)
	return out, true
}

// NativeID returns the 32-byte id of a native asset.
func (a AssetRef) NativeID() ([32]byte, bool) {
	var out [32]byte
	if !a.IsNative() {
		return out, false
	}
	copy(out[:], a.id)
	return out, true
}

func (a AssetRef) String() string { return hex.EncodeToString([]byte(a.id)) }

func (a AssetRef) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssetRef) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
