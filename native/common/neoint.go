package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Widths of the packed little-endian fields used by the fee pool and
// contribution records.
const (
	Width8  = 8
	Width16 = 16
)

var (
	ErrNegativeFixed = errors.New("neoint: fixed-width field cannot hold a negative value")
	ErrFixedOverflow = errors.New("neoint: value overflows fixed-width field")
)

// EncodeInt returns the minimal little-endian two's-complement encoding of v.
// Zero encodes to an empty slice.
func EncodeInt(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return []byte{}
	}
	if v.Sign() > 0 {
		out := reverse(v.Bytes())
		if out[len(out)-1]&0x80 != 0 {
			out = append(out, 0x00)
		}
		return out
	}
	n := len(new(big.Int).Neg(v).Bytes())
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*n))
	tc := new(big.Int).Add(mod, v)
	out := reverse(tc.FillBytes(make([]byte, n)))
	if out[n-1]&0x80 == 0 {
		out = append(out, 0xff)
	}
	return out
}

// DecodeInt parses a little-endian two's-complement integer. An empty or nil
// slice decodes to zero.
func DecodeInt(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	v := new(big.Int).SetBytes(reverse(b))
	if b[len(b)-1]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return v
}

// EncodeFixed encodes a non-negative value into exactly width bytes, zero
// padded on the high end. The value must leave the sign bit of the final byte
// clear so the field decodes back to the same positive number.
func EncodeFixed(v *big.Int, width int) ([]byte, error) {
	if v == nil {
		return make([]byte, width), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeFixed
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.BitLen() > 8*width-1 {
		return nil, fmt.Errorf("%w: %s does not fit %d bytes", ErrFixedOverflow, v.String(), width)
	}
	out := make([]byte, width)
	copy(out, EncodeInt(v))
	return out, nil
}

// DecodeFixed reads width bytes starting at offset. Short or missing records
// read as zero, matching an unset storage slot.
func DecodeFixed(b []byte, offset, width int) *big.Int {
	if offset >= len(b) {
		return new(big.Int)
	}
	end := offset + width
	if end > len(b) {
		end = len(b)
	}
	return DecodeInt(b[offset:end])
}

// Uint16LE encodes an output index the way reservation keys expect it.
func Uint16LE(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}

// FitsInt64 reports whether v is representable as a NEO fixed8 output value.
func FitsInt64(v *big.Int) bool {
	if v == nil {
		return true
	}
	if v.Sign() < 0 {
		return v.IsInt64()
	}
	u, overflow := uint256.FromBig(v)
	return !overflow && u.BitLen() <= 63
}

func reverse(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[len(in)-1-i] = in[i]
	}
	return out
}
