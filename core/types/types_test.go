package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBase58RoundTrip(t *testing.T) {
	var a Address
	copy(a[:], bytes.Repeat([]byte{0x42}, AddressLength))
	encoded := a.String()
	require.Equal(t, byte('A'), encoded[0])

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	fromHex, err := ParseAddress("0x" + a.Hex())
	require.NoError(t, err)
	require.Equal(t, a, fromHex)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-an-address", "0x1234"} {
		_, err := ParseAddress(in)
		require.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestAddressBytesIsACopy(t *testing.T) {
	a, err := AddressFromBytes(bytes.Repeat([]byte{7}, AddressLength))
	require.NoError(t, err)
	raw := a.Bytes()
	require.Len(t, raw, AddressLength)
	raw[0] = 0
	require.Equal(t, byte(7), a[0])
}

func TestAssetRefClassification(t *testing.T) {
	ext, err := ParseAssetRef(bytes.Repeat([]byte{1}, 20))
	require.NoError(t, err)
	require.True(t, ext.IsExternal())
	handle, ok := ext.Handle()
	require.True(t, ok)
	require.Equal(t, bytes.Repeat([]byte{1}, 20), handle.Bytes())
	_, ok = ext.NativeID()
	require.False(t, ok)

	native, err := ParseAssetRef(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	require.True(t, native.IsNative())
	require.NotEqual(t, ext, native)

	_, err = ParseAssetRef(make([]byte, 21))
	require.ErrorIs(t, err, ErrInvalidAssetID)

	again, err := ParseAssetHex(native.String())
	require.NoError(t, err)
	require.Equal(t, native, again)
}

func TestTransactionHashIgnoresReferences(t *testing.T) {
	tx := &Transaction{
		Type:       TxTypeInvocation,
		Attributes: []Attribute{{Usage: 0x20, Data: []byte{1, 2}}},
		Inputs:     []Input{{PrevIndex: 1}},
		References: []Output{{Value: 5}},
		Outputs:    []Output{{Value: 5}},
	}
	h1, err := tx.Hash()
	require.NoError(t, err)
	tx.References[0].Value = 7
	h2, err := tx.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	tx.Outputs[0].Value = 6
	h3, err := tx.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestTransactionValidate(t *testing.T) {
	tx := &Transaction{Inputs: []Input{{}}}
	require.ErrorIs(t, tx.Validate(), ErrReferenceMismatch)
	tx.References = []Output{{}}
	require.NoError(t, tx.Validate())
	tx.Outputs = []Output{{Value: -1}}
	require.Error(t, tx.Validate())

	data, ok := (&Transaction{Attributes: []Attribute{{Usage: 0xA2, Data: []byte{9}}}}).Attribute(0xA2)
	require.True(t, ok)
	require.Equal(t, []byte{9}, data)
}
