package types

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType is the NEO 2 transaction type byte.
type TxType byte

const (
	TxTypeClaim      TxType = 0x02
	TxTypeContract   TxType = 0x80
	TxTypeInvocation TxType = 0xd1
)

func (t TxType) String() string {
	switch t {
	case TxTypeClaim:
		return "claim"
	case TxTypeContract:
		return "contract"
	case TxTypeInvocation:
		return "invocation"
	default:
		return fmt.Sprintf("0x%02x", byte(t))
	}
}

// Attribute is a typed key/value pair attached to a transaction.
type Attribute struct {
	Usage byte
	Data  []byte
}

// Input references a prior transaction output.
type Input struct {
	PrevHash  [32]byte
	PrevIndex uint16
}

// Output pays Value (fixed8) of AssetID to ScriptHash.
type Output struct {
	AssetID    [32]byte
	Value      int64
	ScriptHash Address
}

// Transaction is the externally validated container an invocation runs in.
// References holds the resolved outputs spent by Inputs, index aligned.
type Transaction struct {
	Type       TxType
	Attributes []Attribute
	Inputs     []Input
	References []Output
	Outputs    []Output
	Script     []byte
}

var ErrReferenceMismatch = errors.New("types: references must align with inputs")

// Validate checks the structural invariants the validator guarantees on
// chain; replays and tests rely on it to reject malformed fixtures.
func (tx *Transaction) Validate() error {
	if tx == nil {
		return errors.New("types: nil transaction")
	}
	if len(tx.References) != len(tx.Inputs) {
		return ErrReferenceMismatch
	}
	for i, o := range tx.Outputs {
		if o.Value < 0 {
			return fmt.Errorf("types: output %d has negative value", i)
		}
	}
	return nil
}

// Attribute returns the data of the first attribute with the given usage.
func (tx *Transaction) Attribute(usage byte) ([]byte, bool) {
	if tx == nil {
		return nil, false
	}
	for _, attr := range tx.Attributes {
		if attr.Usage == usage {
			return attr.Data, true
		}
	}
	return nil, false
}

type rlpAttribute struct {
	Usage uint8
	Data  []byte
}

type rlpInput struct {
	PrevHash  [32]byte
	PrevIndex uint16
}

type rlpOutput struct {
	AssetID    [32]byte
	Value      uint64
	ScriptHash [20]byte
}

type rlpTransaction struct {
	Type       uint8
	Attributes []rlpAttribute
	Inputs     []rlpInput
	Outputs    []rlpOutput
	Script     []byte
}

// Hash is the double SHA-256 of the canonical RLP encoding. References are
// derived data and do not contribute.
func (tx *Transaction) Hash() ([32]byte, error) {
	enc := rlpTransaction{
		Type:       uint8(tx.Type),
		Attributes: make([]rlpAttribute, len(tx.Attributes)),
		Inputs:     make([]rlpInput, len(tx.Inputs)),
		Outputs:    make([]rlpOutput, len(tx.Outputs)),
		Script:     tx.Script,
	}
	for i, a := range tx.Attributes {
		enc.Attributes[i] = rlpAttribute{Usage: a.Usage, Data: a.Data}
	}
	for i, in := range tx.Inputs {
		enc.Inputs[i] = rlpInput(in)
	}
	for i, o := range tx.Outputs {
		enc.Outputs[i] = rlpOutput{AssetID: o.AssetID, Value: uint64(o.Value), ScriptHash: o.ScriptHash}
	}
	payload, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		return [32]byte{}, err
	}
	return Hash256(payload), nil
}

// Hash256 is double SHA-256.
func Hash256(data []byte) [32]byte {
	return [32]byte(chainhash.DoubleHashH(data))
}
