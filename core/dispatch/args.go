package dispatch

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"aphdex/core/types"
	"aphdex/native/common"
	"aphdex/native/exchange"
)

// argumentTags names the failure event an operation reports malformed
// arguments under. Operations not listed report a plain Failure.
var argumentTags = map[string]string{
	"addOffer":        exchange.EventTypeAddOfferInitError,
	"acceptOffer":     exchange.EventTypeAcceptOfferError,
	"cancelOffer":     exchange.EventTypeCancelOfferError,
	"deposit":         exchange.EventTypeDepositError,
	"onTokenTransfer": exchange.EventTypeTokenTransferError,
	"commit":          exchange.EventTypeCommitError,
	"send":            exchange.EventTypeSendFail,
}

// ArgumentError rejects an invocation whose arguments have the wrong count
// or shape. It matches ErrBadArguments.
type ArgumentError struct {
	Operation string
	Tag       string
	Reason    string
	// Argument is the offending position, -1 for a wrong count.
	Argument int
}

func (e *ArgumentError) Error() string {
	if e.Argument < 0 {
		return fmt.Sprintf("%v: %s: %s", ErrBadArguments, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: argument %d: %s", ErrBadArguments, e.Operation, e.Argument, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrBadArguments }

func (e *ArgumentError) event() *types.Event {
	evt := types.NewEvent(e.Tag).
		With("reason", e.Reason).
		With("kind", exchange.KindValidation.String()).
		With("operation", e.Operation)
	if e.Argument >= 0 {
		evt.With("argument", strconv.Itoa(e.Argument))
	}
	return evt
}

// args decodes positional invocation arguments. The first decoding failure
// sticks; later calls return zero values and err reports it.
type args struct {
	op  string
	raw [][]byte
	err error
}

func newArgs(op string, raw [][]byte) *args { return &args{op: op, raw: raw} }

func (a *args) fail(i int, format string, v ...interface{}) {
	if a.err != nil {
		return
	}
	tag, ok := argumentTags[a.op]
	if !ok {
		tag = EventTypeFailure
	}
	a.err = &ArgumentError{Operation: a.op, Tag: tag, Reason: fmt.Sprintf(format, v...), Argument: i}
}

// count requires exactly n arguments.
func (a *args) count(n int) *args {
	if len(a.raw) != n {
		a.fail(-1, "want %d arguments, got %d", n, len(a.raw))
	}
	return a
}

// atLeast requires n or more arguments.
func (a *args) atLeast(n int) *args {
	if len(a.raw) < n {
		a.fail(-1, "want at least %d arguments, got %d", n, len(a.raw))
	}
	return a
}

func (a *args) bytes(i int) []byte {
	if a.err != nil {
		return nil
	}
	if i >= len(a.raw) {
		a.fail(i, "missing argument")
		return nil
	}
	return a.raw[i]
}

func (a *args) address(i int) types.Address {
	raw := a.bytes(i)
	if a.err != nil {
		return types.Address{}
	}
	addr, err := types.AddressFromBytes(raw)
	if err != nil {
		a.fail(i, "invalid address length %d", len(raw))
	}
	return addr
}

func (a *args) asset(i int) types.AssetRef {
	raw := a.bytes(i)
	if a.err != nil {
		return types.AssetRef{}
	}
	asset, err := types.ParseAssetRef(raw)
	if err != nil {
		a.fail(i, "invalid asset length %d", len(raw))
	}
	return asset
}

func (a *args) hash(i int) [32]byte {
	var out [32]byte
	raw := a.bytes(i)
	if a.err != nil {
		return out
	}
	if len(raw) != len(out) {
		a.fail(i, "invalid hash length %d", len(raw))
		return out
	}
	copy(out[:], raw)
	return out
}

func (a *args) integer(i int) *big.Int {
	raw := a.bytes(i)
	if a.err != nil {
		return new(big.Int)
	}
	return common.DecodeInt(raw)
}

func (a *args) unsigned(i int) uint64 {
	v := a.integer(i)
	if a.err != nil {
		return 0
	}
	if v.Sign() < 0 || !v.IsUint64() {
		a.fail(i, "%s out of range", v)
		return 0
	}
	return v.Uint64()
}

func (a *args) boolean(i int) bool {
	return a.integer(i).Sign() != 0
}

// optional returns argument i or nil when it was not supplied.
func (a *args) optional(i int) []byte {
	if a.err != nil || i >= len(a.raw) {
		return nil
	}
	return a.raw[i]
}

func (a *args) hexAll() []string {
	out := make([]string, len(a.raw))
	for i, raw := range a.raw {
		out[i] = hex.EncodeToString(raw)
	}
	return out
}

// Argument encoders for callers building invocations.

// Int encodes an integer argument.
func Int(v int64) []byte { return common.EncodeInt(big.NewInt(v)) }

// BigInt encodes an arbitrary precision integer argument.
func BigInt(v *big.Int) []byte { return common.EncodeInt(v) }

// Bool encodes a boolean argument.
func Bool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{}
}

// Addr encodes an address argument.
func Addr(a types.Address) []byte { return a.Bytes() }

// Asset encodes an asset id argument.
func Asset(a types.AssetRef) []byte { return a.Bytes() }

// Hash encodes a 32-byte argument.
func Hash(h [32]byte) []byte { return append([]byte(nil), h[:]...) }
