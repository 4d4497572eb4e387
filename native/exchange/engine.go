package exchange

import (
	"errors"
	"math/big"

	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
)

// Witness answers whether the running invocation carries a signature for
// an address.
type Witness interface {
	CheckWitness(addr types.Address) bool
}

// Chain exposes the block height and the transaction the invocation runs in.
type Chain interface {
	Height() uint64
	Transaction() *types.Transaction
}

// TokenClient is an external token contract as seen by the exchange. Each
// call returns the contract's success flag.
type TokenClient interface {
	Transfer(from, to types.Address, amount *big.Int) (bool, error)
	TransferFrom(from, to types.Address, amount *big.Int) (bool, error)
	BalanceOf(holder types.Address) (*big.Int, error)
}

// TokenResolver binds an external asset handle to its token contract.
type TokenResolver interface {
	Token(handle types.Address) (TokenClient, error)
}

// NativeBalances reports how much of a system asset an address holds on
// chain.
type NativeBalances interface {
	Balance(asset [32]byte, holder types.Address) (*big.Int, error)
}

// Engine runs the exchange operations against contract storage. It is not
// safe for concurrent use; each invocation gets its own state overlay.
type Engine struct {
	params  Params
	state   state.KV
	witness Witness
	chain   Chain
	tokens  TokenResolver
	native  NativeBalances
	emitter events.Emitter
}

// NewEngine creates an engine with a no-op emitter. Collaborators are wired
// with the Set* methods before use.
func NewEngine(params Params) *Engine {
	if params.MaxWithdrawFee == nil {
		params.MaxWithdrawFee = new(big.Int).Set(DefaultMaxWithdrawFee)
	}
	if params.DefaultFeeRedistributionPercent == 0 {
		params.DefaultFeeRedistributionPercent = DefaultFeeRedistributionPercent
	}
	if params.DefaultClaimMinimumBlocks == 0 {
		params.DefaultClaimMinimumBlocks = DefaultClaimMinimumBlocks
	}
	if params.MaxAttributes == 0 {
		params.MaxAttributes = DefaultMaxAttributes
	}
	if params.MaxReferences == 0 {
		params.MaxReferences = DefaultMaxReferences
	}
	return &Engine{params: params, emitter: events.NoopEmitter{}}
}

// Params returns the deployment constants the engine was built with.
func (e *Engine) Params() Params { return e.params }

// SetState configures the storage view used by the engine.
func (e *Engine) SetState(kv state.KV) { e.state = kv }

// SetWitness configures the signature oracle.
func (e *Engine) SetWitness(w Witness) { e.witness = w }

// SetChain configures the block height and transaction source.
func (e *Engine) SetChain(c Chain) { e.chain = c }

// SetTokens configures how external assets reach their token contracts.
func (e *Engine) SetTokens(r TokenResolver) { e.tokens = r }

// SetNativeBalances configures the on-chain balance source used when
// reclaiming orphaned system assets.
func (e *Engine) SetNativeBalances(n NativeBalances) { e.native = n }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(exchangeEvent{evt: evt})
}

// report turns whatever error an operation returns into a single *Error and
// emits its failure event once, even when operations nest.
func (e *Engine) report(tag string, errp *error) {
	if errp == nil || *errp == nil {
		return
	}
	var ee *Error
	if !errors.As(*errp, &ee) {
		ee = storageError(tag, *errp)
		*errp = ee
	}
	if ee.reported {
		return
	}
	ee.reported = true
	e.emit(ee.event())
}

func (e *Engine) get(key []byte) ([]byte, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.Get(key)
}

// put stores value; an empty value removes the key.
func (e *Engine) put(key, value []byte) error {
	if e.state == nil {
		return errNilState
	}
	if len(value) == 0 {
		return e.state.Delete(key)
	}
	return e.state.Put(key, value)
}

func (e *Engine) del(key []byte) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.Delete(key)
}

func (e *Engine) getInt(key []byte) (*big.Int, error) {
	raw, err := e.get(key)
	if err != nil {
		return nil, err
	}
	return decodeInt(raw), nil
}

// putInt stores v; zero removes the key.
func (e *Engine) putInt(key []byte, v *big.Int) error {
	return e.put(key, encodeInt(v))
}

func (e *Engine) checkWitness(addr types.Address) bool {
	if e.witness == nil {
		return false
	}
	return e.witness.CheckWitness(addr)
}

func (e *Engine) height() uint64 {
	if e.chain == nil {
		return 0
	}
	return e.chain.Height()
}

func (e *Engine) transaction() (*types.Transaction, error) {
	if e.chain == nil {
		return nil, errNilChain
	}
	tx := e.chain.Transaction()
	if tx == nil {
		return nil, errNilChain
	}
	return tx, nil
}

func (e *Engine) token(asset types.AssetRef) (TokenClient, error) {
	if e.tokens == nil {
		return nil, errNilTokens
	}
	handle, ok := asset.Handle()
	if !ok {
		return nil, errNotPullable
	}
	return e.tokens.Token(handle)
}

func (e *Engine) isReference(asset types.AssetRef) bool {
	return asset == e.params.ReferenceAsset
}
