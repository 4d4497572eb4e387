package token

import (
	"bytes"
	"fmt"
	"sort"

	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
	"aphdex/native/exchange"
)

// Registry resolves external asset handles to token ledgers sharing one
// storage view. Calls are bound to a single calling contract.
type Registry struct {
	kv      state.KV
	caller  types.Address
	witness Witness
	emitter events.Emitter
	tokens  map[types.Address]*Token
}

// NewRegistry binds token calls made by caller under witness.
func NewRegistry(kv state.KV, caller types.Address, witness Witness) *Registry {
	return &Registry{
		kv:      kv,
		caller:  caller,
		witness: witness,
		tokens:  make(map[types.Address]*Token),
	}
}

// SetEmitter routes token events of every registered token.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.emitter = emitter
	for _, t := range r.tokens {
		t.SetEmitter(emitter)
	}
}

// Register makes handle resolvable and returns its ledger.
func (r *Registry) Register(handle types.Address) *Token {
	if t, ok := r.tokens[handle]; ok {
		return t
	}
	t := New(handle, r.kv)
	t.SetEmitter(r.emitter)
	r.tokens[handle] = t
	return t
}

// Lookup returns the ledger of a registered token.
func (r *Registry) Lookup(handle types.Address) (*Token, bool) {
	t, ok := r.tokens[handle]
	return t, ok
}

// Handles lists registered tokens in byte order.
func (r *Registry) Handles() []types.Address {
	out := make([]types.Address, 0, len(r.tokens))
	for h := range r.tokens {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Token implements exchange.TokenResolver.
func (r *Registry) Token(handle types.Address) (exchange.TokenClient, error) {
	t, ok := r.tokens[handle]
	if !ok {
		return nil, fmt.Errorf("token: unknown token %s", handle)
	}
	return t.Bind(r.caller, r.witness), nil
}
