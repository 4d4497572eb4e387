package token

import (
	"errors"
	"fmt"
	"math/big"

	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
	"aphdex/native/common"
)

const (
	EventTypeTransfer = "transfer"
	EventTypeApprove  = "approve"
)

var (
	ErrNegativeAmount = errors.New("token: amount must not be negative")
	ErrNilState       = errors.New("token: state not configured")
)

var (
	prefixBalance   = []byte{'b'}
	prefixAllowance = []byte{'a'}
	keySupply       = []byte("supply")
)

// Witness answers whether the running invocation is signed by an address.
type Witness interface {
	CheckWitness(addr types.Address) bool
}

// Token is a NEP5 ledger kept in its own storage namespace. The token never
// checks signatures itself; a Client bound to a caller does.
type Token struct {
	handle  types.Address
	kv      state.KV
	emitter events.Emitter
}

// New opens the token identified by handle inside kv.
func New(handle types.Address, kv state.KV) *Token {
	return &Token{
		handle:  handle,
		kv:      state.Namespace(kv, handle[:]),
		emitter: events.NoopEmitter{},
	}
}

// Handle is the token's script hash.
func (t *Token) Handle() types.Address { return t.handle }

// SetEmitter configures where transfer and approve events go. Nil discards
// them.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	t.emitter = emitter
}

func (t *Token) getInt(key []byte) (*big.Int, error) {
	if t.kv == nil {
		return nil, ErrNilState
	}
	raw, err := t.kv.Get(key)
	if err != nil {
		return nil, err
	}
	return common.DecodeInt(raw), nil
}

func (t *Token) putInt(key []byte, v *big.Int) error {
	if v.Sign() == 0 {
		return t.kv.Delete(key)
	}
	return t.kv.Put(key, common.EncodeInt(v))
}

func balanceKey(holder types.Address) []byte {
	return append(append([]byte{}, prefixBalance...), holder[:]...)
}

func allowanceKey(owner, spender types.Address) []byte {
	key := append(append([]byte{}, prefixAllowance...), owner[:]...)
	return append(key, spender[:]...)
}

// BalanceOf returns the token balance of holder.
func (t *Token) BalanceOf(holder types.Address) (*big.Int, error) {
	return t.getInt(balanceKey(holder))
}

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	return t.getInt(keySupply)
}

// Allowance is how much spender may move out of owner's balance.
func (t *Token) Allowance(owner, spender types.Address) (*big.Int, error) {
	return t.getInt(allowanceKey(owner, spender))
}

// Mint credits amount to holder and grows the supply. It is a genesis and
// test facility with no authorization of its own.
func (t *Token) Mint(holder types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	balance, err := t.BalanceOf(holder)
	if err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	if err := t.putInt(balanceKey(holder), balance.Add(balance, amount)); err != nil {
		return err
	}
	if err := t.putInt(keySupply, supply.Add(supply, amount)); err != nil {
		return err
	}
	t.emit(EventTypeTransfer, types.Address{}, holder, amount)
	return nil
}

func (t *Token) emit(typ string, from, to types.Address, amount *big.Int) {
	evt := types.NewEvent(typ).
		With("token", t.handle.String()).
		With("from", from.String()).
		With("to", to.String()).
		With("amount", amount.String())
	t.emitter.Emit(tokenEvent{evt: evt})
}

// move transfers amount and reports false when from cannot cover it.
func (t *Token) move(from, to types.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	balance, err := t.BalanceOf(from)
	if err != nil {
		return false, err
	}
	if balance.Cmp(amount) < 0 {
		return false, nil
	}
	if from == to || amount.Sign() == 0 {
		t.emit(EventTypeTransfer, from, to, amount)
		return true, nil
	}
	if err := t.putInt(balanceKey(from), balance.Sub(balance, amount)); err != nil {
		return false, err
	}
	received, err := t.BalanceOf(to)
	if err != nil {
		return false, err
	}
	if err := t.putInt(balanceKey(to), received.Add(received, amount)); err != nil {
		return false, fmt.Errorf("token: credit %s: %w", to, err)
	}
	t.emit(EventTypeTransfer, from, to, amount)
	return true, nil
}

// Client is the token as seen by one calling contract within one
// invocation.
type Client struct {
	token   *Token
	caller  types.Address
	witness Witness
}

// Bind returns a client for calls made by caller under witness.
func (t *Token) Bind(caller types.Address, witness Witness) *Client {
	return &Client{token: t, caller: caller, witness: witness}
}

func (c *Client) authorized(from types.Address) bool {
	if from == c.caller {
		return true
	}
	return c.witness != nil && c.witness.CheckWitness(from)
}

// Transfer moves amount from from to to when from signed the invocation or
// is the calling contract itself.
func (c *Client) Transfer(from, to types.Address, amount *big.Int) (bool, error) {
	if !c.authorized(from) {
		return false, nil
	}
	return c.token.move(from, to, amount)
}

// TransferFrom spends the caller's allowance on from.
func (c *Client) TransferFrom(from, to types.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	allowance, err := c.token.Allowance(from, c.caller)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(amount) < 0 {
		return false, nil
	}
	ok, err := c.token.move(from, to, amount)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.token.putInt(allowanceKey(from, c.caller), allowance.Sub(allowance, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Approve lets spender move up to amount of owner's balance. The owner must
// have signed.
func (c *Client) Approve(owner, spender types.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	if !c.authorized(owner) {
		return false, nil
	}
	if err := c.token.putInt(allowanceKey(owner, spender), amount); err != nil {
		return false, err
	}
	c.token.emit(EventTypeApprove, owner, spender, amount)
	return true, nil
}

// BalanceOf returns the token balance of holder.
func (c *Client) BalanceOf(holder types.Address) (*big.Int, error) {
	return c.token.BalanceOf(holder)
}

type tokenEvent struct {
	evt *types.Event
}

func (e tokenEvent) EventType() string   { return e.evt.Type }
func (e tokenEvent) Event() *types.Event { return e.evt }
