package exchange

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/stretchr/testify/require"

	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
	"aphdex/storage"
)

type fakeWitness map[types.Address]bool

func (w fakeWitness) CheckWitness(addr types.Address) bool { return w[addr] }

type fakeChain struct {
	height uint64
	tx     *types.Transaction
}

func (c *fakeChain) Height() uint64                  { return c.height }
func (c *fakeChain) Transaction() *types.Transaction { return c.tx }

// fakeToken moves balances the way a NEP5 contract called by the exchange
// would: the exchange may spend its own balance, anyone else must sign.
type fakeToken struct {
	contract types.Address
	witness  fakeWitness
	balances map[types.Address]*big.Int
	reject   bool
}

func (f *fakeToken) balance(addr types.Address) *big.Int {
	if b, ok := f.balances[addr]; ok {
		return b
	}
	b := new(big.Int)
	f.balances[addr] = b
	return b
}

func (f *fakeToken) Transfer(from, to types.Address, amount *big.Int) (bool, error) {
	if f.reject {
		return false, nil
	}
	if from != f.contract && !f.witness[from] {
		return false, nil
	}
	if f.balance(from).Cmp(amount) < 0 {
		return false, nil
	}
	f.balance(from).Sub(f.balance(from), amount)
	f.balance(to).Add(f.balance(to), amount)
	return true, nil
}

func (f *fakeToken) TransferFrom(from, to types.Address, amount *big.Int) (bool, error) {
	return f.Transfer(from, to, amount)
}

func (f *fakeToken) BalanceOf(holder types.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance(holder)), nil
}

type fakeTokens map[types.Address]*fakeToken

func (f fakeTokens) Token(handle types.Address) (TokenClient, error) {
	t, ok := f[handle]
	if !ok {
		return nil, errAssetNotRegistered
	}
	return t, nil
}

type fakeNative map[[32]byte]*big.Int

func (f fakeNative) Balance(asset [32]byte, _ types.Address) (*big.Int, error) {
	if v, ok := f[asset]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func testAddress(fill byte) types.Address {
	var addr types.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, types.AddressLength))
	return addr
}

func testHash(fill byte) [32]byte {
	var h [32]byte
	copy(h[:], bytes.Repeat([]byte{fill}, 32))
	return h
}

type harness struct {
	t       require.TestingT
	engine  *Engine
	mgr     *state.Manager
	kv      *state.Tx
	witness fakeWitness
	chain   *fakeChain
	tokens  fakeTokens
	native  fakeNative
	rec     *events.Recorder

	contract types.Address
	owner    types.Address
	aph      types.AssetRef
	tokA     types.AssetRef
	tokB     types.AssetRef
	neo      types.AssetRef
	gas      types.AssetRef
}

func newHarness(t require.TestingT) *harness {
	h := &harness{
		t:        t,
		mgr:      state.NewManager(storage.NewMemDB()),
		witness:  fakeWitness{},
		chain:    &fakeChain{height: 10},
		tokens:   fakeTokens{},
		native:   fakeNative{},
		rec:      &events.Recorder{},
		contract: testAddress(0xCC),
		owner:    testAddress(0x0A),
	}
	params := DefaultParams()
	params.Contract = h.contract
	params.DefaultOwner = h.owner
	params.ReferenceAsset = h.newToken(0xA9)
	h.aph = params.ReferenceAsset
	h.tokA = h.newToken(0xAA)
	h.tokB = h.newToken(0xBB)
	h.neo = params.NEO
	h.gas = params.GAS

	h.engine = NewEngine(params)
	h.kv = h.mgr.Begin()
	h.engine.SetState(h.kv)
	h.engine.SetWitness(h.witness)
	h.engine.SetChain(h.chain)
	h.engine.SetTokens(h.tokens)
	h.engine.SetNativeBalances(h.native)
	h.engine.SetEmitter(h.rec)

	h.sign(h.owner)
	for _, asset := range []types.AssetRef{h.aph, h.tokA, h.tokB, h.neo, h.gas} {
		require.NoError(t, h.engine.SetAssetSettings(asset, []byte{0x00}))
	}
	h.sign()
	h.rec.Reset()
	return h
}

func (h *harness) newToken(fill byte) types.AssetRef {
	handle := testAddress(fill)
	h.tokens[handle] = &fakeToken{
		contract: h.contract,
		witness:  h.witness,
		balances: make(map[types.Address]*big.Int),
	}
	return types.ExternalAsset(handle)
}

func (h *harness) token(asset types.AssetRef) *fakeToken {
	handle, ok := asset.Handle()
	require.True(h.t, ok)
	return h.tokens[handle]
}

// sign replaces the set of witnesses of the running invocation.
func (h *harness) sign(addrs ...types.Address) {
	for k := range h.witness {
		delete(h.witness, k)
	}
	for _, a := range addrs {
		h.witness[a] = true
	}
}

// atomic runs fn in a fresh overlay, committing on success only.
func (h *harness) atomic(fn func() error) error {
	require.NoError(h.t, h.kv.Commit())
	h.kv = h.mgr.Begin()
	h.engine.SetState(h.kv)
	err := fn()
	if err != nil {
		h.kv.Discard()
	} else {
		require.NoError(h.t, h.kv.Commit())
	}
	h.kv = h.mgr.Begin()
	h.engine.SetState(h.kv)
	return err
}

// credit books a deposit without going through a token or transaction.
func (h *harness) credit(asset types.AssetRef, user types.Address, amount int64) {
	require.NoError(h.t, h.engine.increase(asset, user, big.NewInt(amount)))
	require.NoError(h.t, h.engine.adjustTrackedTotal(asset, big.NewInt(amount)))
}

func (h *harness) balance(asset types.AssetRef, user types.Address) int64 {
	b, err := h.engine.Balance(asset, user)
	require.NoError(h.t, err)
	return b.Int64()
}

func (h *harness) tracked(asset types.AssetRef) int64 {
	v, err := h.engine.TrackedTotal(asset)
	require.NoError(h.t, err)
	return v.Int64()
}

func (h *harness) whitelist(users ...types.Address) {
	for _, u := range users {
		require.NoError(h.t, h.engine.put(whitelistKey(u), []byte{0x01}))
	}
}

func (h *harness) market(quote, base types.AssetRef, minSize, tick, buyFee, sellFee int64) {
	h.sign(h.owner)
	require.NoError(h.t, h.engine.SetMarket(quote, base, MarketParams{
		MinimumSize:     big.NewInt(minSize),
		MinimumTickSize: big.NewInt(tick),
		BuyFeePercent:   big.NewInt(buyFee),
		SellFeePercent:  big.NewInt(sellFee),
	}))
	h.sign()
}

func (h *harness) offers() map[[32]byte]*Offer {
	out := make(map[[32]byte]*Offer)
	require.NoError(h.t, h.kv.Iterate(prefixOffers, func(key, value []byte) bool {
		var id [32]byte
		copy(id[:], key[len(prefixOffers):])
		o, err := decodeOffer(value)
		require.NoError(h.t, err)
		out[id] = o
		return true
	}))
	return out
}

func (h *harness) lastEvent() *types.Event {
	bodies := h.rec.Bodies()
	require.NotEmpty(h.t, bodies)
	return bodies[len(bodies)-1]
}

func fixed8(v int64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(uint64(v) >> (8 * i))
	}
	return out
}

func sortIDs(ids [][32]byte) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}
