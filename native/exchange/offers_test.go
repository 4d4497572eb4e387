package exchange

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"aphdex/core/types"
)

func TestOfferFullFillScenario(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 1000)
	h.credit(h.tokA, y, 50)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, int64(500), h.balance(h.tokB, x))
	require.Equal(t, EventTypeOfferCreated, h.lastEvent().Type)

	h.sign(y)
	res, err := h.engine.AcceptOffer(AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(50),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
	})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Zero(t, res.RemainingToBuy.Sign())

	_, found, err := h.engine.Offer(id)
	require.NoError(t, err)
	require.False(t, found, "filled offer is deleted")

	require.Equal(t, int64(0), h.balance(h.tokA, y))
	require.Equal(t, int64(500), h.balance(h.tokB, y))
	require.Equal(t, int64(50), h.balance(h.tokA, x))
	require.Equal(t, int64(500), h.balance(h.tokB, x))
	require.Equal(t, EventTypeOfferAccepted, h.lastEvent().Type)
}

func TestAddOfferStoresRecord(t *testing.T) {
	h := newHarness(t)
	x := testAddress(0x01)
	h.whitelist(x)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 1000)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(7))
	require.NoError(t, err)

	got, found, err := h.engine.Offer(id)
	require.NoError(t, err)
	require.True(t, found)
	want := &Offer{
		Creator:        x,
		AssetToBuy:     h.tokA,
		QuantityToBuy:  big.NewInt(50),
		AssetToSell:    h.tokB,
		QuantityToSell: big.NewInt(500),
		Nonce:          big.NewInt(7),
	}
	opts := cmp.Options{
		cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 }),
		cmp.Comparer(func(a, b types.AssetRef) bool { return a == b }),
	}
	require.Empty(t, cmp.Diff(want, got, opts))

	wantID, err := OfferID(want)
	require.NoError(t, err)
	require.Equal(t, wantID, id)

	_, err = h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(7))
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, EventTypeAddOfferInitError, h.lastEvent().Type)
}

func TestAddOfferRejections(t *testing.T) {
	x := testAddress(0x01)
	cases := []struct {
		name     string
		buyQty   int64
		sellQty  int64
		listed   bool
		noMarket bool
		funds    int64
		kind     error
		tag      string
	}{
		{name: "off tick", buyQty: 30, sellQty: 1000, listed: true, funds: 1000, kind: ErrInvariant, tag: EventTypeAddOfferError},
		{name: "below minimum size", buyQty: 5, sellQty: 500, listed: true, funds: 1000, kind: ErrValidation, tag: EventTypeAddOfferError},
		{name: "not whitelisted", buyQty: 50, sellQty: 500, funds: 1000, kind: ErrAuthorization, tag: EventTypeAddOfferError},
		{name: "no market", buyQty: 50, sellQty: 500, listed: true, noMarket: true, funds: 1000, kind: ErrValidation, tag: EventTypeAddOfferError},
		{name: "insufficient escrow", buyQty: 50, sellQty: 500, listed: true, funds: 100, kind: ErrInsufficientFunds, tag: EventTypeAddOfferError},
		{name: "zero quantity", buyQty: 0, sellQty: 500, listed: true, funds: 1000, kind: ErrValidation, tag: EventTypeAddOfferInitError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.listed {
				h.whitelist(x)
			}
			if !tc.noMarket {
				h.market(h.tokA, h.tokB, 10, 100, 0, 0)
			}
			h.credit(h.tokB, x, tc.funds)
			h.rec.Reset()

			h.sign(x)
			_, err := h.engine.AddOffer(x, h.tokA, big.NewInt(tc.buyQty), h.tokB, big.NewInt(tc.sellQty), big.NewInt(1))
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, []string{tc.tag}, h.rec.Types(), "exactly one failure event")
			require.Equal(t, tc.funds, h.balance(h.tokB, x))
		})
	}
}

func TestTickSizeLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		x := testAddress(0x01)
		h.whitelist(x)
		h.market(h.tokA, h.tokB, 10, 100, 0, 0)
		h.credit(h.tokA, x, 1_000_000)
		h.credit(h.tokB, x, 1_000_000)

		buyQty := rapid.Int64Range(1, 1_000_000).Draw(t, "buyQty").(int64)
		sellQty := rapid.Int64Range(1, 1_000_000).Draw(t, "sellQty").(int64)
		buyQuote := rapid.Bool().Draw(t, "buyQuote").(bool)

		buy, sell := h.tokB, h.tokA
		size, num, den := sellQty, buyQty, sellQty
		if buyQuote {
			buy, sell = h.tokA, h.tokB
			size, num, den = buyQty, sellQty, buyQty
		}
		price := new(big.Int).Mul(big.NewInt(num), One)
		price.Quo(price, big.NewInt(den))
		onTick := new(big.Int).Rem(price, big.NewInt(100)).Sign() == 0

		h.sign(x)
		_, err := h.engine.AddOffer(x, buy, big.NewInt(buyQty), sell, big.NewInt(sellQty), big.NewInt(1))
		switch {
		case size < 10:
			require.ErrorIs(t, err, ErrValidation)
		case !onTick:
			require.ErrorIs(t, err, ErrInvariant)
		default:
			require.NoError(t, err)
		}
	})
}

func TestPartialFillExactness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		maker, taker := testAddress(0x01), testAddress(0x02)
		h.whitelist(maker, taker)
		h.market(h.tokA, h.tokB, 0, 1, 0, 0)

		buyQty := rapid.Int64Range(2, 1_000_000).Draw(t, "buyQty").(int64)
		sellQty := rapid.Int64Range(1, 1_000_000).Draw(t, "sellQty").(int64)
		give := rapid.Int64Range(1, buyQty-1).Draw(t, "give").(int64)
		skew := rapid.Int64Range(-1, 1).Draw(t, "skew").(int64)

		h.credit(h.tokB, maker, sellQty)
		h.credit(h.tokA, taker, give)
		h.sign(maker)
		id, err := h.engine.AddOffer(maker, h.tokA, big.NewInt(buyQty), h.tokB, big.NewInt(sellQty), big.NewInt(1))
		require.NoError(t, err)

		expected := new(big.Int).Mul(big.NewInt(give), big.NewInt(sellQty))
		expected.Quo(expected, big.NewInt(buyQty))
		receive := new(big.Int).Add(expected, big.NewInt(skew))
		if receive.Sign() <= 0 {
			t.Skip("non-positive receive quantity")
		}

		h.sign(taker)
		res, err := h.engine.AcceptOffer(AcceptRequest{
			OfferID:         id,
			Taker:           taker,
			GiveAsset:       h.tokA,
			GiveQuantity:    big.NewInt(give),
			ReceiveAsset:    h.tokB,
			ReceiveQuantity: receive,
		})
		if skew != 0 {
			require.ErrorIs(t, err, ErrInvariant)
			require.Equal(t, give, h.balance(h.tokA, taker))
			return
		}
		require.NoError(t, err)
		require.Equal(t, expected.Int64(), h.balance(h.tokB, taker))
		require.Equal(t, buyQty-give, res.RemainingToBuy.Int64())
		require.Equal(t, sellQty-expected.Int64(), res.RemainingToSell.Int64())

		o, found, err := h.engine.Offer(id)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, buyQty-give, o.QuantityToBuy.Int64())
	})
}

func TestAcceptClampsOverfill(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 500)
	h.credit(h.tokA, y, 80)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

	h.sign(y)
	res, err := h.engine.AcceptOffer(AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(80),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), res.QuantityGiven.Int64())
	require.Equal(t, int64(30), h.balance(h.tokA, y))
}

func TestOverfillFeeChargedOnFilledQuantity(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokB, h.tokA, 0, 1, 1_000_000, 0)
	h.sign(h.owner)
	require.NoError(t, h.engine.SetAssetToAphRate(h.tokA, One))
	h.sign()
	h.credit(h.tokB, x, 500)
	h.credit(h.tokA, y, 8000)
	h.credit(h.aph, y, 100)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(5000), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

	h.sign(y)
	res, err := h.engine.AcceptOffer(AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(8000),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
	})
	require.NoError(t, err)
	require.Equal(t, int64(5000), res.QuantityGiven.Int64())
	// 5000 * 1e8 * 1e6 / 1e16, not the 80 the requested 8000 would cost.
	require.Equal(t, int64(50), res.Fee.Int64())
	require.Equal(t, int64(50), h.balance(h.aph, y))
	require.Equal(t, int64(3000), h.balance(h.tokA, y))
}

func TestAcceptRejectsRemainderBelowMinimum(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 500)
	h.credit(h.tokA, y, 45)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

	h.sign(y)
	_, err = h.engine.AcceptOffer(AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(45),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(450),
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "would leave less than minimum size", h.lastEvent().Attr("reason"))
}

func TestAcceptChargesFeeInReferenceAsset(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 200000)
	h.sign(h.owner)
	require.NoError(t, h.engine.SetAssetToAphRate(h.tokB, One))
	h.credit(h.tokB, x, 500000)
	h.credit(h.tokA, y, 50000)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50000), h.tokB, big.NewInt(500000), big.NewInt(1))
	require.NoError(t, err)

	accept := AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(50000),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500000),
	}
	h.sign(y)
	_, err = h.engine.AcceptOffer(accept)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(50000), h.balance(h.tokA, y), "give side refunded")
	_, found, err := h.engine.Offer(id)
	require.NoError(t, err)
	require.True(t, found)

	h.credit(h.aph, y, 1000)
	res, err := h.engine.AcceptOffer(accept)
	require.NoError(t, err)
	require.Equal(t, int64(1000), res.Fee.Int64())
	require.Zero(t, h.balance(h.aph, y))

	pool, err := h.engine.FeePool()
	require.NoError(t, err)
	require.Equal(t, int64(800), pool.Pool.Int64())
	require.Equal(t, int64(200), pool.Owner.Int64())
	require.Equal(t, int64(200), h.balance(h.aph, h.owner))
}

func TestAcceptMissingOfferCreatesMirror(t *testing.T) {
	h := newHarness(t)
	y := testAddress(0x02)
	h.whitelist(y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokA, y, 50)
	h.rec.Reset()

	h.sign(y)
	res, err := h.engine.AcceptOffer(AcceptRequest{
		OfferID:         testHash(0x44),
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(50),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
		CreateIfMissing: true,
		Nonce:           big.NewInt(9),
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, []string{EventTypeAcceptCreatesOffer, EventTypeOfferCreated}, h.rec.Types())

	o, found, err := h.engine.Offer(res.OfferID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, h.tokB, o.AssetToBuy)
	require.Equal(t, h.tokA, o.AssetToSell)
	require.Zero(t, h.balance(h.tokA, y))
}

func TestAcceptMirrorFailureReportsOnce(t *testing.T) {
	h := newHarness(t)
	y := testAddress(0x02)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.rec.Reset()

	h.sign(y)
	_, err := h.engine.AcceptOffer(AcceptRequest{
		OfferID:         testHash(0x44),
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(50),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
		CreateIfMissing: true,
		Nonce:           big.NewInt(9),
	})
	require.ErrorIs(t, err, ErrAuthorization)
	require.Equal(t, []string{EventTypeAcceptCreatesOffer, EventTypeAddOfferError}, h.rec.Types())
}

func TestAcceptRequiresTakerWitness(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 500)
	h.credit(h.tokA, y, 50)
	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

	h.sign(x)
	_, err = h.engine.AcceptOffer(AcceptRequest{
		OfferID:         id,
		Taker:           y,
		GiveAsset:       h.tokA,
		GiveQuantity:    big.NewInt(50),
		ReceiveAsset:    h.tokB,
		ReceiveQuantity: big.NewInt(500),
	})
	require.ErrorIs(t, err, ErrAuthorization)
	require.Equal(t, int64(50), h.balance(h.tokA, y))
}

func TestCancelOfferRefundsCreator(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 500)
	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

	h.sign(y)
	require.ErrorIs(t, h.engine.CancelOffer(y, id), ErrAuthorization)

	h.sign(h.owner)
	require.NoError(t, h.engine.CancelOffer(h.owner, id))
	require.Equal(t, int64(500), h.balance(h.tokB, x))
	_, found, err := h.engine.Offer(id)
	require.NoError(t, err)
	require.False(t, found)

	require.ErrorIs(t, h.engine.CancelOffer(h.owner, id), ErrValidation)
}

func TestAddOfferPullsShortfallFromToken(t *testing.T) {
	h := newHarness(t)
	x := testAddress(0x01)
	h.whitelist(x)
	h.market(h.tokA, h.tokB, 10, 100, 0, 0)
	h.credit(h.tokB, x, 200)
	h.token(h.tokB).balances[x] = big.NewInt(1000)

	h.sign(x)
	_, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)
	require.Zero(t, h.balance(h.tokB, x))
	require.Equal(t, int64(700), h.token(h.tokB).balances[x].Int64())
	require.Equal(t, int64(300), h.token(h.tokB).balances[h.contract].Int64())
	require.Equal(t, int64(500), h.tracked(h.tokB))
}

// Tracked totals of external assets equal balances plus open escrow across
// any sequence of offers, fills and cancels.
func TestConservationAcrossTrading(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		users := []types.Address{testAddress(0x01), testAddress(0x02), testAddress(0x03)}
		h.whitelist(users...)
		h.market(h.tokA, h.tokB, 0, 1, 0, 0)
		for _, u := range users {
			h.credit(h.tokA, u, 10_000)
			h.credit(h.tokB, u, 10_000)
		}

		nonce := int64(0)
		steps := rapid.IntRange(1, 30).Draw(t, "steps").(int)
		for i := 0; i < steps; i++ {
			user := users[rapid.IntRange(0, len(users)-1).Draw(t, "user").(int)]
			h.sign(user)
			open := h.offers()
			switch op := rapid.IntRange(0, 2).Draw(t, "op").(int); {
			case op == 0 || len(open) == 0:
				nonce++
				buy, sell := h.tokA, h.tokB
				if rapid.Bool().Draw(t, "flip").(bool) {
					buy, sell = sell, buy
				}
				buyQty := big.NewInt(rapid.Int64Range(1, 5_000).Draw(t, "buyQty").(int64))
				sellQty := big.NewInt(rapid.Int64Range(1, 5_000).Draw(t, "sellQty").(int64))
				_ = h.atomic(func() error {
					_, err := h.engine.AddOffer(user, buy, buyQty, sell, sellQty, big.NewInt(nonce))
					return err
				})
			case op == 1:
				id, o := pickOffer(t, open)
				give := big.NewInt(rapid.Int64Range(1, o.QuantityToBuy.Int64()).Draw(t, "give").(int64))
				receive := new(big.Int).Mul(give, o.QuantityToSell)
				receive.Quo(receive, o.QuantityToBuy)
				_ = h.atomic(func() error {
					_, err := h.engine.AcceptOffer(AcceptRequest{
						OfferID:         id,
						Taker:           user,
						GiveAsset:       o.AssetToBuy,
						GiveQuantity:    give,
						ReceiveAsset:    o.AssetToSell,
						ReceiveQuantity: receive,
					})
					return err
				})
			default:
				id, o := pickOffer(t, open)
				h.sign(o.Creator)
				_ = h.atomic(func() error { return h.engine.CancelOffer(o.Creator, id) })
			}

			for _, asset := range []types.AssetRef{h.tokA, h.tokB} {
				sum := int64(0)
				for _, u := range users {
					sum += h.balance(asset, u)
				}
				for _, o := range h.offers() {
					if o.AssetToSell == asset {
						sum += o.QuantityToSell.Int64()
					}
				}
				require.Equal(t, h.tracked(asset), sum, "asset %s after step %d", asset, i)
			}
		}
	})
}

func pickOffer(t *rapid.T, open map[[32]byte]*Offer) ([32]byte, *Offer) {
	ids := make([][32]byte, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sortIDs(ids)
	id := ids[rapid.IntRange(0, len(ids)-1).Draw(t, "offer").(int)]
	return id, open[id]
}
