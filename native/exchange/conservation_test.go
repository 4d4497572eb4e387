package exchange

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"aphdex/core/types"
)

// The reference asset's tracked total equals what users hold, the
// operator's share, open contributions and the pool fees not yet paid out,
// while fees, pool membership and withdrawal marks interleave with trading.
func TestConservationWithFeesAndPool(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		users := []types.Address{testAddress(0x01), testAddress(0x02), testAddress(0x03)}
		h.whitelist(users...)

		buyFee := rapid.Int64Range(0, 3_000_000).Draw(t, "buyFee").(int64)
		sellFee := rapid.Int64Range(0, 3_000_000).Draw(t, "sellFee").(int64)
		h.market(h.tokA, h.tokB, 0, 1, buyFee, sellFee)

		rate := rapid.Int64Range(1, 2*One.Int64()).Draw(t, "rate").(int64)
		withdrawFee := rapid.Int64Range(0, 50).Draw(t, "withdrawFee").(int64)
		h.sign(h.owner)
		require.NoError(t, h.engine.SetAssetToAphRate(h.tokB, big.NewInt(rate)))
		require.NoError(t, h.engine.SetAssetSettings(h.neo, append([]byte{0x00}, fixed8(withdrawFee)...)))
		h.sign()

		h.token(h.aph).balances[h.contract] = big.NewInt(1_000_000_000)
		for _, u := range users {
			h.credit(h.tokA, u, 10_000)
			h.credit(h.tokB, u, 10_000)
			h.credit(h.aph, u, 2_000)
			h.credit(h.neo, u, 10*neoUnit)
		}

		// paidOut is the pool share that left the pool through claims,
		// forfeits and compounding.
		paidOut := new(big.Int)
		nonce := int64(0)
		steps := rapid.IntRange(1, 40).Draw(t, "steps").(int)
		for i := 0; i < steps; i++ {
			h.chain.height += rapid.Uint64Range(0, 3_000).Draw(t, "blocks").(uint64)
			user := users[rapid.IntRange(0, len(users)-1).Draw(t, "user").(int)]
			h.sign(user)
			open := h.offers()

			switch op := rapid.IntRange(0, 6).Draw(t, "op").(int); {
			case op == 0 || (op <= 2 && len(open) == 0):
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
			case op == 2:
				id, o := pickOffer(t, open)
				h.sign(o.Creator)
				_ = h.atomic(func() error { return h.engine.CancelOffer(o.Creator, id) })
			case op == 3:
				qty := big.NewInt(rapid.Int64Range(1, 1_500).Draw(t, "commit").(int64))
				_ = h.atomic(func() error { return h.engine.Commit(user, qty) })
			case op == 4:
				claimable, err := h.engine.AvailableToClaim(user)
				require.NoError(t, err)
				if h.atomic(func() error { _, err := h.engine.Claim(user); return err }) == nil {
					paidOut.Add(paidOut, claimable)
				}
			case op == 5:
				claimable, err := h.engine.AvailableToClaim(user)
				require.NoError(t, err)
				if h.atomic(func() error { return h.engine.Compound(user) }) == nil {
					paidOut.Add(paidOut, claimable)
				}
			default:
				amount := rapid.Int64Range(1, 3).Draw(t, "neo").(int64) * neoUnit
				mark := withdrawTx{
					step:       StepMark,
					user:       user,
					asset:      h.neo,
					amount:     amount,
					validUntil: int64(h.chain.height) + 1_000,
					inputs:     []types.Input{{PrevHash: testHash(byte(0x40 + i)), PrevIndex: 0}},
					refs:       []types.Output{h.neoOutput(h.contract, amount)},
					outputs:    []types.Output{h.neoOutput(h.contract, amount)},
				}.build(h.contract)
				_ = h.atomic(func() error { return h.verifyAndRun(mark) })
			}

			pool, err := h.engine.FeePool()
			require.NoError(t, err)
			held := new(big.Int).Add(pool.Owner, pool.Pool)
			held.Sub(held, paidOut)
			neoHeld := int64(0)
			for _, u := range users {
				held.Add(held, big.NewInt(h.balance(h.aph, u)))
				units, err := h.engine.Contributed(u)
				require.NoError(t, err)
				held.Add(held, units)
				neoHeld += h.balance(h.neo, u)
			}
			tracked, err := h.engine.TrackedTotal(h.aph)
			require.NoError(t, err)
			require.Zero(t, tracked.Cmp(held), "reference asset after step %d: tracked %s, held %s", i, tracked, held)
			require.Equal(t, h.tracked(h.neo), neoHeld, "NEO after step %d", i)

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

// A trade with fees moves the fee out of the taker's reference balance into
// the pool and the operator's share without changing the tracked total.
func TestTradeFeeStaysInsideTrackedTotal(t *testing.T) {
	h := newHarness(t)
	x, y := testAddress(0x01), testAddress(0x02)
	h.whitelist(x, y)
	h.market(h.tokA, h.tokB, 0, 100, 1_000_000, 2_000_000)
	h.sign(h.owner)
	require.NoError(t, h.engine.SetAssetToAphRate(h.tokB, One))
	h.sign()
	h.credit(h.tokB, x, 1000)
	h.credit(h.tokA, y, 50)
	h.credit(h.aph, y, 100)

	h.sign(x)
	id, err := h.engine.AddOffer(x, h.tokA, big.NewInt(50), h.tokB, big.NewInt(500), big.NewInt(1))
	require.NoError(t, err)

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
	// Giving the quote asset charges the sell fee on the base quantity:
	// 500 * 1e8 * 2e6 / 1e16 = 10.
	require.Equal(t, int64(10), res.Fee.Int64())
	require.Equal(t, int64(90), h.balance(h.aph, y))

	pool, err := h.engine.FeePool()
	require.NoError(t, err)
	require.Equal(t, int64(8), pool.Pool.Int64())
	require.Equal(t, int64(2), pool.Owner.Int64())
	require.Equal(t, int64(100), h.tracked(h.aph))
}
