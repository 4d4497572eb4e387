package exchange

import (
	"math/big"

	"aphdex/core/types"
)

func (e *Engine) loadMarket(key []byte) (*Market, bool, error) {
	raw, err := e.get(key)
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	m, err := decodeMarket(raw)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Market resolves the market for a pair in either order.
func (e *Engine) Market(a, b types.AssetRef) (*Market, bool, error) {
	m, ok, err := e.loadMarket(marketKey(a, b))
	if err != nil || ok {
		return m, ok, err
	}
	return e.loadMarket(marketKey(b, a))
}

// MarketParams is the mutable part of a market definition.
type MarketParams struct {
	MinimumSize     *big.Int
	MinimumTickSize *big.Int
	BuyFeePercent   *big.Int
	SellFeePercent  *big.Int
}

// SetMarket defines or updates the quote/base market. Owner and manager set
// every field; the whitelister may only adjust the minimum size and fees of a
// market that already exists.
func (e *Engine) SetMarket(quote, base types.AssetRef, p MarketParams) (err error) {
	defer e.report(EventTypeSetMarketFail, &err)

	if quote.IsZero() || base.IsZero() {
		return newError(KindValidation, EventTypeSetMarketFail, "bad asset len")
	}
	privileged, err := e.verifyOwnerOrManager()
	if err != nil {
		return err
	}
	key := marketKey(quote, base)
	var market *Market
	if privileged {
		market = &Market{
			QuoteAsset:      quote,
			BaseAsset:       base,
			MinimumSize:     cloneBigInt(p.MinimumSize),
			MinimumTickSize: cloneBigInt(p.MinimumTickSize),
			BuyFeePercent:   cloneBigInt(p.BuyFeePercent),
			SellFeePercent:  cloneBigInt(p.SellFeePercent),
		}
		if market.MinimumTickSize.Sign() <= 0 {
			return newError(KindValidation, EventTypeSetMarketFail, "tick size must be positive").
				With("minimumTickSize", amountString(market.MinimumTickSize))
		}
	} else {
		existing, ok, err := e.loadMarket(key)
		if err != nil {
			return err
		}
		whitelister, err := e.verifyWhitelister()
		if err != nil {
			return err
		}
		if !ok || !whitelister {
			return newError(KindAuthorization, EventTypeSetMarketFail, "no permission")
		}
		market = existing
		market.MinimumSize = cloneBigInt(p.MinimumSize)
		market.BuyFeePercent = cloneBigInt(p.BuyFeePercent)
		market.SellFeePercent = cloneBigInt(p.SellFeePercent)
	}

	if market.MinimumSize.Sign() < 0 {
		return newError(KindValidation, EventTypeSetMarketFail, "minimum size cannot be negative")
	}
	if market.BuyFeePercent.Sign() < 0 || market.SellFeePercent.Sign() < 0 {
		return newError(KindValidation, EventTypeSetMarketFail, "fee cannot be negative").
			With("buyFeePercent", amountString(market.BuyFeePercent)).
			With("sellFeePercent", amountString(market.SellFeePercent))
	}
	for _, asset := range []types.AssetRef{market.QuoteAsset, market.BaseAsset} {
		settings, err := e.AssetSettings(asset)
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			return newError(KindValidation, EventTypeSetMarketFail, "invalid asset").With("asset", asset.String())
		}
	}

	raw, err := encodeMarket(market)
	if err != nil {
		return err
	}
	if err := e.put(key, raw); err != nil {
		return err
	}
	e.emit(newMarketEvent(market))
	return nil
}

// CloseMarket removes the quote/base market. Open offers stay escrowed and
// can still be cancelled.
func (e *Engine) CloseMarket(quote, base types.AssetRef) (err error) {
	defer e.report(EventTypeCloseMarketFail, &err)

	ok, err := e.verifyOwnerOrManager()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeCloseMarketFail, "no permission")
	}
	if quote.IsZero() || base.IsZero() {
		return newError(KindValidation, EventTypeCloseMarketFail, "invalid length of base or quote asset")
	}
	if err := e.del(marketKey(quote, base)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeMarketClosed).
		With("quote", quote.String()).
		With("base", base.String()))
	return nil
}

// ConversionRate is the fixed8 amount of reference asset worth one unit of
// asset.
func (e *Engine) ConversionRate(asset types.AssetRef) (*big.Int, error) {
	return e.getInt(conversionRateKey(asset))
}

// SetAssetToAphRate stores the conversion rate used to price fees.
func (e *Engine) SetAssetToAphRate(asset types.AssetRef, rate *big.Int) (err error) {
	defer e.report(EventTypeAdminFail, &err)

	if asset.IsZero() {
		return newError(KindValidation, EventTypeAdminFail, "invalid asset").With("operation", "setAssetToAphRate")
	}
	ok, err := e.verifyAny(e.verifyWhitelister, e.verifyManager, e.verifyOwner)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAdminFail, "no permission").With("operation", "setAssetToAphRate")
	}
	if err := e.putInt(conversionRateKey(asset), cloneBigInt(rate)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSetAssetToAphRate).
		With("asset", asset.String()).
		With("rate", amountString(rate)))
	return nil
}

// SetAssetSettings registers an asset. Byte 0 selects the pull method and
// bytes 1..8 hold the withdraw fee.
func (e *Engine) SetAssetSettings(asset types.AssetRef, settings []byte) (err error) {
	defer e.report(EventTypeAdminFail, &err)

	ok, err := e.verifyOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAdminFail, "no permission").With("operation", "setAssetSettings")
	}
	if asset.IsZero() {
		return newError(KindValidation, EventTypeAdminFail, "invalid asset").With("operation", "setAssetSettings")
	}
	if err := e.put(assetSettingsKey(asset), settings); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSetAssetSettings).
		With("asset", asset.String()).
		With("settings", hexString(settings)))
	return nil
}
