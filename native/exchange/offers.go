package exchange

import (
	"math/big"

	"aphdex/core/types"
)

// Offer loads an open offer by id.
func (e *Engine) Offer(id [32]byte) (*Offer, bool, error) {
	raw, err := e.get(offerKey(id))
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	o, err := decodeOffer(raw)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (e *Engine) putOffer(id [32]byte, o *Offer) error {
	raw, err := encodeOffer(o)
	if err != nil {
		return err
	}
	return e.put(offerKey(id), raw)
}

// unitPrice is the quote-per-base price in fixed8 used for the tick check.
func unitPrice(numerator, denominator *big.Int) *big.Int {
	p := new(big.Int).Mul(numerator, One)
	return p.Quo(p, denominator)
}

func onTick(price, tick *big.Int) bool {
	if tick.Sign() <= 0 {
		return false
	}
	return new(big.Int).Rem(price, tick).Sign() == 0
}

// AddOffer escrows sellQty of sell from creator and lists an offer to buy
// buyQty of buy. It returns the offer id.
func (e *Engine) AddOffer(creator types.Address, buy types.AssetRef, buyQty *big.Int, sell types.AssetRef, sellQty, nonce *big.Int) (id [32]byte, err error) {
	tag := EventTypeAddOfferInitError
	defer func() { e.report(tag, &err) }()

	if buy.IsZero() || sell.IsZero() {
		return id, newError(KindValidation, tag, "invalid asset length").withAddress("creator", creator)
	}
	if !positive(buyQty) || !positive(sellQty) {
		return id, newError(KindValidation, tag, "no negative quantities allowed").
			withAddress("creator", creator).
			With("quantityToBuy", amountString(buyQty)).
			With("quantityToSell", amountString(sellQty))
	}
	offer := &Offer{
		Creator:        creator,
		AssetToBuy:     buy,
		QuantityToBuy:  cloneBigInt(buyQty),
		AssetToSell:    sell,
		QuantityToSell: cloneBigInt(sellQty),
		Nonce:          cloneBigInt(nonce),
	}
	id, err = OfferID(offer)
	if err != nil {
		return id, err
	}
	offerID := hexString(id[:])
	if _, exists, err := e.Offer(id); err != nil {
		return id, err
	} else if exists {
		return id, newError(KindValidation, tag, "offer already exists").With("offerId", offerID)
	}

	tag = EventTypeAddOfferError
	whitelisted, err := e.isWhitelisted(creator)
	if err != nil {
		return id, err
	}
	if !whitelisted {
		return id, newError(KindAuthorization, tag, "not whitelisted").
			withAddress("creator", creator).
			With("offerId", offerID)
	}
	market, ok, err := e.Market(buy, sell)
	if err != nil {
		return id, err
	}
	if !ok {
		return id, newError(KindValidation, tag, "invalid market").
			With("offerId", offerID).
			With("assetToBuy", buy.String()).
			With("assetToSell", sell.String())
	}

	var size, price *big.Int
	if buy == market.QuoteAsset {
		size, price = buyQty, unitPrice(sellQty, buyQty)
	} else {
		size, price = sellQty, unitPrice(buyQty, sellQty)
	}
	if size.Cmp(market.MinimumSize) < 0 {
		return id, newError(KindValidation, tag, "insufficient order size").
			With("offerId", offerID).
			With("size", amountString(size)).
			With("minimumSize", amountString(market.MinimumSize))
	}
	if !onTick(price, market.MinimumTickSize) {
		return id, newError(KindInvariant, tag, "invalid tick size").
			With("offerId", offerID).
			With("unitPrice", amountString(price)).
			With("minimumTickSize", amountString(market.MinimumTickSize))
	}

	if err := e.reduceStrict(sell, creator, sellQty); err != nil {
		return id, fundsError(tag, "unable to reserve asset", err)
	}
	if err := e.putOffer(id, offer); err != nil {
		return id, err
	}
	e.emit(newOfferCreatedEvent(id, offer))
	return id, nil
}

// AcceptRequest is a taker's attempt to fill an offer.
type AcceptRequest struct {
	OfferID         [32]byte
	Taker           types.Address
	GiveAsset       types.AssetRef
	GiveQuantity    *big.Int
	ReceiveAsset    types.AssetRef
	ReceiveQuantity *big.Int
	CreateIfMissing bool
	Nonce           *big.Int
}

// AcceptOffer fills an offer fully or partially. A missing offer with
// CreateIfMissing set lists the mirrored offer instead.
func (e *Engine) AcceptOffer(req AcceptRequest) (res *AcceptResult, err error) {
	const tag = EventTypeAcceptOfferError
	defer e.report(tag, &err)

	offerID := hexString(req.OfferID[:])
	market, ok, err := e.Market(req.GiveAsset, req.ReceiveAsset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindValidation, tag, "invalid market").
			withAddress("taker", req.Taker).
			With("giveAsset", req.GiveAsset.String()).
			With("receiveAsset", req.ReceiveAsset.String())
	}
	if !e.checkWitness(req.Taker) {
		return nil, newError(KindAuthorization, tag, "taker address not a witness").
			withAddress("taker", req.Taker).
			With("offerId", offerID)
	}

	offer, found, err := e.Offer(req.OfferID)
	if err != nil {
		return nil, err
	}
	if !found {
		if !req.CreateIfMissing {
			return nil, newError(KindValidation, tag, "offer id not found").
				withAddress("taker", req.Taker).
				With("offerId", offerID)
		}
		e.emit(types.NewEvent(EventTypeAcceptCreatesOffer).
			With("reason", "offer id not found, creating a new offer").
			With("taker", req.Taker.String()).
			With("offerId", offerID))
		id, err := e.AddOffer(req.Taker, req.ReceiveAsset, req.ReceiveQuantity, req.GiveAsset, req.GiveQuantity, req.Nonce)
		if err != nil {
			return nil, err
		}
		return &AcceptResult{
			OfferID:          id,
			Created:          true,
			QuantityGiven:    new(big.Int),
			QuantityReceived: new(big.Int),
			Fee:              new(big.Int),
			RemainingToBuy:   cloneBigInt(req.ReceiveQuantity),
			RemainingToSell:  cloneBigInt(req.GiveQuantity),
		}, nil
	}

	if offer.AssetToBuy != req.GiveAsset {
		return nil, newError(KindValidation, tag, "invalid asset to give").
			With("offerId", offerID).
			With("expected", offer.AssetToBuy.String()).
			With("got", req.GiveAsset.String())
	}
	if offer.AssetToSell != req.ReceiveAsset {
		return nil, newError(KindValidation, tag, "invalid asset to receive").
			With("offerId", offerID).
			With("expected", offer.AssetToSell.String()).
			With("got", req.ReceiveAsset.String())
	}
	if !positive(req.GiveQuantity) {
		return nil, newError(KindValidation, tag, "invalid quantity to give, <= 0").
			With("offerId", offerID).
			With("quantity", amountString(req.GiveQuantity))
	}
	if !positive(req.ReceiveQuantity) {
		return nil, newError(KindValidation, tag, "invalid quantity to receive, <= 0").
			With("offerId", offerID).
			With("quantity", amountString(req.ReceiveQuantity))
	}

	give := cloneBigInt(req.GiveQuantity)
	receive := cloneBigInt(req.ReceiveQuantity)
	switch give.Cmp(offer.QuantityToBuy) {
	case 1:
		give.Set(offer.QuantityToBuy)
	case -1:
		var left *big.Int
		if offer.AssetToBuy == market.QuoteAsset {
			left = new(big.Int).Sub(offer.QuantityToBuy, give)
		} else {
			left = new(big.Int).Sub(offer.QuantityToSell, receive)
		}
		if left.Cmp(market.MinimumSize) < 0 {
			return nil, newError(KindValidation, tag, "would leave less than minimum size").
				With("offerId", offerID).
				With("remaining", amountString(left)).
				With("minimumSize", amountString(market.MinimumSize))
		}
	}

	expected := new(big.Int).Mul(give, offer.QuantityToSell)
	expected.Quo(expected, offer.QuantityToBuy)
	if receive.Cmp(expected) != 0 {
		return nil, newError(KindInvariant, tag, "receive quantity != calculated").
			With("offerId", offerID).
			With("quantityToReceive", amountString(receive)).
			With("calculated", amountString(expected))
	}

	feePct := market.BuyFeePercent
	baseQty := give
	if req.GiveAsset == market.QuoteAsset {
		feePct = market.SellFeePercent
		baseQty = receive
	}
	rate, err := e.ConversionRate(market.BaseAsset)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(baseQty, rate)
	fee.Mul(fee, feePct)
	fee.Quo(fee, One)
	fee.Quo(fee, One)

	if err := e.reduceNoPull(req.GiveAsset, req.Taker, give); err != nil {
		return nil, fundsError(tag, "insufficient balance of asset", err)
	}
	if err := e.reduceNoPull(e.params.ReferenceAsset, req.Taker, fee); err != nil {
		if rerr := e.increase(req.GiveAsset, req.Taker, give); rerr != nil {
			return nil, rerr
		}
		return nil, fundsError(tag, "insufficient reference asset for trade fee", err)
	}
	if err := e.FeeCollected(fee); err != nil {
		return nil, err
	}
	if err := e.increase(req.GiveAsset, offer.Creator, give); err != nil {
		return nil, err
	}

	offer.QuantityToSell = new(big.Int).Sub(offer.QuantityToSell, receive)
	offer.QuantityToBuy = new(big.Int).Sub(offer.QuantityToBuy, give)
	if offer.QuantityToBuy.Sign() == 0 {
		err = e.del(offerKey(req.OfferID))
	} else {
		err = e.putOffer(req.OfferID, offer)
	}
	if err != nil {
		return nil, err
	}

	if err := e.increase(req.ReceiveAsset, req.Taker, receive); err != nil {
		return nil, err
	}
	e.emit(newOfferAcceptedEvent(req.Taker, req.OfferID, offer, fee))
	return &AcceptResult{
		OfferID:          req.OfferID,
		QuantityGiven:    give,
		QuantityReceived: receive,
		Fee:              fee,
		RemainingToBuy:   cloneBigInt(offer.QuantityToBuy),
		RemainingToSell:  cloneBigInt(offer.QuantityToSell),
	}, nil
}

// CancelOffer refunds the escrowed remainder to the creator. The creator,
// owner or manager must sign.
func (e *Engine) CancelOffer(sender types.Address, id [32]byte) (err error) {
	const tag = EventTypeCancelOfferError
	defer e.report(tag, &err)

	offerID := hexString(id[:])
	offer, ok, err := e.Offer(id)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindValidation, tag, "offer id not found").
			withAddress("sender", sender).
			With("offerId", offerID)
	}
	allowed := e.checkWitness(offer.Creator)
	if !allowed {
		if allowed, err = e.verifyOwnerOrManager(); err != nil {
			return err
		}
	}
	if !allowed {
		return newError(KindAuthorization, tag, "no permission").
			withAddress("sender", sender).
			With("offerId", offerID)
	}
	if err := e.increase(offer.AssetToSell, offer.Creator, offer.QuantityToSell); err != nil {
		return err
	}
	if err := e.del(offerKey(id)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeOfferCanceled).
		With("creator", offer.Creator.String()).
		With("offerId", offerID))
	return nil
}
