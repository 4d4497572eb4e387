package exchange

import (
	"encoding/hex"
	"math/big"

	"aphdex/core/types"
)

const (
	EventTypeOfferCreated          = "offerCreated"
	EventTypeAcceptCreatesOffer    = "acceptOfferCreatesOffer"
	EventTypeOfferAccepted         = "offerAccepted"
	EventTypeOfferCanceled         = "offerCanceled"
	EventTypeDeposit               = "deposit"
	EventTypeSent                  = "sent"
	EventTypeUpdateTotalFeeUnits   = "updateTotalFeeUnits"
	EventTypeContributed           = "contributed"
	EventTypeClaimed               = "claimed"
	EventTypeClaimFeesWentToOwner  = "claimFeesWentToOwner"
	EventTypeCompound              = "compound"
	EventTypeWithdraw              = "withdraw"
	EventTypeWithdrawMark          = "withdrawMark"
	EventTypeUTXOReserved          = "utxoReserved"
	EventTypeSetOwner              = "setOwner"
	EventTypeSetManager            = "setManager"
	EventTypeSetWhitelister        = "setWhitelister"
	EventTypeSetFeeRedistribution  = "setFeeRedistributionPercentage"
	EventTypeSetClaimMinimumBlocks = "setClaimMinimumBlocks"
	EventTypeSetAssetToAphRate     = "setAssetToAphRate"
	EventTypeSetAssetSettings      = "setAssetSettings"
	EventTypeMarketSet             = "marketSet"
	EventTypeMarketClosed          = "marketClosed"
	EventTypeSetIdentity           = "setIdentity"
	EventTypeWhitelisted           = "whitelisted"
	EventTypeBlacklisted           = "blacklisted"
	EventTypeReclaimedOrphanFunds  = "reclaimedOrphanedFunds"
	EventTypeAphNotify             = "aphNotify"
)

// Failure tags.
const (
	EventTypeAddOfferInitError   = "addOfferInitError"
	EventTypeAddOfferError       = "addOfferError"
	EventTypeAcceptOfferError    = "acceptOfferError"
	EventTypeCancelOfferError    = "cancelOfferError"
	EventTypeDepositError        = "depositError"
	EventTypeTokenTransferError  = "tokenTransferError"
	EventTypeSendFail            = "sendFail"
	EventTypeCommitError         = "commitError"
	EventTypeClaimFail           = "claimFail"
	EventTypeCompoundFail        = "compoundFail"
	EventTypeVerifyWithdrawInit  = "verifyWithdrawInitFail"
	EventTypeVerifyWithdrawFail  = "verifyWithdrawFail"
	EventTypeVerifyReceiveFail   = "verifyReceiveFail"
	EventTypeWithdrawFail        = "withdrawFail"
	EventTypeWithdrawInvalidStep = "withdrawFailInvalidStep"
	EventTypeSetMarketFail       = "setMarketFail"
	EventTypeCloseMarketFail     = "closeMarketFail"
	EventTypeIdentityFail        = "setIdentityFail"
	EventTypeWhitelistFail       = "whitelistFail"
	EventTypeBlacklistFail       = "blacklistFail"
	EventTypeReclaimFail         = "reclaimFail"
	EventTypeAdminFail           = "adminFail"
	EventTypeAphNotifyFail       = "aphNotifyFail"
)

type exchangeEvent struct {
	evt *types.Event
}

func (e exchangeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e exchangeEvent) Event() *types.Event { return e.evt }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hexString(b []byte) string { return hex.EncodeToString(b) }

func newOfferCreatedEvent(id [32]byte, o *Offer) *types.Event {
	return types.NewEvent(EventTypeOfferCreated).
		With("offerId", hexString(id[:])).
		With("creator", o.Creator.String()).
		With("assetToBuy", o.AssetToBuy.String()).
		With("quantityToBuy", amountString(o.QuantityToBuy)).
		With("assetToSell", o.AssetToSell.String()).
		With("quantityToSell", amountString(o.QuantityToSell))
}

func newOfferAcceptedEvent(taker types.Address, id [32]byte, o *Offer, fee *big.Int) *types.Event {
	return types.NewEvent(EventTypeOfferAccepted).
		With("taker", taker.String()).
		With("offerId", hexString(id[:])).
		With("remainingToBuy", amountString(o.QuantityToBuy)).
		With("remainingToSell", amountString(o.QuantityToSell)).
		With("fee", amountString(fee))
}

func newBalanceEvent(typ string, user types.Address, asset types.AssetRef, amount *big.Int) *types.Event {
	return types.NewEvent(typ).
		With("address", user.String()).
		With("asset", asset.String()).
		With("amount", amountString(amount))
}

func newContributionEvent(typ string, c *Contribution) *types.Event {
	return types.NewEvent(typ).
		With("address", c.User.String()).
		With("units", amountString(c.UnitsContributed)).
		With("contributionHeight", new(big.Int).SetUint64(c.ContributionHeight).String()).
		With("compoundHeight", new(big.Int).SetUint64(c.CompoundHeight).String()).
		With("feesSnapshot", amountString(c.FeesCollectedSnapshot)).
		With("feeUnitsSnapshot", amountString(c.FeeUnitsSnapshot))
}

func newMarketEvent(m *Market) *types.Event {
	return types.NewEvent(EventTypeMarketSet).
		With("quote", m.QuoteAsset.String()).
		With("base", m.BaseAsset.String()).
		With("minimumSize", amountString(m.MinimumSize)).
		With("minimumTickSize", amountString(m.MinimumTickSize)).
		With("buyFeePercent", amountString(m.BuyFeePercent)).
		With("sellFeePercent", amountString(m.SellFeePercent))
}
