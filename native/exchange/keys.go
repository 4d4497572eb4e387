package exchange

import (
	"aphdex/core/types"
	"aphdex/native/common"
)

var (
	prefixOffers         = []byte{0x0F, 0xFE, 0x75, 0x0F, 0xFE, 0x75}
	prefixAssetSettings  = []byte{0x5E, 0x77, 0x12, 0x95}
	prefixWhitelist      = []byte("WL")
	prefixUserIdentity   = []byte("UI")
	prefixMarkets        = []byte("markets")
	prefixConversionRate = []byte("baserate")

	postfixWithdrawing  = []byte{0xB0}
	postfixTrackedTotal = []byte{0xBA}
	postfixContributed  = []byte{0xD0}
	postfixFeePool      = []byte{0xFC}
	postfixSums         = []byte{0xFA}

	keyOwner                = []byte("owner")
	keyManager              = []byte("manager")
	keyWhitelister          = []byte("whitelister")
	keyFeeRedistributionPct = []byte("feeRedistributionPercentage")
	keyClaimMinimumBlocks   = []byte("claimMinimumBlocks")
)

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Balances carry no prefix: address || asset id.
func balanceKey(asset types.AssetRef, user types.Address) []byte {
	return concat(user[:], asset.Bytes())
}

func offerKey(id [32]byte) []byte { return concat(prefixOffers, id[:]) }

func assetSettingsKey(asset types.AssetRef) []byte {
	return concat(prefixAssetSettings, asset.Bytes())
}

func whitelistKey(user types.Address) []byte { return concat(prefixWhitelist, user[:]) }

func identityKey(hash [32]byte) []byte { return concat(prefixUserIdentity, hash[:]) }

func marketKey(quote, base types.AssetRef) []byte {
	return concat(prefixMarkets, quote.Bytes(), base.Bytes())
}

func conversionRateKey(asset types.AssetRef) []byte {
	return concat(prefixConversionRate, asset.Bytes())
}

func withdrawingKey(user types.Address, asset types.AssetRef) []byte {
	return concat(user[:], asset.Bytes(), postfixWithdrawing)
}

func trackedTotalKey(asset types.AssetRef) []byte {
	return concat(asset.Bytes(), postfixTrackedTotal)
}

func contributionKey(reference types.AssetRef, user types.Address) []byte {
	return concat(user[:], reference.Bytes(), postfixContributed)
}

func feePoolKey(reference types.AssetRef) []byte {
	return concat(reference.Bytes(), postfixFeePool)
}

func contributionSumsKey(reference types.AssetRef) []byte {
	return concat(reference.Bytes(), postfixSums)
}

func reservationKey(txHash [32]byte, index uint16) []byte {
	return concat(txHash[:], common.Uint16LE(index))
}
