package exchange

import (
	"math/big"

	"aphdex/core/types"
)

// One is the fixed-point scale of prices, rates and fee percentages.
var One = big.NewInt(100000000)

const (
	DefaultFeeRedistributionPercent = 80
	DefaultClaimMinimumBlocks       = 4800
	DefaultMaxAttributes            = 25
	DefaultMaxReferences            = 100
	// SenderAttributeUsage marks an additional verifying script hash.
	SenderAttributeUsage byte = 0x20
)

// DefaultMaxWithdrawFee caps the per-asset withdraw fee, in reference asset
// units.
var DefaultMaxWithdrawFee = big.NewInt(10000000000)

// NEO and GAS system asset ids.
var (
	NEOAssetID = [32]byte{155, 124, 255, 218, 166, 116, 190, 174, 15, 147, 14, 190, 96, 133, 175, 144, 147, 229, 254, 86, 179, 74, 92, 34, 12, 205, 207, 110, 252, 51, 111, 197}
	GASAssetID = [32]byte{231, 45, 40, 105, 121, 238, 108, 177, 183, 230, 93, 253, 223, 178, 227, 132, 16, 11, 141, 20, 142, 119, 88, 222, 66, 228, 22, 139, 113, 121, 44, 96}
)

// Params are the deployment constants of one exchange contract.
type Params struct {
	Contract       types.Address
	DefaultOwner   types.Address
	ReferenceAsset types.AssetRef
	NEO            types.AssetRef
	GAS            types.AssetRef

	DefaultFeeRedistributionPercent int64
	DefaultClaimMinimumBlocks       uint64
	MaxAttributes                   int
	MaxReferences                   int
	MaxWithdrawFee                  *big.Int
}

// DefaultParams fills every tunable with its default. Contract, owner and the
// reference asset are deployment specific and left for the caller.
func DefaultParams() Params {
	return Params{
		NEO:                             types.NativeAsset(NEOAssetID),
		GAS:                             types.NativeAsset(GASAssetID),
		DefaultFeeRedistributionPercent: DefaultFeeRedistributionPercent,
		DefaultClaimMinimumBlocks:       DefaultClaimMinimumBlocks,
		MaxAttributes:                   DefaultMaxAttributes,
		MaxReferences:                   DefaultMaxReferences,
		MaxWithdrawFee:                  new(big.Int).Set(DefaultMaxWithdrawFee),
	}
}

// Offer is a standing order escrowed against its creator's balance.
type Offer struct {
	Creator        types.Address
	AssetToBuy     types.AssetRef
	QuantityToBuy  *big.Int
	AssetToSell    types.AssetRef
	QuantityToSell *big.Int
	Nonce          *big.Int
}

// Clone returns a deep copy.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	out := *o
	out.QuantityToBuy = cloneBigInt(o.QuantityToBuy)
	out.QuantityToSell = cloneBigInt(o.QuantityToSell)
	out.Nonce = cloneBigInt(o.Nonce)
	return &out
}

// Market is a configured trading pair. Fee percentages carry 8 decimals.
type Market struct {
	QuoteAsset      types.AssetRef
	BaseAsset       types.AssetRef
	MinimumSize     *big.Int
	MinimumTickSize *big.Int
	BuyFeePercent   *big.Int
	SellFeePercent  *big.Int
}

// UserIdentity binds an identity hash to an address.
type UserIdentity struct {
	HashInfo1    []byte
	HashInfo2    []byte
	Address      types.Address
	MiscUserInfo []byte
}

// AssetSettings is the raw per-asset configuration. Byte 0 selects the pull
// method; bytes 1..8 hold the withdraw fee.
type AssetSettings []byte

// TransferTypeNEP5Extensions selects transferFrom when pulling tokens.
const TransferTypeNEP5Extensions byte = 0x01

func (s AssetSettings) UsesTransferFrom() bool {
	return len(s) > 0 && s[0] == TransferTypeNEP5Extensions
}

// WithdrawFee is zero unless the settings carry the full 8-byte fee field.
func (s AssetSettings) WithdrawFee() *big.Int {
	if len(s) <= 8 {
		return new(big.Int)
	}
	return decodeInt(s[1:9])
}

// Contribution is one user's stake in the fee redistribution pool.
type Contribution struct {
	User                  types.Address
	UnitsContributed      *big.Int
	ContributionHeight    uint64
	CompoundHeight        uint64
	FeesCollectedSnapshot *big.Int
	FeeUnitsSnapshot      *big.Int
}

// ContributionSums is the singleton accumulator of the pool.
type ContributionSums struct {
	TotalUnitsContributed  *big.Int
	LastAppliedFeeSnapshot *big.Int
	TotalFeeUnits          *big.Int
}

func (s *ContributionSums) Clone() *ContributionSums {
	return &ContributionSums{
		TotalUnitsContributed:  cloneBigInt(s.TotalUnitsContributed),
		LastAppliedFeeSnapshot: cloneBigInt(s.LastAppliedFeeSnapshot),
		TotalFeeUnits:          cloneBigInt(s.TotalFeeUnits),
	}
}

// FeePool holds the running total of redistributable fees and the operator's
// reference asset balance.
type FeePool struct {
	Pool  *big.Int
	Owner *big.Int
}

// Captured reports system assets sent to the contract by the sender.
type Captured struct {
	NEO *big.Int
	GAS *big.Int
}

// AcceptResult describes a settled or redirected accept.
type AcceptResult struct {
	OfferID          [32]byte
	Created          bool
	QuantityGiven    *big.Int
	QuantityReceived *big.Int
	Fee              *big.Int
	RemainingToBuy   *big.Int
	RemainingToSell  *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
