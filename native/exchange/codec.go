package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"aphdex/core/types"
	"aphdex/native/common"
)

const (
	feePoolSize          = 16
	contributionSumsSize = 8 + 16 + 16
	contributionSize     = types.AddressLength + 8*4 + 16
)

var errCorruptRecord = errors.New("exchange: corrupt record")

func encodeInt(v *big.Int) []byte { return common.EncodeInt(v) }
func decodeInt(b []byte) *big.Int { return common.DecodeInt(b) }

// Integers travel as signed little-endian byte strings inside RLP lists so
// that records keep the contract's numeric encoding.
type offerRecord struct {
	Creator        [20]byte
	AssetToBuy     []byte
	QuantityToBuy  []byte
	AssetToSell    []byte
	QuantityToSell []byte
	Nonce          []byte
}

func encodeOffer(o *Offer) ([]byte, error) {
	rec := offerRecord{
		Creator:        o.Creator,
		AssetToBuy:     o.AssetToBuy.Bytes(),
		QuantityToBuy:  encodeInt(o.QuantityToBuy),
		AssetToSell:    o.AssetToSell.Bytes(),
		QuantityToSell: encodeInt(o.QuantityToSell),
		Nonce:          encodeInt(o.Nonce),
	}
	return rlp.EncodeToBytes(&rec)
}

func decodeOffer(raw []byte) (*Offer, error) {
	var rec offerRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: offer: %v", errCorruptRecord, err)
	}
	buy, err := types.ParseAssetRef(rec.AssetToBuy)
	if err != nil {
		return nil, fmt.Errorf("%w: offer buy asset: %v", errCorruptRecord, err)
	}
	sell, err := types.ParseAssetRef(rec.AssetToSell)
	if err != nil {
		return nil, fmt.Errorf("%w: offer sell asset: %v", errCorruptRecord, err)
	}
	return &Offer{
		Creator:        rec.Creator,
		AssetToBuy:     buy,
		QuantityToBuy:  decodeInt(rec.QuantityToBuy),
		AssetToSell:    sell,
		QuantityToSell: decodeInt(rec.QuantityToSell),
		Nonce:          decodeInt(rec.Nonce),
	}, nil
}

// OfferID is the Hash256 of the offer's serialized form at creation.
func OfferID(o *Offer) ([32]byte, error) {
	raw, err := encodeOffer(o)
	if err != nil {
		return [32]byte{}, err
	}
	return types.Hash256(raw), nil
}

type marketRecord struct {
	QuoteAsset      []byte
	BaseAsset       []byte
	MinimumSize     []byte
	MinimumTickSize []byte
	BuyFeePercent   []byte
	SellFeePercent  []byte
}

func encodeMarket(m *Market) ([]byte, error) {
	return rlp.EncodeToBytes(&marketRecord{
		QuoteAsset:      m.QuoteAsset.Bytes(),
		BaseAsset:       m.BaseAsset.Bytes(),
		MinimumSize:     encodeInt(m.MinimumSize),
		MinimumTickSize: encodeInt(m.MinimumTickSize),
		BuyFeePercent:   encodeInt(m.BuyFeePercent),
		SellFeePercent:  encodeInt(m.SellFeePercent),
	})
}

func decodeMarket(raw []byte) (*Market, error) {
	var rec marketRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: market: %v", errCorruptRecord, err)
	}
	quote, err := types.ParseAssetRef(rec.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: market quote: %v", errCorruptRecord, err)
	}
	base, err := types.ParseAssetRef(rec.BaseAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: market base: %v", errCorruptRecord, err)
	}
	return &Market{
		QuoteAsset:      quote,
		BaseAsset:       base,
		MinimumSize:     decodeInt(rec.MinimumSize),
		MinimumTickSize: decodeInt(rec.MinimumTickSize),
		BuyFeePercent:   decodeInt(rec.BuyFeePercent),
		SellFeePercent:  decodeInt(rec.SellFeePercent),
	}, nil
}

type identityRecord struct {
	HashInfo1    []byte
	HashInfo2    []byte
	Address      [20]byte
	MiscUserInfo []byte
}

func encodeIdentity(id *UserIdentity) ([]byte, error) {
	return rlp.EncodeToBytes(&identityRecord{
		HashInfo1:    id.HashInfo1,
		HashInfo2:    id.HashInfo2,
		Address:      id.Address,
		MiscUserInfo: id.MiscUserInfo,
	})
}

func decodeIdentity(raw []byte) (*UserIdentity, error) {
	var rec identityRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: identity: %v", errCorruptRecord, err)
	}
	return &UserIdentity{
		HashInfo1:    rec.HashInfo1,
		HashInfo2:    rec.HashInfo2,
		Address:      rec.Address,
		MiscUserInfo: rec.MiscUserInfo,
	}, nil
}

// Fee pool: pool[0:8] || owner[8:16].
func encodeFeePool(p *FeePool) ([]byte, error) {
	pool, err := common.EncodeFixed(p.Pool, common.Width8)
	if err != nil {
		return nil, fmt.Errorf("fee pool: %w", err)
	}
	owner, err := common.EncodeFixed(p.Owner, common.Width8)
	if err != nil {
		return nil, fmt.Errorf("fee pool owner: %w", err)
	}
	return concat(pool, owner), nil
}

func decodeFeePool(raw []byte) *FeePool {
	return &FeePool{
		Pool:  common.DecodeFixed(raw, 0, common.Width8),
		Owner: common.DecodeFixed(raw, 8, common.Width8),
	}
}

// Contribution sums: units[0:8] || lastSnapshot[8:24] || feeUnits[24:40].
func encodeContributionSums(s *ContributionSums) ([]byte, error) {
	units, err := common.EncodeFixed(s.TotalUnitsContributed, common.Width8)
	if err != nil {
		return nil, fmt.Errorf("contribution sums units: %w", err)
	}
	snapshot, err := common.EncodeFixed(s.LastAppliedFeeSnapshot, common.Width16)
	if err != nil {
		return nil, fmt.Errorf("contribution sums snapshot: %w", err)
	}
	feeUnits, err := common.EncodeFixed(s.TotalFeeUnits, common.Width16)
	if err != nil {
		return nil, fmt.Errorf("contribution sums fee units: %w", err)
	}
	return concat(units, snapshot, feeUnits), nil
}

func decodeContributionSums(raw []byte) *ContributionSums {
	return &ContributionSums{
		TotalUnitsContributed:  common.DecodeFixed(raw, 0, common.Width8),
		LastAppliedFeeSnapshot: common.DecodeFixed(raw, 8, common.Width16),
		TotalFeeUnits:          common.DecodeFixed(raw, 24, common.Width16),
	}
}

// Contribution: address[0:20] || units || contributionHeight || compoundHeight
// || feesSnapshot (8 bytes each) || feeUnitsSnapshot (16 bytes).
func encodeContribution(c *Contribution) ([]byte, error) {
	fields := []struct {
		v     *big.Int
		width int
	}{
		{c.UnitsContributed, common.Width8},
		{new(big.Int).SetUint64(c.ContributionHeight), common.Width8},
		{new(big.Int).SetUint64(c.CompoundHeight), common.Width8},
		{c.FeesCollectedSnapshot, common.Width8},
		{c.FeeUnitsSnapshot, common.Width16},
	}
	out := make([]byte, 0, contributionSize)
	out = append(out, c.User[:]...)
	for _, f := range fields {
		enc, err := common.EncodeFixed(f.v, f.width)
		if err != nil {
			return nil, fmt.Errorf("contribution: %w", err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

func decodeContribution(raw []byte) (*Contribution, error) {
	if len(raw) != contributionSize {
		return nil, fmt.Errorf("%w: contribution length %d", errCorruptRecord, len(raw))
	}
	var user types.Address
	copy(user[:], raw[:20])
	return &Contribution{
		User:                  user,
		UnitsContributed:      common.DecodeFixed(raw, 20, common.Width8),
		ContributionHeight:    common.DecodeFixed(raw, 28, common.Width8).Uint64(),
		CompoundHeight:        common.DecodeFixed(raw, 36, common.Width8).Uint64(),
		FeesCollectedSnapshot: common.DecodeFixed(raw, 44, common.Width8),
		FeeUnitsSnapshot:      common.DecodeFixed(raw, 52, common.Width16),
	}, nil
}
