package exchange

import (
	"math/big"

	"aphdex/core/types"
)

// FeePool returns the pool record; a missing record reads as zeroes.
func (e *Engine) FeePool() (*FeePool, error) {
	raw, err := e.get(feePoolKey(e.params.ReferenceAsset))
	if err != nil {
		return nil, err
	}
	return decodeFeePool(raw), nil
}

func (e *Engine) putFeePool(p *FeePool) error {
	raw, err := encodeFeePool(p)
	if err != nil {
		return err
	}
	return e.put(feePoolKey(e.params.ReferenceAsset), raw)
}

// Sums returns the contribution accumulator.
func (e *Engine) Sums() (*ContributionSums, error) {
	raw, err := e.get(contributionSumsKey(e.params.ReferenceAsset))
	if err != nil {
		return nil, err
	}
	return decodeContributionSums(raw), nil
}

func (e *Engine) putSums(s *ContributionSums) error {
	raw, err := encodeContributionSums(s)
	if err != nil {
		return err
	}
	return e.put(contributionSumsKey(e.params.ReferenceAsset), raw)
}

// FeeRedistributionPercent is the share of each fee routed to contributors.
func (e *Engine) FeeRedistributionPercent() (*big.Int, error) {
	pct, err := e.getInt(keyFeeRedistributionPct)
	if err != nil {
		return nil, err
	}
	if pct.Sign() == 0 {
		return big.NewInt(e.params.DefaultFeeRedistributionPercent), nil
	}
	return pct, nil
}

// ClaimMinimumBlocks is the dwell time before fees are paid out.
func (e *Engine) ClaimMinimumBlocks() (uint64, error) {
	blocks, err := e.getInt(keyClaimMinimumBlocks)
	if err != nil {
		return 0, err
	}
	if blocks.Sign() <= 0 {
		return e.params.DefaultClaimMinimumBlocks, nil
	}
	if !blocks.IsUint64() {
		return ^uint64(0), nil
	}
	return blocks.Uint64(), nil
}

// FeeCollected splits amount between the redistribution pool and the
// operator.
func (e *Engine) FeeCollected(amount *big.Int) error {
	pct, err := e.FeeRedistributionPercent()
	if err != nil {
		return err
	}
	toPool := new(big.Int).Mul(amount, pct)
	toPool.Quo(toPool, big.NewInt(100))
	toOwner := new(big.Int).Sub(amount, toPool)

	pool, err := e.FeePool()
	if err != nil {
		return err
	}
	pool.Pool.Add(pool.Pool, toPool)
	pool.Owner.Add(pool.Owner, toOwner)
	return e.putFeePool(pool)
}

// updateTotalFeeUnits integrates the units contributed over the fees
// collected since the last snapshot. It reports whether sums changed.
func updateTotalFeeUnits(totalFees *big.Int, sums *ContributionSums) (*big.Int, bool) {
	if sums.LastAppliedFeeSnapshot.Cmp(totalFees) >= 0 {
		return nil, false
	}
	since := new(big.Int).Sub(totalFees, sums.LastAppliedFeeSnapshot)
	feeUnits := new(big.Int).Mul(sums.TotalUnitsContributed, since)
	sums.TotalFeeUnits = new(big.Int).Add(sums.TotalFeeUnits, feeUnits)
	sums.LastAppliedFeeSnapshot = cloneBigInt(totalFees)
	return feeUnits, true
}

func (e *Engine) applyFeeUnits(totalFees *big.Int, sums *ContributionSums) {
	feeUnits, ok := updateTotalFeeUnits(totalFees, sums)
	if !ok {
		return
	}
	e.emit(types.NewEvent(EventTypeUpdateTotalFeeUnits).
		With("totalFeeUnits", amountString(sums.TotalFeeUnits)).
		With("feeUnits", amountString(feeUnits)).
		With("totalUnitsContributed", amountString(sums.TotalUnitsContributed)).
		With("totalFeesCollected", amountString(totalFees)))
}

// availableToClaim weighs the contribution's fee units against all fee
// units accrued during its membership.
func availableToClaim(c *Contribution, totalFees *big.Int, sums *ContributionSums) *big.Int {
	feesDuring := new(big.Int).Sub(totalFees, c.FeesCollectedSnapshot)
	if feesDuring.Sign() <= 0 {
		return new(big.Int)
	}
	weight := new(big.Int).Mul(c.UnitsContributed, feesDuring)
	feeUnitsDuring := new(big.Int).Sub(sums.TotalFeeUnits, c.FeeUnitsSnapshot)
	if feeUnitsDuring.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(feesDuring, weight)
	return out.Quo(out, feeUnitsDuring)
}

// ContributionOf returns the open contribution of user, if any.
func (e *Engine) ContributionOf(user types.Address) (*Contribution, bool, error) {
	raw, err := e.get(contributionKey(e.params.ReferenceAsset, user))
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	c, err := decodeContribution(raw)
	if err != nil {
		return nil, false, err
	}
	if c.UnitsContributed.Sign() <= 0 {
		return nil, false, nil
	}
	return c, true, nil
}

func (e *Engine) putContribution(c *Contribution) error {
	raw, err := encodeContribution(c)
	if err != nil {
		return err
	}
	return e.put(contributionKey(e.params.ReferenceAsset, c.User), raw)
}

func (e *Engine) deleteContribution(user types.Address) error {
	return e.del(contributionKey(e.params.ReferenceAsset, user))
}

// Contributed returns the units user has committed, zero if none.
func (e *Engine) Contributed(user types.Address) (*big.Int, error) {
	c, ok, err := e.ContributionOf(user)
	if err != nil || !ok {
		return new(big.Int), err
	}
	return c.UnitsContributed, nil
}

// AvailableToClaim previews the fees user could claim now. Pending fee units
// are integrated in memory only.
func (e *Engine) AvailableToClaim(user types.Address) (*big.Int, error) {
	c, ok, err := e.ContributionOf(user)
	if err != nil || !ok {
		return new(big.Int), err
	}
	pool, err := e.FeePool()
	if err != nil {
		return nil, err
	}
	sums, err := e.Sums()
	if err != nil {
		return nil, err
	}
	updateTotalFeeUnits(pool.Pool, sums)
	return availableToClaim(c, pool.Pool, sums), nil
}

// Commit locks quantity of the reference asset into the pool.
func (e *Engine) Commit(sender types.Address, quantity *big.Int) (err error) {
	defer e.report(EventTypeCommitError, &err)

	isOwner, err := e.verifyOwner()
	if err != nil {
		return err
	}
	if isOwner {
		return newError(KindAuthorization, EventTypeCommitError, "owner can't commit").withAddress("address", sender)
	}
	existing, ok, err := e.ContributionOf(sender)
	if err != nil {
		return err
	}
	if ok {
		return newError(KindValidation, EventTypeCommitError, "already committed, claim first").
			withAddress("address", sender).
			With("units", amountString(existing.UnitsContributed))
	}

	if !positive(quantity) {
		return newError(KindValidation, EventTypeCommitError, "quantity must be positive").
			withAddress("address", sender).
			With("quantity", amountString(quantity))
	}

	pool, err := e.FeePool()
	if err != nil {
		return err
	}
	sums, err := e.Sums()
	if err != nil {
		return err
	}
	e.applyFeeUnits(pool.Pool, sums)

	if err := e.reduceStrict(e.params.ReferenceAsset, sender, quantity); err != nil {
		return fundsError(EventTypeCommitError, "insufficient balance", err)
	}

	sums.TotalUnitsContributed = new(big.Int).Add(sums.TotalUnitsContributed, quantity)
	if err := e.putSums(sums); err != nil {
		return err
	}
	height := e.height()
	c := &Contribution{
		User:                  sender,
		UnitsContributed:      cloneBigInt(quantity),
		ContributionHeight:    height,
		CompoundHeight:        height,
		FeesCollectedSnapshot: cloneBigInt(pool.Pool),
		FeeUnitsSnapshot:      cloneBigInt(sums.TotalFeeUnits),
	}
	if err := e.putContribution(c); err != nil {
		return err
	}
	e.emit(newContributionEvent(EventTypeContributed, c))
	return nil
}

// onBehalf resolves the contribution holder: the listed roles act for the
// address carried in the withdraw address attribute.
func (e *Engine) onBehalf(sender types.Address, roles ...func() (types.Address, error)) (types.Address, error) {
	for _, role := range roles {
		addr, err := role()
		if err != nil {
			return types.Address{}, err
		}
		if addr != sender {
			continue
		}
		tx, err := e.transaction()
		if err != nil {
			return types.Address{}, err
		}
		req := ParseSignatureRequest(tx, e.params.NEO)
		return req.Address, nil
	}
	return sender, nil
}

// Claim closes the contribution and pays principal plus fees. Claims inside
// the dwell time forfeit the fees to the operator.
func (e *Engine) Claim(sender types.Address) (paid *big.Int, err error) {
	defer e.report(EventTypeClaimFail, &err)

	user, err := e.onBehalf(sender, e.Manager)
	if err != nil {
		return nil, err
	}
	c, ok, err := e.ContributionOf(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindValidation, EventTypeClaimFail, "no quantity committed").withAddress("address", user)
	}

	pool, err := e.FeePool()
	if err != nil {
		return nil, err
	}
	sums, err := e.Sums()
	if err != nil {
		return nil, err
	}
	e.applyFeeUnits(pool.Pool, sums)
	claimable := availableToClaim(c, pool.Pool, sums)

	if err := e.deleteContribution(user); err != nil {
		return nil, err
	}
	sums.TotalUnitsContributed = new(big.Int).Sub(sums.TotalUnitsContributed, c.UnitsContributed)
	if err := e.putSums(sums); err != nil {
		return nil, err
	}

	minBlocks, err := e.ClaimMinimumBlocks()
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(c.UnitsContributed)
	if dwellElapsed(c.ContributionHeight, minBlocks, e.height()) {
		amount.Add(amount, claimable)
	} else {
		e.emit(types.NewEvent(EventTypeClaimFeesWentToOwner).
			With("reason", "less than minimum blocks since commit").
			With("address", user.String()).
			With("amount", amountString(claimable)))
		pool.Owner.Add(pool.Owner, claimable)
		if err := e.putFeePool(pool); err != nil {
			return nil, err
		}
	}

	if err := e.sendExternal(e.params.ReferenceAsset, user, amount); err != nil {
		return nil, fundsError(EventTypeClaimFail, "transfer failed", err)
	}
	e.emit(types.NewEvent(EventTypeClaimed).
		With("address", user.String()).
		With("amount", amountString(amount)))
	return amount, nil
}

// dwellElapsed reports start + minBlocks <= height without overflowing.
func dwellElapsed(start, minBlocks, height uint64) bool {
	if height < start {
		return false
	}
	return height-start >= minBlocks
}

// Compound reinvests the claimable fees into the contribution.
func (e *Engine) Compound(sender types.Address) (err error) {
	defer e.report(EventTypeCompoundFail, &err)

	user, err := e.onBehalf(sender, e.Whitelister, e.Manager)
	if err != nil {
		return err
	}
	c, ok, err := e.ContributionOf(user)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindValidation, EventTypeCompoundFail, "no quantity committed").withAddress("address", user)
	}
	minBlocks, err := e.ClaimMinimumBlocks()
	if err != nil {
		return err
	}
	height := e.height()
	if !dwellElapsed(c.CompoundHeight, minBlocks, height) {
		return newError(KindInvariant, EventTypeCompoundFail, "not yet eligible to compound").
			withAddress("address", user).
			With("compoundHeight", new(big.Int).SetUint64(c.CompoundHeight).String()).
			With("minimumBlocks", new(big.Int).SetUint64(minBlocks).String()).
			With("height", new(big.Int).SetUint64(height).String())
	}

	pool, err := e.FeePool()
	if err != nil {
		return err
	}
	sums, err := e.Sums()
	if err != nil {
		return err
	}
	e.applyFeeUnits(pool.Pool, sums)
	claimable := availableToClaim(c, pool.Pool, sums)

	c.CompoundHeight = height
	c.UnitsContributed = new(big.Int).Add(c.UnitsContributed, claimable)
	sums.TotalUnitsContributed = new(big.Int).Add(sums.TotalUnitsContributed, claimable)
	c.FeesCollectedSnapshot = cloneBigInt(pool.Pool)
	c.FeeUnitsSnapshot = cloneBigInt(sums.TotalFeeUnits)

	if err := e.putSums(sums); err != nil {
		return err
	}
	if err := e.putContribution(c); err != nil {
		return err
	}
	e.emit(newContributionEvent(EventTypeCompound, c))
	return nil
}
