package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"aphdex/core/types"
)

var (
	errInsufficientBalance = errors.New("insufficient balance")
	errNotPullable         = errors.New("native assets cannot be pulled")
	errAssetNotRegistered  = errors.New("asset has no settings")
	errTransferRejected    = errors.New("token transfer rejected")
	errWitnessRequired     = errors.New("user witness required")
)

// fundsError classifies a ledger failure for tag. Storage failures pass
// through untouched so report can mark them as such.
func fundsError(tag, reason string, err error) error {
	kind := Kind(0)
	switch {
	case errors.Is(err, errInsufficientBalance),
		errors.Is(err, errNotPullable),
		errors.Is(err, errTransferRejected):
		kind = KindInsufficientFunds
	case errors.Is(err, errAssetNotRegistered):
		kind = KindValidation
	case errors.Is(err, errWitnessRequired):
		kind = KindAuthorization
	default:
		return err
	}
	ee := newError(kind, tag, reason)
	ee.Err = err
	return ee
}

// BalanceOf reads the general balance table. It does not apply the operator
// reference-asset special case; see Balance.
func (e *Engine) BalanceOf(asset types.AssetRef, user types.Address) (*big.Int, error) {
	return e.getInt(balanceKey(asset, user))
}

func (e *Engine) setBalance(asset types.AssetRef, user types.Address, v *big.Int) error {
	if v.Sign() <= 0 {
		return e.del(balanceKey(asset, user))
	}
	return e.putInt(balanceKey(asset, user), v)
}

// increase credits amount unconditionally.
func (e *Engine) increase(asset types.AssetRef, user types.Address, amount *big.Int) error {
	balance, err := e.BalanceOf(asset, user)
	if err != nil {
		return err
	}
	return e.setBalance(asset, user, balance.Add(balance, amount))
}

// reduceNoPull debits amount or fails with errInsufficientBalance.
func (e *Engine) reduceNoPull(asset types.AssetRef, user types.Address, amount *big.Int) error {
	balance, err := e.BalanceOf(asset, user)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: have %s need %s", errInsufficientBalance, balance, amount)
	}
	return e.setBalance(asset, user, balance.Sub(balance, amount))
}

// reduceStrict debits amount. A shortfall on an external asset is pulled
// from the user's token balance, which leaves the exchange balance at zero.
// Debiting an external asset without a pull still needs the user's witness.
func (e *Engine) reduceStrict(asset types.AssetRef, user types.Address, amount *big.Int) error {
	balance, err := e.BalanceOf(asset, user)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		if !asset.IsExternal() {
			return fmt.Errorf("%w: have %s need %s", errNotPullable, balance, amount)
		}
		needed := new(big.Int).Sub(amount, balance)
		if err := e.pullExternal(asset, user, needed); err != nil {
			return err
		}
		return e.del(balanceKey(asset, user))
	}
	if asset.IsExternal() && !e.checkWitness(user) {
		return errWitnessRequired
	}
	return e.setBalance(asset, user, balance.Sub(balance, amount))
}

// AssetSettings returns the raw settings of asset, empty when unregistered.
func (e *Engine) AssetSettings(asset types.AssetRef) (AssetSettings, error) {
	raw, err := e.get(assetSettingsKey(asset))
	if err != nil {
		return nil, err
	}
	return AssetSettings(raw), nil
}

// pullExternal moves amount from the user into the contract's token
// balance and adds it to the tracked total. The token contract checks the
// user's witness.
func (e *Engine) pullExternal(asset types.AssetRef, from types.Address, amount *big.Int) error {
	settings, err := e.AssetSettings(asset)
	if err != nil {
		return err
	}
	if len(settings) == 0 {
		return errAssetNotRegistered
	}
	client, err := e.token(asset)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransferRejected, err)
	}
	var ok bool
	if settings.UsesTransferFrom() {
		ok, err = client.TransferFrom(from, e.params.Contract, amount)
	} else {
		ok, err = client.Transfer(from, e.params.Contract, amount)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errTransferRejected, err)
	}
	if !ok {
		return errTransferRejected
	}
	return e.adjustTrackedTotal(asset, amount)
}

// sendExternal pays amount out of the contract's token balance and removes
// it from the tracked total.
func (e *Engine) sendExternal(asset types.AssetRef, to types.Address, amount *big.Int) error {
	settings, err := e.AssetSettings(asset)
	if err != nil {
		return err
	}
	if len(settings) == 0 {
		return errAssetNotRegistered
	}
	client, err := e.token(asset)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransferRejected, err)
	}
	ok, err := client.Transfer(e.params.Contract, to, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransferRejected, err)
	}
	if !ok {
		return errTransferRejected
	}
	return e.adjustTrackedTotal(asset, new(big.Int).Neg(amount))
}

// TrackedTotal is the amount of asset the exchange believes it custodies on
// behalf of users.
func (e *Engine) TrackedTotal(asset types.AssetRef) (*big.Int, error) {
	return e.getInt(trackedTotalKey(asset))
}

func (e *Engine) adjustTrackedTotal(asset types.AssetRef, delta *big.Int) error {
	total, err := e.TrackedTotal(asset)
	if err != nil {
		return err
	}
	total.Add(total, delta)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return e.putInt(trackedTotalKey(asset), total)
}

func (e *Engine) isOperatorReference(asset types.AssetRef, user types.Address) (bool, error) {
	if !e.isReference(asset) {
		return false, nil
	}
	owner, err := e.Owner()
	if err != nil {
		return false, err
	}
	return owner == user, nil
}

// Balance is the withdrawal-aware balance: the operator's reference asset
// lives in the owner field of the fee pool.
func (e *Engine) Balance(asset types.AssetRef, user types.Address) (*big.Int, error) {
	operator, err := e.isOperatorReference(asset, user)
	if err != nil {
		return nil, err
	}
	if operator {
		pool, err := e.FeePool()
		if err != nil {
			return nil, err
		}
		return pool.Owner, nil
	}
	return e.BalanceOf(asset, user)
}

// setBalanceForWithdrawal mirrors Balance. Negative values clamp to zero.
func (e *Engine) setBalanceForWithdrawal(asset types.AssetRef, user types.Address, v *big.Int) error {
	operator, err := e.isOperatorReference(asset, user)
	if err != nil {
		return err
	}
	if operator {
		pool, err := e.FeePool()
		if err != nil {
			return err
		}
		pool.Owner = cloneBigInt(v)
		if pool.Owner.Sign() < 0 {
			pool.Owner.SetInt64(0)
		}
		return e.putFeePool(pool)
	}
	return e.setBalance(asset, user, v)
}
