package exchange

import (
	"bytes"
	"math/big"
	"strconv"

	"aphdex/core/types"
)

func (e *Engine) setRole(operation, eventType string, key []byte, addr types.Address) (err error) {
	defer e.report(EventTypeAdminFail, &err)

	ok, err := e.verifyOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAdminFail, "no permission").With("operation", operation)
	}
	if err := e.put(key, addr.Bytes()); err != nil {
		return err
	}
	e.emit(types.NewEvent(eventType).With("address", addr.String()))
	return nil
}

// SetOwner hands the contract to a new owner. Owner only.
func (e *Engine) SetOwner(addr types.Address) error {
	return e.setRole("setOwner", EventTypeSetOwner, keyOwner, addr)
}

// SetManager is owner only.
func (e *Engine) SetManager(addr types.Address) error {
	return e.setRole("setManager", EventTypeSetManager, keyManager, addr)
}

// SetWhitelister is owner only.
func (e *Engine) SetWhitelister(addr types.Address) error {
	return e.setRole("setWhitelister", EventTypeSetWhitelister, keyWhitelister, addr)
}

// SetFeeRedistributionPercentage stores the contributor share of fees.
// Zero restores the default.
func (e *Engine) SetFeeRedistributionPercentage(pct *big.Int) (err error) {
	defer e.report(EventTypeAdminFail, &err)

	ok, err := e.verifyOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAdminFail, "no permission").
			With("operation", "setFeeRedistributionPercentage")
	}
	if pct == nil || pct.Sign() < 0 || pct.Cmp(big.NewInt(100)) > 0 {
		return newError(KindValidation, EventTypeAdminFail, "percentage must be within 0..100").
			With("operation", "setFeeRedistributionPercentage").
			With("percentage", amountString(pct))
	}
	if err := e.putInt(keyFeeRedistributionPct, pct); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSetFeeRedistribution).With("percentage", pct.String()))
	return nil
}

// SetClaimMinimumBlocks is owner or manager. Zero restores the default.
func (e *Engine) SetClaimMinimumBlocks(blocks uint64) (err error) {
	defer e.report(EventTypeAdminFail, &err)

	ok, err := e.verifyOwnerOrManager()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAdminFail, "no permission").With("operation", "setClaimMinimumBlocks")
	}
	if err := e.putInt(keyClaimMinimumBlocks, new(big.Int).SetUint64(blocks)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSetClaimMinimumBlocks).With("blocks", strconv.FormatUint(blocks, 10)))
	return nil
}

// Identity loads the identity record stored under hash.
func (e *Engine) Identity(hash [32]byte) (*UserIdentity, bool, error) {
	raw, err := e.get(identityKey(hash))
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	id, err := decodeIdentity(raw)
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// AddIdentity binds an identity hash to an address. Moving an identity to a
// new address de-whitelists the old one.
func (e *Engine) AddIdentity(hash [32]byte, identity UserIdentity) (err error) {
	const tag = EventTypeIdentityFail
	defer e.report(tag, &err)

	whitelister, err := e.Whitelister()
	if err != nil {
		return err
	}
	if !e.checkWitness(whitelister) {
		return newError(KindAuthorization, tag, "no permission")
	}
	for _, info := range [][]byte{identity.HashInfo1, identity.HashInfo2} {
		if len(info) != 0 && len(info) != 32 {
			return newError(KindValidation, tag, "info hash must be empty or 32 bytes").With("length", strconv.Itoa(len(info)))
		}
	}
	existing, ok, err := e.Identity(hash)
	if err != nil {
		return err
	}
	if ok && existing.Address != identity.Address {
		if err := e.del(whitelistKey(existing.Address)); err != nil {
			return err
		}
	}
	raw, err := encodeIdentity(&identity)
	if err != nil {
		return err
	}
	if err := e.put(identityKey(hash), raw); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSetIdentity).
		With("identity", hexString(hash[:])).
		With("hashInfo1", hexString(identity.HashInfo1)).
		With("hashInfo2", hexString(identity.HashInfo2)).
		With("address", identity.Address.String()).
		With("misc", hexString(identity.MiscUserInfo)))
	return nil
}

func (e *Engine) verifyWhitelisterOrOwner() (bool, error) {
	return e.verifyAny(e.verifyWhitelister, e.verifyOwner)
}

// WhitelistAddress admits addr under an existing identity bound to it.
func (e *Engine) WhitelistAddress(addr types.Address, hash [32]byte) (err error) {
	const tag = EventTypeWhitelistFail
	defer e.report(tag, &err)

	ok, err := e.verifyWhitelisterOrOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, tag, "no permission")
	}
	identity, found, err := e.Identity(hash)
	if err != nil {
		return err
	}
	if !found {
		return newError(KindValidation, tag, "missing identity").With("identity", hexString(hash[:]))
	}
	if identity.Address != addr {
		return newError(KindValidation, tag, "address mismatch").
			With("identity", hexString(hash[:])).
			withAddress("address", addr).
			withAddress("bound", identity.Address)
	}
	current, err := e.get(whitelistKey(addr))
	if err != nil {
		return err
	}
	if len(current) != 0 {
		if !bytes.Equal(current, hash[:]) {
			return newError(KindValidation, tag, "already whitelisted").
				With("identity", hexString(hash[:])).
				withAddress("address", addr)
		}
	} else if err := e.put(whitelistKey(addr), hash[:]); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeWhitelisted).
		With("address", addr.String()).
		With("identity", hexString(hash[:])))
	return nil
}

// BlacklistAddress removes addr from the whitelist.
func (e *Engine) BlacklistAddress(addr types.Address) (err error) {
	defer e.report(EventTypeBlacklistFail, &err)

	ok, err := e.verifyWhitelisterOrOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeBlacklistFail, "no permission")
	}
	if err := e.del(whitelistKey(addr)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeBlacklisted).With("address", addr.String()))
	return nil
}

// Custody is what the contract actually holds of asset.
func (e *Engine) Custody(asset types.AssetRef) (*big.Int, error) {
	if asset.IsExternal() {
		client, err := e.token(asset)
		if err != nil {
			return nil, err
		}
		return client.BalanceOf(e.params.Contract)
	}
	id, ok := asset.NativeID()
	if !ok {
		return nil, errNotPullable
	}
	if e.native == nil {
		return nil, errNilChain
	}
	return e.native.Balance(id, e.params.Contract)
}

// ReclaimOrphanFunds credits the owner with custody the exchange does not
// track. Any accounting drift is absorbed the same way, so the result is only
// as trustworthy as the operator.
func (e *Engine) ReclaimOrphanFunds(asset types.AssetRef) (orphaned *big.Int, err error) {
	const tag = EventTypeReclaimFail
	defer e.report(tag, &err)

	ok, err := e.verifyOwner()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindAuthorization, tag, "no permission")
	}
	if asset.IsZero() {
		return nil, newError(KindValidation, tag, "invalid asset length")
	}
	custody, err := e.Custody(asset)
	if err != nil {
		return nil, err
	}
	tracked, err := e.TrackedTotal(asset)
	if err != nil {
		return nil, err
	}
	orphaned = new(big.Int).Sub(custody, tracked)
	if orphaned.Sign() <= 0 {
		return nil, newError(KindValidation, tag, "nothing to reclaim").With("orphaned", orphaned.String())
	}
	if err := e.adjustTrackedTotal(asset, orphaned); err != nil {
		return nil, err
	}
	owner, err := e.Owner()
	if err != nil {
		return nil, err
	}
	balance, err := e.Balance(asset, owner)
	if err != nil {
		return nil, err
	}
	if err := e.setBalanceForWithdrawal(asset, owner, balance.Add(balance, orphaned)); err != nil {
		return nil, err
	}
	e.emit(types.NewEvent(EventTypeReclaimedOrphanFunds).
		With("asset", asset.String()).
		With("amount", orphaned.String()))
	return orphaned, nil
}

// AphNotify lets the owner publish arbitrary values on the event stream.
func (e *Engine) AphNotify(values []string) (err error) {
	defer e.report(EventTypeAphNotifyFail, &err)

	ok, err := e.verifyOwner()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, EventTypeAphNotifyFail, "no permission")
	}
	evt := types.NewEvent(EventTypeAphNotify)
	for i, v := range values {
		evt.With(strconv.Itoa(i), v)
	}
	e.emit(evt)
	return nil
}
