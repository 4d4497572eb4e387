package exchange

import (
	"math/big"

	"aphdex/core/types"
)

// CaptureSystemAssets credits sender with the NEO and GAS the transaction
// pays to the contract, less any value spent from inputs the sender does not
// own.
func (e *Engine) CaptureSystemAssets(sender types.Address) (*Captured, error) {
	tx, err := e.transaction()
	if err != nil {
		return nil, err
	}
	captured := &Captured{NEO: new(big.Int), GAS: new(big.Int)}
	neoID, _ := e.params.NEO.NativeID()
	gasID, _ := e.params.GAS.NativeID()

	for _, out := range tx.Outputs {
		if out.ScriptHash != e.params.Contract {
			continue
		}
		switch out.AssetID {
		case neoID:
			captured.NEO.Add(captured.NEO, big.NewInt(out.Value))
		case gasID:
			captured.GAS.Add(captured.GAS, big.NewInt(out.Value))
		}
	}
	sentNEO, sentGAS := captured.NEO.Sign() > 0, captured.GAS.Sign() > 0
	for _, ref := range tx.References {
		if ref.ScriptHash == sender {
			continue
		}
		switch {
		case ref.AssetID == neoID && sentNEO:
			captured.NEO.Sub(captured.NEO, big.NewInt(ref.Value))
		case ref.AssetID == gasID && sentGAS:
			captured.GAS.Sub(captured.GAS, big.NewInt(ref.Value))
		}
	}

	for _, c := range []struct {
		asset  types.AssetRef
		amount *big.Int
	}{{e.params.NEO, captured.NEO}, {e.params.GAS, captured.GAS}} {
		if c.amount.Sign() <= 0 {
			continue
		}
		if err := e.increase(c.asset, sender, c.amount); err != nil {
			return nil, err
		}
		if err := e.adjustTrackedTotal(c.asset, c.amount); err != nil {
			return nil, err
		}
	}
	return captured, nil
}

// Deposit credits sender with quantity of asset. External assets are pulled
// from the token contract; system assets must ride along as transaction
// outputs to the contract and quantity is ignored.
func (e *Engine) Deposit(sender types.Address, asset types.AssetRef, quantity *big.Int) (credited *big.Int, err error) {
	const tag = EventTypeDepositError
	defer e.report(tag, &err)

	whitelisted, err := e.isWhitelisted(sender)
	if err != nil {
		return nil, err
	}
	if !whitelisted {
		return nil, newError(KindAuthorization, tag, "not whitelisted").
			withAddress("address", sender).
			With("asset", asset.String())
	}

	switch {
	case asset.IsExternal():
		if !positive(quantity) {
			return nil, newError(KindValidation, tag, "quantity <= 0").
				withAddress("address", sender).
				With("quantity", amountString(quantity))
		}
		if err := e.pullExternal(asset, sender, quantity); err != nil {
			return nil, fundsError(tag, "token deposit failed", err)
		}
		if err := e.increase(asset, sender, quantity); err != nil {
			return nil, err
		}
		credited = cloneBigInt(quantity)
	case asset.IsNative():
		captured, err := e.CaptureSystemAssets(sender)
		if err != nil {
			return nil, err
		}
		switch asset {
		case e.params.NEO:
			credited = captured.NEO
		case e.params.GAS:
			credited = captured.GAS
		default:
			return nil, newError(KindValidation, tag, "unsupported system asset").With("asset", asset.String())
		}
		if credited.Sign() < 0 {
			credited = new(big.Int)
		}
	default:
		return nil, newError(KindValidation, tag, "invalid asset length")
	}

	e.emit(newBalanceEvent(EventTypeDeposit, sender, asset, credited))
	return credited, nil
}

// OnTokenTransfer credits a push deposit made by a token contract calling
// into the exchange.
func (e *Engine) OnTokenTransfer(token types.Address, from, to types.Address, quantity *big.Int) (err error) {
	const tag = EventTypeTokenTransferError
	defer e.report(tag, &err)

	asset := types.ExternalAsset(token)
	settings, err := e.AssetSettings(asset)
	if err != nil {
		return err
	}
	if len(settings) == 0 {
		return newError(KindValidation, tag, "calling token is not a registered asset").With("asset", asset.String())
	}
	if to != e.params.Contract {
		return newError(KindValidation, tag, "transfer not sent to us").
			withAddress("from", from).
			withAddress("to", to)
	}
	if !positive(quantity) {
		return newError(KindValidation, tag, "quantity <= 0").
			withAddress("from", from).
			With("quantity", amountString(quantity))
	}
	whitelisted, err := e.isWhitelisted(from)
	if err != nil {
		return err
	}
	if !whitelisted {
		return newError(KindAuthorization, tag, "not whitelisted").withAddress("from", from)
	}
	if err := e.increase(asset, from, quantity); err != nil {
		return err
	}
	if err := e.adjustTrackedTotal(asset, quantity); err != nil {
		return err
	}
	e.emit(newBalanceEvent(EventTypeDeposit, from, asset, quantity))
	return nil
}

// Send moves an internal balance from sender to another address. Sender
// must be the owner or the manager, and both of them must sign.
func (e *Engine) Send(sender types.Address, asset types.AssetRef, quantity *big.Int, to types.Address) (err error) {
	const tag = EventTypeSendFail
	defer e.report(tag, &err)

	owner, err := e.Owner()
	if err != nil {
		return err
	}
	manager, err := e.Manager()
	if err != nil {
		return err
	}
	if sender != owner && sender != manager {
		return newError(KindAuthorization, tag, "no permission").withAddress("sender", sender)
	}
	if !e.checkWitness(owner) || !e.checkWitness(manager) {
		return newError(KindAuthorization, tag, "owner and manager must sign").
			withAddress("sender", sender).
			withAddress("owner", owner).
			withAddress("manager", manager)
	}
	if asset.IsZero() {
		return newError(KindValidation, tag, "invalid asset length")
	}
	if !positive(quantity) {
		return newError(KindValidation, tag, "quantity <= 0").With("quantity", amountString(quantity))
	}
	balance, err := e.Balance(asset, sender)
	if err != nil {
		return err
	}
	if balance.Cmp(quantity) < 0 {
		return newError(KindInsufficientFunds, tag, "insufficient balance").
			withAddress("sender", sender).
			With("balance", amountString(balance)).
			With("quantity", amountString(quantity))
	}
	if err := e.setBalanceForWithdrawal(asset, sender, new(big.Int).Sub(balance, quantity)); err != nil {
		return err
	}
	received, err := e.Balance(asset, to)
	if err != nil {
		return err
	}
	if err := e.setBalanceForWithdrawal(asset, to, new(big.Int).Add(received, quantity)); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeSent).
		With("from", sender.String()).
		With("to", to.String()).
		With("asset", asset.String()).
		With("amount", amountString(quantity)))
	return nil
}
