package dispatch

import (
	"bytes"
	"errors"
	"fmt"

	"aphdex/core/types"
	"aphdex/native/exchange"
)

// needsSender lists the operations that act on the resolved sender's
// balances.
var needsSender = map[string]bool{
	"addOffer":    true,
	"deposit":     true,
	"commit":      true,
	"claim":       true,
	"compound":    true,
	"cancelOffer": true,
	"send":        true,
}

func (d *Dispatcher) route(b *binding, inv Invocation, tx *types.Transaction, res *Result) error {
	switch inv.Trigger {
	case TriggerApplication:
		err := d.application(b, inv, tx, res)
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			b.recorder.Emit(notification{evt: argErr.event()})
		}
		return err
	case TriggerVerification:
		return b.engine.VerifySignatureRequest()
	case TriggerReceive:
		return b.engine.VerifyReceive(inv.Operation)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, inv.Trigger)
	}
}

func (d *Dispatcher) application(b *binding, inv Invocation, tx *types.Transaction, res *Result) error {
	e := b.engine
	a := newArgs(inv.Operation, inv.Args)

	// Operations that never need a resolved sender.
	switch inv.Operation {
	case "acceptOffer":
		return acceptOffer(e, a, res)
	case "withdraw":
		if err := e.VerifySignatureRequest(); err != nil {
			return err
		}
		return e.ExecuteWithdraw()
	case "getBalance":
		asset, user := a.count(2).asset(0), a.address(1)
		if a.err != nil {
			return a.err
		}
		v, err := e.Balance(asset, user)
		res.Value = v
		return err
	case "getContributed":
		user := a.count(1).address(0)
		if a.err != nil {
			return a.err
		}
		v, err := e.Contributed(user)
		res.Value = v
		return err
	case "getAvailableToClaim":
		user := a.count(1).address(0)
		if a.err != nil {
			return a.err
		}
		v, err := e.AvailableToClaim(user)
		res.Value = v
		return err
	case "getAphConversionRate":
		asset := a.count(1).asset(0)
		if a.err != nil {
			return a.err
		}
		v, err := e.ConversionRate(asset)
		res.Value = v
		return err
	}

	unverified, hasUnverified := unverifiedSender(tx, d.params.Contract)

	switch inv.Operation {
	case "addOffer":
		// Selling a token pulls it from the creator, whose signature the
		// token contract checks.
		sell := a.count(5).asset(2)
		if a.err != nil {
			return a.err
		}
		if sell.IsExternal() {
			return addOffer(e, a, unverified, res)
		}
	case "deposit":
		asset := a.count(2).asset(0)
		if a.err != nil {
			return a.err
		}
		if asset.IsExternal() {
			res.Sender, res.HasSender = unverified, hasUnverified
			credited, err := e.Deposit(unverified, asset, a.integer(1))
			res.Value = credited
			return err
		}
	case "onTokenTransfer":
		from, to, qty := a.count(3).address(0), a.address(1), a.integer(2)
		if a.err != nil {
			return a.err
		}
		return e.OnTokenTransfer(inv.Caller, from, to, qty)
	}

	sender, found, err := resolveSender(tx, b.witness, d.params)
	if err != nil {
		return err
	}
	if found {
		res.Sender, res.HasSender = sender, true
		switch inv.Operation {
		case "addOffer":
			if _, err := e.CaptureSystemAssets(sender); err != nil {
				return err
			}
			return addOffer(e, a, sender, res)
		case "deposit":
			credited, err := e.Deposit(sender, a.asset(0), nil)
			res.Value = credited
			return err
		case "commit":
			qty := a.count(1).integer(0)
			if a.err != nil {
				return a.err
			}
			return e.Commit(sender, qty)
		case "claim":
			paid, err := e.Claim(sender)
			res.Value = paid
			return err
		case "compound":
			return e.Compound(sender)
		case "cancelOffer":
			id := a.count(1).hash(0)
			if a.err != nil {
				return a.err
			}
			return e.CancelOffer(sender, id)
		case "send":
			asset, qty, to := a.count(3).asset(0), a.integer(1), a.address(2)
			if a.err != nil {
				return a.err
			}
			return e.Send(sender, asset, qty, to)
		}
	} else {
		b.recorder.Emit(notification{evt: types.NewEvent(EventTypeNoSender).With("operation", inv.Operation)})
	}

	err = d.privileged(e, inv.Operation, a, res)
	if err == nil && needsSender[inv.Operation] {
		err = fmt.Errorf("%w: %s", ErrNoSender, inv.Operation)
	}
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return err
	}
	result := EventTypeSuccess
	if err != nil {
		result = EventTypeFailure
	}
	b.recorder.Emit(notification{evt: types.NewEvent(result).With("operation", inv.Operation)})
	return err
}

// privileged runs the role-gated operations. The engine checks the role
// witnesses itself.
func (d *Dispatcher) privileged(e *exchange.Engine, op string, a *args, res *Result) error {
	switch op {
	case "setOwner", "setManager", "setWhitelister":
		addr := a.count(1).address(0)
		if a.err != nil {
			return a.err
		}
		switch op {
		case "setOwner":
			return e.SetOwner(addr)
		case "setManager":
			return e.SetManager(addr)
		default:
			return e.SetWhitelister(addr)
		}
	case "setMarket":
		quote, base := a.count(6).asset(0), a.asset(1)
		p := exchange.MarketParams{
			MinimumSize:     a.integer(2),
			MinimumTickSize: a.integer(3),
			BuyFeePercent:   a.integer(4),
			SellFeePercent:  a.integer(5),
		}
		if a.err != nil {
			return a.err
		}
		return e.SetMarket(quote, base, p)
	case "closeMarket":
		quote, base := a.count(2).asset(0), a.asset(1)
		if a.err != nil {
			return a.err
		}
		return e.CloseMarket(quote, base)
	case "setAssetToAphRate":
		asset, rate := a.count(2).asset(0), a.integer(1)
		if a.err != nil {
			return a.err
		}
		return e.SetAssetToAphRate(asset, rate)
	case "setFeeRedistributionPercentage":
		pct := a.count(1).integer(0)
		if a.err != nil {
			return a.err
		}
		return e.SetFeeRedistributionPercentage(pct)
	case "setClaimMinimumBlocks":
		blocks := a.count(1).unsigned(0)
		if a.err != nil {
			return a.err
		}
		return e.SetClaimMinimumBlocks(blocks)
	case "reclaimOrphanFunds":
		asset := a.count(1).asset(0)
		if a.err != nil {
			return a.err
		}
		v, err := e.ReclaimOrphanFunds(asset)
		res.Value = v
		return err
	case "setAssetSettings":
		asset, settings := a.count(2).asset(0), a.bytes(1)
		if a.err != nil {
			return a.err
		}
		return e.SetAssetSettings(asset, settings)
	case "addIdentity":
		a.atLeast(4)
		hash := a.hash(0)
		identity := exchange.UserIdentity{
			HashInfo1:    a.bytes(1),
			HashInfo2:    a.bytes(2),
			Address:      a.address(3),
			MiscUserInfo: a.optional(4),
		}
		if a.err != nil {
			return a.err
		}
		return e.AddIdentity(hash, identity)
	case "whitelistAddress":
		addr, hash := a.count(2).address(0), a.hash(1)
		if a.err != nil {
			return a.err
		}
		return e.WhitelistAddress(addr, hash)
	case "blacklistAddress":
		addr := a.count(1).address(0)
		if a.err != nil {
			return a.err
		}
		return e.BlacklistAddress(addr)
	case "aphNotify":
		return e.AphNotify(a.hexAll())
	case "addOffer", "deposit", "commit", "claim", "compound", "cancelOffer", "send":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func addOffer(e *exchange.Engine, a *args, creator types.Address, res *Result) error {
	buy, buyQty := a.count(5).asset(0), a.integer(1)
	sell, sellQty, nonce := a.asset(2), a.integer(3), a.integer(4)
	if a.err != nil {
		return a.err
	}
	if !res.HasSender && !creator.IsZero() {
		res.Sender, res.HasSender = creator, true
	}
	id, err := e.AddOffer(creator, buy, buyQty, sell, sellQty, nonce)
	res.OfferID = id
	return err
}

func acceptOffer(e *exchange.Engine, a *args, res *Result) error {
	a.count(8)
	req := exchange.AcceptRequest{
		OfferID:         a.hash(0),
		Taker:           a.address(1),
		GiveAsset:       a.asset(2),
		GiveQuantity:    a.integer(3),
		ReceiveAsset:    a.asset(4),
		ReceiveQuantity: a.integer(5),
		CreateIfMissing: a.boolean(6),
		Nonce:           a.integer(7),
	}
	if a.err != nil {
		return a.err
	}
	res.Sender, res.HasSender = req.Taker, true
	out, err := e.AcceptOffer(req)
	if out != nil {
		res.Accept = out
		res.OfferID = out.OfferID
	}
	return err
}

// unverifiedSender is the first sender attribute that does not name the
// contract itself. It is only trusted where a later check covers it.
func unverifiedSender(tx *types.Transaction, contract types.Address) (types.Address, bool) {
	for _, attr := range tx.Attributes {
		if attr.Usage != exchange.SenderAttributeUsage || bytes.Equal(attr.Data, contract[:]) {
			continue
		}
		addr, err := types.AddressFromBytes(attr.Data)
		if err != nil {
			return types.Address{}, false
		}
		return addr, true
	}
	return types.Address{}, false
}

// resolveSender picks the address an invocation acts for: a signed sender
// attribute first, then the owner of the first input not spent from the
// contract.
func resolveSender(tx *types.Transaction, witness witnessSet, params exchange.Params) (types.Address, bool, error) {
	if len(tx.Attributes) > params.MaxAttributes {
		return types.Address{}, false, fmt.Errorf("%w: %d > %d", ErrTooManyAttributes, len(tx.Attributes), params.MaxAttributes)
	}
	unverified, ok := unverifiedSender(tx, params.Contract)
	if ok && witness.CheckWitness(unverified) {
		return unverified, true, nil
	}
	for _, attr := range tx.Attributes {
		if attr.Usage != exchange.SenderAttributeUsage {
			continue
		}
		addr, err := types.AddressFromBytes(attr.Data)
		if err != nil || (ok && addr == unverified) || addr == params.Contract {
			continue
		}
		if witness.CheckWitness(addr) {
			return addr, true, nil
		}
	}
	if len(tx.References) > params.MaxReferences {
		return types.Address{}, false, nil
	}
	for _, ref := range tx.References {
		if ref.ScriptHash != params.Contract {
			return ref.ScriptHash, true, nil
		}
	}
	return types.Address{}, false, nil
}
