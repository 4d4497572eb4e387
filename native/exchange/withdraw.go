package exchange

import (
	"bytes"
	"math"
	"math/big"

	"aphdex/core/types"
	"aphdex/native/common"
)

// Transaction attribute usages carrying a signature request.
const (
	AttrRequestType         byte = 0xA1
	AttrWithdrawAddress     byte = 0xA2
	AttrWithdrawSystemAsset byte = 0xA3
	AttrWithdrawNEP5Asset   byte = 0xA4
	AttrWithdrawAmount      byte = 0xA5
	AttrWithdrawValidUntil  byte = 0xA6
)

// Signature request types.
const (
	StepMark      byte = 0x91
	StepWithdraw  byte = 0x92
	StepClaimSend byte = 0x93
	StepClaimGas  byte = 0x94
)

const opAppCall byte = 0x67

var (
	withdrawArgs = []byte{0x00, 0xc1, 0x08, 'w', 'i', 't', 'h', 'd', 'r', 'a', 'w'}
	claimArgs    = []byte{0x00, 0xc1, 0x05, 'c', 'l', 'a', 'i', 'm'}
)

// WithdrawScript is the only invocation script accepted when the contract
// verifies a withdrawal.
func WithdrawScript(contract types.Address) []byte {
	return concat(withdrawArgs, []byte{opAppCall}, contract[:])
}

// ClaimScript invokes the contribution claim.
func ClaimScript(contract types.Address) []byte {
	return concat(claimArgs, []byte{opAppCall}, contract[:])
}

// SignatureRequest is the withdrawal intent carried in transaction
// attributes. Only the first attribute of each usage counts.
type SignatureRequest struct {
	Step       byte
	Address    types.Address
	Asset      types.AssetRef
	Amount     *big.Int
	ValidUntil *big.Int
}

func take(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// ParseSignatureRequest reads the request attributes of tx. NEO amounts are
// floored to whole units. Malformed fields read as zero values.
func ParseSignatureRequest(tx *types.Transaction, neo types.AssetRef) *SignatureRequest {
	req := &SignatureRequest{Amount: new(big.Int), ValidUntil: new(big.Int)}
	var seenStep, seenAddr, seenAsset, seenAmount, seenValid bool
	for _, attr := range tx.Attributes {
		switch attr.Usage {
		case AttrRequestType:
			if !seenStep && len(attr.Data) > 0 {
				req.Step = attr.Data[0]
			}
			seenStep = true
		case AttrWithdrawAddress:
			if !seenAddr {
				if addr, err := types.AddressFromBytes(take(attr.Data, types.AddressLength)); err == nil {
					req.Address = addr
				}
			}
			seenAddr = true
		case AttrWithdrawSystemAsset, AttrWithdrawNEP5Asset:
			if !seenAsset {
				width := types.NativeAssetIDLength
				if attr.Usage == AttrWithdrawNEP5Asset {
					width = types.ExternalAssetIDLength
				}
				raw := take(attr.Data, width)
				if len(raw) == width {
					req.Asset, _ = types.ParseAssetRef(raw)
				}
			}
			seenAsset = true
		case AttrWithdrawAmount:
			if !seenAmount {
				req.Amount = decodeInt(take(attr.Data, 8))
			}
			seenAmount = true
		case AttrWithdrawValidUntil:
			if !seenValid {
				req.ValidUntil = decodeInt(take(attr.Data, 8))
			}
			seenValid = true
		}
	}
	if req.Asset == neo {
		req.Amount.Quo(req.Amount, One)
		req.Amount.Mul(req.Amount, One)
	}
	return req
}

func (e *Engine) isSystem(id [32]byte, asset types.AssetRef) bool {
	native, ok := asset.NativeID()
	return ok && native == id
}

func (e *Engine) reservedFor(hash [32]byte, index uint16) ([]byte, error) {
	return e.get(reservationKey(hash, index))
}

// Reservation returns the address an output is reserved for.
func (e *Engine) Reservation(hash [32]byte, index uint16) (types.Address, bool, error) {
	raw, err := e.reservedFor(hash, index)
	if err != nil || len(raw) == 0 {
		return types.Address{}, false, err
	}
	addr, err := types.AddressFromBytes(raw)
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, true, nil
}

// Withdrawing returns the amount marked for withdrawal by user, if any.
func (e *Engine) Withdrawing(user types.Address, asset types.AssetRef) (*big.Int, bool, error) {
	raw, err := e.get(withdrawingKey(user, asset))
	if err != nil || len(raw) == 0 {
		return nil, false, err
	}
	return decodeInt(raw), true, nil
}

// validateInputsOutputs checks that the contract's NEO and GAS spent by tx
// come back to the contract, less the amount being withdrawn. Spent contract
// outputs must be unreserved, or reserved for toAddress on the withdraw step.
func (e *Engine) validateInputsOutputs(tx *types.Transaction, toAddress types.Address, asset types.AssetRef, withdrawAmount, maxContractInput *big.Int, withdrawStep bool) error {
	const tag = EventTypeVerifyWithdrawFail
	neoID, _ := e.params.NEO.NativeID()
	gasID, _ := e.params.GAS.NativeID()

	gasIn, neoIn := new(big.Int), new(big.Int)
	for i, ref := range tx.References {
		if ref.ScriptHash != e.params.Contract {
			continue
		}
		if new(big.Int).Add(gasIn, neoIn).Cmp(maxContractInput) >= 0 {
			return newError(KindInvariant, tag, "exceeded allowed inputs").withAddress("address", toAddress)
		}
		switch ref.AssetID {
		case gasID:
			gasIn.Add(gasIn, big.NewInt(ref.Value))
		case neoID:
			neoIn.Add(neoIn, big.NewInt(ref.Value))
		}
		input := tx.Inputs[i]
		reserved, err := e.reservedFor(input.PrevHash, input.PrevIndex)
		if err != nil {
			return err
		}
		if !withdrawStep && len(reserved) == 0 {
			continue
		}
		if withdrawStep && bytes.Equal(reserved, toAddress[:]) {
			continue
		}
		return newError(KindInvariant, tag, "input already reserved").
			withAddress("address", toAddress).
			With("reservation", hexString(reservationKey(input.PrevHash, input.PrevIndex))).
			With("reservedFor", hexString(reserved))
	}

	gasOut, neoOut := new(big.Int), new(big.Int)
	for _, out := range tx.Outputs {
		if out.ScriptHash != e.params.Contract {
			continue
		}
		switch out.AssetID {
		case gasID:
			gasOut.Add(gasOut, big.NewInt(out.Value))
		case neoID:
			neoOut.Add(neoOut, big.NewInt(out.Value))
		}
	}
	if e.isSystem(gasID, asset) {
		gasOut.Add(gasOut, withdrawAmount)
	}
	if e.isSystem(neoID, asset) {
		neoOut.Add(neoOut, withdrawAmount)
	}
	if gasIn.Cmp(gasOut) != 0 {
		return newError(KindInvariant, tag, "GAS input != expected output").
			withAddress("address", toAddress).
			With("in", gasIn.String()).
			With("out", gasOut.String())
	}
	if neoIn.Cmp(neoOut) != 0 {
		return newError(KindInvariant, tag, "NEO input != expected output").
			withAddress("address", toAddress).
			With("in", neoIn.String()).
			With("out", neoOut.String())
	}
	return nil
}

func (e *Engine) verifyClaimGas(tx *types.Transaction) error {
	const tag = EventTypeVerifyWithdrawFail
	ok, err := e.verifyOwnerOrManager()
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAuthorization, tag, "no permission").With("step", "claimGas")
	}
	gasID, _ := e.params.GAS.NativeID()
	for _, out := range tx.Outputs {
		if out.AssetID != gasID || out.ScriptHash != e.params.Contract {
			return newError(KindInvariant, tag, "claim outputs must be GAS to the contract")
		}
	}
	if tx.Type != types.TxTypeClaim {
		return newError(KindValidation, tag, "claim gas requires a claim transaction").With("type", tx.Type.String())
	}
	return nil
}

// VerifySignatureRequest decides whether the contract signs a transaction
// that spends its outputs or names it as a verifying script.
func (e *Engine) VerifySignatureRequest() (err error) {
	tag := EventTypeVerifyWithdrawFail
	defer func() { e.report(tag, &err) }()

	tx, err := e.transaction()
	if err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return newError(KindValidation, tag, "malformed transaction").With("error", err.Error())
	}
	req := ParseSignatureRequest(tx, e.params.NEO)
	zero := new(big.Int)

	if req.Step == StepClaimGas {
		return e.verifyClaimGas(tx)
	}
	if bytes.Equal(tx.Script, ClaimScript(e.params.Contract)) {
		return e.validateInputsOutputs(tx, req.Address, types.AssetRef{}, zero, zero, false)
	}

	tag = EventTypeVerifyWithdrawInit
	if tx.Type != types.TxTypeInvocation {
		return newError(KindValidation, tag, "must use invocation transaction").With("type", tx.Type.String())
	}
	if !bytes.Equal(tx.Script, WithdrawScript(e.params.Contract)) {
		return newError(KindValidation, tag, "invalid params").With("script", hexString(tx.Script))
	}
	tag = EventTypeVerifyWithdrawFail

	if req.Step == StepClaimSend {
		ok, err := e.verifyOwnerOrManager()
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindAuthorization, tag, "no permission").With("step", "claimSend")
		}
		manager, err := e.Manager()
		if err != nil {
			return err
		}
		return e.validateInputsOutputs(tx, manager, types.AssetRef{}, zero, big.NewInt(math.MaxInt64), false)
	}

	to := req.Address
	allowed := e.checkWitness(to)
	if !allowed {
		if allowed, err = e.verifyOwnerOrManager(); err != nil {
			return err
		}
	}
	if !allowed {
		return newError(KindAuthorization, tag, "no permission").withAddress("address", to)
	}
	if req.Asset.IsZero() {
		return newError(KindValidation, tag, "missing withdraw asset").withAddress("address", to)
	}
	if !positive(req.Amount) {
		return newError(KindValidation, tag, "withdraw amount must be positive").
			withAddress("address", to).
			With("amount", amountString(req.Amount))
	}

	nep5 := req.Asset.IsExternal()
	allowedOut, maxIn := req.Amount, req.Amount
	if req.Step == StepMark || nep5 {
		allowedOut = zero
	}
	if nep5 {
		maxIn = zero
	}
	withdrawStep := req.Step == StepWithdraw
	if err := e.validateInputsOutputs(tx, to, req.Asset, allowedOut, maxIn, withdrawStep); err != nil {
		return err
	}

	height := new(big.Int).SetUint64(e.height())
	if height.Cmp(req.ValidUntil) > 0 {
		return newError(KindValidation, tag, "valid until height < current height").
			withAddress("address", to).
			With("validUntil", req.ValidUntil.String()).
			With("height", height.String())
	}

	switch req.Step {
	case StepMark:
		if nep5 {
			return newError(KindValidation, tag, "mark not valid for NEP5").withAddress("address", to)
		}
		balance, err := e.Balance(req.Asset, to)
		if err != nil {
			return err
		}
		if balance.Cmp(req.Amount) < 0 {
			return newError(KindInsufficientFunds, tag, "insufficient balance").
				withAddress("address", to).
				With("balance", balance.String()).
				With("amount", req.Amount.String())
		}
		if _, ok := e.markOutput(tx, req.Amount); !ok {
			return newError(KindInvariant, tag, "no matching output").
				withAddress("address", to).
				With("amount", req.Amount.String())
		}
		return nil
	case StepWithdraw:
		if !nep5 {
			count := 0
			for _, ref := range tx.References {
				if ref.ScriptHash == e.params.Contract {
					count++
				}
			}
			if count != 1 {
				return newError(KindInvariant, tag, "1 input required").withAddress("address", to)
			}
			return nil
		}
		gasID, _ := e.params.GAS.NativeID()
		for _, out := range tx.Outputs {
			if out.AssetID != gasID {
				return newError(KindInvariant, tag, "NEP5 withdraws only can use GAS outputs").withAddress("address", to)
			}
			if out.ScriptHash == e.params.Contract {
				return newError(KindInvariant, tag, "NEP5 can't have outputs to the contract").withAddress("address", to)
			}
		}
		return nil
	default:
		return newError(KindValidation, tag, "withdraw validate, invalid step").
			withAddress("address", to).
			With("step", hexString([]byte{req.Step}))
	}
}

// markOutput finds the first output paying amount back to the contract.
func (e *Engine) markOutput(tx *types.Transaction, amount *big.Int) (uint16, bool) {
	for i, out := range tx.Outputs {
		if out.ScriptHash != e.params.Contract {
			continue
		}
		if big.NewInt(out.Value).Cmp(amount) != 0 {
			continue
		}
		if i > math.MaxUint16 {
			return 0, false
		}
		return uint16(i), true
	}
	return 0, false
}

// ExecuteWithdraw applies a verified withdrawal step.
func (e *Engine) ExecuteWithdraw() (err error) {
	tag := EventTypeWithdrawFail
	defer func() { e.report(tag, &err) }()

	tx, err := e.transaction()
	if err != nil {
		return err
	}
	req := ParseSignatureRequest(tx, e.params.NEO)
	to, asset, amount := req.Address, req.Asset, req.Amount

	switch req.Step {
	case StepWithdraw:
		switch {
		case asset.IsExternal():
			balance, err := e.Balance(asset, to)
			if err != nil {
				return err
			}
			if balance.Cmp(amount) < 0 {
				return newError(KindInsufficientFunds, tag, "withdraw NEP5 insufficient balance").
					withAddress("address", to).
					With("balance", balance.String()).
					With("amount", amount.String())
			}
			if err := e.sendExternal(asset, to, amount); err != nil {
				return fundsError(tag, "NEP5 transfer failed", err)
			}
			if err := e.setBalanceForWithdrawal(asset, to, balance.Sub(balance, amount)); err != nil {
				return err
			}
		case asset.IsNative():
		default:
			return newError(KindValidation, tag, "withdraw asset missing").withAddress("address", to)
		}
		if err := e.del(withdrawingKey(to, asset)); err != nil {
			return err
		}
		for _, in := range tx.Inputs {
			if err := e.del(reservationKey(in.PrevHash, in.PrevIndex)); err != nil {
				return err
			}
		}
		e.emit(newBalanceEvent(EventTypeWithdraw, to, asset, amount))
		return nil

	case StepMark:
		return e.executeMark(tx, to, asset, amount)
	default:
		tag = EventTypeWithdrawInvalidStep
		return newError(KindValidation, tag, "invalid step").With("step", hexString([]byte{req.Step}))
	}
}

func (e *Engine) executeMark(tx *types.Transaction, to types.Address, asset types.AssetRef, amount *big.Int) error {
	const tag = EventTypeWithdrawFail
	if asset.IsExternal() {
		return newError(KindValidation, tag, "can't mark NEP5").withAddress("address", to)
	}
	if !asset.IsNative() {
		return newError(KindValidation, tag, "mark asset id len != 32").withAddress("address", to)
	}
	if _, marked, err := e.Withdrawing(to, asset); err != nil {
		return err
	} else if marked {
		return newError(KindInvariant, tag, "already withdrawing").withAddress("address", to)
	}
	balance, err := e.Balance(asset, to)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return newError(KindInsufficientFunds, tag, "insufficient balance").
			withAddress("address", to).
			With("balance", balance.String()).
			With("amount", amount.String())
	}

	if err := e.chargeWithdrawFee(asset, to); err != nil {
		return err
	}
	if err := e.setBalanceForWithdrawal(asset, to, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}

	index, ok := e.markOutput(tx, amount)
	if !ok {
		return newError(KindInvariant, tag, "failed to reserve output").withAddress("address", to)
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	if err := e.put(reservationKey(hash, index), to.Bytes()); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeUTXOReserved).
		With("reservation", hexString(concat(hash[:], common.Uint16LE(index)))).
		With("address", to.String()))

	if err := e.adjustTrackedTotal(asset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := e.put(withdrawingKey(to, asset), encodeInt(amount)); err != nil {
		return err
	}
	e.emit(newBalanceEvent(EventTypeWithdrawMark, to, asset, amount))
	return nil
}

// chargeWithdrawFee debits the asset's withdraw fee in the reference asset
// from everyone but the owner and credits it to the owner.
func (e *Engine) chargeWithdrawFee(asset types.AssetRef, to types.Address) error {
	settings, err := e.AssetSettings(asset)
	if err != nil {
		return err
	}
	fee := settings.WithdrawFee()
	if fee.Cmp(e.params.MaxWithdrawFee) > 0 {
		fee.Set(e.params.MaxWithdrawFee)
	}
	if fee.Sign() <= 0 {
		return nil
	}
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if to == owner {
		return nil
	}
	if err := e.reduceNoPull(e.params.ReferenceAsset, to, fee); err != nil {
		return fundsError(EventTypeWithdrawFail, "insufficient reference asset for withdraw fee", err)
	}
	pool, err := e.FeePool()
	if err != nil {
		return err
	}
	pool.Owner.Add(pool.Owner, fee)
	return e.putFeePool(pool)
}

// receiveRejected lists operations that may not be paid system assets.
var receiveRejected = map[string]bool{
	"acceptOffer":          true,
	"addOffer":             true,
	"withdraw":             true,
	"onTokenTransfer":      true,
	"getBalance":           true,
	"getContributed":       true,
	"getAvailableToClaim":  true,
	"getAphConversionRate": true,
}

// VerifyReceive decides whether the contract accepts system assets sent
// with an invocation of operation.
func (e *Engine) VerifyReceive(operation string) (err error) {
	const tag = EventTypeVerifyReceiveFail
	defer e.report(tag, &err)

	tx, err := e.transaction()
	if err != nil {
		return err
	}
	if tx.Type != types.TxTypeInvocation {
		return newError(KindValidation, tag, "send must use invocation transaction").With("type", tx.Type.String())
	}
	if receiveRejected[operation] {
		return newError(KindValidation, tag, "operation can't accept sent funds").With("operation", operation)
	}
	return nil
}
