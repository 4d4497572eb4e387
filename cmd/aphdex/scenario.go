package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"aphdex/core/dispatch"
	"aphdex/core/types"
	"aphdex/native/common"
	"aphdex/native/exchange"
	"aphdex/native/token"
)

// Scenario is a scripted sequence of invocations replayed against the
// configured exchange state.
type Scenario struct {
	Name   string      `yaml:"name"`
	Height uint64      `yaml:"height"`
	Mint   []mintSpec  `yaml:"mint"`
	Steps  []stepSpec  `yaml:"steps"`
	Checks []checkSpec `yaml:"checks"`
}

type mintSpec struct {
	Token  types.Address `yaml:"token"`
	To     types.Address `yaml:"to"`
	Amount amount        `yaml:"amount"`
}

type stepSpec struct {
	Name      string          `yaml:"name"`
	Op        string          `yaml:"op"`
	Trigger   string          `yaml:"trigger"`
	Height    uint64          `yaml:"height"`
	Sender    *types.Address  `yaml:"sender"`
	Witnesses []types.Address `yaml:"witnesses"`
	Caller    *types.Address  `yaml:"caller"`
	Args      []argSpec       `yaml:"args"`
	Tx        *txSpec         `yaml:"tx"`
	SaveOffer string          `yaml:"save_offer"`
	Expect    *expectation    `yaml:"expect"`
}

// argSpec sets exactly one field.
type argSpec struct {
	Int   *amount         `yaml:"int"`
	Asset *types.AssetRef `yaml:"asset"`
	Addr  *types.Address  `yaml:"addr"`
	Hash  hexBytes        `yaml:"hash"`
	Bool  *bool           `yaml:"bool"`
	Bytes hexBytes        `yaml:"bytes"`
	Offer string          `yaml:"offer"`
}

type txSpec struct {
	Type           string       `yaml:"type"`
	Attributes     []attrSpec   `yaml:"attributes"`
	Inputs         []inputSpec  `yaml:"inputs"`
	References     []outputSpec `yaml:"references"`
	Outputs        []outputSpec `yaml:"outputs"`
	WithdrawScript bool         `yaml:"withdraw_script"`
}

// attrSpec carries raw data or a fixed8 encoded amount.
type attrSpec struct {
	Usage  hexBytes       `yaml:"usage"`
	Data   hexBytes       `yaml:"data"`
	Addr   *types.Address `yaml:"addr"`
	Fixed8 *amount        `yaml:"fixed8"`
}

type inputSpec struct {
	PrevHash  hexBytes `yaml:"prev_hash"`
	PrevIndex uint16   `yaml:"prev_index"`
}

type outputSpec struct {
	Asset types.AssetRef `yaml:"asset"`
	Value amount         `yaml:"value"`
	To    types.Address  `yaml:"to"`
}

type expectation struct {
	Success *bool   `yaml:"success"`
	Reason  string  `yaml:"reason"`
	Value   *amount `yaml:"value"`
}

type checkSpec struct {
	Asset   types.AssetRef `yaml:"asset"`
	Address types.Address  `yaml:"address"`
	Balance amount         `yaml:"balance"`
}

// amount decodes a decimal integer of any size.
type amount struct{ v *big.Int }

func (a *amount) UnmarshalYAML(n *yaml.Node) error {
	v, ok := new(big.Int).SetString(strings.TrimSpace(n.Value), 10)
	if !ok {
		return fmt.Errorf("line %d: invalid integer %q", n.Line, n.Value)
	}
	a.v = v
	return nil
}

func (a amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

type hexBytes []byte

func (h *hexBytes) UnmarshalYAML(n *yaml.Node) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(n.Value), "0x"))
	if err != nil {
		return fmt.Errorf("line %d: invalid hex %q", n.Line, n.Value)
	}
	*h = raw
	return nil
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeScenario(f)
}

func decodeScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	sc := &Scenario{}
	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario: no steps")
	}
	return sc, nil
}

// StepOutcome is the result of one replayed step.
type StepOutcome struct {
	Name   string
	Result *dispatch.Result
	// Mismatch describes a failed expectation.
	Mismatch string
}

// ReplayReport summarizes a replay.
type ReplayReport struct {
	Steps    []StepOutcome
	Failures []string
}

// OK reports whether every expectation and check held.
func (r *ReplayReport) OK() bool { return len(r.Failures) == 0 }

type replayer struct {
	d      *dispatch.Dispatcher
	sc     *Scenario
	offers map[string][32]byte
}

// Replay mints the scenario's opening balances, runs every step in order and
// evaluates the closing checks. Steps keep running after a failed
// expectation; the report lists all of them.
func Replay(ctx context.Context, d *dispatch.Dispatcher, sc *Scenario) (*ReplayReport, error) {
	r := &replayer{d: d, sc: sc, offers: make(map[string][32]byte)}
	if err := r.mint(); err != nil {
		return nil, err
	}
	report := &ReplayReport{}
	for i, step := range sc.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("#%d %s", i+1, step.Op)
		}
		inv, err := r.invocation(step)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
		res, err := d.Dispatch(ctx, inv)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
		if step.SaveOffer != "" {
			r.offers[step.SaveOffer] = res.OfferID
		}
		outcome := StepOutcome{Name: name, Result: res, Mismatch: step.Expect.check(res)}
		if outcome.Mismatch != "" {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %s", name, outcome.Mismatch))
		}
		report.Steps = append(report.Steps, outcome)
	}
	failures, err := r.checks()
	if err != nil {
		return nil, err
	}
	report.Failures = append(report.Failures, failures...)
	return report, nil
}

func (r *replayer) mint() error {
	if len(r.sc.Mint) == 0 {
		return nil
	}
	return r.d.Mutate(r.sc.Height, nil, func(_ *exchange.Engine, reg *token.Registry) error {
		for _, m := range r.sc.Mint {
			tok, ok := reg.Lookup(m.Token)
			if !ok {
				return fmt.Errorf("mint: token %s is not configured", m.Token.Hex())
			}
			if err := tok.Mint(m.To, m.Amount.Int()); err != nil {
				return fmt.Errorf("mint %s: %w", m.Token.Hex(), err)
			}
		}
		return nil
	})
}

func (r *replayer) invocation(step stepSpec) (dispatch.Invocation, error) {
	trigger, err := dispatch.ParseTrigger(step.Trigger)
	if err != nil {
		return dispatch.Invocation{}, err
	}
	height := step.Height
	if height == 0 {
		height = r.sc.Height
	}
	inv := dispatch.Invocation{
		Trigger:   trigger,
		Operation: step.Op,
		Height:    height,
		Witnesses: append([]types.Address(nil), step.Witnesses...),
	}
	if step.Caller != nil {
		inv.Caller = *step.Caller
	}
	for i, arg := range step.Args {
		raw, err := r.arg(arg)
		if err != nil {
			return dispatch.Invocation{}, fmt.Errorf("arg %d: %w", i, err)
		}
		inv.Args = append(inv.Args, raw)
	}

	tx, err := buildTransaction(step.Tx, r.d.Params().Contract)
	if err != nil {
		return dispatch.Invocation{}, err
	}
	if step.Sender != nil {
		// The sender signs and names itself the way wallets do.
		tx.Attributes = append([]types.Attribute{{
			Usage: exchange.SenderAttributeUsage,
			Data:  step.Sender.Bytes(),
		}}, tx.Attributes...)
		inv.Witnesses = append(inv.Witnesses, *step.Sender)
	}
	inv.Tx = tx
	return inv, nil
}

func (r *replayer) arg(a argSpec) ([]byte, error) {
	switch {
	case a.Int != nil:
		return dispatch.BigInt(a.Int.Int()), nil
	case a.Asset != nil:
		return dispatch.Asset(*a.Asset), nil
	case a.Addr != nil:
		return dispatch.Addr(*a.Addr), nil
	case a.Hash != nil:
		if len(a.Hash) != 32 {
			return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(a.Hash))
		}
		return []byte(a.Hash), nil
	case a.Bool != nil:
		return dispatch.Bool(*a.Bool), nil
	case a.Bytes != nil:
		return []byte(a.Bytes), nil
	case a.Offer != "":
		id, ok := r.offers[a.Offer]
		if !ok {
			return nil, fmt.Errorf("offer %q was not saved by an earlier step", a.Offer)
		}
		return dispatch.Hash(id), nil
	default:
		return []byte{}, nil
	}
}

func buildTransaction(ts *txSpec, contract types.Address) (*types.Transaction, error) {
	tx := &types.Transaction{Type: types.TxTypeInvocation}
	if ts == nil {
		return tx, nil
	}
	switch strings.ToLower(ts.Type) {
	case "", "invocation":
	case "contract":
		tx.Type = types.TxTypeContract
	case "claim":
		tx.Type = types.TxTypeClaim
	default:
		return nil, fmt.Errorf("unknown transaction type %q", ts.Type)
	}
	for _, a := range ts.Attributes {
		if len(a.Usage) != 1 {
			return nil, fmt.Errorf("attribute usage must be one byte")
		}
		attr := types.Attribute{Usage: a.Usage[0], Data: []byte(a.Data)}
		switch {
		case a.Addr != nil:
			attr.Data = a.Addr.Bytes()
		case a.Fixed8 != nil:
			raw, err := common.EncodeFixed(a.Fixed8.Int(), 8)
			if err != nil {
				return nil, fmt.Errorf("attribute %x: %w", a.Usage, err)
			}
			attr.Data = raw
		}
		tx.Attributes = append(tx.Attributes, attr)
	}
	for _, in := range ts.Inputs {
		var h [32]byte
		if len(in.PrevHash) != len(h) {
			return nil, fmt.Errorf("input prev_hash must be 32 bytes")
		}
		copy(h[:], in.PrevHash)
		tx.Inputs = append(tx.Inputs, types.Input{PrevHash: h, PrevIndex: in.PrevIndex})
	}
	var err error
	if tx.References, err = outputs(ts.References); err != nil {
		return nil, err
	}
	if tx.Outputs, err = outputs(ts.Outputs); err != nil {
		return nil, err
	}
	if ts.WithdrawScript {
		tx.Script = exchange.WithdrawScript(contract)
	}
	return tx, nil
}

func outputs(specs []outputSpec) ([]types.Output, error) {
	var out []types.Output
	for _, o := range specs {
		id, ok := o.Asset.NativeID()
		if !ok {
			return nil, fmt.Errorf("output asset %s is not a system asset", o.Asset)
		}
		v := o.Value.Int()
		if !v.IsInt64() {
			return nil, fmt.Errorf("output value %s overflows", v)
		}
		out = append(out, types.Output{AssetID: id, Value: v.Int64(), ScriptHash: o.To})
	}
	return out, nil
}

func (e *expectation) check(res *dispatch.Result) string {
	if e == nil {
		return ""
	}
	if e.Success != nil && *e.Success != res.Success {
		return fmt.Sprintf("success = %t, want %t (%s)", res.Success, *e.Success, res.Reason())
	}
	if e.Reason != "" && res.Reason() != e.Reason {
		return fmt.Sprintf("reason = %q, want %q", res.Reason(), e.Reason)
	}
	if e.Value != nil && (res.Value == nil || res.Value.Cmp(e.Value.Int()) != 0) {
		return fmt.Sprintf("value = %v, want %s", res.Value, e.Value.Int())
	}
	return ""
}

func (r *replayer) checks() ([]string, error) {
	var failures []string
	err := r.d.View(func(e *exchange.Engine, _ *token.Registry) error {
		for _, c := range r.sc.Checks {
			got, err := e.Balance(c.Asset, c.Address)
			if err != nil {
				return err
			}
			if want := c.Balance.Int(); got.Cmp(want) != 0 {
				failures = append(failures, fmt.Sprintf("balance %s of %s = %s, want %s", c.Asset, c.Address, got, want))
			}
		}
		return nil
	})
	return failures, err
}
