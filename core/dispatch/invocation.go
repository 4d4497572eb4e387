package dispatch

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"aphdex/core/types"
	"aphdex/native/exchange"
)

// Trigger selects which entry point of the contract runs.
type Trigger uint8

const (
	// TriggerApplication executes an operation.
	TriggerApplication Trigger = iota
	// TriggerVerification authorizes spending the contract's own outputs.
	TriggerVerification
	// TriggerReceive decides whether system assets may be sent along with an
	// invocation.
	TriggerReceive
)

func (t Trigger) String() string {
	switch t {
	case TriggerApplication:
		return "application"
	case TriggerVerification:
		return "verification"
	case TriggerReceive:
		return "receive"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// ParseTrigger maps the names used in scenario files.
func ParseTrigger(s string) (Trigger, error) {
	switch s {
	case "", "application":
		return TriggerApplication, nil
	case "verification":
		return TriggerVerification, nil
	case "receive":
		return TriggerReceive, nil
	default:
		return 0, fmt.Errorf("dispatch: unknown trigger %q", s)
	}
}

// Invocation is one call into the exchange contract. Args follow the VM
// stack encoding: integers are little-endian two's complement, addresses
// are 20-byte script hashes and asset ids are 20 or 32 bytes.
type Invocation struct {
	Trigger   Trigger
	Operation string
	Args      [][]byte
	Tx        *types.Transaction
	Height    uint64
	Witnesses []types.Address
	// Caller is the script hash of the contract that invoked the exchange.
	// Only onTokenTransfer reads it.
	Caller types.Address
}

// Result reports the outcome of one invocation.
type Result struct {
	ID        uuid.UUID
	Operation string
	Trigger   Trigger
	Success   bool
	Err       error

	Sender    types.Address
	HasSender bool

	// Value carries the numeric return of queries, deposits, claims and
	// reclamations.
	Value   *big.Int
	OfferID [32]byte
	Accept  *exchange.AcceptResult

	Events   []*types.Event
	Writes   int
	Duration time.Duration
}

// Reason is the failure reason, empty on success.
func (r *Result) Reason() string {
	if r == nil || r.Err == nil {
		return ""
	}
	var ee *exchange.Error
	if asExchangeError(r.Err, &ee) {
		return ee.Reason
	}
	var ae *ArgumentError
	if errors.As(r.Err, &ae) {
		return ae.Reason
	}
	return r.Err.Error()
}

type witnessSet map[types.Address]struct{}

func newWitnessSet(addrs []types.Address) witnessSet {
	set := make(witnessSet, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

func (w witnessSet) CheckWitness(addr types.Address) bool {
	_, ok := w[addr]
	return ok
}

type chain struct {
	height uint64
	tx     *types.Transaction
}

func (c chain) Height() uint64                  { return c.height }
func (c chain) Transaction() *types.Transaction { return c.tx }
