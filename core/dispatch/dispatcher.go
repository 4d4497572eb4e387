package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aphdex/core/events"
	"aphdex/core/state"
	"aphdex/core/types"
	"aphdex/native/exchange"
	"aphdex/native/token"
	"aphdex/observability"
	telemetry "aphdex/observability/otel"
	"aphdex/storage/journal"
)

var (
	ErrUnknownOperation  = errors.New("dispatch: unknown operation")
	ErrUnknownTrigger    = errors.New("dispatch: unknown trigger")
	ErrBadArguments      = errors.New("dispatch: malformed arguments")
	ErrNoSender          = errors.New("dispatch: no sender")
	ErrTooManyAttributes = errors.New("dispatch: too many attributes")
)

// Notification tags raised by the dispatcher itself.
const (
	EventTypeSuccess  = "Success"
	EventTypeFailure  = "Failure"
	EventTypeNoSender = "noSender"
)

// Journal archives the events of finished invocations.
type Journal interface {
	Append(ctx context.Context, rec journal.Record) error
}

// Options wires the collaborators of a Dispatcher. Zero values disable the
// corresponding concern.
type Options struct {
	Params exchange.Params
	// Tokens lists the external assets whose ledgers live in local state.
	Tokens  []types.Address
	Native  exchange.NativeBalances
	Emitter events.Emitter
	Journal Journal
	Metrics *observability.ExchangeMetrics
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Dispatcher routes invocations to the exchange engine. Every invocation
// runs in its own state overlay which is committed only when an application
// call succeeds. Dispatch calls must not overlap.
type Dispatcher struct {
	state   *state.Manager
	params  exchange.Params
	tokens  []types.Address
	native  exchange.NativeBalances
	emitter events.Emitter
	journal Journal
	metrics *observability.ExchangeMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a dispatcher over mgr.
func New(mgr *state.Manager, opts Options) *Dispatcher {
	d := &Dispatcher{
		state:   mgr,
		params:  exchange.NewEngine(opts.Params).Params(),
		tokens:  append([]types.Address(nil), opts.Tokens...),
		native:  opts.Native,
		emitter: opts.Emitter,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
	if d.emitter == nil {
		d.emitter = events.NoopEmitter{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.tracer == nil {
		d.tracer = telemetry.Tracer()
	}
	return d
}

// Params returns the deployment constants in effect.
func (d *Dispatcher) Params() exchange.Params { return d.params }

// Namespace is the storage prefix of the exchange contract.
func (d *Dispatcher) Namespace() []byte { return d.params.Contract.Bytes() }

// Digest commits to the exchange's committed storage.
func (d *Dispatcher) Digest() ([32]byte, error) {
	return d.state.Digest(d.Namespace())
}

type binding struct {
	engine   *exchange.Engine
	registry *token.Registry
	overlay  *state.Tx
	recorder *events.Recorder
	witness  witnessSet
}

func (d *Dispatcher) bind(tx *types.Transaction, height uint64, witnesses []types.Address) *binding {
	b := &binding{
		overlay:  d.state.Begin(),
		recorder: &events.Recorder{},
		witness:  newWitnessSet(witnesses),
	}
	b.registry = token.NewRegistry(b.overlay, d.params.Contract, b.witness)
	for _, handle := range d.tokens {
		b.registry.Register(handle)
	}
	b.registry.SetEmitter(b.recorder)

	b.engine = exchange.NewEngine(d.params)
	b.engine.SetState(state.Namespace(b.overlay, d.Namespace()))
	b.engine.SetWitness(b.witness)
	b.engine.SetChain(chain{height: height, tx: tx})
	b.engine.SetTokens(b.registry)
	if d.native != nil {
		b.engine.SetNativeBalances(d.native)
	}
	b.engine.SetEmitter(b.recorder)
	return b
}

// View runs fn against committed state. Writes made by fn are dropped.
func (d *Dispatcher) View(fn func(e *exchange.Engine, tokens *token.Registry) error) error {
	b := d.bind(&types.Transaction{Type: types.TxTypeInvocation}, 0, nil)
	defer b.overlay.Discard()
	return fn(b.engine, b.registry)
}

// Mutate runs fn with the given witnesses and commits its writes when fn
// succeeds. It is meant for genesis style setup such as minting local
// tokens.
func (d *Dispatcher) Mutate(height uint64, witnesses []types.Address, fn func(e *exchange.Engine, tokens *token.Registry) error) error {
	b := d.bind(&types.Transaction{Type: types.TxTypeInvocation}, height, witnesses)
	if err := fn(b.engine, b.registry); err != nil {
		b.overlay.Discard()
		return err
	}
	return b.overlay.Commit()
}

// Dispatch runs one invocation. Operation failures are reported in the
// result; the returned error covers malformed transactions and failures to
// persist state or the journal.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (*Result, error) {
	start := time.Now()
	res := &Result{ID: uuid.New(), Operation: inv.Operation, Trigger: inv.Trigger}

	ctx, span := d.tracer.Start(ctx, "exchange."+inv.Operation, trace.WithAttributes(
		attribute.String("aphdex.operation", inv.Operation),
		attribute.String("aphdex.trigger", inv.Trigger.String()),
		attribute.String("aphdex.invocation_id", res.ID.String()),
		attribute.Int64("aphdex.height", int64(inv.Height)),
	))
	defer span.End()

	tx := inv.Tx
	if tx == nil {
		tx = &types.Transaction{Type: types.TxTypeInvocation}
	}
	if err := tx.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed transaction")
		return nil, fmt.Errorf("dispatch: %s: %w", inv.Operation, err)
	}

	b := d.bind(tx, inv.Height, inv.Witnesses)
	err := d.route(b, inv, tx, res)
	res.Success = err == nil
	res.Err = err
	res.Events = b.recorder.Bodies()
	res.Writes = b.overlay.Pending()

	if res.Success && inv.Trigger == TriggerApplication {
		if cerr := b.overlay.Commit(); cerr != nil {
			span.RecordError(cerr)
			span.SetStatus(codes.Error, "commit failed")
			return nil, fmt.Errorf("dispatch: %s: %w", inv.Operation, cerr)
		}
	} else {
		b.overlay.Discard()
		if !res.Success {
			res.Writes = 0
		}
	}
	res.Duration = time.Since(start)

	forwarded := d.forward(res)
	d.observe(span, res)

	if d.journal != nil && len(forwarded) > 0 {
		rec := journal.Record{
			InvocationID: res.ID,
			Operation:    inv.Operation,
			Height:       inv.Height,
			Success:      res.Success,
			Events:       forwarded,
		}
		if jerr := d.journal.Append(ctx, rec); jerr != nil {
			d.logger.Error("journal append failed",
				slog.String("invocation_id", res.ID.String()),
				slog.Any("error", jerr))
			return res, fmt.Errorf("dispatch: journal: %w", jerr)
		}
	}
	return res, nil
}

// forward hands the invocation's events downstream. A failed invocation
// leaves no state behind, so only its failure notifications travel on.
func (d *Dispatcher) forward(res *Result) []*types.Event {
	out := make([]*types.Event, 0, len(res.Events))
	for _, evt := range res.Events {
		if !res.Success && !isFailureEvent(evt) {
			continue
		}
		out = append(out, evt)
		d.emitter.Emit(notification{evt: withInvocation(evt, res.ID)})
	}
	return out
}

func isFailureEvent(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	switch evt.Type {
	case EventTypeFailure, EventTypeNoSender:
		return true
	}
	_, ok := evt.Attributes["reason"]
	return ok
}

func withInvocation(evt *types.Event, id uuid.UUID) *types.Event {
	out := types.NewEvent(evt.Type)
	for k, v := range evt.Attributes {
		out.With(k, v)
	}
	return out.With("invocation_id", id.String())
}

func (d *Dispatcher) observe(span trace.Span, res *Result) {
	kind := failureKind(res.Err)
	d.metrics.Observe(res.Operation, res.Success, kind, res.Writes, res.Duration)
	if res.Accept != nil {
		d.metrics.RecordFee(res.Accept.Fee)
	}

	attrs := []any{
		slog.String("operation", res.Operation),
		slog.String("trigger", res.Trigger.String()),
		slog.String("invocation_id", res.ID.String()),
		slog.Bool("success", res.Success),
		slog.Duration("duration", res.Duration),
	}
	if res.HasSender {
		attrs = append(attrs, slog.String("sender", res.Sender.String()))
	}
	span.SetAttributes(attribute.Bool("aphdex.success", res.Success))
	if res.Success {
		d.logger.Info("exchange invocation", attrs...)
		span.SetStatus(codes.Ok, "")
		return
	}
	attrs = append(attrs, slog.String("reason", res.Reason()), slog.String("kind", kind))
	d.logger.Warn("exchange invocation failed", attrs...)
	span.SetAttributes(attribute.String("aphdex.failure_kind", kind))
	span.SetStatus(codes.Error, res.Reason())
}

func failureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case exchange.KindOf(err) != 0:
		return exchange.KindOf(err).String()
	case errors.Is(err, ErrBadArguments):
		return "arguments"
	case errors.Is(err, ErrNoSender), errors.Is(err, ErrTooManyAttributes):
		return "authorization"
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrUnknownTrigger):
		return "unknown_operation"
	default:
		return "storage"
	}
}

func asExchangeError(err error, target **exchange.Error) bool {
	return errors.As(err, target)
}

// notification adapts a types.Event to the events.Event interface.
type notification struct {
	evt *types.Event
}

func (n notification) EventType() string   { return n.evt.Type }
func (n notification) Event() *types.Event { return n.evt }
