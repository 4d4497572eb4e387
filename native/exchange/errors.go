package exchange

import (
	"errors"
	"fmt"
	"strings"

	"aphdex/core/types"
)

// Kind classifies why an operation was rejected.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindInsufficientFunds
	KindInvariant
	KindStorage
)

var (
	ErrValidation        = errors.New("exchange: invalid input")
	ErrAuthorization     = errors.New("exchange: not authorized")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
	ErrInvariant         = errors.New("exchange: invariant violated")
	ErrStorage           = errors.New("exchange: storage failure")

	errNilState  = errors.New("exchange engine: state not configured")
	errNilChain  = errors.New("exchange engine: chain not configured")
	errNilTokens = errors.New("exchange engine: token resolver not configured")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthorization:
		return ErrAuthorization
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	case KindInvariant:
		return ErrInvariant
	default:
		return ErrStorage
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInvariant:
		return "invariant"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

type attr struct {
	key   string
	value string
}

// Error is the rejection of one operation. Tag is the leading tag of the
// failure event emitted for it.
type Error struct {
	Kind   Kind
	Tag    string
	Reason string
	Err    error

	attrs    []attr
	reported bool
}

func newError(kind Kind, tag, reason string) *Error {
	return &Error{Kind: kind, Tag: tag, Reason: reason}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("exchange: ")
	b.WriteString(e.Tag)
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

func (e *Error) Unwrap() error { return e.Err }

// With attaches a context value rendered into the failure event.
func (e *Error) With(key, value string) *Error {
	e.attrs = append(e.attrs, attr{key: key, value: value})
	return e
}

// Attr returns a context value attached with With.
func (e *Error) Attr(key string) string {
	for _, a := range e.attrs {
		if a.key == key {
			return a.value
		}
	}
	return ""
}

func (e *Error) withAddress(key string, addr types.Address) *Error {
	return e.With(key, addr.String())
}

func (e *Error) event() *types.Event {
	evt := types.NewEvent(e.Tag).With("reason", e.Reason).With("kind", e.Kind.String())
	for _, a := range e.attrs {
		evt.With(a.key, a.value)
	}
	if e.Err != nil {
		evt.With("error", e.Err.Error())
	}
	return evt
}

func storageError(tag string, err error) *Error {
	return &Error{Kind: KindStorage, Tag: tag, Reason: "storage failure", Err: err}
}

// KindOf reports the kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}
