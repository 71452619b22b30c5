package apikey

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a record store failure.
type Kind int

const (
	// KindStore is any remote fault not covered by a more specific kind.
	KindStore Kind = iota
	// KindConnectivity covers timeouts and unreachable stores.
	KindConnectivity
	// KindAuth covers rejected credentials and permission denials.
	KindAuth
	// KindSchema covers a missing table or missing columns.
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuth:
		return "auth"
	case KindSchema:
		return "schema"
	default:
		return "store"
	}
}

// Sentinels matched by StoreError.Is, one per Kind.
var (
	ErrConnectivity = errors.New("record store unreachable")
	ErrAuth         = errors.New("record store rejected credentials")
	ErrSchema       = errors.New("record store schema missing")
	ErrStore        = errors.New("record store error")
)

// Local validation errors, raised before any remote call.
var (
	ErrInvalidDraft = errors.New("invalid key draft")
	ErrEmptyPatch   = errors.New("nothing to update")
	ErrNoSecret     = errors.New("secret is required")
)

// StoreError is a classified record store failure. Message carries the
// store's own description and is safe to show to users.
type StoreError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches the sentinel belonging to the error's Kind.
func (e *StoreError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnectivity:
		return ErrConnectivity
	case KindAuth:
		return ErrAuth
	case KindSchema:
		return ErrSchema
	default:
		return ErrStore
	}
}

// NewStoreError builds a StoreError of the given kind.
func NewStoreError(kind Kind, op, msg string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are KindStore.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStore
}

// MessageOf returns the store-supplied message of err, or err's text when
// the error is not a StoreError.
func MessageOf(err error) string {
	var se *StoreError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}
