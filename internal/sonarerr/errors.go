package sonarerr

import (
	"errors"
	"fmt"
)

// Kind classifies failures that abort a run.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig covers bad port specs, invalid timeouts or concurrency and
	// any other setting rejected before the network is touched.
	KindConfig
	// KindDatabase covers a missing or unreadable signature database.
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// Error captures contextual information for run-aborting failures.
type Error struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error with the provided context.
func E(op string, kind Kind, msg string, err error) error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: err}
}

// Config is shorthand for E(op, KindConfig, msg, err).
func Config(op, msg string, err error) error {
	return E(op, KindConfig, msg, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfig reports whether err is a configuration-class failure, which
// includes signature database errors.
func IsConfig(err error) bool {
	k := KindOf(err)
	return k == KindConfig || k == KindDatabase
}
