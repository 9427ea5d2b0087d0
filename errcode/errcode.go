package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Duplicate registration, out-of-range channel index, bad config values.
	ConfigurationError Code = "configuration_error"
	// Task queue at capacity; the event was dropped and counted.
	QueueFull Code = "queue_full"
	// Follow-up dispatch exceeded the chain depth limit.
	ChainTooDeep Code = "chain_too_deep"
	// A binding-table call reported a link failure.
	TransportError Code = "transport_error"
	// The MAC layer reported an error.
	ProtocolError Code = "protocol_error"

	Busy           Code = "busy"
	NotJoined      Code = "not_joined"
	InvalidPayload Code = "invalid_payload"
	Timeout        Code = "timeout"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New is shorthand for &E{C: c, Op: op, Msg: msg}.
func New(c Code, op, msg string) error { return &E{C: c, Op: op, Msg: msg} }

// Wrap attaches a code and operation to a cause. A nil cause returns nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Is reports whether err carries code c.
func Is(err error, c Code) bool { return Of(err) == c }
