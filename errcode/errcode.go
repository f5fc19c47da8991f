package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"
	Closed        Code = "closed"

	// Transfer outcomes reported by the bus state machine.
	AddressNack     Code = "address_nack"
	DataNack        Code = "data_nack"
	ArbitrationLost Code = "arbitration_lost"
	BusError        Code = "bus_error"

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
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is match an *E against its bare Code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Retryable reports whether a caller may reasonably resubmit after err.
// Address NACKs are included: many devices refuse their address while busy.
func Retryable(err error) bool {
	switch Of(err) {
	case Busy, Timeout, ArbitrationLost, AddressNack:
		return true
	}
	return false
}
