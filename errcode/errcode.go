package errcode

import "errors"

// Code is a stable error kind shared by every transport in the I/O layer.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	InvalidArgument     Code = "invalid_argument"     // nil/mismatched buffer, bad bus id, zero length
	ResourceBusy        Code = "resource_busy"        // double init of a live handle
	ResourceUnavailable Code = "resource_unavailable" // operate after deinit
	DeviceNotReady      Code = "device_not_ready"     // operate before init
	OutOfMemory         Code = "out_of_memory"        // handle buffer budget exhausted
	HardwareFault       Code = "hardware_fault"       // peripheral/DMA failure from the HAL

	Error Code = "error" // generic fallback
)

// E keeps an operation name and a cause alongside the Code.
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

// Is lets errors.Is(err, errcode.ResourceBusy) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New returns an *E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap attaches c and op to a lower-level error. A nil err yields nil.
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
