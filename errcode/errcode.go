package errcode

import (
	"errors"

	"bt532-go/drivers/bt532"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"
	InvalidState   Code = "invalid_state"
	NotReady       Code = "not_ready"
	Timeout        Code = "timeout"

	Transport          Code = "transport"
	ChecksumMismatch   Code = "checksum_mismatch"
	CalibrationTimeout Code = "calibration_timeout"
	VerifyMismatch     Code = "verify_mismatch"
	InvalidFrame       Code = "invalid_frame"
	BadImage           Code = "bad_image"
	WriteTimeout       Code = "write_timeout"
	NoImage            Code = "no_image"
	FirmwareFailed     Code = "firmware_failed"
	BringupFailed      Code = "bringup_failed"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
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

// Wrap attaches a code and operation to err. A nil err stays nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// Of extracts a Code from an error, walking the wrap chain, and falls back
// to MapDriverErr.
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
	return MapDriverErr(err)
}

var driverCodes = []struct {
	err  error
	code Code
}{
	{bt532.ErrChecksumMismatch, ChecksumMismatch},
	{bt532.ErrCalibrationTimeout, CalibrationTimeout},
	{bt532.ErrVerifyMismatch, VerifyMismatch},
	{bt532.ErrInvalidFrame, InvalidFrame},
	{bt532.ErrBadImage, BadImage},
	{bt532.ErrWriteTimeout, WriteTimeout},
	{bt532.ErrNoImage, NoImage},
	{bt532.ErrNotPowered, NotReady},
	{bt532.ErrTransport, Transport},
}

// MapDriverErr maps controller driver errors to a Code. The most specific
// sentinel wins; transport comes last because it wraps most failures.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	for _, m := range driverCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return Error
}
