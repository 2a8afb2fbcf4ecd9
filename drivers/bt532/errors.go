package bt532

import (
	"errors"
	"fmt"
)

// Stable sentinel strings; the service maps these to bus error codes.
var (
	ErrTransport          = errors.New("transport")
	ErrChecksumMismatch   = errors.New("checksum_mismatch")
	ErrCalibrationTimeout = errors.New("calibration_timeout")
	ErrVerifyMismatch     = errors.New("verify_mismatch")
	ErrInvalidFrame       = errors.New("invalid_frame")
	ErrBadImage           = errors.New("bad_image")
	ErrWriteTimeout       = errors.New("write_timeout")
	ErrNoImage            = errors.New("no_image")
	ErrNotPowered         = errors.New("not_powered")
)

// TransportError records the register and direction of a failed bus call.
type TransportError struct {
	Op  string // "read", "write", "cmd"
	Reg uint16
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s 0x%04X: %v", e.Op, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// VerifyError reports the first differing byte of a flash readback.
type VerifyError struct {
	Offset int
	Want   byte
	Got    byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify mismatch at 0x%05X: want 0x%02X, got 0x%02X", e.Offset, e.Want, e.Got)
}

func (e *VerifyError) Unwrap() error { return ErrVerifyMismatch }

// RetryError is returned once a bounded retry loop gives up.
type RetryError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }
