package bt532

import "errors"

// permanentError stops a retry loop early.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks err as not worth retrying.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// retry runs fn up to n times and returns nil on the first success. The
// attempt index starts at 0. A permanent error ends the loop immediately
// and is returned unwrapped.
func retry(n int, op string, fn func(attempt int) error) error {
	if n < 1 {
		n = 1
	}
	var last error
	for i := 0; i < n; i++ {
		last = fn(i)
		if last == nil {
			return nil
		}
		var p permanentError
		if errors.As(last, &p) {
			return p.err
		}
	}
	return &RetryError{Op: op, Attempts: n, Last: last}
}
