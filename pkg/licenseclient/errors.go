package licenseclient

import "fmt"

// NoLicensesAvailableError means the server answered 409 on borrow: the pool
// for the tool is exhausted (or at max overage). This is a normal negative
// outcome under contention, not a bug.
type NoLicensesAvailableError struct {
	Tool string
	Body string
}

func (e *NoLicensesAvailableError) Error() string {
	return fmt.Sprintf("no licenses available: tool=%q", e.Tool)
}

// HTTPStatusError is any non-2xx response other than 409-on-borrow.
type HTTPStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}

// DecodeError means the response body did not match the expected shape.
type DecodeError struct {
	Path string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %s: %v body=%q", e.Path, e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrAlreadyReturned is reported on a second Return of the same handle.
// Double-return is a caller bug; it never silently succeeds.
var ErrAlreadyReturned = fmt.Errorf("license already returned")
