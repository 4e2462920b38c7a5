package research

import (
	"errors"
	"fmt"
)

// RateLimitedError indicates provider backpressure. The client handles it
// with the shared adaptive backoff rather than the transient retry schedule.
type RateLimitedError struct {
	Err error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// FatalError is surfaced once a retry ceiling is exhausted or the failure
// is not retryable at all. RateLimited records whether the exhaustion was
// driven by backpressure; the pipeline uses this to skip caching.
type FatalError struct {
	Err         error
	Attempts    int
	RateLimited bool
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("research failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ParseError indicates the raw response contained no extractable record.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no extractable record in response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRateLimited reports whether the error chain stems from provider
// backpressure, either directly or via a rate-limit-exhausted FatalError.
// This is the typed check that replaces matching on "429" in messages.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var fatal *FatalError
	return errors.As(err, &fatal) && fatal.RateLimited
}

// IsParseError reports whether the error chain contains a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
