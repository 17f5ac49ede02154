package pool

import (
	"errors"
	"fmt"

	"tdx-datafeed/internal/domain"
)

// Pool errors. Endpoint-scoped failures carry the endpoint so callers can
// branch exhaustively with errors.As instead of sniffing message text.
var (
	// ErrExhausted means no endpoint could serve the request at all.
	ErrExhausted = errors.New("pool: no endpoints available")
	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool: closed")
)

// TransientError marks a single-endpoint failure (connect refused, reset,
// timeout, malformed response). It is absorbed by retrying against the next
// endpoint in round-robin order.
type TransientError struct {
	Endpoint domain.Endpoint
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure on %s: %v", e.Endpoint.Key(), e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitedError marks an endpoint skipped because it exceeded the request
// rate threshold in the current window.
type RateLimitedError struct {
	Endpoint domain.Endpoint
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("endpoint %s rate limited", e.Endpoint.Key())
}
