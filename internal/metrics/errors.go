package metrics

import "errors"

// Error taxonomy of the aggregation core. Summary-style aggregations absorb
// ErrUpstreamUnavailable per sub-source and return partial results; OEE is
// all-or-nothing. Authentication errors are always surfaced, never absorbed.
// No operation is retried here; retry policy belongs to the transport.
var (
	ErrNotAuthenticated    = errors.New("metrics: not authenticated")
	ErrNotAuthorized       = errors.New("metrics: not authorized")
	ErrUpstreamUnavailable = errors.New("metrics: upstream unavailable")
	ErrInvalidRange        = errors.New("metrics: end must be after start")
	ErrDivisionByZero      = errors.New("metrics: insufficient data for the selected window")
	ErrMalformedResponse   = errors.New("metrics: malformed upstream response")
	ErrInvalidInput        = errors.New("metrics: invalid input")

	// ErrNoData distinguishes "no samples available" from "zero production".
	ErrNoData = errors.New("metrics: no data")
)
