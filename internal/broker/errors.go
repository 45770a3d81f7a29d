package broker

import "errors"

// Sentinel errors callers branch on. REST and stream operations wrap these
// with request context; use errors.Is to test.
var (
	// ErrNotAuthenticated indicates no valid session token is held and
	// re-authentication did not recover one.
	ErrNotAuthenticated = errors.New("broker: not authenticated")

	// ErrNotConnected indicates the stream or client is not connected.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrRequestTimeout indicates a framed stream request received no reply
	// within the reply window and its id was evicted.
	ErrRequestTimeout = errors.New("broker: request timed out")

	// ErrRejected indicates the broker understood the request and refused it.
	ErrRejected = errors.New("broker: rejected")

	// ErrContractNotFound indicates a symbol lookup returned no contract.
	ErrContractNotFound = errors.New("broker: contract not found")
)
