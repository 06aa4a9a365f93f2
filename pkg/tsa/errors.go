// Package tsa implements the RFC 3161 Time-Stamp Protocol client side:
// request construction, response and token parsing, token verification,
// and a multi-provider client with failover.
package tsa

import (
	"errors"
	"fmt"
)

// TSAError represents a Time-Stamp Authority operation error with
// structured context. It supports errors.Is() and errors.As().
type TSAError struct {
	Op       string // "request", "submit", "response", "verify", "parse"
	Provider string // provider name, if the error is provider-specific
	Err      error
}

// Error implements the error interface.
func (e *TSAError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("tsa %s [%s]: %v", e.Op, e.Provider, e.Err)
	}
	return fmt.Sprintf("tsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TSAError) Unwrap() error { return e.Err }

// Sentinel errors for TSA operations.
var (
	// ErrUnavailable indicates the provider could not be reached or
	// timed out. Retryable; the failover client moves to the next
	// provider.
	ErrUnavailable = errors.New("tsa unavailable")

	// ErrRejected indicates the provider returned a non-granted status.
	// Fatal for this attempt; the failover client tries the next
	// provider.
	ErrRejected = errors.New("timestamp request rejected")

	// ErrAllProvidersFailed indicates every provider in the chain was
	// exhausted.
	ErrAllProvidersFailed = errors.New("all timestamp providers failed")

	// ErrInvalidResponse indicates the response is malformed.
	ErrInvalidResponse = errors.New("invalid timestamp response")

	// ErrInvalidToken indicates the timestamp token is malformed.
	ErrInvalidToken = errors.New("invalid timestamp token")

	// ErrNonceMismatch indicates the nonce in the response does not
	// match the request.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrHashMismatch indicates the message imprint does not match.
	ErrHashMismatch = errors.New("message digest mismatch")

	// ErrVerificationFailed indicates token signature verification
	// failed.
	ErrVerificationFailed = errors.New("timestamp verification failed")

	// ErrUnsupportedHashAlgorithm indicates the hash algorithm is not
	// supported.
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

	// ErrQualifiedRequired indicates the signing policy demands a
	// qualified provider but none is configured.
	ErrQualifiedRequired = errors.New("qualified timestamp provider required")
)
