// Package revocation checks certificate status for long-term validation
// of signing artifacts. OCSP is consulted first; when every OCSP
// responder fails, the certificate's CRL distribution points are tried
// as a fallback.
package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	ocspTimeout = 2 * time.Second
	crlTimeout  = 10 * time.Second

	maxResponseBytes = 8 << 20
)

// Status is the revocation status of a certificate.
type Status string

const (
	StatusGood    Status = "good"
	StatusRevoked Status = "revoked"

	// StatusUnknown means no authoritative source answered.
	StatusUnknown Status = "unknown"
)

// Sentinel errors for revocation checks.
var (
	// ErrNoSource indicates the certificate names neither OCSP
	// responders nor CRL distribution points.
	ErrNoSource = errors.New("certificate names no revocation source")

	// ErrSourceUnavailable indicates every named source failed.
	ErrSourceUnavailable = errors.New("revocation sources unavailable")

	// ErrStaleCRL indicates the CRL's NextUpdate has passed.
	ErrStaleCRL = errors.New("certificate revocation list is stale")
)

// RevocationError carries the failing source context.
type RevocationError struct {
	Op     string // "ocsp", "crl"
	Source string // responder or distribution point URL
	Err    error
}

func (e *RevocationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("revocation %s [%s]: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("revocation %s: %v", e.Op, e.Err)
}

func (e *RevocationError) Unwrap() error { return e.Err }

// Result is the outcome of one status check.
type Result struct {
	Status Status `json:"status"`

	// Source records which mechanism answered: "ocsp" or "crl".
	Source string `json:"source,omitempty"`

	CheckedAt  time.Time  `json:"checked_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	NextUpdate *time.Time `json:"next_update,omitempty"`
}

// Checker resolves certificate status against the sources the
// certificate itself names.
type Checker struct {
	// HTTP overrides the transport. The per-source timeouts still
	// apply through request contexts.
	HTTP *http.Client

	// Now overrides the clock for staleness checks.
	Now func() time.Time

	// Logf receives non-fatal per-source failures.
	Logf func(format string, args ...any)
}

// NewChecker builds a checker with the default transport.
func NewChecker() *Checker {
	return &Checker{HTTP: &http.Client{}}
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Checker) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Checker) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Check resolves the certificate's revocation status. OCSP responders
// are tried in declared order; if none answers, each CRL distribution
// point is tried. When every source fails the result is StatusUnknown
// together with ErrSourceUnavailable.
func (c *Checker) Check(ctx context.Context, cert, issuer *x509.Certificate) (*Result, error) {
	if cert == nil || issuer == nil {
		return nil, &RevocationError{Op: "check", Err: fmt.Errorf("certificate and issuer are required")}
	}
	if len(cert.OCSPServer) == 0 && len(cert.CRLDistributionPoints) == 0 {
		return nil, &RevocationError{Op: "check", Err: ErrNoSource}
	}

	var lastErr error
	for _, url := range cert.OCSPServer {
		res, err := c.checkOCSP(ctx, url, cert, issuer)
		if err == nil {
			return res, nil
		}
		lastErr = err
		c.logf("revocation: ocsp responder %s failed: %v", url, err)
	}
	for _, url := range cert.CRLDistributionPoints {
		res, err := c.checkCRL(ctx, url, cert, issuer)
		if err == nil {
			return res, nil
		}
		lastErr = err
		c.logf("revocation: crl distribution point %s failed: %v", url, err)
	}

	return &Result{Status: StatusUnknown, CheckedAt: c.now()},
		&RevocationError{Op: "check", Err: fmt.Errorf("%w: last: %v", ErrSourceUnavailable, lastErr)}
}
