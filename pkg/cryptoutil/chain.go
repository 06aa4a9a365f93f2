package cryptoutil

import (
	"crypto/x509"
	"fmt"
	"time"
)

// VerifyChainAt verifies that cert chains to one of the given roots
// through the optional intermediates, valid at the given instant.
// eku restricts acceptable extended key usages; pass nil for any.
func VerifyChainAt(cert *x509.Certificate, roots, intermediates *x509.CertPool, at time.Time, eku []x509.ExtKeyUsage) error {
	if cert == nil {
		return fmt.Errorf("certificate is required")
	}
	if roots == nil {
		return fmt.Errorf("trust anchors are required")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
	}
	if eku != nil {
		opts.KeyUsages = eku
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain verification failed: %w", err)
	}
	return nil
}

// WithinValidity reports whether t falls inside the certificate's
// NotBefore/NotAfter window.
func WithinValidity(cert *x509.Certificate, t time.Time) bool {
	return !t.Before(cert.NotBefore) && !t.After(cert.NotAfter)
}
