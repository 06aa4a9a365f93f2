package revocation

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
)

// checkCRL downloads one distribution point, verifies the list against
// the issuer, and scans it for the certificate's serial.
func (c *Checker) checkCRL(ctx context.Context, url string, cert, issuer *x509.Certificate) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, crlTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RevocationError{Op: "crl", Source: url, Err: err}
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, &RevocationError{Op: "crl", Source: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RevocationError{Op: "crl", Source: url, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RevocationError{Op: "crl", Source: url, Err: err}
	}

	list, err := x509.ParseRevocationList(body)
	if err != nil {
		return nil, &RevocationError{Op: "crl", Source: url, Err: err}
	}
	if err := list.CheckSignatureFrom(issuer); err != nil {
		return nil, &RevocationError{Op: "crl", Source: url, Err: err}
	}
	now := c.now()
	if !list.NextUpdate.IsZero() && now.After(list.NextUpdate) {
		return nil, &RevocationError{Op: "crl", Source: url, Err: ErrStaleCRL}
	}

	res := &Result{Status: StatusGood, Source: "crl", CheckedAt: now}
	if !list.NextUpdate.IsZero() {
		next := list.NextUpdate
		res.NextUpdate = &next
	}
	for _, entry := range list.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			res.Status = StatusRevoked
			revokedAt := entry.RevocationTime
			res.RevokedAt = &revokedAt
			res.Reason = revocationReasonString(entry.ReasonCode)
			break
		}
	}
	return res, nil
}
