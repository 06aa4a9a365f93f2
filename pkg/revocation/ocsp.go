package revocation

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/ocsp"
)

const (
	ocspRequestContentType  = "application/ocsp-request"
	ocspResponseContentType = "application/ocsp-response"
)

// checkOCSP queries one responder and maps its answer to a Result.
func (c *Checker) checkOCSP(ctx context.Context, url string, cert, issuer *x509.Certificate) (*Result, error) {
	der, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, ocspTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(der))
	if err != nil {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: err}
	}
	httpReq.Header.Set("Content-Type", ocspRequestContentType)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: err}
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, &RevocationError{Op: "ocsp", Source: url, Err: err}
	}

	res := &Result{Source: "ocsp", CheckedAt: c.now()}
	if !parsed.NextUpdate.IsZero() {
		next := parsed.NextUpdate
		res.NextUpdate = &next
	}
	switch parsed.Status {
	case ocsp.Good:
		res.Status = StatusGood
	case ocsp.Revoked:
		res.Status = StatusRevoked
		revokedAt := parsed.RevokedAt
		res.RevokedAt = &revokedAt
		res.Reason = revocationReasonString(parsed.RevocationReason)
	default:
		res.Status = StatusUnknown
	}
	return res, nil
}

func revocationReasonString(reason int) string {
	switch reason {
	case ocsp.KeyCompromise:
		return "key_compromise"
	case ocsp.CACompromise:
		return "ca_compromise"
	case ocsp.AffiliationChanged:
		return "affiliation_changed"
	case ocsp.Superseded:
		return "superseded"
	case ocsp.CessationOfOperation:
		return "cessation_of_operation"
	case ocsp.CertificateHold:
		return "certificate_hold"
	case ocsp.RemoveFromCRL:
		return "remove_from_crl"
	case ocsp.PrivilegeWithdrawn:
		return "privilege_withdrawn"
	case ocsp.AACompromise:
		return "aa_compromise"
	default:
		return "unspecified"
	}
}
