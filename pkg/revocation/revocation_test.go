package revocation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

type testAuthority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Signet Test Issuing CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}
	return &testAuthority{cert: cert, key: key}
}

// issue creates a leaf naming the given revocation sources.
func (a *testAuthority) issue(t *testing.T, serial int64, ocspURL, crlURL string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if ocspURL != "" {
		template.OCSPServer = []string{ocspURL}
	}
	if crlURL != "" {
		template.CRLDistributionPoints = []string{crlURL}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	return cert
}

// serveOCSP answers every request with the given template.
func (a *testAuthority) serveOCSP(t *testing.T, template ocsp.Response) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		der, err := ocsp.CreateResponse(a.cert, a.cert, template, a.key)
		if err != nil {
			t.Errorf("create ocsp response: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ocspResponseContentType)
		w.Write(der)
	}))
}

// serveCRL answers with a signed revocation list for the given entries.
func (a *testAuthority) serveCRL(t *testing.T, entries []x509.RevocationListEntry) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		template := &x509.RevocationList{
			Number:                    big.NewInt(7),
			ThisUpdate:                time.Now().Add(-time.Minute),
			NextUpdate:                time.Now().Add(time.Hour),
			RevokedCertificateEntries: entries,
		}
		der, err := x509.CreateRevocationList(rand.Reader, template, a.cert, a.key)
		if err != nil {
			t.Errorf("create crl: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(der)
	}))
}

func serveError() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func TestU_Check_OCSPGood(t *testing.T) {
	ca := newTestAuthority(t)
	leafSerial := int64(100)
	srv := ca.serveOCSP(t, ocsp.Response{
		SerialNumber: big.NewInt(leafSerial),
		Status:       ocsp.Good,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	defer srv.Close()
	leaf := ca.issue(t, leafSerial, srv.URL, "")

	checker := NewChecker()
	res, err := checker.Check(context.Background(), leaf, ca.cert)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusGood {
		t.Errorf("status = %s, want good", res.Status)
	}
	if res.Source != "ocsp" {
		t.Errorf("source = %s, want ocsp", res.Source)
	}
	if res.NextUpdate == nil {
		t.Error("next update not carried through")
	}
}

func TestU_Check_OCSPRevoked(t *testing.T) {
	ca := newTestAuthority(t)
	leafSerial := int64(101)
	revokedAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	srv := ca.serveOCSP(t, ocsp.Response{
		SerialNumber:     big.NewInt(leafSerial),
		Status:           ocsp.Revoked,
		RevokedAt:        revokedAt,
		RevocationReason: ocsp.KeyCompromise,
		ThisUpdate:       time.Now().Add(-time.Minute),
		NextUpdate:       time.Now().Add(time.Hour),
	})
	defer srv.Close()
	leaf := ca.issue(t, leafSerial, srv.URL, "")

	res, err := NewChecker().Check(context.Background(), leaf, ca.cert)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusRevoked {
		t.Fatalf("status = %s, want revoked", res.Status)
	}
	if res.Reason != "key_compromise" {
		t.Errorf("reason = %s, want key_compromise", res.Reason)
	}
	if res.RevokedAt == nil || !res.RevokedAt.Equal(revokedAt) {
		t.Errorf("revoked at = %v, want %v", res.RevokedAt, revokedAt)
	}
}

// OCSP down, CRL authoritative: the fallback must answer.
func TestF_Check_CRLFallback(t *testing.T) {
	ca := newTestAuthority(t)
	leafSerial := int64(102)

	brokenOCSP := serveError()
	defer brokenOCSP.Close()
	crl := ca.serveCRL(t, []x509.RevocationListEntry{
		{
			SerialNumber:   big.NewInt(leafSerial),
			RevocationTime: time.Now().Add(-time.Hour),
			ReasonCode:     1, // key compromise
		},
	})
	defer crl.Close()
	leaf := ca.issue(t, leafSerial, brokenOCSP.URL, crl.URL)

	checker := NewChecker()
	checker.Logf = t.Logf
	res, err := checker.Check(context.Background(), leaf, ca.cert)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusRevoked {
		t.Errorf("status = %s, want revoked", res.Status)
	}
	if res.Source != "crl" {
		t.Errorf("source = %s, want crl", res.Source)
	}
}

func TestU_Check_CRLGood(t *testing.T) {
	ca := newTestAuthority(t)
	crl := ca.serveCRL(t, nil)
	defer crl.Close()
	leaf := ca.issue(t, 103, "", crl.URL)

	res, err := NewChecker().Check(context.Background(), leaf, ca.cert)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusGood || res.Source != "crl" {
		t.Errorf("got %s via %s, want good via crl", res.Status, res.Source)
	}
}

func TestU_Check_AllSourcesDown(t *testing.T) {
	ca := newTestAuthority(t)
	broken := serveError()
	defer broken.Close()
	leaf := ca.issue(t, 104, broken.URL, broken.URL)

	checker := NewChecker()
	checker.Logf = t.Logf
	res, err := checker.Check(context.Background(), leaf, ca.cert)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}
	if res == nil || res.Status != StatusUnknown {
		t.Errorf("result = %+v, want unknown status", res)
	}
}

func TestU_Check_NoSource(t *testing.T) {
	ca := newTestAuthority(t)
	leaf := ca.issue(t, 105, "", "")

	_, err := NewChecker().Check(context.Background(), leaf, ca.cert)
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("error = %v, want ErrNoSource", err)
	}
}
