package tsa

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testAuthority is a self-signed timestamping authority for tests.
type testAuthority struct {
	cert   *x509.Certificate
	signer crypto.Signer
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test TSA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &testAuthority{cert: cert, signer: key}
}

func (a *testAuthority) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.cert)
	return pool
}

func (a *testAuthority) sign(t *testing.T, req *TimeStampReq) *Token {
	t.Helper()
	token, err := CreateToken(req, &SignerConfig{
		Certificate: a.cert,
		Signer:      a.signer,
	}, big.NewInt(42))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return token
}

// serve responds to timestamp queries like a real RFC 3161 endpoint.
func (a *testAuthority) serve(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req, err := ParseRequest(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		token := a.sign(t, req)
		out, err := MarshalResponse(token, nil)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", responseContentType)
		w.Write(out)
	}
}

func TestU_Request_Validation(t *testing.T) {
	digest := sha256.Sum256([]byte("payload"))

	t.Run("[Unit] round-trips through DER", func(t *testing.T) {
		req, err := NewRequest(crypto.SHA256, digest[:], big.NewInt(7), nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		der, err := req.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		parsed, err := ParseRequest(der)
		if err != nil {
			t.Fatalf("ParseRequest: %v", err)
		}
		alg, err := parsed.HashAlgorithm()
		if err != nil {
			t.Fatalf("HashAlgorithm: %v", err)
		}
		if alg != crypto.SHA256 {
			t.Errorf("hash algorithm = %v, want SHA256", alg)
		}
		if parsed.Nonce.Cmp(big.NewInt(7)) != 0 {
			t.Errorf("nonce = %v, want 7", parsed.Nonce)
		}
		if !parsed.CertReq {
			t.Error("certReq not set: tokens must embed the signer certificate")
		}
	})

	t.Run("[Unit] rejects digest length mismatch", func(t *testing.T) {
		if _, err := NewRequest(crypto.SHA256, digest[:16], nil, nil); err == nil {
			t.Error("expected error for truncated digest")
		}
	})
}

func TestU_Token_CreateAndVerify(t *testing.T) {
	authority := newTestAuthority(t)
	digest := sha256.Sum256([]byte("document bytes"))
	nonce := big.NewInt(123456789)

	req, err := NewRequest(crypto.SHA256, digest[:], nonce, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	token := authority.sign(t, req)

	t.Run("[Unit] verifies against trust anchors", func(t *testing.T) {
		verified, err := VerifyToken(token.Raw, VerifyOptions{
			Digest:  digest[:],
			HashAlg: crypto.SHA256,
			Nonce:   nonce,
			Roots:   authority.roots(),
		})
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		if verified.SerialNumber().Int64() != 42 {
			t.Errorf("serial = %v, want 42", verified.SerialNumber())
		}
		if verified.GenTime().IsZero() {
			t.Error("genTime is zero")
		}
	})

	t.Run("[Unit] rejects wrong digest", func(t *testing.T) {
		other := sha256.Sum256([]byte("different bytes"))
		_, err := VerifyToken(token.Raw, VerifyOptions{
			Digest: other[:],
			Roots:  authority.roots(),
		})
		if !errors.Is(err, ErrHashMismatch) {
			t.Errorf("error = %v, want ErrHashMismatch", err)
		}
	})

	t.Run("[Unit] rejects wrong nonce", func(t *testing.T) {
		_, err := VerifyToken(token.Raw, VerifyOptions{
			Digest: digest[:],
			Nonce:  big.NewInt(999),
			Roots:  authority.roots(),
		})
		if !errors.Is(err, ErrNonceMismatch) {
			t.Errorf("error = %v, want ErrNonceMismatch", err)
		}
	})

	t.Run("[Unit] rejects untrusted authority", func(t *testing.T) {
		other := newTestAuthority(t)
		_, err := VerifyToken(token.Raw, VerifyOptions{
			Digest: digest[:],
			Roots:  other.roots(),
		})
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("error = %v, want ErrVerificationFailed", err)
		}
	})

	t.Run("[Unit] detects tampered token bytes", func(t *testing.T) {
		tampered := append([]byte(nil), token.Raw...)
		tampered[len(tampered)-10] ^= 0xFF
		_, err := VerifyToken(tampered, VerifyOptions{
			Digest: digest[:],
			Roots:  authority.roots(),
		})
		if err == nil {
			t.Error("expected error for tampered token")
		}
	})
}

func TestU_Response_Rejection(t *testing.T) {
	out, err := MarshalResponse(nil, &PKIStatusInfo{
		Status:       StatusRejection,
		StatusString: []string{"unsupported algorithm"},
	})
	if err != nil {
		t.Fatalf("MarshalResponse: %v", err)
	}
	_, _, err = ParseResponse(out)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("error = %v, want ErrRejected", err)
	}
}

func TestF_Client_Failover(t *testing.T) {
	authority := newTestAuthority(t)
	digest := sha256.Sum256([]byte("failover payload"))
	nonce := big.NewInt(31337)

	var primaryHits, tertiaryHits atomic.Int32

	// Primary always returns 500.
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	// Secondary hangs past the client timeout.
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer secondary.Close()

	// Tertiary grants the token.
	tertiary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tertiaryHits.Add(1)
		authority.serve(t)(w, r)
	}))
	defer tertiary.Close()

	short := &http.Client{Timeout: 50 * time.Millisecond}
	failover := &Failover{
		Clients: []Client{
			&HTTPClient{Provider: Provider{Name: "primary", URL: primary.URL}, HTTP: short},
			&HTTPClient{Provider: Provider{Name: "secondary", URL: secondary.URL}, HTTP: short},
			&HTTPClient{Provider: Provider{Name: "tertiary", URL: tertiary.URL}, HTTP: short},
		},
	}

	token, err := failover.Timestamp(context.Background(), crypto.SHA256, digest[:], nonce)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if _, err := VerifyToken(token.Raw, VerifyOptions{
		Digest: digest[:],
		Nonce:  nonce,
		Roots:  authority.roots(),
	}); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got := primaryHits.Load(); got != int32(attemptsPerProvider) {
		t.Errorf("primary hits = %d, want %d", got, attemptsPerProvider)
	}
	if got := tertiaryHits.Load(); got != 1 {
		t.Errorf("tertiary hits = %d, want 1", got)
	}
}

func TestF_Client_AllProvidersFailed(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	failover := &Failover{
		Clients: []Client{
			&HTTPClient{Provider: Provider{Name: "down", URL: down.URL}, HTTP: http.DefaultClient},
		},
	}
	digest := sha256.Sum256([]byte("x"))
	_, err := failover.Timestamp(context.Background(), crypto.SHA256, digest[:], nil)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("error = %v, want ErrAllProvidersFailed", err)
	}
}
