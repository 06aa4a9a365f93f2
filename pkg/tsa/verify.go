package tsa

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// VerifyOptions controls token verification.
type VerifyOptions struct {
	// Digest is the message imprint the token must cover.
	Digest []byte

	// HashAlg, when set, must match the token's imprint algorithm.
	HashAlg crypto.Hash

	// Nonce, when set, must be echoed by the token.
	Nonce *big.Int

	// Roots anchors the authority certificate chain. When nil, only
	// the CMS signature is checked.
	Roots         *x509.CertPool
	Intermediates *x509.CertPool

	// At is the instant the chain must be valid at. Zero means the
	// token's own generation time.
	At time.Time
}

// VerifyToken parses a DER token and checks its signature, the
// authority certificate, and the message imprint against opts.
func VerifyToken(data []byte, opts VerifyOptions) (*Token, error) {
	token, err := ParseToken(data)
	if err != nil {
		return nil, err
	}

	cert := token.AuthorityCert()
	if cert == nil {
		return nil, &TSAError{Op: "verify",
			Err: fmt.Errorf("%w: token embeds no signer certificate", ErrVerificationFailed)}
	}
	if !hasTimestampingEKU(cert) {
		return nil, &TSAError{Op: "verify",
			Err: fmt.Errorf("%w: signer certificate lacks the timestamping key usage", ErrVerificationFailed)}
	}

	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(token.Raw, &contentInfo); err != nil {
		return nil, &TSAError{Op: "verify", Err: fmt.Errorf("%w: %v", ErrInvalidToken, err)}
	}
	var signedData SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, &TSAError{Op: "verify", Err: fmt.Errorf("%w: %v", ErrInvalidToken, err)}
	}
	if err := verifySignedData(&signedData, cert); err != nil {
		return nil, &TSAError{Op: "verify", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	if opts.Roots != nil {
		at := opts.At
		if at.IsZero() {
			at = token.GenTime()
		}
		if err := verifyAuthorityChain(token, opts.Roots, opts.Intermediates, at); err != nil {
			return nil, &TSAError{Op: "verify", Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
		}
	}

	if opts.Digest != nil && !bytes.Equal(token.Info.MessageImprint.HashedMessage, opts.Digest) {
		return nil, &TSAError{Op: "verify", Err: ErrHashMismatch}
	}
	if opts.HashAlg != 0 {
		alg, err := oidToHash(token.Info.MessageImprint.HashAlgorithm.Algorithm)
		if err != nil {
			return nil, &TSAError{Op: "verify", Err: err}
		}
		if alg != opts.HashAlg {
			return nil, &TSAError{Op: "verify",
				Err: fmt.Errorf("%w: imprint uses %v, want %v", ErrHashMismatch, alg, opts.HashAlg)}
		}
	}
	if opts.Nonce != nil {
		got := token.Info.Nonce
		if got == nil || got.Cmp(opts.Nonce) != 0 {
			return nil, &TSAError{Op: "verify", Err: ErrNonceMismatch}
		}
	}
	return token, nil
}

// verifyAuthorityChain chains the signer certificate to the given
// anchors through the token's own embedded intermediates.
func verifyAuthorityChain(token *Token, roots, extra *x509.CertPool, at time.Time) error {
	intermediates := x509.NewCertPool()
	for _, c := range token.Certificates[1:] {
		intermediates.AddCert(c)
	}
	if extra != nil {
		// Callers may supply intermediates the token omits.
		for _, c := range token.Certificates[1:] {
			extra.AddCert(c)
		}
		intermediates = extra
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}
	if _, err := token.AuthorityCert().Verify(opts); err != nil {
		return err
	}
	return nil
}

func hasTimestampingEKU(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageTimeStamping {
			return true
		}
	}
	return false
}
