package composite

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/cryptoutil"
	"github.com/signetlabs/signet/pkg/tsa"
)

// VerifyOptions controls offline verification of a composite.
type VerifyOptions struct {
	// DocumentContent, when set, is re-hashed and compared against the
	// recorded content hash.
	DocumentContent []byte

	// AuthorityRoots anchors the TSA certificate chain. Required for a
	// full verification; when nil only the CMS signature is checked.
	AuthorityRoots         *x509.CertPool
	AuthorityIntermediates *x509.CertPool

	// SignerRoots anchors the signer certificate chain. When nil the
	// signer chain is not checked (the validity window still is).
	SignerRoots         *x509.CertPool
	SignerIntermediates *x509.CertPool

	// At is the verification instant for chain checks. Zero means the
	// token's generation time.
	At time.Time
}

// VerifyReport lists every reason a composite failed verification. A
// composite is valid iff all checks pass.
type VerifyReport struct {
	CompositeID string    `json:"composite_id"`
	Valid       bool      `json:"valid"`
	Reasons     []string  `json:"reasons,omitempty"`
	TSATime     time.Time `json:"tsa_time,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Qualified   bool      `json:"qualified"`
}

// Verify checks a composite without contacting the authority: content
// hash, signature hash, token signature and chain, signer certificate
// window and chain, and temporal consistency. Every failed check adds a
// reason; verification continues so the report is complete.
func Verify(comp *Composite, opts VerifyOptions) *VerifyReport {
	report := &VerifyReport{
		CompositeID: comp.ID,
		Provider:    comp.Provider,
		Qualified:   comp.Qualified,
	}
	fail := func(format string, args ...any) {
		report.Reasons = append(report.Reasons, fmt.Sprintf(format, args...))
	}

	if opts.DocumentContent != nil && ContentHashOf(opts.DocumentContent) != comp.ContentHash {
		fail("document content does not match recorded hash %s", comp.ContentHash)
	}

	hashAlg := comp.HashAlgorithm
	if hashAlg == "" {
		hashAlg = cryptoutil.HashSHA256
	}
	hs, err := cryptoutil.Digest(hashAlg, comp.Signature)
	cryptoAlg, cryptoErr := cryptoutil.CryptoHash(hashAlg)
	if err != nil || cryptoErr != nil {
		fail("unsupported imprint hash algorithm %s", hashAlg)
	} else {
		if !cryptoutil.ConstantTimeEqual(hs, comp.SignatureHash) {
			fail("signature bytes do not match recorded signature hash")
		}
		token, err := tsa.VerifyToken(comp.Token, tsa.VerifyOptions{
			Digest:        hs,
			HashAlg:       cryptoAlg,
			Roots:         opts.AuthorityRoots,
			Intermediates: opts.AuthorityIntermediates,
			At:            opts.At,
		})
		if err != nil {
			fail("timestamp token: %v", err)
		} else {
			report.TSATime = token.GenTime()
			if err := checkTemporal(comp.SignTime, token.GenTime()); err != nil {
				fail("%v", err)
			}
		}
	}

	if cert, err := comp.SignerCertificate(); err != nil {
		fail("signer certificate: %v", err)
	} else if cert != nil {
		if !cryptoutil.WithinValidity(cert, comp.SignTime) {
			fail("signing time %s outside signer certificate validity", comp.SignTime.Format(time.RFC3339))
		}
		if opts.SignerRoots != nil {
			if err := cryptoutil.VerifyChainAt(cert, opts.SignerRoots, opts.SignerIntermediates, comp.SignTime, nil); err != nil {
				fail("signer chain: %v", err)
			}
		}
		if alg, err := cryptoutil.AlgorithmOf(cert.PublicKey); err != nil {
			fail("signer key: %v", err)
		} else {
			if err := cryptoutil.VerifySignature(cert.PublicKey, alg, []byte(comp.ContentHash), comp.Signature); err != nil {
				fail("signature does not verify against the signer certificate")
			}
			if comp.Qualified && !cryptoutil.QuantumSafe(alg) {
				fail("qualified composite signed with %s", alg)
			}
		}
	}

	// Renewals chain outward: each token must cover the previous
	// token's bytes.
	covered := comp.Token
	for i, renewal := range comp.Renewals {
		_, err := tsa.VerifyToken(renewal.Token, tsa.VerifyOptions{
			Digest:        cryptoutil.SHA256(covered),
			Roots:         opts.AuthorityRoots,
			Intermediates: opts.AuthorityIntermediates,
			At:            opts.At,
		})
		if err != nil {
			fail("renewal %d: %v", i, err)
		}
		covered = renewal.Token
	}

	report.Valid = len(report.Reasons) == 0
	return report
}
