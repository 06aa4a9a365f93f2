// Package cryptoutil is the hash/crypto adapter for the signing core.
// It supports classical algorithms (ECDSA, Ed25519) and the post-quantum
// ML-DSA-65 (FIPS 204) via the cloudflare/circl library, which is required
// for Qualified-level signer credentials.
package cryptoutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"fmt"
	"hash"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// AlgorithmID identifies a signature algorithm.
type AlgorithmID string

const (
	AlgECDSAP256 AlgorithmID = "ecdsa-p256"
	AlgECDSAP384 AlgorithmID = "ecdsa-p384"
	AlgEd25519   AlgorithmID = "ed25519"
	AlgMLDSA65   AlgorithmID = "ml-dsa-65"
)

// HashAlgorithm identifies a digest algorithm in persisted records.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha-256"
	HashSHA384 HashAlgorithm = "sha-384"
	HashSHA512 HashAlgorithm = "sha-512"
)

// DeprecatedHashAlgorithms lists digests that trigger re-timestamping of
// long-lived artifacts. SHA-1 tokens predate this codebase but can arrive
// through imported composites.
var DeprecatedHashAlgorithms = map[HashAlgorithm]bool{
	"sha-1": true,
	"md5":   true,
}

// Digest computes the named digest over data.
func Digest(alg HashAlgorithm, data []byte) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// SHA256 computes a SHA-256 digest.
func SHA256(data []byte) []byte {
	d := sha256.Sum256(data)
	return d[:]
}

// ConstantTimeEqual compares two byte slices without leaking timing.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CryptoHash maps a HashAlgorithm to crypto.Hash.
func CryptoHash(alg HashAlgorithm) (crypto.Hash, error) {
	switch alg {
	case HashSHA256:
		return crypto.SHA256, nil
	case HashSHA384:
		return crypto.SHA384, nil
	case HashSHA512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm: %s", alg)
	}
}

func newHash(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case HashSHA256:
		return sha256.New(), nil
	case HashSHA384:
		return sha512.New384(), nil
	case HashSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", alg)
	}
}

// Verify checks a signature over message with the given algorithm.
// ECDSA signatures are ASN.1-encoded and taken over the SHA-2 digest
// matching the curve; Ed25519 and ML-DSA-65 sign the message directly.
func Verify(alg AlgorithmID, pub crypto.PublicKey, message, signature []byte) bool {
	switch alg {
	case AlgECDSAP256:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha256.Sum256(message)
		return ecdsa.VerifyASN1(ecPub, digest[:], signature)

	case AlgECDSAP384:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha512.Sum384(message)
		return ecdsa.VerifyASN1(ecPub, digest[:], signature)

	case AlgEd25519:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(edPub, message, signature)

	case AlgMLDSA65:
		mlPub, ok := pub.(*mldsa65.PublicKey)
		if !ok {
			return false
		}
		return mldsa65.Verify(mlPub, message, nil, signature)

	default:
		return false
	}
}

// VerifySignature is the error-returning form of Verify.
func VerifySignature(pub crypto.PublicKey, alg AlgorithmID, message, signature []byte) error {
	if !Verify(alg, pub, message, signature) {
		return fmt.Errorf("signature verification failed for algorithm %s", alg)
	}
	return nil
}

// AlgorithmOf identifies the signature algorithm a public key verifies
// with.
func AlgorithmOf(pub crypto.PublicKey) (AlgorithmID, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return AlgECDSAP256, nil
		case elliptic.P384():
			return AlgECDSAP384, nil
		}
		return "", fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
	case ed25519.PublicKey:
		return AlgEd25519, nil
	case *mldsa65.PublicKey:
		return AlgMLDSA65, nil
	}
	return "", fmt.Errorf("unsupported public key type %T", pub)
}

// QuantumSafe reports whether the algorithm is acceptable for
// Qualified-level signer credentials.
func QuantumSafe(alg AlgorithmID) bool {
	switch alg {
	case AlgMLDSA65, AlgECDSAP384:
		return true
	default:
		return false
	}
}

// CertFingerprint returns the SHA-256 fingerprint of a certificate.
func CertFingerprint(cert *x509.Certificate) []byte {
	return SHA256(cert.Raw)
}
