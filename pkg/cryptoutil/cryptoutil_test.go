package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

func TestU_Digest_Algorithms(t *testing.T) {
	tests := []struct {
		name    string
		alg     HashAlgorithm
		wantLen int
		wantErr bool
	}{
		{"[Unit] Digest: sha-256", HashSHA256, 32, false},
		{"[Unit] Digest: sha-384", HashSHA384, 48, false},
		{"[Unit] Digest: sha-512", HashSHA512, 64, false},
		{"[Unit] Digest: unknown", HashAlgorithm("sha-1"), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Digest(tt.alg, []byte("signet"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Digest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(d) != tt.wantLen {
				t.Errorf("expected %d bytes, got %d", tt.wantLen, len(d))
			}
		})
	}
}

func TestU_ConstantTimeEqual(t *testing.T) {
	a := SHA256([]byte("a"))
	if !ConstantTimeEqual(a, SHA256([]byte("a"))) {
		t.Error("equal digests should compare equal")
	}
	if ConstantTimeEqual(a, SHA256([]byte("b"))) {
		t.Error("different digests should not compare equal")
	}
	if ConstantTimeEqual(a, a[:16]) {
		t.Error("different lengths should not compare equal")
	}
}

func TestU_Verify_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("content hash binding")
	sig := ed25519.Sign(priv, msg)

	if !Verify(AlgEd25519, pub, msg, sig) {
		t.Error("valid Ed25519 signature rejected")
	}
	sig[0] ^= 0xff
	if Verify(AlgEd25519, pub, msg, sig) {
		t.Error("tampered Ed25519 signature accepted")
	}
}

func TestU_Verify_ECDSAP256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("composite payload")
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(AlgECDSAP256, &key.PublicKey, msg, sig) {
		t.Error("valid ECDSA signature rejected")
	}
	if Verify(AlgECDSAP256, &key.PublicKey, []byte("other"), sig) {
		t.Error("signature over different message accepted")
	}
}

func TestU_Verify_MLDSA65(t *testing.T) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("qualified signature")
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(priv, msg, nil, false, sig); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(AlgMLDSA65, pub, msg, sig) {
		t.Error("valid ML-DSA-65 signature rejected")
	}
	sig[10] ^= 0x01
	if Verify(AlgMLDSA65, pub, msg, sig) {
		t.Error("tampered ML-DSA-65 signature accepted")
	}
}

func TestU_Verify_WrongKeyType(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if Verify(AlgECDSAP256, pub, []byte("m"), []byte("sig")) {
		t.Error("mismatched key type should fail verification")
	}
}

func TestU_QuantumSafe(t *testing.T) {
	if QuantumSafe(AlgEd25519) {
		t.Error("ed25519 is not accepted for qualified credentials")
	}
	if !QuantumSafe(AlgMLDSA65) {
		t.Error("ml-dsa-65 should be accepted for qualified credentials")
	}
}

func TestU_AlgorithmOf(t *testing.T) {
	p256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if alg, err := AlgorithmOf(&p256.PublicKey); err != nil || alg != AlgECDSAP256 {
		t.Errorf("AlgorithmOf(P-256) = %s, %v", alg, err)
	}

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if alg, err := AlgorithmOf(&p384.PublicKey); err != nil || alg != AlgECDSAP384 {
		t.Errorf("AlgorithmOf(P-384) = %s, %v", alg, err)
	}

	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if alg, err := AlgorithmOf(edPub); err != nil || alg != AlgEd25519 {
		t.Errorf("AlgorithmOf(ed25519) = %s, %v", alg, err)
	}

	if _, err := AlgorithmOf("not a key"); err == nil {
		t.Error("unsupported key type should error")
	}
}
