package clock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// NewID returns a new random identifier with the given prefix, e.g.
// "doc_6f1d...". Prefixes keep mixed-entity logs readable.
func NewID(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}

// NewNonce returns n cryptographically random bytes.
func NewNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return b, nil
}

// NewNonceHex returns n random bytes hex-encoded.
func NewNonceHex(n int) (string, error) {
	b, err := NewNonce(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSerial returns a random 128-bit serial number.
func NewSerial() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, max)
}
