package tsa

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// Hash algorithm OIDs used in message imprints.
var (
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26} // deprecated, parse only
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// NewMessageImprint creates a MessageImprint from a digest.
func NewMessageImprint(hash crypto.Hash, digest []byte) MessageImprint {
	return MessageImprint{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: hashToOID(hash)},
		HashedMessage: digest,
	}
}

// NewRequest creates a TimeStampReq over a precomputed digest. certReq
// is always set: composites must embed the authority certificate so they
// verify offline.
func NewRequest(hashAlg crypto.Hash, digest []byte, nonce *big.Int, policy asn1.ObjectIdentifier) (*TimeStampReq, error) {
	if expected := hashAlg.Size(); len(digest) != expected {
		return nil, &TSAError{Op: "request", Err: fmt.Errorf("hash length mismatch: got %d, expected %d", len(digest), expected)}
	}
	req := &TimeStampReq{
		Version:        1,
		MessageImprint: NewMessageImprint(hashAlg, digest),
		CertReq:        true,
	}
	if nonce != nil {
		req.Nonce = nonce
	}
	if policy != nil {
		req.ReqPolicy = policy
	}
	return req, nil
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}

// ParseRequest parses a DER-encoded TimeStampReq.
func ParseRequest(data []byte) (*TimeStampReq, error) {
	var req TimeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("failed to parse TimeStampReq: %w", err)}
	}
	if len(rest) > 0 {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("trailing data after TimeStampReq")}
	}
	if req.Version != 1 {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("unsupported TSP version: %d", req.Version)}
	}
	if _, err := oidToHash(req.MessageImprint.HashAlgorithm.Algorithm); err != nil {
		return nil, err
	}
	return &req, nil
}

// HashAlgorithm returns the crypto.Hash of the message imprint.
func (r *TimeStampReq) HashAlgorithm() (crypto.Hash, error) {
	return oidToHash(r.MessageImprint.HashAlgorithm.Algorithm)
}

// oidToHash converts a hash algorithm OID to crypto.Hash.
func oidToHash(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	default:
		return 0, &TSAError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, oid)}
	}
}

// hashToOID converts crypto.Hash to an algorithm OID.
func hashToOID(h crypto.Hash) asn1.ObjectIdentifier {
	switch h {
	case crypto.SHA384:
		return OIDSHA384
	case crypto.SHA512:
		return OIDSHA512
	default:
		return OIDSHA256
	}
}

// HashName returns the persisted name of a message-imprint algorithm.
func HashName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(OIDSHA256):
		return "sha-256"
	case oid.Equal(OIDSHA384):
		return "sha-384"
	case oid.Equal(OIDSHA512):
		return "sha-512"
	case oid.Equal(OIDSHA1):
		return "sha-1"
	default:
		return oid.String()
	}
}
