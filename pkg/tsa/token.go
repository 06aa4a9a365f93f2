package tsa

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero returns true if the accuracy is unset.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// Token is a parsed timestamp token together with its raw DER form.
type Token struct {
	Info         *TSTInfo
	Certificates []*x509.Certificate // embedded certs, authority first
	Raw          []byte              // full ContentInfo DER

	// Provider names the authority that granted the token. Set by the
	// client, not part of the DER encoding.
	Provider string
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the token serial number.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// HashedMessage returns the message imprint digest.
func (t *Token) HashedMessage() []byte {
	if t.Info == nil {
		return nil
	}
	return t.Info.MessageImprint.HashedMessage
}

// HashAlgorithmName returns the persisted name of the imprint digest
// algorithm.
func (t *Token) HashAlgorithmName() string {
	if t.Info == nil {
		return ""
	}
	return HashName(t.Info.MessageImprint.HashAlgorithm.Algorithm)
}

// AuthorityCert returns the embedded signer certificate, if any.
func (t *Token) AuthorityCert() *x509.Certificate {
	if len(t.Certificates) == 0 {
		return nil
	}
	return t.Certificates[0]
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData
// wrapping a TSTInfo).
func ParseToken(data []byte) (*Token, error) {
	var contentInfo ContentInfo
	rest, err := asn1.Unmarshal(data, &contentInfo)
	if err != nil {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrInvalidToken, err)}
	}
	if len(rest) > 0 {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: trailing data after ContentInfo", ErrInvalidToken)}
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: unexpected content type %v", ErrInvalidToken, contentInfo.ContentType)}
	}

	var signedData SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: bad SignedData: %v", ErrInvalidToken, err)}
	}
	if !signedData.EncapContentInfo.EContentType.Equal(OIDTSTInfo) {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: unexpected encapsulated type %v", ErrInvalidToken, signedData.EncapContentInfo.EContentType)}
	}

	var tstInfo TSTInfo
	if _, err := asn1.Unmarshal(encapContent(&signedData), &tstInfo); err != nil {
		return nil, &TSAError{Op: "parse", Err: fmt.Errorf("%w: bad TSTInfo: %v", ErrInvalidToken, err)}
	}

	certs, _ := parseEmbeddedCerts(signedData.Certificates)

	return &Token{
		Info:         &tstInfo,
		Certificates: certs,
		Raw:          append([]byte(nil), data...),
	}, nil
}

// parseEmbeddedCerts walks the IMPLICIT [0] certificate set.
func parseEmbeddedCerts(raw asn1.RawValue) ([]*x509.Certificate, error) {
	data := raw.Bytes
	var certs []*x509.Certificate
	for len(data) > 0 {
		var cv asn1.RawValue
		rest, err := asn1.Unmarshal(data, &cv)
		if err != nil {
			return certs, err
		}
		cert, err := x509.ParseCertificate(cv.FullBytes)
		if err == nil {
			certs = append(certs, cert)
		}
		data = rest
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates embedded")
	}
	return certs, nil
}

// SignerConfig configures token creation for the built-in authority
// (used by the test TSA and the embedded responder).
type SignerConfig struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Policy      asn1.ObjectIdentifier
	Accuracy    Accuracy
	Now         func() time.Time
}

// CreateToken builds and signs a timestamp token answering req.
func CreateToken(req *TimeStampReq, cfg *SignerConfig, serial *big.Int) (*Token, error) {
	if cfg.Certificate == nil {
		return nil, &TSAError{Op: "sign", Err: fmt.Errorf("certificate is required")}
	}
	if cfg.Signer == nil {
		return nil, &TSAError{Op: "sign", Err: fmt.Errorf("signer is required")}
	}
	now := time.Now().UTC()
	if cfg.Now != nil {
		now = cfg.Now().UTC()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 2, 1}
	}

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serial,
		GenTime:        now.Truncate(time.Second),
	}
	if req.Nonce != nil {
		tstInfo.Nonce = req.Nonce
	}
	if !cfg.Accuracy.IsZero() {
		tstInfo.Accuracy = cfg.Accuracy
	}

	tstInfoDER, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, &TSAError{Op: "sign", Err: fmt.Errorf("failed to marshal TSTInfo: %w", err)}
	}

	hashAlg, err := req.HashAlgorithm()
	if err != nil {
		hashAlg = crypto.SHA256
	}

	raw, err := signContent(tstInfoDER, cfg.Certificate, cfg.Signer, hashAlg)
	if err != nil {
		return nil, err
	}

	return &Token{
		Info:         &tstInfo,
		Certificates: []*x509.Certificate{cfg.Certificate},
		Raw:          raw,
	}, nil
}

// MarshalResponse wraps a token (or a rejection) as a DER TimeStampResp.
func MarshalResponse(token *Token, rejection *PKIStatusInfo) ([]byte, error) {
	if rejection != nil {
		// Rejections carry no token; marshal the status alone so the
		// optional field is truly absent.
		return asn1.Marshal(struct {
			Status PKIStatusInfo
		}{Status: *rejection})
	}
	resp := TimeStampResp{
		Status:         PKIStatusInfo{Status: StatusGranted},
		TimeStampToken: asn1.RawValue{FullBytes: token.Raw},
	}
	return asn1.Marshal(resp)
}
