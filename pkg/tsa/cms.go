package tsa

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// CMS structures (RFC 5652), restricted to the subset timestamp tokens
// use: SignedData over an encapsulated TSTInfo, one SignerInfo, no
// signed attributes on tokens we produce ourselves.

// Content type and signature algorithm OIDs.
var (
	OIDSignedData      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	OIDMessageDigest   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDEd25519         = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
)

// ContentInfo is the outer CMS envelope.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData is the CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo  `asn1:"set"`
}

// EncapsulatedContentInfo carries the signed content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// IssuerAndSerialNumber identifies the signer certificate.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber asn1.RawValue
}

// SignerInfo is one CMS signer.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// signContent wraps contentDER (a TSTInfo) into a DER ContentInfo/
// SignedData signed by the given key, embedding the certificate so the
// token verifies offline.
func signContent(contentDER []byte, cert *x509.Certificate, signer crypto.Signer, digestAlg crypto.Hash) ([]byte, error) {
	sigAlg, sig, err := signBytes(signer, contentDER, digestAlg)
	if err != nil {
		return nil, &TSAError{Op: "sign", Err: err}
	}

	si := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: asn1.RawValue{FullBytes: mustMarshal(cert.SerialNumber)},
		},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: hashToOID(digestAlg)},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: sigAlg},
		Signature:          sig,
	}

	sd := SignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{si.DigestAlgorithm},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: OIDTSTInfo,
			EContent: asn1.RawValue{
				Class: asn1.ClassUniversal,
				Tag:   asn1.TagOctetString,
				Bytes: contentDER,
			},
		},
		Certificates: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      cert.Raw,
		},
		SignerInfos: []SignerInfo{si},
	}

	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, &TSAError{Op: "sign", Err: fmt.Errorf("failed to marshal SignedData: %w", err)}
	}
	ci := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{FullBytes: sdDER},
	}
	return asn1.Marshal(ci)
}

func signBytes(signer crypto.Signer, data []byte, digestAlg crypto.Hash) (asn1.ObjectIdentifier, []byte, error) {
	switch key := signer.Public().(type) {
	case ed25519.PublicKey:
		_ = key
		sig, err := signer.Sign(rand.Reader, data, crypto.Hash(0))
		return OIDEd25519, sig, err
	case *ecdsa.PublicKey:
		digest := digestFor(digestAlg, data)
		sig, err := signer.Sign(rand.Reader, digest, digestAlg)
		if digestAlg == crypto.SHA384 {
			return OIDECDSAWithSHA384, sig, err
		}
		return OIDECDSAWithSHA256, sig, err
	case *rsa.PublicKey:
		digest := digestFor(digestAlg, data)
		sig, err := signer.Sign(rand.Reader, digest, digestAlg)
		return OIDSHA256WithRSA, sig, err
	default:
		return nil, nil, fmt.Errorf("unsupported signer key type: %T", signer.Public())
	}
}

// verifySignedData verifies the single SignerInfo over the encapsulated
// content using the given certificate.
func verifySignedData(sd *SignedData, cert *x509.Certificate) error {
	if len(sd.SignerInfos) == 0 {
		return fmt.Errorf("no signer info in SignedData")
	}
	si := sd.SignerInfos[0]
	content := encapContent(sd)

	// With signed attributes, the signature covers the attributes and
	// the attributes bind the content digest.
	signed := content
	if len(si.SignedAttrs.Bytes) > 0 {
		digestAlg, err := oidToHash(si.DigestAlgorithm.Algorithm)
		if err != nil {
			return err
		}
		if err := checkMessageDigestAttr(si.SignedAttrs, content, digestAlg); err != nil {
			return err
		}
		// Signature is over the SET OF form of the attributes.
		signed = reencodeSet(si.SignedAttrs)
	}

	return verifyWithCert(cert, si.SignatureAlgorithm.Algorithm, si.DigestAlgorithm.Algorithm, signed, si.Signature)
}

// reencodeSet rewrites an IMPLICIT [0] attribute set as the EXPLICIT SET
// that CMS signs.
func reencodeSet(attrs asn1.RawValue) []byte {
	v := asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      attrs.Bytes,
	}
	out, err := asn1.Marshal(v)
	if err != nil {
		return nil
	}
	return out
}

func checkMessageDigestAttr(attrs asn1.RawValue, content []byte, digestAlg crypto.Hash) error {
	type attribute struct {
		Type   asn1.ObjectIdentifier
		Values asn1.RawValue `asn1:"set"`
	}
	raw := attrs.Bytes
	for len(raw) > 0 {
		var attr attribute
		rest, err := asn1.Unmarshal(raw, &attr)
		if err != nil {
			return fmt.Errorf("failed to parse signed attribute: %w", err)
		}
		raw = rest
		if !attr.Type.Equal(OIDMessageDigest) {
			continue
		}
		var md []byte
		if _, err := asn1.Unmarshal(attr.Values.Bytes, &md); err != nil {
			return fmt.Errorf("failed to parse message digest attribute: %w", err)
		}
		if !bytesEqual(md, digestFor(digestAlg, content)) {
			return ErrHashMismatch
		}
		return nil
	}
	return fmt.Errorf("no message digest attribute found")
}

func verifyWithCert(cert *x509.Certificate, sigAlg, digestAlgOID asn1.ObjectIdentifier, data, sig []byte) error {
	switch pub := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, sig) {
			return ErrVerificationFailed
		}
		return nil
	case *ecdsa.PublicKey:
		digestAlg, err := oidToHash(digestAlgOID)
		if err != nil {
			digestAlg = crypto.SHA256
		}
		if sigAlg.Equal(OIDECDSAWithSHA384) {
			digestAlg = crypto.SHA384
		}
		if !ecdsa.VerifyASN1(pub, digestFor(digestAlg, data), sig) {
			return ErrVerificationFailed
		}
		return nil
	case *rsa.PublicKey:
		digestAlg, err := oidToHash(digestAlgOID)
		if err != nil {
			digestAlg = crypto.SHA256
		}
		if err := rsa.VerifyPKCS1v15(pub, digestAlg, digestFor(digestAlg, data), sig); err != nil {
			return ErrVerificationFailed
		}
		return nil
	default:
		return fmt.Errorf("unsupported authority key type: %T", cert.PublicKey)
	}
}

func encapContent(sd *SignedData) []byte {
	ec := sd.EncapContentInfo.EContent
	if ec.Tag == asn1.TagOctetString {
		return ec.Bytes
	}
	var inner []byte
	if _, err := asn1.Unmarshal(ec.Bytes, &inner); err == nil {
		return inner
	}
	return ec.Bytes
}

func digestFor(alg crypto.Hash, data []byte) []byte {
	switch alg {
	case crypto.SHA384:
		d := sha512.Sum384(data)
		return d[:]
	case crypto.SHA512:
		d := sha512.Sum512(data)
		return d[:]
	default:
		d := sha256.Sum256(data)
		return d[:]
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustMarshal(v any) []byte {
	out, err := asn1.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}
