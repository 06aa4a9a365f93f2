package composite

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	gocose "github.com/veraison/go-cose"

	"github.com/signetlabs/signet/pkg/cryptoutil"
)

// artifactContentType labels the CBOR composite inside the envelope.
const artifactContentType = "application/signet-composite+cbor"

// ExportCOSE wraps a composite in a COSE_Sign1 evidence envelope signed
// by the platform key. The envelope travels offline; the receiver
// verifies it with ImportCOSE and then verifies the composite itself.
func ExportCOSE(c *Composite, signer crypto.Signer, cert *x509.Certificate) ([]byte, error) {
	payload, err := EncodeArtifact(c)
	if err != nil {
		return nil, err
	}

	alg, err := coseAlgorithmFor(signer.Public())
	if err != nil {
		return nil, &CompositeError{Op: "export", CompositeID: c.ID, Err: err}
	}
	coseSigner, err := gocose.NewSigner(alg, signer)
	if err != nil {
		return nil, &CompositeError{Op: "export", CompositeID: c.ID, Err: err}
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected[gocose.HeaderLabelAlgorithm] = alg
	msg.Headers.Protected[gocose.HeaderLabelContentType] = artifactContentType
	if cert != nil {
		msg.Headers.Protected[gocose.HeaderLabelKeyID] = cryptoutil.CertFingerprint(cert)
		msg.Headers.Protected[gocose.HeaderLabelX5Chain] = [][]byte{cert.Raw}
	}
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		return nil, &CompositeError{Op: "export", CompositeID: c.ID, Err: err}
	}
	return msg.MarshalCBOR()
}

// ImportCOSE verifies a COSE_Sign1 envelope with the platform public
// key and decodes the composite it carries.
func ImportCOSE(data []byte, pub crypto.PublicKey) (*Composite, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, &CompositeError{Op: "import", Err: fmt.Errorf("%w: %v", ErrInvalidArtifact, err)}
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, &CompositeError{Op: "import", Err: fmt.Errorf("%w: %v", ErrInvalidArtifact, err)}
	}
	verifier, err := gocose.NewVerifier(alg, pub)
	if err != nil {
		return nil, &CompositeError{Op: "import", Err: err}
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, &CompositeError{Op: "import", Err: fmt.Errorf("envelope signature: %w", err)}
	}

	return DecodeArtifact(msg.Payload)
}

func coseAlgorithmFor(pub crypto.PublicKey) (gocose.Algorithm, error) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P256():
			return gocose.AlgorithmES256, nil
		case elliptic.P384():
			return gocose.AlgorithmES384, nil
		case elliptic.P521():
			return gocose.AlgorithmES512, nil
		}
		return 0, fmt.Errorf("unsupported ECDSA curve %s", key.Curve.Params().Name)
	case ed25519.PublicKey:
		return gocose.AlgorithmEdDSA, nil
	default:
		return 0, fmt.Errorf("unsupported platform key type %T", pub)
	}
}
