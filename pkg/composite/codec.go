package composite

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Artifacts are encoded with canonical CBOR so the same composite
// always yields the same bytes, which keeps renewal imprints and
// fingerprints stable.
var (
	artifactEnc = func() cbor.EncMode {
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()
	artifactDec = func() cbor.DecMode {
		dm, err := cbor.DecOptions{}.DecMode()
		if err != nil {
			panic(err)
		}
		return dm
	}()
)

// EncodeArtifact serializes a composite as canonical CBOR.
func EncodeArtifact(c *Composite) ([]byte, error) {
	data, err := artifactEnc.Marshal(c)
	if err != nil {
		return nil, &CompositeError{Op: "encode", CompositeID: c.ID, Err: err}
	}
	return data, nil
}

// DecodeArtifact parses a CBOR composite and checks the fields every
// verification needs.
func DecodeArtifact(data []byte) (*Composite, error) {
	var c Composite
	if err := artifactDec.Unmarshal(data, &c); err != nil {
		return nil, &CompositeError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrInvalidArtifact, err)}
	}
	switch {
	case c.ID == "":
		return nil, &CompositeError{Op: "decode", Err: fmt.Errorf("%w: missing id", ErrInvalidArtifact)}
	case len(c.Signature) == 0:
		return nil, &CompositeError{Op: "decode", Err: fmt.Errorf("%w: missing signature", ErrInvalidArtifact)}
	case len(c.SignatureHash) == 0:
		return nil, &CompositeError{Op: "decode", Err: fmt.Errorf("%w: missing signature hash", ErrInvalidArtifact)}
	case len(c.Token) == 0:
		return nil, &CompositeError{Op: "decode", Err: fmt.Errorf("%w: missing token", ErrInvalidArtifact)}
	}
	return &c, nil
}
