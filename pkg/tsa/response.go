package tsa

import (
	"encoding/asn1"
	"fmt"
	"strings"
)

// PKIStatus values (RFC 3161 Section 2.4.2).
const (
	StatusGranted                = 0
	StatusGrantedWithMods        = 1
	StatusRejection              = 2
	StatusWaiting                = 3
	StatusRevocationWarning      = 4
	StatusRevocationNotification = 5
)

// PKIFailureInfo values (RFC 3161 Section 2.4.2).
const (
	FailBadAlg              = 0
	FailBadRequest          = 2
	FailBadDataFormat       = 5
	FailTimeNotAvailable    = 14
	FailUnacceptedPolicy    = 15
	FailUnacceptedExtension = 16
	FailAddInfoNotAvailable = 17
	FailSystemFailure       = 25
)

// TimeStampResp represents the timestamp response (RFC 3161 Section 2.4.2).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo contains the status of the request.
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional,utf8"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// Granted reports whether the status is granted (with or without mods).
func (s PKIStatusInfo) Granted() bool {
	return s.Status == StatusGranted || s.Status == StatusGrantedWithMods
}

// Message renders the provider's status strings, if any.
func (s PKIStatusInfo) Message() string {
	return strings.Join(s.StatusString, "; ")
}

// ParseResponse parses a DER-encoded TimeStampResp and, when the status
// is granted, the embedded token.
func ParseResponse(data []byte) (*TimeStampResp, *Token, error) {
	var resp TimeStampResp
	rest, err := asn1.Unmarshal(data, &resp)
	if err != nil {
		return nil, nil, &TSAError{Op: "response", Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if len(rest) > 0 {
		return nil, nil, &TSAError{Op: "response", Err: fmt.Errorf("%w: trailing data", ErrInvalidResponse)}
	}

	if !resp.Status.Granted() {
		msg := resp.Status.Message()
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.Status.Status)
		}
		return &resp, nil, &TSAError{Op: "response", Err: fmt.Errorf("%w: %s", ErrRejected, msg)}
	}

	if len(resp.TimeStampToken.FullBytes) == 0 {
		return &resp, nil, &TSAError{Op: "response", Err: fmt.Errorf("%w: granted response without token", ErrInvalidResponse)}
	}

	token, err := ParseToken(resp.TimeStampToken.FullBytes)
	if err != nil {
		return &resp, nil, err
	}
	return &resp, token, nil
}
