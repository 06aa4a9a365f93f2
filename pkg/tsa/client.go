package tsa

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

const (
	requestContentType  = "application/timestamp-query"
	responseContentType = "application/timestamp-reply"

	// attemptTimeout bounds a single round trip to one provider.
	attemptTimeout = 3 * time.Second

	// attemptsPerProvider is the retry budget before failing over.
	attemptsPerProvider = 2

	maxResponseBytes = 1 << 20
)

// Client obtains an RFC 3161 token for a message digest.
type Client interface {
	// Timestamp sends a request for digest (computed with hashAlg) and
	// returns the verified-for-shape token. nonce may be nil.
	Timestamp(ctx context.Context, hashAlg crypto.Hash, digest []byte, nonce *big.Int) (*Token, error)
}

// HTTPClient talks to a single TSA over HTTP per RFC 3161 §3.4.
type HTTPClient struct {
	Provider Provider
	HTTP     *http.Client
}

// NewHTTPClient builds a client for one provider with the default timeout.
func NewHTTPClient(p Provider) *HTTPClient {
	return &HTTPClient{
		Provider: p,
		HTTP:     &http.Client{Timeout: attemptTimeout},
	}
}

// Timestamp implements Client.
func (c *HTTPClient) Timestamp(ctx context.Context, hashAlg crypto.Hash, digest []byte, nonce *big.Int) (*Token, error) {
	req, err := NewRequest(hashAlg, digest, nonce, nil)
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: err}
	}
	der, err := req.Marshal()
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Provider.URL, bytes.NewReader(der))
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: err}
	}
	httpReq.Header.Set("Content-Type", requestContentType)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name,
			Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name,
			Err: fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name,
			Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	_, token, err := ParseResponse(body)
	if err != nil {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: err}
	}

	// The authority must echo our imprint and nonce exactly.
	if !bytes.Equal(token.Info.MessageImprint.HashedMessage, digest) {
		return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: ErrHashMismatch}
	}
	if nonce != nil {
		got := token.Info.Nonce
		if got == nil || got.Cmp(nonce) != 0 {
			return nil, &TSAError{Op: "timestamp", Provider: c.Provider.Name, Err: ErrNonceMismatch}
		}
	}
	token.Provider = c.Provider.Name
	return token, nil
}

// Failover tries an ordered provider chain, each with a bounded retry
// budget, and returns the first granted token.
type Failover struct {
	Clients []Client

	// Attempts per client before moving on. Zero means the default.
	Attempts int
}

// NewFailover builds the failover client over the given providers.
func NewFailover(providers []Provider) *Failover {
	f := &Failover{Attempts: attemptsPerProvider}
	for _, p := range providers {
		f.Clients = append(f.Clients, NewHTTPClient(p))
	}
	return f
}

// Timestamp implements Client.
func (f *Failover) Timestamp(ctx context.Context, hashAlg crypto.Hash, digest []byte, nonce *big.Int) (*Token, error) {
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = attemptsPerProvider
	}
	var lastErr error
	for _, c := range f.Clients {
		for i := 0; i < attempts; i++ {
			if err := ctx.Err(); err != nil {
				return nil, &TSAError{Op: "timestamp", Err: err}
			}
			token, err := c.Timestamp(ctx, hashAlg, digest, nonce)
			if err == nil {
				return token, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return nil, &TSAError{Op: "timestamp",
		Err: fmt.Errorf("%w: last: %v", ErrAllProvidersFailed, lastErr)}
}
