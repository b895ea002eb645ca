// Package sharetoken issues opaque tokens that expose a completed session read-only.
package sharetoken

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
)

// ByteLength is the number of random bytes behind each token (256 bits).
const ByteLength = 32

// DefaultTTL is how long a token stays valid when no TTL is configured.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidTTL is returned by NewIssuer for a non-positive TTL.
	ErrInvalidTTL = errors.New("sharetoken: ttl must be positive")
	// ErrMalformed is returned by Parse for strings that cannot be a token.
	ErrMalformed = errors.New("sharetoken: malformed token")
)

// Token is an issued share token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Issuer mints tokens from a random source.
type Issuer struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithRandom overrides the random source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) {
		if r != nil {
			i.random = r
		}
	}
}

// NewIssuer constructs an Issuer whose tokens expire ttl after issue.
func NewIssuer(ttl time.Duration, opts ...Option) (*Issuer, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	i := &Issuer{ttl: ttl, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a fresh token. The value carries no session data.
func (i *Issuer) Issue() (Token, error) {
	buf := make([]byte, ByteLength)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return Token{}, fmt.Errorf("sharetoken: read random: %w", err)
	}
	return Token{
		Value:     base64.RawURLEncoding.EncodeToString(buf),
		ExpiresAt: i.now().UTC().Add(i.ttl),
	}, nil
}

// Parse checks that value has the shape of an issued token.
func Parse(value string) error {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) != ByteLength {
		return ErrMalformed
	}
	return nil
}
