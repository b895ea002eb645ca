package sharetoken

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_IssueIsUniqueAndOpaque(t *testing.T) {
	issuer, err := NewIssuer(time.Hour)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		tok, err := issuer.Issue()
		require.NoError(t, err)
		assert.Len(t, tok.Value, 43)
		assert.NotContains(t, tok.Value, "=")
		assert.NoError(t, Parse(tok.Value))
		assert.False(t, seen[tok.Value], "token %s issued twice", tok.Value)
		seen[tok.Value] = true
	}
}

func TestIssuer_ExpiryUsesClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewIssuer(48*time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, err := issuer.Issue()
	require.NoError(t, err)

	assert.Equal(t, now.Add(48*time.Hour), tok.ExpiresAt)
	assert.False(t, tok.Expired(now))
	assert.True(t, tok.Expired(now.Add(48*time.Hour)))
}

func TestIssuer_DeterministicRandom(t *testing.T) {
	issuer, err := NewIssuer(time.Hour, WithRandom(bytes.NewReader(make([]byte, ByteLength))))
	require.NoError(t, err)

	tok, err := issuer.Issue()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", 43), tok.Value)

	_, err = issuer.Issue()
	assert.Error(t, err, "exhausted random source must fail")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestIssuer_Errors(t *testing.T) {
	_, err := NewIssuer(0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	issuer, err := NewIssuer(time.Hour, WithRandom(failingReader{}))
	require.NoError(t, err)
	_, err = issuer.Issue()
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	assert.ErrorIs(t, Parse(""), ErrMalformed)
	assert.ErrorIs(t, Parse("not a token!"), ErrMalformed)
	assert.ErrorIs(t, Parse("AAAA"), ErrMalformed)
}
