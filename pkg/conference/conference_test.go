package conference

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"syncstream.me/model"
	"testing"
	"time"
)

func TestIssueToken(t *testing.T) {
	b := New("key", "secret", "wss://media.example.com", time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	token, err := b.IssueToken("abc123", "u1", "Swift Cat")
	require.NoError(t, err)

	claims, err := b.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "key", claims.Issuer)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "Swift Cat", claims.Name)
	assert.True(t, now.Add(time.Hour).Equal(claims.ExpiresAt.Time))
	require.NotNil(t, claims.Video)
	assert.Equal(t, VideoGrant{
		Room:           "abc123",
		RoomJoin:       true,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
	}, *claims.Video)
	assert.Equal(t, "wss://media.example.com", b.ServerURL())
}

func TestTokenExpires(t *testing.T) {
	b := New("key", "secret", "", 0)
	issued := time.Now()
	b.now = func() time.Time { return issued }
	token, err := b.IssueToken("abc123", "u1", "")
	require.NoError(t, err)

	b.now = func() time.Time { return issued.Add(DefaultTokenTTL + time.Minute) }
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, model.ErrAuthFailure)
}

func TestTokenSignedWithOtherSecret(t *testing.T) {
	token, err := New("key", "other", "", time.Hour).IssueToken("abc123", "u1", "")
	require.NoError(t, err)

	_, err = New("key", "secret", "", time.Hour).Verify(token)
	assert.ErrorIs(t, err, model.ErrAuthFailure)

	_, err = New("another-key", "other", "", time.Hour).Verify(token)
	assert.ErrorIs(t, err, model.ErrAuthFailure)
}

func TestUnconfiguredFailsClosed(t *testing.T) {
	for _, b := range []*Bridge{New("", "secret", "", 0), New("key", "", "", 0)} {
		assert.False(t, b.Configured())
		_, err := b.IssueToken("abc123", "u1", "")
		assert.ErrorIs(t, err, model.ErrUnconfigured)
	}
}

func TestIssueTokenValidates(t *testing.T) {
	b := New("key", "secret", "", 0)
	_, err := b.IssueToken("", "u1", "")
	assert.ErrorIs(t, err, model.ErrInvalid)
	_, err = b.IssueToken("abc123", " ", "")
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestTokenUsesHS256(t *testing.T) {
	b := New("key", "secret", "", 0)
	token, err := b.IssueToken("abc123", "u1", "")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, "HS256", parsed.Method.Alg())
}
