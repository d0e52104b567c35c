package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "uticoins", time.Hour)
	require.NoError(t, err)

	token, err := s.Issue(42, "ana")
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, "42", claims.Subject)

	id, err := s.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestSigner_Rejects(t *testing.T) {
	s, err := NewSigner("secret", "uticoins", time.Hour)
	require.NoError(t, err)
	token, err := s.Issue(42, "")
	require.NoError(t, err)

	other, err := NewSigner("other", "uticoins", time.Hour)
	require.NoError(t, err)
	_, err = other.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	wrongIssuer, err := NewSigner("secret", "someone-else", time.Hour)
	require.NoError(t, err)
	_, err = wrongIssuer.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = s.Authenticate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_RejectsOtherAlgorithms(t *testing.T) {
	s, err := NewSigner("secret", "", time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "1"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = s.Authenticate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_BadSubject(t *testing.T) {
	s, err := NewSigner("secret", "", time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ana"}})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = s.Authenticate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Issue(0, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewSigner_RequiresSecret(t *testing.T) {
	_, err := NewSigner("", "", 0)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
