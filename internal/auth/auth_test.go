package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)

	pair, err := issuer.Issue("uid-1", "ana@ifsp.edu.br")
	require.NoError(t, err)
	assert.EqualValues(t, 3600, pair.ExpiresIn)

	claims, err := issuer.VerifyIDToken(pair.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.UID())
	assert.Equal(t, "ana@ifsp.edu.br", claims.Email)

	refresh, err := issuer.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", refresh.UID())
}

func TestTokenIssuer_RejectsWrongKind(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	pair, err := issuer.Issue("uid-1", "ana@ifsp.edu.br")
	require.NoError(t, err)

	_, err = issuer.VerifyIDToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.VerifyRefreshToken(pair.IDToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute, time.Hour)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	pair, err := issuer.Issue("uid-1", "ana@ifsp.edu.br")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = issuer.VerifyIDToken(pair.IDToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.VerifyRefreshToken(pair.RefreshToken)
	assert.NoError(t, err, "refresh token outlives the id token")
}

func TestTokenIssuer_RejectsForeignSignature(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour, time.Hour)

	pair, err := other.Issue("uid-1", "ana@ifsp.edu.br")
	require.NoError(t, err)

	_, err = issuer.VerifyIDToken(pair.IDToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, time.Hour)
	claims := &Claims{
		Kind: KindID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-1",
			Issuer:    "ifocus",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.VerifyIDToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword_HashAndCompare(t *testing.T) {
	hash, err := HashPassword("segredo123")
	require.NoError(t, err)
	assert.NotEqual(t, "segredo123", hash)

	ok, err := ComparePassword("segredo123", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePassword("errada", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsInstitutionalEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"ana@ifsp.edu.br", true},
		{"joao.silva@aluno.ifsp.edu.br", true},
		{"ana@gmail.com", false},
		{"ana@ifsp.edu.br.com", false},
		{"@edu.br", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInstitutionalEmail(tt.email))
		})
	}
}
