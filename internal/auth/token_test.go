package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-for-tests-0123456789abcdef"
	testRefreshSecret = "refresh-secret-for-tests-0123456789abcdef"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testAccessSecret, testRefreshSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, err := NewTokenIssuer("", "r", time.Minute, time.Hour)
	assert.Error(t, err)
	_, err = NewTokenIssuer("a", "", time.Minute, time.Hour)
	assert.Error(t, err)
	_, err = NewTokenIssuer("a", "r", 0, time.Hour)
	assert.Error(t, err)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	userID, err := issuer.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAccessToken_CarriesOnlyUserID(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"id", "iat", "exp"}, keys)
	assert.Equal(t, "user-1", claims["id"])
}

func TestAccessToken_Lifetime(t *testing.T) {
	issuer := newTestIssuer(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	token, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(14 * time.Minute) }
	_, err = issuer.VerifyAccessToken(token)
	assert.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(16 * time.Minute) }
	_, err = issuer.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshToken_RoundTripAndExpiry(t *testing.T) {
	issuer := newTestIssuer(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	token, expiresAt, err := issuer.IssueRefreshToken("user-2")
	require.NoError(t, err)
	assert.Equal(t, base.Add(7*24*time.Hour), expiresAt)

	userID, err := issuer.VerifyRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", userID)

	issuer.now = func() time.Time { return expiresAt.Add(time.Second) }
	_, err = issuer.VerifyRefreshToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshToken_DistinctWithinSameSecond(t *testing.T) {
	issuer := newTestIssuer(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	a, _, err := issuer.IssueRefreshToken("user-1")
	require.NoError(t, err)
	b, _, err := issuer.IssueRefreshToken("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_SecretsAreNotInterchangeable(t *testing.T) {
	issuer := newTestIssuer(t)

	access, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, _, err := issuer.IssueRefreshToken("user-1")
	require.NoError(t, err)

	_, err = issuer.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsForgedTokens(t *testing.T) {
	issuer := newTestIssuer(t)
	valid, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.jwt",
		"tampered":       valid[:len(valid)-2] + "xx",
		"wrong secret":   sign(jwt.SigningMethodHS256, []byte("other-secret"), Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"hs512":          sign(jwt.SigningMethodHS512, []byte(testAccessSecret), Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"alg none":       sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"missing id":     sign(jwt.SigningMethodHS256, []byte(testAccessSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
		"missing expiry": sign(jwt.SigningMethodHS256, []byte(testAccessSecret), Claims{UserID: "user-1"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			userID, err := issuer.VerifyAccessToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Empty(t, userID)
		})
	}
}

func TestResetSecret(t *testing.T) {
	plain, hash, err := NewResetSecret()
	require.NoError(t, err)
	assert.Len(t, plain, 64)
	assert.Len(t, hash, 64)
	assert.NotEqual(t, plain, hash)
	assert.Equal(t, hash, HashSecret(plain))
	assert.Equal(t, strings.ToLower(plain), plain)

	other, _, err := NewResetSecret()
	require.NoError(t, err)
	assert.NotEqual(t, plain, other)
}

func TestHashSecret_Known(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashSecret("hello"))
}
