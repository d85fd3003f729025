package identity

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestJWTResolver(t *testing.T) {
	resolver, err := NewJWTResolver(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "bob",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		userID, err := resolver.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, "bob", userID)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "bob",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		_, err := resolver.Resolve(req)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, []byte("other-secret"), jwt.MapClaims{
			"sub": "bob",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		_, err := resolver.Resolve(req)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		_, err := resolver.Resolve(req)
		assert.Error(t, err)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := resolver.Resolve(httptest.NewRequest("GET", "/", nil))
		assert.Error(t, err)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")

		_, err := resolver.Resolve(req)
		assert.Error(t, err)
	})
}

func TestJWTResolverIssuerAudience(t *testing.T) {
	resolver, err := NewJWTResolver(JWTConfig{
		Secret:   testSecret,
		Issuer:   "warden",
		Audience: "api",
	})
	require.NoError(t, err)

	t.Run("matching claims", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "bob",
			"iss": "warden",
			"aud": "api",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		userID, err := resolver.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, "bob", userID)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "bob",
			"iss": "impostor",
			"aud": "api",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		_, err := resolver.Resolve(req)
		assert.Error(t, err)
	})
}

func TestJWTResolverCache(t *testing.T) {
	resolver, err := NewJWTResolver(JWTConfig{
		Secret:   testSecret,
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	for i := 0; i < 3; i++ {
		userID, err := resolver.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, "bob", userID)
	}

	_, cached := resolver.cache.Get(token)
	assert.True(t, cached)
}

func TestNewJWTResolverRequiresSecret(t *testing.T) {
	_, err := NewJWTResolver(JWTConfig{})
	assert.Error(t, err)
}

func TestHeaderResolver(t *testing.T) {
	resolver := NewHeaderResolver("")
	assert.Equal(t, DefaultUserHeader, resolver.Header)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(DefaultUserHeader, "bob")
	userID, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)

	_, err = resolver.Resolve(httptest.NewRequest("GET", "/", nil))
	assert.Error(t, err)
}
